// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2021 Dropgate Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package loader_test

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/bitmark-inc/logger"

	"github.com/dropgate/dropgated/fault"
	"github.com/dropgate/dropgated/inventory"
	"github.com/dropgate/dropgated/ledger"
	"github.com/dropgate/dropgated/loader"
	"github.com/dropgate/dropgated/storage"
)

const testingDirName = "testing"

func TestMain(m *testing.M) {
	_ = os.RemoveAll(testingDirName)
	_ = os.Mkdir(testingDirName, 0700)

	logging := logger.Configuration{
		Directory: testingDirName,
		File:      "loader-test.log",
		Size:      50000,
		Count:     10,
		Levels: map[string]string{
			logger.DefaultTag: "critical",
		},
	}
	_ = logger.Initialise(logging)

	err := storage.Initialise(filepath.Join(testingDirName, "test"))
	if nil != err {
		fmt.Printf("storage initialise error: %s\n", err)
		os.Exit(1)
	}

	result := m.Run()

	storage.Finalise()
	logger.Finalise()
	_ = os.RemoveAll(testingDirName)
	os.Exit(result)
}

// in-memory ledger with injectable failures
type fakeAdapter struct {
	sync.Mutex
	entries      map[uint64]ledger.Entry
	failuresLeft int  // fail this many publishes then succeed
	failAlways   bool //
	publishCalls []uint64
	dropIndices  map[uint64]bool // silently drop these once on publish
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		entries:     make(map[uint64]ledger.Entry),
		dropIndices: make(map[uint64]bool),
	}
}

func (f *fakeAdapter) PublishBatch(batch ledger.Batch) error {
	f.Lock()
	defer f.Unlock()

	f.publishCalls = append(f.publishCalls, batch.StartIndex)
	if f.failAlways {
		return fault.ErrLedgerWriteFailure
	}
	if f.failuresLeft > 0 {
		f.failuresLeft -= 1
		return fault.ErrLedgerWriteFailure
	}
	for _, entry := range batch.Entries {
		if f.dropIndices[entry.Index] {
			// fire-and-forget send that silently vanished
			delete(f.dropIndices, entry.Index)
			continue
		}
		f.entries[entry.Index] = entry
	}
	return nil
}

func (f *fakeAdapter) LoadedCount() (uint64, error) {
	f.Lock()
	defer f.Unlock()
	return uint64(len(f.entries)), nil
}

func (f *fakeAdapter) PopulatedIndices() ([]uint64, error) {
	f.Lock()
	defer f.Unlock()
	indices := make([]uint64, 0, len(f.entries))
	for index := range f.entries {
		indices = append(indices, index)
	}
	return indices, nil
}

// checkpoint in memory
type memCheckpointStore struct {
	sync.Mutex
	checkpoint loader.Checkpoint
	found      bool
	saves      int
}

func (s *memCheckpointStore) Load() (loader.Checkpoint, bool, error) {
	s.Lock()
	defer s.Unlock()
	return s.checkpoint, s.found, nil
}

func (s *memCheckpointStore) Save(checkpoint loader.Checkpoint) error {
	s.Lock()
	defer s.Unlock()
	s.checkpoint = checkpoint
	s.found = true
	s.saves += 1
	return nil
}

func testData(total int) *inventory.Data {
	items := make([]inventory.Item, total)
	for i := 0; i < total; i += 1 {
		items[i] = inventory.Item{
			Index:       uint64(i),
			DisplayName: fmt.Sprintf("Drop #%d", i),
			ContentURI:  fmt.Sprintf("ipfs://Qm%d", i),
		}
	}
	data, err := inventory.NewData(items)
	if nil != err {
		panic(err)
	}
	return data
}

func fastConfiguration() loader.Configuration {
	return loader.Configuration{
		BatchSize:       4,
		RetryLimit:      3,
		RetryDelay:      time.Millisecond,
		VerifyEvery:     2,
		ReconcileEvery:  100,
		InterBatchDelay: 0,
	}
}

func TestDrainPublishesEverything(t *testing.T) {
	adapter := newFakeAdapter()
	store := &memCheckpointStore{}
	cfg := fastConfiguration()
	cfg.InterBatchDelay = 0

	l := loader.New(cfg, adapter, store, testData(10))

	err := l.Drain(nil)
	assert.NoError(t, err, "drain failed")

	count, _ := adapter.LoadedCount()
	assert.Equal(t, uint64(10), count, "not everything published")
	assert.Equal(t, uint64(10), l.Published(), "published counter wrong")

	cp, found, _ := store.Load()
	assert.True(t, found, "no checkpoint written")
	assert.True(t, cp.Complete, "checkpoint not marked complete")
	assert.Equal(t, uint64(10), cp.LastConfirmedIndex)
}

func TestDrainTrustsLedgerOverCheckpoint(t *testing.T) {
	adapter := newFakeAdapter()
	data := testData(10)

	// ledger already holds the first 6 entries
	for i := uint64(0); i < 6; i += 1 {
		item, _ := data.Item(i)
		adapter.entries[i] = ledger.Entry{
			Index:       i,
			DisplayName: item.DisplayName,
			ContentURI:  item.ContentURI,
		}
	}

	// stale checkpoint says only 2 are confirmed
	store := &memCheckpointStore{
		checkpoint: loader.Checkpoint{LastConfirmedIndex: 2},
		found:      true,
	}

	cfg := fastConfiguration()
	cfg.InterBatchDelay = 0
	l := loader.New(cfg, adapter, store, data)

	err := l.Drain(nil)
	assert.NoError(t, err, "drain failed")

	// the first publish must start at the ledger's count, not the
	// checkpoint's
	adapter.Lock()
	firstCall := adapter.publishCalls[0]
	adapter.Unlock()
	assert.Equal(t, uint64(6), firstCall, "resume ignored ledger state")
	assert.Equal(t, uint64(4), l.Published(), "already-published entries re-sent")
}

func TestDrainRetriesThenSucceeds(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.failuresLeft = 2 // first two sends bounce

	store := &memCheckpointStore{}
	cfg := fastConfiguration()
	cfg.InterBatchDelay = 0
	l := loader.New(cfg, adapter, store, testData(8))

	err := l.Drain(nil)
	assert.NoError(t, err, "transient failures not retried")

	count, _ := adapter.LoadedCount()
	assert.Equal(t, uint64(8), count)
}

func TestDrainExhaustionIsResumable(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.failAlways = true

	store := &memCheckpointStore{}
	cfg := fastConfiguration()
	cfg.InterBatchDelay = 0
	l := loader.New(cfg, adapter, store, testData(8))

	err := l.Drain(nil)
	assert.Equal(t, fault.ErrLedgerWriteExhausted, err, "exhaustion not fatal")

	// resumable: progress persisted, nothing confirmed yet
	cp, found, _ := store.Load()
	assert.True(t, found, "no checkpoint on failure")
	assert.Equal(t, uint64(0), cp.LastConfirmedIndex)
	assert.False(t, cp.Complete)

	// a fresh run with a healthy ledger finishes the job
	adapter.Lock()
	adapter.failAlways = false
	adapter.Unlock()

	l2 := loader.New(cfg, adapter, store, testData(8))
	assert.NoError(t, l2.Drain(nil), "resume failed")

	count, _ := adapter.LoadedCount()
	assert.Equal(t, uint64(8), count)
}

// M of N populated: one reconciliation publishes exactly the N-M missing
func TestReconcileHealsGaps(t *testing.T) {
	adapter := newFakeAdapter()
	data := testData(20)

	// simulate fire-and-forget sends that silently dropped 0, 7 and 13
	adapter.dropIndices[0] = true
	adapter.dropIndices[7] = true
	adapter.dropIndices[13] = true

	store := &memCheckpointStore{}
	cfg := fastConfiguration()
	cfg.InterBatchDelay = 0
	l := loader.New(cfg, adapter, store, data)

	// drain leaves three gaps; the completion reconciliation heals them
	err := l.Drain(nil)
	assert.NoError(t, err, "drain with gaps failed to heal")

	count, _ := adapter.LoadedCount()
	assert.Equal(t, uint64(20), count, "gaps not healed")
	assert.Equal(t, uint64(3), l.Healed(), "wrong heal count")
}

func TestReconcileExactComplement(t *testing.T) {
	adapter := newFakeAdapter()
	data := testData(12)

	// populate everything except 3 and 9
	for _, item := range data.Items() {
		if 3 == item.Index || 9 == item.Index {
			continue
		}
		adapter.entries[item.Index] = ledger.Entry{
			Index:       item.Index,
			DisplayName: item.DisplayName,
			ContentURI:  item.ContentURI,
		}
	}

	cfg := fastConfiguration()
	l := loader.New(cfg, adapter, &memCheckpointStore{}, data)

	healed, err := l.Reconcile(nil)
	assert.NoError(t, err, "reconcile failed")
	assert.Equal(t, uint64(2), healed, "wrong number of entries healed")

	count, _ := adapter.LoadedCount()
	assert.Equal(t, uint64(12), count, "loaded count wrong after heal")

	// already-populated indices kept their original content
	assert.Equal(t, "ipfs://Qm5", adapter.entries[5].ContentURI, "populated index rewritten")

	// a second pass finds nothing to do
	healed, err = l.Reconcile(nil)
	assert.NoError(t, err)
	assert.Equal(t, uint64(0), healed, "reconcile not idempotent")
}

func TestIdempotentRepublish(t *testing.T) {
	adapter := newFakeAdapter()
	store := &memCheckpointStore{}
	cfg := fastConfiguration()
	cfg.InterBatchDelay = 0

	l := loader.New(cfg, adapter, store, testData(6))
	assert.NoError(t, l.Drain(nil))

	before := make(map[uint64]ledger.Entry)
	adapter.Lock()
	for k, v := range adapter.entries {
		before[k] = v
	}
	adapter.Unlock()

	// a fresh run with no checkpoint trusts the ledger and resends nothing
	store2 := &memCheckpointStore{}
	l2 := loader.New(cfg, adapter, store2, testData(6))
	assert.NoError(t, l2.Drain(nil))
	assert.Equal(t, uint64(0), l2.Published(), "already-loaded ledger re-sent")

	// a forced identical republish leaves the stored content unchanged
	adapter.Lock()
	firstBatch := ledger.Batch{StartIndex: 0, Entries: []ledger.Entry{adapter.entries[0], adapter.entries[1]}}
	adapter.Unlock()
	assert.NoError(t, adapter.PublishBatch(firstBatch))

	adapter.Lock()
	defer adapter.Unlock()
	assert.Equal(t, before, adapter.entries, "republish changed ledger state")
}

func TestCheckpointStoreRoundTrip(t *testing.T) {
	store := loader.NewCheckpointStore(storage.Pool.Checkpoints, "main")

	_, found, err := store.Load()
	assert.NoError(t, err)
	assert.False(t, found, "phantom checkpoint")

	saved := loader.Checkpoint{LastConfirmedIndex: 1234, Complete: true}
	assert.NoError(t, store.Save(saved))

	cp, found, err := store.Load()
	assert.NoError(t, err)
	assert.True(t, found, "checkpoint lost")
	assert.Equal(t, saved, cp, "checkpoint mismatch")
}
