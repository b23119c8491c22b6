// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2021 Dropgate Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package gate_test

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/bitmark-inc/logger"

	"github.com/dropgate/dropgated/admission"
	"github.com/dropgate/dropgated/counter"
	"github.com/dropgate/dropgated/fault"
	"github.com/dropgate/dropgated/gate"
	"github.com/dropgate/dropgated/guard"
	"github.com/dropgate/dropgated/inventory"
	"github.com/dropgate/dropgated/storage"
)

const (
	testingDirName = "testing"
	testSecret     = "0123456789abcdef0123456789abcdef"
	testDifficulty = 1
)

func TestMain(m *testing.M) {
	_ = os.RemoveAll(testingDirName)
	_ = os.Mkdir(testingDirName, 0700)

	logging := logger.Configuration{
		Directory: testingDirName,
		File:      "gate-test.log",
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

// in-memory AtomicCounter for tests
type memCounter struct {
	c counter.Counter
}

func (m *memCounter) IncrementAndGet() (uint64, error) { return m.c.Increment(), nil }
func (m *memCounter) Decrement() error                 { m.c.Decrement(); return nil }
func (m *memCounter) Get() (uint64, error)             { return m.c.Uint64(), nil }

func testInventory(total int, reserved ...uint64) *inventory.Data {
	isReserved := make(map[uint64]bool)
	for _, r := range reserved {
		isReserved[r] = true
	}
	items := make([]inventory.Item, total)
	for i := 0; i < total; i += 1 {
		items[i] = inventory.Item{
			Index:       uint64(i),
			DisplayName: fmt.Sprintf("Drop #%d", i),
			ContentURI:  fmt.Sprintf("ipfs://Qm%d", i),
			Reserved:    isReserved[uint64(i)],
		}
	}
	data, err := inventory.NewData(items)
	if nil != err {
		panic(err)
	}
	return data
}

func newTestGate(t *testing.T, quota uint64, data *inventory.Data) (*gate.Gate, *admission.Admission) {
	tagger, err := admission.NewHMACTagger([]byte(testSecret))
	assert.NoError(t, err)

	adm, err := admission.New(tagger, time.Minute, testDifficulty)
	assert.NoError(t, err)

	grd := guard.New(
		guard.Configuration{QuotaPerIdentity: quota, TokenLifetime: time.Minute},
		storage.Pool.TxRefs,
		storage.Pool.Quota,
	)

	return gate.New(adm, grd, &memCounter{}, data), adm
}

// issue a token and brute force its puzzle
func solvedRequest(t *testing.T, adm *admission.Admission, identity string) (string, string) {
	token, err := adm.Issue(identity)
	assert.NoError(t, err, "issue failed")
	tokenText := token.String()

	for i := 0; ; i += 1 {
		candidate := strconv.Itoa(i)
		if admission.CheckPuzzle(tokenText, identity, candidate, testDifficulty) {
			return tokenText, candidate
		}
	}
}

func TestAllocate(t *testing.T) {
	g, adm := newTestGate(t, 10, testInventory(3))
	identity := "allocate-one"

	tokenText, candidate := solvedRequest(t, adm, identity)

	claim, item, err := g.Allocate(identity, tokenText, candidate, "")
	assert.NoError(t, err, "allocate failed")
	assert.Equal(t, uint64(0), claim.Index, "first claim not index 0")
	assert.Equal(t, claim.Index, item.Index, "claim and item disagree")
	assert.Equal(t, identity, claim.Identity)

	stats := g.Statistics()
	assert.Equal(t, uint64(1), stats.Claimed)
	assert.Equal(t, uint64(2), stats.Remaining)
}

func TestAllocateReplay(t *testing.T) {
	g, adm := newTestGate(t, 10, testInventory(3))
	identity := "allocate-replay"

	tokenText, candidate := solvedRequest(t, adm, identity)

	_, _, err := g.Allocate(identity, tokenText, candidate, "")
	assert.NoError(t, err, "first allocate failed")

	// the gate must not re-enter Allocated for the same token
	_, _, err = g.Allocate(identity, tokenText, candidate, "")
	assert.Equal(t, fault.ErrReplayDetected, err, "token replay admitted")
}

func TestAllocateRejectsBadSolution(t *testing.T) {
	g, adm := newTestGate(t, 10, testInventory(3))
	identity := "allocate-bad-pow"

	token, _ := adm.Issue(identity)

	_, _, err := g.Allocate(identity, token.String(), "definitely-wrong", "")
	assert.Equal(t, fault.ErrPoWInvalid, err, "bad solution admitted")

	// nothing was consumed
	stats := g.Statistics()
	assert.Equal(t, uint64(0), stats.Claimed, "counter advanced without a claim")
}

func TestAllocateSkipsReserved(t *testing.T) {
	// index 0 is reserved, so the first claim lands on index 1
	g, adm := newTestGate(t, 10, testInventory(3, 0))
	identity := "allocate-reserved"

	tokenText, candidate := solvedRequest(t, adm, identity)
	claim, _, err := g.Allocate(identity, tokenText, candidate, "")
	assert.NoError(t, err)
	assert.Equal(t, uint64(1), claim.Index, "reserved index handed out")
}

// N concurrent allocations with supply >= N yield N pairwise distinct indices
func TestAllocateConcurrent(t *testing.T) {
	total := 8
	g, adm := newTestGate(t, uint64(total), testInventory(total))
	identity := "allocate-concurrent"

	type result struct {
		claim *gate.Claim
		err   error
	}
	results := make(chan result, total)

	var wg sync.WaitGroup
	for i := 0; i < total; i += 1 {
		tokenText, candidate := solvedRequest(t, adm, identity)
		wg.Add(1)
		go func(tokenText string, candidate string) {
			defer wg.Done()
			claim, _, err := g.Allocate(identity, tokenText, candidate, "")
			results <- result{claim: claim, err: err}
		}(tokenText, candidate)
	}
	wg.Wait()
	close(results)

	seen := make(map[uint64]struct{})
	for r := range results {
		assert.NoError(t, r.err, "concurrent allocate failed")
		if nil == r.claim {
			continue
		}
		if _, ok := seen[r.claim.Index]; ok {
			t.Fatalf("index %d allocated twice", r.claim.Index)
		}
		seen[r.claim.Index] = struct{}{}
	}
	assert.Equal(t, total, len(seen), "wrong number of distinct indices")
}

// once supply is gone every allocate deterministically returns SoldOut and
// the counter never stays above total supply
func TestAllocateSoldOut(t *testing.T) {
	supply := 3
	g, adm := newTestGate(t, 10, testInventory(supply))
	identity := "allocate-soldout"

	for i := 0; i < supply; i += 1 {
		tokenText, candidate := solvedRequest(t, adm, identity)
		_, _, err := g.Allocate(identity, tokenText, candidate, "")
		assert.NoError(t, err, "allocate %d failed with supply available", i)
	}

	for i := 0; i < 4; i += 1 {
		tokenText, candidate := solvedRequest(t, adm, identity)
		_, _, err := g.Allocate(identity, tokenText, candidate, "")
		assert.Equal(t, fault.ErrSoldOut, err, "post-exhaustion allocate %d", i)
	}

	stats := g.Statistics()
	assert.Equal(t, uint64(supply), stats.Claimed, "counter left overshot")
	assert.Equal(t, uint64(0), stats.Remaining)
}

// a request that loses the supply race gets its quota unit back
func TestSoldOutReleasesQuota(t *testing.T) {
	g, adm := newTestGate(t, 2, testInventory(1))
	identity := "allocate-release"

	tokenText, candidate := solvedRequest(t, adm, identity)
	_, _, err := g.Allocate(identity, tokenText, candidate, "tx-gate-rel-1")
	assert.NoError(t, err)

	tokenText, candidate = solvedRequest(t, adm, identity)
	_, _, err = g.Allocate(identity, tokenText, candidate, "tx-gate-rel-2")
	assert.Equal(t, fault.ErrSoldOut, err)

	// the tx ref from the failed attempt is usable again
	tokenText, candidate = solvedRequest(t, adm, identity)
	_, _, err = g.Allocate(identity, tokenText, candidate, "tx-gate-rel-2")
	assert.Equal(t, fault.ErrSoldOut, err, "sold out must stay deterministic")
}
