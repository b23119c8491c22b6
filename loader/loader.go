// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2021 Dropgate Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package loader - resumable bulk publication of inventory to the ledger
//
// the loader is the single logical writer against the ledger; it
// favours submission followed by out-of-band verification over
// blocking on every write, and heals silently dropped writes by
// reconciling observed ledger state against expectation
package loader

import (
	"time"

	"github.com/bitmark-inc/logger"

	"github.com/dropgate/dropgated/counter"
	"github.com/dropgate/dropgated/fault"
	"github.com/dropgate/dropgated/inventory"
	"github.com/dropgate/dropgated/ledger"
)

// configuration defaults
const (
	DefaultBatchSize       = 25
	DefaultRetryLimit      = 5
	DefaultRetryDelay      = 2 * time.Second
	DefaultVerifyEvery     = 4  // batches between count checks
	DefaultReconcileEvery  = 40 // batches between full reconciliations
	DefaultInterBatchDelay = 500 * time.Millisecond

	// gaps are healed in small batches to stay under provider limits
	healBatchSize = 10
)

// Configuration - loader tuning
type Configuration struct {
	BatchSize       int           `gluamapper:"batch_size" json:"batch_size"`
	RetryLimit      int           `gluamapper:"retry_limit" json:"retry_limit"`
	RetryDelay      time.Duration `gluamapper:"-" json:"-"`
	VerifyEvery     int           `gluamapper:"verify_every" json:"verify_every"`
	ReconcileEvery  int           `gluamapper:"reconcile_every" json:"reconcile_every"`
	InterBatchDelay time.Duration `gluamapper:"-" json:"-"`
}

// Loader - the bulk ledger loader
type Loader struct {
	log        *logger.L
	cfg        Configuration
	adapter    ledger.Adapter
	checkpoint CheckpointStore
	entries    []ledger.Entry

	// statistics
	published counter.Counter
	healed    counter.Counter
}

// New - create a loader over an inventory snapshot
func New(cfg Configuration, adapter ledger.Adapter, checkpoint CheckpointStore, data *inventory.Data) *Loader {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.RetryLimit <= 0 {
		cfg.RetryLimit = DefaultRetryLimit
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.VerifyEvery <= 0 {
		cfg.VerifyEvery = DefaultVerifyEvery
	}
	if cfg.ReconcileEvery <= 0 {
		cfg.ReconcileEvery = DefaultReconcileEvery
	}
	if cfg.InterBatchDelay < 0 {
		cfg.InterBatchDelay = DefaultInterBatchDelay
	}

	items := data.Items()
	entries := make([]ledger.Entry, len(items))
	for i, item := range items {
		entries[i] = ledger.Entry{
			Index:       item.Index,
			DisplayName: item.DisplayName,
			ContentURI:  item.ContentURI,
		}
	}

	return &Loader{
		log:        logger.New("loader"),
		cfg:        cfg,
		adapter:    adapter,
		checkpoint: checkpoint,
		entries:    entries,
	}
}

// Published - entries confirmed written during this run
func (l *Loader) Published() uint64 {
	return l.published.Uint64()
}

// Healed - entries re-published by reconciliation during this run
func (l *Loader) Healed() uint64 {
	return l.healed.Uint64()
}

// Run - background process wrapper around Drain
func (l *Loader) Run(args interface{}, shutdown <-chan struct{}) {
	err := l.Drain(shutdown)
	if nil != err {
		l.log.Criticalf("drain stopped: %s", err)
	}
}

// Drain - publish all remaining inventory to the ledger
//
// returns nil either on completion or on orderly shutdown; a retry
// exhaustion returns ErrLedgerWriteExhausted after persisting enough
// state for a fresh run to resume
func (l *Loader) Drain(shutdown <-chan struct{}) error {
	log := l.log
	log.Info("starting…")

	total := uint64(len(l.entries))

	cp, found, err := l.checkpoint.Load()
	if nil != err {
		return err
	}
	if found && cp.Complete {
		log.Info("previous run complete, verifying only")
	}

	// the ledger is the source of truth: trust its reported state
	// over a possibly stale local checkpoint
	loaded, err := l.adapter.LoadedCount()
	if nil != err {
		log.Warnf("initial count query failed: %s", err)
		loaded = 0
	}
	next := cp.LastConfirmedIndex
	if loaded > next {
		log.Infof("ledger ahead of checkpoint: %d > %d", loaded, next)
		next = loaded
	}

	batchNumber := 0
	for next < total {
		select {
		case <-shutdown:
			log.Info("shutdown, checkpoint saved")
			return l.checkpoint.Save(Checkpoint{LastConfirmedIndex: next})
		default:
		}

		end := next + uint64(l.cfg.BatchSize)
		if end > total {
			end = total
		}
		batch := ledger.Batch{
			StartIndex: next,
			Entries:    l.entries[next:end],
		}

		if err := l.publishWithRetry(batch, shutdown); nil != err {
			if saveErr := l.checkpoint.Save(Checkpoint{LastConfirmedIndex: next}); nil != saveErr {
				log.Criticalf("checkpoint save failed: %s", saveErr)
			}
			log.Errorf("batch at %d failed permanently: %s", next, err)
			return err
		}

		next = end
		l.published.Add(uint64(len(batch.Entries)))
		if err := l.checkpoint.Save(Checkpoint{LastConfirmedIndex: next}); nil != err {
			return err
		}
		log.Infof("batch done: %d/%d", next, total)

		batchNumber += 1
		if 0 == batchNumber%l.cfg.VerifyEvery {
			l.observeDrift(next)
		}
		if 0 == batchNumber%l.cfg.ReconcileEvery {
			if _, err := l.Reconcile(shutdown); nil != err {
				// reconciliation failures are not fatal here; the
				// next cycle or the final pass will retry
				log.Warnf("mid-run reconciliation failed: %s", err)
			}
		}

		if l.cfg.InterBatchDelay > 0 && next < total {
			select {
			case <-shutdown:
			case <-time.After(l.cfg.InterBatchDelay):
			}
		}
	}

	return l.finish(shutdown, total)
}

// log any disagreement between the ledger's count and expectation (non-fatal)
func (l *Loader) observeDrift(expected uint64) {
	loaded, err := l.adapter.LoadedCount()
	if nil != err {
		l.log.Warnf("count query failed: %s", err)
		return
	}
	if loaded != expected {
		l.log.Warnf("drift: loaded: %d  expected: %d", loaded, expected)
	}
}

// confirm the ledger agrees everything arrived, healing gaps until it does
func (l *Loader) finish(shutdown <-chan struct{}, total uint64) error {
	log := l.log

	for attempt := 0; attempt < l.cfg.RetryLimit; attempt += 1 {
		select {
		case <-shutdown:
			return l.checkpoint.Save(Checkpoint{LastConfirmedIndex: total})
		default:
		}

		loaded, err := l.adapter.LoadedCount()
		if nil == err && loaded == total {
			log.Infof("complete: %d entries", total)
			return l.checkpoint.Save(Checkpoint{
				LastConfirmedIndex: total,
				Complete:           true,
			})
		}
		if nil != err {
			log.Warnf("final count query failed: %s", err)
		} else {
			log.Warnf("drift at completion: loaded: %d  expected: %d", loaded, total)
		}

		healed, err := l.Reconcile(shutdown)
		if nil != err {
			log.Warnf("reconciliation failed: %s", err)
		} else if healed > 0 {
			log.Infof("healed %d missing entries", healed)
		}
	}

	if err := l.checkpoint.Save(Checkpoint{LastConfirmedIndex: total}); nil != err {
		return err
	}
	return fault.ErrReconciliationMismatch
}

// publishWithRetry - bounded retries with exponential backoff
func (l *Loader) publishWithRetry(batch ledger.Batch, shutdown <-chan struct{}) error {
	log := l.log
	delay := l.cfg.RetryDelay

	for attempt := 0; attempt < l.cfg.RetryLimit; attempt += 1 {
		err := l.adapter.PublishBatch(batch)
		if nil == err {
			return nil
		}
		if !fault.IsErrRetryable(err) {
			return err
		}
		log.Warnf("publish at %d attempt %d failed: %s", batch.StartIndex, attempt, err)

		select {
		case <-shutdown:
			return fault.ErrLedgerWriteExhausted
		case <-time.After(delay):
		}
		delay *= 2
	}
	return fault.ErrLedgerWriteExhausted
}

// Reconcile - heal the gap between expected and observed ledger state
//
// fetches the populated index set, computes the complement against the
// full expected range and re-publishes exactly the missing entries;
// never touches an index the ledger already has
func (l *Loader) Reconcile(shutdown <-chan struct{}) (uint64, error) {
	log := l.log

	populated, err := l.adapter.PopulatedIndices()
	if nil != err {
		return 0, err
	}

	present := make(map[uint64]struct{}, len(populated))
	for _, index := range populated {
		present[index] = struct{}{}
	}

	missing := make([]ledger.Entry, 0)
	for _, entry := range l.entries {
		if _, ok := present[entry.Index]; !ok {
			missing = append(missing, entry)
		}
	}
	if 0 == len(missing) {
		return 0, nil
	}
	log.Infof("reconciliation found %d missing entries", len(missing))

	healed := uint64(0)
	for start := 0; start < len(missing); start += healBatchSize {
		end := start + healBatchSize
		if end > len(missing) {
			end = len(missing)
		}
		batch := ledger.Batch{
			StartIndex: missing[start].Index,
			Entries:    missing[start:end],
		}
		if err := l.publishWithRetry(batch, shutdown); nil != err {
			return healed, err
		}
		healed += uint64(end - start)
	}

	l.healed.Add(healed)
	return healed, nil
}
