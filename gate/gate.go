// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2021 Dropgate Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package gate - atomic claim of the next inventory index
//
// composes the challenge verifier, the replay/quota guard and a shared
// supply counter into one request lifecycle:
//
//   Requested → Authenticated → Authorized → Allocated
//
// every invariant is enforced through the shared store, never through
// process local state, so any number of gate instances can run in
// parallel
package gate

import (
	"sync/atomic"
	"time"

	"github.com/bitmark-inc/logger"

	"github.com/dropgate/dropgated/admission"
	"github.com/dropgate/dropgated/fault"
	"github.com/dropgate/dropgated/guard"
	"github.com/dropgate/dropgated/inventory"
)

// AtomicCounter - the shared monotonic supply counter
//
// any store offering a true atomic increment primitive satisfies this;
// the production implementation is storage.CounterHandle
type AtomicCounter interface {
	IncrementAndGet() (uint64, error)
	Decrement() error
	Get() (uint64, error)
}

// Claim - a successful allocation
type Claim struct {
	Index     uint64    `json:"index"`
	Identity  string    `json:"identity"`
	ClaimedAt time.Time `json:"claimedAt"`
}

// Stats - collection statistics reported alongside a claim
type Stats struct {
	Total     uint64 `json:"total"`
	Reserved  uint64 `json:"reserved"`
	Claimed   uint64 `json:"claimed"`
	Remaining uint64 `json:"remaining"`
}

// Gate - the allocation gate
type Gate struct {
	log       *logger.L
	admission *admission.Admission
	guard     *guard.Guard
	supply    AtomicCounter
	data      atomic.Value // *inventory.Data
}

// New - create a gate
func New(adm *admission.Admission, grd *guard.Guard, supply AtomicCounter, data *inventory.Data) *Gate {
	g := &Gate{
		log:       logger.New("gate"),
		admission: adm,
		guard:     grd,
		supply:    supply,
	}
	g.data.Store(data)
	return g
}

// Inventory - the current snapshot
func (g *Gate) Inventory() *inventory.Data {
	return g.data.Load().(*inventory.Data)
}

// SetInventory - swap in a fresh snapshot (reload policy hook)
func (g *Gate) SetInventory(data *inventory.Data) {
	g.data.Store(data)
}

// Allocate - run one claim request through the full lifecycle
//
// returns the claim and its resolved inventory item; on any error no
// durable state is left advanced: the counter is rolled back and the
// guard reservation released
func (g *Gate) Allocate(identity string, tokenText string, candidate string, txRef string) (*Claim, inventory.Item, error) {

	// 1 & 2: token integrity, expiry, identity binding, puzzle
	if err := g.admission.Verify(tokenText, identity, candidate); nil != err {
		return nil, inventory.Item{}, err
	}

	// 3: replay and quota
	fingerprint := admission.Fingerprint(tokenText)
	if err := g.guard.CheckAndReserve(identity, fingerprint, txRef); nil != err {
		return nil, inventory.Item{}, err
	}

	// 4: claim the next ordinal; on overshoot the compensating
	// decrement keeps the usable index space intact
	data := g.Inventory()
	n, err := g.supply.IncrementAndGet()
	if nil != err {
		g.guard.Release(identity, fingerprint, txRef)
		return nil, inventory.Item{}, err
	}
	if n > data.Claimable() {
		if err := g.supply.Decrement(); nil != err {
			g.log.Criticalf("rollback failed, counter stuck above supply: %s", err)
		}
		g.guard.Release(identity, fingerprint, txRef)
		g.log.Warnf("sold out: identity: %q", identity)
		return nil, inventory.Item{}, fault.ErrSoldOut
	}

	// 5: map ordinal to item, skipping reserved indices
	item, err := data.ItemAtOrdinal(n)
	if nil != err {
		if derr := g.supply.Decrement(); nil != derr {
			g.log.Criticalf("rollback failed: %s", derr)
		}
		g.guard.Release(identity, fingerprint, txRef)
		return nil, inventory.Item{}, err
	}

	claim := &Claim{
		Index:     item.Index,
		Identity:  identity,
		ClaimedAt: time.Now().UTC(),
	}

	g.log.Infof("allocated index: %d  to: %q", claim.Index, identity)
	return claim, item, nil
}

// Statistics - current collection counters
func (g *Gate) Statistics() Stats {
	data := g.Inventory()
	claimed, err := g.supply.Get()
	if nil != err {
		g.log.Errorf("supply read failed: %s", err)
	}
	if claimed > data.Claimable() {
		claimed = data.Claimable() // transient overshoot mid-rollback
	}
	return Stats{
		Total:     data.Total(),
		Reserved:  data.ReservedCount(),
		Claimed:   claimed,
		Remaining: data.Claimable() - claimed,
	}
}
