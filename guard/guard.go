// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2021 Dropgate Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package guard - replay protection and per identity quota enforcement
//
// three independent records are kept:
//
//   token fingerprints  in memory with TTL equal to the token lifetime;
//                       a token that outlives the cache has expired anyway
//   tx references       durable; an external payment or signature
//                       reference may never fund two claims, even
//                       across a restart
//   quota counts        durable per identity claim counts
//
// the quota check-and-increment runs under a single mutex so that
// concurrent callers sharing an identity cannot race past the cap
package guard

import (
	"encoding/binary"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/bitmark-inc/logger"

	"github.com/dropgate/dropgated/fault"
	"github.com/dropgate/dropgated/storage"
)

// Configuration - guard limits
type Configuration struct {
	QuotaPerIdentity uint64        `gluamapper:"quota_per_identity" json:"quota_per_identity"`
	TokenLifetime    time.Duration `gluamapper:"-" json:"-"`
}

// DefaultQuotaPerIdentity - cap when configuration gives none
const DefaultQuotaPerIdentity = 5

// Guard - the replay and quota guard
type Guard struct {
	sync.Mutex // serialises quota read-modify-write

	log          *logger.L
	quotaLimit   uint64
	fingerprints *gocache.Cache
	txRefs       *storage.PoolHandle
	quota        *storage.PoolHandle
}

// New - create a guard over the supplied pools
func New(cfg Configuration, txRefs *storage.PoolHandle, quota *storage.PoolHandle) *Guard {
	limit := cfg.QuotaPerIdentity
	if 0 == limit {
		limit = DefaultQuotaPerIdentity
	}
	lifetime := cfg.TokenLifetime
	if lifetime <= 0 {
		lifetime = 5 * time.Minute
	}

	return &Guard{
		log:          logger.New("guard"),
		quotaLimit:   limit,
		fingerprints: gocache.New(lifetime, 2*lifetime),
		txRefs:       txRefs,
		quota:        quota,
	}
}

// CheckAndReserve - admit one claim attempt or reject it
//
// on success the token fingerprint, the tx reference (if any) and one
// unit of the identity quota are all reserved; a caller that fails
// further downstream must call Release to hand them back
func (g *Guard) CheckAndReserve(identity string, fingerprint string, txRef string) error {

	// cache Add is atomic: only the first caller with this token wins
	if err := g.fingerprints.Add(fingerprint, struct{}{}, gocache.DefaultExpiration); nil != err {
		g.log.Warnf("replayed token fingerprint: %s", fingerprint)
		return fault.ErrReplayDetected
	}

	g.Lock()
	defer g.Unlock()

	if "" != txRef && g.txRefs.Has([]byte(txRef)) {
		g.fingerprints.Delete(fingerprint)
		g.log.Warnf("replayed tx reference: %s", txRef)
		return fault.ErrReplayDetected
	}

	count := g.claims(identity)
	if count >= g.quotaLimit {
		g.fingerprints.Delete(fingerprint)
		g.log.Infof("quota exceeded for: %q  count: %d", identity, count)
		return fault.ErrQuotaExceeded
	}

	g.putClaims(identity, count+1)
	if "" != txRef {
		g.txRefs.Put([]byte(txRef), []byte{1})
	}
	return nil
}

// Release - compensate a reservation whose allocation failed downstream
//
// without this a request that loses the supply race would permanently
// burn quota and its payment reference
func (g *Guard) Release(identity string, fingerprint string, txRef string) {
	g.Lock()
	defer g.Unlock()

	g.fingerprints.Delete(fingerprint)
	if "" != txRef {
		g.txRefs.Delete([]byte(txRef))
	}

	count := g.claims(identity)
	if count > 0 {
		g.putClaims(identity, count-1)
	}
}

// Claims - current claim count for an identity
func (g *Guard) Claims(identity string) uint64 {
	g.Lock()
	defer g.Unlock()
	return g.claims(identity)
}

// must hold lock
func (g *Guard) claims(identity string) uint64 {
	buffer := g.quota.Get([]byte(identity))
	if 8 != len(buffer) {
		return 0
	}
	return binary.BigEndian.Uint64(buffer)
}

// must hold lock
func (g *Guard) putClaims(identity string, n uint64) {
	buffer := make([]byte, 8)
	binary.BigEndian.PutUint64(buffer, n)
	g.quota.Put([]byte(identity), buffer)
}
