// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2021 Dropgate Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package admission

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/dropgate/dropgated/fault"
)

// limits on a caller supplied identity
const (
	MaximumIdentityLength = 128
)

// default values, overridable by configuration
const (
	DefaultTokenLifetime = 300 * time.Second
	DefaultDifficulty    = 4
)

// largest difficulty that still leaves search space: all hex digits zero
const maximumDifficulty = 2 * sha256.Size

// Admission - issues and verifies challenge tokens
//
// safe for concurrent use: all methods are pure computation apart from
// reading the random source
type Admission struct {
	tagger     Tagger
	lifetime   time.Duration
	difficulty int
}

// New - create an admission instance
func New(tagger Tagger, lifetime time.Duration, difficulty int) (*Admission, error) {
	if lifetime <= 0 {
		lifetime = DefaultTokenLifetime
	}
	if difficulty <= 0 || difficulty > maximumDifficulty {
		return nil, fault.ErrInvalidDifficulty
	}
	return &Admission{
		tagger:     tagger,
		lifetime:   lifetime,
		difficulty: difficulty,
	}, nil
}

// Difficulty - the configured number of leading zero hex digits
func (a *Admission) Difficulty() int {
	return a.difficulty
}

// Lifetime - the configured token time to live
func (a *Admission) Lifetime() time.Duration {
	return a.lifetime
}

// CheckIdentity - bounds check on a caller supplied identity
//
// only length is validated; the identity is an opaque external address
func CheckIdentity(identity string) error {
	if "" == identity || len(identity) > MaximumIdentityLength {
		return fault.ErrInvalidIdentity
	}
	return nil
}

// Issue - create a token bound to an identity
//
// stateless: nothing is stored; the token carries its own expiry and
// integrity tag
func (a *Admission) Issue(identity string) (*Token, error) {
	if err := CheckIdentity(identity); nil != err {
		return nil, err
	}

	now := time.Now().UTC()
	token := &Token{
		IssuedAt:  now,
		ExpiresAt: now.Add(a.lifetime),
		Identity:  identity,
	}
	_, err := rand.Read(token.Salt[:])
	if nil != err {
		return nil, err
	}

	token.Tag = a.tagger.Tag(token.payload())
	return token, nil
}

// CheckToken - validate integrity tag, expiry and identity binding
func (a *Admission) CheckToken(token *Token, identity string) error {
	if !a.tagger.Check(token.payload(), token.Tag) {
		return fault.ErrTokenForged
	}
	if token.Identity != identity {
		return fault.ErrTokenForged
	}
	if time.Now().After(token.ExpiresAt) {
		return fault.ErrTokenExpired
	}
	return nil
}

// Verify - validate a token and the puzzle solution presented against it
//
// a correct hash against an expired or forged token is still rejected
func (a *Admission) Verify(tokenText string, identity string, candidate string) error {
	if err := CheckIdentity(identity); nil != err {
		return err
	}

	token := &Token{}
	if err := token.UnmarshalText([]byte(tokenText)); nil != err {
		return fault.ErrTokenForged
	}
	if err := a.CheckToken(token, identity); nil != err {
		return err
	}

	if !CheckPuzzle(tokenText, identity, candidate, a.difficulty) {
		return fault.ErrPoWInvalid
	}
	return nil
}

// CheckPuzzle - pure proof of work check
//
// accepts iff sha256(token ‖ identity ‖ candidate) has at least
// difficulty leading zero hex digits
func CheckPuzzle(tokenText string, identity string, candidate string, difficulty int) bool {
	if difficulty <= 0 || difficulty > maximumDifficulty {
		return false
	}
	digest := sha256.Sum256([]byte(tokenText + identity + candidate))
	hexDigest := hex.EncodeToString(digest[:])
	for i := 0; i < difficulty; i += 1 {
		if '0' != hexDigest[i] {
			return false
		}
	}
	return true
}

// Fingerprint - the replay protection key for a token
//
// stable across re-presentations of the same token text
func Fingerprint(tokenText string) string {
	digest := sha256.Sum256([]byte(tokenText))
	return hex.EncodeToString(digest[:])
}
