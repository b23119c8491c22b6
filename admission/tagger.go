// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2021 Dropgate Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package admission

import (
	"crypto/hmac"
	"crypto/sha256"

	"github.com/dropgate/dropgated/fault"
)

// length of an integrity tag in bytes
const tagSize = sha256.Size

// minimum acceptable key length for the HMAC tagger
const minimumKeyLength = 16

// Tagger - a keyed integrity tag over a token payload
//
// any MAC or signature scheme of tagSize output can substitute for the
// default HMAC implementation
type Tagger interface {
	Tag(payload []byte) []byte
	Check(payload []byte, tag []byte) bool
}

// HMACTagger - HMAC-SHA256 keyed integrity tag
type HMACTagger struct {
	key []byte
}

// NewHMACTagger - create a tagger from a server secret
func NewHMACTagger(key []byte) (*HMACTagger, error) {
	if len(key) < minimumKeyLength {
		return nil, fault.ErrKeyLength
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &HMACTagger{key: k}, nil
}

// Tag - compute the integrity tag for a payload
func (t *HMACTagger) Tag(payload []byte) []byte {
	mac := hmac.New(sha256.New, t.key)
	mac.Write(payload)
	return mac.Sum(nil)
}

// Check - constant time comparison of an offered tag
func (t *HMACTagger) Check(payload []byte, tag []byte) bool {
	return hmac.Equal(t.Tag(payload), tag)
}
