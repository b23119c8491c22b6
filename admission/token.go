// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2021 Dropgate Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package admission

import (
	"encoding/binary"
	"encoding/hex"
	"time"

	"github.com/dropgate/dropgated/fault"
)

// sizes of the fixed token fields
const (
	saltSize      = 8
	timestampSize = 8
	headerSize    = 2*timestampSize + saltSize
)

// Token - a stateless admission token
//
// never persisted server side; all fields are covered by the integrity
// tag so tampering with any of them invalidates the token
type Token struct {
	IssuedAt  time.Time
	ExpiresAt time.Time
	Identity  string
	Salt      [saltSize]byte
	Tag       []byte
}

// payload - serialize the tagged fields in a fixed order
//
// layout: issuedAt ‖ expiresAt ‖ salt ‖ identity
// timestamps are big endian unix seconds
func (token Token) payload() []byte {
	buffer := make([]byte, headerSize, headerSize+len(token.Identity))
	binary.BigEndian.PutUint64(buffer[0:], uint64(token.IssuedAt.Unix()))
	binary.BigEndian.PutUint64(buffer[timestampSize:], uint64(token.ExpiresAt.Unix()))
	copy(buffer[2*timestampSize:], token.Salt[:])
	return append(buffer, token.Identity...)
}

// MarshalText - convert a token to its hex wire form: payload ‖ tag
func (token Token) MarshalText() ([]byte, error) {
	packed := append(token.payload(), token.Tag...)
	buffer := make([]byte, hex.EncodedLen(len(packed)))
	hex.Encode(buffer, packed)
	return buffer, nil
}

// String - hex wire form for use by the fmt package (for %s)
func (token Token) String() string {
	s, _ := token.MarshalText()
	return string(s)
}

// GoString - for use by the fmt package (for %#v)
func (token Token) GoString() string {
	return "<token:" + token.String() + ">"
}

// UnmarshalText - parse the hex wire form back into a token
//
// the tag is the trailing tagSize bytes; whatever sits between the
// fixed header and the tag is the identity
func (token *Token) UnmarshalText(s []byte) error {
	packed := make([]byte, hex.DecodedLen(len(s)))
	byteCount, err := hex.Decode(packed, s)
	if nil != err {
		return fault.ErrNotAToken
	}
	if byteCount < headerSize+tagSize+1 {
		return fault.ErrNotAToken
	}

	tagStart := byteCount - tagSize

	token.IssuedAt = time.Unix(int64(binary.BigEndian.Uint64(packed[0:])), 0).UTC()
	token.ExpiresAt = time.Unix(int64(binary.BigEndian.Uint64(packed[timestampSize:])), 0).UTC()
	copy(token.Salt[:], packed[2*timestampSize:headerSize])
	token.Identity = string(packed[headerSize:tagStart])
	token.Tag = packed[tagStart:]
	return nil
}
