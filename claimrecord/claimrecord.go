// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2021 Dropgate Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package claimrecord - assemble the record an external signer completes
//
// assembly is a pure transformation: allocation state is never touched
// here, and the record carries everything the signer needs so no
// further server interaction is required
package claimrecord

import (
	"encoding/binary"
	"encoding/hex"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/dropgate/dropgated/gate"
	"github.com/dropgate/dropgated/inventory"
)

// UnsignedRecord - a claim awaiting external finalisation
//
// the claimant is the party responsible for finalisation costs
type UnsignedRecord struct {
	Index          uint64 `json:"index"`
	DisplayName    string `json:"displayName"`
	ContentURI     string `json:"contentURI"`
	Fingerprint    string `json:"fingerprint"`
	Claimant       string `json:"claimant"`
	PaymentAddress string `json:"paymentAddress"`
	ClaimedAt      string `json:"claimedAt"`
	Signature      string `json:"signature"` // empty until externally signed
}

// Assemble - build the unsigned record for a claim
func Assemble(claim *gate.Claim, item inventory.Item, paymentAddress string) *UnsignedRecord {
	return &UnsignedRecord{
		Index:          claim.Index,
		DisplayName:    item.DisplayName,
		ContentURI:     item.ContentURI,
		Fingerprint:    ItemFingerprint(item),
		Claimant:       claim.Identity,
		PaymentAddress: paymentAddress,
		ClaimedAt:      claim.ClaimedAt.UTC().Format(time.RFC3339),
	}
}

// ItemFingerprint - sha3-512 digest binding name and content
//
// hex encoded; identical items always fingerprint identically so a
// republished record can be recognised as unchanged
func ItemFingerprint(item inventory.Item) string {
	digest := sha3.Sum512(packItem(item))
	return hex.EncodeToString(digest[:])
}

// Pack - canonical byte form of the record for external signing
//
// fixed field order, each variable field preceded by a uvarint length;
// the signature field is excluded: it is what the signer produces
func (record *UnsignedRecord) Pack() []byte {
	buffer := make([]byte, binary.MaxVarintLen64)
	used := binary.PutUvarint(buffer, record.Index)
	packed := buffer[:used]

	packed = appendString(packed, record.DisplayName)
	packed = appendString(packed, record.ContentURI)
	packed = appendString(packed, record.Fingerprint)
	packed = appendString(packed, record.Claimant)
	packed = appendString(packed, record.PaymentAddress)
	packed = appendString(packed, record.ClaimedAt)
	return packed
}

func packItem(item inventory.Item) []byte {
	packed := appendString(nil, item.DisplayName)
	return appendString(packed, item.ContentURI)
}

// append a uvarint count followed by the string bytes
func appendString(buffer []byte, s string) []byte {
	countBuffer := make([]byte, binary.MaxVarintLen64)
	used := binary.PutUvarint(countBuffer, uint64(len(s)))
	buffer = append(buffer, countBuffer[:used]...)
	return append(buffer, s...)
}
