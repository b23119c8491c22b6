// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2021 Dropgate Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package claimrecord_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dropgate/dropgated/claimrecord"
	"github.com/dropgate/dropgated/gate"
	"github.com/dropgate/dropgated/inventory"
)

var testClaim = &gate.Claim{
	Index:     7,
	Identity:  "9HxFNAPxA3cjKruYeVheMCbcRpPcDbUFJmUkGmqfKCBX",
	ClaimedAt: time.Date(2021, 3, 14, 9, 26, 53, 0, time.UTC),
}

var testItem = inventory.Item{
	Index:       7,
	DisplayName: "Drop #7",
	ContentURI:  "ipfs://QmSomeContent7",
}

const testPaymentAddress = "4DnsDjetvBzdKW2iw5VJL4bbcGBytnG9gC5cGsryfnbX"

func TestAssemble(t *testing.T) {
	record := claimrecord.Assemble(testClaim, testItem, testPaymentAddress)

	assert.Equal(t, uint64(7), record.Index)
	assert.Equal(t, "Drop #7", record.DisplayName)
	assert.Equal(t, "ipfs://QmSomeContent7", record.ContentURI)
	assert.Equal(t, testClaim.Identity, record.Claimant)
	assert.Equal(t, testPaymentAddress, record.PaymentAddress)
	assert.Equal(t, "2021-03-14T09:26:53Z", record.ClaimedAt)
	assert.Equal(t, "", record.Signature, "signature must start empty")
}

func TestAssembleDeterministic(t *testing.T) {
	a := claimrecord.Assemble(testClaim, testItem, testPaymentAddress)
	b := claimrecord.Assemble(testClaim, testItem, testPaymentAddress)

	assert.Equal(t, a, b, "assembly not deterministic")
	assert.True(t, bytes.Equal(a.Pack(), b.Pack()), "packed forms differ")
}

func TestAssembleDoesNotMutate(t *testing.T) {
	claim := *testClaim
	item := testItem

	_ = claimrecord.Assemble(&claim, item, testPaymentAddress)

	assert.Equal(t, *testClaim, claim, "claim mutated")
	assert.Equal(t, testItem, item, "item mutated")
}

func TestItemFingerprint(t *testing.T) {
	fp := claimrecord.ItemFingerprint(testItem)
	assert.Equal(t, 128, len(fp), "not a sha3-512 hex digest")
	assert.Equal(t, fp, claimrecord.ItemFingerprint(testItem), "fingerprint unstable")

	other := testItem
	other.ContentURI = "ipfs://QmOtherContent"
	assert.NotEqual(t, fp, claimrecord.ItemFingerprint(other),
		"distinct content shares a fingerprint")
}

func TestPackDistinguishesFields(t *testing.T) {
	record := claimrecord.Assemble(testClaim, testItem, testPaymentAddress)
	packed := record.Pack()

	// shifting a byte between adjacent fields must change the packing
	shifted := *record
	shifted.DisplayName = record.DisplayName + "i"
	shifted.ContentURI = record.ContentURI[1:]
	assert.False(t, bytes.Equal(packed, shifted.Pack()),
		"field boundaries not encoded")
}
