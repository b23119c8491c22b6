// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2021 Dropgate Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package ledger - client side of the external append-only ledger
//
// the ledger is index addressed and the single source of truth for
// published inventory; this package only writes and queries it, the
// ledger's own consensus and execution are out of scope
package ledger

// Entry - the content published at one ledger index
type Entry struct {
	Index       uint64 `json:"index"`
	DisplayName string `json:"displayName"`
	ContentURI  string `json:"contentURI"`
}

// Batch - the unit of publication
//
// re-sending a batch with identical content at identical indices must
// leave ledger state unchanged; the loader relies on this and never
// sends different content for an already populated index
type Batch struct {
	StartIndex uint64  `json:"startIndex"`
	Entries    []Entry `json:"entries"`
}

// Adapter - what the bulk loader needs from any ledger implementation
//
// polymorphic so that different ledger program versions are adapters,
// not separate loaders
type Adapter interface {

	// write one batch; retryable failures are reported as
	// fault.ErrLedgerWriteFailure
	PublishBatch(batch Batch) error

	// the ledger's own report of how many indices are populated
	LoadedCount() (uint64, error)

	// the full set of populated indices, for reconciliation
	PopulatedIndices() ([]uint64, error)
}
