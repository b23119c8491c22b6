// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2021 Dropgate Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package inventory - the finite numbered inventory
//
// items are produced by an external generation phase and read here
// only; a Data snapshot is immutable once constructed and is replaced
// wholesale when the backing file changes
package inventory

import (
	"encoding/json"
	"io/ioutil"

	"github.com/dropgate/dropgated/fault"
)

// Item - one numbered inventory entry
//
// immutable once published to the ledger
type Item struct {
	Index       uint64 `json:"index"`
	DisplayName string `json:"displayName"`
	ContentURI  string `json:"contentURI"`
	Reserved    bool   `json:"reserved"`
	Published   bool   `json:"published"`
}

// Data - an immutable snapshot of the full inventory
type Data struct {
	items     []Item
	claimable []uint64 // indices of non-reserved items in index order
}

// NewData - build and validate a snapshot
//
// indices must be contiguous from zero with no duplicates so that the
// ledger's index-addressed writes line up with the item list
func NewData(items []Item) (*Data, error) {
	if 0 == len(items) {
		return nil, fault.ErrInvalidInventoryFile
	}

	d := &Data{
		items:     make([]Item, len(items)),
		claimable: make([]uint64, 0, len(items)),
	}
	copy(d.items, items)

	for i, item := range d.items {
		if uint64(i) != item.Index {
			return nil, fault.ErrUnexpectedInventoryIndex
		}
		if !item.Reserved {
			d.claimable = append(d.claimable, item.Index)
		}
	}
	return d, nil
}

// LoadFile - read a snapshot from a JSON array file
func LoadFile(path string) (*Data, error) {
	buffer, err := ioutil.ReadFile(path)
	if nil != err {
		return nil, err
	}

	var items []Item
	if err := json.Unmarshal(buffer, &items); nil != err {
		return nil, fault.ErrInvalidInventoryFile
	}
	return NewData(items)
}

// Total - number of items including reserved ones
func (d *Data) Total() uint64 {
	return uint64(len(d.items))
}

// ReservedCount - number of reserved items
func (d *Data) ReservedCount() uint64 {
	return d.Total() - uint64(len(d.claimable))
}

// Claimable - number of items the gate may hand out
func (d *Data) Claimable() uint64 {
	return uint64(len(d.claimable))
}

// Item - fetch by inventory index
func (d *Data) Item(index uint64) (Item, error) {
	if index >= d.Total() {
		return Item{}, fault.ErrInvalidItemIndex
	}
	return d.items[index], nil
}

// ItemAtOrdinal - map a 1-based claim ordinal to its item
//
// reserved items are skipped, so ordinal n is the n-th claimable item
func (d *Data) ItemAtOrdinal(n uint64) (Item, error) {
	if 0 == n || n > d.Claimable() {
		return Item{}, fault.ErrInvalidItemIndex
	}
	return d.items[d.claimable[n-1]], nil
}

// Items - copy of all items in index order, for the bulk loader
func (d *Data) Items() []Item {
	items := make([]Item, len(d.items))
	copy(items, d.items)
	return items
}
