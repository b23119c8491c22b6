// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2021 Dropgate Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package storage

import (
	"encoding/binary"
)

// CounterHandle - a durable counter held in the Counters pool
//
// increment/decrement cycles are atomic relative to all other
// CounterHandle operations in this process; the stored value survives
// restarts
type CounterHandle struct {
	key []byte
}

// NewCounter - access a named durable counter
func NewCounter(name string) *CounterHandle {
	return &CounterHandle{
		key: []byte(name),
	}
}

// IncrementAndGet - add one to the counter, returns the new value
func (c *CounterHandle) IncrementAndGet() (uint64, error) {
	counterData.Lock()
	defer counterData.Unlock()

	n := c.read() + 1
	c.write(n)
	return n, nil
}

// Decrement - subtract one from the counter
//
// used to roll back a provisional increment; never goes below zero
func (c *CounterHandle) Decrement() error {
	counterData.Lock()
	defer counterData.Unlock()

	n := c.read()
	if n > 0 {
		c.write(n - 1)
	}
	return nil
}

// Get - returns the current value
func (c *CounterHandle) Get() (uint64, error) {
	counterData.Lock()
	defer counterData.Unlock()

	return c.read(), nil
}

// must hold counterData lock
func (c *CounterHandle) read() uint64 {
	buffer := Pool.Counters.Get(c.key)
	if 8 != len(buffer) {
		return 0
	}
	return binary.BigEndian.Uint64(buffer)
}

// must hold counterData lock
func (c *CounterHandle) write(n uint64) {
	buffer := make([]byte, 8)
	binary.BigEndian.PutUint64(buffer, n)
	Pool.Counters.Put(c.key, buffer)
}
