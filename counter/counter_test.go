// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2021 Dropgate Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package counter_test

import (
	"sync"
	"testing"

	"github.com/dropgate/dropgated/counter"
)

// test incrementing/decrementing a counter
func TestCounter(t *testing.T) {

	var c1 counter.Counter

	if !c1.IsZero() {
		t.Errorf("counter is not zero at start: %d", c1.Uint64())
	}

	c1.Increment()
	c1.Increment()
	c1.Increment()

	if 3 != c1.Uint64() {
		t.Errorf("counter is not 3 after incrementing: %d", c1.Uint64())
	}

	c1.Add(4)

	if 7 != c1.Uint64() {
		t.Errorf("counter is not 7 after adding: %d", c1.Uint64())
	}

	c1.Decrement()

	if 6 != c1.Uint64() {
		t.Errorf("counter is not 6 after decrementing: %d", c1.Uint64())
	}
}

// counters must not lose updates under concurrent access
func TestCounterConcurrent(t *testing.T) {

	var c counter.Counter
	var wg sync.WaitGroup

	loops := 1000
	workers := 8

	for i := 0; i < workers; i += 1 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < loops; j += 1 {
				c.Increment()
			}
		}()
	}
	wg.Wait()

	if uint64(workers*loops) != c.Uint64() {
		t.Errorf("counter lost updates, got: %d  expected: %d", c.Uint64(), workers*loops)
	}
}
