// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2021 Dropgate Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package background - run processes in background with clean shutdown
package background

// Process - interface for a background process
//
// Run is called in a goroutine with the supplied args and must return
// when the shutdown channel is closed
type Process interface {
	Run(args interface{}, shutdown <-chan struct{})
}

// Processes - list of processes to start
type Processes []Process

// T - handle for the set of started processes
type T struct {
	shutdown chan struct{}
	finished chan struct{}
	count    int
}

// Start - start up a set of background processes
func Start(processes Processes, args interface{}) *T {

	register := &T{
		shutdown: make(chan struct{}),
		count:    len(processes),
	}
	finished := make(chan struct{}, len(processes))
	register.finished = finished

	for _, p := range processes {
		go func(p Process) {
			p.Run(args, register.shutdown)
			finished <- struct{}{}
		}(p)
	}
	return register
}

// Stop - shut down all background processes and wait for them to finish
func (t *T) Stop() {

	if nil == t {
		return
	}

	close(t.shutdown)
	for i := 0; i < t.count; i += 1 {
		<-t.finished
	}
}
