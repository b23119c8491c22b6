// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2021 Dropgate Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package httpapi - the admission gate's external HTTP surface
//
//   GET  /challenge?identity=<id>   issue an admission token
//   POST /allocate                  claim the next inventory index
//   GET  /details                   operational counters
package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/bitmark-inc/logger"

	"github.com/dropgate/dropgated/admission"
	"github.com/dropgate/dropgated/fault"
	"github.com/dropgate/dropgated/gate"
)

// Configuration - listen address for the API
type Configuration struct {
	Listen string `gluamapper:"listen" json:"listen"`
}

// globals for the listener
type globalDataType struct {
	sync.RWMutex

	log         *logger.L
	server      *http.Server
	initialised bool
}

var globalData globalDataType

// Initialise - start serving the admission API
func Initialise(configuration Configuration, adm *admission.Admission, g *gate.Gate, paymentAddress string, version string) error {
	globalData.Lock()
	defer globalData.Unlock()

	if globalData.initialised {
		return fault.ErrAlreadyInitialised
	}

	globalData.log = logger.New("httpapi")
	globalData.log.Info("starting…")

	handler := NewHandler(globalData.log, adm, g, paymentAddress, version)
	globalData.server = &http.Server{
		Addr:         configuration.Listen,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	globalData.initialised = true

	go func(server *http.Server, log *logger.L) {
		err := server.ListenAndServe()
		if http.ErrServerClosed != err {
			log.Criticalf("listener stopped: %s", err)
		}
	}(globalData.server, globalData.log)

	return nil
}

// Finalise - stop serving
func Finalise() error {
	globalData.Lock()
	defer globalData.Unlock()

	if !globalData.initialised {
		return fault.ErrNotInitialised
	}

	globalData.log.Info("shutting down…")
	_ = globalData.server.Close()
	globalData.server = nil
	globalData.initialised = false
	return nil
}
