// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2021 Dropgate Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bitmark-inc/exitwithstatus"
	"github.com/bitmark-inc/getoptions"
	"github.com/bitmark-inc/logger"

	"github.com/dropgate/dropgated/configuration"
	"github.com/dropgate/dropgated/inventory"
	"github.com/dropgate/dropgated/ledger"
	"github.com/dropgate/dropgated/loader"
	"github.com/dropgate/dropgated/storage"
)

// set by the linker: go build -ldflags "-X main.version=M.N" ./...
var version = "zero" // do not change this value

// main program
func main() {
	// ensure exit handler is first
	defer exitwithstatus.Handler()

	flags := []getoptions.Option{
		{Long: "help", HasArg: getoptions.NO_ARGUMENT, Short: 'h'},
		{Long: "verbose", HasArg: getoptions.NO_ARGUMENT, Short: 'v'},
		{Long: "quiet", HasArg: getoptions.NO_ARGUMENT, Short: 'q'},
		{Long: "version", HasArg: getoptions.NO_ARGUMENT, Short: 'V'},
		{Long: "config-file", HasArg: getoptions.REQUIRED_ARGUMENT, Short: 'c'},
	}

	program, options, _, err := getoptions.GetOS(flags)
	if nil != err {
		exitwithstatus.Message("%s: getoptions error: %s", program, err)
	}

	if len(options["version"]) > 0 {
		fmt.Printf("%s: version: %s\n", program, version)
		return
	}

	if len(options["help"]) > 0 {
		fmt.Printf("usage: %s [--help] [--verbose] [--quiet] --config-file=FILE\n", program)
		return
	}

	if 1 != len(options["config-file"]) {
		exitwithstatus.Message("%s: only one config-file option is required, %d were detected", program, len(options["config-file"]))
	}

	// read options and parse the configuration file
	configurationFile := options["config-file"][0]
	theConfiguration, err := configuration.GetConfiguration(configurationFile)
	if nil != err {
		exitwithstatus.Message("%s: failed to read configuration from: %q  error: %s", program, configurationFile, err)
	}

	// start logging
	if err = logger.Initialise(theConfiguration.Logging); nil != err {
		exitwithstatus.Message("%s: logger setup failed with error: %s", program, err)
	}
	defer logger.Finalise()

	// create a logger channel for the main program
	log := logger.New("main")
	defer log.Info("finished")
	log.Info("starting…")
	log.Infof("version: %s", version)
	log.Debugf("theConfiguration: %v", theConfiguration)

	// ------------------
	// start of real main
	// ------------------

	// optional PID file
	// use if not running under a supervisor program like daemon(8)
	if "" != theConfiguration.PidFile {
		lockFile, err := os.OpenFile(theConfiguration.PidFile, os.O_WRONLY|os.O_EXCL|os.O_CREATE, os.ModeExclusive|0600)
		if err != nil {
			if os.IsExist(err) {
				exitwithstatus.Message("%s: another instance is already running", program)
			}
			exitwithstatus.Message("%s: PID file: %q creation failed, error: %s", program, theConfiguration.PidFile, err)
		}
		fmt.Fprintf(lockFile, "%d\n", os.Getpid())
		lockFile.Close()
		defer os.Remove(theConfiguration.PidFile)
	}

	// start the data storage
	log.Info("initialise storage")
	err = storage.Initialise(theConfiguration.DatabasePath())
	if nil != err {
		log.Criticalf("storage initialise error: %s", err)
		exitwithstatus.Message("storage initialise error: %s", err)
	}
	defer storage.Finalise()

	// load the inventory snapshot
	log.Infof("inventory: %q", theConfiguration.InventoryFile)
	data, err := inventory.LoadFile(theConfiguration.InventoryFile)
	if nil != err {
		log.Criticalf("inventory load error: %s", err)
		exitwithstatus.Message("inventory load error: %s", err)
	}
	log.Infof("inventory: %d items", data.Total())

	// the ledger node connection
	client, err := ledger.NewClient(theConfiguration.Ledger)
	if nil != err {
		log.Criticalf("ledger client error: %s", err)
		exitwithstatus.Message("ledger client error: %s", err)
	}

	checkpoints := loader.NewCheckpointStore(storage.Pool.Checkpoints, "main")
	theLoader := loader.New(theConfiguration.LoaderConfiguration(), client, checkpoints, data)

	// drain in the background so a signal can checkpoint and stop
	shutdown := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- theLoader.Drain(shutdown)
	}()

	// turn Signals into channel messages
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-ch:
		log.Infof("received signal: %v", sig)
		if 0 == len(options["quiet"]) {
			fmt.Printf("\nreceived signal: %v\nshutting down…\n", sig)
		}
		close(shutdown)
		err = <-done

	case err = <-done:
	}

	log.Infof("published: %d  healed: %d", theLoader.Published(), theLoader.Healed())
	if nil != err {
		log.Criticalf("load failed: %s", err)
		exitwithstatus.Message("%s: load failed: %s", program, err)
	}

	if 0 == len(options["quiet"]) {
		fmt.Printf("published: %d  healed: %d\n", theLoader.Published(), theLoader.Healed())
	}
}
