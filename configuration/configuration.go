// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2021 Dropgate Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package configuration - parse the shared daemon configuration
//
// one Lua configuration file serves both daemons; the gate daemon
// ignores the loader section and the loader ignores the http section
package configuration

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mr-tron/base58"

	"github.com/bitmark-inc/logger"

	"github.com/dropgate/dropgated/admission"
	"github.com/dropgate/dropgated/fault"
	"github.com/dropgate/dropgated/guard"
	"github.com/dropgate/dropgated/httpapi"
	"github.com/dropgate/dropgated/ledger"
	"github.com/dropgate/dropgated/loader"
	"github.com/dropgate/dropgated/util"
)

// basic defaults (directories and files are relative to the "DataDirectory" from Configuration file)
const (
	defaultDataDirectory = "" // this will error; use "." for the same directory as the config file

	defaultLevelDBDirectory = "data"
	defaultDatabaseName     = "dropgate"

	defaultInventoryFile = "inventory.json"

	defaultListen = "127.0.0.1:2150"

	defaultLogDirectory = "log"
	defaultLogFile      = "dropgate.log"
	defaultLogCount     = 10          //  number of log files retained
	defaultLogSize      = 1024 * 1024 // rotate when <logfile> exceeds this size
)

// length of a decoded payment address
const paymentAddressBytes = 32

// to hold log levels
type LoglevelMap map[string]string

// path expanded or calculated defaults
var (
	defaultLogLevels = LoglevelMap{
		logger.DefaultTag: "critical",
	}
)

type DatabaseType struct {
	Directory string `gluamapper:"directory" json:"directory"`
	Name      string `gluamapper:"name" json:"name"`
}

// AdmissionType - challenge issue and verification settings
type AdmissionType struct {
	Secret           string `gluamapper:"secret" json:"-"`
	Difficulty       int    `gluamapper:"difficulty" json:"difficulty"`
	TokenLifetime    int    `gluamapper:"token_lifetime" json:"token_lifetime"` // seconds
	QuotaPerIdentity int    `gluamapper:"quota_per_identity" json:"quota_per_identity"`
}

// LoaderType - bulk loader pacing; delays are plain integers in the
// configuration file (seconds / milliseconds) and converted here
type LoaderType struct {
	BatchSize       int `gluamapper:"batch_size" json:"batch_size"`
	RetryLimit      int `gluamapper:"retry_limit" json:"retry_limit"`
	RetryDelay      int `gluamapper:"retry_delay" json:"retry_delay"` // seconds
	VerifyEvery     int `gluamapper:"verify_every" json:"verify_every"`
	ReconcileEvery  int `gluamapper:"reconcile_every" json:"reconcile_every"`
	InterBatchDelay int `gluamapper:"inter_batch_delay" json:"inter_batch_delay"` // milliseconds
}

type Configuration struct {
	DataDirectory  string       `gluamapper:"data_directory" json:"data_directory"`
	PidFile        string       `gluamapper:"pidfile" json:"pidfile"`
	InventoryFile  string       `gluamapper:"inventory_file" json:"inventory_file"`
	PaymentAddress string       `gluamapper:"payment_address" json:"payment_address"`
	Database       DatabaseType `gluamapper:"database" json:"database"`

	Admission AdmissionType              `gluamapper:"admission" json:"admission"`
	HTTP      httpapi.Configuration      `gluamapper:"http" json:"http"`
	Ledger    ledger.ClientConfiguration `gluamapper:"ledger" json:"ledger"`
	Loader    LoaderType                 `gluamapper:"loader" json:"loader"`
	Logging   logger.Configuration       `gluamapper:"logging" json:"logging"`
}

// GetConfiguration - read decode and verify the configuration
func GetConfiguration(configurationFileName string) (*Configuration, error) {

	configurationFileName, err := filepath.Abs(filepath.Clean(configurationFileName))
	if nil != err {
		return nil, err
	}

	// absolute path to the main directory
	dataDirectory, _ := filepath.Split(configurationFileName)

	options := &Configuration{

		DataDirectory:  defaultDataDirectory,
		PidFile:        "", // no PidFile by default
		InventoryFile:  defaultInventoryFile,
		PaymentAddress: "",

		Database: DatabaseType{
			Directory: defaultLevelDBDirectory,
			Name:      defaultDatabaseName,
		},

		Admission: AdmissionType{
			Difficulty:       admission.DefaultDifficulty,
			TokenLifetime:    int(admission.DefaultTokenLifetime / time.Second),
			QuotaPerIdentity: guard.DefaultQuotaPerIdentity,
		},

		HTTP: httpapi.Configuration{
			Listen: defaultListen,
		},

		Loader: LoaderType{
			BatchSize:       loader.DefaultBatchSize,
			RetryLimit:      loader.DefaultRetryLimit,
			RetryDelay:      int(loader.DefaultRetryDelay / time.Second),
			VerifyEvery:     loader.DefaultVerifyEvery,
			ReconcileEvery:  loader.DefaultReconcileEvery,
			InterBatchDelay: int(loader.DefaultInterBatchDelay / time.Millisecond),
		},

		Logging: logger.Configuration{
			Directory: defaultLogDirectory,
			File:      defaultLogFile,
			Size:      defaultLogSize,
			Count:     defaultLogCount,
			Levels:    defaultLogLevels,
		},
	}

	if err := ParseConfigurationFile(configurationFileName, options); err != nil {
		return nil, err
	}

	if "" == options.Admission.Secret {
		return nil, fault.ErrRequiredAdmissionSecret
	}
	if options.Admission.Difficulty <= 0 {
		return nil, fault.ErrInvalidDifficulty
	}

	// the address an external signer pays to; format checked here so a
	// typo fails at startup, not at the first claim
	if "" != options.PaymentAddress {
		decoded, err := base58.Decode(options.PaymentAddress)
		if nil != err || paymentAddressBytes != len(decoded) {
			return nil, fault.ErrInvalidPaymentAddress
		}
	}

	// ensure absolute data directory
	if "" == options.DataDirectory || "~" == options.DataDirectory {
		return nil, errors.New(fmt.Sprintf("Path: %q is not a valid directory", options.DataDirectory))
	} else if "." == options.DataDirectory {
		options.DataDirectory = dataDirectory // same directory as the configuration file
	}
	options.DataDirectory = filepath.Clean(options.DataDirectory)

	// this directory must exist - i.e. must be created prior to running
	fileInfo, err := os.Stat(options.DataDirectory)
	if nil != err {
		return nil, err
	}
	if !fileInfo.IsDir() {
		return nil, errors.New(fmt.Sprintf("Path: %q is not a directory", options.DataDirectory))
	}

	// force all relevant items to be absolute paths
	// if not, assign them to the data directory
	mustBeAbsolute := []*string{
		&options.InventoryFile,
		&options.Database.Directory,
		&options.Logging.Directory,
	}
	for _, f := range mustBeAbsolute {
		*f = util.EnsureAbsolute(options.DataDirectory, *f)
	}

	// optional absolute paths i.e. blank or an absolute path
	optionalAbsolute := []*string{
		&options.PidFile,
	}
	for _, f := range optionalAbsolute {
		if "" != *f {
			*f = util.EnsureAbsolute(options.DataDirectory, *f)
		}
	}

	// fail if any of these are not simple file names i.e. must
	// not contain a path separator
	mustNotBePaths := []*string{
		&options.Database.Name,
		&options.Logging.File,
	}
	for _, f := range mustNotBePaths {
		switch filepath.Dir(*f) {
		case "", ".":
		default:
			return nil, errors.New(fmt.Sprintf("Files: %q is not plain name", *f))
		}
	}

	// make absolute and create directories if they do not already exist
	for _, d := range []*string{
		&options.Database.Directory,
		&options.Logging.Directory,
	} {
		*d = util.EnsureAbsolute(options.DataDirectory, *d)
		if err := os.MkdirAll(*d, 0700); nil != err {
			return nil, err
		}
	}

	// done
	return options, nil
}

// DatabasePath - base path handed to the storage layer
func (c *Configuration) DatabasePath() string {
	return filepath.Join(c.Database.Directory, c.Database.Name)
}

// TokenLifetime - admission lifetime as a duration
func (c *Configuration) TokenLifetime() time.Duration {
	return time.Duration(c.Admission.TokenLifetime) * time.Second
}

// LoaderConfiguration - loader pacing with delays converted to durations
func (c *Configuration) LoaderConfiguration() loader.Configuration {
	return loader.Configuration{
		BatchSize:       c.Loader.BatchSize,
		RetryLimit:      c.Loader.RetryLimit,
		RetryDelay:      time.Duration(c.Loader.RetryDelay) * time.Second,
		VerifyEvery:     c.Loader.VerifyEvery,
		ReconcileEvery:  c.Loader.ReconcileEvery,
		InterBatchDelay: time.Duration(c.Loader.InterBatchDelay) * time.Millisecond,
	}
}
