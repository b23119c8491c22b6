// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2021 Dropgate Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package storage

import (
	"reflect"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"

	"github.com/dropgate/dropgated/fault"
)

// exported storage pools
//
// note all must be exported (i.e. initial capital) or initialisation will panic
type pools struct {
	Checkpoints *PoolHandle `prefix:"C"`
	Counters    *PoolHandle `prefix:"N"`
	Quota       *PoolHandle `prefix:"Q"`
	TxRefs      *PoolHandle `prefix:"R"`
}

// Pool - the set of exported pools
var Pool pools

// holds the database handle
var poolData struct {
	sync.RWMutex
	db *leveldb.DB
}

// guards read-modify-write cycles on the Counters pool
var counterData struct {
	sync.Mutex
}

// Initialise - open up the database connection
//
// this must be called before any pool is accessed
func Initialise(database string) error {
	poolData.Lock()
	defer poolData.Unlock()

	if nil != poolData.db {
		return fault.ErrAlreadyInitialised
	}

	db, err := leveldb.OpenFile(database+".leveldb", nil)
	if nil != err {
		return err
	}
	poolData.db = db

	// this will be a struct type
	poolType := reflect.TypeOf(Pool)

	// get write access by using pointer + Elem()
	poolValue := reflect.ValueOf(&Pool).Elem()

	// scan each field to set up a pool with the prefix from its tag
	for i := 0; i < poolType.NumField(); i += 1 {

		fieldInfo := poolType.Field(i)
		prefixTag := fieldInfo.Tag.Get("prefix")
		if 1 != len(prefixTag) {
			return fault.ErrInvalidStructPointer
		}

		p := &PoolHandle{
			prefix:   prefixTag[0],
			database: db,
		}
		poolValue.Field(i).Set(reflect.ValueOf(p))
	}

	return nil
}

// Finalise - close the database connection
func Finalise() {
	poolData.Lock()
	defer poolData.Unlock()

	if nil == poolData.db {
		return
	}

	poolData.db.Close()
	poolData.db = nil

	// clear pool handles so use after finalise panics
	poolValue := reflect.ValueOf(&Pool).Elem()
	for i := 0; i < poolValue.NumField(); i += 1 {
		poolValue.Field(i).Set(reflect.Zero(poolValue.Field(i).Type()))
	}
}
