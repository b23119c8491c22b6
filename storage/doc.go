// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2021 Dropgate Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package storage - maintain the on-disk data store
//
//  ***** Data Structure *****
//
//  Pool          Key                    Value
//  |___ Checkpoints  loader name (string)   8 byte count ‖ 1 byte complete flag
//  |___ Counters     counter name (string)  8 byte big endian value
//  |___ Quota        identity (string)      8 byte big endian claim count
//  |___ TxRefs       external tx reference  1 byte marker
//
//  all pools share a single LevelDB database, each distinguished by a
//  one byte key prefix
package storage
