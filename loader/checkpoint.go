// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2021 Dropgate Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package loader

import (
	"encoding/binary"

	"github.com/dropgate/dropgated/fault"
	"github.com/dropgate/dropgated/storage"
)

// Checkpoint - durable progress marker for the bulk loader
//
// LastConfirmedIndex is one past the highest index confirmed written,
// i.e. the count of confirmed entries and the next index to publish
type Checkpoint struct {
	LastConfirmedIndex uint64 `json:"lastConfirmedIndex"`
	Complete           bool   `json:"complete"`
}

// CheckpointStore - load and save a checkpoint
type CheckpointStore interface {
	Load() (Checkpoint, bool, error)
	Save(Checkpoint) error
}

// poolCheckpointStore - checkpoint in the storage Checkpoints pool
//
// value layout: 8 byte big endian count ‖ 1 byte complete flag
type poolCheckpointStore struct {
	pool *storage.PoolHandle
	key  []byte
}

// NewCheckpointStore - named checkpoint in the database
func NewCheckpointStore(pool *storage.PoolHandle, name string) CheckpointStore {
	return &poolCheckpointStore{
		pool: pool,
		key:  []byte(name),
	}
}

func (s *poolCheckpointStore) Load() (Checkpoint, bool, error) {
	buffer := s.pool.Get(s.key)
	if nil == buffer {
		return Checkpoint{}, false, nil
	}
	if 9 != len(buffer) {
		return Checkpoint{}, false, fault.ErrCheckpointCorrupted
	}
	return Checkpoint{
		LastConfirmedIndex: binary.BigEndian.Uint64(buffer),
		Complete:           0 != buffer[8],
	}, true, nil
}

func (s *poolCheckpointStore) Save(checkpoint Checkpoint) error {
	buffer := make([]byte, 9)
	binary.BigEndian.PutUint64(buffer, checkpoint.LastConfirmedIndex)
	if checkpoint.Complete {
		buffer[8] = 1
	}
	s.pool.Put(s.key, buffer)
	return nil
}
