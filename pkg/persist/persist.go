// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package persist implements a bbolt-backed durable snapshot store,
// satisfying datastore.Store so cmd/coreconf-server can survive
// restarts without carrying persistence concerns into the core
// datastore package.
package persist

import (
	bolt "go.etcd.io/bbolt"

	cerrors "github.com/absmach/coreconf/pkg/errors"
)

var snapshotsBucket = []byte("snapshots")

// Store holds one JSON snapshot blob per module in a single bbolt file.
type Store struct {
	db     *bolt.DB
	module []byte
}

// Open opens (creating if absent) a bbolt file at path and returns a
// Store scoped to the named module.
func Open(path, module string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, cerrors.New("persist.Open", "", 0, path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(snapshotsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, cerrors.New("persist.Open", "", 0, path, err)
	}

	return &Store{db: db, module: []byte(module)}, nil
}

// Save writes data as the module's current snapshot, replacing any
// prior one.
func (s *Store) Save(data []byte) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(snapshotsBucket).Put(s.module, data)
	})
	if err != nil {
		return cerrors.New("persist.Save", "", 0, string(s.module), err)
	}
	return nil
}

// Load reads back the module's most recently saved snapshot. It returns
// (nil, nil) if nothing was ever saved for this module, matching the
// no-op contract datastore.Datastore.LoadPersisted expects on first
// startup.
func (s *Store) Load() ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(snapshotsBucket).Get(s.module)
		if v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, cerrors.New("persist.Load", "", 0, string(s.module), err)
	}
	return data, nil
}

// Close releases the underlying bbolt file handle.
func (s *Store) Close() error {
	return s.db.Close()
}
