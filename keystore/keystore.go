// Package keystore is the opaque key-store adapter spec.md §6 names:
// "KeyStore/ — opaque; accessed only via the key-store adapter." The
// kernel and its pipeline never see raw key material except through
// this package's Get/Put/Generate calls, and the on-disk form is just
// another DurableState journal (spec §4.1) keyed by key id, the same
// way access.Control persists its ACL entries.
/*
 * Copyright (c) 2024, Kiln Authors. All rights reserved.
 */
package keystore

import (
	"crypto/rand"

	"github.com/kilnstore/kiln/cmn"
	"github.com/kilnstore/kiln/state"
)

// KeySize is the raw key length keystore hands callers, matching
// chacha20poly1305.KeySize (cipher intentionally doesn't import
// keystore, so this isn't wired to that constant directly).
const KeySize = 32

// Store is the key-store adapter: a small, durable, opaque map from key
// id to raw key bytes.
type Store struct {
	journal *state.Journal
}

// Open opens (or creates) the key journal at path.
func Open(path string) (*Store, error) {
	return OpenWithThreshold(path, state.DefaultCompactThreshold)
}

// OpenWithThreshold is Open with an operator-configured compaction
// threshold (kernel.Config's CompactionThreshold, spec §4.1).
func OpenWithThreshold(path string, threshold int) (*Store, error) {
	j, err := state.OpenWithThreshold(path, threshold)
	if err != nil {
		return nil, err
	}
	return &Store{journal: j}, nil
}

// Get returns the raw key bytes for keyID.
func (s *Store) Get(keyID string) ([]byte, error) {
	var key []byte
	ok, err := s.journal.TryGet(keyID, &key)
	if err != nil {
		return nil, cmn.NewInternal("", err, "keystore: corrupt record for key %s", keyID)
	}
	if !ok {
		return nil, cmn.NewNotFound("keystore: key %s not found", keyID)
	}
	return key, nil
}

// Put stores raw key bytes under keyID, fsync'd: key material is exactly
// the critical write spec §4.1 calls out durability-after-fsync for.
func (s *Store) Put(keyID string, key []byte) error {
	return s.journal.Set(keyID, key, true)
}

// Generate mints a new random KeySize key, persists it under a fresh id,
// and returns both.
func (s *Store) Generate() (keyID string, key []byte, err error) {
	key = make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", nil, err
	}
	keyID = cmn.GenShortID()
	if err := s.Put(keyID, key); err != nil {
		return "", nil, err
	}
	return keyID, key, nil
}

// Close releases the underlying journal.
func (s *Store) Close() error { return s.journal.Close() }
