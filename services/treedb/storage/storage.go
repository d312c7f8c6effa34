// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storage moves encoded tree snapshots to and from durable media.
//
// Backends only deal in opaque bytes. Encoding and validation belong to
// the tree package; a backend never inspects what it stores.
//
// Available backends:
//   - FileStore: one file, replaced atomically on every save (default)
//   - badger.Store: a key in an embedded BadgerDB (subpackage badger)
//   - MemoryStore: process memory, for tests
package storage

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned by Load when no snapshot has been saved yet.
var ErrNotFound = errors.New("snapshot not found")

// ErrClosed is returned by operations on a closed backend.
var ErrClosed = errors.New("storage closed")

// Store is a durable location for a single snapshot.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use, although the tree
// engine only calls them from inside its own critical section.
type Store interface {
	// Load returns the last saved snapshot, or ErrNotFound.
	Load(ctx context.Context) ([]byte, error)

	// Save durably replaces the snapshot. When Save returns nil the data
	// must survive a process crash.
	Save(ctx context.Context, data []byte) error

	// Close releases the backend. Further calls return ErrClosed.
	Close() error
}

// =============================================================================
// MemoryStore
// =============================================================================

// MemoryStore keeps the snapshot in memory.
//
// FailSaves makes every subsequent Save fail, which lets tests exercise the
// engine's rollback path.
type MemoryStore struct {
	mu     sync.Mutex
	data   []byte
	saved  bool
	saves  int
	fail   error
	closed bool
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// NewMemoryStoreWith returns a MemoryStore that already holds data.
func NewMemoryStoreWith(data []byte) *MemoryStore {
	return &MemoryStore{data: append([]byte(nil), data...), saved: true}
}

// Load implements Store.
func (m *MemoryStore) Load(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if !m.saved {
		return nil, ErrNotFound
	}
	return append([]byte(nil), m.data...), nil
}

// Save implements Store.
func (m *MemoryStore) Save(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.fail != nil {
		return m.fail
	}
	m.data = append([]byte(nil), data...)
	m.saved = true
	m.saves++
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// FailSaves makes Save return err until called again with nil.
func (m *MemoryStore) FailSaves(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

// Bytes returns a copy of the stored snapshot.
func (m *MemoryStore) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.data...)
}

// Saves returns the number of successful saves.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
