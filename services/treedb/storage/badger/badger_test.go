// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/treedb/services/treedb/storage"
)

// TestOpenInMemory verifies an in-memory store saves and loads.
func TestOpenInMemory(t *testing.T) {
	s, err := OpenInMemory()
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	_, err = s.Load(ctx)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, s.Save(ctx, []byte(`{"version":1}`)))
	data, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"version":1}`, string(data))
	assert.Empty(t, s.Path())
}

// TestPersistence verifies the snapshot survives a reopen.
func TestPersistence(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	cfg := DefaultConfig()
	cfg.Path = dir
	cfg.GCInterval = 0

	s, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, []byte("first")))
	require.NoError(t, s.Save(ctx, []byte("second")))
	require.NoError(t, s.Close())

	s, err = Open(cfg)
	require.NoError(t, err)
	defer s.Close()

	data, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	gen, err := s.Generation(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), gen)
}

// TestClose verifies operations fail after Close and Close is idempotent.
func TestClose(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Path = t.TempDir()
	cfg.GCInterval = 10 * time.Millisecond

	s, err := Open(cfg)
	require.NoError(t, err)
	require.NotNil(t, s.gc)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	ctx := context.Background()
	_, err = s.Load(ctx)
	assert.ErrorIs(t, err, storage.ErrClosed)
	assert.ErrorIs(t, s.Save(ctx, nil), storage.ErrClosed)
}

// TestCancelledContext verifies a cancelled context fails before any I/O.
func TestCancelledContext(t *testing.T) {
	s, err := OpenInMemory()
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, s.Save(ctx, []byte("x")), context.Canceled)
	_, err = s.Load(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(DefaultConfig())
	assert.Error(t, err)
}

func TestNewGCRunnerValidation(t *testing.T) {
	tests := []struct {
		name     string
		interval time.Duration
		ratio    float64
	}{
		{"zero interval", 0, 0.5},
		{"zero ratio", time.Second, 0},
		{"ratio of one", time.Second, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newGCRunner(nil, tt.interval, tt.ratio, nil)
			assert.Error(t, err)
		})
	}
}
