// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/treedb/services/treedb/storage/lock"
)

func TestOpenFile(t *testing.T) {
	t.Run("requires a path", func(t *testing.T) {
		_, err := OpenFile(FileConfig{})
		assert.Error(t, err)
	})

	t.Run("creates missing directories", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "a", "b", "tree.json")
		fs, err := OpenFile(FileConfig{Path: path})
		require.NoError(t, err)
		defer fs.Close()

		_, err = os.Stat(filepath.Dir(path))
		assert.NoError(t, err)
		assert.True(t, filepath.IsAbs(fs.Path()))
	})

	t.Run("second owner is rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "tree.json")
		first, err := OpenFile(FileConfig{Path: path})
		require.NoError(t, err)
		defer first.Close()

		_, err = OpenFile(FileConfig{Path: path})
		assert.ErrorIs(t, err, lock.ErrLocked)

		reader, err := OpenFile(FileConfig{Path: path, NoLock: true})
		require.NoError(t, err)
		assert.NoError(t, reader.Close())
	})

	t.Run("close releases the lock", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "tree.json")
		first, err := OpenFile(FileConfig{Path: path})
		require.NoError(t, err)
		require.NoError(t, first.Close())

		second, err := OpenFile(FileConfig{Path: path})
		require.NoError(t, err)
		assert.NoError(t, second.Close())
	})
}

func TestFileStoreLoadSave(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "tree.json")

	fs, err := OpenFile(FileConfig{Path: path})
	require.NoError(t, err)

	_, err = fs.Load(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, fs.Save(ctx, []byte("one")))
	require.NoError(t, fs.Save(ctx, []byte("two")))

	data, err := fs.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp-", "temporary file left behind")
	}

	require.NoError(t, fs.Close())
	assert.ErrorIs(t, fs.Save(ctx, []byte("three")), ErrClosed)
	_, err = fs.Load(ctx)
	assert.ErrorIs(t, err, ErrClosed)

	reopened, err := OpenFile(FileConfig{Path: path})
	require.NoError(t, err)
	defer reopened.Close()
	data, err = reopened.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))
}

func TestFileStoreCancelledContext(t *testing.T) {
	fs, err := OpenFile(FileConfig{Path: filepath.Join(t.TempDir(), "tree.json")})
	require.NoError(t, err)
	defer fs.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, fs.Save(ctx, []byte("x")), context.Canceled)
}
