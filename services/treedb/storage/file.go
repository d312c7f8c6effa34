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
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/AleutianAI/treedb/services/treedb/storage/lock"
)

// FileConfig configures a FileStore.
type FileConfig struct {
	// Path is the snapshot file. Its directory is created if missing.
	Path string

	// NoLock skips the exclusive process lock. Only for read-only tools
	// that never save.
	NoLock bool

	// Logger receives lock and save diagnostics. Optional.
	Logger *slog.Logger
}

// FileStore keeps the snapshot in a single file.
//
// # Description
//
// Save writes to a temporary file in the same directory, fsyncs it, and
// renames it over the snapshot, so a crash leaves either the old or the
// new snapshot, never a torn one. The store holds an exclusive advisory
// lock on "<path>.lock" for its lifetime so two processes cannot serve
// the same file.
//
// # Thread Safety
//
// Safe for concurrent use.
type FileStore struct {
	path   string
	lock   *lock.Lock
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

// OpenFile opens a FileStore.
//
// # Outputs
//
//   - *FileStore: The store. Call Close when done.
//   - error: Non-nil if the path is empty, the directory cannot be created,
//     or another process holds the lock (wraps lock.ErrLocked).
func OpenFile(cfg FileConfig) (*FileStore, error) {
	if cfg.Path == "" {
		return nil, errors.New("storage path is required")
	}
	abs, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0750); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	store := &FileStore{path: abs, logger: logger}
	if !cfg.NoLock {
		l, err := lock.Acquire(abs+".lock", "treedb snapshot owner")
		if err != nil {
			return nil, fmt.Errorf("lock %s: %w", abs, err)
		}
		store.lock = l
	}
	return store, nil
}

// Path returns the absolute snapshot path.
func (f *FileStore) Path() string { return f.path }

// Load implements Store.
func (f *FileStore) Load(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrClosed
	}
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return data, nil
}

// Save implements Store.
func (f *FileStore) Save(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err := os.Chmod(tmpName, 0640); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp snapshot: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		cleanup()
		return fmt.Errorf("replace snapshot: %w", err)
	}
	syncDir(filepath.Dir(f.path), f.logger)
	return nil
}

// syncDir makes the rename durable. Some platforms cannot fsync a
// directory; that is logged, not fatal.
func syncDir(dir string, logger *slog.Logger) {
	d, err := os.Open(dir)
	if err != nil {
		logger.Debug("open snapshot directory for sync", "error", err)
		return
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		logger.Debug("sync snapshot directory", "error", err)
	}
}

// Close implements Store. It releases the process lock.
func (f *FileStore) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	if f.lock != nil {
		return f.lock.Release()
	}
	return nil
}
