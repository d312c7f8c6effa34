// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lock provides the process-exclusive lock guarding a snapshot.
//
// A tree store has a single logical owner. The lock file next to the
// snapshot is held with an OS advisory lock for as long as the owning
// process serves the store, and carries a small JSON record naming the
// holder so conflicts can be reported usefully.
package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// ErrLocked is returned when another process holds the lock.
var ErrLocked = errors.New("store is locked by another process")

// Info describes the current lock holder.
type Info struct {
	PID        int       `json:"pid"`
	Hostname   string    `json:"hostname"`
	Reason     string    `json:"reason"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Lock is a held process lock. Release it when the store closes.
type Lock struct {
	path   string
	file   *os.File
	locker fileLocker

	mu       sync.Mutex
	released bool
}

// Acquire takes the exclusive lock on path, creating the file if needed.
//
// # Description
//
// Non-blocking. When another process holds the lock the returned error
// wraps ErrLocked and, when readable, names the holder's PID.
//
// # Inputs
//
//   - path: Lock file path, conventionally "<snapshot>.lock".
//   - reason: Free text recorded in the lock file.
//
// # Outputs
//
//   - *Lock: The held lock.
//   - error: Wraps ErrLocked on conflict.
func Acquire(path, reason string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0640)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	locker := newPlatformLocker()
	if err := locker.lock(f); err != nil {
		f.Close()
		if errors.Is(err, ErrLocked) {
			if info, rerr := ReadInfo(path); rerr == nil && info.PID > 0 {
				return nil, fmt.Errorf("%w (pid %d, alive=%t, since %s)",
					ErrLocked, info.PID, IsProcessAlive(info.PID), info.AcquiredAt.Format(time.RFC3339))
			}
		}
		return nil, err
	}

	host, _ := os.Hostname()
	info := Info{
		PID:        os.Getpid(),
		Hostname:   host,
		Reason:     reason,
		AcquiredAt: time.Now().UTC(),
	}
	if err := writeInfo(f, info); err != nil {
		_ = locker.unlock(f)
		f.Close()
		return nil, err
	}
	return &Lock{path: path, file: f, locker: locker}, nil
}

func writeInfo(f *os.File, info Info) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal lock info: %w", err)
	}
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("truncate lock file: %w", err)
	}
	if _, err := f.WriteAt(data, 0); err != nil {
		return fmt.Errorf("write lock info: %w", err)
	}
	return nil
}

// ReadInfo reads the holder record from a lock file.
func ReadInfo(path string) (*Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, 4096))
	if err != nil {
		return nil, err
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parse lock info: %w", err)
	}
	return &info, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Release unlocks and removes the lock file. Safe to call more than once.
func (l *Lock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return nil
	}
	l.released = true

	// Remove while still holding the lock so no other process can observe
	// a half-released file.
	rmErr := os.Remove(l.path)
	unlockErr := l.locker.unlock(l.file)
	closeErr := l.file.Close()
	if rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
		return fmt.Errorf("remove lock file: %w", rmErr)
	}
	if unlockErr != nil {
		return fmt.Errorf("unlock: %w", unlockErr)
	}
	return closeErr
}
