// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lock

import (
	"os"
)

// fileLocker abstracts platform-specific advisory locking.
//
// # Description
//
// Unix uses flock(2), Windows uses LockFileEx. Both are non-blocking and
// released by the OS when the holding process exits, so a crashed owner
// never leaves a stuck lock behind.
type fileLocker interface {
	// lock acquires an exclusive lock, returning ErrLocked when another
	// process holds it.
	lock(f *os.File) error

	// unlock releases the lock. Safe to call when not locked.
	unlock(f *os.File) error
}

// IsProcessAlive reports whether a process with the given PID exists.
//
// Used to annotate lock conflicts; the lock itself never depends on it.
func IsProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return isProcessAlive(pid)
}
