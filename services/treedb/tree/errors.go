// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tree

import (
	"errors"
	"fmt"
)

// =============================================================================
// Sentinel Errors
// =============================================================================

var (
	// ErrDuplicateIdentifier is returned when a requested identifier exists.
	ErrDuplicateIdentifier = errors.New("duplicate identifier")

	// ErrNodeNotFound is returned when the target node does not exist.
	ErrNodeNotFound = errors.New("node not found")

	// ErrParentNotFound is returned when a parent is neither the root
	// sentinel nor an existing node.
	ErrParentNotFound = errors.New("parent not found")

	// ErrNodeHasChildren is returned by a Reject delete on a non-leaf.
	ErrNodeHasChildren = errors.New("node has children")

	// ErrCycleDetected is returned when a move would make a node its own
	// ancestor.
	ErrCycleDetected = errors.New("cycle detected")

	// ErrCorruptData is returned when a persisted snapshot is invalid.
	ErrCorruptData = errors.New("corrupt data")

	// ErrPersistence is returned when a save fails. The in-memory state has
	// been rolled back when this error is returned from a mutation.
	ErrPersistence = errors.New("persistence error")

	// ErrInvalidIdentifier is returned for empty identifiers and for the
	// root sentinel used as a node identifier.
	ErrInvalidIdentifier = errors.New("invalid identifier")

	// ErrInvalidPayload is returned for payloads holding invalid values.
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrInvalidPolicy is returned when a delete carries no valid policy.
	ErrInvalidPolicy = errors.New("invalid child policy")

	// ErrClosed is returned by operations on a closed engine.
	ErrClosed = errors.New("engine closed")

	// ErrReadOnly is returned by mutations on a read-only engine.
	ErrReadOnly = errors.New("engine is read-only")
)

// Error describes a failed engine operation.
//
// Err is always one of the sentinel errors above, possibly joined with the
// underlying cause, so callers match with errors.Is.
type Error struct {
	Op  string
	ID  NodeID
	Err error
}

func (e *Error) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %q: %v", e.Op, e.ID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func opError(op string, id NodeID, err error) error {
	var te *Error
	if errors.As(err, &te) {
		return err
	}
	return &Error{Op: op, ID: id, Err: err}
}

func corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorruptData, fmt.Sprintf(format, args...))
}
