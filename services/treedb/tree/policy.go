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
	"fmt"
	"strings"
)

// ChildPolicy selects what happens to the children of a deleted node.
//
// The zero value is invalid so that a forgotten policy fails loudly
// instead of picking a default.
type ChildPolicy int

const (
	// Cascade removes the node and its entire subtree.
	Cascade ChildPolicy = iota + 1

	// Reparent attaches each direct child to the removed node's parent.
	Reparent

	// Reject refuses to delete a node that has children.
	Reject
)

// String returns the lowercase policy name.
func (p ChildPolicy) String() string {
	switch p {
	case Cascade:
		return "cascade"
	case Reparent:
		return "reparent"
	case Reject:
		return "reject"
	default:
		return "invalid"
	}
}

// Valid reports whether p is one of the defined policies.
func (p ChildPolicy) Valid() bool {
	return p >= Cascade && p <= Reject
}

// ParsePolicy parses "cascade", "reparent" or "reject" (case-insensitive).
func ParsePolicy(s string) (ChildPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cascade":
		return Cascade, nil
	case "reparent":
		return Reparent, nil
	case "reject":
		return Reject, nil
	default:
		return 0, fmt.Errorf("%w: %q (want cascade, reparent or reject)", ErrInvalidPolicy, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p ChildPolicy) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, ErrInvalidPolicy
	}
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *ChildPolicy) UnmarshalText(text []byte) error {
	parsed, err := ParsePolicy(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
