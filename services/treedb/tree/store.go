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
	"slices"

	"github.com/google/uuid"
)

// maxIDAttempts bounds identifier generation retries on collision.
const maxIDAttempts = 8

// Store owns the node records of one tree.
//
// # Description
//
// Store enforces identifier uniqueness and parent existence, and keeps
// its Index in step with every mutation. Each mutating method validates
// before it changes anything and returns an undo function that restores
// the exact prior state, including the Index and the sequence counter.
//
// # Thread Safety
//
// Not safe for concurrent use; the Engine serializes access.
type Store struct {
	root    NodeID
	nodes   map[NodeID]*Node
	index   *Index
	nextSeq uint64
	newID   func() NodeID
}

// NewStore creates an empty store.
//
// # Inputs
//
//   - root: The root sentinel. Never a valid node identifier.
//   - sortKey: Payload field used for explicit child order ("" disables it).
func NewStore(root NodeID, sortKey string) *Store {
	s := &Store{
		root:    root,
		nodes:   make(map[NodeID]*Node),
		nextSeq: 1,
		newID:   func() NodeID { return NodeID(uuid.NewString()) },
	}
	s.index = newIndex(root, sortKey, s.lookup)
	return s
}

// newStoreFromSnapshot builds a store from a decoded snapshot and rebuilds
// its index. Invalid node sets fail with ErrCorruptData.
func newStoreFromSnapshot(root NodeID, sortKey string, snap Snapshot) (*Store, error) {
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	if snap.RootID != root {
		return nil, corrupt("snapshot root sentinel %q does not match configured %q", snap.RootID, root)
	}
	s := NewStore(root, sortKey)
	for _, n := range snap.Nodes {
		c := n.Clone()
		s.nodes[c.ID] = &c
		if c.Seq >= s.nextSeq {
			s.nextSeq = c.Seq + 1
		}
	}
	if snap.NextSeq > s.nextSeq {
		s.nextSeq = snap.NextSeq
	}
	s.index.rebuild(s.nodes)
	return s, nil
}

func (s *Store) lookup(id NodeID) *Node {
	return s.nodes[id]
}

// Root returns the root sentinel.
func (s *Store) Root() NodeID { return s.root }

// Index returns the derived child index.
func (s *Store) Index() *Index { return s.index }

// Len returns the number of stored nodes.
func (s *Store) Len() int { return len(s.nodes) }

// Contains reports whether id names a stored node.
func (s *Store) Contains(id NodeID) bool {
	_, ok := s.nodes[id]
	return ok
}

// Get returns a copy of the node.
func (s *Store) Get(id NodeID) (Node, error) {
	n, ok := s.nodes[id]
	if !ok {
		return Node{}, ErrNodeNotFound
	}
	return n.Clone(), nil
}

// Snapshot returns every record sorted by identifier.
func (s *Store) Snapshot() Snapshot {
	nodes := make([]Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		nodes = append(nodes, n.Clone())
	}
	slices.SortFunc(nodes, func(a, b Node) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return Snapshot{
		Version: SnapshotVersion,
		RootID:  s.root,
		NextSeq: s.nextSeq,
		Nodes:   nodes,
	}
}

func (s *Store) parentExists(parent NodeID) bool {
	return parent == s.root || s.Contains(parent)
}

func (s *Store) generateID() (NodeID, error) {
	for range maxIDAttempts {
		id := s.newID()
		if id != "" && id != s.root && !s.Contains(id) {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: could not generate a unique identifier", ErrDuplicateIdentifier)
}

// Create adds a node under parent.
//
// # Inputs
//
//   - id: Requested identifier, or "" to generate one.
//   - parent: Parent identifier or the root sentinel.
//   - payload: Node attributes; copied.
//
// # Outputs
//
//   - Node: Copy of the created record.
//   - func(): Undo, removing the node again.
//   - error: ErrInvalidIdentifier, ErrDuplicateIdentifier, ErrParentNotFound
//     or ErrInvalidPayload.
func (s *Store) Create(id, parent NodeID, payload Payload) (Node, func(), error) {
	if id == s.root {
		return Node{}, nil, fmt.Errorf("%w: %q is the root sentinel", ErrInvalidIdentifier, id)
	}
	if id != "" && s.Contains(id) {
		return Node{}, nil, ErrDuplicateIdentifier
	}
	if !s.parentExists(parent) {
		return Node{}, nil, fmt.Errorf("%w: %q", ErrParentNotFound, parent)
	}
	if err := payload.Validate(); err != nil {
		return Node{}, nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if id == "" {
		generated, err := s.generateID()
		if err != nil {
			return Node{}, nil, err
		}
		id = generated
	}

	prevSeq := s.nextSeq
	n := &Node{ID: id, ParentID: parent, Seq: s.nextSeq, Payload: payload.Clone()}
	s.nextSeq++
	s.nodes[id] = n
	s.index.attach(parent, id)

	undo := func() {
		s.index.detach(parent, id)
		delete(s.nodes, id)
		s.nextSeq = prevSeq
	}
	return n.Clone(), undo, nil
}

// ReplacePayload swaps the payload of id, keeping its identity and parent.
func (s *Store) ReplacePayload(id NodeID, payload Payload) (Node, func(), error) {
	n, ok := s.nodes[id]
	if !ok {
		return Node{}, nil, ErrNodeNotFound
	}
	if err := payload.Validate(); err != nil {
		return Node{}, nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	old := n.Payload
	n.Payload = payload.Clone()
	s.index.reorder(n.ParentID)

	undo := func() {
		n.Payload = old
		s.index.reorder(n.ParentID)
	}
	return n.Clone(), undo, nil
}

// Move reattaches id under parent.
//
// # Outputs
//
//   - func(): Undo; nil when the node already sits under parent.
//   - error: ErrNodeNotFound, ErrParentNotFound or ErrCycleDetected.
func (s *Store) Move(id, parent NodeID) (Node, func(), error) {
	n, ok := s.nodes[id]
	if !ok {
		return Node{}, nil, ErrNodeNotFound
	}
	if !s.parentExists(parent) {
		return Node{}, nil, fmt.Errorf("%w: %q", ErrParentNotFound, parent)
	}
	if parent == id || s.index.IsAncestor(id, parent) {
		return Node{}, nil, fmt.Errorf("%w: %q is %q or one of its descendants", ErrCycleDetected, parent, id)
	}
	if n.ParentID == parent {
		return n.Clone(), nil, nil
	}
	old := n.ParentID
	s.relink(n, parent)

	undo := func() { s.relink(n, old) }
	return n.Clone(), undo, nil
}

func (s *Store) relink(n *Node, parent NodeID) {
	s.index.detach(n.ParentID, n.ID)
	n.ParentID = parent
	s.index.attach(parent, n.ID)
}

// Remove deletes id according to policy.
//
// # Outputs
//
//   - []NodeID: Removed identifiers in pre-order (the node first).
//   - func(): Undo, restoring removed nodes and reparented children.
//   - error: ErrInvalidPolicy, ErrNodeNotFound or ErrNodeHasChildren.
func (s *Store) Remove(id NodeID, policy ChildPolicy) ([]NodeID, func(), error) {
	if !policy.Valid() {
		return nil, nil, ErrInvalidPolicy
	}
	n, ok := s.nodes[id]
	if !ok {
		return nil, nil, ErrNodeNotFound
	}
	switch policy {
	case Reject:
		if s.index.HasChildren(id) {
			return nil, nil, ErrNodeHasChildren
		}
		return s.removeSubtree(n)
	case Cascade:
		return s.removeSubtree(n)
	default:
		return s.removeReparent(n)
	}
}

func (s *Store) removeSubtree(n *Node) ([]NodeID, func(), error) {
	var removed []*Node
	for c := range s.index.SubtreeOf(n.ID) {
		removed = append(removed, s.nodes[c.ID])
	}
	s.index.detach(n.ParentID, n.ID)
	ids := make([]NodeID, 0, len(removed))
	for _, r := range removed {
		s.index.forget(r.ID)
		delete(s.nodes, r.ID)
		ids = append(ids, r.ID)
	}

	undo := func() {
		// Pre-order guarantees every parent is back before its children.
		for _, r := range removed {
			s.nodes[r.ID] = r
			s.index.attach(r.ParentID, r.ID)
		}
	}
	return ids, undo, nil
}

func (s *Store) removeReparent(n *Node) ([]NodeID, func(), error) {
	children := s.index.ChildIDs(n.ID)
	grand := n.ParentID
	for _, cid := range children {
		s.relink(s.nodes[cid], grand)
	}
	s.index.detach(grand, n.ID)
	s.index.forget(n.ID)
	delete(s.nodes, n.ID)

	undo := func() {
		s.nodes[n.ID] = n
		s.index.attach(grand, n.ID)
		for _, cid := range children {
			s.relink(s.nodes[cid], n.ID)
		}
	}
	return []NodeID{n.ID}, undo, nil
}
