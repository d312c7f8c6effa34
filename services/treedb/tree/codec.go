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
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// SnapshotVersion is the only persisted format version understood.
const SnapshotVersion = 1

// =============================================================================
// Snapshot
// =============================================================================

// Snapshot is the full persisted node set.
type Snapshot struct {
	Version int    `json:"version" yaml:"version"`
	RootID  NodeID `json:"root" yaml:"root"`
	NextSeq uint64 `json:"next_seq" yaml:"next_seq"`
	Nodes   []Node `json:"nodes" yaml:"nodes"`
}

// Validate checks the structural invariants of the node set.
//
// # Description
//
// A snapshot is rejected with ErrCorruptData when it has an unknown
// version, an empty root sentinel, an empty or sentinel node identifier,
// duplicate identifiers, a parent that is neither the sentinel nor a
// stored node, a cycle in the parent relation, or an invalid payload.
func (s Snapshot) Validate() error {
	if s.Version != SnapshotVersion {
		return corrupt("unsupported snapshot version %d", s.Version)
	}
	if s.RootID == "" {
		return corrupt("snapshot has no root sentinel")
	}
	parents := make(map[NodeID]NodeID, len(s.Nodes))
	for _, n := range s.Nodes {
		if n.ID == "" {
			return corrupt("node with empty identifier")
		}
		if n.ID == s.RootID {
			return corrupt("node %q uses the root sentinel as identifier", n.ID)
		}
		if _, dup := parents[n.ID]; dup {
			return corrupt("duplicate identifier %q", n.ID)
		}
		if err := n.Payload.Validate(); err != nil {
			return corrupt("node %q: %v", n.ID, err)
		}
		parents[n.ID] = n.ParentID
	}
	for _, n := range s.Nodes {
		if n.ParentID == s.RootID {
			continue
		}
		if _, ok := parents[n.ParentID]; !ok {
			return corrupt("node %q references missing parent %q", n.ID, n.ParentID)
		}
	}
	return checkForest(s.RootID, parents)
}

// checkForest rejects parent relations containing a cycle.
func checkForest(root NodeID, parents map[NodeID]NodeID) error {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[NodeID]int, len(parents))
	for start := range parents {
		var path []NodeID
		cur := start
		for cur != root && state[cur] == unvisited {
			state[cur] = visiting
			path = append(path, cur)
			cur = parents[cur]
		}
		if cur != root && state[cur] == visiting {
			return corrupt("cycle through node %q", cur)
		}
		for _, id := range path {
			state[id] = done
		}
	}
	return nil
}

// Equal reports order-independent equality of the node sets.
func (s Snapshot) Equal(o Snapshot) bool {
	if s.Version != o.Version || s.RootID != o.RootID || len(s.Nodes) != len(o.Nodes) {
		return false
	}
	byID := make(map[NodeID]Node, len(o.Nodes))
	for _, n := range o.Nodes {
		byID[n.ID] = n
	}
	for _, n := range s.Nodes {
		other, ok := byID[n.ID]
		if !ok || !n.Equal(other) {
			return false
		}
	}
	return true
}

// canonical returns a copy sorted by identifier with non-nil payloads.
func (s Snapshot) canonical() Snapshot {
	out := s
	out.Nodes = make([]Node, len(s.Nodes))
	for i, n := range s.Nodes {
		out.Nodes[i] = n.Clone()
	}
	slices.SortFunc(out.Nodes, func(a, b Node) int { return strings.Compare(string(a.ID), string(b.ID)) })
	return out
}

// =============================================================================
// Codec
// =============================================================================

// Codec converts snapshots to and from bytes.
//
// # Description
//
// Encode must be deterministic: the same node set always yields identical
// bytes regardless of the order of Snapshot.Nodes. Decode must return an
// error wrapping ErrCorruptData for any input that is not a valid
// snapshot, and must never return a partially valid snapshot.
type Codec interface {
	// Name returns the codec name used in configuration ("json", "yaml").
	Name() string
	Encode(s Snapshot) ([]byte, error)
	Decode(data []byte) (Snapshot, error)
}

// NewCodec returns the codec registered under name.
func NewCodec(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case "", "json":
		return JSONCodec{}, nil
	case "yaml", "yml":
		return YAMLCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

// JSONCodec stores snapshots as indented JSON.
type JSONCodec struct{}

// Name implements Codec.
func (JSONCodec) Name() string { return "json" }

// Encode implements Codec.
func (JSONCodec) Encode(s Snapshot) ([]byte, error) {
	data, err := json.MarshalIndent(s.canonical(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return append(data, '\n'), nil
}

// Decode implements Codec.
func (JSONCodec) Decode(data []byte) (Snapshot, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var s Snapshot
	if err := dec.Decode(&s); err != nil {
		return Snapshot{}, corrupt("decode json snapshot: %v", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Snapshot{}, corrupt("trailing data after json snapshot")
	}
	if err := s.Validate(); err != nil {
		return Snapshot{}, err
	}
	return s, nil
}

// YAMLCodec stores snapshots as YAML documents.
type YAMLCodec struct{}

// Name implements Codec.
func (YAMLCodec) Name() string { return "yaml" }

// Encode implements Codec.
func (YAMLCodec) Encode(s Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(s.canonical()); err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode implements Codec.
func (YAMLCodec) Decode(data []byte) (Snapshot, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var s Snapshot
	if err := dec.Decode(&s); err != nil {
		return Snapshot{}, corrupt("decode yaml snapshot: %v", err)
	}
	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return Snapshot{}, corrupt("multiple documents in yaml snapshot")
	}
	if err := s.Validate(); err != nil {
		return Snapshot{}, err
	}
	return s, nil
}
