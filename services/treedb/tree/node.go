// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tree implements the treedb core: a forest of uniquely identified
// nodes with write-through persistence.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────┐
//	│                       Engine                         │
//	│  ┌────────────┐  ┌────────────┐  ┌────────────────┐  │
//	│  │   Store    │─▶│   Index    │  │ Codec+Storage  │  │
//	│  │ (records)  │  │ (children) │  │ (write-through)│  │
//	│  └────────────┘  └────────────┘  └────────────────┘  │
//	└──────────────────────────────────────────────────────┘
//
// The Store owns every node record. The Index keeps only identifiers and is
// rebuilt from the Store after a load. The Engine serializes mutations with
// a single RWMutex, saves after every mutation and rolls the in-memory state
// back when the save fails.
//
// # Usage
//
//	eng, err := tree.Open(ctx, tree.Options{
//	    Storage: fileStore,
//	    Codec:   tree.JSONCodec{},
//	    RootID:  "root",
//	})
//	if err != nil {
//	    return err
//	}
//	defer eng.Close(ctx)
//
//	a, _ := eng.Create(ctx, "a", eng.RootID(), tree.Payload{"name": tree.String("A")})
//	_, _ = eng.Create(ctx, "", a.ID, nil)
//	view, _ := eng.Tree(ctx)
package tree

// NodeID identifies a node. Identifiers are opaque to the engine.
type NodeID string

// DefaultRootID is the root sentinel used when Options.RootID is empty.
const DefaultRootID NodeID = "root"

// DefaultSortKey is the payload field consulted for explicit child ordering.
const DefaultSortKey = "sort_key"

// Node is a copy of one stored node record.
//
// Children are not part of the record; use Engine.Children.
type Node struct {
	ID       NodeID  `json:"id" yaml:"id"`
	ParentID NodeID  `json:"parent_id" yaml:"parent_id"`
	Seq      uint64  `json:"seq" yaml:"seq"`
	Payload  Payload `json:"payload" yaml:"payload"`
}

// Clone returns a deep copy of n.
func (n Node) Clone() Node {
	n.Payload = n.Payload.Clone()
	return n
}

// Equal reports whether two nodes carry identical data.
func (n Node) Equal(o Node) bool {
	return n.ID == o.ID && n.ParentID == o.ParentID && n.Seq == o.Seq && n.Payload.Equal(o.Payload)
}

// TreeView is one level of the nested tree returned by Engine.Tree.
//
// The top-level TreeView has ID equal to the root sentinel and a nil
// Payload; its Children are the top-level nodes.
type TreeView struct {
	ID       NodeID      `json:"id"`
	ParentID NodeID      `json:"parent_id,omitempty"`
	Payload  Payload     `json:"payload,omitempty"`
	Children []*TreeView `json:"children"`
}

// Count returns the number of nodes below v, excluding v itself.
func (v *TreeView) Count() int {
	n := 0
	for _, c := range v.Children {
		n += 1 + c.Count()
	}
	return n
}
