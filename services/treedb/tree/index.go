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
	"cmp"
	"iter"
	"slices"
)

// Index is the parent→children adjacency derived from a Store.
//
// # Description
//
// Index holds identifiers only. Node records are resolved through the
// owning Store, so the Index can always be discarded and rebuilt.
// Each child list is kept sorted by the child order: explicit sort key
// first (numbers before strings, ascending), then creation sequence.
//
// # Thread Safety
//
// Not safe for concurrent use. The Engine lock guards every access,
// including iteration of sequences returned by SubtreeOf.
type Index struct {
	root     NodeID
	sortKey  string
	children map[NodeID][]NodeID
	lookup   func(NodeID) *Node
}

func newIndex(root NodeID, sortKey string, lookup func(NodeID) *Node) *Index {
	return &Index{
		root:     root,
		sortKey:  sortKey,
		children: make(map[NodeID][]NodeID),
		lookup:   lookup,
	}
}

// orderKey is the sortable projection of a node used for child order.
type orderKey struct {
	rank int // 0 numeric sort key, 1 string sort key, 2 none
	num  float64
	str  string
	seq  uint64
	id   NodeID
}

func (x *Index) keyOf(id NodeID) orderKey {
	k := orderKey{rank: 2, id: id}
	n := x.lookup(id)
	if n == nil {
		return k
	}
	k.seq = n.Seq
	if x.sortKey == "" {
		return k
	}
	if v, ok := n.Payload[x.sortKey]; ok {
		if f, ok := v.AsNumber(); ok {
			k.rank, k.num = 0, f
		} else if s, ok := v.AsString(); ok {
			k.rank, k.str = 1, s
		}
	}
	return k
}

func compareKeys(a, b orderKey) int {
	if c := cmp.Compare(a.rank, b.rank); c != 0 {
		return c
	}
	switch a.rank {
	case 0:
		if c := cmp.Compare(a.num, b.num); c != 0 {
			return c
		}
	case 1:
		if c := cmp.Compare(a.str, b.str); c != 0 {
			return c
		}
	}
	if c := cmp.Compare(a.seq, b.seq); c != 0 {
		return c
	}
	return cmp.Compare(a.id, b.id)
}

func (x *Index) compare(a, b NodeID) int {
	return compareKeys(x.keyOf(a), x.keyOf(b))
}

// attach inserts id into parent's child list at its ordered position.
func (x *Index) attach(parent, id NodeID) {
	list := x.children[parent]
	key := x.keyOf(id)
	pos, _ := slices.BinarySearchFunc(list, key, func(e NodeID, k orderKey) int {
		return compareKeys(x.keyOf(e), k)
	})
	x.children[parent] = slices.Insert(list, pos, id)
}

// detach removes id from parent's child list.
func (x *Index) detach(parent, id NodeID) {
	list := x.children[parent]
	if i := slices.Index(list, id); i >= 0 {
		list = slices.Delete(list, i, i+1)
	}
	if len(list) == 0 {
		delete(x.children, parent)
		return
	}
	x.children[parent] = list
}

// reorder re-sorts parent's child list after a sort key changed.
func (x *Index) reorder(parent NodeID) {
	if list, ok := x.children[parent]; ok {
		slices.SortStableFunc(list, x.compare)
	}
}

// forget drops the child list owned by id.
func (x *Index) forget(id NodeID) {
	delete(x.children, id)
}

// rebuild recomputes every child list from the given records.
func (x *Index) rebuild(nodes map[NodeID]*Node) {
	x.children = make(map[NodeID][]NodeID, len(nodes))
	for id, n := range nodes {
		x.children[n.ParentID] = append(x.children[n.ParentID], id)
	}
	for _, list := range x.children {
		slices.SortFunc(list, x.compare)
	}
}

// ChildIDs returns a copy of parent's ordered child identifiers.
func (x *Index) ChildIDs(parent NodeID) []NodeID {
	return slices.Clone(x.children[parent])
}

// HasChildren reports whether id has at least one child.
func (x *Index) HasChildren(id NodeID) bool {
	return len(x.children[id]) > 0
}

// ChildrenOf returns copies of parent's children in child order.
//
// A parent without children yields an empty, non-nil slice.
func (x *Index) ChildrenOf(parent NodeID) []Node {
	ids := x.children[parent]
	out := make([]Node, 0, len(ids))
	for _, id := range ids {
		if n := x.lookup(id); n != nil {
			out = append(out, n.Clone())
		}
	}
	return out
}

// SubtreeOf returns a lazy pre-order traversal rooted at id.
//
// # Description
//
// The node itself is yielded first, then each child subtree in child
// order. When id is the root sentinel the whole forest is traversed and
// the sentinel itself is not yielded. Every call produces a fresh
// traversal; the sequence can be ranged over any number of times.
//
// # Thread Safety
//
// The traversal reads the index while it runs. The caller must hold the
// engine lock for the whole range loop.
func (x *Index) SubtreeOf(id NodeID) iter.Seq[Node] {
	return func(yield func(Node) bool) {
		var stack []NodeID
		if id == x.root {
			stack = pushReversed(stack, x.children[id])
		} else if x.lookup(id) != nil {
			stack = append(stack, id)
		}
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			n := x.lookup(cur)
			if n == nil {
				continue
			}
			if !yield(n.Clone()) {
				return
			}
			stack = pushReversed(stack, x.children[cur])
		}
	}
}

func pushReversed(stack, ids []NodeID) []NodeID {
	for i := len(ids) - 1; i >= 0; i-- {
		stack = append(stack, ids[i])
	}
	return stack
}

// IsAncestor reports whether candidate is a strict ancestor of of.
//
// The walk follows parent links and is bounded by the number of indexed
// nodes, so a corrupted parent chain terminates instead of looping.
func (x *Index) IsAncestor(candidate, of NodeID) bool {
	if candidate == x.root {
		return x.lookup(of) != nil
	}
	n := x.lookup(of)
	limit := x.size()
	for steps := 0; n != nil && steps <= limit; steps++ {
		if n.ParentID == x.root {
			return false
		}
		if n.ParentID == candidate {
			return true
		}
		n = x.lookup(n.ParentID)
	}
	return false
}

func (x *Index) size() int {
	total := 0
	for _, list := range x.children {
		total += len(list)
	}
	return total
}
