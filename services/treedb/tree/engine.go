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
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/treedb/pkg/logging"
	"github.com/AleutianAI/treedb/services/treedb/storage"
)

// TracerName is the instrumentation scope of engine spans.
const TracerName = "treedb.tree"

// Recorder receives engine measurements. Implemented by the
// observability package; nil disables recording.
type Recorder interface {
	// ObserveOp records one engine operation and its outcome.
	ObserveOp(op string, err error, d time.Duration)

	// ObserveSave records one snapshot save.
	ObserveSave(d time.Duration, size int, err error)

	// SetNodes reports the current node count.
	SetNodes(n int)
}

type nopRecorder struct{}

func (nopRecorder) ObserveOp(string, error, time.Duration) {}
func (nopRecorder) ObserveSave(time.Duration, int, error)  {}
func (nopRecorder) SetNodes(int)                           {}

// Options configures Open.
type Options struct {
	// Storage is the durable snapshot location. Required.
	Storage storage.Store

	// Codec encodes snapshots. Default: JSONCodec.
	Codec Codec

	// RootID is the root sentinel. Default: DefaultRootID.
	RootID NodeID

	// SortKey is the payload field used for explicit child order.
	// Default: DefaultSortKey.
	SortKey string

	// DisableSortKey orders children by creation only.
	DisableSortKey bool

	// BootstrapID, when set, names a top-level node created with an empty
	// payload the first time the store is opened without a snapshot.
	BootstrapID NodeID

	// Logger receives engine logs. Default: logging.Nop().
	Logger *logging.Logger

	// Metrics receives measurements. Optional.
	Metrics Recorder

	// Tracer starts one span per operation. Default: the global provider's
	// TracerName tracer.
	Tracer trace.Tracer

	// ReadOnly rejects mutations with ErrReadOnly and makes Close skip the
	// final save. A missing snapshot opens an empty tree and the bootstrap
	// node is not created.
	ReadOnly bool
}

// Engine is the tree database.
//
// # Description
//
// Engine composes the Store, its Index, a Codec and a storage backend.
// Every mutation is one logical transaction: validate, mutate in memory,
// encode, save. When the save fails the in-memory change is undone and
// the caller receives an error wrapping ErrPersistence, so memory and
// storage never diverge by more than the failed operation.
//
// # Thread Safety
//
// Safe for concurrent use. Mutations hold the write lock through the
// save; reads share the read lock.
type Engine struct {
	mu       sync.RWMutex
	store    *Store
	backend  storage.Store
	codec    Codec
	logger   *logging.Logger
	metrics  Recorder
	tracer   trace.Tracer
	readOnly bool
	closed   bool
}

// Open loads the engine from opts.Storage.
//
// # Description
//
// A backend without a snapshot starts an empty tree, seeded with the
// bootstrap node when configured. A snapshot that fails to decode or
// validate aborts Open with an error wrapping ErrCorruptData; nothing is
// partially loaded.
//
// # Inputs
//
//   - ctx: Bounds the initial load and bootstrap save.
//   - opts: Engine options. Storage is required.
//
// # Outputs
//
//   - *Engine: The open engine. Call Close to persist and release storage.
//   - error: ErrCorruptData, ErrPersistence or a configuration error.
func Open(ctx context.Context, opts Options) (*Engine, error) {
	if opts.Storage == nil {
		return nil, errors.New("tree: storage is required")
	}
	if opts.Codec == nil {
		opts.Codec = JSONCodec{}
	}
	if opts.RootID == "" {
		opts.RootID = DefaultRootID
	}
	sortKey := opts.SortKey
	if sortKey == "" {
		sortKey = DefaultSortKey
	}
	if opts.DisableSortKey {
		sortKey = ""
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Metrics == nil {
		opts.Metrics = nopRecorder{}
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(TracerName)
	}
	if opts.BootstrapID == opts.RootID {
		return nil, opError("open", opts.BootstrapID, fmt.Errorf("%w: bootstrap node cannot be the root sentinel", ErrInvalidIdentifier))
	}

	e := &Engine{
		backend:  opts.Storage,
		codec:    opts.Codec,
		logger:   opts.Logger.With("component", "tree"),
		metrics:  opts.Metrics,
		tracer:   opts.Tracer,
		readOnly: opts.ReadOnly,
	}

	data, err := opts.Storage.Load(ctx)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		e.store = NewStore(opts.RootID, sortKey)
		if opts.BootstrapID != "" && !opts.ReadOnly {
			if err := e.bootstrap(ctx, opts.BootstrapID); err != nil {
				return nil, err
			}
		}
		e.logger.Info("tree store initialized", "root", opts.RootID, "codec", opts.Codec.Name(),
			"bootstrap", opts.BootstrapID, "read_only", opts.ReadOnly)
	case err != nil:
		return nil, opError("open", "", fmt.Errorf("%w: load snapshot: %w", ErrPersistence, err))
	default:
		snap, err := opts.Codec.Decode(data)
		if err != nil {
			return nil, opError("open", "", err)
		}
		store, err := newStoreFromSnapshot(opts.RootID, sortKey, snap)
		if err != nil {
			return nil, opError("open", "", err)
		}
		e.store = store
		e.logger.Info("tree store loaded", "root", opts.RootID, "codec", opts.Codec.Name(),
			"nodes", store.Len(), "bytes", len(data))
	}
	e.metrics.SetNodes(e.store.Len())
	return e, nil
}

func (e *Engine) bootstrap(ctx context.Context, id NodeID) error {
	_, undo, err := e.store.Create(id, e.store.Root(), nil)
	if err != nil {
		return opError("bootstrap", id, err)
	}
	if err := e.persist(ctx); err != nil {
		undo()
		return opError("bootstrap", id, err)
	}
	return nil
}

// ReadOnly reports whether the engine rejects mutations.
func (e *Engine) ReadOnly() bool {
	return e.readOnly
}

// RootID returns the root sentinel.
func (e *Engine) RootID() NodeID {
	return e.store.Root()
}

// =============================================================================
// Transactions
// =============================================================================

// startSpan opens the span for one operation.
func (e *Engine) startSpan(ctx context.Context, op string, id NodeID) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{attribute.String("tree.op", op)}
	if id != "" {
		attrs = append(attrs, attribute.String("tree.node_id", string(id)))
	}
	return e.tracer.Start(ctx, "tree."+op, trace.WithAttributes(attrs...))
}

// endSpan records err on span and ends it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// persist encodes the current state and saves it. Callers hold the
// write lock.
func (e *Engine) persist(ctx context.Context) error {
	start := time.Now()
	data, err := e.codec.Encode(e.store.Snapshot())
	if err != nil {
		e.metrics.ObserveSave(time.Since(start), 0, err)
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	err = e.backend.Save(ctx, data)
	e.metrics.ObserveSave(time.Since(start), len(data), err)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return nil
}

// mutate runs change under the write lock and saves the result.
//
// change returns an undo function, or nil when it made no change; in
// that case nothing is saved.
func (e *Engine) mutate(ctx context.Context, op string, id NodeID, change func() (func(), error)) (err error) {
	start := time.Now()
	ctx, span := e.startSpan(ctx, op, id)
	defer func() {
		e.metrics.ObserveOp(op, err, time.Since(start))
		endSpan(span, err)
	}()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return opError(op, id, ErrClosed)
	}
	if e.readOnly {
		return opError(op, id, ErrReadOnly)
	}
	if err := ctx.Err(); err != nil {
		return opError(op, id, err)
	}

	undo, err := change()
	if err != nil {
		e.logger.Debug("tree operation rejected", "op", op, "id", id, "error", err)
		return opError(op, id, err)
	}
	if undo == nil {
		return nil
	}
	if err := e.persist(ctx); err != nil {
		undo()
		e.logger.Error("save failed, operation rolled back", "op", op, "id", id, "error", err)
		return opError(op, id, err)
	}
	e.metrics.SetNodes(e.store.Len())
	e.logger.Debug("tree operation applied", "op", op, "id", id, "nodes", e.store.Len())
	return nil
}

// read runs fn under the read lock.
func (e *Engine) read(ctx context.Context, op string, id NodeID, fn func() error) (err error) {
	start := time.Now()
	ctx, span := e.startSpan(ctx, op, id)
	defer func() {
		e.metrics.ObserveOp(op, err, time.Since(start))
		endSpan(span, err)
	}()

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return opError(op, id, ErrClosed)
	}
	if err := ctx.Err(); err != nil {
		return opError(op, id, err)
	}
	if err := fn(); err != nil {
		return opError(op, id, err)
	}
	return nil
}

// =============================================================================
// Mutations
// =============================================================================

// Create adds a node.
//
// # Inputs
//
//   - id: Requested identifier, or "" to generate a UUID.
//   - parent: An existing node or the root sentinel.
//   - payload: Node attributes; copied.
//
// # Outputs
//
//   - Node: The created node, including its assigned identifier.
//   - error: ErrInvalidIdentifier, ErrDuplicateIdentifier,
//     ErrParentNotFound, ErrInvalidPayload or ErrPersistence.
func (e *Engine) Create(ctx context.Context, id, parent NodeID, payload Payload) (Node, error) {
	var created Node
	err := e.mutate(ctx, "create", id, func() (func(), error) {
		n, undo, err := e.store.Create(id, parent, payload)
		created = n
		return undo, err
	})
	if err != nil {
		return Node{}, err
	}
	return created, nil
}

// UpdatePayload replaces the payload of id. Identity, parent and
// sequence are preserved.
func (e *Engine) UpdatePayload(ctx context.Context, id NodeID, payload Payload) (Node, error) {
	var updated Node
	err := e.mutate(ctx, "update", id, func() (func(), error) {
		n, undo, err := e.store.ReplacePayload(id, payload)
		updated = n
		return undo, err
	})
	if err != nil {
		return Node{}, err
	}
	return updated, nil
}

// Move reattaches id under parent. Moving a node to its current parent
// succeeds without saving.
//
// # Outputs
//
//   - error: ErrNodeNotFound, ErrParentNotFound, ErrCycleDetected or
//     ErrPersistence.
func (e *Engine) Move(ctx context.Context, id, parent NodeID) (Node, error) {
	var moved Node
	err := e.mutate(ctx, "move", id, func() (func(), error) {
		n, undo, err := e.store.Move(id, parent)
		moved = n
		return undo, err
	})
	if err != nil {
		return Node{}, err
	}
	return moved, nil
}

// Delete removes id according to policy and returns the removed
// identifiers, the node itself first.
//
// # Inputs
//
//   - policy: Cascade, Reparent or Reject. The zero value is rejected.
//
// # Outputs
//
//   - []NodeID: Removed identifiers in pre-order.
//   - error: ErrInvalidPolicy, ErrNodeNotFound, ErrNodeHasChildren or
//     ErrPersistence.
func (e *Engine) Delete(ctx context.Context, id NodeID, policy ChildPolicy) ([]NodeID, error) {
	var removed []NodeID
	err := e.mutate(ctx, "delete", id, func() (func(), error) {
		ids, undo, err := e.store.Remove(id, policy)
		removed = ids
		return undo, err
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// =============================================================================
// Queries
// =============================================================================

// Get returns a copy of one node.
func (e *Engine) Get(ctx context.Context, id NodeID) (Node, error) {
	var n Node
	err := e.read(ctx, "get", id, func() error {
		var err error
		n, err = e.store.Get(id)
		return err
	})
	return n, err
}

// Children returns the ordered children of id. id may be the root
// sentinel, which yields the top-level nodes.
func (e *Engine) Children(ctx context.Context, id NodeID) ([]Node, error) {
	var out []Node
	err := e.read(ctx, "children", id, func() error {
		if id != e.store.Root() && !e.store.Contains(id) {
			return ErrNodeNotFound
		}
		out = e.store.Index().ChildrenOf(id)
		return nil
	})
	return out, err
}

// Subtree returns id and all its descendants in pre-order. For the root
// sentinel it returns every node.
func (e *Engine) Subtree(ctx context.Context, id NodeID) ([]Node, error) {
	var out []Node
	err := e.read(ctx, "subtree", id, func() error {
		if id != e.store.Root() && !e.store.Contains(id) {
			return ErrNodeNotFound
		}
		out = slices.Collect(e.store.Index().SubtreeOf(id))
		if out == nil {
			out = []Node{}
		}
		return nil
	})
	return out, err
}

// List returns every node in pre-order from the root.
func (e *Engine) List(ctx context.Context) ([]Node, error) {
	return e.Subtree(ctx, e.store.Root())
}

// Walk calls fn for id and each descendant in pre-order until fn returns
// false. The read lock is held for the whole walk; fn must not call back
// into the engine's mutating methods.
func (e *Engine) Walk(ctx context.Context, id NodeID, fn func(Node) bool) error {
	return e.read(ctx, "walk", id, func() error {
		if id != e.store.Root() && !e.store.Contains(id) {
			return ErrNodeNotFound
		}
		for n := range e.store.Index().SubtreeOf(id) {
			if !fn(n) {
				break
			}
		}
		return nil
	})
}

// Tree returns the whole forest nested under the root sentinel.
func (e *Engine) Tree(ctx context.Context) (*TreeView, error) {
	root := &TreeView{ID: e.store.Root(), Children: []*TreeView{}}
	err := e.read(ctx, "tree", "", func() error {
		views := map[NodeID]*TreeView{root.ID: root}
		for n := range e.store.Index().SubtreeOf(root.ID) {
			v := &TreeView{ID: n.ID, ParentID: n.ParentID, Payload: n.Payload, Children: []*TreeView{}}
			views[n.ID] = v
			// Pre-order visits every parent before its children.
			parent := views[n.ParentID]
			parent.Children = append(parent.Children, v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return root, nil
}

// Len returns the number of nodes.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store.Len()
}

// Snapshot returns a deterministic copy of the full node set.
func (e *Engine) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := e.read(ctx, "snapshot", "", func() error {
		snap = e.store.Snapshot()
		return nil
	})
	return snap, err
}

// Stats summarizes the shape of the tree.
type Stats struct {
	Nodes    int `json:"nodes"`
	TopLevel int `json:"top_level"`
	Leaves   int `json:"leaves"`
	MaxDepth int `json:"max_depth"`
}

// Check re-validates the in-memory state and returns its shape.
//
// # Description
//
// The node set is validated as if it had just been loaded, and the live
// child index is compared with one rebuilt from scratch. Any difference
// is reported as ErrCorruptData.
func (e *Engine) Check(ctx context.Context) (Stats, error) {
	var st Stats
	err := e.read(ctx, "check", "", func() error {
		snap := e.store.Snapshot()
		if err := snap.Validate(); err != nil {
			return err
		}
		rebuilt, err := newStoreFromSnapshot(e.store.Root(), e.store.Index().sortKey, snap)
		if err != nil {
			return err
		}
		live := e.store.Index()
		ids := append([]NodeID{e.store.Root()}, nodeIDs(snap.Nodes)...)
		for _, id := range ids {
			if !slices.Equal(live.ChildIDs(id), rebuilt.Index().ChildIDs(id)) {
				return corrupt("child index of %q is out of date", id)
			}
		}
		st = shape(e.store)
		return nil
	})
	return st, err
}

func nodeIDs(nodes []Node) []NodeID {
	out := make([]NodeID, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID
	}
	return out
}

func shape(s *Store) Stats {
	st := Stats{Nodes: s.Len(), TopLevel: len(s.Index().ChildIDs(s.Root()))}
	depth := map[NodeID]int{s.Root(): 0}
	for n := range s.Index().SubtreeOf(s.Root()) {
		d := depth[n.ParentID] + 1
		depth[n.ID] = d
		st.MaxDepth = max(st.MaxDepth, d)
		if !s.Index().HasChildren(n.ID) {
			st.Leaves++
		}
	}
	return st
}

// =============================================================================
// Lifecycle
// =============================================================================

// Close saves a final snapshot and closes the storage backend. A
// read-only engine only closes the backend. Further calls return
// ErrClosed; a second Close is a no-op.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	var saveErr error
	if !e.readOnly {
		saveErr = e.persist(ctx)
		if saveErr != nil {
			e.logger.Error("final save failed", "error", saveErr)
		}
	}
	closeErr := e.backend.Close()
	if closeErr != nil {
		closeErr = fmt.Errorf("%w: close storage: %w", ErrPersistence, closeErr)
	}
	e.logger.Info("tree store closed", "nodes", e.store.Len())
	if err := errors.Join(saveErr, closeErr); err != nil {
		return opError("close", "", err)
	}
	return nil
}
