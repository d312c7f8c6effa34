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
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/AleutianAI/treedb/pkg/logging"
	"github.com/AleutianAI/treedb/services/treedb/storage"
)

var errDiskFull = errors.New("disk full")

type recordedOp struct {
	op  string
	err error
}

// fakeRecorder captures engine measurements.
type fakeRecorder struct {
	mu    sync.Mutex
	ops   []recordedOp
	saves int
	nodes int
}

func (r *fakeRecorder) ObserveOp(op string, err error, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, recordedOp{op, err})
}

func (r *fakeRecorder) ObserveSave(time.Duration, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves++
}

func (r *fakeRecorder) SetNodes(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes = n
}

func openEngine(t *testing.T, backend storage.Store, mutate ...func(*Options)) *Engine {
	t.Helper()
	opts := Options{Storage: backend}
	for _, m := range mutate {
		m(&opts)
	}
	e, err := Open(context.Background(), opts)
	require.NoError(t, err)
	return e
}

func mustCreate(t *testing.T, e *Engine, id, parent NodeID) Node {
	t.Helper()
	n, err := e.Create(context.Background(), id, parent, nil)
	require.NoError(t, err)
	return n
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("requires storage", func(t *testing.T) {
		_, err := Open(ctx, Options{})
		assert.Error(t, err)
	})

	t.Run("missing snapshot starts empty", func(t *testing.T) {
		mem := storage.NewMemoryStore()
		e := openEngine(t, mem)
		assert.Zero(t, e.Len())
		assert.Equal(t, DefaultRootID, e.RootID())
		assert.Zero(t, mem.Saves())
	})

	t.Run("bootstrap node on fresh store", func(t *testing.T) {
		mem := storage.NewMemoryStore()
		e := openEngine(t, mem, func(o *Options) { o.BootstrapID = "TreeDataBase" })
		n, err := e.Get(ctx, "TreeDataBase")
		require.NoError(t, err)
		assert.Equal(t, DefaultRootID, n.ParentID)
		assert.Equal(t, 1, mem.Saves())

		// Not recreated on reload.
		require.NoError(t, e.Close(ctx))
		again := openEngine(t, storage.NewMemoryStoreWith(mem.Bytes()), func(o *Options) { o.BootstrapID = "TreeDataBase" })
		assert.Equal(t, 1, again.Len())
	})

	t.Run("bootstrap save failure", func(t *testing.T) {
		mem := storage.NewMemoryStore()
		mem.FailSaves(errDiskFull)
		_, err := Open(ctx, Options{Storage: mem, BootstrapID: "b"})
		assert.ErrorIs(t, err, ErrPersistence)
		assert.ErrorIs(t, err, errDiskFull)
	})

	t.Run("bootstrap cannot be the sentinel", func(t *testing.T) {
		_, err := Open(ctx, Options{Storage: storage.NewMemoryStore(), BootstrapID: DefaultRootID})
		assert.ErrorIs(t, err, ErrInvalidIdentifier)
	})

	t.Run("corrupt snapshot fails", func(t *testing.T) {
		for name, data := range map[string]string{
			"garbage":       "not a snapshot",
			"cycle":         `{"version":1,"root":"root","nodes":[{"id":"a","parent_id":"a","seq":1,"payload":{}}]}`,
			"wrong version": `{"version":9,"root":"root","nodes":[]}`,
		} {
			t.Run(name, func(t *testing.T) {
				_, err := Open(ctx, Options{Storage: storage.NewMemoryStoreWith([]byte(data))})
				assert.ErrorIs(t, err, ErrCorruptData)
				var te *Error
				require.ErrorAs(t, err, &te)
				assert.Equal(t, "open", te.Op)
			})
		}
	})

	t.Run("root sentinel mismatch fails", func(t *testing.T) {
		mem := storage.NewMemoryStore()
		e := openEngine(t, mem)
		mustCreate(t, e, "a", e.RootID())
		require.NoError(t, e.Close(ctx))

		_, err := Open(ctx, Options{Storage: storage.NewMemoryStoreWith(mem.Bytes()), RootID: "TreeDataBase"})
		assert.ErrorIs(t, err, ErrCorruptData)
	})

	t.Run("load error is a persistence error", func(t *testing.T) {
		mem := storage.NewMemoryStore()
		require.NoError(t, mem.Close())
		_, err := Open(ctx, Options{Storage: mem})
		assert.ErrorIs(t, err, ErrPersistence)
		assert.ErrorIs(t, err, storage.ErrClosed)
	})
}

func TestEngine_WriteThrough(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemoryStore()
	e := openEngine(t, mem)

	a := mustCreate(t, e, "a", e.RootID())
	assert.Equal(t, 1, mem.Saves())

	_, err := e.UpdatePayload(ctx, a.ID, Payload{"name": String("A")})
	require.NoError(t, err)
	assert.Equal(t, 2, mem.Saves())

	snap, err := JSONCodec{}.Decode(mem.Bytes())
	require.NoError(t, err)
	live, err := e.Snapshot(ctx)
	require.NoError(t, err)
	assert.True(t, live.Equal(snap), "saved snapshot matches memory")

	_, err = e.Move(ctx, a.ID, e.RootID())
	require.NoError(t, err)
	assert.Equal(t, 2, mem.Saves(), "no-op move does not save")

	_, err = e.Get(ctx, "missing")
	assert.Equal(t, 2, mem.Saves())
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

// TestEngine_Scenario covers the reference A[B] flows: cascade and
// reparent deletes, plus failed create and move leaving the tree intact.
func TestEngine_Scenario(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) *Engine {
		e := openEngine(t, storage.NewMemoryStore())
		mustCreate(t, e, "A", e.RootID())
		mustCreate(t, e, "B", "A")
		return e
	}

	t.Run("tree view", func(t *testing.T) {
		e := setup(t)
		view, err := e.Tree(ctx)
		require.NoError(t, err)
		require.Len(t, view.Children, 1)
		assert.Equal(t, NodeID("A"), view.Children[0].ID)
		require.Len(t, view.Children[0].Children, 1)
		assert.Equal(t, NodeID("B"), view.Children[0].Children[0].ID)
		assert.Equal(t, 2, view.Count())
	})

	t.Run("cascade", func(t *testing.T) {
		e := setup(t)
		removed, err := e.Delete(ctx, "A", Cascade)
		require.NoError(t, err)
		assert.Equal(t, []NodeID{"A", "B"}, removed)
		assert.Zero(t, e.Len())
		_, err = e.Get(ctx, "B")
		assert.ErrorIs(t, err, ErrNodeNotFound)
	})

	t.Run("reparent", func(t *testing.T) {
		e := setup(t)
		_, err := e.Delete(ctx, "A", Reparent)
		require.NoError(t, err)
		top, err := e.Children(ctx, e.RootID())
		require.NoError(t, err)
		assert.Equal(t, []NodeID{"B"}, ids(top))
	})

	t.Run("reject", func(t *testing.T) {
		e := setup(t)
		_, err := e.Delete(ctx, "A", Reject)
		assert.ErrorIs(t, err, ErrNodeHasChildren)
		assert.Equal(t, 2, e.Len())
	})

	t.Run("create under missing parent", func(t *testing.T) {
		e := setup(t)
		before, _ := e.Snapshot(ctx)
		_, err := e.Create(ctx, "x", "missing", nil)
		assert.ErrorIs(t, err, ErrParentNotFound)
		after, _ := e.Snapshot(ctx)
		assert.Equal(t, before, after)
	})

	t.Run("move onto descendant", func(t *testing.T) {
		e := setup(t)
		before, _ := e.Snapshot(ctx)
		_, err := e.Move(ctx, "A", "B")
		assert.ErrorIs(t, err, ErrCycleDetected)
		after, _ := e.Snapshot(ctx)
		assert.Equal(t, before, after)

		var te *Error
		require.ErrorAs(t, err, &te)
		assert.Equal(t, "move", te.Op)
		assert.Equal(t, NodeID("A"), te.ID)
	})
}

func TestEngine_RollbackOnSaveFailure(t *testing.T) {
	ctx := context.Background()

	ops := []struct {
		name string
		run  func(e *Engine) error
	}{
		{"create", func(e *Engine) error {
			_, err := e.Create(ctx, "new", "a", Payload{"k": String("v")})
			return err
		}},
		{"update", func(e *Engine) error {
			_, err := e.UpdatePayload(ctx, "b", Payload{"sort_key": Number(-1)})
			return err
		}},
		{"move", func(e *Engine) error {
			_, err := e.Move(ctx, "b", "c")
			return err
		}},
		{"cascade", func(e *Engine) error {
			_, err := e.Delete(ctx, "a", Cascade)
			return err
		}},
		{"reparent", func(e *Engine) error {
			_, err := e.Delete(ctx, "a", Reparent)
			return err
		}},
	}
	for _, op := range ops {
		t.Run(op.name, func(t *testing.T) {
			mem := storage.NewMemoryStore()
			exp := logging.NewBufferedExporter()
			e := openEngine(t, mem, func(o *Options) {
				o.Logger = logging.New(logging.Config{Quiet: true, Exporter: exp})
			})
			mustCreate(t, e, "a", e.RootID())
			mustCreate(t, e, "b", "a")
			mustCreate(t, e, "d", "a")
			mustCreate(t, e, "c", e.RootID())

			before, err := e.Snapshot(ctx)
			require.NoError(t, err)
			beforeTree, err := e.Tree(ctx)
			require.NoError(t, err)
			savedBefore := mem.Bytes()

			mem.FailSaves(errDiskFull)
			err = op.run(e)
			assert.ErrorIs(t, err, ErrPersistence)
			assert.ErrorIs(t, err, errDiskFull)

			after, err := e.Snapshot(ctx)
			require.NoError(t, err)
			assert.Equal(t, before, after)
			afterTree, err := e.Tree(ctx)
			require.NoError(t, err)
			assert.Equal(t, beforeTree, afterTree)
			assert.Equal(t, savedBefore, mem.Bytes())
			_, err = e.Check(ctx)
			assert.NoError(t, err)
			assert.Contains(t, exp.Messages(logging.LevelError), "save failed, operation rolled back")

			mem.FailSaves(nil)
			assert.NoError(t, op.run(e), "operation succeeds once storage recovers")
		})
	}
}

func TestEngine_Queries(t *testing.T) {
	ctx := context.Background()
	e := openEngine(t, storage.NewMemoryStore())
	mustCreate(t, e, "a", e.RootID())
	mustCreate(t, e, "b", "a")
	mustCreate(t, e, "c", "b")
	mustCreate(t, e, "d", e.RootID())

	t.Run("get is idempotent", func(t *testing.T) {
		first, err := e.Get(ctx, "b")
		require.NoError(t, err)
		second, err := e.Get(ctx, "b")
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("children", func(t *testing.T) {
		top, err := e.Children(ctx, e.RootID())
		require.NoError(t, err)
		assert.Equal(t, []NodeID{"a", "d"}, ids(top))

		leaf, err := e.Children(ctx, "c")
		require.NoError(t, err)
		assert.NotNil(t, leaf)
		assert.Empty(t, leaf)

		_, err = e.Children(ctx, "missing")
		assert.ErrorIs(t, err, ErrNodeNotFound)
	})

	t.Run("subtree and list", func(t *testing.T) {
		sub, err := e.Subtree(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, []NodeID{"a", "b", "c"}, ids(sub))

		all, err := e.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []NodeID{"a", "b", "c", "d"}, ids(all))

		_, err = e.Subtree(ctx, "missing")
		assert.ErrorIs(t, err, ErrNodeNotFound)
	})

	t.Run("walk stops early", func(t *testing.T) {
		var seen []NodeID
		err := e.Walk(ctx, e.RootID(), func(n Node) bool {
			seen = append(seen, n.ID)
			return n.ID != "b"
		})
		require.NoError(t, err)
		assert.Equal(t, []NodeID{"a", "b"}, seen)
	})

	t.Run("check", func(t *testing.T) {
		st, err := e.Check(ctx)
		require.NoError(t, err)
		assert.Equal(t, Stats{Nodes: 4, TopLevel: 2, Leaves: 2, MaxDepth: 3}, st)
	})

	t.Run("empty tree", func(t *testing.T) {
		empty := openEngine(t, storage.NewMemoryStore())
		all, err := empty.List(ctx)
		require.NoError(t, err)
		assert.NotNil(t, all)
		assert.Empty(t, all)

		view, err := empty.Tree(ctx)
		require.NoError(t, err)
		assert.Equal(t, DefaultRootID, view.ID)
		assert.Empty(t, view.Children)
	})
}

func TestEngine_DeleteRequiresPolicy(t *testing.T) {
	e := openEngine(t, storage.NewMemoryStore())
	mustCreate(t, e, "a", e.RootID())
	_, err := e.Delete(context.Background(), "a", ChildPolicy(0))
	assert.ErrorIs(t, err, ErrInvalidPolicy)
	assert.Equal(t, 1, e.Len())
}

func TestEngine_Close(t *testing.T) {
	ctx := context.Background()

	t.Run("final save and closed errors", func(t *testing.T) {
		mem := storage.NewMemoryStore()
		e := openEngine(t, mem)
		mustCreate(t, e, "a", e.RootID())
		saves := mem.Saves()

		require.NoError(t, e.Close(ctx))
		assert.Equal(t, saves+1, mem.Saves())
		require.NoError(t, e.Close(ctx), "second close is a no-op")

		_, err := e.Get(ctx, "a")
		assert.ErrorIs(t, err, ErrClosed)
		_, err = e.Create(ctx, "b", e.RootID(), nil)
		assert.ErrorIs(t, err, ErrClosed)
	})

	t.Run("final save failure is reported", func(t *testing.T) {
		mem := storage.NewMemoryStore()
		e := openEngine(t, mem)
		mem.FailSaves(errDiskFull)
		err := e.Close(ctx)
		assert.ErrorIs(t, err, ErrPersistence)
		assert.ErrorIs(t, err, errDiskFull)
	})
}

func TestEngine_CancelledContext(t *testing.T) {
	e := openEngine(t, storage.NewMemoryStore())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Create(ctx, "a", e.RootID(), nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, e.Len())
}

func TestEngine_Metrics(t *testing.T) {
	rec := &fakeRecorder{}
	e := openEngine(t, storage.NewMemoryStore(), func(o *Options) { o.Metrics = rec })
	mustCreate(t, e, "a", e.RootID())
	_, err := e.Create(context.Background(), "a", e.RootID(), nil)
	require.Error(t, err)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.ops, 2)
	assert.Equal(t, "create", rec.ops[0].op)
	assert.NoError(t, rec.ops[0].err)
	assert.ErrorIs(t, rec.ops[1].err, ErrDuplicateIdentifier)
	assert.Equal(t, 1, rec.saves)
	assert.Equal(t, 1, rec.nodes)
}

func TestEngine_ReadOnly(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemoryStore()
	w := openEngine(t, mem)
	mustCreate(t, w, "a", w.RootID())
	require.NoError(t, w.Close(ctx))

	snap := storage.NewMemoryStoreWith(mem.Bytes())
	e := openEngine(t, snap, func(o *Options) { o.ReadOnly = true })
	assert.True(t, e.ReadOnly())

	_, err := e.Create(ctx, "b", e.RootID(), nil)
	assert.ErrorIs(t, err, ErrReadOnly)
	_, err = e.UpdatePayload(ctx, "a", Payload{"k": String("v")})
	assert.ErrorIs(t, err, ErrReadOnly)
	_, err = e.Delete(ctx, "a", Cascade)
	assert.ErrorIs(t, err, ErrReadOnly)

	n, err := e.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, NodeID("a"), n.ID)

	require.NoError(t, e.Close(ctx))
	assert.Zero(t, snap.Saves(), "read-only close does not save")

	t.Run("missing snapshot skips bootstrap", func(t *testing.T) {
		empty := storage.NewMemoryStore()
		e := openEngine(t, empty, func(o *Options) {
			o.ReadOnly = true
			o.BootstrapID = "boot"
		})
		assert.Zero(t, e.Len())
		require.NoError(t, e.Close(ctx))
		assert.Zero(t, empty.Saves())
	})
}

func TestEngine_Tracing(t *testing.T) {
	ctx := context.Background()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(ctx) })

	e := openEngine(t, storage.NewMemoryStore(), func(o *Options) { o.Tracer = tp.Tracer(TracerName) })
	mustCreate(t, e, "a", e.RootID())
	_, err := e.Get(ctx, "missing")
	require.Error(t, err)

	spans := rec.Ended()
	require.Len(t, spans, 2)

	assert.Equal(t, "tree.create", spans[0].Name())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Contains(t, spans[0].Attributes(), attribute.String("tree.node_id", "a"))

	assert.Equal(t, "tree.get", spans[1].Name())
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	require.Len(t, spans[1].Events(), 1)
	assert.Equal(t, "exception", spans[1].Events()[0].Name)
}

func TestEngine_FileBackendReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tree.yaml")

	for _, c := range codecs() {
		t.Run(c.Name(), func(t *testing.T) {
			fs, err := storage.OpenFile(storage.FileConfig{Path: path + "." + c.Name()})
			require.NoError(t, err)
			e := openEngine(t, fs, func(o *Options) { o.Codec = c })
			mustCreate(t, e, "a", e.RootID())
			_, err = e.Create(ctx, "b", "a", Payload{"sort_key": Number(1)})
			require.NoError(t, err)
			before, err := e.Snapshot(ctx)
			require.NoError(t, err)
			require.NoError(t, e.Close(ctx))

			fs, err = storage.OpenFile(storage.FileConfig{Path: path + "." + c.Name()})
			require.NoError(t, err)
			reopened := openEngine(t, fs, func(o *Options) { o.Codec = c })
			defer reopened.Close(ctx)

			after, err := reopened.Snapshot(ctx)
			require.NoError(t, err)
			assert.Equal(t, before, after)
		})
	}
}

func TestEngine_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	e := openEngine(t, storage.NewMemoryStore())
	parent := mustCreate(t, e, "p", e.RootID())

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for range 25 {
				_, err := e.Create(ctx, "", parent.ID, nil)
				assert.NoError(t, err)
			}
		}()
		go func() {
			defer wg.Done()
			for range 25 {
				_, err := e.Tree(ctx)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 201, e.Len())
	_, err := e.Check(ctx)
	assert.NoError(t, err)
}
