// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package observability

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/treedb/services/treedb/storage"
	"github.com/AleutianAI/treedb/services/treedb/tree"
)

func TestResultLabel(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{tree.ErrNodeNotFound, "not_found"},
		{&tree.Error{Op: "create", Err: tree.ErrDuplicateIdentifier}, "duplicate"},
		{fmt.Errorf("%w: disk", tree.ErrPersistence), "persistence"},
		{tree.ErrInvalidPolicy, "invalid"},
		{tree.ErrReadOnly, "read_only"},
		{errors.New("other"), "error"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, ResultLabel(tt.err))
		})
	}
}

func TestMetrics_Recorder(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveOp("create", nil, time.Millisecond)
	m.ObserveOp("create", tree.ErrParentNotFound, time.Millisecond)
	m.ObserveSave(time.Millisecond, 128, nil)
	m.ObserveSave(time.Millisecond, 0, errors.New("disk full"))
	m.SetNodes(7)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.OperationsTotal.WithLabelValues("create", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OperationsTotal.WithLabelValues("create", "parent_not_found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SavesTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SavesTotal.WithLabelValues("error")))
	assert.Equal(t, 128.0, testutil.ToFloat64(m.SnapshotBytes))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.Nodes))
}

func TestMetrics_WiredIntoEngine(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	ctx := context.Background()

	e, err := tree.Open(ctx, tree.Options{Storage: storage.NewMemoryStore(), Metrics: m})
	require.NoError(t, err)
	_, err = e.Create(ctx, "a", e.RootID(), nil)
	require.NoError(t, err)
	_, err = e.Get(ctx, "missing")
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Nodes))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OperationsTotal.WithLabelValues("get", "not_found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SavesTotal.WithLabelValues("ok")))

	count, err := testutil.GatherAndCount(reg, "treedb_engine_operations_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestNewMetrics_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)
	assert.Panics(t, func() { NewMetrics(reg) })
}
