// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for treedb.
//
// # Description
//
// Metrics cover engine operations (count and latency by operation and
// outcome), snapshot saves (count, latency, size) and the current node
// count. HTTP exposure is handled by the service's /metrics route.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/treedb/services/treedb/tree"
)

// =============================================================================
// Metric Definitions
// =============================================================================

const (
	metricsNamespace = "treedb"
	engineSubsystem  = "engine"
	storageSubsystem = "storage"
)

// Metrics holds the treedb Prometheus collectors and implements
// tree.Recorder.
type Metrics struct {
	// OperationsTotal counts engine operations.
	// Labels: op (create, get, move, ...), result (ok, or an error class)
	OperationsTotal *prometheus.CounterVec

	// OperationSeconds measures engine operation latency, including the
	// write-through save.
	// Labels: op
	OperationSeconds *prometheus.HistogramVec

	// SavesTotal counts snapshot saves.
	// Labels: result (ok, error)
	SavesTotal *prometheus.CounterVec

	// SaveSeconds measures encode plus storage write time.
	SaveSeconds prometheus.Histogram

	// SnapshotBytes is the size of the last successfully saved snapshot.
	SnapshotBytes prometheus.Gauge

	// Nodes is the current number of nodes.
	Nodes prometheus.Gauge
}

var _ tree.Recorder = (*Metrics)(nil)

// NewMetrics creates and registers the collectors on reg.
//
// # Inputs
//
//   - reg: Registry to register on. Use prometheus.DefaultRegisterer in
//     production and a fresh prometheus.NewRegistry() in tests.
//
// # Limitations
//
//   - Panics if called twice with the same registry (duplicate registration).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		OperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "operations_total",
				Help:      "Total engine operations by operation and result",
			},
			[]string{"op", "result"},
		),
		OperationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "operation_duration_seconds",
				Help:      "Engine operation latency in seconds",
				Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"op"},
		),
		SavesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: storageSubsystem,
				Name:      "saves_total",
				Help:      "Total snapshot saves by result",
			},
			[]string{"result"},
		),
		SaveSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: storageSubsystem,
				Name:      "save_duration_seconds",
				Help:      "Snapshot encode and write latency in seconds",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
		),
		SnapshotBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: storageSubsystem,
				Name:      "snapshot_bytes",
				Help:      "Size of the last saved snapshot in bytes",
			},
		),
		Nodes: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "nodes",
				Help:      "Current number of nodes in the tree",
			},
		),
	}
}

// ObserveOp implements tree.Recorder.
func (m *Metrics) ObserveOp(op string, err error, d time.Duration) {
	m.OperationsTotal.WithLabelValues(op, ResultLabel(err)).Inc()
	m.OperationSeconds.WithLabelValues(op).Observe(d.Seconds())
}

// ObserveSave implements tree.Recorder.
func (m *Metrics) ObserveSave(d time.Duration, size int, err error) {
	m.SaveSeconds.Observe(d.Seconds())
	if err != nil {
		m.SavesTotal.WithLabelValues("error").Inc()
		return
	}
	m.SavesTotal.WithLabelValues("ok").Inc()
	m.SnapshotBytes.Set(float64(size))
}

// SetNodes implements tree.Recorder.
func (m *Metrics) SetNodes(n int) {
	m.Nodes.Set(float64(n))
}

// ResultLabel maps an engine error to a bounded label value.
func ResultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, tree.ErrNodeNotFound):
		return "not_found"
	case errors.Is(err, tree.ErrDuplicateIdentifier):
		return "duplicate"
	case errors.Is(err, tree.ErrParentNotFound):
		return "parent_not_found"
	case errors.Is(err, tree.ErrCycleDetected):
		return "cycle"
	case errors.Is(err, tree.ErrNodeHasChildren):
		return "has_children"
	case errors.Is(err, tree.ErrPersistence):
		return "persistence"
	case errors.Is(err, tree.ErrInvalidIdentifier),
		errors.Is(err, tree.ErrInvalidPayload),
		errors.Is(err, tree.ErrInvalidPolicy):
		return "invalid"
	case errors.Is(err, tree.ErrClosed):
		return "closed"
	case errors.Is(err, tree.ErrReadOnly):
		return "read_only"
	default:
		return "error"
	}
}
