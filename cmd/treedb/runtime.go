// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AleutianAI/treedb/cmd/treedb/config"
	"github.com/AleutianAI/treedb/pkg/logging"
	"github.com/AleutianAI/treedb/services/treedb/observability"
	"github.com/AleutianAI/treedb/services/treedb/storage"
	"github.com/AleutianAI/treedb/services/treedb/storage/badger"
	"github.com/AleutianAI/treedb/services/treedb/tree"
)

// runtime bundles what every command needs: logger, storage-backed engine
// and, for serve, metrics.
type runtime struct {
	cfg     config.TreeDBConfig
	logger  *logging.Logger
	backend storage.Store
	engine  *tree.Engine
	metrics *observability.Metrics
}

// runtimeOptions selects what a command needs beyond the engine.
type runtimeOptions struct {
	// registerer receives the engine metrics. Nil disables metrics.
	registerer prometheus.Registerer

	// readOnly opens the engine without write access. The file backend
	// then skips the process lock so a running server is not disturbed.
	readOnly bool
}

// openRuntime builds the logger, storage backend and engine from cfg.
func openRuntime(ctx context.Context, cfg config.TreeDBConfig, stderr io.Writer, ro runtimeOptions) (*runtime, error) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: "treedb",
		JSON:    cfg.Logging.JSON,
		Output:  stderr,
	})

	rt := &runtime{cfg: cfg, logger: logger}
	if ro.registerer != nil {
		rt.metrics = observability.NewMetrics(ro.registerer)
	}

	rt.backend, err = openStorage(cfg.Storage, ro.readOnly, logger)
	if err != nil {
		_ = logger.Close()
		return nil, err
	}

	codec, err := tree.NewCodec(cfg.Storage.Codec)
	if err != nil {
		_ = rt.backend.Close()
		_ = logger.Close()
		return nil, err
	}
	opts := tree.Options{
		Storage:        rt.backend,
		Codec:          codec,
		RootID:         tree.NodeID(cfg.Tree.RootID),
		SortKey:        cfg.Tree.SortKey,
		DisableSortKey: cfg.Tree.DisableSortKey,
		BootstrapID:    tree.NodeID(cfg.Tree.BootstrapNode),
		Logger:         logger.With("component", "engine"),
		ReadOnly:       ro.readOnly,
	}
	if rt.metrics != nil {
		opts.Metrics = rt.metrics
	}
	rt.engine, err = tree.Open(ctx, opts)
	if err != nil {
		_ = rt.backend.Close()
		_ = logger.Close()
		return nil, err
	}
	return rt, nil
}

// openStorage returns the configured backend.
func openStorage(cfg config.StorageConfig, readOnly bool, logger *logging.Logger) (storage.Store, error) {
	switch cfg.Backend {
	case config.BackendFile:
		return storage.OpenFile(storage.FileConfig{
			Path:   cfg.Path,
			NoLock: readOnly,
			Logger: logger.With("component", "storage").Slog(),
		})
	case config.BackendBadger:
		bc := badger.DefaultConfig()
		bc.Path = cfg.Path
		bc.SyncWrites = cfg.SyncWrites
		bc.Logger = logger.Slog()
		return badger.Open(bc)
	case config.BackendMemory:
		logger.Warn("memory backend selected; nothing will be persisted")
		return storage.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// generation reports the backend's save counter when it keeps one.
func (r *runtime) generation(ctx context.Context) (uint64, bool, error) {
	g, ok := r.backend.(interface {
		Generation(context.Context) (uint64, error)
	})
	if !ok {
		return 0, false, nil
	}
	n, err := g.Generation(ctx)
	return n, true, err
}

// Close closes the engine (final save unless read-only, then backend
// close) and the logger.
func (r *runtime) Close(ctx context.Context) error {
	return errors.Join(r.engine.Close(ctx), r.logger.Close())
}
