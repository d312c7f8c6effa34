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
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/treedb/cmd/treedb/config"
	"github.com/AleutianAI/treedb/services/treedb"
	"github.com/AleutianAI/treedb/services/treedb/telemetry"
)

const shutdownTimeout = 10 * time.Second

// runServe starts tracing, the engine and the HTTP service, and tears them
// down in reverse order on SIGINT or SIGTERM.
func runServe(cmd *cobra.Command, cfg config.TreeDBConfig) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(ctx, cfg, cmd.ErrOrStderr(), runtimeOptions{registerer: prometheus.DefaultRegisterer})
	if err != nil {
		return err
	}
	logger := rt.logger

	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "treedb",
		ServiceVersion: version,
		Exporter:       cfg.Telemetry.Exporter,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		_ = rt.Close(context.Background())
		return err
	}

	policy, err := cfg.DeletePolicy()
	if err != nil {
		_ = rt.Close(context.Background())
		return err
	}
	svc, err := treedb.New(treedb.Config{
		Host:          cfg.Server.Host,
		Port:          cfg.Server.Port,
		DefaultPolicy: policy,
		GinMode:       cfg.Server.GinMode,
		Gatherer:      prometheus.DefaultGatherer,
		Logger:        logger.With("component", "http"),
	}, rt.engine)
	if err != nil {
		_ = rt.Close(context.Background())
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(svc.Run)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return svc.Shutdown(shutdownCtx)
	})
	serveErr := g.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	tracingErr := shutdownTracing(closeCtx)
	if tracingErr != nil {
		logger.Warn("trace exporter shutdown failed", "error", tracingErr)
	}
	logger.Info("treedb stopped")
	return errors.Join(serveErr, rt.Close(closeCtx))
}
