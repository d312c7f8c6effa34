// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package treedb is the HTTP service in front of the tree engine.
//
// # Architecture
//
//	┌────────────┐   ┌─────────────────────────────┐   ┌─────────────┐
//	│ HTTP client│──▶│ gin: recovery, otelgin, log │──▶│ tree.Engine │
//	└────────────┘   │ routes → handlers           │   └──────┬──────┘
//	                 └─────────────────────────────┘          │ write-through
//	                                                   ┌──────▼──────┐
//	                                                   │   storage   │
//	                                                   └─────────────┘
//
// The service owns the router and HTTP server only. The engine is built by
// the caller and outlives the service; closing it is the caller's job.
package treedb

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/treedb/pkg/logging"
	"github.com/AleutianAI/treedb/services/treedb/routes"
	"github.com/AleutianAI/treedb/services/treedb/tree"
)

// =============================================================================
// Interface
// =============================================================================

// Service is a runnable treedb HTTP server.
type Service interface {
	// Run serves until Shutdown is called or the listener fails. It returns
	// nil after a clean Shutdown.
	Run() error

	// Router returns the configured gin engine, for tests.
	Router() *gin.Engine

	// Shutdown stops accepting requests and waits for in-flight ones.
	Shutdown(ctx context.Context) error
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds service options. Zero values take the defaults noted.
type Config struct {
	// Host is the listen address host. Default: all interfaces.
	Host string

	// Port is the HTTP port. Default: 12230
	Port int

	// DefaultPolicy applies to DELETE requests without ?policy=.
	// Default: tree.Reject
	DefaultPolicy tree.ChildPolicy

	// ServiceName names the otelgin spans. Default: "treedb"
	ServiceName string

	// GinMode is "debug", "release" or "test". Empty leaves gin's mode
	// as set by GIN_MODE.
	GinMode string

	// Gatherer backs /metrics. Default: prometheus.DefaultGatherer
	Gatherer prometheus.Gatherer

	// Logger receives request and handler logs. Default: logging.Nop()
	Logger *logging.Logger

	// ReadHeaderTimeout bounds header reads. Default: 10s
	ReadHeaderTimeout time.Duration
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12230
	}
	if cfg.DefaultPolicy == 0 {
		cfg.DefaultPolicy = tree.Reject
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "treedb"
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	if cfg.ReadHeaderTimeout == 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}
	return cfg
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service.
//
// # Thread Safety
//
// Run and Shutdown may be called from different goroutines.
type service struct {
	config Config
	router *gin.Engine

	mu     sync.Mutex
	server *http.Server
}

// New builds the service around eng.
//
// # Outputs
//
//   - Service: Ready to Run.
//   - error: Non-nil if eng is nil, the default policy is invalid, or
//     route setup fails.
func New(cfg Config, eng *tree.Engine) (Service, error) {
	if eng == nil {
		return nil, errors.New("treedb: nil engine")
	}
	s := &service{config: applyConfigDefaults(cfg)}
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}

	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(otelgin.Middleware(s.config.ServiceName))
	s.router.Use(requestLogger(s.config.Logger))

	err := routes.SetupRoutes(s.router, eng, routes.Options{
		DefaultPolicy: s.config.DefaultPolicy,
		Gatherer:      s.config.Gatherer,
		Logger:        s.config.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set up routes: %w", err)
	}
	return s, nil
}

func (s *service) Run() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.mu.Lock()
	if s.server != nil {
		s.mu.Unlock()
		return errors.New("treedb: service already running")
	}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
	}
	srv := s.server
	s.mu.Unlock()

	s.config.Logger.Info("Starting treedb server", "addr", addr,
		"default_policy", s.config.DefaultPolicy.String())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve %s: %w", addr, err)
	}
	return nil
}

func (s *service) Router() *gin.Engine {
	return s.router
}

func (s *service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	s.config.Logger.Info("Shutting down treedb server")
	return srv.Shutdown(ctx)
}

// requestLogger logs one line per request at Debug, or Warn for 5xx.
func requestLogger(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		args := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if status >= http.StatusInternalServerError {
			logger.Warn("request completed", args...)
			return
		}
		logger.Debug("request completed", args...)
	}
}
