// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/treedb/pkg/logging"
	"github.com/AleutianAI/treedb/services/treedb/datatypes"
	"github.com/AleutianAI/treedb/services/treedb/handlers"
	"github.com/AleutianAI/treedb/services/treedb/tree"
)

// Options carries the route-level settings.
type Options struct {
	// DefaultPolicy applies to DELETE requests without ?policy=.
	DefaultPolicy tree.ChildPolicy

	// Gatherer backs GET /metrics. Nil uses prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer

	// Logger receives handler logs. Nil uses logging.Nop().
	Logger *logging.Logger
}

// SetupRoutes registers every treedb route on router.
func SetupRoutes(router *gin.Engine, eng *tree.Engine, opts Options) error {
	if err := datatypes.RegisterBindings(); err != nil {
		return fmt.Errorf("register validators: %w", err)
	}
	if !opts.DefaultPolicy.Valid() {
		return fmt.Errorf("default delete policy: %w", tree.ErrInvalidPolicy)
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	router.GET("/", handlers.Greeting)
	router.GET("/health", handlers.HealthCheck(eng))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		items := v1.Group("/items")
		{
			items.GET("", handlers.ListItems(eng, logger))
			items.POST("", handlers.CreateItem(eng, logger))
			items.GET("/tree", handlers.GetTree(eng, logger))
			items.GET("/:id", handlers.GetItem(eng, logger))
			items.PUT("/:id", handlers.UpdateItem(eng, logger))
			items.DELETE("/:id", handlers.DeleteItem(eng, logger, opts.DefaultPolicy))
			items.GET("/:id/children", handlers.GetChildren(eng, logger))
			items.GET("/:id/subtree", handlers.GetSubtree(eng, logger))
			items.POST("/:id/move", handlers.MoveItem(eng, logger))
		}
	}
	return nil
}
