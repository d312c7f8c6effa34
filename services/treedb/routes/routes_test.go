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
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/treedb/services/treedb/observability"
	"github.com/AleutianAI/treedb/services/treedb/storage"
	"github.com/AleutianAI/treedb/services/treedb/tree"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func openEngine(t *testing.T, rec tree.Recorder) *tree.Engine {
	t.Helper()
	eng, err := tree.Open(context.Background(), tree.Options{Storage: storage.NewMemoryStore(), Metrics: rec})
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close(context.Background()) })
	return eng
}

func TestSetupRoutes_RegistersAll(t *testing.T) {
	router := gin.New()
	require.NoError(t, SetupRoutes(router, openEngine(t, nil), Options{DefaultPolicy: tree.Reject}))

	got := map[string]bool{}
	for _, r := range router.Routes() {
		got[r.Method+" "+r.Path] = true
	}
	for _, want := range []string{
		"GET /",
		"GET /health",
		"GET /metrics",
		"GET /v1/items",
		"POST /v1/items",
		"GET /v1/items/tree",
		"GET /v1/items/:id",
		"PUT /v1/items/:id",
		"DELETE /v1/items/:id",
		"GET /v1/items/:id/children",
		"GET /v1/items/:id/subtree",
		"POST /v1/items/:id/move",
	} {
		assert.True(t, got[want], "missing route %s", want)
	}
}

func TestSetupRoutes_RejectsInvalidDefaultPolicy(t *testing.T) {
	err := SetupRoutes(gin.New(), openEngine(t, nil), Options{})
	assert.ErrorIs(t, err, tree.ErrInvalidPolicy)
}

func TestSetupRoutes_TreeRouteBeatsIDParam(t *testing.T) {
	router := gin.New()
	eng := openEngine(t, nil)
	require.NoError(t, SetupRoutes(router, eng, Options{DefaultPolicy: tree.Cascade}))
	_, err := eng.Create(context.Background(), "tree", eng.RootID(), nil)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/v1/items/tree", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)
}

func TestSetupRoutes_MetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	eng := openEngine(t, observability.NewMetrics(reg))
	router := gin.New()
	require.NoError(t, SetupRoutes(router, eng, Options{DefaultPolicy: tree.Reject, Gatherer: reg}))

	_, err := eng.Create(context.Background(), "a", eng.RootID(), nil)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/metrics", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `treedb_engine_operations_total{op="create",result="ok"} 1`)
	assert.Contains(t, w.Body.String(), "treedb_engine_nodes 1")
}
