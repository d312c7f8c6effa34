// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/treedb/pkg/logging"
	"github.com/AleutianAI/treedb/services/treedb/datatypes"
	"github.com/AleutianAI/treedb/services/treedb/tree"
)

// statusTable maps engine sentinel errors to HTTP status codes. The first
// matching entry wins.
var statusTable = []struct {
	err    error
	status int
}{
	{tree.ErrNodeNotFound, http.StatusNotFound},
	{tree.ErrDuplicateIdentifier, http.StatusConflict},
	{tree.ErrParentNotFound, http.StatusUnprocessableEntity},
	{tree.ErrCycleDetected, http.StatusConflict},
	{tree.ErrNodeHasChildren, http.StatusConflict},
	{tree.ErrInvalidIdentifier, http.StatusBadRequest},
	{tree.ErrInvalidPayload, http.StatusBadRequest},
	{tree.ErrInvalidPolicy, http.StatusBadRequest},
	{tree.ErrReadOnly, http.StatusForbidden},
	{tree.ErrPersistence, http.StatusServiceUnavailable},
	{tree.ErrClosed, http.StatusServiceUnavailable},
	{context.DeadlineExceeded, http.StatusGatewayTimeout},
	{context.Canceled, http.StatusServiceUnavailable},
}

// StatusFor returns the HTTP status for an engine error. Unknown errors
// map to 500.
func StatusFor(err error) int {
	for _, e := range statusTable {
		if errors.Is(err, e.err) {
			return e.status
		}
	}
	return http.StatusInternalServerError
}

// respondError writes the error response for err. Client errors echo the
// engine message; server errors do not expose internals.
func respondError(c *gin.Context, logger *logging.Logger, err error) {
	status := StatusFor(err)
	body := datatypes.ErrorResponse{Error: err.Error()}
	switch {
	case status == http.StatusInternalServerError:
		logger.Error("request failed", "method", c.Request.Method, "route", c.FullPath(), "error", err)
		body = datatypes.ErrorResponse{Error: "internal error"}
	case status >= http.StatusInternalServerError:
		logger.Error("request failed", "method", c.Request.Method, "route", c.FullPath(), "error", err)
		body = datatypes.ErrorResponse{Error: "storage unavailable", Details: err.Error()}
	default:
		logger.Debug("request rejected", "method", c.Request.Method, "route", c.FullPath(), "status", status, "error", err)
	}
	c.JSON(status, body)
}

// badRequest writes a 400 for malformed input that never reached the
// engine.
func badRequest(c *gin.Context, msg string, err error) {
	body := datatypes.ErrorResponse{Error: msg}
	if err != nil {
		body.Details = err.Error()
	}
	c.JSON(http.StatusBadRequest, body)
}
