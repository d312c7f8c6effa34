// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the gin handlers of the treedb HTTP API.
//
// Every handler is a factory closing over the engine it serves; there is
// no package-level state.
package handlers

import (
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/treedb/pkg/logging"
	"github.com/AleutianAI/treedb/pkg/validation"
	"github.com/AleutianAI/treedb/services/treedb/datatypes"
	"github.com/AleutianAI/treedb/services/treedb/tree"
)

// pathID reads and validates the :id route parameter. It writes a 400 and
// returns false when the parameter is unusable.
func pathID(c *gin.Context) (tree.NodeID, bool) {
	id := c.Param("id")
	if err := validation.ValidateIdentifier(id); err != nil {
		badRequest(c, "invalid node id", err)
		return "", false
	}
	return tree.NodeID(id), true
}

// =============================================================================
// Queries
// =============================================================================

// GetTree returns the full nested tree.
func GetTree(eng *tree.Engine, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		view, err := eng.Tree(c.Request.Context())
		if err != nil {
			respondError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, datatypes.TreeResponse{Tree: view, Count: view.Count()})
	}
}

// ListItems returns every node in pre-order, or a single node when the
// node_id query parameter is present.
func ListItems(eng *tree.Engine, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var q datatypes.ItemQuery
		if err := c.ShouldBindQuery(&q); err != nil {
			badRequest(c, "invalid query", err)
			return
		}
		ctx := c.Request.Context()

		if q.NodeID != "" {
			n, err := eng.Get(ctx, tree.NodeID(q.NodeID))
			if err != nil {
				respondError(c, logger, err)
				return
			}
			c.JSON(http.StatusOK, datatypes.ItemResponse{Item: n})
			return
		}

		nodes, err := eng.List(ctx)
		if err != nil {
			respondError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, datatypes.NewItemList(nodes))
	}
}

// GetItem returns one node.
func GetItem(eng *tree.Engine, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		n, err := eng.Get(c.Request.Context(), id)
		if err != nil {
			respondError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, datatypes.ItemResponse{Item: n})
	}
}

// GetChildren returns the ordered children of a node. The root sentinel
// yields the top-level nodes.
func GetChildren(eng *tree.Engine, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		nodes, err := eng.Children(c.Request.Context(), id)
		if err != nil {
			respondError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, datatypes.NewItemList(nodes))
	}
}

// GetSubtree returns a node and its descendants in pre-order.
func GetSubtree(eng *tree.Engine, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		nodes, err := eng.Subtree(c.Request.Context(), id)
		if err != nil {
			respondError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, datatypes.NewItemList(nodes))
	}
}

// =============================================================================
// Mutations
// =============================================================================

// CreateItem inserts a node.
//
// # Description
//
// An omitted id is generated by the engine; an explicit empty id is
// rejected. An omitted parent_id attaches the node at top level.
//
// # Outputs
//
//   - 201 with the created node and a Location header.
//   - 400 for malformed bodies, 409 for duplicates, 422 for a missing parent.
func CreateItem(eng *tree.Engine, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.CreateItemRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request body", err)
			return
		}

		var id tree.NodeID
		if req.ID != nil {
			if *req.ID == "" {
				respondError(c, logger, tree.ErrInvalidIdentifier)
				return
			}
			id = tree.NodeID(*req.ID)
		}
		parent := tree.NodeID(req.ParentID)
		if parent == "" {
			parent = eng.RootID()
		}

		n, err := eng.Create(c.Request.Context(), id, parent, req.Payload)
		if err != nil {
			respondError(c, logger, err)
			return
		}
		logger.Info("node created", "id", n.ID, "parent", n.ParentID)
		c.Header("Location", "/v1/items/"+url.PathEscape(string(n.ID)))
		c.JSON(http.StatusCreated, datatypes.ItemResponse{Item: n})
	}
}

// UpdateItem replaces the payload of a node.
func UpdateItem(eng *tree.Engine, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		var req datatypes.UpdateItemRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request body", err)
			return
		}

		n, err := eng.UpdatePayload(c.Request.Context(), id, req.Payload)
		if err != nil {
			respondError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, datatypes.ItemResponse{Item: n})
	}
}

// MoveItem reattaches a node under a new parent.
func MoveItem(eng *tree.Engine, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		var req datatypes.MoveItemRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request body", err)
			return
		}

		n, err := eng.Move(c.Request.Context(), id, tree.NodeID(req.ParentID))
		if err != nil {
			respondError(c, logger, err)
			return
		}
		logger.Info("node moved", "id", n.ID, "parent", n.ParentID)
		c.JSON(http.StatusOK, datatypes.ItemResponse{Item: n})
	}
}

// DeleteItem removes a node. The ?policy= query parameter selects how
// children are handled and falls back to defaultPolicy.
func DeleteItem(eng *tree.Engine, logger *logging.Logger, defaultPolicy tree.ChildPolicy) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		var q datatypes.DeleteQuery
		if err := c.ShouldBindQuery(&q); err != nil {
			respondError(c, logger, tree.ErrInvalidPolicy)
			return
		}
		policy := defaultPolicy
		if q.Policy != "" {
			p, err := tree.ParsePolicy(q.Policy)
			if err != nil {
				respondError(c, logger, err)
				return
			}
			policy = p
		}

		removed, err := eng.Delete(c.Request.Context(), id, policy)
		if err != nil {
			respondError(c, logger, err)
			return
		}
		logger.Info("node deleted", "id", id, "policy", policy.String(), "removed", len(removed))
		c.JSON(http.StatusOK, datatypes.DeleteResponse{Deleted: removed, Policy: policy})
	}
}
