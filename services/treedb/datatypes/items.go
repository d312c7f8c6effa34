// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes holds the request and response bodies of the treedb
// HTTP API.
package datatypes

import (
	"fmt"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/treedb/pkg/validation"
	"github.com/AleutianAI/treedb/services/treedb/tree"
)

// =============================================================================
// Requests
// =============================================================================

// CreateItemRequest is the body of POST /v1/items.
//
// ID is a pointer so an omitted id (server generates one) can be told
// apart from an explicit empty string, which is rejected.
type CreateItemRequest struct {
	ID       *string      `json:"id,omitempty" binding:"omitempty,node_id"`
	ParentID string       `json:"parent_id,omitempty" binding:"omitempty,node_id"`
	Payload  tree.Payload `json:"payload"`
}

// UpdateItemRequest is the body of PUT /v1/items/:id.
type UpdateItemRequest struct {
	Payload tree.Payload `json:"payload" binding:"required"`
}

// MoveItemRequest is the body of POST /v1/items/:id/move.
type MoveItemRequest struct {
	ParentID string `json:"parent_id" binding:"required,node_id"`
}

// ItemQuery binds the query string of GET /v1/items.
type ItemQuery struct {
	NodeID string `form:"node_id" binding:"omitempty,node_id"`
}

// DeleteQuery binds the query string of DELETE /v1/items/:id.
type DeleteQuery struct {
	Policy string `form:"policy"`
}

// =============================================================================
// Responses
// =============================================================================

// ItemResponse wraps a single node.
type ItemResponse struct {
	Item tree.Node `json:"item"`
}

// ItemListResponse is a pre-order list of nodes.
type ItemListResponse struct {
	Items []tree.Node `json:"items"`
	Count int         `json:"count"`
}

// TreeResponse is the nested view returned by GET /v1/items/tree.
type TreeResponse struct {
	Tree  *tree.TreeView `json:"tree"`
	Count int            `json:"count"`
}

// DeleteResponse lists the identifiers a delete removed.
type DeleteResponse struct {
	Deleted []tree.NodeID    `json:"deleted"`
	Policy  tree.ChildPolicy `json:"policy"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// NewItemList builds an ItemListResponse; nil becomes an empty list.
func NewItemList(items []tree.Node) ItemListResponse {
	if items == nil {
		items = []tree.Node{}
	}
	return ItemListResponse{Items: items, Count: len(items)}
}

// =============================================================================
// Binding setup
// =============================================================================

var (
	registerOnce sync.Once
	registerErr  error
)

// RegisterBindings installs the custom validation tags used by this
// package on gin's default validator. Safe to call more than once.
func RegisterBindings() error {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			registerErr = fmt.Errorf("unexpected gin validator engine %T", binding.Validator.Engine())
			return
		}
		registerErr = validation.RegisterValidators(v)
	})
	return registerErr
}
