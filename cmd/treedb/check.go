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

	"github.com/spf13/cobra"

	"github.com/AleutianAI/treedb/cmd/treedb/config"
)

// runCheck opens the store read-only, which already rejects corrupt
// snapshots, then re-verifies the live index and prints the tree's shape.
func runCheck(cmd *cobra.Command, cfg config.TreeDBConfig) (err error) {
	ctx := cmd.Context()
	rt, err := openRuntime(ctx, cfg, cmd.ErrOrStderr(), runtimeOptions{readOnly: true})
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, rt.Close(context.Background())) }()

	stats, err := rt.engine.Check(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "backend:    %s (%s)\n", cfg.Storage.Backend, cfg.Storage.Path)
	fmt.Fprintf(out, "nodes:      %d\n", stats.Nodes)
	fmt.Fprintf(out, "top-level:  %d\n", stats.TopLevel)
	fmt.Fprintf(out, "leaves:     %d\n", stats.Leaves)
	fmt.Fprintf(out, "max depth:  %d\n", stats.MaxDepth)
	gen, ok, err := rt.generation(ctx)
	if err != nil {
		return err
	}
	if ok {
		fmt.Fprintf(out, "generation: %d\n", gen)
	}
	_, err = fmt.Fprintln(out, "OK")
	return err
}
