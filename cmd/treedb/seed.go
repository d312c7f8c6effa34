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
	"github.com/AleutianAI/treedb/services/treedb/tree"
)

// seedNode is one entry of the demo catalogue. Identifiers spell the path
// from the top-level node, e.g. "o=ผ้าปู,m=cotton,c=white".
type seedNode struct {
	id, parent tree.NodeID
	meta       string
}

// seedCatalogue is a bed-sheet catalogue: origin, then material, colour
// and size. Parents always precede their children.
var seedCatalogue = []seedNode{
	{"o=ผ้าปู", "", ""},
	{"o=ผ้าปู,m=cotton", "o=ผ้าปู", "meta_val"},
	{"o=ผ้าปู,m=silk", "o=ผ้าปู", "meta_val"},
	{"o=ผ้าปู,m=wool", "o=ผ้าปู", "meta_val"},
	{"o=ผ้าปู,m=linen", "o=ผ้าปู", "meta_val"},
	{"o=ผ้าปู,m=cotton,c=white", "o=ผ้าปู,m=cotton", "meta_val"},
	{"o=ผ้าปู,m=cotton,c=black", "o=ผ้าปู,m=cotton", "meta_val"},
	{"o=ผ้าปู,m=silk,c=red", "o=ผ้าปู,m=silk", "meta_val"},
	{"o=ผ้าปู,m=cotton,c=white,s=king", "o=ผ้าปู,m=cotton,c=white", "meta_val2"},
	{"o=ผ้าปู,m=cotton,c=white,s=queen", "o=ผ้าปู,m=cotton,c=white", "meta_val"},
	{"o=ผ้าปู,m=cotton,c=black,s=king", "o=ผ้าปู,m=cotton,c=black", "meta_val"},
}

// seedTree inserts the catalogue, skipping nodes that already exist, and
// returns how many were created.
func seedTree(ctx context.Context, eng *tree.Engine) (int, error) {
	created := 0
	for _, n := range seedCatalogue {
		parent := n.parent
		if parent == "" {
			parent = eng.RootID()
		}
		payload := tree.Payload{}
		if n.meta != "" {
			payload["meta1"] = tree.String(n.meta)
		}
		_, err := eng.Create(ctx, n.id, parent, payload)
		switch {
		case err == nil:
			created++
		case errors.Is(err, tree.ErrDuplicateIdentifier):
		default:
			return created, fmt.Errorf("seed %s: %w", n.id, err)
		}
	}
	return created, nil
}

func runSeed(cmd *cobra.Command, cfg config.TreeDBConfig) (err error) {
	ctx := cmd.Context()
	rt, err := openRuntime(ctx, cfg, cmd.ErrOrStderr(), runtimeOptions{})
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, rt.Close(context.Background())) }()

	created, err := seedTree(ctx, rt.engine)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d nodes (%d already present)\n",
		created, len(seedCatalogue)-created)
	return err
}
