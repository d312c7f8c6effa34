// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command treedb serves and maintains a persistent tree of nodes.
//
// Usage:
//
//	treedb serve                    # run the HTTP API
//	treedb seed                     # load the demo tree
//	treedb dump [--json] [--watch]  # print the tree, optionally on every change
//	treedb check                    # verify invariants and print counts
//	treedb config [init <path>]     # print or write configuration
package main

import (
	"fmt"
	"os"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
