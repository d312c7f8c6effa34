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
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/treedb/cmd/treedb/config"
	"github.com/AleutianAI/treedb/services/treedb/tree"
)

// dumpOptions are the dump command's flags.
type dumpOptions struct {
	asJSON bool
	watch  bool
}

func runDump(cmd *cobra.Command, cfg config.TreeDBConfig, opts dumpOptions) error {
	if opts.watch {
		return watchDump(cmd, cfg, opts.asJSON)
	}
	return dumpOnce(cmd.Context(), cmd, cfg, opts.asJSON)
}

// dumpOnce opens the store read-only and prints the tree.
func dumpOnce(ctx context.Context, cmd *cobra.Command, cfg config.TreeDBConfig, asJSON bool) (err error) {
	rt, err := openRuntime(ctx, cfg, cmd.ErrOrStderr(), runtimeOptions{readOnly: true})
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, rt.Close(context.Background())) }()

	view, err := rt.engine.Tree(ctx)
	if err != nil {
		return err
	}
	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	}
	return tree.Render(cmd.OutOrStdout(), view)
}

// watchDump prints the tree, then prints it again every time the snapshot
// file is replaced, until interrupted.
//
// # Description
//
// FileStore replaces the snapshot by renaming a temporary file over it,
// so the parent directory is watched and events are filtered by name.
// A render that fails (for example a hand-edited, invalid snapshot) is
// reported on stderr and the watch continues.
//
// # Limitations
//
//   - Only the file backend is supported.
func watchDump(cmd *cobra.Command, cfg config.TreeDBConfig, asJSON bool) error {
	if cfg.Storage.Backend != config.BackendFile {
		return fmt.Errorf("--watch requires the %q backend, got %q", config.BackendFile, cfg.Storage.Backend)
	}
	path, err := filepath.Abs(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("resolve storage path: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create storage directory: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	if err := dumpOnce(ctx, cmd, cfg, asJSON); err != nil {
		return err
	}

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path || event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			fmt.Fprintln(cmd.OutOrStdout())
			if err := dumpOnce(ctx, cmd, cfg, asJSON); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "dump: %v\n", err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "watch: %v\n", err)

		case <-ctx.Done():
			return nil
		}
	}
}
