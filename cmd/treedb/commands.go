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
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/treedb/cmd/treedb/config"
)

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	configPath string
	storage    string
	logLevel   string
}

// load resolves the effective configuration: file, then environment, then
// flags.
func (f *globalFlags) load() (config.TreeDBConfig, error) {
	cfg, err := config.Load(f.configPath, os.Getenv)
	if err != nil {
		return config.TreeDBConfig{}, err
	}
	if f.storage != "" {
		cfg.Storage.Path = f.storage
	}
	if f.logLevel != "" {
		cfg.Logging.Level = f.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return config.TreeDBConfig{}, err
	}
	return cfg, nil
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:           "treedb",
		Short:         "A persistent hierarchical node store with an HTTP API",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to a treedb YAML config file")
	rootCmd.PersistentFlags().StringVar(&flags.storage, "storage", "", "storage path (overrides storage.path)")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn or error")

	rootCmd.AddCommand(
		newServeCmd(flags),
		newSeedCmd(flags),
		newDumpCmd(flags),
		newCheckCmd(flags),
		newConfigCmd(flags),
	)
	return rootCmd
}

func newServeCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			return runServe(cmd, cfg)
		},
	}
}

func newSeedCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Load the demo bed-sheet catalogue into the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			return runSeed(cmd, cfg)
		},
	}
}

func newDumpCmd(flags *globalFlags) *cobra.Command {
	var opts dumpOptions
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print the tree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			return runDump(cmd, cfg, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print the nested tree as JSON")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "print again whenever the snapshot file changes (file backend)")
	return cmd
}

func newCheckCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify the stored tree and print its shape",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			return runCheck(cmd, cfg)
		},
	}
}

func newConfigCmd(flags *globalFlags) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			data, err := config.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	configCmd.AddCommand(&cobra.Command{
		Use:   "init <path>",
		Short: "Write a default config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteDefault(args[0]); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "Wrote default config to %s\n", args[0])
			return err
		},
	})
	return configCmd
}
