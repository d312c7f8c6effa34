// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/treedb/pkg/logging"
	"github.com/AleutianAI/treedb/pkg/validation"
	"github.com/AleutianAI/treedb/services/treedb/telemetry"
	"github.com/AleutianAI/treedb/services/treedb/tree"
)

// CurrentConfigVersion is written into new config files.
const CurrentConfigVersion = "1"

// Storage backends.
const (
	BackendFile   = "file"
	BackendBadger = "badger"
	BackendMemory = "memory"
)

type TreeDBConfig struct {
	Meta MetaConfig `yaml:"meta"`

	// Storage: where and how the snapshot is persisted
	Storage StorageConfig `yaml:"storage"`

	// Tree: engine options
	Tree TreeConfig `yaml:"tree"`

	// Server: HTTP listener
	Server ServerConfig `yaml:"server"`

	Logging LoggingConfig `yaml:"logging"`

	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type MetaConfig struct {
	Version string `yaml:"version"`
}

type StorageConfig struct {
	Backend    string `yaml:"backend"`     // file, badger or memory
	Path       string `yaml:"path"`        // snapshot file, or badger directory
	Codec      string `yaml:"codec"`       // json or yaml
	SyncWrites bool   `yaml:"sync_writes"` // badger only
}

type TreeConfig struct {
	RootID         string `yaml:"root_id"`
	SortKey        string `yaml:"sort_key"`
	DisableSortKey bool   `yaml:"disable_sort_key"`
	BootstrapNode  string `yaml:"bootstrap_node,omitempty"`
	DeletePolicy   string `yaml:"delete_policy"` // HTTP default when ?policy= is absent
}

type ServerConfig struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	GinMode string `yaml:"gin_mode,omitempty"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir,omitempty"`
	JSON  bool   `yaml:"json"`
}

type TelemetryConfig struct {
	Exporter     string `yaml:"exporter"` // none, otlp or stdout
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() TreeDBConfig {
	return TreeDBConfig{
		Meta: MetaConfig{Version: CurrentConfigVersion},
		Storage: StorageConfig{
			Backend:    BackendFile,
			Path:       "./data/treedb.json",
			Codec:      "json",
			SyncWrites: true,
		},
		Tree: TreeConfig{
			RootID:       string(tree.DefaultRootID),
			SortKey:      tree.DefaultSortKey,
			DeletePolicy: tree.Reject.String(),
		},
		Server: ServerConfig{
			Port: 12230,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Telemetry: TelemetryConfig{
			Exporter: telemetry.ExporterNone,
		},
	}
}

// Validate reports every problem in c, joined.
func (c TreeDBConfig) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch c.Storage.Backend {
	case BackendFile, BackendBadger:
		if c.Storage.Path == "" {
			add("storage.path is required for the %s backend", c.Storage.Backend)
		}
	case BackendMemory:
	default:
		add("storage.backend %q: want file, badger or memory", c.Storage.Backend)
	}
	if _, err := tree.NewCodec(c.Storage.Codec); err != nil {
		add("storage.codec: %w", err)
	}

	if err := validation.ValidateIdentifier(c.Tree.RootID); err != nil {
		add("tree.root_id: %w", err)
	}
	if c.Tree.BootstrapNode != "" {
		if err := validation.ValidateIdentifier(c.Tree.BootstrapNode); err != nil {
			add("tree.bootstrap_node: %w", err)
		} else if c.Tree.BootstrapNode == c.Tree.RootID {
			add("tree.bootstrap_node must differ from tree.root_id %q", c.Tree.RootID)
		}
	}
	if _, err := c.DeletePolicy(); err != nil {
		add("tree.delete_policy: %w", err)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.port %d out of range", c.Server.Port)
	}
	switch c.Server.GinMode {
	case "", "debug", "release", "test":
	default:
		add("server.gin_mode %q: want debug, release or test", c.Server.GinMode)
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		add("logging.level: %w", err)
	}

	switch c.Telemetry.Exporter {
	case "", telemetry.ExporterNone, telemetry.ExporterStdout:
	case telemetry.ExporterOTLP:
		if c.Telemetry.OTLPEndpoint == "" {
			add("telemetry.otlp_endpoint is required for the otlp exporter")
		}
	default:
		add("telemetry.exporter %q: want none, otlp or stdout", c.Telemetry.Exporter)
	}

	return errors.Join(errs...)
}

// DeletePolicy parses Tree.DeletePolicy.
func (c TreeDBConfig) DeletePolicy() (tree.ChildPolicy, error) {
	return tree.ParsePolicy(c.Tree.DeletePolicy)
}
