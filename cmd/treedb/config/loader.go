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
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// envOverrides maps environment variables onto config fields. Entries are
// applied in order, so the TREEDB_ names override the legacy DB_PATH and
// DB_ROOT_NODE aliases listed before them.
var envOverrides = []struct {
	name  string
	apply func(c *TreeDBConfig, v string) error
}{
	{"DB_PATH", func(c *TreeDBConfig, v string) error { c.Storage.Path = v; return nil }},
	{"TREEDB_STORAGE_PATH", func(c *TreeDBConfig, v string) error { c.Storage.Path = v; return nil }},
	{"TREEDB_BACKEND", func(c *TreeDBConfig, v string) error { c.Storage.Backend = v; return nil }},
	{"TREEDB_CODEC", func(c *TreeDBConfig, v string) error { c.Storage.Codec = v; return nil }},
	{"TREEDB_ROOT", func(c *TreeDBConfig, v string) error { c.Tree.RootID = v; return nil }},
	{"DB_ROOT_NODE", func(c *TreeDBConfig, v string) error { c.Tree.BootstrapNode = v; return nil }},
	{"TREEDB_BOOTSTRAP_NODE", func(c *TreeDBConfig, v string) error { c.Tree.BootstrapNode = v; return nil }},
	{"TREEDB_DELETE_POLICY", func(c *TreeDBConfig, v string) error { c.Tree.DeletePolicy = v; return nil }},
	{"TREEDB_PORT", func(c *TreeDBConfig, v string) error {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid port %q: %w", v, err)
		}
		c.Server.Port = port
		return nil
	}},
	{"TREEDB_LOG_LEVEL", func(c *TreeDBConfig, v string) error { c.Logging.Level = v; return nil }},
	{"TREEDB_TRACE_EXPORTER", func(c *TreeDBConfig, v string) error { c.Telemetry.Exporter = v; return nil }},
	{"TREEDB_OTLP_ENDPOINT", func(c *TreeDBConfig, v string) error { c.Telemetry.OTLPEndpoint = v; return nil }},
}

// Load builds the effective configuration.
//
// # Description
//
// Starts from DefaultConfig, overlays the YAML file at path when path is
// non-empty, then applies environment overrides. The result is not
// validated; call Validate.
//
// # Inputs
//
//   - path: YAML file. Empty means defaults plus environment only. A
//     missing file is an error.
//   - getenv: Environment lookup, normally os.Getenv. Nil skips overrides.
func Load(path string, getenv func(string) string) (TreeDBConfig, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return TreeDBConfig{}, fmt.Errorf("failed to read the config file: %w", err)
		}
		if err := decode(data, &cfg); err != nil {
			return TreeDBConfig{}, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}
	if getenv != nil {
		if err := applyEnv(&cfg, getenv); err != nil {
			return TreeDBConfig{}, err
		}
	}
	return cfg, nil
}

// decode overlays YAML onto cfg, rejecting unknown keys.
func decode(data []byte, cfg *TreeDBConfig) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func applyEnv(cfg *TreeDBConfig, getenv func(string) string) error {
	for _, o := range envOverrides {
		v := getenv(o.name)
		if v == "" {
			continue
		}
		if err := o.apply(cfg, v); err != nil {
			return fmt.Errorf("%s: %w", o.name, err)
		}
	}
	return nil
}

// WriteDefault writes DefaultConfig to path, creating parent directories.
// An existing file is left untouched and reported as an error.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Marshal renders cfg as YAML.
func Marshal(cfg TreeDBConfig) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
