// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Level Tests
// =============================================================================

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.level.String())
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{" warn ", LevelWarn, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"verbose", LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLevel_toSlogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, LevelDebug.toSlogLevel())
	assert.Equal(t, slog.LevelWarn, LevelWarn.toSlogLevel())
	assert.Equal(t, slog.LevelInfo, Level(42).toSlogLevel())
}

// =============================================================================
// Logger Tests
// =============================================================================

func TestNew_TextOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelInfo, Service: "treedb", Output: &buf})
	defer logger.Close()

	logger.Debug("hidden")
	logger.Info("store opened", "nodes", 3)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "store opened")
	assert.Contains(t, out, "nodes=3")
	assert.Contains(t, out, "service=treedb")
}

func TestNew_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelDebug, JSON: true, Output: &buf})

	logger.Warn("slow save", "ms", 120)

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "slow save", record["msg"])
	assert.Equal(t, "WARN", record["level"])
	assert.EqualValues(t, 120, record["ms"])
}

func TestNew_Quiet(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Quiet: true, Output: &buf})
	logger.Error("nothing")
	assert.Empty(t, buf.String())
}

func TestNew_WithLogDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	logger := New(Config{Level: LevelInfo, LogDir: dir, Service: "treedb", Quiet: true})
	logger.Info("written to file", "key", "value")
	require.NoError(t, logger.Close())

	name := "treedb_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"written to file"`)
	assert.Contains(t, string(data), `"key":"value"`)
}

func TestNew_WithLogDir_InvalidPath(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0600))

	var buf bytes.Buffer
	logger := New(Config{LogDir: filepath.Join(blocker, "logs"), Output: &buf})
	defer logger.Close()

	assert.Contains(t, buf.String(), "file output disabled")
	assert.Nil(t, logger.file)
	logger.Info("still works")
	assert.Contains(t, buf.String(), "still works")
}

func TestLogger_Exporter(t *testing.T) {
	exp := NewBufferedExporter()
	logger := New(Config{Level: LevelInfo, Service: "treedb", Quiet: true, Exporter: exp})

	logger.Debug("filtered")
	child := logger.With("component", "engine")
	child.Info("created", "id", "a")
	child.Error("save failed", slog.String("error", "disk full"))

	entries := exp.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "created", entries[0].Message)
	assert.Equal(t, "treedb", entries[0].Service)
	assert.Equal(t, map[string]any{"component": "engine", "id": "a"}, entries[0].Attrs)
	assert.Equal(t, "disk full", entries[1].Attrs["error"])
	assert.Equal(t, []string{"save failed"}, exp.Messages(LevelError))
}

func TestLogger_With_DoesNotModifyParent(t *testing.T) {
	var buf bytes.Buffer
	parent := New(Config{Output: &buf})
	_ = parent.With("request_id", "r1")

	parent.Info("plain")
	assert.NotContains(t, buf.String(), "request_id")
}

func TestLogger_Slog(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf})
	logger.Slog().Info("via slog")
	assert.Contains(t, buf.String(), "via slog")
}

type failingExporter struct{ NopExporter }

func (failingExporter) Flush(ctx context.Context) error { return errors.New("flush failed") }

func TestLogger_Close(t *testing.T) {
	t.Run("no resources", func(t *testing.T) {
		assert.NoError(t, Nop().Close())
	})

	t.Run("exporter error is returned", func(t *testing.T) {
		logger := New(Config{Quiet: true, Exporter: &failingExporter{}})
		err := logger.Close()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "flush exporter")
	})

	t.Run("close twice", func(t *testing.T) {
		logger := New(Config{Quiet: true, LogDir: t.TempDir()})
		require.NoError(t, logger.Close())
		assert.NoError(t, logger.Close())
	})
}

func TestLogger_ConcurrentUse(t *testing.T) {
	exp := NewBufferedExporter()
	logger := New(Config{Quiet: true, Exporter: exp})

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.With("worker", i).Info("tick")
		}()
	}
	wg.Wait()
	assert.Len(t, exp.Entries(), 10)
}

// =============================================================================
// Helper Tests
// =============================================================================

func TestMultiHandler(t *testing.T) {
	var debugBuf, errorBuf bytes.Buffer
	h := &multiHandler{handlers: []slog.Handler{
		slog.NewTextHandler(&debugBuf, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&errorBuf, &slog.HandlerOptions{Level: slog.LevelError}),
	}}
	logger := slog.New(h.WithAttrs([]slog.Attr{slog.String("k", "v")}))

	logger.Info("info line")
	logger.Error("error line")

	assert.Contains(t, debugBuf.String(), "info line")
	assert.Contains(t, debugBuf.String(), "k=v")
	assert.NotContains(t, errorBuf.String(), "info line")
	assert.Contains(t, errorBuf.String(), "error line")
	assert.True(t, h.Enabled(context.Background(), slog.LevelDebug))
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "logs"), expandPath("~/logs"))
	assert.Equal(t, "/var/log", expandPath("/var/log"))
	assert.Equal(t, "rel/path", expandPath("rel/path"))
}

func TestArgsToMap(t *testing.T) {
	got := argsToMap([]any{"a", 1, slog.Int("b", 2), "dangling"})
	assert.Equal(t, map[string]any{"a": 1, "b": int64(2)}, got)
	assert.Empty(t, argsToMap(nil))
}
