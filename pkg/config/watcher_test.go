// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestWatcherReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loom.yaml")
	writeConfigFile(t, path, "log:\n  level: info\n")

	watcher, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	if watcher.Config().Log.Level != "info" {
		t.Fatalf("initial level = %q", watcher.Config().Log.Level)
	}

	reloaded := make(chan *Config, 1)
	watcher.OnChange(func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})
	watcher.Start(context.Background())
	defer watcher.Stop()

	writeConfigFile(t, path, "log:\n  level: debug\n")

	select {
	case cfg := <-reloaded:
		if cfg.Log.Level != "debug" {
			t.Errorf("reloaded level = %q, want debug", cfg.Log.Level)
		}
		if watcher.Config().Log.Level != "debug" {
			t.Errorf("Config() level = %q, want debug", watcher.Config().Log.Level)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not report the change")
	}
}

func TestWatcherKeepsLastGoodConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loom.yaml")
	writeConfigFile(t, path, "log:\n  level: info\n")

	watcher, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	watcher.Start(context.Background())
	defer watcher.Stop()

	writeConfigFile(t, path, ":\tnot yaml")
	time.Sleep(200 * time.Millisecond)

	if watcher.Config().Log.Level != "info" {
		t.Errorf("level = %q, want info", watcher.Config().Log.Level)
	}
}

func TestWatcherMissingFile(t *testing.T) {
	if _, err := NewWatcher(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("NewWatcher() on a missing file should fail")
	}
}
