package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "arbor.toml")
	content := `
database = "trees.db"

[cache]
max_size = 500

[activity]
idle_timeout = "45s"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Database != "trees.db" {
		t.Errorf("Database = %q", cfg.Database)
	}
	if cfg.Cache.MaxSize != 500 {
		t.Errorf("Cache.MaxSize = %d, want 500", cfg.Cache.MaxSize)
	}
	if cfg.Cache.MaxAge != 5*time.Minute {
		t.Errorf("Cache.MaxAge default = %v", cfg.Cache.MaxAge)
	}
	if cfg.Activity.IdleTimeout != 45*time.Second {
		t.Errorf("Activity.IdleTimeout = %v, want 45s", cfg.Activity.IdleTimeout)
	}
	if cfg.Dispatch.ChunkSize != 1000 {
		t.Errorf("Dispatch.ChunkSize default = %d", cfg.Dispatch.ChunkSize)
	}
	if cfg.Dispatch.SyncCutover != 100 {
		t.Errorf("Dispatch.SyncCutover default = %d", cfg.Dispatch.SyncCutover)
	}
	if !cfg.DragDrop.AllowReparent || !cfg.DragDrop.AllowReorder {
		t.Error("drag-drop capabilities should default to enabled")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Cache.MaxSize <= 0 || cfg.Prefetch.Radius <= 0 {
		t.Error("Default() must produce usable values")
	}
	if cfg.Activity.IdleTimeout != 30*time.Second {
		t.Errorf("idle timeout default = %v, want 30s", cfg.Activity.IdleTimeout)
	}
}
