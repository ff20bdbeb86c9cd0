package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/saiset-co/sai-translation-cache/types"
)

const testConfigYAML = `
name: "translation-cache"
version: "1.2.3"
cache:
  default_ttl_ms: 60000
  memory:
    max_entries: 500
    policy: "lfu"
  storage:
    enabled: true
    path: "./data"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestManagerLoadsAndMergesDefaults(t *testing.T) {
	manager, err := NewManager(context.Background(), writeConfig(t, testConfigYAML))
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	defer manager.Close()

	cfg := manager.GetConfig()
	if cfg.Name != "translation-cache" || cfg.Version != "1.2.3" {
		t.Fatalf("identity not loaded: %s %s", cfg.Name, cfg.Version)
	}
	if cfg.Cache.DefaultTTLMS != 60000 {
		t.Fatalf("default_ttl_ms not applied: %d", cfg.Cache.DefaultTTLMS)
	}
	if cfg.Cache.Memory.MaxEntries != 500 || cfg.Cache.Memory.Policy != types.EvictionLFU {
		t.Fatalf("memory section not applied: %+v", cfg.Cache.Memory)
	}
	if !cfg.Cache.Storage.Enabled || cfg.Cache.Storage.Path != "./data" {
		t.Fatalf("storage section not applied: %+v", cfg.Cache.Storage)
	}

	// Untouched sections keep their defaults.
	if cfg.Logger == nil || cfg.Logger.Type != "zap" {
		t.Fatalf("logger defaults lost: %+v", cfg.Logger)
	}
	if cfg.Cache.Remote == nil || cfg.Cache.Remote.Port != 6379 {
		t.Fatalf("remote defaults lost: %+v", cfg.Cache.Remote)
	}
}

func TestManagerGetValue(t *testing.T) {
	manager, err := NewManager(context.Background(), writeConfig(t, testConfigYAML))
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	defer manager.Close()

	if got := manager.GetValue("cache.memory.policy", ""); got != "lfu" {
		t.Fatalf("GetValue returned %v", got)
	}
	if got := manager.GetValue("cache.no.such.path", "fallback"); got != "fallback" {
		t.Fatalf("missing path must return the default, got %v", got)
	}

	var storage types.StorageConfig
	if err := manager.GetAs("cache.storage", &storage); err != nil {
		t.Fatalf("GetAs failed: %v", err)
	}
	if !storage.Enabled || storage.Path != "./data" {
		t.Fatalf("GetAs decoded %+v", storage)
	}
}

func TestManagerRejectsInvalidConfig(t *testing.T) {
	// Name and version are required.
	if _, err := NewManager(context.Background(), writeConfig(t, "version: \"1.0.0\"\n")); err == nil {
		t.Fatal("config without a name must be rejected")
	}

	if _, err := NewManager(context.Background(), writeConfig(t, "name: [broken\n")); err == nil {
		t.Fatal("malformed YAML must be rejected")
	}
}

func TestManagerMissingFile(t *testing.T) {
	if _, err := NewManager(context.Background(), filepath.Join(t.TempDir(), "absent.yml")); err == nil {
		t.Fatal("missing config file must be rejected")
	}
}
