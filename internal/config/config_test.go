package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agentchain.json")
	payload := `{
  "server": {"address": ":9090"},
  "queue": {"driver": "redis", "redis": {"address": "127.0.0.1:6379"}},
  "pipeline": {"profiles_path": "profiles.json"}
}`
	if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Address != ":9090" {
		t.Fatalf("server address = %s, want :9090", cfg.Server.Address)
	}
	if cfg.Queue.Driver != "redis" {
		t.Fatalf("queue driver = %s, want redis", cfg.Queue.Driver)
	}
	if cfg.Queue.Workers != 4 || cfg.Queue.MaxRetries != 3 {
		t.Fatalf("queue defaults = %d workers %d retries, want 4/3", cfg.Queue.Workers, cfg.Queue.MaxRetries)
	}
	if cfg.Storage.RunStore.Driver != "memory" {
		t.Fatalf("run store driver = %s, want memory", cfg.Storage.RunStore.Driver)
	}
	if cfg.Auth.Mode != "disabled" {
		t.Fatalf("auth mode = %s, want disabled", cfg.Auth.Mode)
	}
	want := filepath.Join(dir, "profiles.json")
	if cfg.Pipeline.ProfilesPath != want {
		t.Fatalf("profiles path = %s, want %s", cfg.Pipeline.ProfilesPath, want)
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
