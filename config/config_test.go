package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsWithNoFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Cache.Backend != "memory" || cfg.CAS.Backend != "memory" {
		t.Fatalf("expected memory defaults, got %+v", cfg)
	}
}

func TestLoadMergesYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "forgecache.yaml")
	contents := []byte("service: demo\ncache:\n  backend: redis\n  redis_url: redis://localhost:6379/1\ninputs:\n  region: eu-west\n")
	if err := os.WriteFile(path, contents, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Service != "demo" {
		t.Fatalf("expected service demo, got %q", cfg.Service)
	}
	if cfg.Cache.Backend != "redis" || cfg.Cache.RedisURL != "redis://localhost:6379/1" {
		t.Fatalf("unexpected cache config: %+v", cfg.Cache)
	}
	if cfg.Inputs["region"] != "eu-west" {
		t.Fatalf("expected inputs.region eu-west, got %+v", cfg.Inputs)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forgecache.yaml")
	if err := os.WriteFile(path, []byte("service: from-file\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FORGECACHE_SERVICE", "from-env")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Service != "from-env" {
		t.Fatalf("expected env override, got %q", cfg.Service)
	}
}
