package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/v8app/jsapp/jsapperr"
)

func TestLoadAppliesDefaultsForOmittedFields(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "app.yaml")
	if err := os.WriteFile(p, []byte("name: demo\nroot: /srv/demo\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Name != "demo" || cfg.Root != "/srv/demo" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.WorkerPool.BestEffortSize != 2 {
		t.Fatalf("expected default pool size, got %d", cfg.WorkerPool.BestEffortSize)
	}
	if cfg.Execution.Timeout <= 0 {
		t.Fatalf("expected default timeout to be positive")
	}
}

func TestLoadRejectsMissingRoot(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "app.yaml")
	if err := os.WriteFile(p, []byte("name: demo\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := Load(p)
	if !jsapperr.Is(err, jsapperr.ConfigError) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if !jsapperr.Is(err, jsapperr.ConfigError) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}
