package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestLoaderLoadAppliesDefaultsAndExpandsEnv(t *testing.T) {
	t.Setenv("TEST_GEMINI_KEY", "secret-key")

	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "taskorch.yaml")

	configYAML := `
models:
  primary:
    alias: default
    model: gemini-2.0-flash
    api_key: ${TEST_GEMINI_KEY}
control:
  port: 9090
`
	if err := os.WriteFile(configFile, []byte(configYAML), 0644); err != nil {
		t.Fatalf("failed to create test config: %v", err)
	}

	loader, err := NewFileLoader(configFile)
	if err != nil {
		t.Fatalf("NewFileLoader: %v", err)
	}
	defer loader.Close()

	cfg, err := loader.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Models.Primary.APIKey != "secret-key" {
		t.Errorf("expected expanded api_key, got %q", cfg.Models.Primary.APIKey)
	}
	if cfg.Models.Primary.Provider != "gemini" {
		t.Errorf("expected default provider gemini, got %q", cfg.Models.Primary.Provider)
	}
	if cfg.Control.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Control.Port)
	}
	if cfg.Control.Host != "0.0.0.0" {
		t.Errorf("expected default host, got %q", cfg.Control.Host)
	}
	if cfg.Checkpoint.Backend != "memory" {
		t.Errorf("expected default checkpoint backend memory, got %q", cfg.Checkpoint.Backend)
	}
}

func TestLoaderLoadRejectsMissingModel(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "taskorch.yaml")

	if err := os.WriteFile(configFile, []byte("control:\n  port: 8080\n"), 0644); err != nil {
		t.Fatalf("failed to create test config: %v", err)
	}

	loader, err := NewFileLoader(configFile)
	if err != nil {
		t.Fatalf("NewFileLoader: %v", err)
	}
	defer loader.Close()

	if _, err := loader.Load(context.Background()); err == nil {
		t.Fatal("expected validation error for missing model.model")
	}
}

func TestLoaderLoadRejectsUnknownCheckpointBackend(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "taskorch.yaml")

	configYAML := `
models:
  primary:
    model: gemini-2.0-flash
    api_key: test-key
checkpoint:
  backend: redis
`
	if err := os.WriteFile(configFile, []byte(configYAML), 0644); err != nil {
		t.Fatalf("failed to create test config: %v", err)
	}

	loader, err := NewFileLoader(configFile)
	if err != nil {
		t.Fatalf("NewFileLoader: %v", err)
	}
	defer loader.Close()

	if _, err := loader.Load(context.Background()); err == nil {
		t.Fatal("expected validation error for unknown checkpoint backend")
	}
}
