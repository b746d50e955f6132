package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/anthropics/epoch-engine/internal/domain"
)

// validJSON returns a minimal valid configuration JSON string.
func validJSON() string {
	return `{
		"db_path": "/tmp/test.db"
	}`
}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	p := filepath.Join(dir, "config.json")
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoad_Valid(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, validJSON())

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DBPath != "/tmp/test.db" {
		t.Errorf("DBPath = %q, want /tmp/test.db", cfg.DBPath)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.json")
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `{not valid json}`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid JSON, got nil")
	}
}

func TestLoad_MissingDBPath(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `{"listen_addr": ":9810"}`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for missing db_path, got nil")
	}
	engineErr, ok := err.(*domain.EngineError)
	if !ok {
		t.Fatalf("expected EngineError, got %T", err)
	}
	if engineErr.Code != domain.ErrConfigInvalid.Code {
		t.Errorf("Code = %d, want %d", engineErr.Code, domain.ErrConfigInvalid.Code)
	}
}

func TestLoad_NegativeQueueSize(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `{
		"db_path": "/tmp/test.db",
		"command_queue_size": -1
	}`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for negative queue size, got nil")
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, validJSON())

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ListenAddr != ":9810" {
		t.Errorf("ListenAddr = %q, want :9810", cfg.ListenAddr)
	}
	if cfg.CommandQueueSize != 64 {
		t.Errorf("CommandQueueSize = %d, want 64", cfg.CommandQueueSize)
	}
	if cfg.MaxRevisionRounds != 3 {
		t.Errorf("MaxRevisionRounds = %d, want 3", cfg.MaxRevisionRounds)
	}
	if cfg.MaxParallelSlices != 5 {
		t.Errorf("MaxParallelSlices = %d, want 5", cfg.MaxParallelSlices)
	}
}
