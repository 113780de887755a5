package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.API.BaseURL != "https://mast.stsci.edu" {
		t.Errorf("Expected portal base URL, got %q", cfg.API.BaseURL)
	}
	if cfg.Segmenter.MaxFlat != 5 {
		t.Errorf("Expected max flat 5, got %d", cfg.Segmenter.MaxFlat)
	}
	if cfg.Export.Engine != "arrow" {
		t.Errorf("Expected arrow engine, got %q", cfg.Export.Engine)
	}
	if cfg.Export.Compression != "snappy" {
		t.Errorf("Expected snappy compression, got %q", cfg.Export.Compression)
	}
	if cfg.Checkpoint.Backend != "file" {
		t.Errorf("Expected file backend, got %q", cfg.Checkpoint.Backend)
	}
	if cfg.Watch.Debounce != 500*time.Millisecond {
		t.Errorf("Expected 500ms debounce, got %v", cfg.Watch.Debounce)
	}
	if cfg.Telemetry.Enabled {
		t.Error("Expected telemetry disabled by default")
	}
}

func TestLoadFileMerges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
api:
  base_url: https://mast.example.org
segmenter:
  max_flat: 3
checkpoint:
  backend: redis
  redis_addr: redis.example.org:6379
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	m := NewManager()
	if err := m.loadFile(path); err != nil {
		t.Fatalf("loadFile error: %v", err)
	}

	cfg := m.Get()
	if cfg.API.BaseURL != "https://mast.example.org" {
		t.Errorf("Expected overridden base URL, got %q", cfg.API.BaseURL)
	}
	if cfg.Segmenter.MaxFlat != 3 {
		t.Errorf("Expected max flat 3, got %d", cfg.Segmenter.MaxFlat)
	}
	if cfg.Checkpoint.Backend != "redis" {
		t.Errorf("Expected redis backend, got %q", cfg.Checkpoint.Backend)
	}
	if cfg.Checkpoint.RedisAddr != "redis.example.org:6379" {
		t.Errorf("Expected overridden redis address, got %q", cfg.Checkpoint.RedisAddr)
	}

	// Untouched sections keep their defaults.
	if cfg.Export.BatchSize != 8192 {
		t.Errorf("Expected default batch size, got %d", cfg.Export.BatchSize)
	}
	if cfg.Checkpoint.Dir == "" {
		t.Error("Expected default checkpoint dir to survive the merge")
	}
}

func TestLoadFileEmptyKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("{}\n"), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	m := NewManager()
	if err := m.loadFile(path); err != nil {
		t.Fatalf("loadFile error: %v", err)
	}
	if m.Get().Segmenter.MaxFlat != 5 {
		t.Errorf("Expected default max flat, got %d", m.Get().Segmenter.MaxFlat)
	}
}

func TestLoadFileBadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(":::not yaml"), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	m := NewManager()
	if err := m.loadFile(path); err == nil {
		t.Error("Expected parse error for malformed config")
	}
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("MASTFLOW_ENGINE", "duckdb")
	t.Setenv("MASTFLOW_MAX_FLAT", "7")
	t.Setenv("MASTFLOW_OTLP_ENDPOINT", "collector.example.org:4317")

	m := NewManager()
	m.loadEnv()

	cfg := m.Get()
	if cfg.Export.Engine != "duckdb" {
		t.Errorf("Expected duckdb engine from env, got %q", cfg.Export.Engine)
	}
	if cfg.Segmenter.MaxFlat != 7 {
		t.Errorf("Expected max flat 7 from env, got %d", cfg.Segmenter.MaxFlat)
	}
	if !cfg.Telemetry.Enabled {
		t.Error("Expected OTLP endpoint to enable telemetry")
	}
	if cfg.Telemetry.Endpoint != "collector.example.org:4317" {
		t.Errorf("Expected endpoint from env, got %q", cfg.Telemetry.Endpoint)
	}
}

func TestLoadEnvRejectsBadMaxFlat(t *testing.T) {
	t.Setenv("MASTFLOW_MAX_FLAT", "bogus")

	m := NewManager()
	m.loadEnv()
	if m.Get().Segmenter.MaxFlat != 5 {
		t.Errorf("Expected default max flat for bad env value, got %d", m.Get().Segmenter.MaxFlat)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	m := NewManager()
	m.Get().Segmenter.MaxFlat = 9
	if err := m.Save(); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	saved := filepath.Join(home, ".mastflow", "config.yaml")
	if _, err := os.Stat(saved); err != nil {
		t.Fatalf("Expected saved config at %s: %v", saved, err)
	}

	reloaded := NewManager()
	if err := reloaded.loadFile(saved); err != nil {
		t.Fatalf("loadFile error: %v", err)
	}
	if reloaded.Get().Segmenter.MaxFlat != 9 {
		t.Errorf("Expected max flat 9 after reload, got %d", reloaded.Get().Segmenter.MaxFlat)
	}
}
