// Package config provides hierarchical configuration management.
// Priority: defaults < system < user < project < env < flags
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all MastFlow configuration.
type Config struct {
	Version int `yaml:"version"`

	API        APIConfig        `yaml:"api"`
	Export     ExportConfig     `yaml:"export"`
	Segmenter  SegmenterConfig  `yaml:"segmenter"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Watch      WatchConfig      `yaml:"watch"`
}

// APIConfig controls the archive portal client.
type APIConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// ExportConfig controls default export behavior.
type ExportConfig struct {
	Engine      string `yaml:"engine"`      // arrow | duckdb
	Format      string `yaml:"format"`      // csv | json | parquet | xlsx (empty = detect)
	Compression string `yaml:"compression"` // snappy | zstd | gzip | lz4 | none
	BatchSize   int    `yaml:"batch_size"`
}

// SegmenterConfig controls the flat-run scan.
type SegmenterConfig struct {
	MaxFlat int `yaml:"max_flat"`
}

// CheckpointConfig controls job resume state.
type CheckpointConfig struct {
	Backend   string `yaml:"backend"` // file | redis | s3
	Dir       string `yaml:"dir"`
	RedisAddr string `yaml:"redis_addr"`
	S3Bucket  string `yaml:"s3_bucket"`
	S3Region  string `yaml:"s3_region"`
}

// TelemetryConfig for optional tracing.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// WatchConfig controls the file watcher.
type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce"`
}

// Default returns the default configuration.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	mastflowDir := filepath.Join(homeDir, ".mastflow")

	return &Config{
		Version: 1,
		API: APIConfig{
			BaseURL: "https://mast.stsci.edu",
			Timeout: 60 * time.Second,
		},
		Export: ExportConfig{
			Engine:      "arrow",
			Compression: "snappy",
			BatchSize:   8192,
		},
		Segmenter: SegmenterConfig{
			MaxFlat: 5,
		},
		Checkpoint: CheckpointConfig{
			Backend:   "file",
			Dir:       filepath.Join(mastflowDir, "checkpoints"),
			RedisAddr: "localhost:6379",
		},
		Telemetry: TelemetryConfig{
			Enabled: false,
		},
		Watch: WatchConfig{
			Debounce: 500 * time.Millisecond,
		},
	}
}

// Manager handles configuration loading and merging.
type Manager struct {
	mu     sync.RWMutex
	config *Config
	paths  []string // Paths that were loaded
}

// NewManager creates a new configuration manager.
func NewManager() *Manager {
	return &Manager{
		config: Default(),
	}
}

// Load loads configuration from all sources in priority order.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Start with defaults
	m.config = Default()
	m.paths = nil

	// Load from paths in order (later overrides earlier)
	paths := m.getConfigPaths()
	for _, path := range paths {
		if err := m.loadFile(path); err != nil {
			// Ignore missing files, but surface errors for existing files
			if !os.IsNotExist(err) {
				return err
			}
		} else {
			m.paths = append(m.paths, path)
		}
	}

	// Override with environment variables
	m.loadEnv()

	return nil
}

// getConfigPaths returns config file paths in priority order.
func (m *Manager) getConfigPaths() []string {
	var paths []string

	// System config
	if runtime.GOOS != "windows" {
		paths = append(paths, "/etc/mastflow/config.yaml")
	}

	// User config
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".mastflow", "config.yaml"))
	}

	// Project config (current directory)
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".mastflow.yaml"))
	}

	return paths
}

// loadFile loads a single config file and merges it.
func (m *Manager) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var partial Config
	if err := yaml.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	// Merge non-zero values
	m.merge(&partial)
	return nil
}

// merge merges non-zero values from src into config.
func (m *Manager) merge(src *Config) {
	// API
	if src.API.BaseURL != "" {
		m.config.API.BaseURL = src.API.BaseURL
	}
	if src.API.Timeout != 0 {
		m.config.API.Timeout = src.API.Timeout
	}

	// Export
	if src.Export.Engine != "" {
		m.config.Export.Engine = src.Export.Engine
	}
	if src.Export.Format != "" {
		m.config.Export.Format = src.Export.Format
	}
	if src.Export.Compression != "" {
		m.config.Export.Compression = src.Export.Compression
	}
	if src.Export.BatchSize != 0 {
		m.config.Export.BatchSize = src.Export.BatchSize
	}

	// Segmenter
	if src.Segmenter.MaxFlat != 0 {
		m.config.Segmenter.MaxFlat = src.Segmenter.MaxFlat
	}

	// Checkpoint
	if src.Checkpoint.Backend != "" {
		m.config.Checkpoint.Backend = src.Checkpoint.Backend
	}
	if src.Checkpoint.Dir != "" {
		m.config.Checkpoint.Dir = src.Checkpoint.Dir
	}
	if src.Checkpoint.RedisAddr != "" {
		m.config.Checkpoint.RedisAddr = src.Checkpoint.RedisAddr
	}
	if src.Checkpoint.S3Bucket != "" {
		m.config.Checkpoint.S3Bucket = src.Checkpoint.S3Bucket
	}
	if src.Checkpoint.S3Region != "" {
		m.config.Checkpoint.S3Region = src.Checkpoint.S3Region
	}

	// Telemetry
	if src.Telemetry.Enabled {
		m.config.Telemetry.Enabled = true
	}
	if src.Telemetry.Endpoint != "" {
		m.config.Telemetry.Endpoint = src.Telemetry.Endpoint
	}

	// Watch
	if src.Watch.Debounce != 0 {
		m.config.Watch.Debounce = src.Watch.Debounce
	}
}

// loadEnv loads configuration from environment variables.
func (m *Manager) loadEnv() {
	// MASTFLOW_API_URL
	if v := os.Getenv("MASTFLOW_API_URL"); v != "" {
		m.config.API.BaseURL = v
	}

	// MASTFLOW_ENGINE
	if v := os.Getenv("MASTFLOW_ENGINE"); v != "" {
		m.config.Export.Engine = v
	}

	// MASTFLOW_COMPRESSION
	if v := os.Getenv("MASTFLOW_COMPRESSION"); v != "" {
		m.config.Export.Compression = v
	}

	// MASTFLOW_MAX_FLAT
	if v := os.Getenv("MASTFLOW_MAX_FLAT"); v != "" {
		var maxFlat int
		if _, err := fmt.Sscanf(v, "%d", &maxFlat); err == nil && maxFlat > 0 {
			m.config.Segmenter.MaxFlat = maxFlat
		}
	}

	// MASTFLOW_CHECKPOINT_BACKEND
	if v := os.Getenv("MASTFLOW_CHECKPOINT_BACKEND"); v != "" {
		m.config.Checkpoint.Backend = v
	}

	// MASTFLOW_REDIS_ADDR
	if v := os.Getenv("MASTFLOW_REDIS_ADDR"); v != "" {
		m.config.Checkpoint.RedisAddr = v
	}

	// MASTFLOW_OTLP_ENDPOINT
	if v := os.Getenv("MASTFLOW_OTLP_ENDPOINT"); v != "" {
		m.config.Telemetry.Enabled = true
		m.config.Telemetry.Endpoint = v
	}
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetPaths returns the paths that were loaded.
func (m *Manager) GetPaths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paths
}

// Save writes the current config to the user config file.
func (m *Manager) Save() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}

	configDir := filepath.Join(home, ".mastflow")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(m.config)
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(configDir, "config.yaml"), data, 0644)
}

// Global instance
var (
	globalManager *Manager
	globalOnce    sync.Once
)

// Global returns the global configuration manager.
func Global() *Manager {
	globalOnce.Do(func() {
		globalManager = NewManager()
		globalManager.Load()
	})
	return globalManager
}
