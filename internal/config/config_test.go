package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Embedding.Dimensions != 768 {
		t.Errorf("Dimensions=%d, want 768", cfg.Embedding.Dimensions)
	}
	if cfg.Embedding.BatchSize != 5 {
		t.Errorf("BatchSize=%d, want 5", cfg.Embedding.BatchSize)
	}
	if cfg.Embedding.CallsPerMinute != 300 {
		t.Errorf("CallsPerMinute=%v, want 300", cfg.Embedding.CallsPerMinute)
	}
	if got := cfg.Embedding.CallsPerSecond(); got != 5 {
		t.Errorf("CallsPerSecond()=%v, want 5", got)
	}
	if cfg.Index.ApproximateNeighborCount != 150 {
		t.Errorf("ApproximateNeighborCount=%d, want 150", cfg.Index.ApproximateNeighborCount)
	}
	if cfg.Index.DistanceMeasure != "DOT_PRODUCT_DISTANCE" {
		t.Errorf("DistanceMeasure=%s", cfg.Index.DistanceMeasure)
	}
	if cfg.Query.NumNeighbors != 5 {
		t.Errorf("NumNeighbors=%d, want 5", cfg.Query.NumNeighbors)
	}
	if cfg.Query.ChunkSize != 1000 {
		t.Errorf("ChunkSize=%d, want 1000", cfg.Query.ChunkSize)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
debug: true
project: test-project
server:
  port: 9090
storage:
  database_path: ./data/engines.db
embedding:
  backend: mock
  calls_per_minute: 6000
`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Debug {
		t.Error("Debug should be true")
	}
	if cfg.Project != "test-project" {
		t.Errorf("Project=%s", cfg.Project)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Port=%d", cfg.Server.Port)
	}
	if cfg.Embedding.Backend != "mock" {
		t.Errorf("Backend=%s", cfg.Embedding.Backend)
	}
	if cfg.Embedding.CallsPerMinute != 6000 {
		t.Errorf("CallsPerMinute=%v", cfg.Embedding.CallsPerMinute)
	}
	want := filepath.Join(dir, "data/engines.db")
	if cfg.Storage.DatabasePath != want {
		t.Errorf("DatabasePath=%s, want %s", cfg.Storage.DatabasePath, want)
	}
	// Unset fields still get defaults.
	if cfg.Embedding.BatchSize != 5 {
		t.Errorf("BatchSize=%d, want 5", cfg.Embedding.BatchSize)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}
