// Package config provides configuration loading and structs for the Kotaeru server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Project   string          `yaml:"project"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Objects   ObjectsConfig   `yaml:"objects"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Index     IndexConfig     `yaml:"index"`
	Query     QueryConfig     `yaml:"query"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds the metadata database path.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// ObjectsConfig holds object storage settings. Backend is "gcs" or "memory";
// memory is only useful for local development and tests.
type ObjectsConfig struct {
	Backend string `yaml:"backend"`
}

// EmbeddingConfig holds embedding encoder settings. CallsPerMinute is the
// external service's global rate ceiling; it is configuration rather than a
// constant so tests can inject a fast limiter.
type EmbeddingConfig struct {
	Backend        string  `yaml:"backend"` // "gemini" or "mock"
	Model          string  `yaml:"model"`
	APIKeyEnv      string  `yaml:"api_key_env"`
	Dimensions     int     `yaml:"dimensions"`
	BatchSize      int     `yaml:"batch_size"`
	CallsPerMinute float64 `yaml:"calls_per_minute"`
	Workers        int     `yaml:"workers"`
}

// CallsPerSecond returns the rate ceiling as calls per second.
func (e *EmbeddingConfig) CallsPerSecond() float64 {
	return e.CallsPerMinute / 60.0
}

// IndexConfig holds ANN index build parameters.
type IndexConfig struct {
	ApproximateNeighborCount int    `yaml:"approximate_neighbor_count"`
	DistanceMeasure          string `yaml:"distance_measure"`
	LeafNodeEmbeddingCount   int    `yaml:"leaf_node_embedding_count"`
	LeafNodesToSearchPercent int    `yaml:"leaf_nodes_to_search_percent"`
	MaxChunksPerFile         int    `yaml:"max_chunks_per_file"`
}

// QueryConfig holds query-time settings.
type QueryConfig struct {
	NumNeighbors int    `yaml:"num_neighbors"`
	ChunkSize    int    `yaml:"chunk_size"`
	ChatModel    string `yaml:"chat_model"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)

	return &cfg, nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
