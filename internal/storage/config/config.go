// Package config holds the storage configuration, loaded from YAML with
// environment overrides for credentials.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the complete storage configuration.
type Config struct {
	// DataDir is the root directory for all partition files. Swapping it
	// for an object-store URI is a Store implementation concern; nothing
	// above the columnar store interprets it.
	DataDir string `yaml:"data_dir"`

	// Compression configures Parquet compression.
	Compression CompressionConfig `yaml:"compression"`

	// Ingest configures the ingestion pipeline.
	Ingest IngestConfig `yaml:"ingest"`

	// Query configures the query service.
	Query QueryConfig `yaml:"query"`

	// Provider configures the remote data provider.
	Provider ProviderConfig `yaml:"provider"`
}

// CompressionConfig configures Parquet compression.
type CompressionConfig struct {
	// Algorithm is the compression algorithm: snappy, zstd, lz4, gzip, none.
	Algorithm string `yaml:"algorithm"`

	// Level is the compression level (for zstd: 1-22).
	Level int `yaml:"level"`
}

// IngestConfig configures the ingestion pipeline.
type IngestConfig struct {
	// Workers is the number of tickers updated in parallel.
	Workers int `yaml:"workers"`

	// DefaultStartDate bounds the first fetch for tickers with no stored
	// history, ISO-8601.
	DefaultStartDate string `yaml:"default_start_date"`

	// DropInvalid drops rows failing validation instead of aborting the
	// ticker's batch.
	DropInvalid bool `yaml:"drop_invalid"`
}

// QueryConfig configures the query service.
type QueryConfig struct {
	// MemoryLimit is the DuckDB memory limit, e.g. "1GB".
	MemoryLimit string `yaml:"memory_limit"`
}

// ProviderConfig configures the remote data provider.
type ProviderConfig struct {
	// APIKey authenticates against the provider. The YIELDSTORE_API_KEY
	// environment variable overrides the file value so keys stay out of
	// config files.
	APIKey string `yaml:"api_key"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	config.applyEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "data",
		Compression: CompressionConfig{
			Algorithm: "zstd",
			Level:     3,
		},
		Ingest: IngestConfig{
			Workers:          8,
			DefaultStartDate: "2020-01-01",
			DropInvalid:      false,
		},
		Query: QueryConfig{
			MemoryLimit: "1GB",
		},
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("YIELDSTORE_API_KEY"); v != "" {
		c.Provider.APIKey = v
	}
	if v := os.Getenv("YIELDSTORE_DATA_DIR"); v != "" {
		c.DataDir = v
	}
}

// EnsureDirectories creates the data root if it does not exist. Dataset
// subtrees are created lazily by the first partition write.
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(c.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	return nil
}
