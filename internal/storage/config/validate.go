package config

import (
	"fmt"
	"time"

	"github.com/xtxerr/yieldstore/internal/errors"
)

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("%w: data_dir is required", errors.ErrInvalidConfig)
	}

	switch c.Compression.Algorithm {
	case "", "none", "snappy", "zstd", "lz4", "gzip":
	default:
		return fmt.Errorf("%w: unknown compression algorithm %q", errors.ErrInvalidConfig, c.Compression.Algorithm)
	}
	if c.Compression.Algorithm == "zstd" && (c.Compression.Level < 0 || c.Compression.Level > 22) {
		return fmt.Errorf("%w: zstd level %d out of range 0-22", errors.ErrInvalidConfig, c.Compression.Level)
	}

	if c.Ingest.Workers < 1 {
		return fmt.Errorf("%w: ingest workers must be >= 1", errors.ErrInvalidConfig)
	}
	if c.Ingest.DefaultStartDate != "" {
		if _, err := time.Parse("2006-01-02", c.Ingest.DefaultStartDate); err != nil {
			return fmt.Errorf("%w: bad default_start_date %q", errors.ErrInvalidConfig, c.Ingest.DefaultStartDate)
		}
	}

	return nil
}
