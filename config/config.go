// Package config loads the bonsaidb configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/sushant-115/bonsaidb/core/indexing/bonsai"
	"github.com/sushant-115/bonsaidb/pkg/logger"
	"github.com/sushant-115/bonsaidb/pkg/telemetry"
	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type StorageConfig struct {
	DataFile string `yaml:"data_file"`
	PageSize int    `yaml:"page_size"`
	// BucketSize is the capacity of each bucket; a page holds PageSize/BucketSize buckets.
	BucketSize     int `yaml:"bucket_size"`
	BufferPoolSize int `yaml:"buffer_pool_size"`
	// LegacyFormat formats new buckets in the version-1 layout.
	LegacyFormat bool `yaml:"legacy_format"`
	// BackupRateBytes throttles Backup; zero means unthrottled.
	BackupRateBytes int64 `yaml:"backup_rate_bytes"`
}

type WALConfig struct {
	Dir              string `yaml:"dir"`
	SegmentSizeLimit int64  `yaml:"segment_size_limit"`
}

type Config struct {
	Storage   StorageConfig    `yaml:"storage"`
	WAL       WALConfig        `yaml:"wal"`
	Logger    logger.Config    `yaml:"logger"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// Default returns a configuration that works out of the box in the current
// directory.
func Default() Config {
	return Config{
		Storage: StorageConfig{
			DataFile:       "bonsai.db",
			PageSize:       64 * 1024,
			BucketSize:     bonsai.DefaultBucketSize,
			BufferPoolSize: 64,
		},
		WAL: WALConfig{
			Dir:              "wal",
			SegmentSizeLimit: 64 * 1024 * 1024,
		},
		Logger: logger.Config{
			Level:      "info",
			Format:     "console",
			OutputFile: "stderr",
		},
		Telemetry: telemetry.Config{
			ServiceName: "bonsaidb",
		},
	}
}

// Load reads path over the defaults and validates the result. Fields absent
// from the file keep their default values.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the storage geometry and the required paths.
func (c Config) Validate() error {
	s := c.Storage
	switch {
	case s.DataFile == "":
		return fmt.Errorf("%w: storage.data_file is required", ErrInvalidConfig)
	case c.WAL.Dir == "":
		return fmt.Errorf("%w: wal.dir is required", ErrInvalidConfig)
	case s.BucketSize <= 0 || bonsai.MaxEntrySize(s.BucketSize) <= 0:
		return fmt.Errorf("%w: storage.bucket_size %d is too small", ErrInvalidConfig, s.BucketSize)
	case !s.LegacyFormat && s.BucketSize > bonsai.MaxCompactBucketSize:
		return fmt.Errorf("%w: storage.bucket_size %d exceeds %d", ErrInvalidConfig, s.BucketSize, bonsai.MaxCompactBucketSize)
	case s.PageSize < s.BucketSize || s.PageSize%s.BucketSize != 0:
		return fmt.Errorf("%w: storage.page_size %d must be a multiple of bucket_size %d", ErrInvalidConfig, s.PageSize, s.BucketSize)
	case s.BufferPoolSize <= 0:
		return fmt.Errorf("%w: storage.buffer_pool_size must be positive", ErrInvalidConfig)
	case s.BackupRateBytes < 0:
		return fmt.Errorf("%w: storage.backup_rate_bytes cannot be negative", ErrInvalidConfig)
	case c.WAL.SegmentSizeLimit <= 0:
		return fmt.Errorf("%w: wal.segment_size_limit must be positive", ErrInvalidConfig)
	}
	return nil
}

// BucketsPerPage is how many buckets fit side by side in one page.
func (c Config) BucketsPerPage() int {
	return c.Storage.PageSize / c.Storage.BucketSize
}
