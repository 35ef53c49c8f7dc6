package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bonsai.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, 32, cfg.BucketsPerPage())
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
storage:
  data_file: /var/lib/bonsai/data.db
  bucket_size: 4096
  backup_rate_bytes: 1048576
wal:
  dir: /var/lib/bonsai/wal
logger:
  level: debug
telemetry:
  enabled: true
  prometheus_addr: ":9464"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/var/lib/bonsai/data.db", cfg.Storage.DataFile)
	require.Equal(t, 4096, cfg.Storage.BucketSize)
	require.Equal(t, 64*1024, cfg.Storage.PageSize)
	require.Equal(t, int64(1<<20), cfg.Storage.BackupRateBytes)
	require.Equal(t, "/var/lib/bonsai/wal", cfg.WAL.Dir)
	require.Equal(t, int64(64*1024*1024), cfg.WAL.SegmentSizeLimit)
	require.Equal(t, "debug", cfg.Logger.Level)
	require.Equal(t, "console", cfg.Logger.Format)
	require.True(t, cfg.Telemetry.Enabled)
	require.Equal(t, ":9464", cfg.Telemetry.PrometheusAddr)
	require.Equal(t, 16, cfg.BucketsPerPage())
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"page not a multiple of bucket", "storage:\n  page_size: 5000\n"},
		{"bucket too small", "storage:\n  bucket_size: 64\n"},
		{"compact bucket too large", "storage:\n  bucket_size: 131072\n  page_size: 131072\n"},
		{"no wal dir", "wal:\n  dir: \"\"\n"},
		{"empty pool", "storage:\n  buffer_pool_size: 0\n"},
		{"malformed yaml", "storage: [1, 2\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestLegacyAllowsLargeBuckets(t *testing.T) {
	cfg := Default()
	cfg.Storage.LegacyFormat = true
	cfg.Storage.BucketSize = 128 * 1024
	cfg.Storage.PageSize = 128 * 1024
	require.NoError(t, cfg.Validate())
}
