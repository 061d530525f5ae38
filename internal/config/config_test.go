package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resolve()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, filepath.Join("./data/streamwh", "warehouse.db"), cfg.Store.Path)
	assert.Equal(t, filepath.Join("./data/streamwh", "quarantine"), cfg.Quarantine.Path)
	assert.Equal(t, []string{"test_marker", "correlation_id"}, cfg.Quarantine.MarkerFields)
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty data dir", func(c *Config) { c.DataDir = "" }},
		{"bad store", func(c *Config) { c.Store.Type = "postgres" }},
		{"bad quarantine", func(c *Config) { c.Quarantine.Type = "gcs" }},
		{"s3 without bucket", func(c *Config) { c.Quarantine.Type = "s3" }},
		{"negative retries", func(c *Config) { c.Sync.MaxRetries = -1 }},
		{"no shards", func(c *Config) { c.Sync.LockShards = 0 }},
		{"bad policy", func(c *Config) { c.Policy.State = "on" }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadFromFile_YAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "streamwh.yaml")
	content := `
data_dir: /var/lib/streamwh
store:
  type: memory
quarantine:
  type: s3
  s3:
    bucket: quarantine-bucket
    region: eu-west-1
  max_retries: 7
sync:
  retry_backoff: 25ms
policy:
  state: enabled
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/streamwh", cfg.DataDir)
	assert.Equal(t, "memory", cfg.Store.Type)
	assert.Equal(t, "quarantine-bucket", cfg.Quarantine.S3.Bucket)
	assert.Equal(t, 7, cfg.Quarantine.MaxRetries)
	assert.Equal(t, 25*time.Millisecond, cfg.Sync.RetryBackoff)
	assert.Equal(t, "enabled", cfg.Policy.State)
	// untouched sections keep defaults
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 64, cfg.Sync.LockShards)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromFile_UnsupportedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "streamwh.toml")
	require.NoError(t, os.WriteFile(path, []byte("x = 1"), 0644))
	_, err := LoadFromFile(path)
	assert.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("STREAMWH_DATA_DIR", "/tmp/wh")
	t.Setenv("STREAMWH_STORE_TYPE", "memory")
	t.Setenv("STREAMWH_QUARANTINE_MARKER_FIELDS", "trace_id, test_marker")
	t.Setenv("STREAMWH_SYNC_MAX_RETRIES", "9")
	t.Setenv("STREAMWH_GRPC_ENABLED", "false")
	t.Setenv("STREAMWH_POLICY_STATE", "disabled")
	t.Setenv("STREAMWH_HTTP_ADMIN_TOKEN", "s3cret")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	assert.Equal(t, "/tmp/wh", cfg.DataDir)
	assert.Equal(t, "memory", cfg.Store.Type)
	assert.Equal(t, []string{"trace_id", "test_marker"}, cfg.Quarantine.MarkerFields)
	assert.Equal(t, 9, cfg.Sync.MaxRetries)
	assert.False(t, cfg.GRPC.Enabled)
	assert.Equal(t, "disabled", cfg.Policy.State)
	assert.Equal(t, "s3cret", cfg.HTTP.AdminToken)
}

func TestEnsureDirectories(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.Resolve()

	require.NoError(t, cfg.EnsureDirectories())
	assert.DirExists(t, cfg.DataDir)
	assert.DirExists(t, cfg.Quarantine.Path)
}
