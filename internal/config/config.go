// Package config provides unified configuration for the streamwh engine.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment variable read by LoadFromEnv.
const EnvPrefix = "STREAMWH_"

// Config holds the unified configuration for the engine and its servers.
type Config struct {
	// DataDir is the base directory for all data files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// Log configuration
	Log LogConfig `json:"log" yaml:"log"`

	// HTTP configuration
	HTTP HTTPConfig `json:"http" yaml:"http"`

	// gRPC configuration
	GRPC GRPCConfig `json:"grpc" yaml:"grpc"`

	// Store holds the dimension and fact store configuration
	Store StoreConfig `json:"store" yaml:"store"`

	// Quarantine holds the invalid event sink configuration
	Quarantine QuarantineConfig `json:"quarantine" yaml:"quarantine"`

	// Sync holds dimension synchronizer tuning
	Sync SyncConfig `json:"sync" yaml:"sync"`

	// Policy holds the initial access policy state
	Policy PolicyConfig `json:"policy" yaml:"policy"`
}

// LogConfig holds logger configuration.
type LogConfig struct {
	// Level is one of trace, debug, info, warn, error
	Level string `json:"level" yaml:"level"`

	// Format is json or console
	Format string `json:"format" yaml:"format"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	// Addr is the HTTP listen address
	Addr string `json:"addr" yaml:"addr"`

	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout" yaml:"idle_timeout"`

	// MaxBodyBytes caps the size of an ingest request body
	MaxBodyBytes int64 `json:"max_body_bytes" yaml:"max_body_bytes"`

	// AdminToken, when set, is required as a bearer token from callers
	// that send no X-Vendor-ID
	AdminToken string `json:"admin_token" yaml:"admin_token"`
}

// GRPCConfig holds gRPC server configuration.
type GRPCConfig struct {
	// Addr is the gRPC server address
	Addr string `json:"addr" yaml:"addr"`

	// Enabled controls whether the gRPC health server runs
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// StoreConfig holds the warehouse store configuration.
type StoreConfig struct {
	// Type is the store type: sqlite, memory
	Type string `json:"type" yaml:"type"`

	// Path is the SQLite database file (for sqlite type)
	Path string `json:"path" yaml:"path"`
}

// QuarantineConfig holds quarantine sink configuration.
type QuarantineConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`

	// MarkerFields are the payload fields searched for a correlation marker
	MarkerFields []string `json:"marker_fields" yaml:"marker_fields"`

	// MaxRetries bounds delivery attempts after the first failure
	MaxRetries int `json:"max_retries" yaml:"max_retries"`

	// RetryBase is the initial backoff between delivery attempts
	RetryBase time.Duration `json:"retry_base" yaml:"retry_base"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// SyncConfig holds dimension synchronizer configuration.
type SyncConfig struct {
	// MaxRetries bounds retries after a concurrency conflict
	MaxRetries int `json:"max_retries" yaml:"max_retries"`

	// RetryBackoff is multiplied by the attempt number between retries
	RetryBackoff time.Duration `json:"retry_backoff" yaml:"retry_backoff"`

	// LockShards is the number of keyed lock shards
	LockShards int `json:"lock_shards" yaml:"lock_shards"`
}

// PolicyConfig holds the access policy configuration.
type PolicyConfig struct {
	// State is one of absent, disabled, enabled
	State string `json:"state" yaml:"state"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data/streamwh",
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		HTTP: HTTPConfig{
			Addr:         ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
			MaxBodyBytes: 16 << 20,
		},
		GRPC: GRPCConfig{
			Addr:    ":9090",
			Enabled: true,
		},
		Store: StoreConfig{
			Type: "sqlite",
		},
		Quarantine: QuarantineConfig{
			Type:         "local",
			MarkerFields: []string{"test_marker", "correlation_id"},
			MaxRetries:   3,
			RetryBase:    100 * time.Millisecond,
		},
		Sync: SyncConfig{
			MaxRetries:   5,
			RetryBackoff: 10 * time.Millisecond,
			LockShards:   64,
		},
		Policy: PolicyConfig{
			State: "absent",
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/streamwh"
	}

	if c.Store.Path == "" {
		c.Store.Path = filepath.Join(c.DataDir, "warehouse.db")
	}

	if c.Quarantine.Path == "" {
		c.Quarantine.Path = filepath.Join(c.DataDir, "quarantine")
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format: %s (must be json or console)", c.Log.Format)
	}

	if c.Store.Type != "sqlite" && c.Store.Type != "memory" {
		return fmt.Errorf("invalid store type: %s (must be sqlite or memory)", c.Store.Type)
	}

	if c.Quarantine.Type != "local" && c.Quarantine.Type != "s3" {
		return fmt.Errorf("invalid quarantine type: %s (must be local or s3)", c.Quarantine.Type)
	}

	if c.Quarantine.Type == "s3" && c.Quarantine.S3.Bucket == "" {
		return fmt.Errorf("quarantine.s3.bucket is required when quarantine type is s3")
	}

	if c.Quarantine.MaxRetries < 0 {
		return fmt.Errorf("quarantine.max_retries must be >= 0, got %d", c.Quarantine.MaxRetries)
	}

	if c.Sync.MaxRetries < 0 {
		return fmt.Errorf("sync.max_retries must be >= 0, got %d", c.Sync.MaxRetries)
	}

	if c.Sync.LockShards < 1 {
		return fmt.Errorf("sync.lock_shards must be >= 1, got %d", c.Sync.LockShards)
	}

	switch c.Policy.State {
	case "absent", "disabled", "enabled":
	default:
		return fmt.Errorf("invalid policy state: %s (must be absent, disabled or enabled)", c.Policy.State)
	}

	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the STREAMWH_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := getenv("DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	// Log configuration
	if v := getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}

	// HTTP configuration
	if v := getenv("HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := getenv("HTTP_ADMIN_TOKEN"); v != "" {
		cfg.HTTP.AdminToken = v
	}

	// gRPC configuration
	if v := getenv("GRPC_ADDR"); v != "" {
		cfg.GRPC.Addr = v
	}
	if v := getenv("GRPC_ENABLED"); v != "" {
		cfg.GRPC.Enabled = v == "true" || v == "1"
	}

	// Store configuration
	if v := getenv("STORE_TYPE"); v != "" {
		cfg.Store.Type = v
	}
	if v := getenv("STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}

	// Quarantine configuration
	if v := getenv("QUARANTINE_TYPE"); v != "" {
		cfg.Quarantine.Type = v
	}
	if v := getenv("QUARANTINE_PATH"); v != "" {
		cfg.Quarantine.Path = v
	}
	if v := getenv("QUARANTINE_MARKER_FIELDS"); v != "" {
		cfg.Quarantine.MarkerFields = splitList(v)
	}
	if v := getenv("QUARANTINE_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Quarantine.MaxRetries = n
		}
	}
	if v := getenv("S3_BUCKET"); v != "" {
		cfg.Quarantine.S3.Bucket = v
	}
	if v := getenv("S3_REGION"); v != "" {
		cfg.Quarantine.S3.Region = v
	}
	if v := getenv("S3_ENDPOINT"); v != "" {
		cfg.Quarantine.S3.Endpoint = v
	}

	// Sync configuration
	if v := getenv("SYNC_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sync.MaxRetries = n
		}
	}
	if v := getenv("SYNC_RETRY_BACKOFF"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sync.RetryBackoff = d
		}
	}

	if v := getenv("POLICY_STATE"); v != "" {
		cfg.Policy.State = v
	}
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir}
	if c.Store.Type == "sqlite" {
		dirs = append(dirs, filepath.Dir(c.Store.Path))
	}
	if c.Quarantine.Type == "local" {
		dirs = append(dirs, c.Quarantine.Path)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

func getenv(name string) string {
	return os.Getenv(EnvPrefix + name)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
