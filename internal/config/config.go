// Package config provides unified configuration for the ipcscan binaries.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/arkilian/ipcscan/internal/storage"
)

// Config holds the unified configuration.
type Config struct {
	// DataDir is the base directory for all data files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// Log configuration
	Log LogConfig `json:"log" yaml:"log"`

	// Storage configuration
	Storage StorageConfig `json:"storage" yaml:"storage"`

	// Scan configuration
	Scan ScanConfig `json:"scan" yaml:"scan"`

	// Ingest configuration
	Ingest IngestConfig `json:"ingest" yaml:"ingest"`

	// Catalog configuration
	Catalog CatalogConfig `json:"catalog" yaml:"catalog"`

	// Metrics configuration
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
}

// LogConfig holds logger configuration.
type LogConfig struct {
	// Format is logfmt or json
	Format string `json:"format" yaml:"format"`

	// Level is debug, info, warn or error
	Level string `json:"level" yaml:"level"`
}

// StorageConfig holds storage configuration.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage root (for local type)
	Path string `json:"path" yaml:"path"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// UsePathStyle enables path-style addressing
	UsePathStyle bool `json:"use_path_style" yaml:"use_path_style"`
}

// ScanConfig holds table scan defaults.
type ScanConfig struct {
	// MaxConcurrency bounds open decoders per table across all partitions
	MaxConcurrency int `json:"max_concurrency" yaml:"max_concurrency"`

	// TargetPartitions is the number of partitions a scan is split into
	TargetPartitions int `json:"target_partitions" yaml:"target_partitions"`

	// BatchSize re-chunks decoded batches to at most this many rows (0 = as stored)
	BatchSize int `json:"batch_size" yaml:"batch_size"`

	// FileExtension selects member files of a table
	FileExtension string `json:"file_extension" yaml:"file_extension"`
}

// IngestConfig holds writer configuration.
type IngestConfig struct {
	// WorkDir is where files are staged before upload
	WorkDir string `json:"work_dir" yaml:"work_dir"`

	// RowsPerFile caps the rows written to one table file
	RowsPerFile int64 `json:"rows_per_file" yaml:"rows_per_file"`

	// RowsPerBatch caps the rows of one record batch inside a file
	RowsPerBatch int64 `json:"rows_per_batch" yaml:"rows_per_batch"`

	// Compression is none, lz4 or zstd
	Compression string `json:"compression" yaml:"compression"`
}

// CatalogConfig holds manifest catalog configuration.
type CatalogConfig struct {
	// Path is the SQLite database file
	Path string `json:"path" yaml:"path"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled dumps scan metrics after each query
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data/ipcscan",
		Log: LogConfig{
			Format: "logfmt",
			Level:  "info",
		},
		Storage: StorageConfig{
			Type: "local",
		},
		Scan: ScanConfig{
			MaxConcurrency:   4,
			TargetPartitions: 4,
			BatchSize:        0,
			FileExtension:    ".arrow_file",
		},
		Ingest: IngestConfig{
			RowsPerFile:  1 << 20,
			RowsPerBatch: 8192,
			Compression:  "none",
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/ipcscan"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "storage")
	}
	if c.Ingest.WorkDir == "" {
		c.Ingest.WorkDir = filepath.Join(c.DataDir, "staging")
	}
	if c.Catalog.Path == "" {
		c.Catalog.Path = filepath.Join(c.DataDir, "manifest.db")
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	switch c.Log.Format {
	case "logfmt", "json":
	default:
		return fmt.Errorf("invalid log format: %s (must be logfmt or json)", c.Log.Format)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn or error)", c.Log.Level)
	}

	if c.Storage.Type != "local" && c.Storage.Type != "s3" {
		return fmt.Errorf("invalid storage type: %s (must be local or s3)", c.Storage.Type)
	}
	if c.Storage.Type == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required when storage type is s3")
	}

	if c.Scan.MaxConcurrency <= 0 {
		return fmt.Errorf("scan.max_concurrency must be > 0, got %d", c.Scan.MaxConcurrency)
	}
	if c.Scan.TargetPartitions <= 0 {
		return fmt.Errorf("scan.target_partitions must be > 0, got %d", c.Scan.TargetPartitions)
	}
	if c.Scan.BatchSize < 0 {
		return fmt.Errorf("scan.batch_size must be >= 0, got %d", c.Scan.BatchSize)
	}
	if !strings.HasPrefix(c.Scan.FileExtension, ".") {
		return fmt.Errorf("scan.file_extension must start with '.', got %q", c.Scan.FileExtension)
	}

	if c.Ingest.RowsPerFile <= 0 || c.Ingest.RowsPerBatch <= 0 {
		return fmt.Errorf("ingest.rows_per_file and ingest.rows_per_batch must be > 0")
	}
	switch c.Ingest.Compression {
	case "none", "lz4", "zstd":
	default:
		return fmt.Errorf("invalid ingest compression: %s (must be none, lz4 or zstd)", c.Ingest.Compression)
	}

	return nil
}

// S3 returns the storage-level S3 settings.
func (c *Config) S3() storage.S3Config {
	cfg := storage.DefaultS3Config()
	if c.Storage.S3.Region != "" {
		cfg.Region = c.Storage.S3.Region
	}
	cfg.Endpoint = c.Storage.S3.Endpoint
	cfg.UsePathStyle = c.Storage.S3.UsePathStyle
	return cfg
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

// LoadFromEnv overrides cfg from environment variables with the IPCSCAN_
// prefix. Unparseable numbers are reported rather than ignored.
func LoadFromEnv(cfg *Config) error {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	var errs []string
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s=%q", key, v))
				return
			}
			*dst = n
		}
	}
	setInt64 := func(key string, dst *int64) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s=%q", key, v))
				return
			}
			*dst = n
		}
	}
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	setString("IPCSCAN_DATA_DIR", &cfg.DataDir)

	setString("IPCSCAN_LOG_FORMAT", &cfg.Log.Format)
	setString("IPCSCAN_LOG_LEVEL", &cfg.Log.Level)

	setString("IPCSCAN_STORAGE_TYPE", &cfg.Storage.Type)
	setString("IPCSCAN_STORAGE_PATH", &cfg.Storage.Path)
	setString("IPCSCAN_S3_BUCKET", &cfg.Storage.S3.Bucket)
	setString("IPCSCAN_S3_REGION", &cfg.Storage.S3.Region)
	setString("IPCSCAN_S3_ENDPOINT", &cfg.Storage.S3.Endpoint)
	setBool("IPCSCAN_S3_USE_PATH_STYLE", &cfg.Storage.S3.UsePathStyle)

	setInt("IPCSCAN_SCAN_MAX_CONCURRENCY", &cfg.Scan.MaxConcurrency)
	setInt("IPCSCAN_SCAN_TARGET_PARTITIONS", &cfg.Scan.TargetPartitions)
	setInt("IPCSCAN_SCAN_BATCH_SIZE", &cfg.Scan.BatchSize)
	setString("IPCSCAN_SCAN_FILE_EXTENSION", &cfg.Scan.FileExtension)

	setString("IPCSCAN_INGEST_WORK_DIR", &cfg.Ingest.WorkDir)
	setInt64("IPCSCAN_INGEST_ROWS_PER_FILE", &cfg.Ingest.RowsPerFile)
	setInt64("IPCSCAN_INGEST_ROWS_PER_BATCH", &cfg.Ingest.RowsPerBatch)
	setString("IPCSCAN_INGEST_COMPRESSION", &cfg.Ingest.Compression)

	setString("IPCSCAN_CATALOG_PATH", &cfg.Catalog.Path)
	setBool("IPCSCAN_METRICS_ENABLED", &cfg.Metrics.Enabled)

	if len(errs) > 0 {
		return fmt.Errorf("invalid numeric environment values: %s", strings.Join(errs, ", "))
	}
	return nil
}

// EnsureDirectories creates all required local directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		c.Ingest.WorkDir,
		filepath.Dir(c.Catalog.Path),
	}
	if c.Storage.Type == "local" {
		dirs = append(dirs, c.Storage.Path)
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
