// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrInvalidJobs is returned when JOBS is negative.
	ErrInvalidJobs = errors.New("config: JOBS must not be negative")
	// ErrInvalidCacheBudget is returned for a negative size budget or TTL.
	ErrInvalidCacheBudget = errors.New("config: CACHE_MAX_BYTES, CACHE_TTL and CACHE_PRUNE_INTERVAL must not be negative")
	// ErrInvalidTiles is returned when the tile cache sizing is out of range.
	ErrInvalidTiles = errors.New("config: TILE_CAPACITY must be at least 1 and TILE_WORKERS between 1 and 8")
	// ErrIncompleteS3 is returned when only part of the S3 settings is given.
	ErrIncompleteS3 = errors.New("config: S3_BUCKET and S3_REGION must be set together")
	// ErrIncompleteCredentials is returned when only one half of the AWS key
	// pair is set.
	ErrIncompleteCredentials = errors.New("config: AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY must be set together")
)

const maxTileWorkers = 8

// Config holds all configuration for the application.
type Config struct {
	// Output settings
	OutputDir string `env:"OUTPUT_DIR, default=samplepacker_output" json:"output_dir"`

	// Cache settings. An empty CacheDir resolves to the user cache directory.
	CacheDir           string        `env:"CACHE_DIR" json:"cache_dir"`
	CacheMaxBytes      int64         `env:"CACHE_MAX_BYTES, default=2147483648" json:"cache_max_bytes"`
	CacheTTL           time.Duration `env:"CACHE_TTL, default=720h" json:"cache_ttl"`
	CachePruneInterval time.Duration `env:"CACHE_PRUNE_INTERVAL, default=1h" json:"cache_prune_interval"`

	// Processing settings. Zero jobs keeps the settings default of one
	// worker per CPU.
	Jobs       int    `env:"JOBS, default=0" json:"jobs"`
	FFmpegPath string `env:"FFMPEG_PATH" json:"ffmpeg_path,omitempty"`

	// Spectrogram tile cache
	TileCapacity int `env:"TILE_CAPACITY, default=64" json:"tile_capacity"`
	TileWorkers  int `env:"TILE_WORKERS, default=2" json:"tile_workers"`

	// Optional S3 mirror
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	S3Prefix           string `env:"S3_PREFIX" json:"s3_prefix,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// Load reads configuration from environment variables using go-envconfig
// and validates it.
func Load() (*Config, error) {
	return LoadFrom(context.Background(), envconfig.OsLookuper())
}

// LoadFrom reads configuration through l.
func LoadFrom(ctx context.Context, l envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}

	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: cfg, Lookuper: l}); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and settings that only make sense together. All
// problems are reported at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Jobs < 0 {
		errs = append(errs, ErrInvalidJobs)
	}
	if c.CacheMaxBytes < 0 || c.CacheTTL < 0 || c.CachePruneInterval < 0 {
		errs = append(errs, ErrInvalidCacheBudget)
	}
	if c.TileCapacity < 1 || c.TileWorkers < 1 || c.TileWorkers > maxTileWorkers {
		errs = append(errs, ErrInvalidTiles)
	}
	if (c.S3Bucket == "") != (c.S3Region == "") {
		errs = append(errs, ErrIncompleteS3)
	}
	if (c.AWSAccessKeyID == "") != (c.AWSSecretAccessKey == "") {
		errs = append(errs, ErrIncompleteCredentials)
	}
	return errors.Join(errs...)
}

// ResolvedCacheDir returns CacheDir, or a samplepacker directory under the
// user cache directory when it is empty.
func (c *Config) ResolvedCacheDir() string {
	if c.CacheDir != "" {
		return c.CacheDir
	}
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, "samplepacker")
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for collection.
// Otherwise, it outputs human-readable text logs. Logs go to stderr so that
// command output on stdout stays clean.
func (c *Config) NewLogger() *slog.Logger {
	return c.NewLoggerTo(os.Stderr)
}

// NewLoggerTo is NewLogger writing to w.
func (c *Config) NewLoggerTo(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(c.LogLevel)}

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{OutputDir: %s, CacheDir: %s, CacheMaxBytes: %d, CacheTTL: %s, CachePruneInterval: %s, Jobs: %d, FFmpegPath: %s, TileCapacity: %d, TileWorkers: %d, S3Bucket: %s, S3Region: %s, S3Endpoint: %s, S3Prefix: %s, AWSAccessKeyID: %s, AWSSecretAccessKey: %s, LogFormat: %s, LogLevel: %s}",
		c.OutputDir,
		c.CacheDir,
		c.CacheMaxBytes,
		c.CacheTTL,
		c.CachePruneInterval,
		c.Jobs,
		c.FFmpegPath,
		c.TileCapacity,
		c.TileWorkers,
		c.S3Bucket,
		c.S3Region,
		c.S3Endpoint,
		c.S3Prefix,
		mask(c.AWSAccessKeyID),
		mask(c.AWSSecretAccessKey),
		c.LogFormat,
		c.LogLevel,
	)
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "****"
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
