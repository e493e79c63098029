// Package config loads the engine's YAML configuration.
//
// A missing file is not an error: every field has a default, and CLI flags
// override whatever the file sets.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/docsync/internal/provider"
	"github.com/roach88/docsync/internal/store"
)

// Config is the top-level configuration file.
type Config struct {
	Database            string        `yaml:"database"`
	PollInterval        time.Duration `yaml:"poll_interval"`
	CompactionThreshold int           `yaml:"compaction_threshold"`
	MaxUpdateBytes      int           `yaml:"max_update_bytes"`
	DeleteBatchSize     int           `yaml:"delete_batch_size"`
	Log                 Log           `yaml:"log"`
	MetricsAddr         string        `yaml:"metrics_addr"`
}

// Log configures the process logger.
type Log struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // text|json
	File   string `yaml:"file"`   // empty means stderr
}

// ValidLevels and ValidFormats enumerate the accepted log settings.
var (
	ValidLevels  = []string{"debug", "info", "warn", "error"}
	ValidFormats = []string{"text", "json"}
)

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Database:            "docsync.db",
		PollInterval:        store.DefaultPollInterval,
		CompactionThreshold: provider.DefaultCompactionThreshold,
		MaxUpdateBytes:      provider.DefaultMaxUpdateBytes,
		DeleteBatchSize:     store.DefaultDeleteBatchSize,
		Log: Log{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path over the defaults and validates the result.
// A missing file yields the defaults. Unknown fields are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks every field and reports all problems at once.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Database) == "" {
		errs = append(errs, errors.New("database: must not be empty"))
	}
	if c.PollInterval < time.Millisecond {
		errs = append(errs, fmt.Errorf("poll_interval: %v is below 1ms", c.PollInterval))
	}
	if c.CompactionThreshold <= 0 {
		errs = append(errs, fmt.Errorf("compaction_threshold: must be positive, got %d", c.CompactionThreshold))
	}
	if c.MaxUpdateBytes <= 0 {
		errs = append(errs, fmt.Errorf("max_update_bytes: must be positive, got %d", c.MaxUpdateBytes))
	}
	if c.DeleteBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("delete_batch_size: must be positive, got %d", c.DeleteBatchSize))
	}
	if !oneOf(c.Log.Level, ValidLevels) {
		errs = append(errs, fmt.Errorf("log.level: %q must be one of %v", c.Log.Level, ValidLevels))
	}
	if !oneOf(c.Log.Format, ValidFormats) {
		errs = append(errs, fmt.Errorf("log.format: %q must be one of %v", c.Log.Format, ValidFormats))
	}
	return errors.Join(errs...)
}

// ProviderConfig returns the provider tunables.
func (c Config) ProviderConfig() provider.Config {
	return provider.Config{
		CompactionThreshold: c.CompactionThreshold,
		MaxUpdateBytes:      c.MaxUpdateBytes,
	}
}

// StoreOptions returns the options for store.Open.
func (c Config) StoreOptions() []store.Option {
	return []store.Option{
		store.WithPollInterval(c.PollInterval),
		store.WithDeleteBatchSize(c.DeleteBatchSize),
	}
}

// SlogLevel maps Log.Level to a slog level. Unknown values map to Info.
func (l Log) SlogLevel() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if a == v {
			return true
		}
	}
	return false
}
