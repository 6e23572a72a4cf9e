// Package config loads the settings for the compression bridge.
//
// Settings come from three places, applied in order: built-in defaults, an
// optional YAML file, and environment variables (optionally seeded from a
// .env file). Command line flags are applied last by the caller.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/jpfielding/djatoka.go/pkg/kdu"
	"github.com/jpfielding/djatoka.go/pkg/logging"
	"gopkg.in/yaml.v3"
)

// Environment variables read by FromEnv.
const (
	EnvKakaduHome  = "KAKADU_HOME"
	EnvTempDir     = "KAKADU_TEMP_DIR"
	EnvLibraryPath = "KAKADU_LIBRARY_PATH"
	EnvLogLevel    = "DJATOKA_LOG_LEVEL"
)

// Config is the full configuration.
type Config struct {
	Kakadu  KakaduConfig  `yaml:"kakadu"`
	Encode  EncodeConfig  `yaml:"encode"`
	Logging LoggingConfig `yaml:"logging"`
}

// KakaduConfig locates the engine.
type KakaduConfig struct {
	Home        string        `yaml:"home"`         // directory holding kdu_compress
	LibraryPath string        `yaml:"library_path"` // replaces the ambient LD/DYLD_LIBRARY_PATH when set
	TempDir     string        `yaml:"temp_dir"`     // os.TempDir() when empty
	Timeout     time.Duration `yaml:"timeout"`      // per job, 0 = none
}

// EncodeConfig overrides the default encode parameters. Omitted fields keep
// their defaults.
type EncodeConfig struct {
	Rate             *float64 `yaml:"rate,omitempty"`
	Slope            *int     `yaml:"slope,omitempty"`
	Levels           *int     `yaml:"levels,omitempty"`
	Precincts        *string  `yaml:"precincts,omitempty"`
	Layers           *int     `yaml:"layers,omitempty"`
	ProgressionOrder *string  `yaml:"progression_order,omitempty"`
	PacketDivision   *string  `yaml:"packet_division,omitempty"`
	CodeBlockSize    *string  `yaml:"code_block_size,omitempty"`
	InsertPLT        *bool    `yaml:"insert_plt,omitempty"`
	UseReversible    *bool    `yaml:"use_reversible,omitempty"`
	ColorSpace       *string  `yaml:"color_space,omitempty"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // text or json
	File       string `yaml:"file"`   // rotating log file, stderr when empty
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Default returns the configuration used before any file or environment
// is applied. Kakadu.Home has no default.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:      "INFO",
			Format:     "text",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load reads the YAML file at path over the defaults and then applies the
// environment. An empty path skips the file. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file %s: %w", path, err)
		}
	}
	return FromEnv(cfg), nil
}

// FromEnv applies the KAKADU_* and DJATOKA_* environment variables to cfg.
func FromEnv(cfg *Config) *Config {
	if v := os.Getenv(EnvKakaduHome); v != "" {
		cfg.Kakadu.Home = v
	}
	if v := os.Getenv(EnvTempDir); v != "" {
		cfg.Kakadu.TempDir = v
	}
	if v := os.Getenv(EnvLibraryPath); v != "" {
		cfg.Kakadu.LibraryPath = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = v
	}
	return cfg
}

// LoadDotEnv loads variables from a .env file into the process
// environment without overriding ones already set. An empty path tries
// ./.env and ignores its absence.
func LoadDotEnv(path string) error {
	if path == "" {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading .env: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// ValidationError names the setting that failed validation.
type ValidationError struct {
	Field string
	Value any
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s (%v): %v", e.Field, e.Value, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Validate reports every invalid setting, joined.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Kakadu.Home) == "" {
		errs = append(errs, &ValidationError{Field: "kakadu.home", Value: c.Kakadu.Home, Err: kdu.ErrEngineHomeUnset})
	}
	if c.Kakadu.Timeout < 0 {
		errs = append(errs, &ValidationError{Field: "kakadu.timeout", Value: c.Kakadu.Timeout, Err: errors.New("must not be negative")})
	}
	if err := c.EncodeParams().Validate(); err != nil {
		errs = append(errs, &ValidationError{Field: "encode", Value: c.Encode, Err: err})
	}
	if _, err := c.Logging.SlogLevel(); err != nil {
		errs = append(errs, &ValidationError{Field: "logging.level", Value: c.Logging.Level, Err: err})
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, &ValidationError{Field: "logging.format", Value: c.Logging.Format, Err: errors.New("want text or json")})
	}
	return errors.Join(errs...)
}

// EncodeParams returns the default encode parameters with the configured
// overrides applied.
func (c *Config) EncodeParams() *kdu.EncodeParams {
	p := kdu.DefaultEncodeParams()
	e := c.Encode
	if e.Slope != nil {
		p = p.WithSlope(*e.Slope)
	}
	if e.Rate != nil {
		p = p.WithRate(*e.Rate)
	}
	if e.Levels != nil {
		p.Levels = *e.Levels
	}
	if e.Precincts != nil {
		p.Precincts = *e.Precincts
	}
	if e.Layers != nil {
		p.Layers = *e.Layers
	}
	if e.ProgressionOrder != nil {
		p.ProgressionOrder = *e.ProgressionOrder
	}
	if e.PacketDivision != nil {
		p.PacketDivision = *e.PacketDivision
	}
	if e.CodeBlockSize != nil {
		p.CodeBlockSize = *e.CodeBlockSize
	}
	if e.InsertPLT != nil {
		p.InsertPLT = *e.InsertPLT
	}
	if e.UseReversible != nil {
		p.UseReversible = *e.UseReversible
	}
	if e.ColorSpace != nil {
		p.ColorSpace = *e.ColorSpace
	}
	return p
}

// Platform resolves the engine platform for the running process.
func (c *Config) Platform() (*kdu.Platform, error) {
	p, err := kdu.DetectPlatform(c.Kakadu.Home)
	if err != nil {
		return nil, err
	}
	if c.Kakadu.LibraryPath != "" {
		p = p.WithLibraryPath(c.Kakadu.LibraryPath)
	}
	return p, nil
}

// Compressor builds a compressor from the configuration.
func (c *Config) Compressor(logger *slog.Logger) (*kdu.Compressor, error) {
	p, err := c.Platform()
	if err != nil {
		return nil, err
	}
	return kdu.New(p,
		kdu.WithLogger(logger),
		kdu.WithTempDir(c.Kakadu.TempDir),
		kdu.WithTimeout(c.Kakadu.Timeout),
		kdu.WithDefaults(c.EncodeParams()),
	)
}

// SlogLevel parses Level, accepting names like "debug" or "WARN+2".
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if l.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo, err
	}
	return level, nil
}

// JSON reports whether records should be written as JSON.
func (l LoggingConfig) JSON() bool {
	return strings.EqualFold(l.Format, "json")
}

// FileConfig returns the rotating file settings.
func (l LoggingConfig) FileConfig() logging.FileConfig {
	return logging.FileConfig{
		Path:       l.File,
		MaxSizeMB:  l.MaxSizeMB,
		MaxBackups: l.MaxBackups,
		MaxAgeDays: l.MaxAgeDays,
		Compress:   l.Compress,
	}
}
