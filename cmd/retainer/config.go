package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	Retention RetentionConfig `mapstructure:"retention"`
	Source    SourceConfig    `mapstructure:"source"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Log       LogConfig       `mapstructure:"log"`
	Server    ServerConfig    `mapstructure:"server"`
	Refresh   RefreshConfig   `mapstructure:"refresh"`
	Report    ReportConfig    `mapstructure:"report"`
}

// RetentionConfig holds retention configuration.
type RetentionConfig struct {
	AmountOfReleases int `mapstructure:"amount_of_releases"`
}

// Source kinds.
const (
	SourceFixtures = "fixtures"
	SourceSQLite   = "sqlite"
	SourceHTTP     = "http"
)

// SourceConfig selects where the four collections are read from.
type SourceConfig struct {
	// Kind is one of "fixtures", "sqlite" or "http".
	Kind string `mapstructure:"kind"`

	// FixturesDir holds <Resource>.json or .yaml files. Empty uses the
	// embedded sample data. Also used to seed an empty SQLite database.
	FixturesDir string `mapstructure:"fixtures_dir"`

	// Timeout bounds one load of all four collections.
	Timeout time.Duration `mapstructure:"timeout"`

	HTTP HTTPSourceConfig `mapstructure:"http"`
}

// HTTPSourceConfig configures reading from another retainer's API.
type HTTPSourceConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`

	// SeedFixtures imports the fixtures into an empty database on start.
	SeedFixtures bool `mapstructure:"seed_fixtures"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	APIKey          string        `mapstructure:"api_key"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Address returns the server address in host:port format.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RefreshConfig holds the periodic refresh configuration.
type RefreshConfig struct {
	// Interval between refreshes while serving. Zero disables them.
	Interval time.Duration `mapstructure:"interval"`
}

// ReportConfig selects the report printed after the first load.
type ReportConfig struct {
	// Format is "text", "json" or "none".
	Format string `mapstructure:"format"`
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("retention.amount_of_releases", 3)
	v.SetDefault("source.kind", SourceFixtures)
	v.SetDefault("source.fixtures_dir", "")
	v.SetDefault("source.timeout", "10s")
	v.SetDefault("source.http.base_url", "http://localhost:8080")
	v.SetDefault("source.http.api_key", "")
	v.SetDefault("database.dsn", "./data/retainer.db")
	v.SetDefault("database.seed_fixtures", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("refresh.interval", "0s")
	v.SetDefault("report.format", "text")

	// Load from file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// Only return error if file was explicitly specified and is invalid
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			// File not found is OK, we'll use defaults
		}
	}

	// Enable environment variable overrides
	v.SetEnvPrefix("RETAINER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks values that have no usable fallback.
func (c *Config) Validate() error {
	var errs []error

	if c.Retention.AmountOfReleases <= 0 {
		errs = append(errs, fmt.Errorf("retention.amount_of_releases must be positive, got %d", c.Retention.AmountOfReleases))
	}

	switch c.Source.Kind {
	case SourceFixtures, SourceSQLite:
	case SourceHTTP:
		if c.Source.HTTP.BaseURL == "" {
			errs = append(errs, errors.New("source.http.base_url is required for the http source"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown source.kind %q", c.Source.Kind))
	}

	switch c.Report.Format {
	case "text", "json", "none":
	default:
		errs = append(errs, fmt.Errorf("unknown report.format %q", c.Report.Format))
	}

	if c.Refresh.Interval < 0 {
		errs = append(errs, errors.New("refresh.interval must not be negative"))
	}

	return errors.Join(errs...)
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format.
func SetupLogger(cfg *Config, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}
