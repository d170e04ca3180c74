// Package config loads server settings from defaults, a YAML file, a .env
// file and the environment, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/roach88/tally/internal/event"
	"github.com/roach88/tally/internal/eventlog"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "TALLY_"

// Config holds all server settings.
type Config struct {
	Addr            string            `yaml:"addr" json:"addr" env:"ADDR"`
	AllowedOrigins  []string          `yaml:"allowed_origins" json:"allowed_origins" env:"ALLOWED_ORIGINS"`
	Log             LogConfig         `yaml:"log" json:"log" envPrefix:"LOG_"`
	Leaderboard     LeaderboardConfig `yaml:"leaderboard" json:"leaderboard" envPrefix:"LEADERBOARD_"`
	CountedEvents   []string          `yaml:"counted_events" json:"counted_events" env:"COUNTED_EVENTS"`
	Append          AppendConfig      `yaml:"append" json:"append" envPrefix:"APPEND_"`
	LogLevel        string            `yaml:"log_level" json:"log_level" env:"LOG_LEVEL"`
	ShutdownTimeout time.Duration     `yaml:"shutdown_timeout" json:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// LogConfig selects and configures the event log.
type LogConfig struct {
	Backend string `yaml:"backend" json:"backend" env:"BACKEND"`
	Path    string `yaml:"path" json:"path" env:"PATH"`
	Sync    bool   `yaml:"sync" json:"sync" env:"SYNC"`
}

// LeaderboardConfig configures periodic broadcasts.
type LeaderboardConfig struct {
	Interval time.Duration `yaml:"interval" json:"interval" env:"INTERVAL"`
}

// AppendConfig configures append retries.
type AppendConfig struct {
	Retries    int           `yaml:"retries" json:"retries" env:"RETRIES"`
	RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay" env:"RETRY_DELAY"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Addr:           ":8080",
		AllowedOrigins: []string{"*"},
		Log: LogConfig{
			Backend: string(eventlog.BackendFile),
			Path:    "tally.jsonl",
			Sync:    true,
		},
		Leaderboard:     LeaderboardConfig{Interval: 10 * time.Second},
		CountedEvents:   []string{string(event.KindIncrement)},
		Append:          AppendConfig{Retries: 3, RetryDelay: 100 * time.Millisecond},
		LogLevel:        "info",
		ShutdownTimeout: 5 * time.Second,
	}
}

// Load builds a Config from defaults, then the YAML file at path, then the
// dotenv file at envFile, then the process environment. Empty path or
// envFile skips that layer. The result is validated.
func Load(path, envFile string) (Config, error) {
	return load(path, envFile, os.Environ())
}

func load(path, envFile string, environ []string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		if err := readYAML(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	vars := map[string]string{}
	if envFile != "" {
		dotenv, err := godotenv.Read(envFile)
		if err != nil {
			return Config{}, fmt.Errorf("read env file %s: %w", envFile, err)
		}
		vars = dotenv
	}
	// Real environment wins over the dotenv file.
	for k, v := range env.ToMap(environ) {
		vars[k] = v
	}

	if err := env.ParseWithOptions(&cfg, env.Options{
		Prefix:      EnvPrefix,
		Environment: vars,
	}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func readYAML(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// CountedKinds returns the configured counted event kinds.
func (c Config) CountedKinds() []event.Kind {
	return event.ParseKinds(c.CountedEvents)
}

// Backend returns the configured event log backend.
func (c Config) Backend() eventlog.Backend {
	return eventlog.Backend(c.Log.Backend)
}

// SlogLevel maps LogLevel to a slog level. Unknown values mean info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
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
