package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tally/internal/event"
	"github.com/roach88/tally/internal/eventlog"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaults_AreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, eventlog.BackendFile, cfg.Backend())
	assert.Equal(t, []event.Kind{event.KindIncrement}, cfg.CountedKinds())
	assert.Equal(t, 10*time.Second, cfg.Leaderboard.Interval)
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
}

func TestLoad_NoSources(t *testing.T) {
	cfg, err := load("", "", nil)
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
}

func TestLoad_YAML(t *testing.T) {
	cfg, err := load(filepath.Join("testdata", "tally.yaml"), "", nil)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Addr)
	assert.Equal(t, []string{"https://tally.example"}, cfg.AllowedOrigins)
	assert.Equal(t, LogConfig{Backend: "sqlite", Path: "/var/lib/tally/events.db", Sync: false}, cfg.Log)
	assert.Equal(t, 2*time.Second, cfg.Leaderboard.Interval)
	assert.Equal(t, []event.Kind{event.KindIncrement, "click"}, cfg.CountedKinds())
	assert.Equal(t, AppendConfig{Retries: 5, RetryDelay: 250 * time.Millisecond}, cfg.Append)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
}

func TestLoad_PartialYAMLKeepsDefaults(t *testing.T) {
	path := writeFile(t, "tally.yaml", "log:\n  path: other.jsonl\n")
	cfg, err := load(path, "", nil)
	require.NoError(t, err)

	assert.Equal(t, "other.jsonl", cfg.Log.Path)
	assert.Equal(t, "file", cfg.Log.Backend)
	assert.True(t, cfg.Log.Sync)
	assert.Equal(t, ":8080", cfg.Addr)
}

func TestLoad_EmptyYAML(t *testing.T) {
	cfg, err := load(writeFile(t, "tally.yaml", ""), "", nil)
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
}

func TestLoad_UnknownYAMLField(t *testing.T) {
	path := writeFile(t, "tally.yaml", "adr: \":9000\"\n")
	_, err := load(path, "", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "adr")
}

func TestLoad_MissingFiles(t *testing.T) {
	_, err := load(filepath.Join(t.TempDir(), "nope.yaml"), "", nil)
	assert.True(t, errors.Is(err, os.ErrNotExist))

	_, err = load("", filepath.Join(t.TempDir(), "nope.env"), nil)
	assert.Error(t, err)
}

func TestLoad_Environment(t *testing.T) {
	environ := []string{
		"TALLY_ADDR=:7000",
		"TALLY_ALLOWED_ORIGINS=https://a.example,https://b.example",
		"TALLY_LOG_BACKEND=sqlite",
		"TALLY_LOG_PATH=env.db",
		"TALLY_LOG_SYNC=false",
		"TALLY_LEADERBOARD_INTERVAL=1s",
		"TALLY_COUNTED_EVENTS=increment,tap",
		"TALLY_APPEND_RETRIES=0",
		"TALLY_APPEND_RETRY_DELAY=0s",
		"TALLY_LOG_LEVEL=warn",
		"TALLY_SHUTDOWN_TIMEOUT=1m",
		"ADDR=:1", // unprefixed, ignored
	}
	cfg, err := load(filepath.Join("testdata", "tally.yaml"), "", environ)
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.Addr)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, LogConfig{Backend: "sqlite", Path: "env.db", Sync: false}, cfg.Log)
	assert.Equal(t, time.Second, cfg.Leaderboard.Interval)
	assert.Equal(t, []string{"increment", "tap"}, cfg.CountedEvents)
	assert.Equal(t, AppendConfig{}, cfg.Append)
	assert.Equal(t, slog.LevelWarn, cfg.SlogLevel())
	assert.Equal(t, time.Minute, cfg.ShutdownTimeout)
}

func TestLoad_DotenvBelowEnvironment(t *testing.T) {
	envFile := writeFile(t, ".env", "TALLY_ADDR=:7001\nTALLY_LOG_PATH=dotenv.jsonl\n")
	cfg, err := load("", envFile, []string{"TALLY_ADDR=:7002"})
	require.NoError(t, err)

	assert.Equal(t, ":7002", cfg.Addr)
	assert.Equal(t, "dotenv.jsonl", cfg.Log.Path)
}

func TestLoad_BadEnvironmentValue(t *testing.T) {
	_, err := load("", "", []string{"TALLY_APPEND_RETRIES=lots"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse env")
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"backend", func(c *Config) { c.Log.Backend = "s3" }, "log.backend"},
		{"empty path", func(c *Config) { c.Log.Path = "" }, "log.path"},
		{"addr without port", func(c *Config) { c.Addr = "localhost" }, "addr"},
		{"no origins", func(c *Config) { c.AllowedOrigins = nil }, "allowed_origins"},
		{"interval", func(c *Config) { c.Leaderboard.Interval = 0 }, "leaderboard.interval_ms"},
		{"retries", func(c *Config) { c.Append.Retries = -1 }, "append.retries"},
		{"lifecycle counted", func(c *Config) { c.CountedEvents = []string{"connect"} }, "counted_events"},
		{"no counted events", func(c *Config) { c.CountedEvents = []string{} }, "counted_events"},
		{"log level", func(c *Config) { c.LogLevel = "verbose" }, "log_level"},
		{"shutdown", func(c *Config) { c.ShutdownTimeout = 0 }, "shutdown_timeout_ms"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)

			err := cfg.Validate()
			require.Error(t, err)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestLoad_InvalidResult(t *testing.T) {
	_, err := load("", "", []string{"TALLY_LOG_BACKEND=postgres"})
	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestSlogLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
	} {
		assert.Equal(t, want, Config{LogLevel: in}.SlogLevel(), in)
	}
}
