// Package config loads the tandem configuration: a CUE schema compiled into
// the binary, an optional user file unified with it, then environment
// overrides. The result is validated against the schema at every step.
package config

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

//go:embed schema.cue
var schemaCUE string

// Backend names.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config is the effective configuration.
type Config struct {
	Backend  string   `json:"backend"`
	Strict   bool     `json:"strict"`
	LogLevel string   `json:"log_level"`
	SQLite   SQLite   `json:"sqlite"`
	Redis    Redis    `json:"redis"`
	Postgres Postgres `json:"postgres"`
}

// SQLite configures the shared-file backend.
type SQLite struct {
	Path   string `json:"path"`
	PollMS int    `json:"poll_ms"`
}

// Redis configures the Redis backend.
type Redis struct {
	URL    string `json:"url"`
	Prefix string `json:"prefix"`
}

// Postgres configures the Postgres backend.
type Postgres struct {
	URL       string `json:"url"`
	ListenURL string `json:"listen_url"`
}

// PollInterval returns the SQLite change-log poll interval.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.SQLite.PollMS) * time.Millisecond
}

// ListenURL returns the Postgres LISTEN connection string.
func (c Config) ListenURL() string {
	if c.Postgres.ListenURL != "" {
		return c.Postgres.ListenURL
	}
	return c.Postgres.URL
}

// Level returns LogLevel as a slog level.
func (c Config) Level() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Load reads the configuration. path may be empty for defaults only.
// Environment overrides come from os.Getenv.
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, os.Getenv)
}

// LoadWithEnv is Load with an explicit environment lookup.
func LoadWithEnv(path string, getenv func(string) string) (*Config, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	v := def
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		user := ctx.CompileBytes(data, cue.Filename(path))
		if err := user.Err(); err != nil {
			return nil, formatCUEError(err)
		}
		v = def.Unify(user)
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}

	if err := applyEnv(cfg, getenv); err != nil {
		return nil, err
	}
	// Re-check overrides against the schema.
	if _, err := decode(def.Unify(ctx.Encode(cfg))); err != nil {
		return nil, fmt.Errorf("environment override: %w", err)
	}
	return cfg, nil
}

func decode(v cue.Value) (*Config, error) {
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}
	var cfg Config
	if err := v.Decode(&cfg); err != nil {
		return nil, formatCUEError(err)
	}
	return &cfg, nil
}

// applyEnv overrides cfg from TANDEM_* variables.
func applyEnv(cfg *Config, getenv func(string) string) error {
	cfg.Backend = envOr(getenv, "TANDEM_BACKEND", cfg.Backend)
	cfg.LogLevel = envOr(getenv, "TANDEM_LOG_LEVEL", cfg.LogLevel)
	cfg.SQLite.Path = envOr(getenv, "TANDEM_SQLITE_PATH", cfg.SQLite.Path)
	cfg.Redis.URL = envOr(getenv, "TANDEM_REDIS_URL", cfg.Redis.URL)
	cfg.Postgres.URL = envOr(getenv, "TANDEM_DATABASE_URL", cfg.Postgres.URL)

	if s := getenv("TANDEM_STRICT"); s != "" {
		strict, err := strconv.ParseBool(s)
		if err != nil {
			return fmt.Errorf("TANDEM_STRICT: %w", err)
		}
		cfg.Strict = strict
	}
	return nil
}

func envOr(getenv func(string) string, key, fallback string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return fallback
}

// Error is a configuration error with its CUE source position, if known.
type Error struct {
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: config: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Message)
	}
	return "config: " + e.Message
}

// formatCUEError returns the first CUE error with position info.
func formatCUEError(err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return &Error{Message: err.Error()}
	}
	first := errs[0]
	cfgErr := &Error{Message: first.Error()}
	if positions := errors.Positions(first); len(positions) > 0 {
		cfgErr.Pos = positions[0]
	}
	return cfgErr
}
