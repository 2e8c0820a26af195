// Package config loads smartcalc.yaml.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/petal-labs/smartcalc/expr"
	"github.com/petal-labs/smartcalc/store"
)

const (
	projectConfigName = "smartcalc.yaml"
	homeConfigDir     = ".smartcalc"
	homeConfigName    = "config.yaml"
	defaultSQLiteDB   = "smartcalc.db"

	// EnvSQLitePath overrides store.sqlite_path.
	EnvSQLitePath = "SMARTCALC_SQLITE_PATH"
)

// Store drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// Config is the smartcalc.yaml file shape.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Limits    LimitsConfig    `yaml:"limits"`
	Store     StoreConfig     `yaml:"store"`
	History   HistoryConfig   `yaml:"history"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	CORSOrigin   string        `yaml:"cors_origin"`
	MaxBody      int64         `yaml:"max_body"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type LimitsConfig struct {
	MaxDepth     int `yaml:"max_depth"`
	MaxSourceLen int `yaml:"max_source_len"`
}

type StoreConfig struct {
	Driver     string `yaml:"driver"`
	SQLitePath string `yaml:"sqlite_path"`
}

type HistoryConfig struct {
	// Retention of zero disables pruning.
	Retention     time.Duration `yaml:"retention"`
	PruneSchedule string        `yaml:"prune_schedule"`
	// MaxEntries caps the number of executions one history request returns.
	MaxEntries int `yaml:"max_entries"`
}

type TelemetryConfig struct {
	ServiceName  string `yaml:"service_name"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			CORSOrigin:   "*",
			MaxBody:      1 << 20,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		Limits: LimitsConfig{
			MaxDepth:     expr.DefaultMaxDepth,
			MaxSourceLen: expr.DefaultMaxSourceLen,
		},
		Store: StoreConfig{
			Driver: DriverMemory,
		},
		History: HistoryConfig{
			Retention:     store.DefaultRetention,
			PruneSchedule: store.DefaultPruneSchedule,
			MaxEntries:    100,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "smartcalc",
		},
	}
}

// ExprConfig returns the evaluator limits.
func (c Config) ExprConfig() expr.Config {
	return expr.Config{
		MaxDepth:     c.Limits.MaxDepth,
		MaxSourceLen: c.Limits.MaxSourceLen,
	}
}

// Validate rejects values the server cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.MaxBody <= 0 {
		errs = append(errs, errors.New("server.max_body must be positive"))
	}
	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 {
		errs = append(errs, errors.New("server timeouts must not be negative"))
	}
	if c.Limits.MaxDepth <= 0 {
		errs = append(errs, errors.New("limits.max_depth must be positive"))
	}
	if c.Limits.MaxSourceLen <= 0 {
		errs = append(errs, errors.New("limits.max_source_len must be positive"))
	}
	switch c.Store.Driver {
	case DriverMemory, DriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not one of memory, sqlite", c.Store.Driver))
	}
	if c.History.Retention < 0 {
		errs = append(errs, errors.New("history.retention must not be negative"))
	}
	if c.History.MaxEntries <= 0 {
		errs = append(errs, errors.New("history.max_entries must be positive"))
	}
	if _, err := store.ParseSchedule(c.History.PruneSchedule); err != nil {
		errs = append(errs, fmt.Errorf("history.prune_schedule: %w", err))
	}
	return errors.Join(errs...)
}

// Load reads the file at path over Default(). Keys absent from the file keep
// their default values.
func Load(path string) (Config, error) {
	cfg := Default()

	// #nosec G304 -- path resolved from explicit local config discovery.
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %q: %w", path, err)
	}

	if p := strings.TrimSpace(cfg.Store.SQLitePath); p != "" {
		cfg.Store.SQLitePath = resolveConfigRelative(filepath.Dir(path), os.ExpandEnv(p))
	}
	return cfg, nil
}

// LoadDiscovered discovers a config file and loads it. When no file is found
// it returns Default() and an empty path.
func LoadDiscovered(explicitPath string) (Config, string, error) {
	path, found, err := DiscoverPath(explicitPath)
	if err != nil {
		return Config{}, "", err
	}
	if !found {
		return Default(), "", nil
	}
	cfg, err := Load(path)
	if err != nil {
		return Config{}, path, err
	}
	return cfg, path, nil
}

// DiscoverPath resolves the config location with first-match semantics:
// the explicit path, ./smartcalc.yaml, then ~/.smartcalc/config.yaml.
func DiscoverPath(explicitPath string) (string, bool, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", false, fmt.Errorf("resolve working directory: %w", err)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", false, fmt.Errorf("resolve user home: %w", err)
	}
	return DiscoverPathFrom(explicitPath, cwd, homeDir)
}

// DiscoverPathFrom is a testable variant of DiscoverPath.
func DiscoverPathFrom(explicitPath, cwd, homeDir string) (string, bool, error) {
	candidates := make([]string, 0, 2)
	if clean := strings.TrimSpace(explicitPath); clean != "" {
		candidates = append(candidates, filepath.Clean(clean))
	} else {
		candidates = append(candidates, filepath.Join(cwd, projectConfigName))
		candidates = append(candidates, filepath.Join(homeDir, homeConfigDir, homeConfigName))
	}

	for i, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, true, nil
		}
		if errors.Is(err, os.ErrNotExist) {
			if i == 0 && strings.TrimSpace(explicitPath) != "" {
				return "", false, fmt.Errorf("config file %q not found: %w", candidate, os.ErrNotExist)
			}
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("checking config path %q: %w", candidate, err)
		}
	}
	return "", false, nil
}

// ResolveSQLitePath picks the SQLite DSN: flag value, then the
// SMARTCALC_SQLITE_PATH environment variable, then the config file, then
// ~/.smartcalc/smartcalc.db. Plain paths are cleaned; "file:" DSNs pass
// through.
func ResolveSQLitePath(flagValue string, cfg Config) (string, error) {
	dsn := strings.TrimSpace(flagValue)
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv(EnvSQLitePath))
	}
	if dsn == "" {
		dsn = strings.TrimSpace(cfg.Store.SQLitePath)
	}
	if dsn == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve user home: %w", err)
		}
		dsn = filepath.Join(home, homeConfigDir, defaultSQLiteDB)
	}
	if strings.HasPrefix(strings.ToLower(dsn), "file:") {
		return dsn, nil
	}
	return filepath.Clean(dsn), nil
}

func resolveConfigRelative(baseDir, p string) string {
	if strings.HasPrefix(strings.ToLower(p), "file:") {
		return p
	}
	clean := filepath.Clean(p)
	if filepath.IsAbs(clean) {
		return clean
	}
	return filepath.Join(baseDir, clean)
}
