// Package config loads SessionPulse configuration.
//
// Settings resolve in precedence order: built-in defaults, then
// SESSIONPULSE_* environment variables, then an optional YAML file, then
// command-line flags applied by the caller.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/TileTalk/SessionPulse/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for SessionPulse state data
	DefaultStateDir = "/var/lib/sessionpulse"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "sessionpulse.db"
	// DefaultAddr is the default API listen address
	DefaultAddr = ":8080"
	// DefaultScanSchedule is the default anomaly sweep schedule
	DefaultScanSchedule = "@every 1m"
	// DefaultLogLevel is the default logging level name
	DefaultLogLevel = "debug"
)

// Config holds service configuration.
type Config struct {
	// Addr is the API listen address.
	Addr string `yaml:"addr"`
	// StateDir holds the lockfile and, by default, the SQLite database.
	StateDir string `yaml:"stateDir"`
	// DatabaseDSN selects the store backend. Empty means a SQLite file in
	// StateDir; the literal "memory" selects the in-memory store.
	DatabaseDSN string `yaml:"databaseDsn"`
	// ScanSchedule is the cron expression or descriptor for anomaly sweeps.
	ScanSchedule string `yaml:"scanSchedule"`
	// ScanDisabled turns off the periodic anomaly sweep.
	ScanDisabled bool `yaml:"scanDisabled"`
	// LogLevel is the slog level name (debug, info, warn, error).
	LogLevel string `yaml:"logLevel"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Addr:         DefaultAddr,
		StateDir:     DefaultStateDir,
		ScanSchedule: DefaultScanSchedule,
		LogLevel:     DefaultLogLevel,
	}
}

// FromEnv loads configuration from SESSIONPULSE_* environment variables on
// top of the defaults.
func FromEnv() Config {
	cfg := Default()
	if v := os.Getenv("SESSIONPULSE_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("SESSIONPULSE_STATE_DIR"); v != "" {
		cfg.StateDir = v
	}
	if v := os.Getenv("SESSIONPULSE_DATABASE_DSN"); v != "" {
		cfg.DatabaseDSN = v
	}
	if v := os.Getenv("SESSIONPULSE_SCAN_SCHEDULE"); v != "" {
		cfg.ScanSchedule = v
	}
	cfg.ScanDisabled = util.ParseBoolEnv("SESSIONPULSE_SCAN_DISABLED", false)
	if v := os.Getenv("SESSIONPULSE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	slog.Debug("config.FromEnv: environment loaded",
		"addr", cfg.Addr,
		"stateDir", cfg.StateDir,
		"databaseDsn_set", cfg.DatabaseDSN != "",
		"scanSchedule", cfg.ScanSchedule,
		"scanDisabled", cfg.ScanDisabled,
		"logLevel", cfg.LogLevel)
	return cfg
}

// LoadFile overlays YAML settings from path onto cfg. Keys absent from the
// file keep their current values.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	slog.Debug("config.LoadFile: file overlay applied", "path", path)
	return nil
}

// DatabaseDSNOrDefault returns the configured DSN, falling back to a SQLite
// file inside the state directory.
func (c Config) DatabaseDSNOrDefault() string {
	if c.DatabaseDSN != "" {
		return c.DatabaseDSN
	}
	return filepath.Join(c.StateDir, DefaultDBFileName)
}
