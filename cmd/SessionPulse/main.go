package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/TileTalk/SessionPulse/internal/api"
	"github.com/TileTalk/SessionPulse/internal/config"
	"github.com/TileTalk/SessionPulse/internal/engine"
	"github.com/TileTalk/SessionPulse/internal/lockfile"
	"github.com/TileTalk/SessionPulse/internal/store"
	"github.com/TileTalk/SessionPulse/internal/util"
)

func main() {
	// Logging starts at the default level so that configuration loading is
	// already visible; the level is re-applied once flags are known.
	initializeLogger(config.DefaultLogLevel)

	cfg := loadConfig()
	flags := parseCommandLineFlags(cfg)

	initializeLogger(*flags.logLevel)

	// The lock also creates the state directory, so it must be taken before
	// the store opens any files there.
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		slog.Error("Failed to acquire state directory lock", "error", err)
		os.Exit(1)
	}

	storeOpts := buildStoreOptions(flags)
	engineOpts := buildEngineOptions(flags)
	apiOpts := buildAPIOptions(flags)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping SessionPulse with configured modules")
	slog.Debug("Module options counts", "store", len(storeOpts), "engine", len(engineOpts), "api", len(apiOpts))
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "dsn_set", *flags.dbDSN != "", "addr", *flags.addr)

	runErr := api.Run(ctx, storeOpts, engineOpts, apiOpts...)
	lock.Release()
	if runErr != nil {
		slog.Error("SessionPulse failed to run", "error", runErr)
		os.Exit(1)
	}
	slog.Info("SessionPulse exited successfully")
}

// Flags holds command line flag values
type Flags struct {
	addr         *string
	stateDir     *string
	dbDSN        *string
	scanSchedule *string
	noScan       *bool
	logLevel     *string
}

// initializeLogger sets up structured logging at the named level
func initializeLogger(level string) {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: util.ParseLogLevel(level, slog.LevelDebug)})
	slog.SetDefault(slog.New(handler))
}

// loadConfig assembles configuration from the environment plus an optional
// YAML config file named by SESSIONPULSE_CONFIG. Flags are applied on top
// later, so the precedence is defaults, then environment, then file, then
// flags.
func loadConfig() config.Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	cfg := config.FromEnv()

	if path := os.Getenv("SESSIONPULSE_CONFIG"); path != "" {
		if err := config.LoadFile(path, &cfg); err != nil {
			slog.Error("Failed to load config file", "error", err, "path", path)
			os.Exit(1)
		}
		slog.Debug("Config file applied", "path", path)
	}

	return cfg
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(cfg config.Config) Flags {
	flags := Flags{
		addr:         flag.String("addr", cfg.Addr, "HTTP listen address (overrides $SESSIONPULSE_ADDR)"),
		stateDir:     flag.String("state-dir", cfg.StateDir, "state directory for SessionPulse data (overrides $SESSIONPULSE_STATE_DIR)"),
		dbDSN:        flag.String("db-dsn", cfg.DatabaseDSN, "database DSN: a file path, a postgres:// URL, or \"memory\" (overrides $SESSIONPULSE_DATABASE_DSN)"),
		scanSchedule: flag.String("scan-schedule", cfg.ScanSchedule, "cron schedule for anomaly sweeps (overrides $SESSIONPULSE_SCAN_SCHEDULE)"),
		noScan:       flag.Bool("no-scan", cfg.ScanDisabled, "disable the periodic anomaly sweep (overrides $SESSIONPULSE_SCAN_DISABLED)"),
		logLevel:     flag.String("log-level", cfg.LogLevel, "log level: debug, info, warn, or error (overrides $SESSIONPULSE_LOG_LEVEL)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"addr", *flags.addr,
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"scanSchedule", *flags.scanSchedule,
		"noScan", *flags.noScan,
		"logLevel", *flags.logLevel)

	*flags.dbDSN = resolveDSN(cfg, *flags.stateDir, *flags.dbDSN)

	return flags
}

// resolveDSN returns the effective database DSN, defaulting to a SQLite file
// inside the state directory when none was configured.
func resolveDSN(cfg config.Config, stateDir, dsn string) string {
	if dsn != "" {
		return dsn
	}
	cfg.StateDir = stateDir
	resolved := cfg.DatabaseDSNOrDefault()
	slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", resolved)
	return resolved
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	switch store.DetectDSNType(*flags.dbDSN) {
	case store.DSNTypeMemory:
		slog.Debug("Using in-memory store", "dsn", *flags.dbDSN)
	case store.DSNTypePostgres:
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql", "dsn_set", true)
		storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.dbDSN))
	default:
		slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", *flags.dbDSN)
		storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.dbDSN))
	}
	return storeOpts
}

// buildEngineOptions constructs engine configuration options
func buildEngineOptions(flags Flags) []engine.Option {
	var engineOpts []engine.Option
	if *flags.scanSchedule != "" {
		engineOpts = append(engineOpts, engine.WithScanSchedule(*flags.scanSchedule))
	}
	return engineOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.addr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.addr))
	}
	if *flags.noScan {
		apiOpts = append(apiOpts, api.WithScanDisabled())
	}
	return apiOpts
}
