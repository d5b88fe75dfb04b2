package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Addr != ":8080" {
		t.Errorf("Addr = %q, want :8080", cfg.Addr)
	}
	if cfg.StateDir != "/var/lib/sessionpulse" {
		t.Errorf("StateDir = %q, want /var/lib/sessionpulse", cfg.StateDir)
	}
	if cfg.ScanSchedule != "@every 1m" {
		t.Errorf("ScanSchedule = %q, want @every 1m", cfg.ScanSchedule)
	}
	if cfg.ScanDisabled {
		t.Error("ScanDisabled = true, want false")
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("SESSIONPULSE_ADDR", ":9999")
	t.Setenv("SESSIONPULSE_STATE_DIR", "/tmp/sp-state")
	t.Setenv("SESSIONPULSE_DATABASE_DSN", "postgres://sp@localhost/sessionpulse")
	t.Setenv("SESSIONPULSE_SCAN_SCHEDULE", "@every 5m")
	t.Setenv("SESSIONPULSE_SCAN_DISABLED", "true")
	t.Setenv("SESSIONPULSE_LOG_LEVEL", "warn")

	cfg := FromEnv()
	if cfg.Addr != ":9999" {
		t.Errorf("Addr = %q, want :9999", cfg.Addr)
	}
	if cfg.StateDir != "/tmp/sp-state" {
		t.Errorf("StateDir = %q, want /tmp/sp-state", cfg.StateDir)
	}
	if cfg.DatabaseDSN != "postgres://sp@localhost/sessionpulse" {
		t.Errorf("DatabaseDSN = %q", cfg.DatabaseDSN)
	}
	if cfg.ScanSchedule != "@every 5m" {
		t.Errorf("ScanSchedule = %q, want @every 5m", cfg.ScanSchedule)
	}
	if !cfg.ScanDisabled {
		t.Error("ScanDisabled = false, want true")
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn", cfg.LogLevel)
	}
}

func TestFromEnvDefaultsWhenUnset(t *testing.T) {
	for _, key := range []string{
		"SESSIONPULSE_ADDR",
		"SESSIONPULSE_STATE_DIR",
		"SESSIONPULSE_DATABASE_DSN",
		"SESSIONPULSE_SCAN_SCHEDULE",
		"SESSIONPULSE_SCAN_DISABLED",
		"SESSIONPULSE_LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}
	if cfg := FromEnv(); cfg != Default() {
		t.Errorf("FromEnv() = %+v, want defaults %+v", cfg, Default())
	}
}

func TestLoadFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessionpulse.yaml")
	contents := "addr: \":7070\"\nscanDisabled: true\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg := Default()
	cfg.DatabaseDSN = "memory"
	if err := LoadFile(path, &cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Addr != ":7070" {
		t.Errorf("Addr = %q, want :7070", cfg.Addr)
	}
	if !cfg.ScanDisabled {
		t.Error("ScanDisabled = false, want true")
	}
	// Keys absent from the file keep their values.
	if cfg.DatabaseDSN != "memory" {
		t.Errorf("DatabaseDSN = %q, want memory", cfg.DatabaseDSN)
	}
	if cfg.ScanSchedule != "@every 1m" {
		t.Errorf("ScanSchedule = %q, want @every 1m", cfg.ScanSchedule)
	}
}

func TestLoadFileErrors(t *testing.T) {
	cfg := Default()
	if err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"), &cfg); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("addr: [not, a, string"), 0o600); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := LoadFile(path, &cfg); err == nil {
		t.Error("expected error for malformed YAML")
	}
}

func TestDatabaseDSNOrDefault(t *testing.T) {
	cfg := Default()
	if got := cfg.DatabaseDSNOrDefault(); got != "/var/lib/sessionpulse/sessionpulse.db" {
		t.Errorf("DatabaseDSNOrDefault() = %q", got)
	}
	cfg.DatabaseDSN = "postgres://sp@localhost/sessionpulse"
	if got := cfg.DatabaseDSNOrDefault(); got != "postgres://sp@localhost/sessionpulse" {
		t.Errorf("DatabaseDSNOrDefault() = %q", got)
	}
}
