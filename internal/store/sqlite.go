// Package store provides storage backends for SessionPulse.
//
// This file implements a SQLite-backed store for profiles, sessions, and
// anomaly reports.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/TileTalk/SessionPulse/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	slog.Debug("Opening SQLite database connection")
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	// WAL keeps readers from blocking the ingestion path's writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		slog.Error("Failed to enable WAL mode", "error", err)
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) SaveProfile(p *models.PatientProfile) error {
	if p == nil {
		return fmt.Errorf("profile is nil")
	}
	data, err := json.Marshal(p)
	if err != nil {
		slog.Error("SQLiteStore SaveProfile marshal failed", "error", err, "patientID", p.PatientID)
		return fmt.Errorf("failed to marshal profile for %s: %w", p.PatientID, err)
	}
	_, err = s.db.Exec(`INSERT INTO profiles (patient_id, data, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(patient_id) DO UPDATE SET data = excluded.data, updated_at = CURRENT_TIMESTAMP`,
		p.PatientID, string(data))
	if err != nil {
		slog.Error("SQLiteStore SaveProfile failed", "error", err, "patientID", p.PatientID)
		return fmt.Errorf("failed to save profile for %s: %w", p.PatientID, err)
	}
	slog.Debug("SQLiteStore SaveProfile succeeded", "patientID", p.PatientID, "sessions", len(p.Sessions))
	return nil
}

func (s *SQLiteStore) GetProfile(patientID string) (*models.PatientProfile, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM profiles WHERE patient_id = ?`, patientID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetProfile query failed", "error", err, "patientID", patientID)
		return nil, fmt.Errorf("failed to query profile for %s: %w", patientID, err)
	}
	var p models.PatientProfile
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		slog.Error("SQLiteStore GetProfile unmarshal failed", "error", err, "patientID", patientID)
		return nil, fmt.Errorf("failed to unmarshal profile for %s: %w", patientID, err)
	}
	return &p, nil
}

func (s *SQLiteStore) ListProfiles() ([]*models.PatientProfile, error) {
	rows, err := s.db.Query(`SELECT data FROM profiles`)
	if err != nil {
		slog.Error("SQLiteStore ListProfiles query failed", "error", err)
		return nil, fmt.Errorf("failed to query profiles: %w", err)
	}
	defer rows.Close()

	var profiles []*models.PatientProfile
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			slog.Error("SQLiteStore ListProfiles scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan profile row: %w", err)
		}
		var p models.PatientProfile
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			slog.Error("SQLiteStore ListProfiles unmarshal failed", "error", err)
			return nil, fmt.Errorf("failed to unmarshal profile row: %w", err)
		}
		profiles = append(profiles, &p)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore ListProfiles rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate profile rows: %w", err)
	}
	slog.Debug("SQLiteStore ListProfiles succeeded", "count", len(profiles))
	return profiles, nil
}

func (s *SQLiteStore) SaveSession(session models.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		slog.Error("SQLiteStore SaveSession marshal failed", "error", err, "sessionID", session.SessionID)
		return fmt.Errorf("failed to marshal session %s: %w", session.SessionID, err)
	}
	_, err = s.db.Exec(`INSERT INTO sessions (session_id, patient_id, data, ended_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET patient_id = excluded.patient_id, data = excluded.data, ended_at = excluded.ended_at`,
		session.SessionID, session.PatientID, string(data), session.EndTime)
	if err != nil {
		slog.Error("SQLiteStore SaveSession failed", "error", err, "sessionID", session.SessionID)
		return fmt.Errorf("failed to save session %s: %w", session.SessionID, err)
	}
	slog.Debug("SQLiteStore SaveSession succeeded", "sessionID", session.SessionID, "patientID", session.PatientID)
	return nil
}

func (s *SQLiteStore) GetSession(sessionID string) (*models.Session, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM sessions WHERE session_id = ?`, sessionID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetSession query failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to query session %s: %w", sessionID, err)
	}
	var session models.Session
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		slog.Error("SQLiteStore GetSession unmarshal failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to unmarshal session %s: %w", sessionID, err)
	}
	return &session, nil
}

func (s *SQLiteStore) ListSessions() ([]models.Session, error) {
	rows, err := s.db.Query(`SELECT data FROM sessions ORDER BY seq`)
	if err != nil {
		slog.Error("SQLiteStore ListSessions query failed", "error", err)
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			slog.Error("SQLiteStore ListSessions scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		var session models.Session
		if err := json.Unmarshal([]byte(data), &session); err != nil {
			slog.Error("SQLiteStore ListSessions unmarshal failed", "error", err)
			return nil, fmt.Errorf("failed to unmarshal session row: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore ListSessions rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate session rows: %w", err)
	}
	slog.Debug("SQLiteStore ListSessions succeeded", "count", len(sessions))
	return sessions, nil
}

func (s *SQLiteStore) SaveAnomaly(report models.AnomalyReport) error {
	_, err := s.db.Exec(`INSERT INTO anomalies (session_id, population_mean, population_stddev, deviation, flagged, reason, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(session_id) DO UPDATE SET population_mean = excluded.population_mean,
			population_stddev = excluded.population_stddev, deviation = excluded.deviation,
			flagged = excluded.flagged, reason = excluded.reason, updated_at = CURRENT_TIMESTAMP`,
		report.SessionID, report.PopulationMean, report.PopulationStdDev, report.Deviation, report.Flagged, report.Reason)
	if err != nil {
		slog.Error("SQLiteStore SaveAnomaly failed", "error", err, "sessionID", report.SessionID)
		return fmt.Errorf("failed to save anomaly for %s: %w", report.SessionID, err)
	}
	slog.Debug("SQLiteStore SaveAnomaly succeeded", "sessionID", report.SessionID, "flagged", report.Flagged)
	return nil
}

func (s *SQLiteStore) GetAnomaly(sessionID string) (*models.AnomalyReport, error) {
	report := models.AnomalyReport{SessionID: sessionID}
	err := s.db.QueryRow(`SELECT population_mean, population_stddev, deviation, flagged, reason FROM anomalies WHERE session_id = ?`, sessionID).
		Scan(&report.PopulationMean, &report.PopulationStdDev, &report.Deviation, &report.Flagged, &report.Reason)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetAnomaly query failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to query anomaly for %s: %w", sessionID, err)
	}
	return &report, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
