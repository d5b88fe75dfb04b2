// Package store provides storage backends for SessionPulse.
//
// This file implements a PostgreSQL-backed store for profiles, sessions, and
// anomaly reports.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/TileTalk/SessionPulse/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	slog.Debug("Opening Postgres database connection")
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) SaveProfile(p *models.PatientProfile) error {
	if p == nil {
		return fmt.Errorf("profile is nil")
	}
	data, err := json.Marshal(p)
	if err != nil {
		slog.Error("PostgresStore SaveProfile marshal failed", "error", err, "patientID", p.PatientID)
		return fmt.Errorf("failed to marshal profile for %s: %w", p.PatientID, err)
	}
	_, err = s.db.Exec(`INSERT INTO profiles (patient_id, data, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (patient_id) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()`,
		p.PatientID, data)
	if err != nil {
		slog.Error("PostgresStore SaveProfile failed", "error", err, "patientID", p.PatientID)
		return fmt.Errorf("failed to save profile for %s: %w", p.PatientID, err)
	}
	slog.Debug("PostgresStore SaveProfile succeeded", "patientID", p.PatientID, "sessions", len(p.Sessions))
	return nil
}

func (s *PostgresStore) GetProfile(patientID string) (*models.PatientProfile, error) {
	var data []byte
	err := s.db.QueryRow(`SELECT data FROM profiles WHERE patient_id = $1`, patientID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetProfile query failed", "error", err, "patientID", patientID)
		return nil, fmt.Errorf("failed to query profile for %s: %w", patientID, err)
	}
	var p models.PatientProfile
	if err := json.Unmarshal(data, &p); err != nil {
		slog.Error("PostgresStore GetProfile unmarshal failed", "error", err, "patientID", patientID)
		return nil, fmt.Errorf("failed to unmarshal profile for %s: %w", patientID, err)
	}
	return &p, nil
}

func (s *PostgresStore) ListProfiles() ([]*models.PatientProfile, error) {
	rows, err := s.db.Query(`SELECT data FROM profiles`)
	if err != nil {
		slog.Error("PostgresStore ListProfiles query failed", "error", err)
		return nil, fmt.Errorf("failed to query profiles: %w", err)
	}
	defer rows.Close()

	var profiles []*models.PatientProfile
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			slog.Error("PostgresStore ListProfiles scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan profile row: %w", err)
		}
		var p models.PatientProfile
		if err := json.Unmarshal(data, &p); err != nil {
			slog.Error("PostgresStore ListProfiles unmarshal failed", "error", err)
			return nil, fmt.Errorf("failed to unmarshal profile row: %w", err)
		}
		profiles = append(profiles, &p)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore ListProfiles rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate profile rows: %w", err)
	}
	slog.Debug("PostgresStore ListProfiles succeeded", "count", len(profiles))
	return profiles, nil
}

func (s *PostgresStore) SaveSession(session models.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		slog.Error("PostgresStore SaveSession marshal failed", "error", err, "sessionID", session.SessionID)
		return fmt.Errorf("failed to marshal session %s: %w", session.SessionID, err)
	}
	_, err = s.db.Exec(`INSERT INTO sessions (session_id, patient_id, data, ended_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id) DO UPDATE SET patient_id = EXCLUDED.patient_id, data = EXCLUDED.data, ended_at = EXCLUDED.ended_at`,
		session.SessionID, session.PatientID, data, session.EndTime)
	if err != nil {
		slog.Error("PostgresStore SaveSession failed", "error", err, "sessionID", session.SessionID)
		return fmt.Errorf("failed to save session %s: %w", session.SessionID, err)
	}
	slog.Debug("PostgresStore SaveSession succeeded", "sessionID", session.SessionID, "patientID", session.PatientID)
	return nil
}

func (s *PostgresStore) GetSession(sessionID string) (*models.Session, error) {
	var data []byte
	err := s.db.QueryRow(`SELECT data FROM sessions WHERE session_id = $1`, sessionID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetSession query failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to query session %s: %w", sessionID, err)
	}
	var session models.Session
	if err := json.Unmarshal(data, &session); err != nil {
		slog.Error("PostgresStore GetSession unmarshal failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to unmarshal session %s: %w", sessionID, err)
	}
	return &session, nil
}

func (s *PostgresStore) ListSessions() ([]models.Session, error) {
	rows, err := s.db.Query(`SELECT data FROM sessions ORDER BY seq`)
	if err != nil {
		slog.Error("PostgresStore ListSessions query failed", "error", err)
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			slog.Error("PostgresStore ListSessions scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		var session models.Session
		if err := json.Unmarshal(data, &session); err != nil {
			slog.Error("PostgresStore ListSessions unmarshal failed", "error", err)
			return nil, fmt.Errorf("failed to unmarshal session row: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore ListSessions rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate session rows: %w", err)
	}
	slog.Debug("PostgresStore ListSessions succeeded", "count", len(sessions))
	return sessions, nil
}

func (s *PostgresStore) SaveAnomaly(report models.AnomalyReport) error {
	_, err := s.db.Exec(`INSERT INTO anomalies (session_id, population_mean, population_stddev, deviation, flagged, reason, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (session_id) DO UPDATE SET population_mean = EXCLUDED.population_mean,
			population_stddev = EXCLUDED.population_stddev, deviation = EXCLUDED.deviation,
			flagged = EXCLUDED.flagged, reason = EXCLUDED.reason, updated_at = NOW()`,
		report.SessionID, report.PopulationMean, report.PopulationStdDev, report.Deviation, report.Flagged, report.Reason)
	if err != nil {
		slog.Error("PostgresStore SaveAnomaly failed", "error", err, "sessionID", report.SessionID)
		return fmt.Errorf("failed to save anomaly for %s: %w", report.SessionID, err)
	}
	slog.Debug("PostgresStore SaveAnomaly succeeded", "sessionID", report.SessionID, "flagged", report.Flagged)
	return nil
}

func (s *PostgresStore) GetAnomaly(sessionID string) (*models.AnomalyReport, error) {
	report := models.AnomalyReport{SessionID: sessionID}
	err := s.db.QueryRow(`SELECT population_mean, population_stddev, deviation, flagged, reason FROM anomalies WHERE session_id = $1`, sessionID).
		Scan(&report.PopulationMean, &report.PopulationStdDev, &report.Deviation, &report.Flagged, &report.Reason)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetAnomaly query failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to query anomaly for %s: %w", sessionID, err)
	}
	return &report, nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
