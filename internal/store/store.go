// Package store provides storage backends for SessionPulse.
//
// It includes an in-memory store for tests and single-node setups, plus
// SQLite and PostgreSQL backends selected by DSN. All backends persist the
// same three record kinds: patient profiles, closed sessions, and anomaly
// reports.
package store

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/TileTalk/SessionPulse/internal/models"
)

// Store is the persistence surface shared by all backends. Lookups return
// (nil, nil) when the record does not exist.
type Store interface {
	// SaveProfile upserts a patient profile keyed by patient ID.
	SaveProfile(p *models.PatientProfile) error
	// GetProfile returns the stored profile, or nil when absent.
	GetProfile(patientID string) (*models.PatientProfile, error)
	// ListProfiles returns every stored profile.
	ListProfiles() ([]*models.PatientProfile, error)
	// SaveSession upserts a closed session keyed by session ID.
	SaveSession(s models.Session) error
	// GetSession returns the stored session, or nil when absent.
	GetSession(sessionID string) (*models.Session, error)
	// ListSessions returns stored sessions in insertion order.
	ListSessions() ([]models.Session, error)
	// SaveAnomaly upserts an anomaly report keyed by session ID.
	SaveAnomaly(report models.AnomalyReport) error
	// GetAnomaly returns the stored anomaly report, or nil when absent.
	GetAnomaly(sessionID string) (*models.AnomalyReport, error)
	// Close releases backend resources.
	Close() error
}

// DSN type values returned by DetectDSNType.
const (
	DSNTypeMemory   = "memory"
	DSNTypeSQLite   = "sqlite"
	DSNTypePostgres = "postgres"
)

// DetectDSNType classifies a DSN so callers can pick a backend without
// duplicating heuristics. Empty DSNs and the literal "memory" keyword select
// the in-memory store; postgres:// and postgresql:// URLs and key=value DSNs
// select Postgres; anything else is treated as a SQLite file path.
func DetectDSNType(dsn string) string {
	switch {
	case dsn == "" || dsn == DSNTypeMemory:
		return DSNTypeMemory
	case strings.HasPrefix(dsn, "postgres://"),
		strings.HasPrefix(dsn, "postgresql://"),
		strings.Contains(dsn, "host="):
		return DSNTypePostgres
	default:
		return DSNTypeSQLite
	}
}

// Opts holds configuration for store constructors.
type Opts struct {
	// DSN is the backend connection string.
	DSN string
	// Backend pins the backend type; when empty it is derived from the DSN.
	Backend string
}

// Option configures store construction.
type Option func(*Opts)

// WithSQLiteDSN directs the store factory at a SQLite database file.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
		o.Backend = DSNTypeSQLite
	}
}

// WithPostgresDSN directs the store factory at a PostgreSQL database.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
		o.Backend = DSNTypePostgres
	}
}

// NewStore builds the store selected by the options. With no options it
// returns the in-memory store.
func NewStore(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	backend := cfg.Backend
	if backend == "" {
		backend = DetectDSNType(cfg.DSN)
	}
	switch backend {
	case DSNTypePostgres:
		return NewPostgresStore(opts...)
	case DSNTypeSQLite:
		return NewSQLiteStore(opts...)
	case DSNTypeMemory:
		slog.Debug("NewStore: no DSN configured, using in-memory store")
		return NewInMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}

// InMemoryStore keeps all records in process memory. It copies on both write
// and read so callers never alias its internal state.
type InMemoryStore struct {
	mu        sync.RWMutex
	profiles  map[string]*models.PatientProfile
	sessions  map[string]models.Session
	order     []string
	anomalies map[string]models.AnomalyReport
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		profiles:  make(map[string]*models.PatientProfile),
		sessions:  make(map[string]models.Session),
		anomalies: make(map[string]models.AnomalyReport),
	}
}

func (s *InMemoryStore) SaveProfile(p *models.PatientProfile) error {
	if p == nil {
		return fmt.Errorf("profile is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.PatientID] = p.Clone()
	return nil
}

func (s *InMemoryStore) GetProfile(patientID string) (*models.PatientProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[patientID]
	if !ok {
		return nil, nil
	}
	return p.Clone(), nil
}

func (s *InMemoryStore) ListProfiles() ([]*models.PatientProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	profiles := make([]*models.PatientProfile, 0, len(s.profiles))
	for _, p := range s.profiles {
		profiles = append(profiles, p.Clone())
	}
	return profiles, nil
}

func (s *InMemoryStore) SaveSession(session models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.SessionID]; !ok {
		s.order = append(s.order, session.SessionID)
	}
	s.sessions[session.SessionID] = session.Clone()
	return nil
}

func (s *InMemoryStore) GetSession(sessionID string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	clone := session.Clone()
	return &clone, nil
}

func (s *InMemoryStore) ListSessions() ([]models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sessions := make([]models.Session, 0, len(s.order))
	for _, id := range s.order {
		sessions = append(sessions, s.sessions[id].Clone())
	}
	return sessions, nil
}

func (s *InMemoryStore) SaveAnomaly(report models.AnomalyReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.anomalies[report.SessionID] = report
	return nil
}

func (s *InMemoryStore) GetAnomaly(sessionID string) (*models.AnomalyReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	report, ok := s.anomalies[sessionID]
	if !ok {
		return nil, nil
	}
	return &report, nil
}

func (s *InMemoryStore) Close() error {
	return nil
}
