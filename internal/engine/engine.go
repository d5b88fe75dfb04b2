// Package engine wires the SessionPulse pipeline together.
//
// The engine owns the event log, the per-patient aggregator, the duration
// population, the anomaly scanner, and the report builder, and exposes the
// operations the API serves. Closing a session drives the whole pipeline:
// the frozen session is scored, folded into the patient profile, added to
// the anomaly population, and persisted.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/TileTalk/SessionPulse/internal/anomaly"
	"github.com/TileTalk/SessionPulse/internal/events"
	"github.com/TileTalk/SessionPulse/internal/metrics"
	"github.com/TileTalk/SessionPulse/internal/models"
	"github.com/TileTalk/SessionPulse/internal/profile"
	"github.com/TileTalk/SessionPulse/internal/report"
	"github.com/TileTalk/SessionPulse/internal/scheduler"
	"github.com/TileTalk/SessionPulse/internal/store"
)

// DefaultScanSchedule is the cron descriptor for the periodic anomaly sweep.
const DefaultScanSchedule = "@every 1m"

// Opts holds engine configuration.
type Opts struct {
	// ScanSchedule is the cron expression or descriptor for the periodic
	// anomaly sweep. Defaults to DefaultScanSchedule.
	ScanSchedule string
	// Observer receives profile side effects (milestones, trend changes).
	Observer profile.Observer
	// Notifier receives newly flagged anomaly reports.
	Notifier anomaly.Notifier
}

// Option configures engine construction.
type Option func(*Opts)

// WithScanSchedule overrides the anomaly sweep schedule.
func WithScanSchedule(expr string) Option {
	return func(o *Opts) {
		o.ScanSchedule = expr
	}
}

// WithObserver registers an observer for profile side effects.
func WithObserver(obs profile.Observer) Option {
	return func(o *Opts) {
		o.Observer = obs
	}
}

// WithNotifier registers a notifier for flagged anomalies.
func WithNotifier(n anomaly.Notifier) Option {
	return func(o *Opts) {
		o.Notifier = n
	}
}

// Stats is a point-in-time operational snapshot of the engine.
type Stats struct {
	ActiveSessions      int     `json:"activeSessions"`
	Patients            int     `json:"patients"`
	PopulationSize      int     `json:"populationSize"`
	MeanDurationSeconds float64 `json:"meanDurationSeconds"`
}

// Engine coordinates the session pipeline from raw events to reports.
type Engine struct {
	log        *events.Log
	aggregator *profile.Aggregator
	population *anomaly.Population
	scanner    *anomaly.Scanner
	reports    *report.Builder
	store      store.Store

	scanSchedule string

	mu    sync.Mutex
	sched *scheduler.Scheduler
}

// New creates an engine persisting through st. A nil store falls back to the
// in-memory backend.
func New(st store.Store, opts ...Option) *Engine {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.ScanSchedule == "" {
		cfg.ScanSchedule = DefaultScanSchedule
	}
	if st == nil {
		st = store.NewInMemoryStore()
	}

	population := anomaly.NewPopulation()
	aggregator := profile.NewAggregator(st, cfg.Observer)
	scanner := anomaly.NewScanner(population, st, cfg.Notifier)
	return &Engine{
		log:          events.NewLog(),
		aggregator:   aggregator,
		population:   population,
		scanner:      scanner,
		reports:      report.NewBuilder(aggregator, scanner),
		store:        st,
		scanSchedule: cfg.ScanSchedule,
	}
}

// StartSession opens a session for the patient and returns its generated ID.
func (e *Engine) StartSession(patientID string) (string, error) {
	return e.log.StartSession(patientID)
}

// RecordEvent appends one event to its session, opening the session
// implicitly when needed.
func (e *Engine) RecordEvent(event models.Event) error {
	return e.log.Record(event)
}

// CloseSession freezes the session and drives it through the pipeline:
// metric computation, profile aggregation, anomaly population, and
// persistence. Aggregation and persistence failures are logged rather than
// returned so a storage outage cannot lose the in-memory close.
func (e *Engine) CloseSession(sessionID string) (models.Session, models.SessionMetrics, error) {
	session, err := e.log.CloseSession(sessionID)
	if err != nil {
		return models.Session{}, models.SessionMetrics{}, err
	}

	m := metrics.Compute(session)
	if _, err := e.aggregator.Ingest(session.PatientID, m); err != nil {
		slog.Error("Engine.CloseSession: profile ingest failed", "error", err, "sessionID", sessionID, "patientID", session.PatientID)
	}
	e.population.Append(session.SessionID, session.Duration())
	if err := e.store.SaveSession(session); err != nil {
		slog.Error("Engine.CloseSession: session persist failed", "error", err, "sessionID", sessionID)
	}
	slog.Info("Engine.CloseSession: session closed", "sessionID", sessionID, "patientID", session.PatientID,
		"successRate", m.SuccessRate, "engagement", m.EngagementLevel, "pattern", m.DominantPattern)
	return session, m, nil
}

// CheckAnomaly evaluates one closed session against the current population.
// Active sessions fail with ErrSessionActive and unknown ones with
// ErrSessionNotFound.
func (e *Engine) CheckAnomaly(sessionID string) (models.AnomalyReport, error) {
	if e.log.IsActive(sessionID) {
		return models.AnomalyReport{}, models.ErrSessionActive
	}
	session, err := e.store.GetSession(sessionID)
	if err != nil {
		return models.AnomalyReport{}, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	if session == nil {
		return models.AnomalyReport{}, models.ErrSessionNotFound
	}
	return anomaly.Detect(sessionID, session.Duration(), e.population.Snapshot()), nil
}

// Profile returns a copy of the patient's profile.
func (e *Engine) Profile(patientID string) (models.PatientProfile, error) {
	p, ok := e.aggregator.GetProfile(patientID)
	if !ok {
		return models.PatientProfile{}, models.ErrProfileNotFound
	}
	return p, nil
}

// Report assembles the patient's report over the date range.
func (e *Engine) Report(patientID string, dateRange models.DateRange) (models.Report, error) {
	return e.reports.Build(patientID, dateRange)
}

// Stats reports engine-wide counters.
func (e *Engine) Stats() Stats {
	snapshot := e.population.Snapshot()
	var mean float64
	if len(snapshot) > 0 {
		var sum float64
		for _, o := range snapshot {
			sum += o.Seconds
		}
		mean = sum / float64(len(snapshot))
	}
	return Stats{
		ActiveSessions:      e.log.ActiveCount(),
		Patients:            e.aggregator.PatientCount(),
		PopulationSize:      len(snapshot),
		MeanDurationSeconds: mean,
	}
}

// ScanOnce runs a single anomaly sweep over the population.
func (e *Engine) ScanOnce(ctx context.Context) error {
	return e.scanner.ScanOnce(ctx)
}

// Recover reloads profiles and closed sessions from the store, rebuilding
// the aggregator, the anomaly population, and the closed-session index so
// restarts keep history and stale session IDs still reject.
func (e *Engine) Recover() error {
	profiles, err := e.store.ListProfiles()
	if err != nil {
		return fmt.Errorf("failed to load profiles: %w", err)
	}
	e.aggregator.Restore(profiles)

	sessions, err := e.store.ListSessions()
	if err != nil {
		return fmt.Errorf("failed to load sessions: %w", err)
	}
	observed := make([]anomaly.ObservedDuration, 0, len(sessions))
	for _, s := range sessions {
		observed = append(observed, anomaly.ObservedDuration{SessionID: s.SessionID, Seconds: s.Duration().Seconds()})
		e.log.MarkClosed(s.SessionID)
	}
	e.population.Restore(observed)

	slog.Info("Engine.Recover: state restored", "profiles", len(profiles), "sessions", len(sessions))
	return nil
}

// StartScanner schedules the periodic anomaly sweep. It returns an error if
// the scanner is already running or the schedule does not parse.
func (e *Engine) StartScanner(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sched != nil {
		return fmt.Errorf("anomaly scanner already started")
	}

	sched := scheduler.NewScheduler()
	if err := sched.AddJob(e.scanSchedule, func() {
		if err := e.scanner.ScanOnce(ctx); err != nil {
			slog.Error("Engine.StartScanner: anomaly sweep failed", "error", err)
		}
	}); err != nil {
		sched.Stop()
		return fmt.Errorf("failed to schedule anomaly sweep: %w", err)
	}
	e.sched = sched
	slog.Info("Engine.StartScanner: anomaly sweep scheduled", "schedule", e.scanSchedule)
	return nil
}

// StopScanner stops the periodic sweep and waits for a running sweep to
// finish. It is safe to call when the scanner never started.
func (e *Engine) StopScanner() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sched == nil {
		return
	}
	e.sched.Stop()
	e.sched = nil
	slog.Info("Engine.StopScanner: anomaly sweep stopped")
}
