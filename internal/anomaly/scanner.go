// Package anomaly flags statistically unusual session durations against the
// population of all historical sessions.
//
// This file implements the periodic sweep over all closed sessions.
package anomaly

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/TileTalk/SessionPulse/internal/models"
	"github.com/TileTalk/SessionPulse/internal/store"
)

// scanPersistWorkers bounds the parallel store writes during one sweep.
const scanPersistWorkers = 4

// Notifier receives sessions the sweep flags for the first time.
// Implementations must return quickly; they are called on the sweep goroutine.
type Notifier interface {
	AnomalyFlagged(report models.AnomalyReport)
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

// AnomalyFlagged implements Notifier.
func (NopNotifier) AnomalyFlagged(models.AnomalyReport) {}

// Scanner sweeps every closed session against the population on demand. Each
// sweep detects from a single snapshot, caches the latest report per session,
// persists flagged reports, and notifies the Notifier about sessions flagged
// for the first time. Sweeps never block ingestion.
type Scanner struct {
	population *Population
	store      store.Store
	notifier   Notifier

	mu      sync.RWMutex
	reports map[string]models.AnomalyReport
}

// NewScanner creates a scanner over the population, persisting through st.
func NewScanner(population *Population, st store.Store, notifier Notifier) *Scanner {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Scanner{
		population: population,
		store:      st,
		notifier:   notifier,
		reports:    make(map[string]models.AnomalyReport),
	}
}

// ScanOnce performs a single sweep. It is safe to call concurrently with
// ingestion and safe to abandon at any time via the context; a cancelled sweep
// leaves previously cached reports intact.
func (s *Scanner) ScanOnce(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	snapshot := s.population.Snapshot()
	slog.Debug("Scanner.ScanOnce: sweeping population", "size", len(snapshot))

	fresh := make(map[string]models.AnomalyReport, len(snapshot))
	for _, o := range snapshot {
		fresh[o.SessionID] = Detect(o.SessionID, o.Duration(), snapshot)
	}

	s.mu.Lock()
	var toPersist []models.AnomalyReport
	var newlyFlagged []models.AnomalyReport
	for id, report := range fresh {
		prev, seen := s.reports[id]
		if report.Flagged && (!seen || prev != report) {
			toPersist = append(toPersist, report)
		}
		if report.Flagged && (!seen || !prev.Flagged) {
			newlyFlagged = append(newlyFlagged, report)
		}
		s.reports[id] = report
	}
	s.mu.Unlock()

	sort.Slice(toPersist, func(i, j int) bool { return toPersist[i].SessionID < toPersist[j].SessionID })
	sort.Slice(newlyFlagged, func(i, j int) bool { return newlyFlagged[i].SessionID < newlyFlagged[j].SessionID })

	if len(toPersist) > 0 && s.store != nil {
		eg, egCtx := errgroup.WithContext(ctx)
		eg.SetLimit(scanPersistWorkers)
		for _, report := range toPersist {
			report := report
			eg.Go(func() error {
				if err := egCtx.Err(); err != nil {
					return err
				}
				return s.store.SaveAnomaly(report)
			})
		}
		if err := eg.Wait(); err != nil {
			return fmt.Errorf("failed to persist anomaly reports: %w", err)
		}
	}

	for _, report := range newlyFlagged {
		slog.Info("Scanner.ScanOnce: session flagged", "sessionID", report.SessionID, "deviation", report.Deviation, "stddev", report.PopulationStdDev)
		s.notifier.AnomalyFlagged(report)
	}
	return nil
}

// Latest returns the most recent cached report for a session, if any sweep has
// covered it.
func (s *Scanner) Latest(sessionID string) (models.AnomalyReport, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	report, ok := s.reports[sessionID]
	return report, ok
}

// CachedCount returns the number of sessions with a cached report.
func (s *Scanner) CachedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.reports)
}
