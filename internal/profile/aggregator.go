// Package profile aggregates per-session metrics into long-lived patient
// profiles.
//
// One profile exists per patient, created lazily on the first completed
// session and never deleted. All mutation funnels through Ingest, which
// serializes per patient; distinct patients ingest fully in parallel.
package profile

import (
	"log/slog"
	"sync"
	"time"

	"github.com/TileTalk/SessionPulse/internal/models"
	"github.com/TileTalk/SessionPulse/internal/store"
)

// TrendWindow is the number of recent sessions compared against the preceding
// window when classifying progress.
const TrendWindow = 5

// Trend classification bounds: the recent average must move beyond these
// multiples of the older average to change the trend.
const (
	trendImproveRatio = 1.1
	trendDeclineRatio = 0.9
)

// Aggregator maintains one profile per patient behind a per-patient mutex.
type Aggregator struct {
	store    store.Store
	observer Observer

	mu      sync.RWMutex
	entries map[string]*patientEntry
}

// patientEntry pairs a profile with the mutex serializing its mutation.
type patientEntry struct {
	mu      sync.Mutex
	profile *models.PatientProfile
}

// NewAggregator creates an aggregator persisting through st and reporting
// side effects to obs. A nil observer is replaced with NopObserver.
func NewAggregator(st store.Store, obs Observer) *Aggregator {
	if obs == nil {
		obs = NopObserver{}
	}
	return &Aggregator{
		store:    st,
		observer: obs,
		entries:  make(map[string]*patientEntry),
	}
}

// Ingest appends one completed session's metrics to the patient's profile,
// recomputes the aggregates, evaluates trend and milestones, and writes the
// profile through to the store. It returns a copy of the updated profile.
func (a *Aggregator) Ingest(patientID string, metrics models.SessionMetrics) (models.PatientProfile, error) {
	if patientID == "" {
		return models.PatientProfile{}, models.ErrMissingPatientID
	}

	entry := a.entry(patientID)
	entry.mu.Lock()

	p := entry.profile
	if p == nil {
		now := time.Now()
		p = &models.PatientProfile{
			PatientID:     patientID,
			ProgressTrend: models.TrendStable,
			PatternCounts: make(map[models.Pattern]int),
			CreatedAt:     now,
		}
		entry.profile = p
		slog.Debug("Aggregator.Ingest: profile created", "patientID", patientID)
	}

	p.Sessions = append(p.Sessions, metrics)
	p.PatternCounts[metrics.DominantPattern]++
	recomputeAverages(p)

	trendFrom := p.ProgressTrend
	p.ProgressTrend = nextTrend(p)
	trendTo := p.ProgressTrend

	var achieved []models.Milestone
	for _, rule := range MilestoneRules {
		if p.HasMilestone(rule.Name) {
			continue
		}
		if !rule.Met(p) {
			continue
		}
		m := models.Milestone{Name: rule.Name, ThresholdKind: rule.Kind, AchievedAt: time.Now()}
		p.Milestones = append(p.Milestones, m)
		achieved = append(achieved, m)
		slog.Info("Aggregator.Ingest: milestone achieved", "patientID", patientID, "milestone", rule.Name)
	}

	p.UpdatedAt = time.Now()
	if a.store != nil {
		// Persisting inside the patient lock keeps store writes ordered per
		// patient; failures are logged, never fatal.
		if err := a.store.SaveProfile(p.Clone()); err != nil {
			slog.Error("Aggregator.Ingest: failed to persist profile", "error", err, "patientID", patientID)
		}
	}
	snapshot := *p.Clone()
	entry.mu.Unlock()

	for _, m := range achieved {
		a.observer.MilestoneAchieved(patientID, m)
	}
	if trendTo != trendFrom {
		slog.Info("Aggregator.Ingest: trend changed", "patientID", patientID, "from", trendFrom, "to", trendTo)
		a.observer.TrendChanged(patientID, trendFrom, trendTo)
	}
	return snapshot, nil
}

// GetProfile returns a deep copy of the patient's profile, or false when the
// patient has no completed sessions yet.
func (a *Aggregator) GetProfile(patientID string) (models.PatientProfile, bool) {
	a.mu.RLock()
	entry, ok := a.entries[patientID]
	a.mu.RUnlock()
	if !ok {
		return models.PatientProfile{}, false
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.profile == nil {
		return models.PatientProfile{}, false
	}
	return *entry.profile.Clone(), true
}

// PatientCount returns the number of patients with a profile.
func (a *Aggregator) PatientCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.entries)
}

// Restore seeds the registry from persisted profiles, replacing any profiles
// already in memory. Meant for startup recovery before ingestion begins.
func (a *Aggregator) Restore(profiles []*models.PatientProfile) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, p := range profiles {
		if p == nil || p.PatientID == "" {
			continue
		}
		restored := p.Clone()
		if restored.PatternCounts == nil {
			restored.PatternCounts = make(map[models.Pattern]int)
		}
		a.entries[p.PatientID] = &patientEntry{profile: restored}
	}
	slog.Debug("Aggregator.Restore: profiles restored", "count", len(a.entries))
}

// entry returns the patient's entry, creating it on first use.
func (a *Aggregator) entry(patientID string) *patientEntry {
	a.mu.RLock()
	e, ok := a.entries[patientID]
	a.mu.RUnlock()
	if ok {
		return e
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if e, ok := a.entries[patientID]; ok {
		return e
	}
	e = &patientEntry{}
	a.entries[patientID] = e
	return e
}

func recomputeAverages(p *models.PatientProfile) {
	if len(p.Sessions) == 0 {
		p.AvgEngagement = 0
		p.AvgSuccessRate = 0
		return
	}
	var engagement, rate float64
	for _, s := range p.Sessions {
		engagement += s.EngagementLevel
		rate += s.SuccessRate
	}
	n := float64(len(p.Sessions))
	p.AvgEngagement = engagement / n
	p.AvgSuccessRate = rate / n
}

// nextTrend classifies progress by comparing the mean success rate of the most
// recent TrendWindow sessions against the window immediately preceding them.
// With too little history the previous trend is kept.
func nextTrend(p *models.PatientProfile) models.Trend {
	n := len(p.Sessions)
	if n <= TrendWindow {
		return p.ProgressTrend
	}
	olderStart := n - 2*TrendWindow
	if olderStart < 0 {
		olderStart = 0
	}
	older := p.Sessions[olderStart : n-TrendWindow]
	if len(older) < TrendWindow {
		return p.ProgressTrend
	}
	recent := p.Sessions[n-TrendWindow:]

	recentAvg := meanSuccessRate(recent)
	olderAvg := meanSuccessRate(older)
	switch {
	case recentAvg > olderAvg*trendImproveRatio:
		return models.TrendImproving
	case recentAvg < olderAvg*trendDeclineRatio:
		return models.TrendDeclining
	default:
		return models.TrendStable
	}
}

func meanSuccessRate(sessions []models.SessionMetrics) float64 {
	if len(sessions) == 0 {
		return 0
	}
	var sum float64
	for _, s := range sessions {
		sum += s.SuccessRate
	}
	return sum / float64(len(sessions))
}
