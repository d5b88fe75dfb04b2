// Package anomaly flags statistically unusual session durations against the
// population of all historical sessions.
//
// This file maintains the population itself: an append-only duration log
// spanning every patient.
package anomaly

import (
	"sync"
	"time"
)

// ObservedDuration is one completed session's contribution to the population.
type ObservedDuration struct {
	SessionID string
	Seconds   float64
}

// Duration converts the observed seconds back to a time.Duration.
func (o ObservedDuration) Duration() time.Duration {
	return time.Duration(o.Seconds * float64(time.Second))
}

// Population is the append-only log of completed session durations across all
// patients. It is append-only during ingestion and read through copied
// snapshots during detection, so readers never see torn state.
type Population struct {
	mu       sync.RWMutex
	observed []ObservedDuration
}

// NewPopulation creates an empty population.
func NewPopulation() *Population {
	return &Population{}
}

// Append adds one completed session's duration to the population.
func (p *Population) Append(sessionID string, duration time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observed = append(p.observed, ObservedDuration{SessionID: sessionID, Seconds: duration.Seconds()})
}

// Snapshot returns a copied view of the population. Detection always runs on a
// snapshot, never on live state.
func (p *Population) Snapshot() []ObservedDuration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]ObservedDuration(nil), p.observed...)
}

// Size returns the number of observed durations.
func (p *Population) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.observed)
}

// Restore replaces the population contents. Meant for startup recovery before
// ingestion begins.
func (p *Population) Restore(observed []ObservedDuration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observed = append([]ObservedDuration(nil), observed...)
}
