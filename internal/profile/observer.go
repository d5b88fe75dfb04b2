// Package profile aggregates per-session metrics into long-lived patient
// profiles.
//
// This file defines the observer contract used to decouple profile side
// effects (speech output, UI celebration) from the aggregation itself.
package profile

import "github.com/TileTalk/SessionPulse/internal/models"

// Observer receives profile side effects. Implementations must return
// quickly; callbacks run on the ingestion goroutine after the patient lock has
// been released.
type Observer interface {
	// MilestoneAchieved fires once per milestone name per patient, on the
	// ingest that first crosses the threshold.
	MilestoneAchieved(patientID string, milestone models.Milestone)
	// TrendChanged fires when an ingest moves the progress trend.
	TrendChanged(patientID string, from, to models.Trend)
}

// NopObserver ignores all notifications.
type NopObserver struct{}

// MilestoneAchieved implements Observer.
func (NopObserver) MilestoneAchieved(string, models.Milestone) {}

// TrendChanged implements Observer.
func (NopObserver) TrendChanged(string, models.Trend, models.Trend) {}
