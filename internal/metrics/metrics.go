// Package metrics derives per-session scalar metrics from raw session data.
//
// Everything here is a pure function over an already-closed session; no state
// is kept and nothing is mutated.
package metrics

import (
	"math"
	"time"

	"github.com/TileTalk/SessionPulse/internal/models"
)

// Engagement factor caps. Each factor saturates at 1.0 so no single factor can
// dominate beyond its cap.
const (
	// EngagementDurationCap is the session length at which the duration factor saturates.
	EngagementDurationCap = 30 * time.Minute
	// EngagementEventCap is the event count at which the interaction factor saturates.
	EngagementEventCap = 50
	// EngagementTileCap is the distinct-tile count at which the variety factor saturates.
	EngagementTileCap = 10
	// DefaultConsistency substitutes for sessions too short to score consistency.
	DefaultConsistency = 0.5
)

// MinConsistencyEvents is the smallest event count that yields a consistency
// score; below it there is too little spacing data.
const MinConsistencyEvents = 3

// DefaultCategoryMap assigns tile categories to communication-intent buckets.
// Categories not listed here are not tallied.
var DefaultCategoryMap = map[string]models.Pattern{
	"food":      models.PatternRequesting,
	"drink":     models.PatternRequesting,
	"help":      models.PatternRequesting,
	"animals":   models.PatternLabeling,
	"colors":    models.PatternLabeling,
	"objects":   models.PatternLabeling,
	"greetings": models.PatternSocializing,
	"people":    models.PatternSocializing,
	"play":      models.PatternSocializing,
	"feelings":  models.PatternExpressing,
	"opinions":  models.PatternExpressing,
	"questions": models.PatternQuestioning,
	"where":     models.PatternQuestioning,
	"when":      models.PatternQuestioning,
}

// Compute derives SessionMetrics from a completed session.
func Compute(session models.Session) models.SessionMetrics {
	return models.SessionMetrics{
		SessionID:       session.SessionID,
		PatientID:       session.PatientID,
		SuccessRate:     SuccessRate(session.Attempts, session.Successes),
		EngagementLevel: EngagementLevel(session),
		DominantPattern: DominantPattern(session.Events),
		EndedAt:         session.EndTime,
	}
}

// SuccessRate returns successes over attempts as a percentage. Zero attempts
// yield zero, never a division.
func SuccessRate(attempts, successes int) float64 {
	if attempts == 0 {
		return 0
	}
	return float64(successes) / float64(attempts) * 100
}

// EngagementLevel is the unweighted mean of four factors, each clamped to
// [0,1]: session duration, event count, tile variety, and pacing consistency.
func EngagementLevel(session models.Session) float64 {
	durationFactor := clamp01(session.Duration().Seconds() / EngagementDurationCap.Seconds())
	interactionFactor := clamp01(float64(len(session.Events)) / EngagementEventCap)
	varietyFactor := clamp01(float64(session.UniqueTiles) / EngagementTileCap)
	consistency := DefaultConsistency
	if session.ConsistencyScore != nil {
		consistency = clamp01(*session.ConsistencyScore)
	}
	return (durationFactor + interactionFactor + varietyFactor + consistency) / 4
}

// DominantPattern tallies tile events into intent buckets via
// DefaultCategoryMap and returns the bucket with the highest count. Ties
// resolve to the earliest bucket in models.PatternOrder, so an all-zero tally
// resolves to requesting.
func DominantPattern(events []models.Event) models.Pattern {
	counts := make(map[models.Pattern]int, len(models.PatternOrder))
	for _, ev := range events {
		if ev.Type != models.EventTypeTile {
			continue
		}
		bucket, ok := DefaultCategoryMap[ev.TileCategory]
		if !ok {
			continue
		}
		counts[bucket]++
	}

	best := models.PatternOrder[0]
	bestCount := counts[best]
	for _, p := range models.PatternOrder[1:] {
		if counts[p] > bestCount {
			best = p
			bestCount = counts[p]
		}
	}
	return best
}

// ConsistencyScore measures the regularity of inter-event spacing: 1.0 for
// perfectly even pacing, approaching 0 as gaps grow erratic. Sessions with
// fewer than MinConsistencyEvents events return nil.
func ConsistencyScore(events []models.Event) *float64 {
	if len(events) < MinConsistencyEvents {
		return nil
	}

	gaps := make([]float64, 0, len(events)-1)
	for i := 1; i < len(events); i++ {
		gaps = append(gaps, events[i].Timestamp.Sub(events[i-1].Timestamp).Seconds())
	}

	var sum float64
	for _, g := range gaps {
		sum += g
	}
	mean := sum / float64(len(gaps))
	if mean <= 0 {
		// All events share one timestamp; treat as perfectly regular.
		score := 1.0
		return &score
	}

	var sq float64
	for _, g := range gaps {
		d := g - mean
		sq += d * d
	}
	stddev := math.Sqrt(sq / float64(len(gaps)))

	score := 1 - clamp01(stddev/mean)
	return &score
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
