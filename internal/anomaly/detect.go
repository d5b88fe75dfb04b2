// Package anomaly flags statistically unusual session durations against the
// population of all historical sessions.
//
// This file implements the detection rule itself.
package anomaly

import (
	"math"
	"time"

	"github.com/TileTalk/SessionPulse/internal/models"
)

// MinPopulation is the smallest population detection computes statistics on.
// Below it, reports carry ReasonInsufficientPopulation and are never flagged.
const MinPopulation = 20

// DeviationLimit is the number of population standard deviations beyond which
// a session duration is flagged.
const DeviationLimit = 2.0

// ReasonInsufficientPopulation marks reports computed before the population
// reached MinPopulation.
const ReasonInsufficientPopulation = "insufficient-population"

// Detect computes an anomaly report for one session duration against a
// population snapshot. It is pure and idempotent: identical inputs yield
// identical reports, and nothing is mutated.
func Detect(sessionID string, duration time.Duration, snapshot []ObservedDuration) models.AnomalyReport {
	report := models.AnomalyReport{SessionID: sessionID}
	if len(snapshot) < MinPopulation {
		report.Reason = ReasonInsufficientPopulation
		return report
	}

	var sum float64
	for _, o := range snapshot {
		sum += o.Seconds
	}
	mean := sum / float64(len(snapshot))

	var sq float64
	for _, o := range snapshot {
		d := o.Seconds - mean
		sq += d * d
	}
	stddev := math.Sqrt(sq / float64(len(snapshot)))

	report.PopulationMean = mean
	report.PopulationStdDev = stddev
	report.Deviation = math.Abs(duration.Seconds() - mean)
	report.Flagged = report.Deviation > DeviationLimit*stddev
	return report
}
