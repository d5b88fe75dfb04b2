// Package recommend maps session metrics and profile aggregates to therapist
// guidance.
//
// The engine is a fixed, ordered rule table evaluated deterministically; every
// matching rule contributes its text. There is no model inference and no I/O.
package recommend

import "github.com/TileTalk/SessionPulse/internal/models"

// Likelihood tiers over avgSuccessRate/100. Exactly one tier matches.
const (
	ExcellentLikelihood = 0.7
	GoodLikelihood      = 0.5
)

// LowEngagementThreshold triggers the shorter-sessions suggestion.
const LowEngagementThreshold = 0.5

// HighSessionEngagementThreshold triggers the reinforce-format suggestion off
// a single session's engagement.
const HighSessionEngagementThreshold = 0.8

// Recommendation texts, one per rule.
const (
	TextExcellentProgress = "Excellent progress. Consider introducing more advanced communication goals."
	TextGoodProgress      = "Good progress. Keep reinforcing the current strategies."
	TextAdjustDifficulty  = "Success rate is low. Consider adjusting task difficulty or prompting support."
	TextShorterSessions   = "Engagement is low. Try shorter, more frequent sessions."
	TextExpandTiles       = "Requests dominate. Introduce descriptive and social tiles to broaden communication."
	TextRevisitChanges    = "Progress is declining. Revisit recent changes to goals or board layout."
	TextReinforceFormat   = "Engagement is high. Reinforce the current session format."
)

// Recommend evaluates the rule table against one session's metrics and the
// patient's profile. Results come back in table order.
func Recommend(metrics models.SessionMetrics, profile models.PatientProfile) []string {
	recommendations := make([]string, 0, 4)

	likelihood := profile.AvgSuccessRate / 100
	switch {
	case likelihood > ExcellentLikelihood:
		recommendations = append(recommendations, TextExcellentProgress)
	case likelihood > GoodLikelihood:
		recommendations = append(recommendations, TextGoodProgress)
	default:
		recommendations = append(recommendations, TextAdjustDifficulty)
	}

	if profile.AvgEngagement < LowEngagementThreshold {
		recommendations = append(recommendations, TextShorterSessions)
	}
	if metrics.DominantPattern == models.PatternRequesting {
		recommendations = append(recommendations, TextExpandTiles)
	}
	if profile.ProgressTrend == models.TrendDeclining {
		recommendations = append(recommendations, TextRevisitChanges)
	}
	if metrics.EngagementLevel >= HighSessionEngagementThreshold {
		recommendations = append(recommendations, TextReinforceFormat)
	}
	return recommendations
}
