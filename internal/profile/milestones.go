// Package profile aggregates per-session metrics into long-lived patient
// profiles.
//
// This file defines the fixed milestone rule table.
package profile

import "github.com/TileTalk/SessionPulse/internal/models"

// Milestone thresholds. These are contract with downstream consumers, not
// configuration.
const (
	// HighSuccessRateThreshold is the average success rate earning "High Success Rate".
	HighSuccessRateThreshold = 80.0
	// HighEngagementThreshold is the average engagement earning "Highly Engaged".
	HighEngagementThreshold = 0.8
	// SocialPatternThreshold is the number of socializing-dominated sessions
	// earning "Social Communicator".
	SocialPatternThreshold = 20
)

// ThresholdRule is one row of the milestone table.
type ThresholdRule struct {
	Name string
	Kind models.ThresholdKind
	Met  func(p *models.PatientProfile) bool
}

// MilestoneRules is the fixed, ordered milestone table. Rules are evaluated in
// this order on every ingest; each fires at most once per profile, keyed by
// name.
var MilestoneRules = []ThresholdRule{
	{Name: "First 10 Sessions", Kind: models.ThresholdSessionCount, Met: sessionCountAtLeast(10)},
	{Name: "Fifty Sessions", Kind: models.ThresholdSessionCount, Met: sessionCountAtLeast(50)},
	{Name: "Hundred Sessions", Kind: models.ThresholdSessionCount, Met: sessionCountAtLeast(100)},
	{Name: "High Success Rate", Kind: models.ThresholdSuccessRate, Met: func(p *models.PatientProfile) bool {
		return p.AvgSuccessRate >= HighSuccessRateThreshold
	}},
	{Name: "Highly Engaged", Kind: models.ThresholdEngagement, Met: func(p *models.PatientProfile) bool {
		return p.AvgEngagement >= HighEngagementThreshold
	}},
	{Name: "Social Communicator", Kind: models.ThresholdPatternCount, Met: func(p *models.PatientProfile) bool {
		return p.PatternCounts[models.PatternSocializing] >= SocialPatternThreshold
	}},
}

func sessionCountAtLeast(n int) func(*models.PatientProfile) bool {
	return func(p *models.PatientProfile) bool { return len(p.Sessions) >= n }
}
