// Package report assembles read-only patient reports over a date range.
//
// A report is a pure view over profile and anomaly snapshots: building one
// mutates nothing, and identical inputs produce identical reports.
package report

import (
	"log/slog"

	"github.com/TileTalk/SessionPulse/internal/models"
	"github.com/TileTalk/SessionPulse/internal/recommend"
)

// LabelLayout formats session end times into chart labels.
const LabelLayout = "2006-01-02"

// ProfileSource yields read-only patient profiles.
type ProfileSource interface {
	GetProfile(patientID string) (models.PatientProfile, bool)
}

// AnomalySource yields the latest cached anomaly report per session.
type AnomalySource interface {
	Latest(sessionID string) (models.AnomalyReport, bool)
}

// Builder assembles reports from profile and anomaly snapshots.
type Builder struct {
	profiles  ProfileSource
	anomalies AnomalySource
}

// NewBuilder creates a report builder. The anomaly source may be nil, in which
// case reports carry no anomaly section.
func NewBuilder(profiles ProfileSource, anomalies AnomalySource) *Builder {
	return &Builder{profiles: profiles, anomalies: anomalies}
}

// Build assembles the report for a patient over the date range, both ends
// inclusive on session end time. Unknown patients fail with
// ErrProfileNotFound.
func (b *Builder) Build(patientID string, dateRange models.DateRange) (models.Report, error) {
	profile, ok := b.profiles.GetProfile(patientID)
	if !ok {
		return models.Report{}, models.ErrProfileNotFound
	}
	slog.Debug("Builder.Build: assembling report", "patientID", patientID, "start", dateRange.Start, "end", dateRange.End)

	inRange := make([]models.SessionMetrics, 0, len(profile.Sessions))
	for _, s := range profile.Sessions {
		if dateRange.Contains(s.EndedAt) {
			inRange = append(inRange, s)
		}
	}

	r := models.Report{
		PatientID: patientID,
		Range:     dateRange,
		Summary:   summarize(inRange, profile.ProgressTrend),
	}
	for _, m := range profile.Milestones {
		if dateRange.Contains(m.AchievedAt) {
			r.Milestones = append(r.Milestones, m)
		}
	}
	if b.anomalies != nil {
		for _, s := range inRange {
			if anomaly, ok := b.anomalies.Latest(s.SessionID); ok {
				r.Anomalies = append(r.Anomalies, anomaly)
			}
		}
	}
	if len(inRange) > 0 {
		r.Recommendations = recommend.Recommend(inRange[len(inRange)-1], profile)
	}
	r.TimeSeries = timeSeries(inRange)
	return r, nil
}

func summarize(sessions []models.SessionMetrics, trend models.Trend) models.ReportSummary {
	summary := models.ReportSummary{
		SessionCount:        len(sessions),
		PatternDistribution: make(map[models.Pattern]int),
		ProgressTrend:       trend,
	}
	if len(sessions) == 0 {
		return summary
	}

	var rate, engagement float64
	for _, s := range sessions {
		rate += s.SuccessRate
		engagement += s.EngagementLevel
		summary.PatternDistribution[s.DominantPattern]++
	}
	n := float64(len(sessions))
	summary.AvgSuccessRate = rate / n
	summary.AvgEngagement = engagement / n
	return summary
}

func timeSeries(sessions []models.SessionMetrics) models.TimeSeries {
	series := models.TimeSeries{
		Labels:      make([]string, 0, len(sessions)),
		SuccessRate: make([]float64, 0, len(sessions)),
		Engagement:  make([]float64, 0, len(sessions)),
	}
	for _, s := range sessions {
		series.Labels = append(series.Labels, s.EndedAt.Format(LabelLayout))
		series.SuccessRate = append(series.SuccessRate, s.SuccessRate)
		series.Engagement = append(series.Engagement, s.EngagementLevel)
	}
	return series
}
