// Package models defines the core data structures for SessionPulse.
//
// It includes types for interaction events, sessions, derived metrics, patient
// profiles, and reports, which are shared across modules. JSON field names are
// part of the external contract: downstream exporters parse them verbatim.
package models

import (
	"errors"
	"time"
)

// EventType identifies what kind of interaction an event records.
type EventType string

const (
	// EventTypeTile records a tile activation on the communication board.
	EventTypeTile EventType = "tile"
	// EventTypeAttempt records a therapist-marked communication trial.
	EventTypeAttempt EventType = "attempt"
	// EventTypeSuccess records a therapist-marked successful exchange.
	EventTypeSuccess EventType = "success"
	// EventTypeNote records an annotation that does not count toward metrics.
	EventTypeNote EventType = "note"
)

// Validation errors. An event failing these is dropped and logged; ingestion
// of other events continues.
var (
	ErrMissingTimestamp = errors.New("event timestamp is required")
	ErrMissingPatientID = errors.New("patientId is required")
	ErrMissingSessionID = errors.New("sessionId is required")
	ErrInvalidEventType = errors.New("invalid event type")
	ErrPatientMismatch  = errors.New("event patientId does not match session")
)

// Invalid-state errors. These surface to callers operating on missing or
// already-closed resources.
var (
	ErrSessionClosed   = errors.New("session is already closed")
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionActive   = errors.New("session is still active")
	ErrProfileNotFound = errors.New("patient profile not found")
)

// IsValidEventType checks if the given event type is supported.
func IsValidEventType(et EventType) bool {
	switch et {
	case EventTypeTile, EventTypeAttempt, EventTypeSuccess, EventTypeNote:
		return true
	default:
		return false
	}
}

// Event represents one recorded interaction within a session. Events are
// immutable once recorded.
type Event struct {
	Type         EventType `json:"type"`
	PatientID    string    `json:"patientId"`
	SessionID    string    `json:"sessionId"`
	TileCategory string    `json:"tileCategory,omitempty"` // set for tile events
	Timestamp    time.Time `json:"timestamp"`
}

// Validate performs validation on an Event before it is recorded.
func (e *Event) Validate() error {
	if e.Timestamp.IsZero() {
		return ErrMissingTimestamp
	}
	if e.PatientID == "" {
		return ErrMissingPatientID
	}
	if e.SessionID == "" {
		return ErrMissingSessionID
	}
	if !IsValidEventType(e.Type) {
		return ErrInvalidEventType
	}
	return nil
}

// Session is one bounded interaction period between a patient and the board.
// Sessions are mutable while active and frozen into immutable values on close,
// at which point the derived counters are filled in.
type Session struct {
	SessionID        string    `json:"sessionId"`
	PatientID        string    `json:"patientId"`
	StartTime        time.Time `json:"startTime"`
	EndTime          time.Time `json:"endTime"`
	Events           []Event   `json:"events"`
	Attempts         int       `json:"attempts"`
	Successes        int       `json:"successes"`
	UniqueTiles      int       `json:"uniqueTiles"`
	ConsistencyScore *float64  `json:"consistencyScore,omitempty"` // nil until derived at close
}

// Duration returns the elapsed time between session start and end.
func (s *Session) Duration() time.Duration {
	return s.EndTime.Sub(s.StartTime)
}

// Clone returns a copy whose events and consistency score do not alias the
// original.
func (s Session) Clone() Session {
	out := s
	if s.Events != nil {
		out.Events = append([]Event(nil), s.Events...)
	}
	if s.ConsistencyScore != nil {
		v := *s.ConsistencyScore
		out.ConsistencyScore = &v
	}
	return out
}

// Pattern classifies the communication intent dominating a session.
type Pattern string

const (
	// PatternRequesting covers tiles used to ask for items or help.
	PatternRequesting Pattern = "requesting"
	// PatternLabeling covers tiles naming objects, animals, or colors.
	PatternLabeling Pattern = "labeling"
	// PatternSocializing covers greetings and people or play interactions.
	PatternSocializing Pattern = "socializing"
	// PatternExpressing covers feelings and opinions.
	PatternExpressing Pattern = "expressing"
	// PatternQuestioning covers question-word tiles.
	PatternQuestioning Pattern = "questioning"
)

// PatternOrder fixes the enumeration order. Tally ties resolve to the earliest
// pattern in this list, so reordering it changes externally visible results.
var PatternOrder = []Pattern{
	PatternRequesting,
	PatternLabeling,
	PatternSocializing,
	PatternExpressing,
	PatternQuestioning,
}

// SessionMetrics holds the scalar metrics derived from one completed session.
type SessionMetrics struct {
	SessionID       string    `json:"sessionId"`
	PatientID       string    `json:"patientId"`
	SuccessRate     float64   `json:"successRate"`     // 0..100
	EngagementLevel float64   `json:"engagementLevel"` // 0..1
	DominantPattern Pattern   `json:"dominantPattern"`
	EndedAt         time.Time `json:"endedAt"`
}

// Trend describes the direction of a patient's success-rate progression.
type Trend string

const (
	// TrendImproving indicates recent sessions outperform earlier ones.
	TrendImproving Trend = "improving"
	// TrendStable indicates no significant change between windows.
	TrendStable Trend = "stable"
	// TrendDeclining indicates recent sessions underperform earlier ones.
	TrendDeclining Trend = "declining"
)

// ThresholdKind identifies which cumulative measure a milestone rule watches.
type ThresholdKind string

const (
	// ThresholdSessionCount fires on total completed sessions.
	ThresholdSessionCount ThresholdKind = "sessionCount"
	// ThresholdSuccessRate fires on the profile's average success rate.
	ThresholdSuccessRate ThresholdKind = "successRate"
	// ThresholdEngagement fires on the profile's average engagement.
	ThresholdEngagement ThresholdKind = "engagement"
	// ThresholdPatternCount fires on sessions dominated by a given pattern.
	ThresholdPatternCount ThresholdKind = "patternCount"
)

// Milestone marks a one-time achievement on a patient profile. Names are
// unique per profile.
type Milestone struct {
	Name          string        `json:"name"`
	ThresholdKind ThresholdKind `json:"thresholdKind"`
	AchievedAt    time.Time     `json:"achievedAt"`
}

// PatientProfile aggregates session metrics for one patient. Profiles are
// created lazily on first completed session and mutated only by the profile
// aggregator. The sessions list is append-only.
type PatientProfile struct {
	PatientID      string           `json:"patientId"`
	Sessions       []SessionMetrics `json:"sessions"`
	AvgEngagement  float64          `json:"avgEngagement"`
	AvgSuccessRate float64          `json:"avgSuccessRate"`
	ProgressTrend  Trend            `json:"progressTrend"`
	Milestones     []Milestone      `json:"milestones"`
	PatternCounts  map[Pattern]int  `json:"patternCounts"`
	CreatedAt      time.Time        `json:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt"`
}

// Clone returns a deep copy safe to hand out while the original keeps changing
// under the aggregator's lock.
func (p *PatientProfile) Clone() *PatientProfile {
	out := *p
	if p.Sessions != nil {
		out.Sessions = append([]SessionMetrics(nil), p.Sessions...)
	}
	if p.Milestones != nil {
		out.Milestones = append([]Milestone(nil), p.Milestones...)
	}
	if p.PatternCounts != nil {
		out.PatternCounts = make(map[Pattern]int, len(p.PatternCounts))
		for k, v := range p.PatternCounts {
			out.PatternCounts[k] = v
		}
	}
	return &out
}

// HasMilestone reports whether a milestone with the given name was already
// added to the profile.
func (p *PatientProfile) HasMilestone(name string) bool {
	for _, m := range p.Milestones {
		if m.Name == name {
			return true
		}
	}
	return false
}

// AnomalyReport is a derived statistical snapshot for one session. It is never
// authoritative state: recomputing against the same population yields the same
// report. Durations are expressed in seconds.
type AnomalyReport struct {
	SessionID        string  `json:"sessionId"`
	PopulationMean   float64 `json:"populationMean"`
	PopulationStdDev float64 `json:"populationStdDev"`
	Deviation        float64 `json:"deviation"`
	Flagged          bool    `json:"flagged"`
	Reason           string  `json:"reason,omitempty"` // set when statistics were not computed
}

// DateRange bounds a report query. Both ends are inclusive.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the range, ends included.
func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// ReportSummary carries the aggregate figures for the sessions in range.
type ReportSummary struct {
	SessionCount        int             `json:"sessionCount"`
	AvgSuccessRate      float64         `json:"avgSuccessRate"`
	AvgEngagement       float64         `json:"avgEngagement"`
	PatternDistribution map[Pattern]int `json:"patternDistribution"`
	ProgressTrend       Trend           `json:"progressTrend"`
}

// TimeSeries holds chart-ready parallel arrays, one point per in-range session
// in append order.
type TimeSeries struct {
	Labels      []string  `json:"labels"`
	SuccessRate []float64 `json:"successRate"`
	Engagement  []float64 `json:"engagement"`
}

// Report is the read-only view assembled for reporting and export
// collaborators. It deliberately carries no generation timestamp so that
// identical inputs produce identical reports.
type Report struct {
	PatientID       string          `json:"patientId"`
	Range           DateRange       `json:"range"`
	Summary         ReportSummary   `json:"summary"`
	Milestones      []Milestone     `json:"milestones"`
	Recommendations []string        `json:"recommendations"`
	Anomalies       []AnomalyReport `json:"anomalies"`
	TimeSeries      TimeSeries      `json:"timeSeries"`
}
