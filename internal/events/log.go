// Package events maintains the append-only interaction log for active
// sessions.
//
// A session stays mutable while active; closing derives its counters and
// freezes it into an immutable models.Session. Malformed events are dropped
// and logged, never queued, and cannot corrupt a session.
package events

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/TileTalk/SessionPulse/internal/metrics"
	"github.com/TileTalk/SessionPulse/internal/models"
)

// Log tracks active sessions keyed by session ID. IDs of closed sessions are
// remembered so a re-close or late event is rejected with ErrSessionClosed
// rather than silently reopening the session.
type Log struct {
	mu     sync.Mutex
	active map[string]*models.Session
	closed map[string]struct{}
}

// NewLog creates an empty event log.
func NewLog() *Log {
	return &Log{
		active: make(map[string]*models.Session),
		closed: make(map[string]struct{}),
	}
}

// StartSession explicitly opens a session for the given patient and returns
// its minted ID. Recording an event for an unknown session ID opens one
// implicitly, so collaborators only need this when they want the ID before the
// first tile tap.
func (l *Log) StartSession(patientID string) (string, error) {
	if patientID == "" {
		return "", models.ErrMissingPatientID
	}
	sessionID := uuid.New().String()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.active[sessionID] = &models.Session{
		SessionID: sessionID,
		PatientID: patientID,
		StartTime: time.Now(),
	}
	slog.Debug("Log.StartSession: session opened", "sessionID", sessionID, "patientID", patientID)
	return sessionID, nil
}

// Record validates and appends one event to its session, opening the session
// implicitly when this is the first event for its session ID. The first
// event's patient owns the session; later events naming a different patient
// are rejected with ErrPatientMismatch.
func (l *Log) Record(event models.Event) error {
	if err := event.Validate(); err != nil {
		slog.Debug("Log.Record: dropping malformed event", "error", err, "sessionID", event.SessionID)
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, done := l.closed[event.SessionID]; done {
		slog.Debug("Log.Record: rejecting event for closed session", "sessionID", event.SessionID)
		return models.ErrSessionClosed
	}

	session, ok := l.active[event.SessionID]
	if !ok {
		session = &models.Session{
			SessionID: event.SessionID,
			PatientID: event.PatientID,
			StartTime: event.Timestamp,
		}
		l.active[event.SessionID] = session
		slog.Debug("Log.Record: implicit session start", "sessionID", event.SessionID, "patientID", event.PatientID)
	}
	if session.PatientID != event.PatientID {
		slog.Debug("Log.Record: dropping event with mismatched patient", "sessionID", event.SessionID, "patientID", event.PatientID)
		return models.ErrPatientMismatch
	}

	session.Events = append(session.Events, event)
	return nil
}

// CloseSession freezes the session, derives its counters, and removes it from
// the active set. Closing an unknown session fails with ErrSessionNotFound;
// closing twice fails with ErrSessionClosed. The end time is the close time,
// or the last event timestamp if that is later.
func (l *Log) CloseSession(sessionID string) (models.Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, done := l.closed[sessionID]; done {
		return models.Session{}, models.ErrSessionClosed
	}
	session, ok := l.active[sessionID]
	if !ok {
		return models.Session{}, models.ErrSessionNotFound
	}
	delete(l.active, sessionID)
	l.closed[sessionID] = struct{}{}

	frozen := session.Clone()
	frozen.EndTime = time.Now()
	if n := len(frozen.Events); n > 0 {
		if last := frozen.Events[n-1].Timestamp; last.After(frozen.EndTime) {
			frozen.EndTime = last
		}
	}
	frozen.Attempts, frozen.Successes, frozen.UniqueTiles = tally(frozen.Events)
	frozen.ConsistencyScore = metrics.ConsistencyScore(frozen.Events)

	slog.Info("Log.CloseSession: session closed", "sessionID", sessionID, "patientID", frozen.PatientID, "events", len(frozen.Events))
	return frozen, nil
}

// MarkClosed registers an externally persisted session as closed so later
// records or closes for its ID are rejected. Used during startup recovery.
func (l *Log) MarkClosed(sessionID string) {
	if sessionID == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.active, sessionID)
	l.closed[sessionID] = struct{}{}
}

// IsActive reports whether the session is currently open.
func (l *Log) IsActive(sessionID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.active[sessionID]
	return ok
}

// ActiveCount returns the number of currently open sessions.
func (l *Log) ActiveCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.active)
}

// ActiveSessionIDs returns the IDs of currently open sessions in sorted order.
func (l *Log) ActiveSessionIDs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]string, 0, len(l.active))
	for id := range l.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func tally(events []models.Event) (attempts, successes, uniqueTiles int) {
	tiles := make(map[string]struct{})
	for _, ev := range events {
		switch ev.Type {
		case models.EventTypeAttempt:
			attempts++
		case models.EventTypeSuccess:
			successes++
		case models.EventTypeTile:
			if ev.TileCategory != "" {
				tiles[ev.TileCategory] = struct{}{}
			}
		}
	}
	return attempts, successes, len(tiles)
}
