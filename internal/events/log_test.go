package events

import (
	"sync"
	"testing"
	"time"

	"github.com/TileTalk/SessionPulse/internal/models"
)

var testStart = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func event(sessionID string, t models.EventType, category string, offset time.Duration) models.Event {
	return models.Event{
		Type:         t,
		PatientID:    "patient-1",
		SessionID:    sessionID,
		TileCategory: category,
		Timestamp:    testStart.Add(offset),
	}
}

func TestRecordImplicitStart(t *testing.T) {
	log := NewLog()
	if err := log.Record(event("session-1", models.EventTypeTile, "food", 0)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !log.IsActive("session-1") {
		t.Error("expected session to be active after first event")
	}
	if got := log.ActiveCount(); got != 1 {
		t.Errorf("ActiveCount = %d, want 1", got)
	}

	session, err := log.CloseSession("session-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !session.StartTime.Equal(testStart) {
		t.Errorf("StartTime = %v, want first event timestamp %v", session.StartTime, testStart)
	}
}

func TestRecordRejectsMalformed(t *testing.T) {
	log := NewLog()

	tests := []struct {
		name    string
		event   models.Event
		wantErr error
	}{
		{
			name:    "missing timestamp",
			event:   models.Event{Type: models.EventTypeTile, PatientID: "p", SessionID: "s"},
			wantErr: models.ErrMissingTimestamp,
		},
		{
			name:    "missing patient",
			event:   models.Event{Type: models.EventTypeTile, SessionID: "s", Timestamp: testStart},
			wantErr: models.ErrMissingPatientID,
		},
		{
			name:    "missing session",
			event:   models.Event{Type: models.EventTypeTile, PatientID: "p", Timestamp: testStart},
			wantErr: models.ErrMissingSessionID,
		},
		{
			name:    "invalid type",
			event:   models.Event{Type: "gesture", PatientID: "p", SessionID: "s", Timestamp: testStart},
			wantErr: models.ErrInvalidEventType,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := log.Record(tc.event); err != tc.wantErr {
				t.Errorf("Record() = %v, want %v", err, tc.wantErr)
			}
		})
	}

	// None of the rejected events may have opened a session.
	if got := log.ActiveCount(); got != 0 {
		t.Errorf("ActiveCount = %d after malformed events, want 0", got)
	}
}

func TestRecordPatientMismatch(t *testing.T) {
	log := NewLog()
	if err := log.Record(event("session-1", models.EventTypeTile, "food", 0)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	intruder := event("session-1", models.EventTypeTile, "food", time.Second)
	intruder.PatientID = "patient-2"
	if err := log.Record(intruder); err != models.ErrPatientMismatch {
		t.Errorf("Record() = %v, want %v", err, models.ErrPatientMismatch)
	}

	// The mismatched event must not have been appended.
	session, err := log.CloseSession("session-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(session.Events) != 1 {
		t.Errorf("session has %d events, want 1", len(session.Events))
	}
}

func TestCloseSessionDerivesCounters(t *testing.T) {
	log := NewLog()
	sequence := []models.Event{
		event("session-1", models.EventTypeTile, "food", 0),
		event("session-1", models.EventTypeTile, "food", 10*time.Second),
		event("session-1", models.EventTypeTile, "animals", 20*time.Second),
		event("session-1", models.EventTypeAttempt, "", 30*time.Second),
		event("session-1", models.EventTypeSuccess, "", 40*time.Second),
		event("session-1", models.EventTypeAttempt, "", 50*time.Second),
		event("session-1", models.EventTypeNote, "", 60*time.Second),
	}
	for _, ev := range sequence {
		if err := log.Record(ev); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	session, err := log.CloseSession("session-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", session.Attempts)
	}
	if session.Successes != 1 {
		t.Errorf("Successes = %d, want 1", session.Successes)
	}
	if session.UniqueTiles != 2 {
		t.Errorf("UniqueTiles = %d, want 2", session.UniqueTiles)
	}
	if session.ConsistencyScore == nil {
		t.Error("expected a consistency score for a session with several events")
	}
	if session.EndTime.Before(session.StartTime) {
		t.Errorf("EndTime %v precedes StartTime %v", session.EndTime, session.StartTime)
	}
	if len(session.Events) != len(sequence) {
		t.Errorf("session has %d events, want %d", len(session.Events), len(sequence))
	}
}

func TestCloseSessionEndTimeNeverBeforeLastEvent(t *testing.T) {
	log := NewLog()
	future := time.Now().Add(time.Hour)
	ev := models.Event{
		Type:      models.EventTypeTile,
		PatientID: "patient-1",
		SessionID: "session-1",
		Timestamp: future,
	}
	if err := log.Record(ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	session, err := log.CloseSession("session-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.EndTime.Before(future) {
		t.Errorf("EndTime = %v, want at least the last event timestamp %v", session.EndTime, future)
	}
}

func TestCloseSessionTwice(t *testing.T) {
	log := NewLog()
	if err := log.Record(event("session-1", models.EventTypeTile, "food", 0)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := log.CloseSession("session-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := log.CloseSession("session-1"); err != models.ErrSessionClosed {
		t.Errorf("second close = %v, want %v", err, models.ErrSessionClosed)
	}
}

func TestCloseUnknownSession(t *testing.T) {
	log := NewLog()
	if _, err := log.CloseSession("nope"); err != models.ErrSessionNotFound {
		t.Errorf("CloseSession = %v, want %v", err, models.ErrSessionNotFound)
	}
}

func TestRecordAfterClose(t *testing.T) {
	log := NewLog()
	if err := log.Record(event("session-1", models.EventTypeTile, "food", 0)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := log.CloseSession("session-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := log.Record(event("session-1", models.EventTypeTile, "food", time.Second)); err != models.ErrSessionClosed {
		t.Errorf("Record after close = %v, want %v", err, models.ErrSessionClosed)
	}
}

func TestClosedSessionImmutable(t *testing.T) {
	log := NewLog()
	if err := log.Record(event("session-1", models.EventTypeTile, "food", 0)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	session, err := log.CloseSession("session-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Mutating the returned value must not affect anything the log retains.
	session.Events[0].TileCategory = "mutated"
	session.Events = append(session.Events, event("session-1", models.EventTypeNote, "", time.Minute))

	if log.IsActive("session-1") {
		t.Error("closed session still active")
	}
}

func TestStartSession(t *testing.T) {
	log := NewLog()
	id, err := log.StartSession("patient-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id == "" {
		t.Fatal("expected a minted session ID")
	}
	if !log.IsActive(id) {
		t.Error("expected started session to be active")
	}

	other, err := log.StartSession("patient-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if other == id {
		t.Error("expected distinct session IDs")
	}

	if _, err := log.StartSession(""); err != models.ErrMissingPatientID {
		t.Errorf("StartSession(\"\") = %v, want %v", err, models.ErrMissingPatientID)
	}
}

func TestMarkClosed(t *testing.T) {
	log := NewLog()
	log.MarkClosed("restored-session")
	if err := log.Record(event("restored-session", models.EventTypeTile, "food", 0)); err != models.ErrSessionClosed {
		t.Errorf("Record = %v, want %v", err, models.ErrSessionClosed)
	}
	if _, err := log.CloseSession("restored-session"); err != models.ErrSessionClosed {
		t.Errorf("CloseSession = %v, want %v", err, models.ErrSessionClosed)
	}
}

func TestActiveSessionIDsSorted(t *testing.T) {
	log := NewLog()
	for _, id := range []string{"c", "a", "b"} {
		ev := event(id, models.EventTypeTile, "food", 0)
		if err := log.Record(ev); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	ids := log.ActiveSessionIDs()
	want := []string{"a", "b", "c"}
	if len(ids) != len(want) {
		t.Fatalf("ActiveSessionIDs returned %d IDs, want %d", len(ids), len(want))
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ids[%d] = %s, want %s", i, ids[i], want[i])
		}
	}
}

func TestConcurrentRecords(t *testing.T) {
	log := NewLog()
	const perSession = 50
	var wg sync.WaitGroup
	for _, sessionID := range []string{"s1", "s2", "s3"} {
		sessionID := sessionID
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perSession; i++ {
				ev := models.Event{
					Type:      models.EventTypeTile,
					PatientID: "patient-" + sessionID,
					SessionID: sessionID,
					Timestamp: testStart.Add(time.Duration(i) * time.Second),
				}
				if err := log.Record(ev); err != nil {
					t.Errorf("unexpected error: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	for _, sessionID := range []string{"s1", "s2", "s3"} {
		session, err := log.CloseSession(sessionID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(session.Events) != perSession {
			t.Errorf("session %s has %d events, want %d", sessionID, len(session.Events), perSession)
		}
	}
}
