// Package testutil provides shared helpers for SessionPulse tests.
package testutil

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/TileTalk/SessionPulse/internal/models"
)

// TileEvent builds a tile activation event for tests.
func TileEvent(patientID, sessionID, category string, ts time.Time) models.Event {
	return models.Event{
		Type:         models.EventTypeTile,
		PatientID:    patientID,
		SessionID:    sessionID,
		TileCategory: category,
		Timestamp:    ts,
	}
}

// MarkerEvent builds a non-tile event such as an attempt or success marker.
func MarkerEvent(patientID, sessionID string, eventType models.EventType, ts time.Time) models.Event {
	return models.Event{
		Type:      eventType,
		PatientID: patientID,
		SessionID: sessionID,
		Timestamp: ts,
	}
}

// DecodeAPIResponse unmarshals a response envelope and fails the test when the
// body is not valid JSON.
func DecodeAPIResponse(t *testing.T, data []byte) models.APIResponse {
	t.Helper()
	var response models.APIResponse
	if err := json.Unmarshal(data, &response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}
	return response
}

// MustMarshalJSON marshals v to JSON and fails the test on error.
func MustMarshalJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}
