package api

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/TileTalk/SessionPulse/internal/engine"
	"github.com/TileTalk/SessionPulse/internal/models"
	"github.com/TileTalk/SessionPulse/internal/store"
	"github.com/TileTalk/SessionPulse/internal/testutil"
)

func newTestHandler(t *testing.T) (http.Handler, *engine.Engine) {
	t.Helper()
	eng := engine.New(store.NewInMemoryStore())
	return NewServer(eng).Routes(), eng
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		buf.Write(testutil.MustMarshalJSON(t, body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestRecordEventEndpoint(t *testing.T) {
	handler, _ := newTestHandler(t)

	rec := doJSON(t, handler, http.MethodPost, "/events", testutil.TileEvent("patient-1", "sess-1", "food", time.Now()))
	if rec.Code != http.StatusCreated {
		t.Errorf("Expected status %d, got %d", http.StatusCreated, rec.Code)
		t.Logf("Response body: %s", rec.Body.String())
	}
	response := testutil.DecodeAPIResponse(t, rec.Body.Bytes())
	if response.Status != string(models.APIStatusRecorded) {
		t.Errorf("Expected status=%s, got status=%s, message=%s", models.APIStatusRecorded, response.Status, response.Message)
	}
}

func TestRecordEventEndpointValidation(t *testing.T) {
	handler, _ := newTestHandler(t)

	// Missing patientId
	event := models.Event{Type: models.EventTypeTile, SessionID: "sess-1", TileCategory: "food", Timestamp: time.Now()}
	rec := doJSON(t, handler, http.MethodPost, "/events", event)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}
	response := testutil.DecodeAPIResponse(t, rec.Body.Bytes())
	if response.Status != string(models.APIStatusError) {
		t.Errorf("Expected status=%s, got status=%s", models.APIStatusError, response.Status)
	}

	// Malformed JSON
	req := httptest.NewRequest(http.MethodPost, "/events", bytes.NewBufferString("{not json"))
	raw := httptest.NewRecorder()
	handler.ServeHTTP(raw, req)
	if raw.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d for malformed JSON, got %d", http.StatusBadRequest, raw.Code)
	}
}

func TestRecordEventEndpointClosedSession(t *testing.T) {
	handler, eng := newTestHandler(t)

	if err := eng.RecordEvent(testutil.TileEvent("patient-1", "sess-1", "food", time.Now())); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, _, err := eng.CloseSession("sess-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec := doJSON(t, handler, http.MethodPost, "/events", testutil.TileEvent("patient-1", "sess-1", "food", time.Now()))
	if rec.Code != http.StatusConflict {
		t.Errorf("Expected status %d, got %d", http.StatusConflict, rec.Code)
	}
}

func TestStartSessionEndpoint(t *testing.T) {
	handler, _ := newTestHandler(t)

	rec := doJSON(t, handler, http.MethodPost, "/sessions", map[string]string{"patientId": "patient-1"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected status %d, got %d", http.StatusCreated, rec.Code)
	}
	response := testutil.DecodeAPIResponse(t, rec.Body.Bytes())
	if response.Status != string(models.APIStatusOK) {
		t.Errorf("Expected status=%s, got status=%s", models.APIStatusOK, response.Status)
	}
	result, ok := response.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("Result = %T, want object", response.Result)
	}
	if id, _ := result["sessionId"].(string); id == "" {
		t.Error("Expected a generated sessionId in the result")
	}

	// Missing patientId rejects.
	rec = doJSON(t, handler, http.MethodPost, "/sessions", map[string]string{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}
}

func TestCloseSessionEndpoint(t *testing.T) {
	handler, eng := newTestHandler(t)

	if err := eng.RecordEvent(testutil.TileEvent("patient-1", "sess-1", "food", time.Now())); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec := doJSON(t, handler, http.MethodPost, "/sessions/sess-1/close", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, rec.Code)
	}
	response := testutil.DecodeAPIResponse(t, rec.Body.Bytes())
	if response.Status != string(models.APIStatusOK) {
		t.Errorf("Expected status=%s, got status=%s", models.APIStatusOK, response.Status)
	}
	result, ok := response.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("Result = %T, want object", response.Result)
	}
	if result["sessionId"] != "sess-1" {
		t.Errorf("Result sessionId = %v, want sess-1", result["sessionId"])
	}

	// Closing again conflicts.
	rec = doJSON(t, handler, http.MethodPost, "/sessions/sess-1/close", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("Expected status %d, got %d", http.StatusConflict, rec.Code)
	}

	// Unknown session is not found.
	rec = doJSON(t, handler, http.MethodPost, "/sessions/ghost/close", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected status %d, got %d", http.StatusNotFound, rec.Code)
	}
}

func TestAnomalyEndpoint(t *testing.T) {
	handler, eng := newTestHandler(t)

	// Active session conflicts.
	if err := eng.RecordEvent(testutil.TileEvent("patient-1", "live", "food", time.Now())); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rec := doJSON(t, handler, http.MethodGet, "/sessions/live/anomaly", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("Expected status %d, got %d", http.StatusConflict, rec.Code)
	}

	// Unknown session is not found.
	rec = doJSON(t, handler, http.MethodGet, "/sessions/ghost/anomaly", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected status %d, got %d", http.StatusNotFound, rec.Code)
	}

	// Closed session reports.
	if _, _, err := eng.CloseSession("live"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rec = doJSON(t, handler, http.MethodGet, "/sessions/live/anomaly", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, rec.Code)
	}
	response := testutil.DecodeAPIResponse(t, rec.Body.Bytes())
	result, ok := response.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("Result = %T, want object", response.Result)
	}
	if result["reason"] != "insufficient-population" {
		t.Errorf("reason = %v, want insufficient-population", result["reason"])
	}
}

func TestProfileEndpoint(t *testing.T) {
	handler, eng := newTestHandler(t)

	rec := doJSON(t, handler, http.MethodGet, "/patients/patient-1/profile", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected status %d, got %d", http.StatusNotFound, rec.Code)
	}

	if err := eng.RecordEvent(testutil.TileEvent("patient-1", "sess-1", "food", time.Now())); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, _, err := eng.CloseSession("sess-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec = doJSON(t, handler, http.MethodGet, "/patients/patient-1/profile", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, rec.Code)
	}
	response := testutil.DecodeAPIResponse(t, rec.Body.Bytes())
	result, ok := response.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("Result = %T, want object", response.Result)
	}
	if result["patientId"] != "patient-1" {
		t.Errorf("patientId = %v, want patient-1", result["patientId"])
	}
}

func TestReportEndpoint(t *testing.T) {
	handler, eng := newTestHandler(t)

	if err := eng.RecordEvent(testutil.TileEvent("patient-1", "sess-1", "food", time.Now())); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, _, err := eng.CloseSession("sess-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	start := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	end := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	path := fmt.Sprintf("/patients/patient-1/report?start=%s&end=%s", start, end)

	rec := doJSON(t, handler, http.MethodGet, path, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, rec.Code)
	}
	response := testutil.DecodeAPIResponse(t, rec.Body.Bytes())
	result, ok := response.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("Result = %T, want object", response.Result)
	}
	summary, ok := result["summary"].(map[string]interface{})
	if !ok {
		t.Fatalf("summary = %T, want object", result["summary"])
	}
	if summary["sessionCount"] != float64(1) {
		t.Errorf("sessionCount = %v, want 1", summary["sessionCount"])
	}
}

func TestReportEndpointBadRange(t *testing.T) {
	handler, _ := newTestHandler(t)

	// Missing both parameters.
	rec := doJSON(t, handler, http.MethodGet, "/patients/patient-1/report", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}

	// Unparseable start.
	rec = doJSON(t, handler, http.MethodGet, "/patients/patient-1/report?start=yesterday&end=2025-03-01T00:00:00Z", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}

	// End before start.
	rec = doJSON(t, handler, http.MethodGet, "/patients/patient-1/report?start=2025-03-02T00:00:00Z&end=2025-03-01T00:00:00Z", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}

	// Unknown patient with a valid range.
	rec = doJSON(t, handler, http.MethodGet, "/patients/patient-1/report?start=2025-03-01T00:00:00Z&end=2025-03-02T00:00:00Z", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected status %d, got %d", http.StatusNotFound, rec.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	handler, eng := newTestHandler(t)

	if err := eng.RecordEvent(testutil.TileEvent("patient-1", "sess-1", "food", time.Now())); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec := doJSON(t, handler, http.MethodGet, "/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, rec.Code)
	}
	response := testutil.DecodeAPIResponse(t, rec.Body.Bytes())
	result, ok := response.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("Result = %T, want object", response.Result)
	}
	if result["activeSessions"] != float64(1) {
		t.Errorf("activeSessions = %v, want 1", result["activeSessions"])
	}
}

func TestHealthEndpoint(t *testing.T) {
	handler, _ := newTestHandler(t)

	rec := doJSON(t, handler, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, rec.Code)
	}
	response := testutil.DecodeAPIResponse(t, rec.Body.Bytes())
	if response.Status != string(models.APIStatusOK) {
		t.Errorf("Expected status=%s, got status=%s", models.APIStatusOK, response.Status)
	}
	if response.Message != "service healthy" {
		t.Errorf("Message = %q, want service healthy", response.Message)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	handler, _ := newTestHandler(t)

	rec := doJSON(t, handler, http.MethodGet, "/events", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
	}
}
