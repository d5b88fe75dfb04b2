// Package api provides HTTP handlers for SessionPulse endpoints.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/TileTalk/SessionPulse/internal/models"
)

// startSessionRequest is the body of POST /sessions.
type startSessionRequest struct {
	PatientID string `json:"patientId"`
}

func (s *Server) recordEventHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.recordEventHandler: processing event", "method", r.Method, "path", r.URL.Path)
	var event models.Event
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		slog.Warn("Server.recordEventHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	if err := s.engine.RecordEvent(event); err != nil {
		if errors.Is(err, models.ErrSessionClosed) {
			slog.Warn("Server.recordEventHandler: event for closed session", "sessionID", event.SessionID)
			writeJSONResponse(w, http.StatusConflict, models.Error(err.Error()))
			return
		}
		slog.Warn("Server.recordEventHandler: event rejected", "error", err, "sessionID", event.SessionID)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	slog.Debug("Server.recordEventHandler: event recorded", "sessionID", event.SessionID, "type", event.Type)
	writeJSONResponse(w, http.StatusCreated, models.Recorded())
}

func (s *Server) startSessionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.startSessionHandler: processing start request", "method", r.Method, "path", r.URL.Path)
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.startSessionHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	sessionID, err := s.engine.StartSession(req.PatientID)
	if err != nil {
		slog.Warn("Server.startSessionHandler: start rejected", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	slog.Info("Server.startSessionHandler: session started", "sessionID", sessionID, "patientID", req.PatientID)
	writeJSONResponse(w, http.StatusCreated, models.Success(map[string]string{"sessionId": sessionID}))
}

func (s *Server) closeSessionHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	slog.Debug("Server.closeSessionHandler: processing close request", "sessionID", sessionID)

	session, _, err := s.engine.CloseSession(sessionID)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrSessionNotFound):
			slog.Warn("Server.closeSessionHandler: session not found", "sessionID", sessionID)
			writeJSONResponse(w, http.StatusNotFound, models.Error(err.Error()))
		case errors.Is(err, models.ErrSessionClosed):
			slog.Warn("Server.closeSessionHandler: session already closed", "sessionID", sessionID)
			writeJSONResponse(w, http.StatusConflict, models.Error(err.Error()))
		default:
			slog.Error("Server.closeSessionHandler: close failed", "error", err, "sessionID", sessionID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to close session"))
		}
		return
	}
	slog.Info("Server.closeSessionHandler: session closed", "sessionID", sessionID, "patientID", session.PatientID)
	writeJSONResponse(w, http.StatusOK, models.Success(session))
}

func (s *Server) anomalyHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	slog.Debug("Server.anomalyHandler: processing anomaly check", "sessionID", sessionID)

	report, err := s.engine.CheckAnomaly(sessionID)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrSessionActive):
			slog.Warn("Server.anomalyHandler: session still active", "sessionID", sessionID)
			writeJSONResponse(w, http.StatusConflict, models.Error(err.Error()))
		case errors.Is(err, models.ErrSessionNotFound):
			slog.Warn("Server.anomalyHandler: session not found", "sessionID", sessionID)
			writeJSONResponse(w, http.StatusNotFound, models.Error(err.Error()))
		default:
			slog.Error("Server.anomalyHandler: anomaly check failed", "error", err, "sessionID", sessionID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to evaluate session"))
		}
		return
	}
	slog.Debug("Server.anomalyHandler: anomaly check complete", "sessionID", sessionID, "flagged", report.Flagged)
	writeJSONResponse(w, http.StatusOK, models.Success(report))
}

func (s *Server) profileHandler(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "patientID")
	slog.Debug("Server.profileHandler: processing profile request", "patientID", patientID)

	profile, err := s.engine.Profile(patientID)
	if err != nil {
		slog.Warn("Server.profileHandler: profile not found", "patientID", patientID)
		writeJSONResponse(w, http.StatusNotFound, models.Error(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(profile))
}

func (s *Server) reportHandler(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "patientID")
	slog.Debug("Server.reportHandler: processing report request", "patientID", patientID)

	dateRange, err := parseDateRange(r)
	if err != nil {
		slog.Warn("Server.reportHandler: bad date range", "error", err, "patientID", patientID)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	report, err := s.engine.Report(patientID, dateRange)
	if err != nil {
		if errors.Is(err, models.ErrProfileNotFound) {
			slog.Warn("Server.reportHandler: profile not found", "patientID", patientID)
			writeJSONResponse(w, http.StatusNotFound, models.Error(err.Error()))
			return
		}
		slog.Error("Server.reportHandler: report build failed", "error", err, "patientID", patientID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to build report"))
		return
	}
	slog.Debug("Server.reportHandler: report built", "patientID", patientID, "sessions", report.Summary.SessionCount)
	writeJSONResponse(w, http.StatusOK, models.Success(report))
}

// statsHandler returns engine-wide counters (GET /stats).
func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	stats := s.engine.Stats()
	slog.Debug("Server.statsHandler: stats computed", "activeSessions", stats.ActiveSessions, "patients", stats.Patients)
	writeJSONResponse(w, http.StatusOK, models.Success(stats))
}

// healthHandler provides a health check endpoint for monitoring and load balancing
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("service healthy", map[string]interface{}{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}))
}

// parseDateRange reads the required start and end RFC3339 query parameters.
func parseDateRange(r *http.Request) (models.DateRange, error) {
	startRaw := r.URL.Query().Get("start")
	endRaw := r.URL.Query().Get("end")
	if startRaw == "" || endRaw == "" {
		return models.DateRange{}, fmt.Errorf("start and end query parameters are required")
	}
	start, err := time.Parse(time.RFC3339, startRaw)
	if err != nil {
		return models.DateRange{}, fmt.Errorf("invalid start: %w", err)
	}
	end, err := time.Parse(time.RFC3339, endRaw)
	if err != nil {
		return models.DateRange{}, fmt.Errorf("invalid end: %w", err)
	}
	if end.Before(start) {
		return models.DateRange{}, fmt.Errorf("end precedes start")
	}
	return models.DateRange{Start: start, End: end}, nil
}
