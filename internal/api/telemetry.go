package api

import (
	"net/http"
	"time"

	"github.com/nerrad567/domotic-core/internal/telemetry"
)

// TelemetryResponse is the latest temperature reading.
type TelemetryResponse struct {
	Available  bool       `json:"available"`
	Value      *float64   `json:"value,omitempty"`
	ReceivedAt *time.Time `json:"received_at,omitempty"`
	Display    string     `json:"display"`
}

// handleGetTelemetry returns the last reading, or "Indisponible" before
// the first one arrives.
func (s *Server) handleGetTelemetry(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.telemetryResponse())
}

func (s *Server) telemetryResponse() TelemetryResponse {
	reading, ok := s.ctrl.LastReading()
	if !ok {
		return TelemetryResponse{Display: telemetry.Unavailable}
	}
	return TelemetryResponse{
		Available:  true,
		Value:      &reading.Value,
		ReceivedAt: &reading.ReceivedAt,
		Display:    telemetry.FormatCelsius(reading.Value),
	}
}

// handleGetConnection returns the broker connection state.
func (s *Server) handleGetConnection(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"state": s.ctrl.ConnectionState().String()})
}

// handleConnect starts connecting. The outcome arrives later as a
// connection.state_changed event.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Connect(); err != nil {
		s.requestLogger(r).Error("connect failed", "error", err)
		writeInternalError(w, "connect failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"state": s.ctrl.ConnectionState().String()})
}

// handleDisconnect closes the broker connection.
func (s *Server) handleDisconnect(w http.ResponseWriter, _ *http.Request) {
	s.ctrl.Disconnect()
	writeJSON(w, http.StatusOK, map[string]string{"state": s.ctrl.ConnectionState().String()})
}
