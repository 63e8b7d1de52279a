package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter mounts every /api/v1 route behind the shared middleware chain.
// Request IDs are assigned first so that logging and recovery can tag them.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(
		s.requestIDMiddleware,
		s.loggingMiddleware,
		s.recoveryMiddleware,
		s.corsMiddleware,
		s.bodySizeLimitMiddleware,
	)
	r.Route("/api/v1", s.v1Routes)
	return r
}

func (s *Server) v1Routes(r chi.Router) {
	r.Get("/health", s.handleHealth)
	r.Get("/telemetry", s.handleGetTelemetry)
	r.Get("/activity", s.handleListActivity)
	r.Get("/ws", s.handleWebSocket)

	r.Get("/devices", s.handleListDevices)
	r.Put("/devices/all/state", s.handleSetAllDevices)
	r.Get("/devices/{id}", s.handleGetDevice)
	r.Put("/devices/{id}/state", s.handleSetDeviceState)

	r.Get("/connection", s.handleGetConnection)
	r.Post("/connection/connect", s.handleConnect)
	r.Post("/connection/disconnect", s.handleDisconnect)

	r.Route("/schedules", func(r chi.Router) {
		r.Get("/", s.handleListSchedules)
		r.Post("/", s.handleCreateSchedule)
		r.Get("/{id}", s.handleGetSchedule)
		r.Put("/{id}", s.handleUpdateSchedule)
		r.Delete("/{id}", s.handleDeleteSchedule)
		r.Put("/{id}/enabled", s.handleSetScheduleEnabled)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"version":    s.version,
		"connection": s.ctrl.ConnectionState().String(),
	})
}
