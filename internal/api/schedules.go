package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/domotic-core/internal/automation"
)

// ScheduleRequest is the body of schedule create and update requests.
// Times are "HH:MM" in the configured time zone.
type ScheduleRequest struct {
	ID      string                 `json:"id,omitempty"`
	Target  automation.Target      `json:"target"`
	Start   automation.MinuteOfDay `json:"start"`
	End     automation.MinuteOfDay `json:"end"`
	Action  automation.Action      `json:"action"`
	Enabled *bool                  `json:"enabled,omitempty"`
}

// ScheduleResponse is one schedule and the devices it currently holds.
type ScheduleResponse struct {
	automation.Schedule
	Window string   `json:"window"`
	Active []string `json:"active"`
}

// EnabledRequest is the body of PUT /schedules/{id}/enabled.
type EnabledRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) toScheduleResponse(sc automation.Schedule) ScheduleResponse {
	active := s.ctrl.ActiveDevices(sc.ID)
	ids := make([]string, 0, len(active))
	for _, id := range active {
		ids = append(ids, string(id))
	}
	return ScheduleResponse{Schedule: sc, Window: sc.Window(), Active: ids}
}

// schedule builds the domain value. enabled is used when the body omits it.
func (r ScheduleRequest) schedule(id string, enabled bool) automation.Schedule {
	if r.Enabled != nil {
		enabled = *r.Enabled
	}
	if id == "" {
		id = r.ID
	}
	return automation.Schedule{
		ID:      id,
		Target:  r.Target,
		Start:   r.Start,
		End:     r.End,
		Action:  r.Action,
		Enabled: enabled,
	}
}

// decodeScheduleRequest reads a schedule body. Malformed times and actions
// are reported as validation errors.
func decodeScheduleRequest(w http.ResponseWriter, r *http.Request) (ScheduleRequest, bool) {
	var req ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if errors.Is(err, automation.ErrInvalidTime) || errors.Is(err, automation.ErrInvalidAction) {
			writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
			return req, false
		}
		writeBadRequest(w, "invalid JSON body")
		return req, false
	}
	return req, true
}

// handleListSchedules returns every schedule in order.
func (s *Server) handleListSchedules(w http.ResponseWriter, _ *http.Request) {
	list := s.ctrl.Schedules()
	out := make([]ScheduleResponse, 0, len(list))
	for _, sc := range list {
		out = append(out, s.toScheduleResponse(sc))
	}
	writeJSON(w, http.StatusOK, map[string]any{"schedules": out, "count": len(out)})
}

// handleGetSchedule returns one schedule.
func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	sc, err := s.ctrl.Schedule(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.toScheduleResponse(sc))
}

// handleCreateSchedule creates a schedule. An omitted id is generated.
func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeScheduleRequest(w, r)
	if !ok {
		return
	}

	created, err := s.ctrl.CreateSchedule(r.Context(), req.schedule("", true))
	if err != nil {
		s.writeScheduleError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.toScheduleResponse(created))
}

// handleUpdateSchedule replaces a schedule. The id comes from the path; an
// omitted enabled keeps the stored value.
func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeScheduleRequest(w, r)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")
	if req.ID != "" && req.ID != id {
		writeBadRequest(w, "id in body does not match path")
		return
	}

	current, err := s.ctrl.Schedule(id)
	if err != nil {
		s.writeScheduleError(w, err)
		return
	}

	updated, err := s.ctrl.UpdateSchedule(r.Context(), req.schedule(id, current.Enabled))
	if err != nil {
		s.writeScheduleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.toScheduleResponse(updated))
}

// handleDeleteSchedule removes a schedule.
func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.DeleteSchedule(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeScheduleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSetScheduleEnabled enables or disables a schedule.
func (s *Server) handleSetScheduleEnabled(w http.ResponseWriter, r *http.Request) {
	var req EnabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Enabled == nil {
		writeBadRequest(w, "enabled field is required")
		return
	}

	sc, err := s.ctrl.SetScheduleEnabled(r.Context(), chi.URLParam(r, "id"), *req.Enabled)
	if err != nil {
		s.writeScheduleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.toScheduleResponse(sc))
}

func (s *Server) writeScheduleError(w http.ResponseWriter, err error) {
	if errors.Is(err, automation.ErrNotPersisted) {
		s.logger.Error("schedule change not persisted", "error", err)
		writeNotPersisted(w)
		return
	}
	writeDomainError(w, err)
}
