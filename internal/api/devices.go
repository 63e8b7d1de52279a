package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/domotic-core/internal/device"
	"github.com/nerrad567/domotic-core/internal/infrastructure/mqtt"
)

// DeviceResponse is the JSON form of one outlet and its state.
type DeviceResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Topic     string    `json:"topic"`
	On        bool      `json:"on"`
	Source    string    `json:"source"`
	Pending   bool      `json:"pending"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SetStateRequest is the body of PUT .../state.
type SetStateRequest struct {
	On *bool `json:"on"`
}

func toDeviceResponse(s device.Status) DeviceResponse {
	return DeviceResponse{
		ID:        string(s.ID),
		Name:      s.Name,
		Topic:     s.Topic,
		On:        s.On,
		Source:    string(s.Source),
		Pending:   s.Pending(),
		UpdatedAt: s.UpdatedAt,
	}
}

// handleListDevices returns every outlet with its state, in catalog order.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	s.writeDevices(w, http.StatusOK)
}

// handleGetDevice returns one outlet.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	st, err := s.ctrl.Device(device.ID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDeviceResponse(st))
}

// handleSetDeviceState commands one outlet on or off.
//
// The response is 202 Accepted: the command was handed to the broker and
// the device echo will confirm it. While the broker is not connected the
// command is dropped and 503 is returned.
func (s *Server) handleSetDeviceState(w http.ResponseWriter, r *http.Request) {
	id := device.ID(chi.URLParam(r, "id"))

	on, ok := decodeSetState(w, r)
	if !ok {
		return
	}

	if err := s.ctrl.SetDeviceState(r.Context(), id, on); err != nil {
		writeCommandError(w, err)
		return
	}

	st, err := s.ctrl.Device(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, toDeviceResponse(st))
}

// handleSetAllDevices commands every outlet.
func (s *Server) handleSetAllDevices(w http.ResponseWriter, r *http.Request) {
	on, ok := decodeSetState(w, r)
	if !ok {
		return
	}

	if err := s.ctrl.SetAllDevices(r.Context(), on); err != nil {
		writeCommandError(w, err)
		return
	}
	s.writeDevices(w, http.StatusAccepted)
}

func (s *Server) writeDevices(w http.ResponseWriter, status int) {
	statuses := s.ctrl.Devices()
	devices := make([]DeviceResponse, 0, len(statuses))
	for _, st := range statuses {
		devices = append(devices, toDeviceResponse(st))
	}
	writeJSON(w, status, map[string]any{"devices": devices, "count": len(devices)})
}

func decodeSetState(w http.ResponseWriter, r *http.Request) (bool, bool) {
	var req SetStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return false, false
	}
	if req.On == nil {
		writeBadRequest(w, "on field is required")
		return false, false
	}
	return *req.On, true
}

// writeCommandError reports a failed command. Anything that is not a
// transport error happened after the broker accepted the command, while
// saving the optimistic state.
func writeCommandError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, device.ErrUnknownDevice), errors.Is(err, mqtt.ErrNotConnected):
		writeDomainError(w, err)
	case errors.Is(err, mqtt.ErrInvalidTopic), errors.Is(err, mqtt.ErrPayloadTooLarge):
		writeInternalError(w, "command rejected by transport")
	default:
		writeNotPersisted(w)
	}
}
