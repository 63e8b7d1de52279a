package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/domotic-core/internal/automation"
	"github.com/nerrad567/domotic-core/internal/device"
	"github.com/nerrad567/domotic-core/internal/infrastructure/mqtt"
)

// Error is the body of every non-2xx response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeInternal     = "internal_error"
	ErrCodeValidation   = "validation_error"
	ErrCodeNotConnected = "not_connected"
	ErrCodeNotPersisted = "not_persisted"
)

// domainErrors maps core sentinels to responses, first match wins. An
// empty message means the error text is shown to the caller.
var domainErrors = []struct {
	target  error
	status  int
	code    string
	message string
}{
	{device.ErrUnknownDevice, http.StatusNotFound, ErrCodeNotFound, "device not found"},
	{automation.ErrScheduleNotFound, http.StatusNotFound, ErrCodeNotFound, "schedule not found"},
	{automation.ErrScheduleExists, http.StatusConflict, ErrCodeConflict, "schedule already exists"},
	{automation.ErrInvalidSchedule, http.StatusBadRequest, ErrCodeValidation, ""},
	{mqtt.ErrNotConnected, http.StatusServiceUnavailable, ErrCodeNotConnected, "broker not connected; command dropped"},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	//nolint:errcheck // client may have gone away
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeDomainError answers with the response registered for err, or a
// generic 500.
func writeDomainError(w http.ResponseWriter, err error) {
	for _, d := range domainErrors {
		if !errors.Is(err, d.target) {
			continue
		}
		msg := d.message
		if msg == "" {
			msg = err.Error()
		}
		writeError(w, d.status, d.code, msg)
		return
	}
	writeInternalError(w, "internal error")
}

// writeNotPersisted reports a change that took effect in memory but was not
// saved.
func writeNotPersisted(w http.ResponseWriter) {
	writeError(w, http.StatusInternalServerError, ErrCodeNotPersisted, "change applied but not saved to storage")
}
