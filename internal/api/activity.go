package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/domotic-core/internal/audit"
)

// handleListActivity returns recorded commands and schedule edits, newest first.
//
// Query parameters:
//   - action: filter by action (command, create, update, delete, enable, ...)
//   - entity_type: filter by entity type (device, schedule, connection)
//   - entity_id: filter by device or schedule ID
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListActivity(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.Filter{
		Action:     q.Get("action"),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
	}

	var err error
	if v := q.Get("limit"); v != "" {
		if filter.Limit, err = strconv.Atoi(v); err != nil || filter.Limit < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
	}
	if v := q.Get("offset"); v != "" {
		if filter.Offset, err = strconv.Atoi(v); err != nil || filter.Offset < 0 {
			writeBadRequest(w, "offset must be a non-negative integer")
			return
		}
	}

	result, err := s.ctrl.Activity(r.Context(), filter)
	if err != nil {
		s.requestLogger(r).Error("failed to list activity", "error", err)
		writeInternalError(w, "failed to list activity")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
