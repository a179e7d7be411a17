package audit

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/wrench/pkg/httputil"
)

const defaultEventLimit = 100

// Handlers provides HTTP handlers for the audit trail
type Handlers struct {
	reader Reader
}

// NewHandlers creates new audit handlers
func NewHandlers(reader Reader) *Handlers {
	return &Handlers{reader: reader}
}

// RegisterRoutes registers audit routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/rbac/events", h.listEvents).Methods("GET")
	router.HandleFunc("/rbac/events/export", h.exportEvents).Methods("GET")
	router.HandleFunc("/rbac/events/stats", h.getStats).Methods("GET")
	router.HandleFunc("/rbac/profiles/{id}/audit", h.listEntries).Methods("GET")
}

// listEvents handles GET /rbac/events
func (h *Handlers) listEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r, defaultEventLimit)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	events, err := h.reader.Events(r.Context(), filter)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"events": events,
		"count":  len(events),
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// exportEvents handles GET /rbac/events/export
func (h *Handlers) exportEvents(w http.ResponseWriter, r *http.Request) {
	format, err := ParseExportFormat(r.URL.Query().Get("format"))
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	// Exports are unbounded unless the caller asks for a limit
	filter, err := parseFilter(r, 0)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	data, err := Export(r.Context(), h.reader, filter, format)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	contentType, ext := format.ContentType()
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=rbac-events.%s", ext))
	w.Write(data)
}

// getStats handles GET /rbac/events/stats
func (h *Handlers) getStats(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r, 0)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	stats, err := h.reader.Stats(r.Context(), filter.Since, filter.Until)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, stats)
}

// listEntries handles GET /rbac/profiles/{id}/audit
func (h *Handlers) listEntries(w http.ResponseWriter, r *http.Request) {
	profileID := mux.Vars(r)["id"]

	entries, err := h.reader.Entries(r.Context(), profileID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"profile_id": profileID,
		"entries":    entries,
		"count":      len(entries),
	})
}

// parseFilter reads since, until, action_types, target_id, performed_by,
// limit and offset from the query string
func parseFilter(r *http.Request, defaultLimit int) (EventFilter, error) {
	query := r.URL.Query()
	filter := EventFilter{Limit: defaultLimit}

	if s := query.Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return filter, fmt.Errorf("invalid since: %w", err)
		}
		filter.Since = &t
	}

	if s := query.Get("until"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return filter, fmt.Errorf("invalid until: %w", err)
		}
		filter.Until = &t
	}

	if s := query.Get("action_types"); s != "" {
		for _, part := range strings.Split(s, ",") {
			at := ActionType(strings.TrimSpace(part))
			if at == "" {
				continue
			}
			if !at.Valid() {
				return filter, fmt.Errorf("unknown action type %q", at)
			}
			filter.ActionTypes = append(filter.ActionTypes, at)
		}
	}

	filter.TargetID = query.Get("target_id")
	filter.PerformedBy = query.Get("performed_by")

	if s := query.Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit < 0 {
			return filter, fmt.Errorf("invalid limit %q", s)
		}
		filter.Limit = limit
	}

	if s := query.Get("offset"); s != "" {
		offset, err := strconv.Atoi(s)
		if err != nil || offset < 0 {
			return filter, fmt.Errorf("invalid offset %q", s)
		}
		filter.Offset = offset
	}

	return filter, nil
}
