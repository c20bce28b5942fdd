package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/cadencehq/cadence/internal/services"
)

type segmentRequest struct {
	Name    string         `json:"name"`
	Filters map[string]any `json:"filters"`
}

// GET|POST /api/segments
func (rt *Router) handleSegments(w http.ResponseWriter, r *http.Request) {
	tenantID, _, role, err := identity(r)
	if err != nil {
		writeError(w, err)
		return
	}
	switch r.Method {
	case http.MethodGet:
		segments, err := rt.segments.List(tenantID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"segments": segments, "count": len(segments)})

	case http.MethodPost:
		if !isAdmin(role) {
			writeError(w, services.NewForbiddenError("only admins can create segments"))
			return
		}
		var req segmentRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		seg, err := rt.segments.Create(tenantID, req.Name, req.Filters)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, seg)

	default:
		methodNotAllowed(w)
	}
}

// /api/segments/preview, /api/segments/{id}, /api/segments/{id}/preview
func (rt *Router) handleSegmentScoped(w http.ResponseWriter, r *http.Request) {
	tenantID, _, role, err := identity(r)
	if err != nil {
		writeError(w, err)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/segments/")

	if rest == "preview" {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var req segmentRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		contacts, err := rt.segments.Preview(tenantID, req.Filters)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"contacts": contacts, "count": len(contacts)})
		return
	}

	parts := strings.Split(rest, "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		id := parts[0]
		switch r.Method {
		case http.MethodGet:
			seg, err := rt.segments.Get(tenantID, id)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, seg)
		case http.MethodPut:
			if !isAdmin(role) {
				writeError(w, services.NewForbiddenError("only admins can update segments"))
				return
			}
			var req segmentRequest
			if err := decodeBody(r, &req); err != nil {
				writeError(w, err)
				return
			}
			seg, err := rt.segments.Update(tenantID, id, req.Name, req.Filters)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, seg)
		default:
			methodNotAllowed(w)
		}

	case len(parts) == 2 && parts[1] == "preview":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		contacts, err := rt.segments.PreviewSaved(tenantID, parts[0])
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"contacts": contacts, "count": len(contacts)})

	default:
		http.NotFound(w, r)
	}
}

// GET /api/alerts?limit=n
func (rt *Router) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	tenantID, _, _, err := identity(r)
	if err != nil {
		writeError(w, err)
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, services.NewInvalidError("limit must be a positive integer"))
			return
		}
		limit = n
	}
	alerts, err := rt.alerts.List(tenantID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts, "count": len(alerts)})
}
