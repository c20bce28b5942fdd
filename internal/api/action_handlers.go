package api

import (
	"net/http"
	"strings"

	"github.com/cadencehq/cadence/internal/services"
	"github.com/cadencehq/cadence/internal/store"
)

// GET|POST /api/actions
func (rt *Router) handleActions(w http.ResponseWriter, r *http.Request) {
	tenantID, userID, role, err := identity(r)
	if err != nil {
		writeError(w, err)
		return
	}
	switch r.Method {
	case http.MethodGet:
		filter := store.ActionFilter{
			Status:     r.URL.Query().Get("status"),
			Priority:   r.URL.Query().Get("priority"),
			AssignedTo: r.URL.Query().Get("assignedTo"),
		}
		actions, err := rt.actions.List(tenantID, filter)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"actions": actions, "count": len(actions)})

	case http.MethodPost:
		if !isAdmin(role) {
			writeError(w, services.NewForbiddenError("only admins can create actions"))
			return
		}
		var req services.ManualActionRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		action, err := rt.actions.CreateManual(tenantID, userID, req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, action)

	default:
		methodNotAllowed(w)
	}
}

// /api/actions/{id}, /api/actions/{id}/assign, /api/actions/generate/feedback
func (rt *Router) handleActionScoped(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/actions/")
	if rest == "generate/feedback" {
		rt.handleGenerateFromFeedback(w, r)
		return
	}
	parts := strings.Split(rest, "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		rt.handleActionByID(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "assign":
		rt.handleActionAssign(w, r, parts[0])
	default:
		http.NotFound(w, r)
	}
}

func (rt *Router) handleActionByID(w http.ResponseWriter, r *http.Request, actionID string) {
	tenantID, userID, role, err := identity(r)
	if err != nil {
		writeError(w, err)
		return
	}
	switch r.Method {
	case http.MethodGet:
		action, err := rt.actions.Get(tenantID, actionID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, action)

	case http.MethodPatch, http.MethodPut:
		// Members may only update actions assigned to them.
		if !isAdmin(role) {
			action, err := rt.actions.Get(tenantID, actionID)
			if err != nil {
				writeError(w, err)
				return
			}
			if action.AssignedTo != userID {
				writeError(w, services.NewForbiddenError("only the assignee or an admin can update this action"))
				return
			}
		}
		var upd services.ActionUpdate
		if err := decodeBody(r, &upd); err != nil {
			writeError(w, err)
			return
		}
		action, err := rt.actions.Update(tenantID, actionID, userID, upd)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, action)

	case http.MethodDelete:
		if !isAdmin(role) {
			writeError(w, services.NewForbiddenError("only admins can delete actions"))
			return
		}
		if err := rt.actions.SoftDelete(tenantID, actionID); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		methodNotAllowed(w)
	}
}

type assignRequest struct {
	AssignedTo     string `json:"assignedTo"`
	AssignedToTeam string `json:"assignedToTeam,omitempty"`
}

// PUT /api/actions/{id}/assign
func (rt *Router) handleActionAssign(w http.ResponseWriter, r *http.Request, actionID string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w)
		return
	}
	tenantID, userID, role, err := identity(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if !isAdmin(role) {
		writeError(w, services.NewForbiddenError("only admins can reassign actions"))
		return
	}
	var req assignRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	action, err := rt.actions.Reassign(tenantID, actionID, req.AssignedTo, req.AssignedToTeam, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, action)
}

type generateRequest struct {
	ResponseIDs []string `json:"responseIds"`
}

// POST /api/actions/generate/feedback
func (rt *Router) handleGenerateFromFeedback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	tenantID, _, role, err := identity(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if !isAdmin(role) {
		writeError(w, services.NewForbiddenError("only admins can generate actions"))
		return
	}
	var req generateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	created, err := rt.pipeline.GenerateFromFeedback(r.Context(), tenantID, req.ResponseIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"actions": created, "count": len(created)})
}
