package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/cadencehq/cadence/internal/models"
	"github.com/cadencehq/cadence/internal/services"
)

// POST /api/surveys/responses/anonymous/{surveyId}
func (rt *Router) handleAnonymousSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	surveyID := strings.TrimPrefix(r.URL.Path, "/api/surveys/responses/anonymous/")
	if surveyID == "" || strings.Contains(surveyID, "/") {
		http.NotFound(w, r)
		return
	}
	var req services.SubmitRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	resp, err := rt.intake.SubmitAnonymous(r.Context(), surveyID, &req, clientInfo(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// GET /api/responses/verify/{token}
func (rt *Router) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	token := strings.TrimPrefix(r.URL.Path, "/api/responses/verify/")
	if token == "" || strings.Contains(token, "/") {
		http.NotFound(w, r)
		return
	}
	survey, err := rt.intake.Verify(token)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, survey)
}

// POST /api/responses/{token}
func (rt *Router) handleInvitedSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	token := strings.TrimPrefix(r.URL.Path, "/api/responses/")
	if token == "" || strings.Contains(token, "/") {
		http.NotFound(w, r)
		return
	}
	var req services.SubmitRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	resp, err := rt.intake.SubmitInvited(r.Context(), token, &req, clientInfo(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

type createInviteRequest struct {
	SurveyID  string                `json:"surveyId"`
	UserID    string                `json:"userId,omitempty"`
	Contact   *models.InviteContact `json:"contact,omitempty"`
	ExpiresAt *time.Time            `json:"expiresAt,omitempty"`
}

type createInviteResponse struct {
	Invite *models.SurveyInvite `json:"invite"`
	// Token is shown exactly once; only its digest is stored.
	Token string `json:"token"`
}

// POST /api/invites
func (rt *Router) handleInvites(w http.ResponseWriter, r *http.Request) {
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
		writeError(w, services.NewForbiddenError("only admins can issue invites"))
		return
	}
	var req createInviteRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.SurveyID == "" {
		writeError(w, services.NewInvalidError("surveyId is required"))
		return
	}
	var expiresAt time.Time
	if req.ExpiresAt != nil {
		expiresAt = *req.ExpiresAt
	}
	inv, token, err := rt.intake.CreateInvite(tenantID, req.SurveyID, req.UserID, req.Contact, expiresAt)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createInviteResponse{Invite: inv, Token: token})
}
