// Package api exposes the pipeline over HTTP: the public respondent surface
// (anonymous submit, token verify, invited submit) and the tenant-scoped
// management surface (actions, segments, alerts).
package api

import (
	"net"
	"net/http"
	"strings"

	"github.com/cadencehq/cadence/internal/middleware"
	"github.com/cadencehq/cadence/internal/services"
)

type Router struct {
	intake   *services.IntakeService
	actions  *services.ActionService
	pipeline *services.Processor
	segments *services.SegmentService
	alerts   *services.AlertService
}

func NewRouter(
	intake *services.IntakeService,
	actions *services.ActionService,
	pipeline *services.Processor,
	segments *services.SegmentService,
	alerts *services.AlertService,
) *Router {
	return &Router{
		intake:   intake,
		actions:  actions,
		pipeline: pipeline,
		segments: segments,
		alerts:   alerts,
	}
}

func (rt *Router) Register(mux *http.ServeMux) {
	// Public respondent surface.
	mux.HandleFunc("/api/surveys/responses/anonymous/", rt.handleAnonymousSubmit) // POST .../{surveyId}
	mux.HandleFunc("/api/responses/verify/", rt.handleVerify)                     // GET .../{token}
	mux.HandleFunc("/api/responses/", rt.handleInvitedSubmit)                     // POST .../{token}

	// Management surface, tenant-scoped by the auth claims.
	mux.Handle("/api/invites", middleware.RequireAuth(http.HandlerFunc(rt.handleInvites)))
	mux.Handle("/api/actions", middleware.RequireAuth(http.HandlerFunc(rt.handleActions)))
	mux.Handle("/api/actions/", middleware.RequireAuth(http.HandlerFunc(rt.handleActionScoped)))
	mux.Handle("/api/segments", middleware.RequireAuth(http.HandlerFunc(rt.handleSegments)))
	mux.Handle("/api/segments/", middleware.RequireAuth(http.HandlerFunc(rt.handleSegmentScoped)))
	mux.Handle("/api/alerts", middleware.RequireAuth(http.HandlerFunc(rt.handleAlerts)))
}

// identity pulls the tenant and user out of the verified claims.
func identity(r *http.Request) (tenantID, userID, role string, err error) {
	c, ok := middleware.ClaimsFromContext(r.Context())
	if !ok || c.TID == "" {
		return "", "", "", services.NewUnauthorizedError("missing or invalid credentials")
	}
	return c.TID, c.UID, c.Role, nil
}

func isAdmin(role string) bool {
	return role == middleware.RoleAdmin || role == middleware.RoleCompanyAdmin
}

// clientInfo derives respondent metadata from the transport, never the body.
func clientInfo(r *http.Request) services.ClientInfo {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		ip = strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	return services.ClientInfo{UserAgent: r.UserAgent(), IP: ip}
}
