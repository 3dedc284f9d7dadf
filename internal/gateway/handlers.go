package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/domain"
)

// HealthResponse is returned by health endpoints. The public HTTP endpoint
// only fills Status.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version,omitempty"`
	Consoles int    `json:"consoles,omitempty"`
	Sessions int    `json:"sessions,omitempty"`
}

type callHandler func(cc *callContext)

// callContext is one console call in flight.
type callContext struct {
	console *console
	frame   Frame
	server  *Server
}

func (cc *callContext) Respond(result any) {
	if err := cc.console.reply(cc.frame.ID, result); err != nil {
		cc.server.log.Warn().Err(err).Str("method", cc.frame.Method).Msg("failed to send reply")
	}
}

func (cc *callContext) RespondError(code, message string) {
	if err := cc.console.fault(cc.frame.ID, code, message); err != nil {
		cc.server.log.Warn().Err(err).Str("method", cc.frame.Method).Msg("failed to send fault")
	}
}

// Args decodes the call arguments into target.
func (cc *callContext) Args(target any) error {
	if cc.frame.Args == nil {
		return nil
	}
	return json.Unmarshal(cc.frame.Args, target)
}

// Tenant reports whether the console may read tenantID.
func (cc *callContext) Tenant(tenantID string) bool {
	return cc.console.watches(map[string]any{"tenant": tenantID})
}

func (s *Server) registerCalls() {
	s.Handle("health", s.callHealth)
	s.Handle("sessions.list", s.callSessionsList)
	s.Handle("tenant.get", s.callTenantGet)
	s.Handle("channels.status", s.callChannelsStatus)
	s.Handle("escalations.search", s.callEscalationsSearch)
}

func (s *Server) callHealth(cc *callContext) {
	cc.Respond(s.health())
}

func (s *Server) health() HealthResponse {
	h := HealthResponse{Status: "ok", Version: s.version, Consoles: s.consoles.count()}
	if s.sessions != nil {
		h.Sessions = len(s.sessions.List())
	}
	return h
}

func (s *Server) callSessionsList(cc *callContext) {
	if s.sessions == nil {
		cc.RespondError("unavailable", "sessions not configured")
		return
	}
	cc.Respond(map[string]any{"sessions": s.visibleSessions(cc.console)})
}

func (s *Server) callTenantGet(cc *callContext) {
	var p struct {
		TenantID string `json:"tenantId"`
	}
	if err := cc.Args(&p); err != nil || p.TenantID == "" {
		cc.RespondError("invalid_params", "tenantId is required")
		return
	}
	if !cc.Tenant(p.TenantID) {
		cc.RespondError("forbidden", "console is not attached to tenant "+p.TenantID)
		return
	}
	if s.tenants == nil {
		cc.RespondError("unavailable", "tenants not configured")
		return
	}
	cfg, err := s.tenants.Get(p.TenantID)
	if err != nil {
		cc.RespondError(errorCode(err), err.Error())
		return
	}
	cc.Respond(cfg)
}

func (s *Server) callChannelsStatus(cc *callContext) {
	if s.channels == nil {
		cc.Respond(map[string]any{"channels": []any{}})
		return
	}
	cc.Respond(map[string]any{"channels": s.channels.Status()})
}

func (s *Server) callEscalationsSearch(cc *callContext) {
	var p struct {
		TenantID string `json:"tenantId"`
		Query    string `json:"query"`
		Limit    int    `json:"limit"`
	}
	if err := cc.Args(&p); err != nil || p.TenantID == "" {
		cc.RespondError("invalid_params", "tenantId is required")
		return
	}
	if !cc.Tenant(p.TenantID) {
		cc.RespondError("forbidden", "console is not attached to tenant "+p.TenantID)
		return
	}
	entries, err := s.searchEscalations(p.TenantID, p.Query, p.Limit)
	if err != nil {
		cc.RespondError(errorCode(err), err.Error())
		return
	}
	cc.Respond(map[string]any{"escalations": entries})
}

// errUnavailable marks an endpoint whose backing component is not wired.
var errUnavailable = errors.New("not available")

// httpStatus maps domain errors onto HTTP status codes.
func httpStatus(err error) int {
	var ce *domain.ConfigInconsistentError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyExists), errors.Is(err, domain.ErrSessionNotConnected):
		return http.StatusConflict
	case errors.Is(err, domain.ErrTransportUnavailable), errors.Is(err, errUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrMediaFetchFailed):
		return http.StatusBadGateway
	case errors.As(err, &ce):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func errorCode(err error) string {
	switch httpStatus(err) {
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusServiceUnavailable:
		return "unavailable"
	case http.StatusBadGateway:
		return "media_fetch_failed"
	case http.StatusBadRequest:
		return "invalid_config"
	default:
		return "internal"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]Fault{"error": {Code: code, Message: message}})
}

func writeErr(w http.ResponseWriter, err error) {
	writeError(w, httpStatus(err), errorCode(err), err.Error())
}
