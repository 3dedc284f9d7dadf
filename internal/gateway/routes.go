package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/domain"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/store"
)

const (
	maxBodyBytes           = 1 << 20
	defaultEscalationLimit = 50
)

// registerHTTPRoutes sets up the REST API and the event stream.
func (s *Server) registerHTTPRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", s.handleHealth)

	mux.HandleFunc("POST /api/session/create", s.requireAuth(s.handleSessionCreate))
	mux.HandleFunc("GET /api/session/create", s.requireAuth(s.handleSessionCreate))
	mux.HandleFunc("GET /api/session/qr", s.requireAuth(s.handleSessionQR))
	mux.HandleFunc("POST /api/session/send", s.requireAuth(s.handleSessionSend))
	mux.HandleFunc("POST /api/session/reset", s.requireAuth(s.handleSessionReset))
	mux.HandleFunc("POST /api/session/bulk", s.requireAuth(s.handleSessionBulk))
	mux.HandleFunc("GET /api/sessions", s.requireAuth(s.handleSessionList))

	mux.HandleFunc("GET /api/tenant/{id}/config", s.requireAuth(s.handleTenantGet))
	mux.HandleFunc("PUT /api/tenant/{id}/config", s.requireAuth(s.handleTenantPut))

	mux.HandleFunc("GET /api/channels", s.requireAuth(s.handleChannels))
	mux.HandleFunc("GET /api/escalations", s.requireAuth(s.handleEscalations))

	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("/", handleNotFound)
}

func handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "not_found", "no route for "+r.Method+" "+r.URL.Path)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"status": "alive",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// sessionRequest is accepted as a JSON body or as query parameters.
type sessionRequest struct {
	SessionID string   `json:"sessionId"`
	TenantID  string   `json:"tenant"`
	To        string   `json:"to"`
	Text      string   `json:"text"`
	MediaURL  string   `json:"mediaUrl"`
	MediaKind string   `json:"mediaKind"`
	Caption   string   `json:"caption"`
	Numbers   []string `json:"numbers"`
	Message   string   `json:"message"`
}

// bind decodes a JSON body when present, then fills empty fields from the
// query string.
func bind(r *http.Request) (sessionRequest, error) {
	var req sessionRequest
	if r.Body != nil && r.ContentLength != 0 {
		err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req)
		if err != nil && !errors.Is(err, io.EOF) {
			return req, fmt.Errorf("invalid JSON body: %w", err)
		}
	}
	q := r.URL.Query()
	fill := func(dst *string, key string) {
		if *dst == "" {
			*dst = strings.TrimSpace(q.Get(key))
		}
	}
	fill(&req.SessionID, "sessionId")
	fill(&req.TenantID, "tenant")
	fill(&req.To, "to")
	fill(&req.Text, "text")
	fill(&req.MediaURL, "mediaUrl")
	fill(&req.MediaKind, "mediaKind")
	fill(&req.Caption, "caption")
	fill(&req.Message, "message")
	if len(req.Numbers) == 0 {
		if n := q.Get("numbers"); n != "" {
			req.Numbers = strings.Split(n, ",")
		}
	}
	return req, nil
}

func (s *Server) sessionsOrFail(w http.ResponseWriter) bool {
	if s.sessions == nil {
		writeErr(w, fmt.Errorf("sessions: %w", errUnavailable))
		return false
	}
	return true
}

func (s *Server) handleSessionCreate(w http.ResponseWriter, r *http.Request) {
	if !s.sessionsOrFail(w) {
		return
	}
	req, err := bind(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.SessionID == "" {
		req.SessionID = fmt.Sprintf("session_%d", time.Now().UnixMilli())
	}
	info, err := s.sessions.Create(r.Context(), req.SessionID, req.TenantID)
	if err != nil {
		writeErr(w, err)
		return
	}
	s.log.Info().Str("session", info.ID).Str("tenant", info.TenantID).Msg("session created via API")
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "sessionId": info.ID, "session": info})
}

func (s *Server) handleSessionQR(w http.ResponseWriter, r *http.Request) {
	if !s.sessionsOrFail(w) {
		return
	}
	id := r.URL.Query().Get("sessionId")
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "sessionId is required")
		return
	}
	info, err := s.sessions.Get(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"qr":        info.QRDataURL,
		"challenge": info.PairingChallenge,
		"status":    info.State,
	})
}

func (s *Server) handleSessionSend(w http.ResponseWriter, r *http.Request) {
	if !s.sessionsOrFail(w) {
		return
	}
	req, err := bind(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.SessionID == "" || req.To == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "sessionId and to are required")
		return
	}

	if req.MediaURL != "" {
		if s.operator == nil {
			writeErr(w, fmt.Errorf("media sending: %w", errUnavailable))
			return
		}
		kind, ok := domain.ParseMediaKind(req.MediaKind)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_request", "mediaKind must be image, document, video or audio")
			return
		}
		caption := req.Caption
		if caption == "" {
			caption = req.Text
		}
		if err := s.operator.SendMedia(r.Context(), req.SessionID, req.To, req.MediaURL, kind, caption); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "message": "media sent"})
		return
	}

	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "text or mediaUrl is required")
		return
	}
	msg := domain.OutboundMessage{To: domain.JID(req.To), Body: req.Text}
	if err := s.sessions.Send(r.Context(), req.SessionID, msg); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "message": "message sent"})
}

func (s *Server) handleSessionReset(w http.ResponseWriter, r *http.Request) {
	if !s.sessionsOrFail(w) {
		return
	}
	req, err := bind(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "sessionId is required")
		return
	}
	if err := s.sessions.Remove(r.Context(), req.SessionID); err != nil {
		writeErr(w, err)
		return
	}
	s.log.Info().Str("session", req.SessionID).Msg("session reset via API")
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "message": "session removed, create it again to pair"})
}

// handleSessionBulk starts a paced bulk send and returns immediately.
func (s *Server) handleSessionBulk(w http.ResponseWriter, r *http.Request) {
	if s.operator == nil {
		writeErr(w, fmt.Errorf("bulk sending: %w", errUnavailable))
		return
	}
	req, err := bind(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	var numbers []string
	for _, n := range req.Numbers {
		if n = strings.TrimSpace(n); n != "" {
			numbers = append(numbers, n)
		}
	}
	if req.SessionID == "" || len(numbers) == 0 || strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "sessionId, numbers and message are required")
		return
	}
	if s.sessions != nil {
		if _, err := s.sessions.Get(req.SessionID); err != nil {
			writeErr(w, err)
			return
		}
	}

	ctx := context.WithoutCancel(r.Context())
	s.jobs.Add(1)
	go func() {
		defer s.jobs.Done()
		sent, err := s.operator.Bulk(ctx, req.SessionID, numbers, req.Message)
		log := s.log.Info()
		if err != nil {
			log = s.log.Warn().Err(err)
		}
		log.Str("session", req.SessionID).Int("sent", sent).Int("total", len(numbers)).Msg("API bulk send finished")
	}()
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true, "queued": len(numbers)})
}

func (s *Server) handleSessionList(w http.ResponseWriter, _ *http.Request) {
	if !s.sessionsOrFail(w) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "sessions": s.sessions.List()})
}

func (s *Server) handleTenantGet(w http.ResponseWriter, r *http.Request) {
	if s.tenants == nil {
		writeErr(w, fmt.Errorf("tenants: %w", errUnavailable))
		return
	}
	cfg, err := s.tenants.Get(r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// handleTenantPut replaces a tenant configuration. The tenant id always
// comes from the path.
func (s *Server) handleTenantPut(w http.ResponseWriter, r *http.Request) {
	if s.tenants == nil {
		writeErr(w, fmt.Errorf("tenants: %w", errUnavailable))
		return
	}
	var cfg domain.BusinessConfig
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body: "+err.Error())
		return
	}
	cfg.TenantID = r.PathValue("id")
	if err := s.tenants.Put(cfg); err != nil {
		writeErr(w, err)
		return
	}
	stored, err := s.tenants.Get(cfg.TenantID)
	if err != nil {
		writeErr(w, err)
		return
	}
	s.log.Info().Str("tenant", cfg.TenantID).Msg("tenant config replaced via API")
	writeJSON(w, http.StatusOK, stored)
}

func (s *Server) handleChannels(w http.ResponseWriter, _ *http.Request) {
	if s.channels == nil {
		writeJSON(w, http.StatusOK, map[string]any{"channels": []any{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"channels": s.channels.Status()})
}

func (s *Server) handleEscalations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tenantID := q.Get("tenant")
	if tenantID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "tenant is required")
		return
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	entries, err := s.searchEscalations(tenantID, q.Get("q"), limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"escalations": entries})
}

func (s *Server) searchEscalations(tenantID, query string, limit int) ([]store.EscalationEntry, error) {
	if s.escalations == nil {
		return nil, fmt.Errorf("escalation log: %w", errUnavailable)
	}
	if limit <= 0 {
		limit = defaultEscalationLimit
	}
	if strings.TrimSpace(query) == "" {
		return s.escalations.Recent(tenantID, limit)
	}
	return s.escalations.Search(tenantID, query, limit)
}
