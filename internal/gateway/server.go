// Package gateway is the control plane: a REST API to manage sessions and
// tenant configuration, and a WebSocket stream of session events.
package gateway

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/channel"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/config"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/domain"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/hooks"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/logging"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/store"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/version"
)

const (
	maxPayload  = 4 * 1024 * 1024
	eventBuffer = 256
)

// Sessions manages the live WhatsApp sessions.
type Sessions interface {
	Create(ctx context.Context, id, tenantID string) (domain.SessionInfo, error)
	Get(id string) (domain.SessionInfo, error)
	List() []domain.SessionInfo
	Remove(ctx context.Context, id string) error
	Send(ctx context.Context, id string, msg domain.OutboundMessage) error
}

// Tenants stores tenant configuration.
type Tenants interface {
	Get(id string) (domain.BusinessConfig, error)
	Put(cfg domain.BusinessConfig) error
	List() []domain.BusinessConfig
}

// Operator runs operator-initiated sends.
type Operator interface {
	Bulk(ctx context.Context, sessionID string, numbers []string, message string) (int, error)
	SendMedia(ctx context.Context, sessionID, number, url string, kind domain.MediaKind, caption string) error
}

// Escalations reads the escalation audit log.
type Escalations interface {
	Recent(tenantID string, limit int) ([]store.EscalationEntry, error)
	Search(tenantID, query string, limit int) ([]store.EscalationEntry, error)
}

type pushed struct {
	topic   string
	payload any
}

// Server is the gateway HTTP + WebSocket server.
type Server struct {
	cfg      config.Config
	auth     operatorAuth
	log      *logging.Logger
	consoles *consoles
	handlers map[string]callHandler
	version  string
	eventSeq atomic.Int64
	events   chan pushed

	sessions    Sessions
	tenants     Tenants
	operator    Operator
	escalations Escalations
	channels    *channel.Registry
	hooks       *hooks.Manager

	// background work started by requests, such as bulk sends
	jobs sync.WaitGroup

	startedAt   time.Time
	httpServer  *http.Server
	upgrader    websocket.Upgrader
	authLimiter *authRateLimiter
}

// ServerOption configures the gateway server.
type ServerOption func(*Server)

// WithSessions sets the session registry.
func WithSessions(s Sessions) ServerOption { return func(srv *Server) { srv.sessions = s } }

// WithTenants sets the tenant store.
func WithTenants(t Tenants) ServerOption { return func(srv *Server) { srv.tenants = t } }

// WithOperator enables the send-media and bulk endpoints.
func WithOperator(o Operator) ServerOption { return func(srv *Server) { srv.operator = o } }

// WithEscalations enables the escalation log endpoints.
func WithEscalations(e Escalations) ServerOption { return func(srv *Server) { srv.escalations = e } }

// WithChannels sets the notifier registry for status reporting.
func WithChannels(ch *channel.Registry) ServerOption {
	return func(s *Server) { s.channels = ch }
}

// WithHooks sets the hook manager. Session, escalation and message
// events are pushed to attached consoles.
func WithHooks(hm *hooks.Manager) ServerOption {
	return func(s *Server) { s.hooks = hm }
}

// New creates a gateway server.
func New(cfg config.Config, log *logging.Logger, opts ...ServerOption) *Server {
	s := &Server{
		cfg:         cfg,
		auth:        newOperatorAuth(cfg.Gateway.Auth),
		log:         log.Sub("gateway"),
		consoles:    newConsoles(log.Sub("consoles")),
		handlers:    make(map[string]callHandler),
		version:     version.Version,
		events:      make(chan pushed, eventBuffer),
		authLimiter: newAuthRateLimiter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkWebSocketOrigin(cfg.Gateway.ControlUI.AllowedOrigins),
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerCalls()
	s.subscribe()
	return s
}

// subscribe turns hook events into console pushes.
func (s *Server) subscribe() {
	if s.hooks == nil {
		return
	}
	forward := func(topic string) hooks.Handler {
		return func(_ context.Context, p hooks.Payload) error {
			s.push(topic, p.Data)
			return nil
		}
	}
	s.hooks.On(hooks.EventSessionState, "gateway", forward(TopicSessionState))
	s.hooks.On(hooks.EventEscalation, "gateway", forward(TopicEscalation))
	s.hooks.On(hooks.EventMessageReceived, "gateway", forward(TopicMessage))
}

// push queues a console push without blocking the emitter. Pushes are
// dropped when the queue is full.
func (s *Server) push(topic string, payload any) {
	select {
	case s.events <- pushed{topic: topic, payload: payload}:
	default:
		s.log.Warn().Str("topic", topic).Msg("push queue full, dropping")
	}
}

func (s *Server) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.events:
			s.consoles.fanOut(ev.topic, ev.payload, s.eventSeq.Add(1))
		}
	}
}

// checkWebSocketOrigin allows requests without an Origin header and
// browser requests from configured origins.
func checkWebSocketOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return isOriginAllowed(origin, allowed)
	}
}

// Handle registers a console call.
func (s *Server) Handle(method string, handler callHandler) {
	s.handlers[method] = handler
}

// Methods returns the sorted console call names.
func (s *Server) Methods() []string {
	methods := make([]string, 0, len(s.handlers))
	for m := range s.handlers {
		methods = append(methods, m)
	}
	slices.Sort(methods)
	return methods
}

// resolveBindAddr computes the listen address from config.
func resolveBindAddr(cfg config.GatewayConfig) string {
	switch cfg.Bind {
	case "lan", "auto":
		return fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	case "custom":
		host := cfg.CustomBindHost
		if host == "" {
			host = "0.0.0.0"
		}
		return fmt.Sprintf("%s:%d", host, cfg.Port)
	default:
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	}
}

// Handler returns the HTTP handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerHTTPRoutes(mux)
	return withMiddleware(mux, s.log, s.cfg.Gateway.ControlUI.AllowedOrigins)
}

// Start listens and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := resolveBindAddr(s.cfg.Gateway)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	if s.cfg.Gateway.TLS.Enabled {
		cert, err := tls.LoadX509KeyPair(s.cfg.Gateway.TLS.CertPath, s.cfg.Gateway.TLS.KeyPath)
		if err != nil {
			ln.Close()
			return fmt.Errorf("loading TLS certificate: %w", err)
		}
		ln = tls.NewListener(ln, &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		})
		s.log.Info().Msg("TLS enabled")
	} else if s.cfg.Gateway.Bind != "loopback" && s.cfg.Gateway.Bind != "" {
		s.log.Warn().Msg("TLS is not enabled, credentials travel in cleartext")
	}

	s.startedAt = time.Now()
	go s.pump(ctx)

	s.log.Info().
		Str("addr", ln.Addr().String()).
		Str("auth", s.auth.mode).
		Int("methods", len(s.handlers)).
		Msg("gateway server ready")
	s.hooks.Emit(ctx, hooks.EventGatewayStart, map[string]any{"addr": ln.Addr().String()})

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("shutting down gateway server")
		s.hooks.Emit(context.Background(), hooks.EventGatewayStop, nil)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.consoles.closeAll()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.jobs.Wait()
	return nil
}

// handleWebSocket upgrades, attaches a console and serves its calls.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.authLimiter.allow(r.RemoteAddr) {
		s.log.Warn().Str("remote", r.RemoteAddr).Msg("rate limited, too many failed auth attempts")
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxPayload)

	c, err := s.attach(conn, bearerCredentials(r))
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("console attach failed")
		s.authLimiter.recordFailure(r.RemoteAddr)
		conn.Close()
		return
	}

	s.consoles.add(c)
	defer func() {
		s.consoles.remove(c.connID)
		c.close()
	}()
	s.serve(c)
}

// attach runs the opening exchange: the bot pushes a nonce, the console
// calls attach, and the bot answers with a welcome. Bearer credentials on
// the upgrade request stand in for missing attach credentials.
func (s *Server) attach(conn *websocket.Conn, bearer *Credentials) (*console, error) {
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))

	nonce, err := newPush(TopicNonce, map[string]any{
		"nonce": uuid.New().String(),
		"ts":    time.Now().UnixMilli(),
	}, 0)
	if err != nil {
		return nil, err
	}
	if err := conn.WriteJSON(nonce); err != nil {
		return nil, fmt.Errorf("sending nonce: %w", err)
	}

	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("reading attach: %w", err)
	}
	var f Frame
	if err := json.Unmarshal(msg, &f); err != nil {
		return nil, fmt.Errorf("parsing attach frame: %w", err)
	}
	if f.Kind != KindCall || f.Method != methodAttach {
		refuse(conn, f.ID, "protocol_error", "expected attach call")
		return nil, fmt.Errorf("expected attach call, got kind=%s method=%s", f.Kind, f.Method)
	}

	var a Attach
	if err := json.Unmarshal(f.Args, &a); err != nil {
		refuse(conn, f.ID, "invalid_params", "invalid attach args")
		return nil, fmt.Errorf("parsing attach args: %w", err)
	}
	if a.Protocol != ProtocolVersion {
		refuse(conn, f.ID, "protocol_mismatch", fmt.Sprintf("protocol %d is not supported, use %d", a.Protocol, ProtocolVersion))
		return nil, fmt.Errorf("console speaks protocol %d", a.Protocol)
	}
	if a.Credentials == nil {
		a.Credentials = bearer
	}
	v := s.auth.check(a.Credentials)
	if !v.OK {
		refuse(conn, f.ID, "unauthorized", v.Reason)
		return nil, fmt.Errorf("console %q refused: %s", a.Console, v.Reason)
	}
	_ = conn.SetReadDeadline(time.Time{})

	c := newConsole(conn, a, v.Mode)
	welcome, err := newReply(f.ID, Welcome{
		Protocol: ProtocolVersion,
		Version:  s.version,
		Commit:   version.Commit,
		ConnID:   c.connID,
		Methods:  s.Methods(),
		Topics:   consoleTopics,
		Sessions: s.visibleSessions(c),
	})
	if err != nil {
		return nil, err
	}
	if err := conn.WriteJSON(welcome); err != nil {
		return nil, fmt.Errorf("sending welcome: %w", err)
	}
	return c, nil
}

// visibleSessions lists the sessions of the console's tenants.
func (s *Server) visibleSessions(c *console) []domain.SessionInfo {
	out := []domain.SessionInfo{}
	if s.sessions == nil {
		return out
	}
	for _, info := range s.sessions.List() {
		if c.watches(map[string]any{"tenant": info.TenantID}) {
			out = append(out, info)
		}
	}
	return out
}

// serve answers calls until the console disconnects.
func (s *Server) serve(c *console) {
	for {
		f, err := c.read()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug().Str("connId", c.connID).Msg("console closed connection")
			} else {
				s.log.Debug().Err(err).Str("connId", c.connID).Msg("read error")
			}
			return
		}
		if f.Kind != KindCall {
			continue
		}
		s.dispatch(c, f)
	}
}

func (s *Server) dispatch(c *console, f Frame) {
	handler, ok := s.handlers[f.Method]
	if !ok {
		c.fault(f.ID, "method_not_found", "unknown method: "+f.Method)
		return
	}
	handler(&callContext{console: c, frame: f, server: s})
}

// refuse answers the attach call with a fault and closes the socket.
func refuse(conn *websocket.Conn, id, code, message string) {
	_ = conn.WriteJSON(newFault(id, code, message))
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message))
}
