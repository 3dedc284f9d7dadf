// Package bridge implements domain.Transport on top of an external
// WhatsApp bridge process. The bridge owns the chat protocol; this side
// exchanges JSON frames with it over one WebSocket per session.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/config"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/domain"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/logging"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	writeWait               = 10 * time.Second
	eventBuffer             = 64
)

// Frame types exchanged with the bridge.
const (
	FrameQR         = "qr"
	FrameOpen       = "open"
	FrameClose      = "close"
	FrameMessage    = "message"
	FrameCall       = "call"
	FrameSend       = "send"
	FramePresence   = "presence"
	FrameRejectCall = "reject_call"
	FrameSaveCreds  = "save_creds"
	FrameLogout     = "logout"
)

// Frame is the JSON envelope of every bridge message in both directions.
type Frame struct {
	Type     string                  `json:"type"`
	QR       string                  `json:"qr,omitempty"`
	Reason   domain.DisconnectReason `json:"reason,omitempty"`
	Message  *domain.InboundMessage  `json:"message,omitempty"`
	Outbound *domain.OutboundMessage `json:"outbound,omitempty"`
	Call     *domain.IncomingCall    `json:"call,omitempty"`
	To       string                  `json:"to,omitempty"`
	Presence domain.Presence         `json:"presence,omitempty"`
}

// event converts an inbound frame into a transport event.
func (f Frame) event(sessionID string) (domain.TransportEvent, bool) {
	switch f.Type {
	case FrameQR:
		return domain.TransportEvent{Kind: domain.EventPairingChallenge, Challenge: f.QR}, f.QR != ""
	case FrameOpen:
		return domain.TransportEvent{Kind: domain.EventConnectionOpened}, true
	case FrameClose:
		return domain.TransportEvent{Kind: domain.EventConnectionClosed, Reason: f.Reason}, true
	case FrameMessage:
		if f.Message == nil {
			return domain.TransportEvent{}, false
		}
		msg := *f.Message
		msg.SessionID = sessionID
		if msg.Timestamp.IsZero() {
			msg.Timestamp = time.Now()
		}
		if msg.Kind == "" {
			msg.Kind = domain.MessageKindText
		}
		return domain.TransportEvent{Kind: domain.EventInboundMessage, Message: &msg}, true
	case FrameCall:
		if f.Call == nil {
			return domain.TransportEvent{}, false
		}
		return domain.TransportEvent{Kind: domain.EventIncomingCall, Call: f.Call}, true
	}
	return domain.TransportEvent{}, false
}

var errNotConnected = errors.New("bridge: session not connected")

// conn is one session's socket. gorilla allows a single concurrent writer.
type conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (c *conn) write(f Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(f)
}

// Transport dials the bridge once per session.
type Transport struct {
	cfg    config.BridgeConfig
	dialer *websocket.Dialer
	log    *logging.Logger

	mu    sync.Mutex
	conns map[string]*conn
}

// New creates a bridge transport.
func New(cfg config.BridgeConfig, log *logging.Logger) (*Transport, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("bridge url is required: %w", domain.ErrTransportUnavailable)
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("invalid bridge url %q: %w", cfg.URL, err)
	}
	timeout := defaultHandshakeTimeout
	if cfg.HandshakeTimeoutSeconds > 0 {
		timeout = time.Duration(cfg.HandshakeTimeoutSeconds) * time.Second
	}
	d := *websocket.DefaultDialer
	d.HandshakeTimeout = timeout
	return &Transport{
		cfg:    cfg,
		dialer: &d,
		log:    log.Sub("bridge"),
		conns:  make(map[string]*conn),
	}, nil
}

func (t *Transport) sessionURL(sessionID string) string {
	u, _ := url.Parse(t.cfg.URL)
	q := u.Query()
	q.Set("session", sessionID)
	u.RawQuery = q.Encode()
	return u.String()
}

// Connect dials the bridge for sessionID and starts the read loop. The
// event channel closes when the socket does.
func (t *Transport) Connect(ctx context.Context, sessionID string) (<-chan domain.TransportEvent, error) {
	header := http.Header{}
	if t.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+t.cfg.Token)
	}
	ws, _, err := t.dialer.DialContext(ctx, t.sessionURL(sessionID), header)
	if err != nil {
		return nil, fmt.Errorf("dial bridge for %s: %w", sessionID, err)
	}

	c := &conn{ws: ws}
	t.mu.Lock()
	if old, ok := t.conns[sessionID]; ok {
		_ = old.ws.Close()
	}
	t.conns[sessionID] = c
	t.mu.Unlock()

	t.log.Info().Str("session", sessionID).Msg("bridge connected")
	events := make(chan domain.TransportEvent, eventBuffer)
	go t.readLoop(ctx, sessionID, c, events)
	return events, nil
}

func (t *Transport) readLoop(ctx context.Context, sessionID string, c *conn, events chan<- domain.TransportEvent) {
	defer close(events)
	defer t.drop(sessionID, c)

	for {
		var f Frame
		if err := c.ws.ReadJSON(&f); err != nil {
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				t.log.Warn().Err(err).Str("session", sessionID).Msg("bridge read failed")
			}
			return
		}
		ev, ok := f.event(sessionID)
		if !ok {
			t.log.Debug().Str("session", sessionID).Str("type", f.Type).Msg("ignoring bridge frame")
			continue
		}
		select {
		case events <- ev:
		case <-ctx.Done():
			return
		}
		if ev.Kind == domain.EventConnectionClosed {
			return
		}
	}
}

func (t *Transport) drop(sessionID string, c *conn) {
	t.mu.Lock()
	if cur, ok := t.conns[sessionID]; ok && cur == c {
		delete(t.conns, sessionID)
	}
	t.mu.Unlock()
	_ = c.ws.Close()
}

func (t *Transport) lookup(sessionID string) (*conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.conns[sessionID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", sessionID, errNotConnected)
	}
	return c, nil
}

func (t *Transport) write(sessionID string, f Frame) error {
	c, err := t.lookup(sessionID)
	if err != nil {
		return err
	}
	if err := c.write(f); err != nil {
		return fmt.Errorf("write %s frame: %w", f.Type, err)
	}
	return nil
}

// Send delivers an outbound message.
func (t *Transport) Send(_ context.Context, sessionID string, msg domain.OutboundMessage) error {
	return t.write(sessionID, Frame{Type: FrameSend, Outbound: &msg})
}

// SendPresence updates the chat state shown to a recipient.
func (t *Transport) SendPresence(_ context.Context, sessionID, to string, p domain.Presence) error {
	return t.write(sessionID, Frame{Type: FramePresence, To: to, Presence: p})
}

// RejectIncomingCall declines a call offer.
func (t *Transport) RejectIncomingCall(_ context.Context, sessionID string, call domain.IncomingCall) error {
	return t.write(sessionID, Frame{Type: FrameRejectCall, Call: &call})
}

// SaveCredentials asks the bridge to flush pairing material to disk.
func (t *Transport) SaveCredentials(_ context.Context, sessionID string) error {
	return t.write(sessionID, Frame{Type: FrameSaveCreds})
}

// DeleteCredentials logs the session out on the bridge when connected and
// removes its credential directory when one is configured.
func (t *Transport) DeleteCredentials(_ context.Context, sessionID string) error {
	if err := t.write(sessionID, Frame{Type: FrameLogout}); err != nil && !errors.Is(err, errNotConnected) {
		t.log.Warn().Err(err).Str("session", sessionID).Msg("bridge logout failed")
	}
	if t.cfg.CredentialsDir == "" {
		return nil
	}
	dir := filepath.Join(t.cfg.CredentialsDir, filepath.Base(sessionID))
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove credentials for %s: %w", sessionID, err)
	}
	return nil
}

// Disconnect closes the session socket without logging out.
func (t *Transport) Disconnect(_ context.Context, sessionID string) error {
	t.mu.Lock()
	c, ok := t.conns[sessionID]
	delete(t.conns, sessionID)
	t.mu.Unlock()
	if !ok {
		return nil
	}
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.ws.Close()
}
