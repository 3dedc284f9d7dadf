// Package escalation relays messages the bot could not resolve to human
// operators: the tenant's admin roster, an optional webhook and any
// configured notifiers.
package escalation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/domain"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/hooks"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/logging"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/store"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/version"
)

const (
	DefaultWebhookTimeout = 10 * time.Second
	DefaultConcurrency    = 4
)

// Sender delivers a message through a session.
type Sender interface {
	Send(ctx context.Context, sessionID string, msg domain.OutboundMessage) error
}

// Recorder keeps an audit trail of escalations.
type Recorder interface {
	Record(e store.EscalationEntry) (*store.EscalationEntry, error)
}

// Broadcaster mirrors alerts to operator notifiers.
type Broadcaster interface {
	Broadcast(ctx context.Context, text string) int
}

// Options wires the optional collaborators of a Forwarder.
type Options struct {
	Recorder       Recorder
	Notifiers      Broadcaster
	HTTPClient     *http.Client
	WebhookTimeout time.Duration
	Concurrency    int
}

// Forwarder implements the resolver's escalation step.
type Forwarder struct {
	sender Sender
	opts   Options
	hooks  *hooks.Manager
	log    *logging.Logger
}

// NewForwarder creates a forwarder that sends roster messages through sender.
func NewForwarder(sender Sender, opts Options, hm *hooks.Manager, log *logging.Logger) *Forwarder {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.WebhookTimeout <= 0 {
		opts.WebhookTimeout = DefaultWebhookTimeout
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	return &Forwarder{sender: sender, opts: opts, hooks: hm, log: log.Sub("escalation")}
}

// AdminText renders the message operators receive for an escalation.
func AdminText(e domain.Escalation) string {
	number := domain.PhoneNumber(e.Customer)
	if e.Reason == domain.EscalationPayment {
		return "*PAGO PENDIENTE DE ACTIVACIÓN*\n  \n" +
			"*Cliente:* " + number + "\n" +
			"*Mensaje:* El cliente ha enviado un comprobante.\n" +
			"*Solicitud:* Activar créditos para este usuario."
	}
	return "*REENVÍO AUTOMÁTICO DE SOPORTE*\n\n" +
		"*Cliente:* wa.me/" + number + "\n\n" +
		"*Mensaje del cliente:*\n" + e.Message + "\n\n" +
		"*Enviado por el Bot para atención inmediata.*"
}

// Escalate forwards e to every operator channel. Every failure is logged
// and swallowed; the caller always goes on to acknowledge the customer.
func (f *Forwarder) Escalate(ctx context.Context, e domain.Escalation) {
	log := f.log.With("session_id", e.SessionID)
	text := AdminText(e)

	if f.opts.Recorder != nil {
		if _, err := f.opts.Recorder.Record(store.EscalationEntry{
			SessionID:  e.SessionID,
			TenantID:   e.TenantID,
			CustomerID: domain.PhoneNumber(e.Customer),
			Reason:     string(e.Reason),
			Message:    e.Message,
		}); err != nil {
			log.Warn().Err(err).Msg("recording escalation failed")
		}
	}

	delivered := f.notifyRoster(ctx, e, text)

	if e.WebhookTarget != "" {
		if err := f.post(ctx, e.WebhookTarget, e); err != nil {
			log.Warn().Err(err).Str("target", e.WebhookTarget).Msg("escalation webhook failed")
		}
	}

	mirrored := 0
	if f.opts.Notifiers != nil {
		mirrored = f.opts.Notifiers.Broadcast(ctx, text)
	}

	f.hooks.Emit(ctx, hooks.EventEscalation, map[string]any{
		"session":   e.SessionID,
		"tenant":    e.TenantID,
		"customer":  e.Customer,
		"reason":    string(e.Reason),
		"delivered": delivered,
		"mirrored":  mirrored,
	})
	log.Info().
		Str("reason", string(e.Reason)).
		Int("admins", len(e.AdminRoster)).
		Int("delivered", delivered).
		Msg("escalated")
}

// notifyRoster sends text to each admin with bounded concurrency. One
// admin failing does not stop the others.
func (f *Forwarder) notifyRoster(ctx context.Context, e domain.Escalation, text string) int {
	results := make([]bool, len(e.AdminRoster))
	var g errgroup.Group
	g.SetLimit(f.opts.Concurrency)
	for i, admin := range e.AdminRoster {
		g.Go(func() error {
			err := f.sender.Send(ctx, e.SessionID, domain.OutboundMessage{To: domain.JID(admin), Body: text})
			if err != nil {
				f.log.Warn().Err(err).Str("admin", admin).Str("session", e.SessionID).Msg("forward to admin failed")
				return nil
			}
			results[i] = true
			return nil
		})
	}
	_ = g.Wait()

	n := 0
	for _, ok := range results {
		if ok {
			n++
		}
	}
	return n
}

// ManualReply is the payload posted when a customer answers a bulk message.
type ManualReply struct {
	Message string            `json:"message"`
	Result  ManualReplyResult `json:"result"`
}

// ManualReplyResult lists the captured replies.
type ManualReplyResult struct {
	Quantity     int           `json:"quantity"`
	Coincidences []Coincidence `json:"coincidences"`
}

// Coincidence is one captured reply with an optional media link.
type Coincidence struct {
	Message string `json:"message"`
	URL     string `json:"url,omitempty"`
}

// PostManualReply posts a captured customer reply to target.
func (f *Forwarder) PostManualReply(ctx context.Context, target, message, url string) error {
	payload := ManualReply{
		Message: "found data",
		Result: ManualReplyResult{
			Quantity:     1,
			Coincidences: []Coincidence{{Message: message, URL: url}},
		},
	}
	return f.post(ctx, target, payload)
}

func (f *Forwarder) post(ctx context.Context, target string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, f.opts.WebhookTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := f.opts.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}
