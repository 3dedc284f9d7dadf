// Package routing connects session events to the resolver and delivers
// the resulting replies back through the session.
package routing

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/conversation"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/domain"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/hooks"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/llm"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/logging"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/resolver"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/speech"
)

// backlogWarn is the backlog length at which a slow session is reported.
const backlogWarn = 64

// errClosed is returned for events that arrive after Close.
var errClosed = errors.New("router closed")

// Sessions is the part of the session registry the router drives.
type Sessions interface {
	Get(id string) (domain.SessionInfo, error)
	Send(ctx context.Context, id string, msg domain.OutboundMessage) error
	SendPresence(ctx context.Context, id, to string, p domain.Presence) error
	RejectCall(ctx context.Context, id string, call domain.IncomingCall) error
}

// Resolver decides what to answer.
type Resolver interface {
	Resolve(ctx context.Context, req resolver.Request) (resolver.Action, error)
}

// ImageDescriber turns an inbound image into text.
type ImageDescriber interface {
	Describe(ctx context.Context, img llm.Image) (string, error)
}

// ManualReplies captures customer answers to tagged bulk messages.
type ManualReplies interface {
	PostManualReply(ctx context.Context, target, message, url string) error
}

// Options wires the router.
type Options struct {
	Sessions      Sessions
	Tenants       resolver.TenantSource
	Resolver      Resolver
	// Tracker is touched once per accepted inbound message, whatever path
	// answers it. When nil the resolver touches instead.
	Tracker       *conversation.Tracker
	Vision        ImageDescriber     // optional
	Speech        speech.Transcriber // optional
	ManualReplies ManualReplies      // optional
	Delivery      DeliveryOptions
	// DefaultTenant serves sessions created without a tenant.
	DefaultTenant string
}

type job struct {
	ctx context.Context
	ev  domain.TransportEvent
}

// worker processes one session's events in arrival order. The backlog is
// unbounded so a slow reply never costs a later message its answer.
type worker struct {
	mu      sync.Mutex
	pending []job
	stopped bool
	wake    chan struct{}
	done    chan struct{}
}

func newWorker() *worker {
	return &worker{wake: make(chan struct{}, 1), done: make(chan struct{})}
}

func (w *worker) push(j job) {
	w.mu.Lock()
	w.pending = append(w.pending, j)
	w.mu.Unlock()
	w.signal()
}

// stop lets the worker exit once its backlog is drained.
func (w *worker) stop() {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()
	w.signal()
}

func (w *worker) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// next blocks for the next job. ok is false once stopped and drained.
func (w *worker) next() (job, bool) {
	for {
		w.mu.Lock()
		if len(w.pending) > 0 {
			j := w.pending[0]
			w.pending[0] = job{}
			w.pending = w.pending[1:]
			w.mu.Unlock()
			return j, true
		}
		stopped := w.stopped
		w.mu.Unlock()
		if stopped {
			return job{}, false
		}
		<-w.wake
	}
}

// backlog returns the number of queued jobs.
func (w *worker) backlog() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Router fans session events out to one worker per session.
type Router struct {
	opts  Options
	hooks *hooks.Manager
	log   *logging.Logger
	sleep func(context.Context, time.Duration) error

	mu      sync.Mutex
	workers map[string]*worker
	closed  bool
}

// NewRouter creates a router.
func NewRouter(opts Options, hm *hooks.Manager, log *logging.Logger) *Router {
	opts.Delivery = opts.Delivery.withDefaults()
	return &Router{
		opts:    opts,
		hooks:   hm,
		log:     log.Sub("routing"),
		sleep:   sleepCtx,
		workers: make(map[string]*worker),
	}
}

// Handle enqueues a session event. It matches session.EventHandler and
// never blocks the session's event loop.
func (r *Router) Handle(ctx context.Context, sessionID string, ev domain.TransportEvent) {
	if err := r.enqueue(ctx, sessionID, ev); err != nil {
		r.log.Warn().Err(err).Str("session", sessionID).Str("kind", string(ev.Kind)).Msg("dropping event")
		return
	}
	if n := r.Backlog(sessionID); n > 0 && n%backlogWarn == 0 {
		r.log.Warn().Str("session", sessionID).Int("backlog", n).Msg("session falling behind")
	}
}

func (r *Router) enqueue(ctx context.Context, sessionID string, ev domain.TransportEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errClosed
	}
	w, ok := r.workers[sessionID]
	if !ok {
		w = newWorker()
		r.workers[sessionID] = w
		go r.run(sessionID, w)
	}
	w.push(job{ctx: ctx, ev: ev})
	return nil
}

func (r *Router) run(sessionID string, w *worker) {
	defer close(w.done)
	for {
		j, ok := w.next()
		if !ok {
			return
		}
		if j.ctx.Err() != nil {
			continue
		}
		r.process(j.ctx, sessionID, j.ev)
	}
}

// Backlog returns the number of events waiting for a session's worker.
func (r *Router) Backlog(sessionID string) int {
	r.mu.Lock()
	w, ok := r.workers[sessionID]
	r.mu.Unlock()
	if !ok {
		return 0
	}
	return w.backlog()
}

// Forget stops the worker of a removed session after it drains.
func (r *Router) Forget(sessionID string) {
	r.mu.Lock()
	w, ok := r.workers[sessionID]
	delete(r.workers, sessionID)
	r.mu.Unlock()
	if ok {
		w.stop()
	}
}

// Close stops accepting events and waits for every worker to drain.
func (r *Router) Close() {
	r.mu.Lock()
	r.closed = true
	workers := r.workers
	r.workers = make(map[string]*worker)
	r.mu.Unlock()

	for _, w := range workers {
		w.stop()
	}
	for _, w := range workers {
		<-w.done
	}
}

func (r *Router) process(ctx context.Context, sessionID string, ev domain.TransportEvent) {
	switch ev.Kind {
	case domain.EventIncomingCall:
		if ev.Call != nil {
			r.handleCall(ctx, sessionID, *ev.Call)
		}
	case domain.EventInboundMessage:
		if ev.Message != nil {
			r.HandleInbound(ctx, sessionID, *ev.Message)
		}
	}
}

// tenantFor returns the config snapshot of the tenant a session serves.
func (r *Router) tenantFor(sessionID string) (domain.BusinessConfig, error) {
	tenantID := r.opts.DefaultTenant
	if info, err := r.opts.Sessions.Get(sessionID); err == nil && info.TenantID != "" {
		tenantID = info.TenantID
	}
	return r.opts.Tenants.Get(tenantID)
}

func (r *Router) handleCall(ctx context.Context, sessionID string, call domain.IncomingCall) {
	log := r.log.With("session", sessionID)
	if !call.Missed {
		if err := r.opts.Sessions.RejectCall(ctx, sessionID, call); err != nil {
			log.Warn().Err(err).Str("from", call.From).Msg("rejecting call failed")
		}
	}
	cfg, err := r.tenantFor(sessionID)
	if err != nil {
		log.Error().Err(err).Msg("no tenant for call reply")
		return
	}
	if cfg.Paused {
		return
	}
	if err := r.deliver(ctx, sessionID, call.From, []resolver.Reply{{Text: cfg.Replies.CallRejected}}); err != nil {
		log.Warn().Err(err).Msg("call reply failed")
	}
}

// HandleInbound processes one customer message to completion.
func (r *Router) HandleInbound(ctx context.Context, sessionID string, msg domain.InboundMessage) {
	if msg.IsGroup() || strings.HasPrefix(msg.From, "status@") {
		return
	}
	if isText(msg.Kind) && strings.TrimSpace(msg.Body) == "" && msg.QuotedBody == "" {
		return
	}
	log := r.log.With("session", sessionID)
	log.Info().
		Str("from", msg.From).
		Str("kind", string(msg.Kind)).
		Msg("routing inbound message")

	cfg, err := r.tenantFor(sessionID)
	if err != nil {
		log.Error().Err(err).Msg("no tenant for session, dropping message")
		return
	}
	r.hooks.Emit(ctx, hooks.EventMessageReceived, map[string]any{
		"session": sessionID,
		"tenant":  cfg.TenantID,
		"from":    msg.From,
		"kind":    string(msg.Kind),
		"body":    msg.Body,
	})
	to := msg.ReplyTarget()

	now := msg.Timestamp
	if now.IsZero() {
		now = time.Now()
	}
	var touched *conversation.Touch
	if r.opts.Tracker != nil {
		key := conversation.Key{SessionID: sessionID, CustomerID: domain.PhoneNumber(msg.From)}
		tc := r.opts.Tracker.Touch(key, now, cfg.WelcomeWindow())
		touched = &tc
	}

	if r.captureManualReply(ctx, sessionID, cfg, msg) {
		return
	}

	body, ok := r.bodyOf(ctx, sessionID, msg)
	if !ok {
		if cfg.Paused {
			return
		}
		if err := r.deliver(ctx, sessionID, to, []resolver.Reply{{Text: cfg.Replies.Unsupported}}); err != nil {
			log.Warn().Err(err).Msg("unsupported-content reply failed")
		}
		return
	}

	action, err := r.opts.Resolver.Resolve(ctx, resolver.Request{
		SessionID: sessionID,
		TenantID:  cfg.TenantID,
		Sender:    msg.From,
		Body:      body,
		Now:       now,
		Touched:   touched,
	})
	if err != nil {
		log.Error().Err(err).Msg("resolve failed")
		return
	}
	if action.Silent() {
		return
	}

	start := time.Now()
	if err := r.deliver(ctx, sessionID, to, action.Replies); err != nil {
		log.Error().Err(err).Str("to", to).Msg("failed to deliver reply")
		return
	}
	log.Info().
		Str("to", to).
		Str("strategy", string(action.Strategy)).
		Dur("duration", time.Since(start)).
		Msg("reply sent")
}

// captureManualReply forwards an answer to a tagged bulk message to the
// tenant webhook. It reports whether the message was consumed.
func (r *Router) captureManualReply(ctx context.Context, sessionID string, cfg domain.BusinessConfig, msg domain.InboundMessage) bool {
	if !strings.Contains(msg.QuotedBody, domain.ManualReplyMarker) {
		return false
	}
	log := r.log.With("session", sessionID)
	if r.opts.ManualReplies == nil || cfg.WebhookTarget == "" {
		log.Debug().Str("from", msg.From).Msg("manual reply without webhook, resolving normally")
		return false
	}
	content := msg.Body
	if content == "" && msg.Kind != domain.MessageKindText {
		content = string(msg.Kind)
	}
	if err := r.opts.ManualReplies.PostManualReply(ctx, cfg.WebhookTarget, content, ""); err != nil {
		log.Warn().Err(err).Str("from", msg.From).Msg("posting manual reply failed")
		return true
	}
	log.Info().Str("from", msg.From).Msg("manual reply captured")
	if err := r.deliver(ctx, sessionID, msg.ReplyTarget(), []resolver.Reply{{Text: cfg.Replies.ManualReplyAck}}); err != nil {
		log.Warn().Err(err).Msg("manual reply ack failed")
	}
	return true
}

// bodyOf extracts the text to resolve. Images are described and voice
// notes transcribed; ok is false for content the bot cannot read.
func (r *Router) bodyOf(ctx context.Context, sessionID string, msg domain.InboundMessage) (string, bool) {
	log := r.log.With("session", sessionID)
	switch {
	case isText(msg.Kind):
		return msg.Body, strings.TrimSpace(msg.Body) != ""

	case msg.Kind == domain.MessageKindImage:
		if r.opts.Vision != nil && msg.Media != nil && len(msg.Media.Data) > 0 {
			text, err := r.opts.Vision.Describe(ctx, llm.Image{MimeType: msg.Media.MimeType, Data: msg.Media.Data})
			if err == nil && text != "" {
				log.Debug().Str("description", text).Msg("image described")
				return text, true
			}
			log.Warn().Err(err).Msg("describing image failed")
		}
		// A caption is still something to answer.
		return msg.Body, strings.TrimSpace(msg.Body) != ""

	case msg.Kind == domain.MessageKindAudio:
		if r.opts.Speech == nil || msg.Media == nil || len(msg.Media.Data) == 0 {
			return "", false
		}
		text, err := r.opts.Speech.Transcribe(ctx, msg.Media.Data)
		if err != nil {
			log.Warn().Err(err).Msg("transcribing audio failed")
			return "", false
		}
		log.Debug().Str("transcript", text).Msg("audio transcribed")
		return text, true
	}
	return "", false
}

func isText(k domain.MessageKind) bool {
	return k == domain.MessageKindText || k == ""
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
