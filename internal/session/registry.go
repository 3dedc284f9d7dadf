// Package session owns the live WhatsApp sessions and their connection
// lifecycle.
package session

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/domain"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/hooks"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/logging"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/store"
)

// Persister remembers sessions across restarts.
type Persister interface {
	Put(rec store.SessionRecord) error
	List() ([]store.SessionRecord, error)
	Delete(id string) error
}

// Options tunes the registry.
type Options struct {
	Backoff Backoff
	// MaxAttempts bounds consecutive reconnects; 0 means unbounded.
	MaxAttempts int
	// RenderChallenge turns a pairing challenge into a displayable data URL.
	RenderChallenge func(string) (string, error)
	Persist         Persister
}

// Registry maps session ids to running state machines. At most one live
// machine exists per id.
type Registry struct {
	mu        sync.Mutex
	sessions  map[string]*Machine
	// purging holds ids whose credentials and state are being torn down.
	purging   map[string]struct{}
	transport domain.Transport
	opts      Options
	hooks     *hooks.Manager
	log       *logging.Logger

	handlerMu sync.RWMutex
	handler   EventHandler
	onRemoved []func(id string)

	sleep func(context.Context, time.Duration) error
	now   func() time.Time
}

// NewRegistry creates a registry. transport may be nil, in which case
// Create fails with domain.ErrTransportUnavailable.
func NewRegistry(transport domain.Transport, opts Options, hm *hooks.Manager, log *logging.Logger) *Registry {
	return &Registry{
		sessions:  make(map[string]*Machine),
		purging:   make(map[string]struct{}),
		transport: transport,
		opts:      opts,
		hooks:     hm,
		log:       log.Sub("session"),
		sleep:     sleepCtx,
		now:       time.Now,
	}
}

// OnEvent sets the handler for inbound messages and calls of every session.
func (r *Registry) OnEvent(h EventHandler) {
	r.handlerMu.Lock()
	defer r.handlerMu.Unlock()
	r.handler = h
}

// OnRemoved registers a callback run after a session is reset or logged out.
func (r *Registry) OnRemoved(fn func(id string)) {
	r.handlerMu.Lock()
	defer r.handlerMu.Unlock()
	r.onRemoved = append(r.onRemoved, fn)
}

func (r *Registry) eventHandler() EventHandler {
	r.handlerMu.RLock()
	defer r.handlerMu.RUnlock()
	return r.handler
}

// Create starts a new session bound to a tenant. An empty id is replaced
// by a generated one. Creating an id whose session is still live, or still
// being purged after a logout or reset, fails with domain.ErrAlreadyExists.
func (r *Registry) Create(ctx context.Context, id, tenantID string) (domain.SessionInfo, error) {
	if r.transport == nil {
		return domain.SessionInfo{}, domain.ErrTransportUnavailable
	}
	id = strings.TrimSpace(id)
	if id == "" {
		id = "session_" + uuid.NewString()
	}

	r.mu.Lock()
	if _, busy := r.purging[id]; busy {
		r.mu.Unlock()
		return domain.SessionInfo{}, fmt.Errorf("session %s is being purged: %w", id, domain.ErrAlreadyExists)
	}
	if existing, ok := r.sessions[id]; ok && !existing.replaceable() {
		r.mu.Unlock()
		return domain.SessionInfo{}, fmt.Errorf("session %s: %w", id, domain.ErrAlreadyExists)
	}

	now := r.now()
	// Machines outlive the request that created them.
	mctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m := &Machine{
		id:          id,
		transport:   r.transport,
		backoff:     r.opts.Backoff,
		maxAttempts: r.opts.MaxAttempts,
		hooks:       r.hooks,
		log:         r.log.With("session_id", id),
		render:      r.opts.RenderChallenge,
		onEvent:     r.eventHandler,
		onLoggedOut: r.loggedOut,
		sleep:       r.sleep,
		now:         r.now,
		info: domain.SessionInfo{
			ID:        id,
			TenantID:  tenantID,
			State:     domain.StateStarting,
			CreatedAt: now,
			UpdatedAt: now,
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	r.sessions[id] = m
	r.mu.Unlock()

	if r.opts.Persist != nil {
		if err := r.opts.Persist.Put(store.SessionRecord{ID: id, TenantID: tenantID, CreatedAt: now}); err != nil {
			r.log.Warn().Err(err).Str("session", id).Msg("persisting session failed")
		}
	}

	r.log.Info().Str("session", id).Str("tenant", tenantID).Msg("session created")
	m.setState(mctx, domain.StateStarting, nil)
	go m.Run(mctx)
	return m.Info(), nil
}

// Restore recreates every persisted session.
func (r *Registry) Restore(ctx context.Context) error {
	if r.opts.Persist == nil {
		return nil
	}
	recs, err := r.opts.Persist.List()
	if err != nil {
		return fmt.Errorf("listing sessions: %w", err)
	}
	for _, rec := range recs {
		if _, err := r.Create(ctx, rec.ID, rec.TenantID); err != nil {
			r.log.Warn().Err(err).Str("session", rec.ID).Msg("restoring session failed")
		}
	}
	return nil
}

func (r *Registry) machine(id string) (*Machine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	return m, nil
}

// Get returns a snapshot of a session.
func (r *Registry) Get(id string) (domain.SessionInfo, error) {
	m, err := r.machine(id)
	if err != nil {
		return domain.SessionInfo{}, err
	}
	return m.Info(), nil
}

// List returns snapshots of all sessions ordered by id.
func (r *Registry) List() []domain.SessionInfo {
	r.mu.Lock()
	ms := make([]*Machine, 0, len(r.sessions))
	for _, m := range r.sessions {
		ms = append(ms, m)
	}
	r.mu.Unlock()

	out := make([]domain.SessionInfo, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.Info())
	}
	slices.SortFunc(out, func(a, b domain.SessionInfo) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// Remove resets a session: stops its machine, closes the connection,
// deletes its credentials and forgets it.
func (r *Registry) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	m, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
		r.purging[id] = struct{}{}
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}

	m.stop()
	if err := r.transport.Disconnect(ctx, id); err != nil {
		r.log.Warn().Err(err).Str("session", id).Msg("disconnect failed")
	}
	r.purge(ctx, id)
	r.hooks.Emit(ctx, hooks.EventSessionState, map[string]any{
		"session": id,
		"tenant":  m.Info().TenantID,
		"state":   "removed",
	})
	r.log.Info().Str("session", id).Msg("session removed")
	return nil
}

// loggedOut runs on the machine's goroutine after a logout. Only the
// machine that still owns its id purges it.
func (r *Registry) loggedOut(m *Machine) {
	r.mu.Lock()
	cur, ok := r.sessions[m.id]
	owned := ok && cur == m
	if owned {
		delete(r.sessions, m.id)
		r.purging[m.id] = struct{}{}
	}
	r.mu.Unlock()
	if !owned {
		r.log.Warn().Str("session", m.id).Msg("logged-out session already replaced, not purging")
		return
	}
	r.purge(context.Background(), m.id)
}

// purge deletes credentials and state of id, then releases the id for
// Create. The caller must have marked id as purging.
func (r *Registry) purge(ctx context.Context, id string) {
	defer func() {
		r.mu.Lock()
		delete(r.purging, id)
		r.mu.Unlock()
	}()

	if err := r.transport.DeleteCredentials(ctx, id); err != nil {
		r.log.Warn().Err(err).Str("session", id).Msg("deleting credentials failed")
	}
	if r.opts.Persist != nil {
		if err := r.opts.Persist.Delete(id); err != nil {
			r.log.Warn().Err(err).Str("session", id).Msg("deleting session record failed")
		}
	}
	r.handlerMu.RLock()
	callbacks := slices.Clone(r.onRemoved)
	r.handlerMu.RUnlock()
	for _, fn := range callbacks {
		fn(id)
	}
}

// connected returns the machine for id if it can send.
func (r *Registry) connected(id string) (*Machine, error) {
	m, err := r.machine(id)
	if err != nil {
		return nil, err
	}
	if st := m.State(); st != domain.StateConnected {
		return nil, fmt.Errorf("session %s is %s: %w", id, st, domain.ErrSessionNotConnected)
	}
	return m, nil
}

// Send delivers a message through a connected session.
func (r *Registry) Send(ctx context.Context, id string, msg domain.OutboundMessage) error {
	if _, err := r.connected(id); err != nil {
		return err
	}
	msg.To = domain.JID(msg.To)
	r.hooks.Emit(ctx, hooks.EventMessageSending, map[string]any{
		"session": id,
		"to":      msg.To,
		"body":    msg.Body,
	})
	return r.transport.Send(ctx, id, msg)
}

// SendPresence updates the chat state shown to a recipient.
func (r *Registry) SendPresence(ctx context.Context, id, to string, p domain.Presence) error {
	if _, err := r.connected(id); err != nil {
		return err
	}
	return r.transport.SendPresence(ctx, id, domain.JID(to), p)
}

// RejectCall declines an incoming call.
func (r *Registry) RejectCall(ctx context.Context, id string, call domain.IncomingCall) error {
	if _, err := r.connected(id); err != nil {
		return err
	}
	return r.transport.RejectIncomingCall(ctx, id, call)
}

// StopAll stops every machine without deleting credentials.
func (r *Registry) StopAll(ctx context.Context) {
	r.mu.Lock()
	ms := make([]*Machine, 0, len(r.sessions))
	for _, m := range r.sessions {
		ms = append(ms, m)
	}
	r.mu.Unlock()

	for _, m := range ms {
		m.stop()
		if err := r.transport.Disconnect(ctx, m.id); err != nil {
			r.log.Debug().Err(err).Str("session", m.id).Msg("disconnect on shutdown failed")
		}
	}
}
