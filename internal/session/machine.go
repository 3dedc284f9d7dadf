package session

import (
	"context"
	"sync"
	"time"

	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/domain"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/hooks"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/logging"
)

// EventHandler receives inbound messages and calls of a session. It is
// invoked from the session's event loop and must not block for long.
type EventHandler func(ctx context.Context, sessionID string, ev domain.TransportEvent)

// Machine drives the connection lifecycle of one session. All state
// transitions happen on the goroutine running Run; other goroutines only
// read snapshots.
type Machine struct {
	id          string
	transport   domain.Transport
	backoff     Backoff
	maxAttempts int
	hooks       *hooks.Manager
	log         *logging.Logger
	render      func(string) (string, error)
	onEvent     func() EventHandler
	onLoggedOut func(*Machine)
	sleep       func(context.Context, time.Duration) error
	now         func() time.Time

	mu   sync.RWMutex
	info domain.SessionInfo

	cancel context.CancelFunc
	done   chan struct{}
}

// Info returns a snapshot of the session.
func (m *Machine) Info() domain.SessionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.info
}

// State returns the current state.
func (m *Machine) State() domain.SessionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.info.State
}

func (m *Machine) setState(ctx context.Context, s domain.SessionState, mutate func(*domain.SessionInfo)) {
	m.mu.Lock()
	prev := m.info.State
	m.info.State = s
	if mutate != nil {
		mutate(&m.info)
	}
	m.info.UpdatedAt = m.now()
	info := m.info
	m.mu.Unlock()

	if prev != s {
		m.log.Info().Str("from", string(prev)).Str("to", string(s)).Msg("session state changed")
	}
	m.hooks.Emit(ctx, hooks.EventSessionState, map[string]any{
		"session":  info.ID,
		"tenant":   info.TenantID,
		"state":    string(info.State),
		"previous": string(prev),
		"qr":       info.QRDataURL,
		"attempts": info.Attempts,
	})
}

// Run connects and keeps the session alive until ctx is cancelled, the
// session is logged out, or reconnect attempts are exhausted.
func (m *Machine) Run(ctx context.Context) {
	defer close(m.done)

	for {
		events, err := m.transport.Connect(ctx, m.id)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.log.Warn().Err(err).Msg("transport connect failed")
			m.setState(ctx, domain.StateDisconnected, nil)
			if !m.waitReconnect(ctx) {
				return
			}
			continue
		}

		reason := m.consume(ctx, events)
		if ctx.Err() != nil {
			return
		}
		if reason == domain.ReasonLoggedOut {
			m.setState(ctx, domain.StateLoggedOut, func(i *domain.SessionInfo) {
				i.PairingChallenge = ""
				i.QRDataURL = ""
			})
			m.log.Warn().Msg("session logged out, not reconnecting")
			if m.onLoggedOut != nil {
				m.onLoggedOut(m)
			}
			return
		}
		if !m.waitReconnect(ctx) {
			return
		}
	}
}

// consume processes one connection's events until it closes and returns
// the disconnect reason.
func (m *Machine) consume(ctx context.Context, events <-chan domain.TransportEvent) domain.DisconnectReason {
	for {
		select {
		case <-ctx.Done():
			return ""
		case ev, ok := <-events:
			if !ok {
				if m.State() != domain.StateDisconnected {
					m.setState(ctx, domain.StateDisconnected, nil)
				}
				return domain.ReasonConnectionLost
			}
			if reason, closed := m.handle(ctx, ev); closed {
				return reason
			}
		}
	}
}

func (m *Machine) handle(ctx context.Context, ev domain.TransportEvent) (domain.DisconnectReason, bool) {
	switch ev.Kind {
	case domain.EventPairingChallenge:
		if m.State() != domain.StateStarting {
			m.log.Debug().Str("state", string(m.State())).Msg("pairing challenge ignored")
			return "", false
		}
		qr := ""
		if m.render != nil {
			var err error
			if qr, err = m.render(ev.Challenge); err != nil {
				m.log.Warn().Err(err).Msg("rendering pairing challenge failed")
			}
		}
		m.setState(ctx, domain.StateAwaitingPairing, func(i *domain.SessionInfo) {
			i.PairingChallenge = ev.Challenge
			i.QRDataURL = qr
		})

	case domain.EventConnectionOpened:
		// Credentials are persisted before the session accepts sends.
		if err := m.transport.SaveCredentials(ctx, m.id); err != nil {
			m.log.Error().Err(err).Msg("saving credentials failed")
		}
		m.setState(ctx, domain.StateConnected, func(i *domain.SessionInfo) {
			i.PairingChallenge = ""
			i.QRDataURL = ""
			i.Attempts = 0
		})

	case domain.EventConnectionClosed:
		reason := ev.Reason
		if reason == "" {
			reason = domain.ReasonConnectionLost
		}
		m.log.Info().Str("reason", string(reason)).Msg("connection closed")
		if reason != domain.ReasonLoggedOut {
			m.setState(ctx, domain.StateDisconnected, nil)
		}
		return reason, true

	case domain.EventInboundMessage, domain.EventIncomingCall:
		if h := m.onEvent(); h != nil {
			h(ctx, m.id, ev)
		}

	default:
		m.log.Debug().Str("kind", string(ev.Kind)).Msg("unknown transport event")
	}
	return "", false
}

// waitReconnect sleeps for the next backoff delay and moves back to
// Starting. It returns false when attempts are exhausted or ctx ends.
func (m *Machine) waitReconnect(ctx context.Context) bool {
	m.mu.Lock()
	m.info.Attempts++
	attempt := m.info.Attempts
	m.mu.Unlock()

	if m.maxAttempts > 0 && attempt > m.maxAttempts {
		m.log.Error().Int("attempts", attempt-1).Msg("reconnect attempts exhausted, session left disconnected")
		return false
	}

	delay := m.backoff.Next(attempt - 1)
	m.log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("reconnecting")
	if err := m.sleep(ctx, delay); err != nil {
		return false
	}
	m.setState(ctx, domain.StateStarting, nil)
	return true
}

// stop cancels Run and waits for it to return.
// replaceable reports whether a new machine may take over this id: the
// session logged out and its goroutine, including the purge, has finished.
func (m *Machine) replaceable() bool {
	if m.State() != domain.StateLoggedOut {
		return false
	}
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

func (m *Machine) stop() {
	m.cancel()
	<-m.done
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
