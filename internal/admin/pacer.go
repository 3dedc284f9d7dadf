package admin

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultBulkInterval is the gap between two bulk sends on one session.
const DefaultBulkInterval = 1500 * time.Millisecond

// Pacer spaces operator-initiated sends per session with a token bucket of
// size one, so concurrent bulk jobs on the same session share one pace.
type Pacer struct {
	mu       sync.Mutex
	every    rate.Limit
	limiters map[string]*rate.Limiter
}

// NewPacer allows one send per interval per session. A non-positive
// interval disables pacing.
func NewPacer(interval time.Duration) *Pacer {
	every := rate.Inf
	if interval > 0 {
		every = rate.Every(interval)
	}
	return &Pacer{every: every, limiters: make(map[string]*rate.Limiter)}
}

// Wait blocks until the session may send again or ctx is done.
func (p *Pacer) Wait(ctx context.Context, sessionID string) error {
	p.mu.Lock()
	l, ok := p.limiters[sessionID]
	if !ok {
		l = rate.NewLimiter(p.every, 1)
		p.limiters[sessionID] = l
	}
	p.mu.Unlock()
	return l.Wait(ctx)
}

// Forget drops the limiter of a removed session.
func (p *Pacer) Forget(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.limiters, sessionID)
}
