package session

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff computes reconnect delays: Base * Factor^attempt, capped at Max,
// with a symmetric random jitter of ±Jitter (a fraction of the delay).
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Factor float64
	Jitter float64
	// Rand returns a value in [0, 1). Defaults to math/rand/v2.
	Rand func() float64
}

// DefaultBackoff is 2s doubling up to one minute with ±20% jitter.
func DefaultBackoff() Backoff {
	return Backoff{Base: 2 * time.Second, Max: time.Minute, Factor: 2, Jitter: 0.2}
}

// Next returns the delay before reconnect attempt n (0-based).
func (b Backoff) Next(attempt int) time.Duration {
	factor := b.Factor
	if factor < 1 {
		factor = 2
	}
	d := float64(b.Base) * math.Pow(factor, float64(attempt))
	if b.Max > 0 && d > float64(b.Max) {
		d = float64(b.Max)
	}
	if b.Jitter > 0 {
		r := b.Rand
		if r == nil {
			r = rand.Float64
		}
		d *= 1 + b.Jitter*(2*r()-1)
	}
	if b.Max > 0 && d > float64(b.Max) {
		d = float64(b.Max)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}
