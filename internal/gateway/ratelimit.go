package gateway

import (
	"net"
	"sync"
	"time"
)

const (
	authRateWindow   = 5 * time.Minute
	authRateMaxFails = 10
	authRateMaxIPs   = 10000
)

// authRateLimiter counts failed auth attempts per client address over a
// sliding window.
type authRateLimiter struct {
	mu       sync.Mutex
	failures map[string][]time.Time
	now      func() time.Time
}

func newAuthRateLimiter() *authRateLimiter {
	return &authRateLimiter{failures: make(map[string][]time.Time), now: time.Now}
}

func hostOf(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil || host == "" {
		return remoteAddr
	}
	return host
}

// recentLocked drops expired failures of host and returns what is left.
func (l *authRateLimiter) recentLocked(host string, cutoff time.Time) []time.Time {
	times := l.failures[host]
	kept := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		delete(l.failures, host)
		return nil
	}
	l.failures[host] = kept
	return kept
}

func (l *authRateLimiter) allow(remoteAddr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.recentLocked(hostOf(remoteAddr), l.now().Add(-authRateWindow))) < authRateMaxFails
}

func (l *authRateLimiter) recordFailure(remoteAddr string) {
	host := hostOf(remoteAddr)
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if _, tracked := l.failures[host]; !tracked && len(l.failures) >= authRateMaxIPs {
		cutoff := now.Add(-authRateWindow)
		for h := range l.failures {
			l.recentLocked(h, cutoff)
		}
		if len(l.failures) >= authRateMaxIPs {
			l.evictOldestLocked()
		}
	}
	l.failures[host] = append(l.failures[host], now)
}

func (l *authRateLimiter) evictOldestLocked() {
	var oldest string
	var at time.Time
	for h, times := range l.failures {
		if len(times) > 0 && (oldest == "" || times[0].Before(at)) {
			oldest, at = h, times[0]
		}
	}
	delete(l.failures, oldest)
}
