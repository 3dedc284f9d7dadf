package gateway

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAuthRateLimiter_AllowInitial(t *testing.T) {
	limiter := newAuthRateLimiter()
	assert.True(t, limiter.allow("192.168.1.1:12345"))
}

func TestAuthRateLimiter_BlockAfterMaxFailures(t *testing.T) {
	limiter := newAuthRateLimiter()
	for i := 0; i < authRateMaxFails-1; i++ {
		limiter.recordFailure("192.168.1.1:12345")
	}
	assert.True(t, limiter.allow("192.168.1.1:12345"))

	limiter.recordFailure("192.168.1.1:54321")
	assert.False(t, limiter.allow("192.168.1.1:12345"), "failures are counted per host, not per port")
	assert.True(t, limiter.allow("192.168.1.2:12345"))
}

func TestAuthRateLimiter_IPWithoutPort(t *testing.T) {
	limiter := newAuthRateLimiter()
	for i := 0; i < authRateMaxFails; i++ {
		limiter.recordFailure("192.168.1.1")
	}
	assert.False(t, limiter.allow("192.168.1.1"))
}

func TestAuthRateLimiter_WindowSlides(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	limiter := newAuthRateLimiter()
	limiter.now = func() time.Time { return now }

	for i := 0; i < authRateMaxFails; i++ {
		limiter.recordFailure("10.0.0.1:1")
	}
	assert.False(t, limiter.allow("10.0.0.1:1"))

	now = now.Add(authRateWindow + time.Second)
	assert.True(t, limiter.allow("10.0.0.1:1"))
	limiter.mu.Lock()
	assert.Empty(t, limiter.failures, "expired hosts are dropped")
	limiter.mu.Unlock()
}

func TestAuthRateLimiter_EvictsOldestHost(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	limiter := newAuthRateLimiter()
	limiter.now = func() time.Time { return now }

	for i := 0; i < authRateMaxIPs; i++ {
		limiter.recordFailure(fmt.Sprintf("10.%d.%d.%d", i>>16&0xff, i>>8&0xff, i&0xff))
		now = now.Add(time.Millisecond)
	}
	limiter.recordFailure("172.16.0.1")

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	assert.Len(t, limiter.failures, authRateMaxIPs)
	assert.NotContains(t, limiter.failures, "10.0.0.0")
	assert.Contains(t, limiter.failures, "172.16.0.1")
}
