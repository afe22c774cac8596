/*
	Connection admission rate limiter.

	ConnectionRateLimiter enforces a global and a per-client-IP token bucket
	over new SYNs before a connection record is ever allocated. It is the
	first line of defence against a SYN flood from a single source, and is
	deliberately cheap: no map-of-maps, no header parsing, one token bucket
	per client IP with periodic eviction of idle entries.

	References:
	- https://pkg.go.dev/golang.org/x/time/rate
*/
package security

import (
	"net"
	"sync"
	"time"

	"github.com/thushan/oxide/internal/core/ports"
	"github.com/thushan/oxide/internal/logger"
	"golang.org/x/time/rate"
)

// Limits configures a ConnectionRateLimiter. A zero GlobalPerSecond or
// PerIPPerSecond disables that bucket.
type Limits struct {
	GlobalPerSecond int
	PerIPPerSecond  int
	Burst           int
	CleanupInterval time.Duration
	IdleTimeout     time.Duration
}

type ipLimiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
	mu         sync.Mutex
}

// ConnectionRateLimiter admits or rejects a SYN by clientIP before a
// Connection record is allocated for it. Thread safe.
type ConnectionRateLimiter struct {
	log *logger.StyledLogger

	globalLimiter *rate.Limiter
	ipLimiters    sync.Map

	perIPPerSecond int
	burst          int
	idleTimeout    time.Duration

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	stopOnce      sync.Once
}

func NewConnectionRateLimiter(limits Limits, log *logger.StyledLogger) *ConnectionRateLimiter {
	if limits.Burst <= 0 {
		limits.Burst = 1
	}
	if limits.IdleTimeout <= 0 {
		limits.IdleTimeout = 10 * time.Minute
	}

	rl := &ConnectionRateLimiter{
		log:            log,
		perIPPerSecond: limits.PerIPPerSecond,
		burst:          limits.Burst,
		idleTimeout:    limits.IdleTimeout,
		stopCleanup:    make(chan struct{}),
	}

	if limits.GlobalPerSecond > 0 {
		rl.globalLimiter = rate.NewLimiter(rate.Limit(limits.GlobalPerSecond), limits.Burst)
	}

	if limits.CleanupInterval > 0 {
		rl.cleanupTicker = time.NewTicker(limits.CleanupInterval)
		go rl.cleanupRoutine()
	}

	return rl
}

// Allow reports whether a new connection record may be allocated for a SYN
// from clientIP. It never blocks.
func (rl *ConnectionRateLimiter) Allow(clientIP [4]byte) bool {
	if rl.globalLimiter != nil && !rl.globalLimiter.Allow() {
		if rl.log != nil {
			rl.log.Debug("global connection rate limit exceeded, dropping SYN")
		}
		return false
	}

	if rl.perIPPerSecond <= 0 {
		return true
	}

	entry := rl.getOrCreateLimiter(clientIP)
	entry.mu.Lock()
	entry.lastAccess = time.Now()
	limiter := entry.limiter
	entry.mu.Unlock()

	if !limiter.Allow() {
		if rl.log != nil {
			rl.log.Debug("per-ip connection rate limit exceeded, dropping SYN", "client_ip", net.IP(clientIP[:]).String())
		}
		return false
	}
	return true
}

func (rl *ConnectionRateLimiter) getOrCreateLimiter(ip [4]byte) *ipLimiterEntry {
	fresh := &ipLimiterEntry{
		limiter:    rate.NewLimiter(rate.Limit(rl.perIPPerSecond), rl.burst),
		lastAccess: time.Now(),
	}
	actual, _ := rl.ipLimiters.LoadOrStore(ip, fresh)
	entry, ok := actual.(*ipLimiterEntry)
	if !ok {
		return fresh
	}
	return entry
}

func (rl *ConnectionRateLimiter) cleanupRoutine() {
	for {
		select {
		case <-rl.stopCleanup:
			return
		case <-rl.cleanupTicker.C:
			rl.cleanupIdle()
		}
	}
}

// cleanupIdle removes per-IP limiter entries that haven't admitted a SYN
// recently, so a long-running proxy doesn't accumulate one entry per
// scanner IP it has ever seen.
func (rl *ConnectionRateLimiter) cleanupIdle() {
	cutoff := time.Now().Add(-rl.idleTimeout)

	rl.ipLimiters.Range(func(key, value any) bool {
		entry, ok := value.(*ipLimiterEntry)
		if !ok {
			return true
		}
		entry.mu.Lock()
		last := entry.lastAccess
		entry.mu.Unlock()

		if last.Before(cutoff) {
			rl.ipLimiters.Delete(key)
		}
		return true
	})
}

func (rl *ConnectionRateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		if rl.cleanupTicker != nil {
			rl.cleanupTicker.Stop()
		}
		close(rl.stopCleanup)
	})
}

var _ ports.ConnectionAdmitter = (*ConnectionRateLimiter)(nil)
