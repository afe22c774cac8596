// Package health tracks backend target reachability with periodic TCP dial
// probes and a circuit breaker, so select_server only routes to targets the
// proxy believes are up. The control-plane thread owns this; the hot data
// path only ever reads the resulting bool snapshot.
package health

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/thushan/oxide/internal/core/ports"
	"github.com/thushan/oxide/internal/logger"
	"github.com/thushan/oxide/internal/util"
)

// maxBackoffMultiplier caps how many doublings of the base interval a
// persistently failing target can accumulate (2^6 = 64x the base interval).
const maxBackoffMultiplier = 6

// DialFunc abstracts the TCP dial so tests can substitute a fake without
// opening real sockets.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

type Config struct {
	Interval time.Duration
	Timeout  time.Duration
}

// Tracker periodically dials each configured target and records the result
// through a CircuitBreaker, exposing a point-in-time healthy/unhealthy
// snapshot via IsHealthy/Snapshot.
type Tracker struct {
	cfg     Config
	dial    DialFunc
	breaker *CircuitBreaker
	log     *logger.StyledLogger

	mu        sync.RWMutex
	targets   []ports.Target
	healthy   map[string]bool
	nextProbe map[string]time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewTracker(cfg Config, log *logger.StyledLogger) *Tracker {
	if cfg.Interval == 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultHealthCheckerTimeout
	}
	return &Tracker{
		cfg:     cfg,
		dial:    dialTCP,
		breaker:   NewCircuitBreaker(),
		log:       log,
		healthy:   make(map[string]bool),
		nextProbe: make(map[string]time.Time),
		stopCh:    make(chan struct{}),
	}
}

func dialTCP(ctx context.Context, network, address string) (net.Conn, error) {
	d := net.Dialer{}
	return d.DialContext(ctx, network, address)
}

// SetTargets replaces the set of targets under observation; a target
// dropped from configuration stops being probed and its breaker state is
// forgotten.
func (t *Tracker) SetTargets(targets []ports.Target) {
	t.mu.Lock()
	defer t.mu.Unlock()

	seen := make(map[string]bool, len(targets))
	for _, target := range targets {
		seen[target.ID] = true
		if _, ok := t.healthy[target.ID]; !ok {
			t.healthy[target.ID] = true // assume healthy until first probe
		}
	}
	for id := range t.healthy {
		if !seen[id] {
			delete(t.healthy, id)
			delete(t.nextProbe, id)
			t.breaker.CleanupEndpoint(id)
		}
	}
	t.targets = targets
}

// Start runs the probe loop until ctx is cancelled or Stop is called.
func (t *Tracker) Start(ctx context.Context) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ticker := time.NewTicker(t.cfg.Interval)
		defer ticker.Stop()

		t.probeAll(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.stopCh:
				return
			case <-ticker.C:
				t.probeAll(ctx)
			}
		}
	}()
}

func (t *Tracker) Stop() {
	close(t.stopCh)
	t.wg.Wait()
}

func (t *Tracker) probeAll(ctx context.Context) {
	t.mu.RLock()
	targets := make([]ports.Target, len(t.targets))
	copy(targets, t.targets)
	t.mu.RUnlock()

	for _, target := range targets {
		t.probe(ctx, target)
	}
}

func (t *Tracker) probe(ctx context.Context, target ports.Target) {
	if t.breaker.IsOpen(target.ID) {
		t.setHealthy(target.ID, false)
		return
	}
	if due, ok := t.nextProbeAt(target.ID); ok && time.Now().Before(due) {
		return
	}

	dialCtx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	address := fmt.Sprintf("%d.%d.%d.%d:%d", target.IP[0], target.IP[1], target.IP[2], target.IP[3], target.Port)
	conn, err := t.dial(dialCtx, "tcp", address)
	if err != nil {
		t.breaker.RecordFailure(target.ID)
		t.setHealthy(target.ID, false)
		t.scheduleBackoff(target.ID)
		if t.log != nil {
			t.log.Warn("target dial probe failed", "target", target.ID, "address", address, "error", err)
		}
		return
	}
	_ = conn.Close()

	t.breaker.RecordSuccess(target.ID)
	t.setHealthy(target.ID, true)
	t.clearBackoff(target.ID)
}

// scheduleBackoff widens a failing target's next probe using the same
// exponential-with-cap curve as the connection retry path, so a target
// that's been down for a while gets probed less often than one that just
// started failing.
func (t *Tracker) scheduleBackoff(id string) {
	failures := t.breaker.ConsecutiveFailures(id)
	multiplier := 1 << min(failures, maxBackoffMultiplier)
	delay := util.CalculateEndpointBackoff(t.cfg.Interval, multiplier)

	t.mu.Lock()
	t.nextProbe[id] = time.Now().Add(delay)
	t.mu.Unlock()
}

func (t *Tracker) clearBackoff(id string) {
	t.mu.Lock()
	delete(t.nextProbe, id)
	t.mu.Unlock()
}

func (t *Tracker) nextProbeAt(id string) (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	due, ok := t.nextProbe[id]
	return due, ok
}

func (t *Tracker) setHealthy(id string, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.healthy[id] = ok
}

func (t *Tracker) IsHealthy(targetID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.healthy[targetID]
}

func (t *Tracker) Snapshot() map[string]bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]bool, len(t.healthy))
	for k, v := range t.healthy {
		out[k] = v
	}
	return out
}

var _ ports.HealthTracker = (*Tracker)(nil)
