package balancer

import (
	"sync/atomic"

	"github.com/thushan/oxide/internal/core/ports"
)

// RoundRobinSelector cycles through backend targets in order. Selection runs
// on the data-plane's handshake path, so it must be allocation-free and
// touch no shared state besides the counter.
type RoundRobinSelector struct {
	counter uint64
}

func NewRoundRobinSelector() *RoundRobinSelector {
	return &RoundRobinSelector{}
}

func (r *RoundRobinSelector) Name() string {
	return DefaultBalancerRoundRobin
}

// Select chooses a target in round-robin order. Targets are assumed
// pre-filtered to healthy backends by the caller's health tracker.
func (r *RoundRobinSelector) Select(targets []ports.Target) (ports.Target, bool) {
	if len(targets) == 0 {
		return ports.Target{}, false
	}

	current := atomic.AddUint64(&r.counter, 1) - 1
	index := current % uint64(len(targets))

	return targets[index], true
}

var _ ports.Balancer = (*RoundRobinSelector)(nil)
