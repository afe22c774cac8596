package balancer

import (
	"sync"

	"github.com/thushan/oxide/internal/core/ports"
)

// LeastConnectionsSelector picks the backend target with the fewest
// currently-established connections. The connection manager's
// onEstablished/onRelease callbacks drive Increment/Decrement.
type LeastConnectionsSelector struct {
	connections map[string]int64
	mu          sync.RWMutex
}

func NewLeastConnectionsSelector() *LeastConnectionsSelector {
	return &LeastConnectionsSelector{
		connections: make(map[string]int64),
	}
}

func (l *LeastConnectionsSelector) Name() string {
	return DefaultBalancerLeastConnections
}

func (l *LeastConnectionsSelector) Select(targets []ports.Target) (ports.Target, bool) {
	if len(targets) == 0 {
		return ports.Target{}, false
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	var selected ports.Target
	minConnections := int64(-1)

	for _, target := range targets {
		connections := l.connections[target.ID]
		if minConnections == -1 || connections < minConnections {
			minConnections = connections
			selected = target
		}
	}

	return selected, true
}

func (l *LeastConnectionsSelector) IncrementConnections(targetID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connections[targetID]++
}

func (l *LeastConnectionsSelector) DecrementConnections(targetID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if count, exists := l.connections[targetID]; exists && count > 0 {
		l.connections[targetID]--
	}
}

func (l *LeastConnectionsSelector) GetConnectionStats() map[string]int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := make(map[string]int64, len(l.connections))
	for target, count := range l.connections {
		stats[target] = count
	}
	return stats
}

var _ ports.Balancer = (*LeastConnectionsSelector)(nil)
