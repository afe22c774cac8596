package balancer

import (
	"math/rand"
	"sort"
	"sync"

	"github.com/thushan/oxide/internal/core/ports"
)

// PrioritySelector picks the highest-priority tier of routable targets,
// falling back to weighted random selection within a tied tier.
type PrioritySelector struct {
	connections map[string]int64
	mu          sync.RWMutex
}

func NewPrioritySelector() *PrioritySelector {
	return &PrioritySelector{
		connections: make(map[string]int64),
	}
}

func (p *PrioritySelector) Name() string {
	return DefaultBalancerPriority
}

func (p *PrioritySelector) Select(targets []ports.Target) (ports.Target, bool) {
	if len(targets) == 0 {
		return ports.Target{}, false
	}

	ranked := make([]ports.Target, len(targets))
	copy(ranked, targets)
	sort.Slice(ranked, func(i, j int) bool {
		return ranked[i].Priority > ranked[j].Priority
	})

	highest := ranked[0].Priority
	var tier []ports.Target
	for _, t := range ranked {
		if t.Priority != highest {
			break
		}
		tier = append(tier, t)
	}

	if len(tier) == 1 {
		return tier[0], true
	}

	return p.weightedSelect(tier), true
}

func (p *PrioritySelector) weightedSelect(targets []ports.Target) ports.Target {
	totalWeight := 0.0
	for _, t := range targets {
		totalWeight += t.Weight
	}

	if totalWeight == 0 {
		return targets[rand.Intn(len(targets))]
	}

	r := rand.Float64() * totalWeight
	weightSum := 0.0
	for _, t := range targets {
		weightSum += t.Weight
		if r <= weightSum {
			return t
		}
	}

	return targets[len(targets)-1]
}

func (p *PrioritySelector) IncrementConnections(targetID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connections[targetID]++
}

func (p *PrioritySelector) DecrementConnections(targetID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if count, exists := p.connections[targetID]; exists && count > 0 {
		p.connections[targetID]--
	}
}

func (p *PrioritySelector) GetConnectionStats() map[string]int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := make(map[string]int64, len(p.connections))
	for target, count := range p.connections {
		stats[target] = count
	}
	return stats
}

var _ ports.Balancer = (*PrioritySelector)(nil)
