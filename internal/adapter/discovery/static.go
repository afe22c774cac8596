// Package discovery resolves the statically configured backend target table
// into the ports.Target list the balancer consumes, including MAC resolution
// for targets configured with an IP only.
package discovery

import (
	"fmt"
	"sync"

	"github.com/thushan/oxide/internal/core/ports"
)

// Resolver looks up a target's MAC address when configuration omits it,
// typically an ARP cache the pipeline's control thread maintains.
type Resolver interface {
	Resolve(ip [4]byte) ([6]byte, bool)
}

// StaticSource holds a fixed backend target table loaded from configuration.
// It never itself changes the table; Refresh only re-resolves MACs.
type StaticSource struct {
	mu       sync.RWMutex
	targets  []ports.Target
	resolver Resolver
}

func NewStaticSource(configured []ports.Target, resolver Resolver) *StaticSource {
	return &StaticSource{
		targets:  append([]ports.Target(nil), configured...),
		resolver: resolver,
	}
}

func (s *StaticSource) Targets() []ports.Target {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ports.Target, len(s.targets))
	copy(out, s.targets)
	return out
}

// Refresh re-resolves any target whose MAC is still the zero value. Targets
// configured with an explicit MAC are left untouched.
func (s *StaticSource) Refresh() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.resolver == nil {
		return nil
	}

	var unresolved int
	for i := range s.targets {
		if s.targets[i].MAC != ([6]byte{}) {
			continue
		}
		mac, ok := s.resolver.Resolve(s.targets[i].IP)
		if !ok {
			unresolved++
			continue
		}
		s.targets[i].MAC = mac
	}
	if unresolved > 0 {
		return fmt.Errorf("discovery: %d target(s) still unresolved", unresolved)
	}
	return nil
}

var _ ports.Discoverer = (*StaticSource)(nil)
