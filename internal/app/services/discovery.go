package services

import (
	"context"
	"fmt"
	"net"

	"github.com/thushan/oxide/internal/adapter/balancer"
	"github.com/thushan/oxide/internal/adapter/discovery"
	"github.com/thushan/oxide/internal/adapter/health"
	"github.com/thushan/oxide/internal/config"
	"github.com/thushan/oxide/internal/core/domain"
	"github.com/thushan/oxide/internal/core/ports"
	"github.com/thushan/oxide/internal/logger"
)

// DiscoveryService resolves the configured target table into the routable
// backend set select_server consumes: a StaticSource loads targets[], a
// health.Tracker probes them on an independent goroutine, and a balancer
// picks among the ones the tracker reports healthy.
type DiscoveryService struct {
	cfg *config.Config
	log *logger.StyledLogger

	source   *discovery.StaticSource
	tracker  *health.Tracker
	balancer ports.Balancer
}

func NewDiscoveryService(cfg *config.Config, log *logger.StyledLogger) *DiscoveryService {
	return &DiscoveryService{cfg: cfg, log: log}
}

func (s *DiscoveryService) Name() string { return "discovery" }

func (s *DiscoveryService) Start(ctx context.Context) error {
	s.log.Info("initialising discovery service")

	targets := make([]ports.Target, 0, len(s.cfg.Targets))
	for i, t := range s.cfg.Targets {
		target, err := targetFromConfig(t)
		if err != nil {
			return fmt.Errorf("target %s: %w", t.ID, err)
		}
		target.Index = i
		targets = append(targets, target)
	}

	s.source = discovery.NewStaticSource(targets, nil)

	s.tracker = health.NewTracker(health.Config{}, s.log)
	s.tracker.SetTargets(s.source.Targets())
	s.tracker.Start(ctx)

	factory := balancer.NewFactory()
	selector, err := factory.Create(s.cfg.Engine.Balancer)
	if err != nil {
		return fmt.Errorf("create balancer %q: %w", s.cfg.Engine.Balancer, err)
	}
	s.balancer = selector

	s.log.Info("discovery service initialised", "targets", len(targets), "balancer", selector.Name())
	return nil
}

func (s *DiscoveryService) Stop(ctx context.Context) error {
	if s.tracker != nil {
		s.tracker.Stop()
	}
	s.log.Info("discovery service stopped")
	return nil
}

func (s *DiscoveryService) Dependencies() []string { return nil }

// BuildSelectServer returns the ports.SelectServer callback proxystate.Machine
// invokes on entering server-side SynSent: it filters the configured target
// table down to the ones the tracker reports healthy, then asks the
// balancer to pick among them.
func (s *DiscoveryService) BuildSelectServer() ports.SelectServer {
	return func(conn *domain.Connection) (domain.ServerIdentity, bool) {
		healthy := s.HealthyTargets()
		if len(healthy) == 0 {
			return domain.ServerIdentity{}, false
		}
		target, ok := s.balancer.Select(healthy)
		if !ok {
			return domain.ServerIdentity{}, false
		}
		return domain.ServerIdentity{Tag: target.ID, TargetIndex: target.Index}, true
	}
}

// HealthyTargets returns the configured targets currently reported
// reachable by the health tracker.
func (s *DiscoveryService) HealthyTargets() []ports.Target {
	all := s.source.Targets()
	snapshot := s.tracker.Snapshot()

	healthy := make([]ports.Target, 0, len(all))
	for _, t := range all {
		if ok, known := snapshot[t.ID]; known && !ok {
			continue
		}
		healthy = append(healthy, t)
	}
	return healthy
}

func targetFromConfig(t config.TargetConfig) (ports.Target, error) {
	ip := net.ParseIP(t.IP)
	if ip == nil || ip.To4() == nil {
		return ports.Target{}, fmt.Errorf("invalid ipv4 address %q", t.IP)
	}

	target := ports.Target{
		ID:       t.ID,
		Port:     t.Port,
		LinuxIf:  t.LinuxIf,
		Priority: t.Priority,
		Weight:   t.Weight,
	}
	copy(target.IP[:], ip.To4())

	if t.MAC != "" {
		mac, err := net.ParseMAC(t.MAC)
		if err != nil {
			return ports.Target{}, fmt.Errorf("invalid mac %q: %w", t.MAC, err)
		}
		copy(target.MAC[:], mac)
	}
	return target, nil
}
