package services

import (
	"context"

	"github.com/thushan/oxide/internal/adapter/inspector"
	"github.com/thushan/oxide/internal/adapter/security"
	"github.com/thushan/oxide/internal/config"
	"github.com/thushan/oxide/internal/core/domain"
	"github.com/thushan/oxide/internal/core/ports"
	"github.com/thushan/oxide/internal/logger"
)

// SecurityService owns SYN admission rate limiting and the payload
// inspector chain: the two resource-exhaustion and L7-routing hooks spec 7
// and spec 4.4 call out, independent of pool exhaustion handled in
// connmgr.
type SecurityService struct {
	cfg *config.Config
	log *logger.StyledLogger

	limiter *security.ConnectionRateLimiter
	chain   *inspector.Chain
}

func NewSecurityService(cfg *config.Config, log *logger.StyledLogger) *SecurityService {
	return &SecurityService{cfg: cfg, log: log}
}

func (s *SecurityService) Name() string { return "security" }

func (s *SecurityService) Start(ctx context.Context) error {
	s.log.Info("initialising security service")

	limits := s.cfg.Engine.RateLimits
	s.limiter = security.NewConnectionRateLimiter(security.Limits{
		GlobalPerSecond: limits.GlobalPerSecond,
		PerIPPerSecond:  limits.PerIPPerSecond,
		Burst:           limits.Burst,
		CleanupInterval: limits.CleanupInterval,
		IdleTimeout:     limits.IdleTimeout,
	}, s.log)

	s.chain = inspector.NewChain(s.log)
	if s.cfg.Engine.DetailedRecords {
		s.chain.AddInspector(inspector.NewSimple(true, "./inspector-records", s.log))
	}

	s.log.Info("security service initialised",
		"global_per_second", limits.GlobalPerSecond,
		"per_ip_per_second", limits.PerIPPerSecond,
		"detailed_records", s.cfg.Engine.DetailedRecords)
	return nil
}

func (s *SecurityService) Stop(ctx context.Context) error {
	if s.limiter != nil {
		s.limiter.Stop()
	}
	s.log.Info("security service stopped")
	return nil
}

func (s *SecurityService) Dependencies() []string { return nil }

// Admitter returns the ConnectionAdmitter classifier consults before
// allocating a connection record for a new SYN.
func (s *SecurityService) Admitter() ports.ConnectionAdmitter {
	return s.limiter
}

// BuildProcessPayload adapts the inspector chain to the ports.ProcessPayload
// callback the proxystate.Machine invokes over each forwarded client
// segment; offset is unused since the chain never resizes the payload.
func (s *SecurityService) BuildProcessPayload() ports.ProcessPayload {
	return func(conn *domain.Connection, bytes []byte, offset int) {
		s.chain.Inspect(conn, bytes)
	}
}
