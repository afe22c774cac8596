// Package app orchestrates the oxide data-plane's services through a single
// dependency-ordered ServiceManager, mirroring the teacher's service
// lifecycle pattern but pointed at the proxy's engine components instead of
// an HTTP reverse proxy.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/thushan/oxide/internal/app/services"
	"github.com/thushan/oxide/internal/config"
	"github.com/thushan/oxide/internal/logger"
)

// Application wires the stats, security, discovery and pipeline services
// together and drives their combined lifecycle.
type Application struct {
	manager *services.ServiceManager
	log     *logger.StyledLogger

	configMu sync.RWMutex
	config   *config.Config
}

// New registers every service in dependency order: stats first (everything
// else instruments through it), then security and discovery (independent of
// each other), then the pipelines, which depend on all three.
func New(cfg *config.Config, log *logger.StyledLogger) (*Application, error) {
	manager := services.NewServiceManager(log)

	statsSvc := services.NewStatsService(log)
	securitySvc := services.NewSecurityService(cfg, log)
	discoverySvc := services.NewDiscoveryService(cfg, log)
	pipelineSvc := services.NewPipelineService(cfg, log, discoverySvc, securitySvc, statsSvc)

	for _, svc := range []services.ManagedService{statsSvc, securitySvc, discoverySvc, pipelineSvc} {
		if err := manager.Register(svc); err != nil {
			return nil, fmt.Errorf("register service %s: %w", svc.Name(), err)
		}
	}

	return &Application{manager: manager, log: log, config: cfg}, nil
}

// Start brings every registered service up in dependency order.
func (a *Application) Start(ctx context.Context) error {
	if err := a.manager.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}
	a.log.Info("oxide started", "namespace", a.getConfig().Engine.Namespace, "port", a.getConfig().Engine.Port)
	return nil
}

// Stop shuts every service down in reverse dependency order, bounded by
// engine.shutdown_timeout-equivalent ten-second default since there is no
// HTTP listener left to drain.
func (a *Application) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := a.manager.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("stop services: %w", err)
	}
	return nil
}

// Registry exposes the underlying service registry for callers that need a
// specific service (the dashboard, tests).
func (a *Application) Registry() *services.ServiceRegistry {
	return a.manager.GetRegistry()
}
