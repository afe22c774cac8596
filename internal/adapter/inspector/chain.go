// Package inspector runs PayloadInspector implementations over a
// connection's buffered first client segment before it is released to the
// server, for optional L7-aware diagnostics.
package inspector

import (
	"github.com/thushan/oxide/internal/core/domain"
	"github.com/thushan/oxide/internal/core/ports"
	"github.com/thushan/oxide/internal/logger"
)

type Chain struct {
	logger     *logger.StyledLogger
	inspectors []ports.PayloadInspector
}

func NewChain(log *logger.StyledLogger) *Chain {
	return &Chain{
		inspectors: make([]ports.PayloadInspector, 0, 4),
		logger:     log,
	}
}

func (c *Chain) AddInspector(inspector ports.PayloadInspector) {
	c.inspectors = append(c.inspectors, inspector)
}

// Inspect runs every registered inspector over the connection's buffered
// payload. A failing inspector is logged and skipped; it never blocks the
// others or aborts the connection.
func (c *Chain) Inspect(conn *domain.Connection, payload []byte) {
	for _, ins := range c.inspectors {
		if err := ins.Inspect(conn, payload); err != nil {
			if c.logger != nil {
				c.logger.WarnWithTuple("inspector failed, continuing chain", conn.ClientKey, "inspector", ins.Name(), "error", err)
			}
			continue
		}
	}
}

var _ ports.PayloadInspector = (*noopInspector)(nil)

type noopInspector struct{}

func (noopInspector) Name() string { return "noop" }

func (noopInspector) Inspect(*domain.Connection, []byte) error { return nil }
