// Package ports declares the interfaces the engine depends on and the
// control-plane message shapes it emits, without binding to any concrete
// adapter implementation.
package ports

import "github.com/thushan/oxide/internal/core/domain"

// SelectServer picks a backend for a connection entering server-side SynSent.
// It may inspect the buffered client payload for L7-aware routing. Returning
// ok=false means no backend is available; the caller releases the connection
// with cause ProxyAbort and RSTs the client.
type SelectServer func(conn *domain.Connection) (target domain.ServerIdentity, ok bool)

// ProcessPayload is invoked on each forwarded client-to-server payload
// segment. It may mutate bytes in place but must not change segment length.
type ProcessPayload func(conn *domain.Connection, bytes []byte, offset int)

// Target is a configured backend the balancer/discovery layer resolves
// select_server against.
type Target struct {
	ID       string
	IP       [4]byte
	MAC      [6]byte
	LinuxIf  string
	Port     uint16
	Index    int
	Priority int
	Weight   float64
}

// Balancer picks a Target from the currently routable set.
type Balancer interface {
	Select(targets []Target) (Target, bool)
	Name() string
}

// HealthTracker reports which configured targets are currently routable.
type HealthTracker interface {
	IsHealthy(targetID string) bool
	Snapshot() map[string]bool
}

// Discoverer resolves the static target table into the Target list the
// balancer consumes, resolving MAC via ARP when omitted from configuration.
type Discoverer interface {
	Targets() []Target
	Refresh() error
}

// PayloadInspector participates in an inspector.Chain run over the buffered
// first client segment before it is released to the server.
type PayloadInspector interface {
	Name() string
	Inspect(conn *domain.Connection, payload []byte) error
}

// ConnectionAdmitter governs how fast new client SYNs may allocate
// connection records, independent of pool exhaustion.
type ConnectionAdmitter interface {
	Allow(clientIP [4]byte) bool
}

// StatsSnapshot is a point-in-time read of the collector's counters,
// merged from every pipeline's MsgCounter reports plus this process's own
// setup-latency/hold-time samples.
type StatsSnapshot struct {
	TCPCounterClient uint64
	TCPCounterServer uint64
	TXCounter        uint64

	ReleasesByCause map[domain.ReleaseCause]uint64

	SetupLatencyP50Us int64
	SetupLatencyP95Us int64
	SetupLatencyP99Us int64
	SetupSamples      int64

	HoldTimeP50Ms int64
	HoldTimeP95Ms int64
	HoldTimeP99Ms int64
	HoldSamples   int64
}

// StatsCollector aggregates per-pipeline throughput counters and
// connection-record timing samples into the process-wide stats report.
type StatsCollector interface {
	RecordEstablished(setupLatencyUs int64)
	RecordRelease(holdTimeMs int64, cause domain.ReleaseCause)
	Merge(msg ControlMessage)
	Snapshot() StatsSnapshot
}
