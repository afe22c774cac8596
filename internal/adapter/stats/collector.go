package stats

import (
	"sync"
	"sync/atomic"

	"github.com/thushan/oxide/internal/core/domain"
	"github.com/thushan/oxide/internal/core/ports"
	"github.com/thushan/oxide/internal/logger"
)

// Collector merges per-pipeline MsgCounter reports with setup-latency and
// hold-time samples taken as connections are established and released. One
// Collector serves the whole process; pipelines report into it from their
// own goroutine, so every counter is either atomic or reservoir-sampled.
type Collector struct {
	log *logger.StyledLogger

	tcpCounterClient uint64
	tcpCounterServer uint64
	txCounter        uint64

	setupLatency *ReservoirSampler
	holdTime     *ReservoirSampler

	mu              sync.Mutex
	releasesByCause map[domain.ReleaseCause]uint64
}

func NewCollector(log *logger.StyledLogger) *Collector {
	return &Collector{
		log:             log,
		setupLatency:    NewReservoirSampler(200),
		holdTime:        NewReservoirSampler(200),
		releasesByCause: make(map[domain.ReleaseCause]uint64, 8),
	}
}

// RecordEstablished samples the time between SYN and the handshake ACK that
// moved a connection into Established, in microseconds.
func (c *Collector) RecordEstablished(setupLatencyUs int64) {
	c.setupLatency.Add(setupLatencyUs)
}

// RecordRelease samples a connection record's total lifetime in
// milliseconds and tallies the cause it was released for.
func (c *Collector) RecordRelease(holdTimeMs int64, cause domain.ReleaseCause) {
	c.holdTime.Add(holdTimeMs)

	c.mu.Lock()
	c.releasesByCause[cause]++
	c.mu.Unlock()
}

// Merge folds a pipeline's control-thread report into the process totals.
// MsgCounter reports are aggregated; MsgEstablished/MsgCRecords carry a
// single connection's record and are logged rather than aggregated, since
// per-connection detail belongs in the log stream, not the stats snapshot.
func (c *Collector) Merge(msg ports.ControlMessage) {
	switch msg.Kind {
	case ports.MsgCounter:
		atomic.AddUint64(&c.tcpCounterClient, msg.TCPCounterClient)
		atomic.AddUint64(&c.tcpCounterServer, msg.TCPCounterServer)
		atomic.AddUint64(&c.txCounter, msg.TXCounter)
	case ports.MsgEstablished:
		if c.log != nil && msg.Record != nil {
			c.log.Debug("connection established",
				"pipeline", msg.Pipeline,
				"client", msg.Record.ClientKey.String(),
				"server", msg.Record.Server.Tag)
		}
	case ports.MsgCRecords:
		if c.log != nil && msg.Record != nil {
			c.log.Debug("connection released",
				"pipeline", msg.Pipeline,
				"client", msg.Record.ClientKey.String(),
				"cause", msg.Record.Cause.String())
		}
	}
}

func (c *Collector) Snapshot() ports.StatsSnapshot {
	p50s, p95s, p99s := c.setupLatency.GetPercentiles()
	p50h, p95h, p99h := c.holdTime.GetPercentiles()

	c.mu.Lock()
	causes := make(map[domain.ReleaseCause]uint64, len(c.releasesByCause))
	for k, v := range c.releasesByCause {
		causes[k] = v
	}
	c.mu.Unlock()

	return ports.StatsSnapshot{
		TCPCounterClient: atomic.LoadUint64(&c.tcpCounterClient),
		TCPCounterServer: atomic.LoadUint64(&c.tcpCounterServer),
		TXCounter:        atomic.LoadUint64(&c.txCounter),

		ReleasesByCause: causes,

		SetupLatencyP50Us: p50s,
		SetupLatencyP95Us: p95s,
		SetupLatencyP99Us: p99s,
		SetupSamples:      c.setupLatency.Count(),

		HoldTimeP50Ms: p50h,
		HoldTimeP95Ms: p95h,
		HoldTimeP99Ms: p99h,
		HoldSamples:   c.holdTime.Count(),
	}
}

var _ ports.StatsCollector = (*Collector)(nil)
