package services

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/thushan/oxide/internal/adapter/kni"
	"github.com/thushan/oxide/internal/adapter/nic"
	"github.com/thushan/oxide/internal/config"
	"github.com/thushan/oxide/internal/core/domain"
	"github.com/thushan/oxide/internal/core/ports"
	"github.com/thushan/oxide/internal/engine/classifier"
	"github.com/thushan/oxide/internal/engine/connmgr"
	"github.com/thushan/oxide/internal/engine/pipeline"
	"github.com/thushan/oxide/internal/engine/proxystate"
	"github.com/thushan/oxide/internal/engine/timerwheel"
	"github.com/thushan/oxide/internal/logger"
	"github.com/thushan/oxide/internal/util"
	"github.com/thushan/oxide/pkg/eventbus"
)

// DefaultConnCapacity is the per-core arena size when engine.test_size is
// unset, large enough to exercise the pool-exhaustion path under load
// without configuration.
const DefaultConnCapacity = 4096

// reportInterval is how often a running pipeline publishes its throughput
// counters to the control thread.
const reportInterval = time.Second

// core is one worker's engine stack plus the goroutine driving it.
type core struct {
	pl     *pipeline.Pipeline
	mgr    *connmgr.Manager
	ring   *nic.Ring
	cancel context.CancelFunc
}

// PipelineService owns the per-core engine instances: one connmgr.Manager,
// classifier.Classifier, proxystate.Machine and pair of timerwheel.Wheels
// per configured core, wired to the shared discovery/security callbacks and
// to a control-channel EventBus the stats collector drains. This is the
// component that actually runs the delayed TCP proxy data plane; every other
// service exists to configure it.
type PipelineService struct {
	cfg *config.Config
	log *logger.StyledLogger

	discovery *DiscoveryService
	security  *SecurityService
	statsSvc  *StatsService

	bus     *eventbus.EventBus[ports.ControlMessage]
	cores   []*core
	knid    *kni.Handler
	cancel  context.CancelFunc
	started bool
}

func NewPipelineService(cfg *config.Config, log *logger.StyledLogger, discovery *DiscoveryService, security *SecurityService, statsSvc *StatsService) *PipelineService {
	return &PipelineService{cfg: cfg, log: log, discovery: discovery, security: security, statsSvc: statsSvc}
}

func (s *PipelineService) Name() string { return "pipelines" }

func (s *PipelineService) Dependencies() []string {
	return []string{"discovery", "security", "stats"}
}

// Start builds one pipeline per configured core, each with its own
// connmgr.Manager over a disjoint ephemeral port slice (invariant 5), and
// starts a driver goroutine per core plus one goroutine draining the shared
// control bus into the stats collector.
func (s *PipelineService) Start(ctx context.Context) error {
	cores := s.cfg.Engine.Cores
	if cores <= 0 {
		cores = 1
	}

	proxyIP, err := parseProxyIP(s.cfg.Engine.IPNet)
	if err != nil {
		return fmt.Errorf("engine.ipnet: %w", err)
	}

	capacity := s.cfg.Engine.TestSize
	if capacity <= 0 {
		capacity = DefaultConnCapacity
	}

	clk := newCycleClock()
	s.bus = eventbus.New[ports.ControlMessage]()

	// One KNI handler per physical port, ticked only from the core owning
	// that port's first RX queue (supplemented registration nuance).
	controlRing := nic.NewControlRing(256)
	s.knid = kni.New(controlRing, timerwheel.MillisToCycles*100, s.log)

	selectServer := s.discovery.BuildSelectServer()
	processPayload := s.security.BuildProcessPayload()
	admitter := s.security.Admitter()

	handshakeCycles := msToCycles(s.cfg.Engine.Timeouts.Handshake)
	establishedCycles := msToCycles(s.cfg.Engine.Timeouts.Established)

	s.cores = make([]*core, 0, cores)

	loRange, hiRange := ephemeralRange()
	span := (int(hiRange) - int(loRange) + 1) / cores
	if span < 1 {
		return fmt.Errorf("engine.cores %d exceeds available ephemeral ports", cores)
	}

	for i := 0; i < cores; i++ {
		portLo := loRange + uint16(i*span)
		portHi := portLo + uint16(span) - 1
		if i == cores-1 {
			portHi = hiRange
		}

		mgr := connmgr.New(connmgr.Config{
			Capacity:    capacity,
			PortRangeLo: portLo,
			PortRangeHi: portHi,
		})

		cls := classifier.New(classifier.Config{
			ProxyIP:     proxyIP,
			ListenPort:  s.cfg.Engine.Port,
			EphemeralLo: portLo,
			EphemeralHi: portHi,
		}, mgr).WithAdmitter(admitter)

		handshakeWheel := timerwheel.New[proxystate.ScheduledConn](clk(), wheelSlots(s.cfg.Engine.Timeouts.Handshake), timerwheel.MillisToCycles, 64)
		establishWheel := timerwheel.New[proxystate.ScheduledConn](clk(), wheelSlots(s.cfg.Engine.Timeouts.Established), timerwheel.MillisToCycles, 64)

		machine := proxystate.New(
			proxystate.Config{
				HandshakeTimeoutCycles:   handshakeCycles,
				EstablishedTimeoutCycles: establishedCycles,
				DelayedV0:                s.cfg.Engine.Mode == config.ModeDelayedV0,
			},
			mgr,
			handshakeWheel,
			establishWheel,
			selectServer,
			processPayload,
			clk,
			s.log,
		)

		collector := s.statsSvc.GetCollector()
		core := i
		machine.OnEstablished(func(conn *domain.Connection) {
			setupCycles := util.SafeInt64Diff(conn.Timestamps.AckReceived, conn.Timestamps.SynReceived)
			collector.RecordEstablished(cyclesToMicros(setupCycles))

			// Snapshot the record rather than hand the bus a live arena
			// pointer: the connection manager reuses this memory for an
			// unrelated flow the moment the record is released.
			rec := *conn
			s.bus.PublishAsync(ports.ControlMessage{Pipeline: core, Kind: ports.MsgEstablished, Record: &rec})
		})
		machine.OnRelease(func(conn *domain.Connection, cause domain.ReleaseCause) {
			holdCycles := util.SafeInt64Diff(clk(), conn.Timestamps.SynReceived)
			collector.RecordRelease(cyclesToMicros(holdCycles)/1000, cause)

			rec := *conn
			s.bus.PublishAsync(ports.ControlMessage{Pipeline: core, Kind: ports.MsgCRecords, Record: &rec})
		})

		ring := nic.NewRing(MaxRXBacklog, MaxTXBacklog)

		builder := pipeline.Builder{
			Core:           i,
			IsKniOwner:     i == 0,
			KniInterval:    timerwheel.MillisToCycles * 100, // service the KNI ring every ~100ms
			ConnMgr:        mgr,
			Classifier:     cls,
			Machine:        machine,
			HandshakeWheel: handshakeWheel,
			EstablishWheel: establishWheel,
			Bus:            s.bus,
			Receiver:       ring,
			Transmitter:    ring,
			Now:            clk,
		}

		coreCtx, cancel := context.WithCancel(ctx)
		c := &core{pl: builder.Build(), mgr: mgr, ring: ring, cancel: cancel}
		s.cores = append(s.cores, c)

		go s.driveCore(coreCtx, c, clk)
	}

	busCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.drainBus(busCtx)

	s.started = true
	s.log.Info("pipelines started", "cores", cores, "capacity_per_core", capacity)
	return nil
}

// driveCore runs one pipeline's cooperative scheduling loop: RunOnce drains
// one RX batch plus both wheels, then the KNI owner services its control
// ring, then counters are reported on the interval, then the goroutine
// yields briefly when idle rather than busy-spinning a shared CPU (the real
// poll-mode driver would pin this to a dedicated core and never yield).
func (s *PipelineService) driveCore(ctx context.Context, c *core, now func() uint64) {
	ticker := time.NewTicker(reportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.pl.ReportCounters()
		default:
			c.pl.RunOnce()
			if c.pl.IsKniOwner() {
				s.knid.Tick(now())
			}
			time.Sleep(time.Millisecond)
		}
	}
}

// drainBus merges published control messages into the stats collector so
// the control thread has an up-to-date view without the data plane ever
// blocking on it.
func (s *PipelineService) drainBus(ctx context.Context) {
	ch, unsubscribe := s.bus.Subscribe(ctx)
	defer unsubscribe()

	collector := s.statsSvc.GetCollector()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			collector.Merge(msg)
		}
	}
}

func (s *PipelineService) Stop(ctx context.Context) error {
	if !s.started {
		return nil
	}
	for _, c := range s.cores {
		c.cancel()
	}
	if s.cancel != nil {
		s.cancel()
	}
	if s.bus != nil {
		s.bus.Shutdown()
	}
	s.log.Info("pipelines stopped")
	return nil
}

// Cores exposes the running per-core engine state for the dashboard and
// tests; callers must not mutate the returned managers.
func (s *PipelineService) Cores() []*connmgr.Manager {
	mgrs := make([]*connmgr.Manager, len(s.cores))
	for i, c := range s.cores {
		mgrs[i] = c.mgr
	}
	return mgrs
}

const (
	// MaxRXBacklog/MaxTXBacklog size the default in-memory NIC ring; a real
	// poll-mode driver would size these off the NIC descriptor ring instead.
	MaxRXBacklog = 4096
	MaxTXBacklog = 4096
)

// ephemeralRange returns the proxy-side source port range split across
// cores (spec 3 invariant 5: disjoint per-core ranges).
func ephemeralRange() (lo, hi uint16) {
	return 20000, 60000
}

func parseProxyIP(ipnet string) ([4]byte, error) {
	var out [4]byte
	host := ipnet
	if ip, _, err := net.ParseCIDR(ipnet); err == nil {
		copy(out[:], ip.To4())
		return out, nil
	}
	ip := net.ParseIP(host)
	if ip == nil || ip.To4() == nil {
		return out, fmt.Errorf("invalid ipv4 address or CIDR %q", ipnet)
	}
	copy(out[:], ip.To4())
	return out, nil
}

// wheelSlots sizes a wheel so its span covers 2x the configured timeout at
// one-millisecond resolution, with a floor so short timeouts still get a
// workable number of buckets.
func wheelSlots(timeout time.Duration) int {
	slots := int(timeout.Milliseconds()) * 2
	if slots < 64 {
		slots = 64
	}
	return slots
}

func msToCycles(d time.Duration) uint64 {
	return uint64(d.Milliseconds()) * timerwheel.MillisToCycles
}

// cyclesToMicros converts a cycle delta to microseconds using the wheel's
// nominal cycles-per-millisecond constant.
func cyclesToMicros(cycles int64) int64 {
	return cycles * 1000 / int64(timerwheel.MillisToCycles)
}

// newCycleClock returns a now() function yielding a monotonically
// increasing cycle count seeded off a nominal CPU frequency (timerwheel's
// MillisToCycles), since this software engine has no rdtsc to read.
func newCycleClock() func() uint64 {
	start := time.Now()
	return func() uint64 {
		elapsed := time.Since(start)
		return uint64(elapsed.Nanoseconds())*timerwheel.MillisToCycles/1_000_000 + timerwheel.MillisToCycles
	}
}
