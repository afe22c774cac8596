// Package pipeline glues the per-core engine together: the receive loop,
// timer-wheel ticking between RX batches, and control-channel reporting. One
// Pipeline runs per worker core; cores share nothing on the data path.
package pipeline

import (
	"github.com/thushan/oxide/internal/core/domain"
	"github.com/thushan/oxide/internal/core/ports"
	"github.com/thushan/oxide/internal/engine/classifier"
	"github.com/thushan/oxide/internal/engine/connmgr"
	"github.com/thushan/oxide/internal/engine/proxystate"
	"github.com/thushan/oxide/internal/engine/timerwheel"
	"github.com/thushan/oxide/pkg/eventbus"
)

// MaxRXBatch bounds how many frames a single receive-loop invocation drains
// before returning control to the scheduler (spec 5, "Suspension points").
const MaxRXBatch = 32

// Receiver is the NIC polling driver's seam into this pipeline: out of scope
// to implement, but this is the shape the pipeline drives it through.
type Receiver interface {
	// Recv returns up to max frames currently queued, without blocking.
	Recv(max int) []classifier.Frame
}

// Transmitter is the NIC TX seam; translated segments are hand off here.
type Transmitter interface {
	Send(toServer bool, conn *domain.Connection, seg proxystate.Segment)
}

// Config configures one core's pipeline.
type Config struct {
	Core        int
	IsKniOwner  bool // true only on the core owning this physical port's rxq 0
	KniInterval uint64
}

// Builder assembles a Pipeline from its constituent engine components.
type Builder struct {
	Core           int
	IsKniOwner     bool
	KniInterval    uint64
	ConnMgr        *connmgr.Manager
	Classifier     *classifier.Classifier
	Machine        *proxystate.Machine
	HandshakeWheel *timerwheel.Wheel[proxystate.ScheduledConn]
	EstablishWheel *timerwheel.Wheel[proxystate.ScheduledConn]
	Bus            *eventbus.EventBus[ports.ControlMessage]
	Receiver       Receiver
	Transmitter    Transmitter
	Now            func() uint64
}

func (b Builder) Build() *Pipeline {
	return &Pipeline{
		core:           b.Core,
		isKniOwner:     b.IsKniOwner,
		kniInterval:    b.KniInterval,
		mgr:            b.ConnMgr,
		classifier:     b.Classifier,
		machine:        b.Machine,
		handshakeWheel: b.HandshakeWheel,
		establishWheel: b.EstablishWheel,
		bus:            b.Bus,
		rx:             b.Receiver,
		tx:             b.Transmitter,
		now:            b.Now,
	}
}

type Pipeline struct {
	mgr            *connmgr.Manager
	classifier     *classifier.Classifier
	machine        *proxystate.Machine
	handshakeWheel *timerwheel.Wheel[proxystate.ScheduledConn]
	establishWheel *timerwheel.Wheel[proxystate.ScheduledConn]
	bus            *eventbus.EventBus[ports.ControlMessage]
	rx             Receiver
	tx             Transmitter
	now            func() uint64

	core        int
	isKniOwner  bool
	kniInterval uint64
	lastKniTick uint64

	tcpCounterClient uint64
	tcpCounterServer uint64
	txCounter        uint64
	running          bool
}

// Core returns the worker core this pipeline owns.
func (p *Pipeline) Core() int { return p.core }

// IsKniOwner reports whether the KNI handler task should be scheduled on
// this pipeline (the core owning the physical port's first RX queue, not
// every core — see the supplemented KNI-registration nuance).
func (p *Pipeline) IsKniOwner() bool { return p.isKniOwner }

// RunOnce processes one RX batch followed by timer-wheel drains, exactly the
// unit of work the per-core scheduler invokes per round-robin turn. It never
// blocks and returns after a bounded amount of work (spec 5).
func (p *Pipeline) RunOnce() {
	frames := p.rx.Recv(MaxRXBatch)
	for _, f := range frames {
		p.processFrame(f)
	}
	p.drainWheel(p.handshakeWheel, 0)
	p.drainWheel(p.establishWheel, 1)
}

func (p *Pipeline) processFrame(f classifier.Frame) {
	action, conn := p.classifier.Classify(f)
	switch action {
	case classifier.ActionARPReply:
		// ARP responder is a NIC-adjacent concern; nothing to do on the
		// connection pool. The transmitter is expected to have its own
		// ARP path wired from the same Frame.
		return
	case classifier.ActionToKNI:
		return
	case classifier.ActionRSTNoHandle:
		p.txCounter++
		return
	case classifier.ActionClientPath:
		p.tcpCounterClient++
		seg := toSegment(f)
		for _, out := range p.machine.HandleClientSegment(conn, seg) {
			p.emit(conn, out)
		}
	case classifier.ActionServerPath:
		p.tcpCounterServer++
		seg := toSegment(f)
		for _, out := range p.machine.HandleServerSegment(conn, seg) {
			p.emit(conn, out)
		}
	}
}

func (p *Pipeline) emit(conn *domain.Connection, out proxystate.Out) {
	if p.tx != nil {
		p.tx.Send(out.ToServer, conn, out.Seg)
	}
	p.txCounter++
}

// drainWheel ticks a wheel until it reports no more work for this pass,
// routing each drained connection through the state machine's deadline
// handler. wheelIndex distinguishes the handshake wheel (0) from the
// established wheel (1) so OnDeadline only acts on entries still scheduled
// against the wheel that fired; the generation carried alongside the
// connection catches the rarer case where the arena slot was released and
// recycled for an unrelated flow before this stale entry was drained.
func (p *Pipeline) drainWheel(w *timerwheel.Wheel[proxystate.ScheduledConn], wheelIndex int) {
	now := p.now()
	for {
		drained, more := w.Tick(now)
		for _, entry := range drained {
			conn := entry.Conn
			if conn.Generation() != entry.Gen {
				continue // arena slot recycled since this entry was scheduled
			}
			if conn.WheelIndex != wheelIndex {
				continue // rescheduled onto the other wheel since this entry was queued
			}
			for _, out := range p.machine.OnDeadline(conn, now) {
				p.emit(conn, out)
			}
		}
		if !more {
			return
		}
	}
}

// ReportCounters publishes the current throughput counters to the control
// thread; publish is non-blocking and drops under backpressure (spec 5).
func (p *Pipeline) ReportCounters() {
	p.bus.PublishAsync(ports.ControlMessage{
		Pipeline:         p.core,
		Kind:             ports.MsgCounter,
		TCPCounterClient: p.tcpCounterClient,
		TCPCounterServer: p.tcpCounterServer,
		TXCounter:        p.txCounter,
	})
}

func toSegment(f classifier.Frame) proxystate.Segment {
	var flags proxystate.Flags
	if f.TCPFlags&classifier.TCPFlagSYN != 0 {
		flags |= proxystate.FlagSYN
	}
	if f.TCPFlags&classifier.TCPFlagACK != 0 {
		flags |= proxystate.FlagACK
	}
	if f.TCPFlags&classifier.TCPFlagFIN != 0 {
		flags |= proxystate.FlagFIN
	}
	if f.TCPFlags&classifier.TCPFlagRST != 0 {
		flags |= proxystate.FlagRST
	}
	return proxystate.Segment{
		Flags:   flags,
		Seq:     f.Seq,
		Ack:     f.Ack,
		MSS:     f.MSS,
		WSS:     f.WSS,
		Payload: f.Payload,
	}
}
