// Package proxystate implements the per-connection TCP half-proxy state
// machine: two independently-evolving TCP states driven off one thread,
// payload buffering until the server handshake completes, and the
// sequence-number translation that keeps both sides' views consistent.
package proxystate

import (
	"math/rand/v2"

	"github.com/thushan/oxide/internal/core/domain"
	"github.com/thushan/oxide/internal/core/ports"
	"github.com/thushan/oxide/internal/engine/connmgr"
	"github.com/thushan/oxide/internal/engine/timerwheel"
)

// Logger is the minimal surface the state machine needs; satisfied by
// logger.StyledLogger without this package importing it directly.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// Config carries the deadlines and mode the machine enforces.
type Config struct {
	HandshakeTimeoutCycles  uint64
	EstablishedTimeoutCycles uint64
	DelayedV0               bool // when true, backend selection happens at SYN time, not after payload
}

// ScheduledConn is what the timer wheels hold: a connection handle plus the
// arena generation it carried at schedule time. A drained entry whose
// generation no longer matches the connection's current one was scheduled
// for a flow that has since been released and the arena slot recycled; it
// must be dropped rather than acted on.
type ScheduledConn struct {
	Conn *domain.Connection
	Gen  uint32
}

// Machine runs the state transitions for every connection owned by one
// core's connection manager. It holds no per-connection state of its own;
// everything mutable lives on the domain.Connection record.
type Machine struct {
	cfg            Config
	mgr            *connmgr.Manager
	handshakeWheel *timerwheel.Wheel[ScheduledConn]
	establishedWheel *timerwheel.Wheel[ScheduledConn]
	selectServer   ports.SelectServer
	processPayload ports.ProcessPayload
	now            func() uint64
	log            Logger
	onEstablished  func(*domain.Connection)
	onRelease      func(*domain.Connection, domain.ReleaseCause)
}

func New(
	cfg Config,
	mgr *connmgr.Manager,
	handshakeWheel *timerwheel.Wheel[ScheduledConn],
	establishedWheel *timerwheel.Wheel[ScheduledConn],
	selectServer ports.SelectServer,
	processPayload ports.ProcessPayload,
	now func() uint64,
	log Logger,
) *Machine {
	if log == nil {
		log = noopLogger{}
	}
	return &Machine{
		cfg:              cfg,
		mgr:              mgr,
		handshakeWheel:   handshakeWheel,
		establishedWheel: establishedWheel,
		selectServer:     selectServer,
		processPayload:   processPayload,
		now:              now,
		log:              log,
	}
}

func (m *Machine) OnEstablished(fn func(*domain.Connection))                  { m.onEstablished = fn }
func (m *Machine) OnRelease(fn func(*domain.Connection, domain.ReleaseCause)) { m.onRelease = fn }

func randISN() uint32 {
	return rand.Uint32()
}

func (m *Machine) scheduleHandshakeDeadline(conn *domain.Connection) {
	deadline := m.now() + m.cfg.HandshakeTimeoutCycles
	conn.Deadline = deadline
	conn.WheelIndex = 0
	conn.WheelSlot = int(m.handshakeWheel.Schedule(deadline, ScheduledConn{Conn: conn, Gen: conn.Generation()}))
}

func (m *Machine) scheduleEstablishedDeadline(conn *domain.Connection) {
	deadline := m.now() + m.cfg.EstablishedTimeoutCycles
	conn.Deadline = deadline
	conn.WheelIndex = 1
	conn.WheelSlot = int(m.establishedWheel.Schedule(deadline, ScheduledConn{Conn: conn, Gen: conn.Generation()}))
}

func (m *Machine) release(conn *domain.Connection, cause domain.ReleaseCause) {
	if m.onRelease != nil {
		m.onRelease(conn, cause)
	}
	m.mgr.Release(conn, cause)
}

// HandleClientSegment dispatches a client-direction segment to the
// client-side transition appropriate for the connection's current state.
func (m *Machine) HandleClientSegment(conn *domain.Connection, seg Segment) []Out {
	switch {
	case seg.Flags.Has(FlagRST):
		return m.onClientRst(conn, seg)
	case conn.ClientState == domain.Listen && seg.Flags.Has(FlagSYN):
		return m.onClientSyn(conn, seg)
	case conn.ClientState == domain.SynReceived && seg.Flags.Has(FlagSYN):
		return m.onClientSynRetransmit(conn)
	case conn.ClientState == domain.SynReceived && seg.Flags.Has(FlagACK):
		return m.onClientHandshakeAck(conn, seg)
	case seg.Flags.Has(FlagSYN) && conn.ClientState != domain.Listen && conn.ClientState != domain.SynReceived:
		return m.onClientDuplicateSyn(conn, seg)
	case seg.Flags.Has(FlagFIN) && conn.ClientState != domain.Established &&
		conn.ClientState != domain.CloseWait && conn.ClientState != domain.FinWait1 && conn.ClientState != domain.FinWait2:
		// FIN arriving before either side reached Established (design note
		// 9(b)): release rather than try to reconcile a half-open close.
		return m.onSimultaneousFinBeforeEstablished(conn)
	case conn.ClientState == domain.Established && seg.Flags.Has(FlagFIN):
		return m.onClientFin(conn, seg)
	case conn.ClientState == domain.Established:
		return m.onClientData(conn, seg)
	case conn.ClientState == domain.CloseWait || conn.ClientState == domain.FinWait1 || conn.ClientState == domain.FinWait2:
		return m.onClientFinProgress(conn, seg)
	default:
		m.log.Debug("dropped out-of-state client segment", "state", conn.ClientState.String())
		return nil
	}
}

// onClientSyn is the Listen -> SynReceived transition (spec 4.4).
func (m *Machine) onClientSyn(conn *domain.Connection, seg Segment) []Out {
	conn.ClientISN = seg.Seq
	conn.ClientMSS = seg.MSS
	conn.ClientWSS = seg.WSS
	conn.ProxyISN = randISN() ^ uint32(m.now())
	conn.ClientState = domain.SynReceived
	conn.Timestamps.SynReceived = m.now()
	m.scheduleHandshakeDeadline(conn)

	return []Out{{ToServer: false, Seg: Segment{
		Flags: FlagSYN | FlagACK,
		Seq:   conn.ProxyISN,
		Ack:   conn.ClientISN + 1,
		MSS:   conn.ClientMSS,
		WSS:   conn.ClientWSS,
	}}}
}

// onClientSynRetransmit resends the cached SYN-ACK without re-randomising the
// ISN (property #5, handshake idempotence).
func (m *Machine) onClientSynRetransmit(conn *domain.Connection) []Out {
	return []Out{{ToServer: false, Seg: Segment{
		Flags: FlagSYN | FlagACK,
		Seq:   conn.ProxyISN,
		Ack:   conn.ClientISN + 1,
		MSS:   conn.ClientMSS,
		WSS:   conn.ClientWSS,
	}}}
}

// onClientHandshakeAck completes the client-side handshake, buffers any
// payload riding the ACK, and kicks off the server-side SYN.
func (m *Machine) onClientHandshakeAck(conn *domain.Connection, seg Segment) []Out {
	conn.ClientState = domain.Established
	conn.Timestamps.AckReceived = m.now()

	if len(seg.Payload) > 0 {
		m.bufferPayload(conn, seg.Payload)
	}

	out := m.beginServerHandshake(conn)
	return out
}

// bufferPayload concatenates a client data segment into the pending buffer,
// up to MaxBufferedPayload; bytes beyond the cap are dropped (open question
// (a): buffer-concatenate, never acknowledged early to the client).
func (m *Machine) bufferPayload(conn *domain.Connection, payload []byte) {
	room := domain.MaxBufferedPayload - len(conn.BufferedPayload)
	if room <= 0 {
		return
	}
	if room < len(payload) {
		payload = payload[:room]
	}
	conn.BufferedPayload = append(conn.BufferedPayload, payload...)
}

// beginServerHandshake is the Entering-SynSent transition: pick a backend,
// pick a fresh proxy ISN, send SYN to the server.
func (m *Machine) beginServerHandshake(conn *domain.Connection) []Out {
	target, ok := m.selectServer(conn)
	if !ok {
		m.release(conn, domain.CauseProxyAbort)
		return []Out{{ToServer: false, Seg: Segment{Flags: FlagRST}}}
	}
	conn.Server = target
	conn.ProxyISN2 = randISN() ^ uint32(m.now())
	conn.ServerState = domain.SynSent
	conn.Timestamps.SynSent = m.now()
	m.scheduleHandshakeDeadline(conn)

	return []Out{{ToServer: true, Seg: Segment{
		Flags: FlagSYN,
		Seq:   conn.ProxyISN2,
		MSS:   conn.ClientMSS,
		WSS:   conn.ClientWSS,
	}}}
}

func (m *Machine) onClientFin(conn *domain.Connection, seg Segment) []Out {
	conn.ClientState = domain.CloseWait
	if conn.ClosedBy == domain.CauseNone {
		conn.ClosedBy = domain.CauseClientFin
	}
	if conn.ServerState != domain.Established {
		return nil
	}
	translated := translateClientToServer(seg, conn.DeltaC2S, conn.DeltaS2C)
	return []Out{{ToServer: true, Seg: translated}}
}

func (m *Machine) onClientFinProgress(conn *domain.Connection, seg Segment) []Out {
	if seg.Flags.Has(FlagACK) && conn.ClientState == domain.CloseWait {
		conn.ClientState = domain.FinWait2
	}
	return m.maybeClose(conn)
}

func (m *Machine) onClientData(conn *domain.Connection, seg Segment) []Out {
	if conn.ServerState != domain.Established {
		// awaiting server handshake: a second segment arriving in that
		// window is buffered up to the cap rather than forwarded.
		m.bufferPayload(conn, seg.Payload)
		return nil
	}

	payload := seg.Payload
	if len(payload) > 0 && m.processPayload != nil {
		m.processPayload(conn, payload, 0)
	}

	conn.Timestamps.AckSent = m.now()
	m.scheduleEstablishedDeadline(conn)

	translated := translateClientToServer(seg, conn.DeltaC2S, conn.DeltaS2C)
	translated.Payload = payload
	return []Out{{ToServer: true, Seg: translated}}
}

// onClientDuplicateSyn handles a SYN arriving for a client tuple already
// mapped to a connection past the handshake (not Listen, not the
// retransmit-compatible SynReceived) — a differing-state duplicate that
// can't be answered with the cached SYN-ACK, so it's logged and dropped
// rather than forwarded as if it were data.
func (m *Machine) onClientDuplicateSyn(conn *domain.Connection, seg Segment) []Out {
	err := domain.NewDuplicateSynError(conn.ClientKey, conn.ClientState)
	m.log.Warn("dropped duplicate syn", "error", err.Error(), "seq", seg.Seq)
	return nil
}

func (m *Machine) onClientRst(conn *domain.Connection, seg Segment) []Out {
	var out []Out
	if conn.ServerState >= domain.SynSent {
		translated := translateClientToServer(seg, conn.DeltaC2S, conn.DeltaS2C)
		out = append(out, Out{ToServer: true, Seg: translated})
	}
	m.release(conn, domain.CauseClientRst)
	return out
}

// HandleServerSegment dispatches a server-direction segment.
func (m *Machine) HandleServerSegment(conn *domain.Connection, seg Segment) []Out {
	switch {
	case seg.Flags.Has(FlagRST):
		return m.onServerRst(conn, seg)
	case conn.ServerState == domain.SynSent && seg.Flags.Has(FlagSYN) && seg.Flags.Has(FlagACK):
		return m.onServerSynAck(conn, seg)
	case seg.Flags.Has(FlagFIN) && conn.ServerState != domain.Established &&
		conn.ServerState != domain.CloseWait && conn.ServerState != domain.FinWait1 && conn.ServerState != domain.FinWait2:
		return m.onSimultaneousFinBeforeEstablished(conn)
	case conn.ServerState == domain.Established && seg.Flags.Has(FlagFIN):
		return m.onServerFin(conn, seg)
	case conn.ServerState == domain.Established:
		return m.onServerData(conn, seg)
	case conn.ServerState == domain.CloseWait || conn.ServerState == domain.FinWait1 || conn.ServerState == domain.FinWait2:
		return m.onServerFinProgress(conn, seg)
	default:
		m.log.Debug("dropped out-of-state server segment", "state", conn.ServerState.String())
		return nil
	}
}

// onServerSynAck completes the server-side handshake and, if a client
// payload was buffered, releases it now with delta_c2s applied.
func (m *Machine) onServerSynAck(conn *domain.Connection, seg Segment) []Out {
	conn.ServerISN = seg.Seq
	conn.DeltaC2S = int32(conn.ProxyISN2 - conn.ClientISN)
	conn.DeltaS2C = int32(conn.ProxyISN - conn.ServerISN)
	conn.ServerState = domain.Established
	conn.Timestamps.AckReceived = m.now()
	m.scheduleEstablishedDeadline(conn)

	out := []Out{{ToServer: true, Seg: Segment{
		Flags: FlagACK,
		Seq:   conn.ProxyISN2 + 1,
		Ack:   conn.ServerISN + 1,
	}}}

	if len(conn.BufferedPayload) > 0 {
		payload := conn.BufferedPayload
		if m.processPayload != nil {
			m.processPayload(conn, payload, 0)
		}
		out = append(out, Out{ToServer: true, Seg: Segment{
			Flags:   FlagACK,
			Seq:     conn.ProxyISN2 + 1,
			Ack:     conn.ServerISN + 1,
			Payload: payload,
		}})
		conn.BufferedPayload = conn.BufferedPayload[:0]
	}

	if m.onEstablished != nil {
		m.onEstablished(conn)
	}
	return out
}

func (m *Machine) onServerFin(conn *domain.Connection, seg Segment) []Out {
	conn.ServerState = domain.CloseWait
	if conn.ClosedBy == domain.CauseNone {
		conn.ClosedBy = domain.CauseServerFin
	}
	translated := translateServerToClient(seg, conn.DeltaC2S, conn.DeltaS2C)
	return []Out{{ToServer: false, Seg: translated}}
}

func (m *Machine) onServerFinProgress(conn *domain.Connection, seg Segment) []Out {
	if seg.Flags.Has(FlagACK) && conn.ServerState == domain.CloseWait {
		conn.ServerState = domain.FinWait2
	}
	return m.maybeClose(conn)
}

func (m *Machine) onServerData(conn *domain.Connection, seg Segment) []Out {
	conn.Timestamps.AckSent = m.now()
	m.scheduleEstablishedDeadline(conn)
	translated := translateServerToClient(seg, conn.DeltaC2S, conn.DeltaS2C)
	translated.Payload = seg.Payload
	return []Out{{ToServer: false, Seg: translated}}
}

func (m *Machine) onServerRst(conn *domain.Connection, seg Segment) []Out {
	cause := domain.CauseServerRst
	if conn.ClientState.IsHandshaking() || conn.ServerState.IsHandshaking() {
		cause = domain.CauseProxyAbort
	}
	translated := translateServerToClient(seg, conn.DeltaC2S, conn.DeltaS2C)
	m.release(conn, cause)
	return []Out{{ToServer: false, Seg: translated}}
}

// onSimultaneousFinBeforeEstablished covers design note 9(b): a FIN arriving
// on either side before that side has reached Established is not a clean
// half-close, since there is no established stream to wind down. Release
// outright rather than guess at a reconciliation.
func (m *Machine) onSimultaneousFinBeforeEstablished(conn *domain.Connection) []Out {
	var out []Out
	if conn.ClientState != domain.Listen && conn.ClientState != domain.Closed {
		out = append(out, Out{ToServer: false, Seg: Segment{Flags: FlagRST}})
	}
	if conn.ServerState >= domain.SynSent {
		out = append(out, Out{ToServer: true, Seg: Segment{Flags: FlagRST}})
	}
	m.release(conn, domain.CauseProxyAbort)
	return out
}

// maybeClose releases the connection once both sides have progressed to
// FinWait2 (standard FIN/ACK progression toward Closed). TIME-WAIT is not
// maintained: the record is released as soon as both sides have exchanged
// FIN+ACK.
func (m *Machine) maybeClose(conn *domain.Connection) []Out {
	if conn.ClientState == domain.FinWait2 && conn.ServerState == domain.FinWait2 {
		cause := conn.ClosedBy
		if cause == domain.CauseNone {
			cause = domain.CauseClientFin
		}
		conn.ClientState = domain.Closed
		conn.ServerState = domain.Closed
		m.release(conn, cause)
	}
	return nil
}

// OnDeadline handles a timer-wheel expiry for conn. If the connection is
// still in a half-closed or handshake state, both sides are RST and the
// record is released (spec 4.4 "Deadlines").
func (m *Machine) OnDeadline(conn *domain.Connection, now uint64) []Out {
	if conn.ClientState == domain.Closed {
		return nil // stale entry, already released
	}
	if conn.Deadline > now {
		return nil // state moved on and rescheduled past this tick
	}

	handshaking := conn.ClientState.IsHandshaking() || conn.ServerState.IsHandshaking()
	halfClosed := conn.ClientState == domain.CloseWait || conn.ClientState == domain.FinWait1 ||
		conn.ClientState == domain.FinWait2 || conn.ServerState == domain.CloseWait ||
		conn.ServerState == domain.FinWait1 || conn.ServerState == domain.FinWait2

	if !handshaking && !halfClosed && conn.ClientState != domain.Established {
		return nil
	}

	var out []Out
	if conn.ClientState != domain.Listen && conn.ClientState != domain.Closed {
		out = append(out, Out{ToServer: false, Seg: Segment{Flags: FlagRST}})
	}
	if conn.ServerState >= domain.SynSent {
		out = append(out, Out{ToServer: true, Seg: Segment{Flags: FlagRST}})
	}

	cause := domain.CauseTimeout
	if handshaking {
		cause = domain.CauseTimeout
	} else if conn.ClientState == domain.Established && conn.ServerState == domain.Established {
		cause = domain.CauseMaxLifetime
	}
	m.release(conn, cause)
	return out
}
