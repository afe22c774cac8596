package proxystate

import (
	"testing"

	"github.com/thushan/oxide/internal/core/domain"
	"github.com/thushan/oxide/internal/engine/connmgr"
	"github.com/thushan/oxide/internal/engine/timerwheel"
)

func newTestMachine(t *testing.T, selectServer func(*domain.Connection) (domain.ServerIdentity, bool)) (*Machine, *connmgr.Manager, *uint64) {
	t.Helper()
	mgr := connmgr.New(connmgr.Config{Capacity: 1024, PortRangeLo: 49152, PortRangeHi: 50175})
	clock := uint64(1_000_000_000)
	now := func() uint64 { return clock }

	hs := timerwheel.New[ScheduledConn](clock, 1024, timerwheel.MillisToCycles, 4)
	est := timerwheel.New[ScheduledConn](clock, 128, 16*timerwheel.MillisToCycles, 4)

	m := New(Config{
		HandshakeTimeoutCycles:   500 * timerwheel.MillisToCycles,
		EstablishedTimeoutCycles: 200 * timerwheel.MillisToCycles,
	}, mgr, hs, est, selectServer, nil, now, nil)

	return m, mgr, &clock
}

func TestHappyPathS1(t *testing.T) {
	selectServer := func(conn *domain.Connection) (domain.ServerIdentity, bool) {
		return domain.ServerIdentity{Tag: "t0", TargetIndex: 0}, true
	}
	m, mgr, _ := newTestMachine(t, selectServer)

	key := domain.NewClientKey([]byte{10, 0, 0, 2}, []byte{10, 0, 0, 1}, 54321, 3000)
	conn, isNew, err := mgr.GetOrAllocateClient(key)
	if err != nil || !isNew {
		t.Fatalf("allocate: new=%v err=%v", isNew, err)
	}

	clientISN := uint32(1000)
	out := m.HandleClientSegment(conn, Segment{Flags: FlagSYN, Seq: clientISN})
	if len(out) != 1 || out[0].Seg.Flags != FlagSYN|FlagACK {
		t.Fatalf("expected SYN-ACK, got %+v", out)
	}
	proxyISN := out[0].Seg.Seq
	if conn.ClientState != domain.SynReceived {
		t.Fatalf("state = %s, want SynReceived", conn.ClientState)
	}

	out = m.HandleClientSegment(conn, Segment{Flags: FlagACK, Seq: clientISN + 1, Ack: proxyISN + 1, Payload: []byte("hello")})
	if conn.ClientState != domain.Established {
		t.Fatalf("state = %s, want Established", conn.ClientState)
	}
	if conn.ServerState != domain.SynSent {
		t.Fatalf("server state = %s, want SynSent", conn.ServerState)
	}
	if len(out) != 1 || !out[0].ToServer || out[0].Seg.Flags != FlagSYN {
		t.Fatalf("expected server SYN, got %+v", out)
	}
	proxyISN2 := out[0].Seg.Seq

	serverISN := uint32(5000)
	out = m.HandleServerSegment(conn, Segment{Flags: FlagSYN | FlagACK, Seq: serverISN, Ack: proxyISN2 + 1})
	if conn.ServerState != domain.Established {
		t.Fatalf("server state = %s, want Established", conn.ServerState)
	}
	// second Out carries the released buffered payload translated into server space.
	if len(out) != 2 {
		t.Fatalf("expected ack + buffered payload release, got %d outs", len(out))
	}
	dataOut := out[1]
	if string(dataOut.Seg.Payload) != "hello" {
		t.Fatalf("payload = %q, want hello", dataOut.Seg.Payload)
	}
	wantSeq := clientISN + 1 + uint32(conn.DeltaC2S)
	if dataOut.Seg.Seq != wantSeq {
		t.Fatalf("translated seq = %d, want %d", dataOut.Seg.Seq, wantSeq)
	}

	// server replies "HI!"
	out = m.HandleServerSegment(conn, Segment{Flags: FlagACK, Seq: serverISN + 1, Ack: proxyISN2 + 1 + 5, Payload: []byte("HI!")})
	if len(out) != 1 || out[0].ToServer {
		t.Fatalf("expected client-direction data, got %+v", out)
	}
	wantClientSeq := serverISN + 1 + uint32(conn.DeltaS2C)
	if out[0].Seg.Seq != wantClientSeq {
		t.Fatalf("client seq = %d, want %d", out[0].Seg.Seq, wantClientSeq)
	}

	// both sides FIN
	m.HandleClientSegment(conn, Segment{Flags: FlagFIN, Seq: clientISN + 1 + 5, Ack: proxyISN2 + 1 + 3})
	out = m.HandleServerSegment(conn, Segment{Flags: FlagFIN, Seq: serverISN + 1 + 3, Ack: proxyISN2 + 1 + 5 + 1})
	_ = out
	if conn.ClientState != domain.FinWait2 && conn.ClientState != domain.Closed {
		t.Fatalf("client state after FIN exchange = %s", conn.ClientState)
	}
}

func TestNoBackendS2(t *testing.T) {
	selectServer := func(conn *domain.Connection) (domain.ServerIdentity, bool) {
		return domain.ServerIdentity{}, false
	}
	m, mgr, _ := newTestMachine(t, selectServer)

	key := domain.NewClientKey([]byte{10, 0, 0, 2}, []byte{10, 0, 0, 1}, 1, 3000)
	conn, _, err := mgr.GetOrAllocateClient(key)
	if err != nil {
		t.Fatal(err)
	}

	m.HandleClientSegment(conn, Segment{Flags: FlagSYN, Seq: 1})
	out := m.HandleClientSegment(conn, Segment{Flags: FlagACK, Seq: 2, Ack: conn.ProxyISN + 1})

	if len(out) != 1 || !out[0].Seg.Flags.Has(FlagRST) {
		t.Fatalf("expected RST to client, got %+v", out)
	}
	if mgr.Active() != 0 {
		t.Fatal("connection should have been released, no ephemeral port permanently consumed")
	}
}

func TestHandshakeIdempotenceS5(t *testing.T) {
	m, mgr, _ := newTestMachine(t, nil)
	key := domain.NewClientKey([]byte{10, 0, 0, 2}, []byte{10, 0, 0, 1}, 2, 3000)
	conn, _, _ := mgr.GetOrAllocateClient(key)

	first := m.HandleClientSegment(conn, Segment{Flags: FlagSYN, Seq: 42})
	second := m.HandleClientSegment(conn, Segment{Flags: FlagSYN, Seq: 42})

	if first[0].Seg.Seq != second[0].Seg.Seq {
		t.Fatal("retransmitted SYN-ACK must carry the same proxy ISN")
	}
}

func TestServerRstMidStreamS5(t *testing.T) {
	selectServer := func(conn *domain.Connection) (domain.ServerIdentity, bool) {
		return domain.ServerIdentity{Tag: "t0"}, true
	}
	m, mgr, _ := newTestMachine(t, selectServer)
	key := domain.NewClientKey([]byte{10, 0, 0, 2}, []byte{10, 0, 0, 1}, 3, 3000)
	conn, _, _ := mgr.GetOrAllocateClient(key)

	out := m.HandleClientSegment(conn, Segment{Flags: FlagSYN, Seq: 100})
	proxyISN := out[0].Seg.Seq
	out = m.HandleClientSegment(conn, Segment{Flags: FlagACK, Seq: 101, Ack: proxyISN + 1})
	proxyISN2 := out[0].Seg.Seq
	m.HandleServerSegment(conn, Segment{Flags: FlagSYN | FlagACK, Seq: 900, Ack: proxyISN2 + 1})

	out = m.HandleServerSegment(conn, Segment{Flags: FlagRST, Seq: 900 + 101})
	if len(out) != 1 || out[0].ToServer || !out[0].Seg.Flags.Has(FlagRST) {
		t.Fatalf("expected RST forwarded to client, got %+v", out)
	}
	wantSeq := uint32(900+101) + uint32(conn.DeltaS2C)
	if out[0].Seg.Seq != wantSeq {
		t.Fatalf("forwarded RST seq = %d, want %d (translated)", out[0].Seg.Seq, wantSeq)
	}
	if conn.Cause != domain.CauseServerRst {
		t.Fatalf("cause = %s, want ServerRst", conn.Cause)
	}
}

func TestClientDuplicateSynAfterEstablishedIsDropped(t *testing.T) {
	selectServer := func(conn *domain.Connection) (domain.ServerIdentity, bool) {
		return domain.ServerIdentity{Tag: "t0"}, true
	}
	m, mgr, _ := newTestMachine(t, selectServer)
	key := domain.NewClientKey([]byte{10, 0, 0, 2}, []byte{10, 0, 0, 1}, 4, 3000)
	conn, _, _ := mgr.GetOrAllocateClient(key)

	out := m.HandleClientSegment(conn, Segment{Flags: FlagSYN, Seq: 100})
	proxyISN := out[0].Seg.Seq
	m.HandleClientSegment(conn, Segment{Flags: FlagACK, Seq: 101, Ack: proxyISN + 1})

	if conn.ClientState != domain.Established {
		t.Fatalf("client state = %s, want Established", conn.ClientState)
	}

	out = m.HandleClientSegment(conn, Segment{Flags: FlagSYN, Seq: 100})
	if len(out) != 0 {
		t.Fatalf("duplicate SYN after Established must be dropped, got %+v", out)
	}
	if conn.ClientState != domain.Established {
		t.Fatalf("duplicate SYN must not disturb client state, got %s", conn.ClientState)
	}
}

func TestOnDeadlineHandshakeTimeoutS4(t *testing.T) {
	m, mgr, clock := newTestMachine(t, nil)
	key := domain.NewClientKey([]byte{10, 0, 0, 2}, []byte{10, 0, 0, 1}, 5, 3000)
	conn, _, _ := mgr.GetOrAllocateClient(key)

	m.HandleClientSegment(conn, Segment{Flags: FlagSYN, Seq: 100})
	if conn.ClientState != domain.SynReceived {
		t.Fatalf("client state = %s, want SynReceived", conn.ClientState)
	}

	*clock += 500*timerwheel.MillisToCycles + 1

	out := m.OnDeadline(conn, *clock)
	if len(out) != 1 || out[0].ToServer {
		t.Fatalf("expected one client-direction RST, got %+v", out)
	}
	if !out[0].Seg.Flags.Has(FlagRST) {
		t.Fatalf("expected RST, got %+v", out[0].Seg)
	}
	if conn.Cause != domain.CauseTimeout {
		t.Fatalf("cause = %s, want Timeout", conn.Cause)
	}
}

func TestOnDeadlineMaxLifetimeS4(t *testing.T) {
	selectServer := func(conn *domain.Connection) (domain.ServerIdentity, bool) {
		return domain.ServerIdentity{Tag: "t0"}, true
	}
	m, mgr, clock := newTestMachine(t, selectServer)
	key := domain.NewClientKey([]byte{10, 0, 0, 2}, []byte{10, 0, 0, 1}, 6, 3000)
	conn, _, _ := mgr.GetOrAllocateClient(key)

	out := m.HandleClientSegment(conn, Segment{Flags: FlagSYN, Seq: 100})
	proxyISN := out[0].Seg.Seq
	out = m.HandleClientSegment(conn, Segment{Flags: FlagACK, Seq: 101, Ack: proxyISN + 1})
	proxyISN2 := out[0].Seg.Seq
	m.HandleServerSegment(conn, Segment{Flags: FlagSYN | FlagACK, Seq: 900, Ack: proxyISN2 + 1})

	if conn.ClientState != domain.Established || conn.ServerState != domain.Established {
		t.Fatalf("expected both sides Established, got client=%s server=%s", conn.ClientState, conn.ServerState)
	}

	*clock += 200*timerwheel.MillisToCycles + 1

	out = m.OnDeadline(conn, *clock)
	if len(out) != 2 {
		t.Fatalf("expected RST both sides, got %+v", out)
	}
	if conn.Cause != domain.CauseMaxLifetime {
		t.Fatalf("cause = %s, want MaxLifetime", conn.Cause)
	}
}
