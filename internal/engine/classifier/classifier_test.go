package classifier

import (
	"testing"

	"github.com/thushan/oxide/internal/core/domain"
	"github.com/thushan/oxide/internal/engine/connmgr"
)

type stubAdmitter struct{ allow bool }

func (s stubAdmitter) Allow([4]byte) bool { return s.allow }

func testConfig() Config {
	return Config{
		ProxyIP:     [4]byte{10, 0, 0, 1},
		ListenPort:  3000,
		EphemeralLo: 49152,
		EphemeralHi: 49162,
	}
}

func TestClassifyARP(t *testing.T) {
	mgr := connmgr.New(connmgr.Config{Capacity: 4, PortRangeLo: 49152, PortRangeHi: 49155})
	c := New(testConfig(), mgr)

	action, conn := c.Classify(Frame{EtherType: etherTypeARP, ARPTarget: [4]byte{10, 0, 0, 1}})
	if action != ActionARPReply {
		t.Fatalf("action = %v, want ActionARPReply", action)
	}
	if conn != nil {
		t.Fatal("ARP reply must not touch the connection pool")
	}
	if mgr.Active() != 0 {
		t.Fatalf("active = %d, want 0", mgr.Active())
	}
}

func TestClassifyNonProxyIPToKNI(t *testing.T) {
	mgr := connmgr.New(connmgr.Config{Capacity: 4, PortRangeLo: 49152, PortRangeHi: 49155})
	c := New(testConfig(), mgr)

	action, _ := c.Classify(Frame{IPProtoTCP: true, DstIP: [4]byte{10, 0, 0, 9}, DstPort: 3000})
	if action != ActionToKNI {
		t.Fatalf("action = %v, want ActionToKNI", action)
	}
}

func TestClassifyClientPathAllocates(t *testing.T) {
	mgr := connmgr.New(connmgr.Config{Capacity: 4, PortRangeLo: 49152, PortRangeHi: 49155})
	c := New(testConfig(), mgr)

	f := Frame{
		IPProtoTCP: true,
		SrcIP:      [4]byte{10, 0, 0, 2},
		DstIP:      [4]byte{10, 0, 0, 1},
		SrcPort:    54321,
		DstPort:    3000,
	}
	action, conn := c.Classify(f)
	if action != ActionClientPath {
		t.Fatalf("action = %v, want ActionClientPath", action)
	}
	if conn == nil {
		t.Fatal("expected allocated connection handle")
	}
	if mgr.Active() != 1 {
		t.Fatalf("active = %d, want 1", mgr.Active())
	}
}

func TestClassifyServerPathNoHandleRST(t *testing.T) {
	mgr := connmgr.New(connmgr.Config{Capacity: 4, PortRangeLo: 49152, PortRangeHi: 49155})
	c := New(testConfig(), mgr)

	f := Frame{
		IPProtoTCP: true,
		DstIP:      [4]byte{10, 0, 0, 1},
		DstPort:    49152,
	}
	action, conn := c.Classify(f)
	if action != ActionRSTNoHandle {
		t.Fatalf("action = %v, want ActionRSTNoHandle", action)
	}
	if conn != nil {
		t.Fatal("expected nil handle")
	}
}

func TestClassifyUnrelatedTCPToKNI(t *testing.T) {
	mgr := connmgr.New(connmgr.Config{Capacity: 4, PortRangeLo: 49152, PortRangeHi: 49155})
	c := New(testConfig(), mgr)

	f := Frame{
		IPProtoTCP: true,
		DstIP:      [4]byte{10, 0, 0, 1},
		DstPort:    22,
	}
	action, _ := c.Classify(f)
	if action != ActionToKNI {
		t.Fatalf("action = %v, want ActionToKNI", action)
	}
}

func TestClassifyNewSynRejectedByAdmitter(t *testing.T) {
	mgr := connmgr.New(connmgr.Config{Capacity: 4, PortRangeLo: 49152, PortRangeHi: 49155})
	c := New(testConfig(), mgr).WithAdmitter(stubAdmitter{allow: false})

	f := Frame{
		IPProtoTCP: true,
		SrcIP:      [4]byte{10, 0, 0, 2},
		DstIP:      [4]byte{10, 0, 0, 1},
		SrcPort:    54321,
		DstPort:    3000,
	}
	action, conn := c.Classify(f)
	if action != ActionRSTNoHandle {
		t.Fatalf("action = %v, want ActionRSTNoHandle", action)
	}
	if conn != nil {
		t.Fatal("expected nil handle for admitter-rejected SYN")
	}
	if mgr.Active() != 0 {
		t.Fatalf("active = %d, want 0: admitter rejection must not allocate", mgr.Active())
	}
}

func TestClassifyExistingConnectionBypassesAdmitter(t *testing.T) {
	mgr := connmgr.New(connmgr.Config{Capacity: 4, PortRangeLo: 49152, PortRangeHi: 49155})
	c := New(testConfig(), mgr).WithAdmitter(stubAdmitter{allow: false})

	f := Frame{
		IPProtoTCP: true,
		SrcIP:      [4]byte{10, 0, 0, 2},
		DstIP:      [4]byte{10, 0, 0, 1},
		SrcPort:    54321,
		DstPort:    3000,
	}

	// Pre-allocate via the manager directly so Classify sees an existing
	// record and must not consult the admitter for the retransmit/ACK path.
	key := domain.NewClientKey(ipOf(f.SrcIP), ipOf(f.DstIP), f.SrcPort, f.DstPort)
	if _, _, err := mgr.GetOrAllocateClient(key); err != nil {
		t.Fatalf("pre-allocate: %v", err)
	}

	action, conn := c.Classify(f)
	if action != ActionClientPath {
		t.Fatalf("action = %v, want ActionClientPath", action)
	}
	if conn == nil {
		t.Fatal("expected existing connection handle")
	}
}
