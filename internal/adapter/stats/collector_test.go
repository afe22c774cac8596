package stats

import (
	"testing"

	"github.com/thushan/oxide/internal/core/domain"
	"github.com/thushan/oxide/internal/core/ports"
)

func TestCollectorMergesCounters(t *testing.T) {
	c := NewCollector(nil)

	c.Merge(ports.ControlMessage{Kind: ports.MsgCounter, TCPCounterClient: 3, TCPCounterServer: 2, TXCounter: 5})
	c.Merge(ports.ControlMessage{Kind: ports.MsgCounter, TCPCounterClient: 1, TXCounter: 1})
	c.Merge(ports.ControlMessage{Kind: ports.MsgEstablished})

	snap := c.Snapshot()
	if snap.TCPCounterClient != 4 || snap.TCPCounterServer != 2 || snap.TXCounter != 6 {
		t.Fatalf("unexpected merged counters: %+v", snap)
	}
}

func TestCollectorMergeIgnoresRecordsInCounters(t *testing.T) {
	c := NewCollector(nil)

	conn := &domain.Connection{ClientKey: domain.NewClientKey([]byte{10, 0, 0, 2}, []byte{10, 0, 0, 1}, 1, 80)}
	conn.Cause = domain.CauseClientFin

	c.Merge(ports.ControlMessage{Kind: ports.MsgEstablished, Record: conn})
	c.Merge(ports.ControlMessage{Kind: ports.MsgCRecords, Record: conn})

	snap := c.Snapshot()
	if snap.TCPCounterClient != 0 || snap.TCPCounterServer != 0 || snap.TXCounter != 0 {
		t.Fatalf("connection-record messages should not affect counters, got %+v", snap)
	}
}

func TestCollectorTracksSetupAndHoldSamples(t *testing.T) {
	c := NewCollector(nil)

	c.RecordEstablished(150)
	c.RecordEstablished(200)
	c.RecordRelease(5000, domain.CauseClientFin)
	c.RecordRelease(7000, domain.CauseTimeout)

	snap := c.Snapshot()
	if snap.SetupSamples != 2 {
		t.Errorf("expected 2 setup samples, got %d", snap.SetupSamples)
	}
	if snap.HoldSamples != 2 {
		t.Errorf("expected 2 hold samples, got %d", snap.HoldSamples)
	}
	if snap.ReleasesByCause[domain.CauseClientFin] != 1 || snap.ReleasesByCause[domain.CauseTimeout] != 1 {
		t.Errorf("unexpected release cause tally: %+v", snap.ReleasesByCause)
	}
}
