package nic

import (
	"testing"

	"github.com/thushan/oxide/internal/adapter/kni"
	"github.com/thushan/oxide/internal/core/domain"
	"github.com/thushan/oxide/internal/engine/classifier"
	"github.com/thushan/oxide/internal/engine/proxystate"
)

func TestRingInjectAndRecv(t *testing.T) {
	r := NewRing(4, 4)

	if !r.Inject(classifier.Frame{SrcPort: 1}) {
		t.Fatal("expected inject to succeed with room in the buffer")
	}
	if !r.Inject(classifier.Frame{SrcPort: 2}) {
		t.Fatal("expected second inject to succeed")
	}

	frames := r.Recv(10)
	if len(frames) != 2 {
		t.Fatalf("recv = %d frames, want 2", len(frames))
	}
	if frames[0].SrcPort != 1 || frames[1].SrcPort != 2 {
		t.Fatalf("frames out of order: %+v", frames)
	}

	if len(r.Recv(10)) != 0 {
		t.Fatal("expected empty ring after drain")
	}
}

func TestRingInjectDropsWhenFull(t *testing.T) {
	r := NewRing(1, 1)
	if !r.Inject(classifier.Frame{}) {
		t.Fatal("first inject should succeed")
	}
	if r.Inject(classifier.Frame{}) {
		t.Fatal("second inject should be dropped once the buffer is full")
	}
}

func TestRingSendCopiesPayloadAndDrainReturnsIt(t *testing.T) {
	r := NewRing(1, 1)
	conn := &domain.Connection{}
	original := []byte("hello")

	r.Send(true, conn, proxystate.Segment{Payload: original})

	records := r.DrainTx(10)
	if len(records) != 1 {
		t.Fatalf("drain = %d records, want 1", len(records))
	}
	if string(records[0].Seg.Payload) != "hello" {
		t.Fatalf("payload = %q, want %q", records[0].Seg.Payload, "hello")
	}

	// Mutating the original slice must not affect the copy the ring took.
	original[0] = 'X'
	if records[0].Seg.Payload[0] == 'X' {
		t.Fatal("ring should have copied the payload, not aliased it")
	}

	r.Release(records[0])
}

func TestRingSendWithoutPayload(t *testing.T) {
	r := NewRing(1, 1)
	r.Send(false, &domain.Connection{}, proxystate.Segment{})

	records := r.DrainTx(10)
	if len(records) != 1 {
		t.Fatalf("drain = %d records, want 1", len(records))
	}
	if len(records[0].Seg.Payload) != 0 {
		t.Fatalf("expected empty payload, got %q", records[0].Seg.Payload)
	}
	r.Release(records[0])
}

func TestControlRingEnqueueAndDrain(t *testing.T) {
	c := NewControlRing(2)
	if !c.Enqueue(kni.Request{Kind: kni.RequestLinkUp}) {
		t.Fatal("expected enqueue to succeed")
	}

	reqs := c.Drain(10)
	if len(reqs) != 1 || reqs[0].Kind != kni.RequestLinkUp {
		t.Fatalf("unexpected drained requests: %+v", reqs)
	}

	c.Respond(kni.Request{Kind: kni.RequestLinkUp}, nil)
}
