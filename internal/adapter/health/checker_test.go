package health

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/thushan/oxide/internal/core/ports"
)

func TestTrackerMarksUnreachableTargetUnhealthy(t *testing.T) {
	tr := NewTracker(Config{Interval: time.Hour, Timeout: time.Second}, nil)
	tr.dial = func(ctx context.Context, network, address string) (net.Conn, error) {
		return nil, errors.New("connection refused")
	}

	target := ports.Target{ID: "backend-1", IP: [4]byte{10, 0, 0, 1}, Port: 8080}
	tr.SetTargets([]ports.Target{target})

	tr.probeAll(context.Background())

	if tr.IsHealthy("backend-1") {
		t.Error("expected backend-1 to be unhealthy after failed dial")
	}
}

func TestTrackerAssumesHealthyBeforeFirstProbe(t *testing.T) {
	tr := NewTracker(Config{}, nil)
	tr.SetTargets([]ports.Target{{ID: "backend-1"}})

	if !tr.IsHealthy("backend-1") {
		t.Error("expected optimistic healthy default before first probe")
	}
}

func TestTrackerForgetsDroppedTargets(t *testing.T) {
	tr := NewTracker(Config{}, nil)
	tr.SetTargets([]ports.Target{{ID: "a"}, {ID: "b"}})
	tr.SetTargets([]ports.Target{{ID: "a"}})

	snap := tr.Snapshot()
	if _, ok := snap["b"]; ok {
		t.Error("expected dropped target b to be forgotten")
	}
}

func TestTrackerBacksOffRepeatedlyFailingTarget(t *testing.T) {
	dials := 0
	tr := NewTracker(Config{Interval: time.Hour, Timeout: time.Second}, nil)
	tr.dial = func(ctx context.Context, network, address string) (net.Conn, error) {
		dials++
		return nil, errors.New("connection refused")
	}

	target := ports.Target{ID: "backend-1", IP: [4]byte{10, 0, 0, 1}, Port: 8080}
	tr.SetTargets([]ports.Target{target})

	tr.probe(context.Background(), target)
	tr.probe(context.Background(), target)

	if dials != 1 {
		t.Errorf("dials = %d, want 1: second probe should be suppressed by backoff", dials)
	}
}

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker()
	for i := 0; i < DefaultCircuitBreakerThreshold; i++ {
		cb.RecordFailure("x")
	}
	if !cb.IsOpen("x") {
		t.Error("expected breaker to be open after threshold failures")
	}
}

func TestCircuitBreakerResetsOnSuccess(t *testing.T) {
	cb := NewCircuitBreaker()
	cb.RecordFailure("x")
	cb.RecordSuccess("x")
	if cb.IsOpen("x") {
		t.Error("expected breaker closed after success")
	}
}
