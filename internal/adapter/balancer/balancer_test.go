package balancer

import (
	"testing"

	"github.com/thushan/oxide/internal/core/ports"
)

func targets(n int) []ports.Target {
	ts := make([]ports.Target, n)
	for i := range ts {
		ts[i] = ports.Target{ID: string(rune('a' + i)), Index: i}
	}
	return ts
}

func TestRoundRobinCyclesEvenly(t *testing.T) {
	rr := NewRoundRobinSelector()
	ts := targets(3)

	seen := map[string]int{}
	for i := 0; i < 9; i++ {
		target, ok := rr.Select(ts)
		if !ok {
			t.Fatal("expected a target")
		}
		seen[target.ID]++
	}

	for _, id := range []string{"a", "b", "c"} {
		if seen[id] != 3 {
			t.Errorf("target %s selected %d times, want 3", id, seen[id])
		}
	}
}

func TestRoundRobinEmpty(t *testing.T) {
	rr := NewRoundRobinSelector()
	if _, ok := rr.Select(nil); ok {
		t.Error("expected no target from empty set")
	}
}

func TestLeastConnectionsPicksIdle(t *testing.T) {
	lc := NewLeastConnectionsSelector()
	ts := targets(3)

	lc.IncrementConnections("a")
	lc.IncrementConnections("a")
	lc.IncrementConnections("b")

	selected, ok := lc.Select(ts)
	if !ok || selected.ID != "c" {
		t.Fatalf("expected c (0 connections), got %+v", selected)
	}
}

func TestLeastConnectionsDecrementFloor(t *testing.T) {
	lc := NewLeastConnectionsSelector()
	lc.DecrementConnections("a")
	if got := lc.GetConnectionStats()["a"]; got != 0 {
		t.Errorf("decrementing below zero got %d, want 0", got)
	}
}

func TestPrioritySelectsHighestTier(t *testing.T) {
	p := NewPrioritySelector()
	ts := []ports.Target{
		{ID: "low", Priority: 1, Weight: 1},
		{ID: "high", Priority: 10, Weight: 1},
	}

	selected, ok := p.Select(ts)
	if !ok || selected.ID != "high" {
		t.Fatalf("expected high priority target, got %+v", selected)
	}
}

func TestPriorityTieBreaksWithinTier(t *testing.T) {
	p := NewPrioritySelector()
	ts := []ports.Target{
		{ID: "a", Priority: 5, Weight: 1},
		{ID: "b", Priority: 5, Weight: 1},
	}

	selected, ok := p.Select(ts)
	if !ok {
		t.Fatal("expected a target")
	}
	if selected.ID != "a" && selected.ID != "b" {
		t.Fatalf("unexpected target %+v", selected)
	}
}

func TestFactoryCreatesKnownStrategies(t *testing.T) {
	f := NewFactory()
	for _, name := range []string{DefaultBalancerPriority, DefaultBalancerRoundRobin, DefaultBalancerLeastConnections} {
		if _, err := f.Create(name); err != nil {
			t.Errorf("Create(%s) failed: %v", name, err)
		}
	}
}

func TestFactoryUnknownStrategy(t *testing.T) {
	f := NewFactory()
	if _, err := f.Create("nonexistent"); err == nil {
		t.Error("expected error for unknown strategy")
	}
}
