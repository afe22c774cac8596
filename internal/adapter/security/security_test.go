package security

import (
	"testing"
	"time"
)

func TestConnectionRateLimiterAllowsUnderLimit(t *testing.T) {
	rl := NewConnectionRateLimiter(Limits{PerIPPerSecond: 100, Burst: 5}, nil)
	defer rl.Stop()

	ip := [4]byte{10, 0, 0, 1}
	for i := 0; i < 5; i++ {
		if !rl.Allow(ip) {
			t.Fatalf("expected allow within burst, rejected at iteration %d", i)
		}
	}
}

func TestConnectionRateLimiterRejectsOverBurst(t *testing.T) {
	rl := NewConnectionRateLimiter(Limits{PerIPPerSecond: 1, Burst: 1}, nil)
	defer rl.Stop()

	ip := [4]byte{10, 0, 0, 2}
	if !rl.Allow(ip) {
		t.Fatal("expected first SYN to be admitted")
	}
	if rl.Allow(ip) {
		t.Fatal("expected second immediate SYN to be rejected")
	}
}

func TestConnectionRateLimiterTracksIPsIndependently(t *testing.T) {
	rl := NewConnectionRateLimiter(Limits{PerIPPerSecond: 1, Burst: 1}, nil)
	defer rl.Stop()

	a := [4]byte{10, 0, 0, 3}
	b := [4]byte{10, 0, 0, 4}
	if !rl.Allow(a) || !rl.Allow(b) {
		t.Fatal("expected distinct client IPs to each get their own bucket")
	}
}

func TestConnectionRateLimiterGlobalCapApplies(t *testing.T) {
	rl := NewConnectionRateLimiter(Limits{GlobalPerSecond: 1, Burst: 1, PerIPPerSecond: 1000}, nil)
	defer rl.Stop()

	a := [4]byte{10, 0, 0, 5}
	b := [4]byte{10, 0, 0, 6}
	if !rl.Allow(a) {
		t.Fatal("expected first SYN across all clients to be admitted")
	}
	if rl.Allow(b) {
		t.Fatal("expected global bucket exhaustion to reject a second client's SYN")
	}
}

func TestConnectionRateLimiterDisabledWhenZero(t *testing.T) {
	rl := NewConnectionRateLimiter(Limits{}, nil)
	defer rl.Stop()

	ip := [4]byte{10, 0, 0, 7}
	for i := 0; i < 100; i++ {
		if !rl.Allow(ip) {
			t.Fatal("expected unlimited admission when no limits configured")
		}
	}
}

func TestConnectionRateLimiterCleanupEvictsIdleEntries(t *testing.T) {
	rl := NewConnectionRateLimiter(Limits{
		PerIPPerSecond:  10,
		Burst:           1,
		CleanupInterval: 10 * time.Millisecond,
		IdleTimeout:     20 * time.Millisecond,
	}, nil)
	defer rl.Stop()

	ip := [4]byte{10, 0, 0, 8}
	rl.Allow(ip)

	if _, ok := rl.ipLimiters.Load(ip); !ok {
		t.Fatal("expected limiter entry to be created")
	}

	time.Sleep(60 * time.Millisecond)

	if _, ok := rl.ipLimiters.Load(ip); ok {
		t.Error("expected idle limiter entry to be evicted")
	}
}
