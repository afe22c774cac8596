package timerwheel

import "testing"

const testResolution = 16 * MillisToCycles

// eventTiming mirrors the upstream wheel's reference scenario: 128 items
// scheduled at 8, 24, 40, ... ms (16ms resolution), each expected to drain
// within its own 16ms bucket; then a single item scheduled 5000ms out to
// exercise the lapped-wheel overrun path, driven by 2ms ticks throughout.
func TestEventTiming(t *testing.T) {
	start := uint64(1_000_000_000)
	wheel := New[uint16](start, 128, testResolution, 128)

	for j := uint16(0); j < 128; j++ {
		nMillis := j*16 + 8
		wheel.Schedule(start+uint64(nMillis)*MillisToCycles, nMillis)
	}

	now := start
	tickStep := 2 * MillisToCycles
	for i := 0; i < 1024; i++ {
		now += tickStep
		drained, more := wheel.Tick(now)
		for more || len(drained) > 0 {
			if len(drained) > 0 {
				event := drained[0]
				got := (now - start) / testResolution
				want := uint64(event / 16)
				if got != want {
					t.Fatalf("event %d fired in bucket %d, want %d", event, got, want)
				}
			}
			if !more {
				break
			}
			drained, more = wheel.Tick(now)
		}
	}

	wheel.Schedule(now+5000*MillisToCycles, 5000)

	foundIt := false
	for i := 0; i < 4096; i++ {
		now += tickStep
		drained, more := wheel.Tick(now)
		for {
			for _, event := range drained {
				if event == 5000 {
					foundIt = true
				}
			}
			if !more {
				break
			}
			drained, more = wheel.Tick(now)
		}
		if foundIt {
			break
		}
	}
	if !foundIt {
		t.Fatal("lapped item never fired")
	}
}

func TestScheduleRoundTrip(t *testing.T) {
	start := uint64(500_000_000)
	wheel := New[int](start, 128, testResolution, 8)

	deadline := start + 100*MillisToCycles
	wheel.Schedule(deadline, 42)

	now := start
	for now < deadline+testResolution*2 {
		now += testResolution
		drained, _ := wheel.Tick(now)
		if len(drained) > 0 {
			if drained[0] != 42 {
				t.Fatalf("got %d, want 42", drained[0])
			}
			return
		}
	}
	t.Fatal("item never drained")
}

func TestMaxTimeoutCycles(t *testing.T) {
	wheel := New[int](0, 128, testResolution, 1)
	want := uint64(127) * testResolution
	if got := wheel.MaxTimeoutCycles(); got != want {
		t.Fatalf("got %d, want %d", got, want)
	}
}
