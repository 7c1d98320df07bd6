package backoff

import (
	"math/rand"
	"testing"
	"time"
)

func TestDelayWithinJitterWindow(t *testing.T) {
	p := Default()
	rng := rand.New(rand.NewSource(42))
	for attempt := 1; attempt <= 5; attempt++ {
		base := time.Second
		for i := 1; i < attempt; i++ {
			base *= 2
		}
		lo := base
		hi := time.Duration(float64(base) * 1.25)
		if lo > p.Max {
			lo = p.Max
		}
		if hi > p.Max {
			hi = p.Max
		}
		for i := 0; i < 100; i++ {
			d := p.Delay(attempt, rng)
			if d < lo || d > hi {
				t.Fatalf("attempt %d: delay %v outside [%v, %v]", attempt, d, lo, hi)
			}
		}
	}
}

func TestDelayCapped(t *testing.T) {
	p := Default()
	rng := rand.New(rand.NewSource(1))
	for _, attempt := range []int{6, 7, 20} {
		if d := p.Delay(attempt, rng); d != 30*time.Second {
			t.Errorf("attempt %d: expected cap 30s, got %v", attempt, d)
		}
	}
}

func TestDelayDeterministicWithoutJitter(t *testing.T) {
	p := Policy{Initial: time.Second, Max: 30 * time.Second, Factor: 2}
	expected := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	for i, exp := range expected {
		if d := p.Delay(i+1, nil); d != exp {
			t.Errorf("attempt %d: expected %v got %v", i+1, exp, d)
		}
	}
}

func TestDelayAttemptZeroTreatedAsOne(t *testing.T) {
	p := Policy{Initial: time.Second, Max: 30 * time.Second, Factor: 2}
	if d := p.Delay(0, nil); d != time.Second {
		t.Errorf("expected 1s for attempt 0, got %v", d)
	}
}
