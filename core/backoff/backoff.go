package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy describes an exponential reconnect delay with multiplicative jitter.
// It holds no state; the attempt counter lives with the caller.
type Policy struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
	// Jitter is the fraction of the base delay added at random, in [0,1].
	Jitter float64
}

// Default returns the policy used for server reconnects.
func Default() Policy {
	return Policy{
		Initial: time.Second,
		Max:     30 * time.Second,
		Factor:  2,
		Jitter:  0.25,
	}
}

// Delay computes the delay before the given reconnect attempt. Attempts are
// 1-based; values below 1 are treated as attempt 1. When rng is nil the
// shared package source is used.
func (p Policy) Delay(attempt int, rng *rand.Rand) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	var u float64
	if rng != nil {
		u = rng.Float64()
	} else {
		u = rand.Float64()
	}
	raw := float64(p.Initial) * math.Pow(p.Factor, float64(attempt-1)) * (1 + p.Jitter*u)
	d := time.Duration(math.Round(raw))
	if d > p.Max {
		d = p.Max
	}
	return d
}
