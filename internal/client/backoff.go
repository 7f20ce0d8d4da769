package client

import (
	"math"
	"math/rand"
	"time"
)

// BackoffConfig shapes the wait between dial attempts.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Delay returns the wait after failed attempt n (1-based): InitialDelay
// grown by Multiplier per extra attempt and capped at MaxDelay. With Jitter
// the result is scaled into [0.5, 1.5); a nil rng scales by exactly 0.5.
func (b BackoffConfig) Delay(n int, rng *rand.Rand) time.Duration {
	if b.InitialDelay <= 0 {
		return 0
	}
	growth := math.Max(b.Multiplier, 1)
	d := float64(b.InitialDelay)
	if n > 1 {
		d *= math.Pow(growth, float64(n-1))
	}
	if b.MaxDelay > 0 {
		d = math.Min(d, float64(b.MaxDelay))
	}
	if !b.Jitter || n <= 1 {
		return time.Duration(d)
	}
	scale := 0.5
	if rng != nil {
		scale += rng.Float64()
	}
	return time.Duration(d * scale)
}
