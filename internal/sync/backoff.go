package sync

import (
	"math"
	"time"
)

// retryPolicy produces reconnect delays that grow geometrically with the
// number of consecutive failures. rng is a uniform sample in [0, 1); with
// Jitter > 0 the delay is spread symmetrically around the midpoint, so a
// sample of exactly 0.5 yields the undithered delay.
type retryPolicy struct {
	Base   time.Duration
	Factor float64
	Jitter float64
	Cap    time.Duration
}

func (p retryPolicy) delay(failures int, rng float64) time.Duration {
	if failures < 0 {
		failures = 0
	}
	base := p.Base
	if base <= 0 {
		base = 5 * time.Second
	}
	factor := p.Factor
	if factor <= 1 {
		factor = 2
	}
	d := float64(base) * math.Pow(factor, float64(failures))
	if j := math.Min(p.Jitter, 1); j > 0 {
		d *= 1 + (rng*2-1)*j
	}
	if p.Cap > 0 && d > float64(p.Cap) {
		d = float64(p.Cap)
	}
	return time.Duration(d)
}
