package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicyDelay(t *testing.T) {
	policy := retryPolicy{Base: 5 * time.Second, Factor: 2, Jitter: 0.1, Cap: 5 * time.Minute}

	tests := []struct {
		name     string
		failures int
		rng      float64
		want     time.Duration
	}{
		{name: "first failure at midpoint", failures: 0, rng: 0.5, want: 5 * time.Second},
		{name: "second failure doubles", failures: 1, rng: 0.5, want: 10 * time.Second},
		{name: "third failure doubles again", failures: 2, rng: 0.5, want: 20 * time.Second},
		{name: "jitter spreads low", failures: 0, rng: 0, want: 4500 * time.Millisecond},
		{name: "jitter spreads high", failures: 0, rng: 1, want: 5500 * time.Millisecond},
		{name: "capped at ceiling", failures: 20, rng: 0.5, want: 5 * time.Minute},
		{name: "negative failures clamp to base", failures: -3, rng: 0.5, want: 5 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, policy.delay(tt.failures, tt.rng))
		})
	}
}

func TestRetryPolicyZeroValueDefaults(t *testing.T) {
	var policy retryPolicy

	assert.Equal(t, 5*time.Second, policy.delay(0, 0.5))
	assert.Equal(t, 10*time.Second, policy.delay(1, 0.5))
	// No jitter and no cap when unset.
	assert.Equal(t, policy.delay(0, 0), policy.delay(0, 1))
}
