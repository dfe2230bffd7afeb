package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDelay(t *testing.T) {
	tests := []struct {
		attempts int
		jitter   time.Duration
		want     time.Duration
	}{
		{attempts: 0, jitter: 0, want: time.Second},
		{attempts: 1, jitter: 0, want: 2 * time.Second},
		{attempts: 1, jitter: 999 * time.Millisecond, want: 2999 * time.Millisecond},
		{attempts: 2, jitter: 250 * time.Millisecond, want: 4250 * time.Millisecond},
		{attempts: 4, jitter: 0, want: 16 * time.Second},
		{attempts: 5, jitter: 0, want: 30 * time.Second},
		{attempts: 9, jitter: 500 * time.Millisecond, want: 30 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Delay(tt.attempts, tt.jitter), "attempts=%d jitter=%s", tt.attempts, tt.jitter)
	}
}

func TestPolicy_NextIsMonotonicAndBounded(t *testing.T) {
	p := NewPolicy(DefaultMaxAttempts)
	for run := 0; run < 200; run++ {
		prev := time.Duration(0)
		for attempts := 1; attempts <= 5; attempts++ {
			d := p.Next(attempts)
			assert.GreaterOrEqual(t, d, prev)
			assert.LessOrEqual(t, d, MaxDelay)
			prev = d
		}
	}
}

func TestPolicy_ShouldRetry(t *testing.T) {
	p := NewPolicyWithJitter(3, func() time.Duration { return 0 })
	assert.True(t, p.ShouldRetry(1))
	assert.True(t, p.ShouldRetry(2))
	assert.False(t, p.ShouldRetry(3))
	assert.False(t, p.ShouldRetry(4))

	assert.Equal(t, DefaultMaxAttempts, NewPolicy(0).MaxAttempts)
}
