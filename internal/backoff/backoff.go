// Package backoff computes bounded, jittered exponential retry delays.
// A Policy is stateless apart from its jitter source and is safe for concurrent use.
package backoff

import (
	"math/rand/v2"
	"time"
)

// Retry delay bounds
const (
	// Base is the delay unit doubled per attempt
	Base = time.Second
	// MaxDelay caps every computed delay
	MaxDelay = 30 * time.Second
	// MaxJitter is the exclusive upper bound of the random jitter
	MaxJitter = time.Second
	// maxExponent caps the doubling
	maxExponent = 5
)

// DefaultMaxAttempts is the retry ceiling when none is configured
const DefaultMaxAttempts = 3

// JitterFunc returns a jitter in [0, MaxJitter)
type JitterFunc func() time.Duration

// Policy decides whether a failed task is retried and after how long
type Policy struct {
	MaxAttempts int
	jitter      JitterFunc
}

// NewPolicy creates a policy with uniform random jitter
func NewPolicy(maxAttempts int) *Policy {
	return NewPolicyWithJitter(maxAttempts, func() time.Duration {
		return rand.N(MaxJitter)
	})
}

// NewPolicyWithJitter creates a policy with a caller-provided jitter source
func NewPolicyWithJitter(maxAttempts int, jitter JitterFunc) *Policy {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Policy{MaxAttempts: maxAttempts, jitter: jitter}
}

// ShouldRetry reports whether a task that has now failed attempts times gets another try
func (p *Policy) ShouldRetry(attempts int) bool {
	return attempts < p.MaxAttempts
}

// Next returns the delay before retrying a task that has failed attempts times
func (p *Policy) Next(attempts int) time.Duration {
	return Delay(attempts, p.jitter())
}

// Delay returns min(MaxDelay, Base * 2^min(attempts, 5) + jitter)
func Delay(attempts int, jitter time.Duration) time.Duration {
	exp := attempts
	if exp < 0 {
		exp = 0
	}
	if exp > maxExponent {
		exp = maxExponent
	}
	d := Base*time.Duration(1<<exp) + jitter
	if d > MaxDelay {
		return MaxDelay
	}
	return d
}
