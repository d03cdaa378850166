package retry

import (
	"errors"
	"math"
	"math/rand"
	"time"
)

// ErrMaxRetriesExceeded wraps the last error once the policy is exhausted.
var ErrMaxRetriesExceeded = errors.New("max retries exceeded")

// Policy describes how an operation is retried.
type Policy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// Jitter is the fraction of each delay randomised, in [0, 1].
	Jitter float64
	// RetryableFunc overrides the default classification.
	RetryableFunc func(error) bool
}

// DefaultPolicy suits best-effort calls to local infrastructure.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2,
		Jitter:       0.2,
	}
}

func (p Policy) Validate() error {
	switch {
	case p.MaxRetries < 0:
		return errors.New("max retries must not be negative")
	case p.InitialDelay < 0 || p.MaxDelay < 0:
		return errors.New("delays must not be negative")
	case p.Multiplier < 1:
		return errors.New("multiplier must be at least 1")
	case p.Jitter < 0 || p.Jitter > 1:
		return errors.New("jitter must be within [0, 1]")
	}
	return nil
}

// Backoff computes exponential delays for a policy.
type Backoff struct {
	policy Policy
	rand   func() float64
}

func NewBackoff(policy Policy) *Backoff {
	return &Backoff{policy: policy, rand: rand.Float64}
}

// Calculate returns the delay before the given attempt (1-based).
func (b *Backoff) Calculate(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(b.policy.InitialDelay) * math.Pow(b.policy.Multiplier, float64(attempt-1))
	if b.policy.MaxDelay > 0 && delay > float64(b.policy.MaxDelay) {
		delay = float64(b.policy.MaxDelay)
	}
	if b.policy.Jitter > 0 {
		delta := delay * b.policy.Jitter
		delay = delay - delta + 2*delta*b.rand()
	}
	return time.Duration(delay)
}
