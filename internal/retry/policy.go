// Package retry computes reconnection delays for the session machine.
//
// The policy is exponential backoff with jitter:
//
//	delay = Base * 2^min(attempt-1, 5) * (1 + jitter), jitter in [0, 0.3)
//
// capped at Max. A fixed-delay policy was the alternative; backoff was chosen
// because the client retries forever and a fixed 5s loop hammers a dead
// backend for the whole outage.
package retry

import (
	"math/rand"
	"time"
)

const (
	DefaultBase = 5 * time.Second
	DefaultMax  = 5 * time.Minute

	maxExponent = 5
	jitterSpan  = 0.3
)

// Policy is pure and does no I/O; NextDelay is safe to call from anywhere.
type Policy struct {
	Base time.Duration
	Max  time.Duration

	rand *rand.Rand
}

func NewPolicy(base, max time.Duration) *Policy {
	if base <= 0 {
		base = DefaultBase
	}
	if max <= 0 {
		max = DefaultMax
	}
	return &Policy{Base: base, Max: max}
}

// NewSeededPolicy pins the jitter source, for deterministic tests.
func NewSeededPolicy(base, max time.Duration, seed int64) *Policy {
	p := NewPolicy(base, max)
	p.rand = rand.New(rand.NewSource(seed))
	return p
}

// NextDelay returns the delay before retry attempt number attempt (1-based).
// The pre-jitter schedule is non-decreasing in attempt and never exceeds Max.
func (p *Policy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	exp := attempt - 1
	if exp > maxExponent {
		exp = maxExponent
	}

	delay := p.Base * time.Duration(1<<exp)
	if delay > p.Max {
		delay = p.Max
	}

	jitter := p.jitter()
	delay = time.Duration(float64(delay) * (1 + jitter))
	if delay > p.Max {
		delay = p.Max
	}
	return delay
}

// CanRetry always reports true: the client must keep retrying unattended.
// Giving up is only ever an explicit disconnect by the caller.
func (p *Policy) CanRetry(attempt int) bool {
	return true
}

func (p *Policy) jitter() float64 {
	if p.rand != nil {
		return p.rand.Float64() * jitterSpan
	}
	return rand.Float64() * jitterSpan
}
