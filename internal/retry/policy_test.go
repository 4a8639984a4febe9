package retry

import (
	"testing"
	"time"
)

func TestNextDelay(t *testing.T) {
	t.Run("GrowsExponentiallyUpToCap", func(t *testing.T) {
		p := NewSeededPolicy(5*time.Second, 5*time.Minute, 1)

		prev := time.Duration(0)
		for attempt := 1; attempt <= 12; attempt++ {
			d := p.NextDelay(attempt)
			if d > 5*time.Minute {
				t.Fatalf("attempt %d: delay %v exceeds cap", attempt, d)
			}
			// The base schedule doubles per attempt while jitter adds at most
			// 30%, so each delay must stay above the previous pre-jitter step.
			floor := 5 * time.Second * time.Duration(1<<min(attempt-1, 5))
			if floor > 5*time.Minute {
				floor = 5 * time.Minute
			}
			if d < floor {
				t.Errorf("attempt %d: delay %v below pre-jitter floor %v", attempt, d, floor)
			}
			if attempt > 6 && d < prev/2 {
				t.Errorf("attempt %d: delay %v collapsed from %v past the cap", attempt, d, prev)
			}
			prev = d
		}
	})

	t.Run("JitterStaysInBand", func(t *testing.T) {
		p := NewSeededPolicy(time.Second, time.Hour, 42)

		for i := 0; i < 200; i++ {
			d := p.NextDelay(1)
			if d < time.Second || d >= 1300*time.Millisecond {
				t.Fatalf("first delay %v outside [1s, 1.3s)", d)
			}
		}
	})

	t.Run("ZeroAndNegativeAttemptsClampToOne", func(t *testing.T) {
		p := NewSeededPolicy(time.Second, time.Minute, 7)

		for _, attempt := range []int{-3, 0, 1} {
			d := p.NextDelay(attempt)
			if d < time.Second || d >= 1300*time.Millisecond {
				t.Errorf("attempt %d: delay %v outside first-attempt band", attempt, d)
			}
		}
	})

	t.Run("DefaultsApplied", func(t *testing.T) {
		p := NewPolicy(0, 0)
		if p.Base != DefaultBase {
			t.Errorf("expected base %v, got %v", DefaultBase, p.Base)
		}
		if p.Max != DefaultMax {
			t.Errorf("expected max %v, got %v", DefaultMax, p.Max)
		}
	})
}

func TestCanRetry(t *testing.T) {
	p := NewPolicy(time.Second, time.Minute)

	for _, attempt := range []int{1, 10, 1000} {
		if !p.CanRetry(attempt) {
			t.Errorf("attempt %d: CanRetry must always be true", attempt)
		}
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
