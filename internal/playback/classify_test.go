package playback

import (
	"errors"
	"testing"
	"time"

	"github.com/spotcast/spotcast/pkg/types"
)

func TestClassifyEngineError(t *testing.T) {
	cases := []struct {
		name      string
		text      string
		category  types.ErrorCategory
		retryable bool
	}{
		{"Timeout", "i/o timeout while reading stream", types.CategoryTimeout, true},
		{"DeadlineExceeded", "context deadline exceeded", types.CategoryTimeout, true},
		{"ConnectionRefused", "dial tcp: connection refused", types.CategoryNetwork, true},
		{"DNSFailure", "lookup stream.example.com: no such host", types.CategoryNetwork, true},
		{"UnexpectedEOF", "unexpected EOF", types.CategoryNetwork, true},
		{"Interrupted", "loading interrupted by caller", types.CategoryInterrupted, true},
		{"Cancelled", "context canceled", types.CategoryInterrupted, true},
		{"Forbidden", "bad status: 403 Forbidden", types.CategoryAccessDenied, false},
		{"NotFound", "bad status: 404 Not Found", types.CategoryNotFound, false},
		{"BadCodec", "mp3: failed to decode frame header", types.CategoryFormat, false},
		{"Unsupported", "unsupported sample rate", types.CategoryFormat, false},
		{"Unknown", "something nobody anticipated", types.CategoryUnknown, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classifyEngineError(errors.New(tc.text))
			if got.Category != tc.category {
				t.Errorf("category: expected %s, got %s", tc.category, got.Category)
			}
			if got.Retryable != tc.retryable {
				t.Errorf("retryable: expected %v, got %v", tc.retryable, got.Retryable)
			}
		})
	}

	t.Run("NilError", func(t *testing.T) {
		if classifyEngineError(nil) != nil {
			t.Error("nil error must classify to nil")
		}
	})
}

func TestEstimateBufferDepth(t *testing.T) {
	t.Run("LiveSynthesisGrowsWithPlayTime", func(t *testing.T) {
		if got := estimateBufferDepth(false, 0, 0, 0, 3*time.Second); got != 3*time.Second {
			t.Errorf("expected 3s synthesized depth, got %v", got)
		}
	})

	t.Run("LiveSynthesisCapped", func(t *testing.T) {
		if got := estimateBufferDepth(false, 0, 0, 0, time.Hour); got != liveBufferCap {
			t.Errorf("expected cap %v, got %v", liveBufferCap, got)
		}
	})

	t.Run("LiveAdvancingPositionStaysSynthesized", func(t *testing.T) {
		// Real stream decoders mirror bufferedPosition == position; an
		// advancing position means data flows and the delta must be ignored.
		got := estimateBufferDepth(false, 10*time.Second, 9*time.Second, 10*time.Second, time.Hour)
		if got != liveBufferCap {
			t.Errorf("expected cap %v for a flowing stream, got %v", liveBufferCap, got)
		}
	})

	t.Run("LiveFrozenPositionIsStarved", func(t *testing.T) {
		got := estimateBufferDepth(false, 10*time.Second, 10*time.Second, 10*time.Second, time.Hour)
		if got != 0 {
			t.Errorf("expected 0 for a frozen stream position, got %v", got)
		}
	})

	t.Run("LocalUsesTrueDelta", func(t *testing.T) {
		if got := estimateBufferDepth(true, 10*time.Second, 0, 17*time.Second, time.Hour); got != 7*time.Second {
			t.Errorf("expected 7s delta, got %v", got)
		}
	})

	t.Run("LocalDeltaNeverNegative", func(t *testing.T) {
		if got := estimateBufferDepth(true, 10*time.Second, 0, 8*time.Second, time.Hour); got != 0 {
			t.Errorf("expected clamped 0, got %v", got)
		}
	})

	t.Run("LiveFrozenInsideStartupWindowStaysSynthesized", func(t *testing.T) {
		// The engine can sit at a low position while the first frames
		// decode; that is not starvation yet.
		if got := estimateBufferDepth(false, time.Second, time.Second, time.Second, 4*time.Second); got != 4*time.Second {
			t.Errorf("expected synthesized 4s, got %v", got)
		}
	})
}
