package playback

import (
	"strings"

	"github.com/spotcast/spotcast/pkg/types"
)

// classifyEngineError maps raw engine error text onto the closed category
// set. Network, timeout and interrupted failures are retryable; format and
// HTTP 4xx failures are not retried automatically (the session gets one shot
// at failover instead). Unrecognized errors default to retryable: for
// unattended operation a spurious retry beats a silent stop.
func classifyEngineError(err error) *types.PlaybackError {
	if err == nil {
		return nil
	}

	text := strings.ToLower(err.Error())

	switch {
	case containsAny(text, "timeout", "timed out", "deadline exceeded"):
		return &types.PlaybackError{Category: types.CategoryTimeout, Message: err.Error(), Retryable: true}
	case containsAny(text, "interrupted", "cancel", "aborted"):
		return &types.PlaybackError{Category: types.CategoryInterrupted, Message: err.Error(), Retryable: true}
	case containsAny(text, "403", "401", "forbidden", "access denied", "unauthorized"):
		return &types.PlaybackError{Category: types.CategoryAccessDenied, Message: err.Error(), Retryable: false}
	case containsAny(text, "404", "not found", "410", "gone"):
		return &types.PlaybackError{Category: types.CategoryNotFound, Message: err.Error(), Retryable: false}
	case containsAny(text, "decode", "codec", "format", "invalid data", "unsupported"):
		return &types.PlaybackError{Category: types.CategoryFormat, Message: err.Error(), Retryable: false}
	case containsAny(text, "connection", "network", "dns", "refused", "reset", "unreachable", "no such host", "broken pipe", "eof"):
		return &types.PlaybackError{Category: types.CategoryNetwork, Message: err.Error(), Retryable: true}
	default:
		return &types.PlaybackError{Category: types.CategoryUnknown, Message: err.Error(), Retryable: true}
	}
}

func containsAny(text string, needles ...string) bool {
	for _, needle := range needles {
		if strings.Contains(text, needle) {
			return true
		}
	}
	return false
}
