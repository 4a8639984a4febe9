package playback

import "time"

const (
	// Grace window after playback starts in which a frozen position is still
	// normal: the engine reports ~0 until the first frames decode.
	startupWindow = 2 * time.Second

	// Ceiling for the synthesized live-buffer estimate.
	liveBufferCap = 5 * time.Second
)

// estimateBufferDepth derives the buffer depth for health checks.
//
// Local files have a real answer: decoded length minus play position. Live
// streams do not; the engine cannot see the demuxer's buffer and reports
// bufferedPosition == position, so the delta is always zero there. Depth for
// live is synthesized instead: a position that advanced since the previous
// check means data is flowing, and the estimate ramps with playing time up to
// a low cap. A position frozen past the startup window means the decoder is
// starved and the depth is zero. Known approximation: a live stream stalling
// inside the startup window is not caught here; the stale-buffer sweep is the
// backstop.
func estimateBufferDepth(local bool, position, lastPosition, buffered, playingFor time.Duration) time.Duration {
	if local {
		depth := buffered - position
		if depth < 0 {
			depth = 0
		}
		return depth
	}

	if position == lastPosition && position > startupWindow {
		return 0
	}
	if playingFor < 0 {
		return 0
	}
	if playingFor > liveBufferCap {
		return liveBufferCap
	}
	return playingFor
}
