package types

import "fmt"

// ApiError is the structured form of a configuration API failure. FromBackend
// distinguishes a message the server actually produced (safe to show the user
// verbatim) from a transport-level failure with a generic message.
type ApiError struct {
	FromBackend bool
	Message     string
	StatusCode  int
}

func (e *ApiError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
	}
	return "api error: " + e.Message
}

// ErrorCategory is the closed set raw engine errors are mapped into.
type ErrorCategory string

const (
	CategoryNetwork      ErrorCategory = "network"
	CategoryTimeout      ErrorCategory = "timeout"
	CategoryFormat       ErrorCategory = "format"
	CategoryNotFound     ErrorCategory = "not_found"
	CategoryAccessDenied ErrorCategory = "access_denied"
	CategoryInterrupted  ErrorCategory = "interrupted"
	CategoryUnknown      ErrorCategory = "unknown"
)

type PlaybackError struct {
	Category  ErrorCategory
	Message   string
	Retryable bool
}

func (e *PlaybackError) Error() string {
	return fmt.Sprintf("playback error (%s): %s", e.Category, e.Message)
}

// HangStage names which watchdog manufactured a HangError.
type HangStage string

const (
	HangLoading    HangStage = "loading"
	HangBuffering  HangStage = "buffering"
	HangPlaying    HangStage = "playing"
	HangConnecting HangStage = "connecting"
)

// HangError is a synthetic error emitted by a watchdog when the engine claims
// activity but produces no forward progress. There is no underlying error to
// wrap; the watchdog is reporting the absence of a signal.
type HangError struct {
	Stage   HangStage
	Message string
}

func (e *HangError) Error() string {
	return fmt.Sprintf("hang detected (%s): %s", e.Stage, e.Message)
}
