package engine

import "github.com/sjin4861/deepcatch-agent/internal/carrier"

// CallState is the engine-side lifecycle of one call.
type CallState string

const (
	StatePending    CallState = "pending"
	StatePreparing  CallState = "preparing"
	StateDialing    CallState = "dialing"
	StateRinging    CallState = "ringing"
	StateConnected  CallState = "connected"
	StateStreaming  CallState = "streaming"
	StateExtracting CallState = "extracting"
	StateCompleted  CallState = "completed"
	StateFailed     CallState = "failed"
	StateNoAnswer   CallState = "no_answer"
	StateCanceled   CallState = "canceled"
)

// Terminal reports whether the state ends the call.
func (s CallState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateNoAnswer, StateCanceled:
		return true
	}
	return false
}

// stateForStatus maps a carrier status token onto a CallState. The second
// return is false for unknown tokens, which leave the state unchanged so new
// carrier vocabulary cannot break the engine.
func stateForStatus(status string) (CallState, bool) {
	switch status {
	case carrier.StatusQueued, carrier.StatusInitiated, "dialing":
		return StateDialing, true
	case carrier.StatusRinging:
		return StateRinging, true
	case carrier.StatusAnswered, carrier.StatusInProgress, carrier.StatusCompleted:
		return StateConnected, true
	case carrier.StatusNoAnswer, carrier.StatusBusy:
		return StateNoAnswer, true
	case carrier.StatusFailed, carrier.StatusCanceled:
		return StateFailed, true
	}
	return "", false
}
