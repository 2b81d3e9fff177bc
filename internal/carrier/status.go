package carrier

import "net/http"

// Status tokens reported by the carrier over the lifetime of a call.
const (
	StatusQueued     = "queued"
	StatusInitiated  = "initiated"
	StatusRinging    = "ringing"
	StatusAnswered   = "answered"
	StatusInProgress = "in-progress"
	StatusCompleted  = "completed"
	StatusBusy       = "busy"
	StatusNoAnswer   = "no-answer"
	StatusFailed     = "failed"
	StatusCanceled   = "canceled"
)

// StatusCallbackEvents are the lifecycle events requested when placing a
// call, delivered to the status webhook as they occur.
var StatusCallbackEvents = []string{"initiated", "ringing", "answered", "completed"}

// StatusUpdate is one carrier webhook notification.
type StatusUpdate struct {
	CallSID string
	Status  string
}

// ParseStatusCallback extracts the call SID and status token from a carrier
// status webhook request. The carrier posts application/x-www-form-urlencoded
// bodies with CallSid and CallStatus fields.
func ParseStatusCallback(r *http.Request) (StatusUpdate, bool) {
	if err := r.ParseForm(); err != nil {
		return StatusUpdate{}, false
	}

	update := StatusUpdate{
		CallSID: r.PostFormValue("CallSid"),
		Status:  r.PostFormValue("CallStatus"),
	}
	if update.CallSID == "" || update.Status == "" {
		return StatusUpdate{}, false
	}
	return update, true
}
