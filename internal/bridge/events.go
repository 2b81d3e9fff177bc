package bridge

import "fmt"

// Media stream event names as sent by the carrier.
const (
	eventConnected = "connected"
	eventStart     = "start"
	eventMedia     = "media"
	eventStop      = "stop"
)

// mediaEvent is the JSON envelope on the telephony leg, both directions.
type mediaEvent struct {
	Event     string        `json:"event"`
	StreamSID string        `json:"streamSid,omitempty"`
	Start     *startPayload `json:"start,omitempty"`
	Media     *mediaPayload `json:"media,omitempty"`
}

// startPayload arrives once per stream and binds the media stream to a call.
type startPayload struct {
	StreamSID string `json:"streamSid"`
	CallSID   string `json:"callSid"`
}

// mediaPayload carries one base64-encoded mu-law frame.
type mediaPayload struct {
	Payload string `json:"payload"`
}

// Leg names used in bridge errors and drop metrics.
const (
	LegTelephony = "telephony"
	LegAI        = "ai"
)

// BridgeError reports which leg of a session failed. The engine treats any
// bridge error like a carrier-reported call failure.
type BridgeError struct {
	Leg string
	Err error
}

func (e *BridgeError) Error() string {
	return fmt.Sprintf("bridge %s leg failed: %v", e.Leg, e.Err)
}

func (e *BridgeError) Unwrap() error {
	return e.Err
}
