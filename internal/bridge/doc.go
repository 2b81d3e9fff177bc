// Package bridge connects the two live audio legs of a call: the carrier's
// JSON-framed media stream over a websocket, and the realtime AI speech
// connection. Each call gets one session that transcodes inbound mu-law
// audio up to the AI sample rate and synthesized PCM back down into padded
// mu-law frames. Neither leg is ever allowed to block the other; frames
// that cannot be forwarded are dropped and counted.
package bridge
