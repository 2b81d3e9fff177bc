// Package carrier places outbound calls through a Twilio-compatible REST
// API and interprets the status tokens the carrier reports back. Without
// credentials it runs in simulated mode: placements succeed locally with a
// synthetic call SID and never touch the network.
package carrier
