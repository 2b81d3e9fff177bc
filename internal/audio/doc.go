// Package audio handles audio format conversion for the call bridge.
// It implements G.711 mu-law companding, linear PCM-16 resampling between
// the telephony and AI sample rates, and fixed-size outbound frame splitting.
package audio
