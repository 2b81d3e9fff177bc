package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrMalformedAudio indicates audio bytes that cannot be interpreted in the
// expected format (odd-length PCM-16, undecodable payloads).
var ErrMalformedAudio = errors.New("malformed audio data")

const (
	muLawBias = 0x84
	muLawClip = 32635

	// MuLawSilence is the mu-law encoding of a zero sample, used to pad
	// partial outbound frames.
	MuLawSilence = 0xFF
)

// EncodeMuLawSample compresses a single PCM-16 sample to G.711 mu-law.
// Values beyond the companding range are clipped, not wrapped.
func EncodeMuLawSample(sample int16) byte {
	var sign byte
	v := int32(sample)
	if v < 0 {
		v = -v
		sign = 0x80
	}
	if v > muLawClip {
		v = muLawClip
	}
	v += muLawBias

	exponent := 7
	for mask := int32(0x4000); exponent > 0 && v&mask == 0; exponent-- {
		mask >>= 1
	}
	mantissa := byte(v>>(uint(exponent)+3)) & 0x0F

	return ^(sign | byte(exponent)<<4 | mantissa)
}

// DecodeMuLawSample expands a single G.711 mu-law byte to PCM-16.
func DecodeMuLawSample(b byte) int16 {
	b = ^b
	sign := b & 0x80
	exponent := (b >> 4) & 0x07
	mantissa := b & 0x0F

	v := ((int32(mantissa)<<3 + muLawBias) << exponent) - muLawBias
	if sign != 0 {
		v = -v
	}
	return int16(v)
}

// EncodeMuLaw compresses PCM-16 samples to mu-law bytes, one byte per sample.
func EncodeMuLaw(samples []int16) []byte {
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = EncodeMuLawSample(s)
	}
	return out
}

// DecodeMuLaw expands mu-law bytes to PCM-16 samples, one sample per byte.
func DecodeMuLaw(data []byte) []int16 {
	out := make([]int16, len(data))
	for i, b := range data {
		out[i] = DecodeMuLawSample(b)
	}
	return out
}

// SamplesToPCM serializes PCM-16 samples as little-endian bytes.
func SamplesToPCM(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// PCMToSamples parses little-endian PCM-16 bytes into samples.
// An odd-length slice is malformed.
func PCMToSamples(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("pcm length %d is not sample-aligned: %w", len(data), ErrMalformedAudio)
	}
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out, nil
}
