package audio

// SplitFrames cuts a mu-law byte stream into fixed-size frames for the
// telephony leg. The trailing partial frame, if any, is padded with mu-law
// silence so every emitted frame has exactly frameSize bytes.
func SplitFrames(mulaw []byte, frameSize int) [][]byte {
	if frameSize < 1 || len(mulaw) == 0 {
		return nil
	}

	frames := make([][]byte, 0, (len(mulaw)+frameSize-1)/frameSize)
	for off := 0; off < len(mulaw); off += frameSize {
		end := off + frameSize
		if end <= len(mulaw) {
			frames = append(frames, mulaw[off:end])
			continue
		}
		frame := make([]byte, frameSize)
		n := copy(frame, mulaw[off:])
		for i := n; i < frameSize; i++ {
			frame[i] = MuLawSilence
		}
		frames = append(frames, frame)
	}
	return frames
}
