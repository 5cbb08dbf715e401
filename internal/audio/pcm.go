// Package audio provides PCM helpers for the inbound carrier stream
package audio

import (
	"encoding/binary"
	"math"
)

// Decimate24kTo16k downsamples 24kHz signed 16-bit little-endian PCM to
// 16kHz by dropping every third sample. A trailing partial sample is
// discarded. Good enough for speech; STT providers do not need an
// anti-aliasing filter at these rates.
func Decimate24kTo16k(pcm []byte) []byte {
	sampleCount := len(pcm) / 2
	out := make([]byte, 0, (sampleCount*2/3)*2)

	for i := 0; i < sampleCount; i++ {
		if i%3 == 2 {
			continue
		}
		out = append(out, pcm[i*2], pcm[i*2+1])
	}
	return out
}

// CalculateRMS computes the root mean square level of signed 16-bit
// little-endian PCM, useful for silence detection and level logging
func CalculateRMS(pcm []byte) float64 {
	if len(pcm) < 2 {
		return 0
	}

	var sum float64
	sampleCount := len(pcm) / 2

	for i := 0; i < sampleCount; i++ {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		sum += float64(sample) * float64(sample)
	}

	return math.Sqrt(sum / float64(sampleCount))
}

// IsSilence reports whether the frame's RMS level is below the threshold
func IsSilence(pcm []byte, threshold float64) bool {
	return CalculateRMS(pcm) < threshold
}
