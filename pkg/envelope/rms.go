// Package envelope turns an audio output stream into a per-frame loudness
// scalar that drives the mouth.
package envelope

import "math"

// WindowSize is the number of time-domain samples each RMS is computed over.
const WindowSize = 256

// RMS returns the root-mean-square amplitude of 8-bit unsigned samples
// centred on 128. Each sample v maps to (v-128)/128. The result is in [0,1].
// An empty window is silent.
func RMS(samples []uint8) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range samples {
		x := (float64(v) - 128) / 128
		sum += x * x
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Quantize maps a signed 16-bit PCM sample onto the unsigned 8-bit
// time-domain scale RMS expects.
func Quantize(v int16) uint8 {
	return uint8((int(v) >> 8) + 128)
}
