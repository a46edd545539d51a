package realtime

import (
	"github.com/teslashibe/go-avatar/pkg/audioio"
)

// pumpFrames reads mic chunks and calls emit with fixed-size frames until
// the stream closes or done is closed. Chunks at a different rate are
// resampled to rate first; a partial tail is held for the next chunk.
func pumpFrames(mic audioio.Source, rate, frameSize int, done <-chan struct{}, emit func([]int16) error) error {
	stream := mic.Stream()
	pending := make([]int16, 0, frameSize*2)
	for {
		select {
		case <-done:
			return nil
		case chunk, ok := <-stream:
			if !ok {
				return nil
			}
			samples := chunk.Samples
			if chunk.Channels > 1 {
				samples = audioio.StereoToMono(samples)
			}
			if chunk.SampleRate != 0 && chunk.SampleRate != rate {
				samples = audioio.Resample(samples, chunk.SampleRate, rate)
			}
			pending = append(pending, samples...)
			for len(pending) >= frameSize {
				frame := make([]int16, frameSize)
				copy(frame, pending[:frameSize])
				pending = pending[frameSize:]
				if err := emit(frame); err != nil {
					return err
				}
			}
		}
	}
}
