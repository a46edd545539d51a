package audioio

import (
	"context"
	"io"
)

// Sink plays audio to a speaker or other output device.
type Sink interface {
	// Start begins audio playback.
	Start(ctx context.Context) error

	// Stop halts audio playback. It is safe to call Stop multiple times.
	Stop() error

	// Write queues an audio chunk for playback. It does not block on the
	// device; chunks that do not fit are dropped.
	Write(chunk AudioChunk) error

	// Clear discards queued audio.
	Clear() error

	// Name returns the backend name.
	Name() string

	io.Closer
}
