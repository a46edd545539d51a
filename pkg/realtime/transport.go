package realtime

import (
	"context"

	"github.com/teslashibe/go-avatar/pkg/audioio"
)

// AudioSampleRate is the rate of remote audio and of microphone audio sent
// upstream.
const AudioSampleRate = 24000

// Handlers receive transport callbacks. They run on transport goroutines and
// may be invoked concurrently with each other.
type Handlers struct {
	// OnOpen fires once when the event channel is ready for Send.
	OnOpen func()

	// OnMessage receives one raw inbound event.
	OnMessage func(data []byte)

	// OnAudio receives decoded remote audio as mono PCM16 at AudioSampleRate.
	OnAudio func(samples []int16)

	// OnClose fires once when the connection ends. err is nil for a local
	// Close.
	OnClose func(err error)
}

func (h Handlers) open() {
	if h.OnOpen != nil {
		h.OnOpen()
	}
}

func (h Handlers) message(data []byte) {
	if h.OnMessage != nil {
		h.OnMessage(data)
	}
}

func (h Handlers) audio(samples []int16) {
	if h.OnAudio != nil {
		h.OnAudio(samples)
	}
}

func (h Handlers) closed(err error) {
	if h.OnClose != nil {
		h.OnClose(err)
	}
}

// Channel is an established connection carrying JSON events.
type Channel interface {
	// Send transmits one event.
	Send(data []byte) error

	// Close tears down the channel, the connection and any media pumps.
	// It is safe to call Close multiple times.
	Close() error
}

// ConnectRequest carries what a transport needs for one session.
type ConnectRequest struct {
	Credential Credential
	Model      string

	// Microphone may be nil. When set it has already been started and the
	// transport only reads from it.
	Microphone audioio.Source
}

// Transport negotiates a connection for one session.
type Transport interface {
	Connect(ctx context.Context, req ConnectRequest, h Handlers) (Channel, error)
}
