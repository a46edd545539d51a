package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-avatar/pkg/audioio"
)

// DefaultWebSocketURL is the realtime WebSocket endpoint.
const DefaultWebSocketURL = "wss://api.openai.com/v1/realtime"

// WebSocketTransport carries the same events over a WebSocket. Microphone
// audio is sent as input_audio_buffer.append and remote audio is taken from
// response.audio.delta events.
type WebSocketTransport struct {
	// URL is the endpoint. Defaults to DefaultWebSocketURL.
	URL string

	// HandshakeTimeout bounds the dial.
	HandshakeTimeout time.Duration

	// ReadTimeout is the idle limit between inbound messages.
	ReadTimeout time.Duration

	Logger *slog.Logger
}

// NewWebSocketTransport creates a transport against the default endpoint.
func NewWebSocketTransport(logger *slog.Logger) *WebSocketTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketTransport{
		URL:              DefaultWebSocketURL,
		HandshakeTimeout: 30 * time.Second,
		ReadTimeout:      5 * time.Minute,
		Logger:           logger.With("component", "realtime.websocket"),
	}
}

// Connect dials the endpoint. The channel is open as soon as the dial
// succeeds.
func (t *WebSocketTransport) Connect(ctx context.Context, req ConnectRequest, h Handlers) (Channel, error) {
	logger := t.Logger
	if logger == nil {
		logger = slog.Default()
	}
	base := t.URL
	if base == "" {
		base = DefaultWebSocketURL
	}
	model := req.Model
	if model == "" {
		model = DefaultModel
	}
	endpoint := fmt.Sprintf("%s?model=%s", base, url.QueryEscape(model))

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+req.Credential.Secret)
	headers.Set("OpenAI-Beta", "realtime=v1")

	dialer := websocket.Dialer{HandshakeTimeout: t.HandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, endpoint, headers)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return nil, &NegotiationError{Stage: "dial", StatusCode: status, Cause: err}
	}
	logger.Info("connected", "model", model)

	ch := &wsChannel{
		conn:        conn,
		h:           h,
		logger:      logger,
		readTimeout: t.ReadTimeout,
		done:        make(chan struct{}),
	}
	go ch.readLoop()
	if req.Microphone != nil {
		go ch.pumpMicrophone(req.Microphone)
	}
	return ch, nil
}

type wsChannel struct {
	conn        *websocket.Conn
	h           Handlers
	logger      *slog.Logger
	readTimeout time.Duration

	writeMu sync.Mutex
	once    sync.Once
	done    chan struct{}
}

// Send implements Channel.
func (c *wsChannel) Send(data []byte) error {
	select {
	case <-c.done:
		return ErrChannelUnavailable
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close implements Channel.
func (c *wsChannel) Close() error {
	c.shutdown(nil)
	return nil
}

func (c *wsChannel) shutdown(cause error) {
	c.once.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()
		c.conn.Close()
		c.h.closed(cause)
	})
}

func (c *wsChannel) readLoop() {
	c.h.open()
	for {
		if c.readTimeout > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(c.readTimeout))
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Info("connection closed normally")
				c.shutdown(ErrClosed)
				return
			}
			c.logger.Error("read error", "error", err)
			c.shutdown(fmt.Errorf("%w: %v", ErrClosed, err))
			return
		}
		if samples, ok := audioDelta(data); ok {
			c.h.audio(samples)
			data = withoutAudio(data)
		}
		c.h.message(data)
	}
}

// audioDelta extracts PCM16 samples from a response.audio.delta message.
func audioDelta(data []byte) ([]int16, bool) {
	if !strings.Contains(string(data), EventResponseAudioDelta) {
		return nil, false
	}
	var msg struct {
		Type  string `json:"type"`
		Delta string `json:"delta"`
	}
	if json.Unmarshal(data, &msg) != nil || msg.Type != EventResponseAudioDelta {
		return nil, false
	}
	raw, err := base64.StdEncoding.DecodeString(msg.Delta)
	if err != nil {
		return nil, false
	}
	return audioio.BytesToSamples(raw), true
}

// withoutAudio drops the base64 payload from an audio delta so the event
// log keeps only its metadata.
func withoutAudio(data []byte) []byte {
	ev, err := ParseEvent(data)
	if err != nil {
		return data
	}
	delete(ev.Fields, "delta")
	out, err := json.Marshal(ev)
	if err != nil {
		return data
	}
	return out
}

func (c *wsChannel) pumpMicrophone(mic audioio.Source) {
	err := pumpFrames(mic, opusSampleRate, opusFrameSize, c.done, func(frame []int16) error {
		ev := InputAudioAppend(base64.StdEncoding.EncodeToString(audioio.SamplesToBytes(frame)))
		ev.Stamp(time.Now())
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		return c.Send(data)
	})
	if err != nil && err != ErrChannelUnavailable {
		c.logger.Warn("microphone pump stopped", "error", err)
	}
}

var _ Channel = (*wsChannel)(nil)
