package realtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"gopkg.in/hraban/opus.v2"

	"github.com/teslashibe/go-avatar/internal/httpc"
	"github.com/teslashibe/go-avatar/pkg/audioio"
)

const (
	opusSampleRate = AudioSampleRate
	opusFrameSize  = 480 // 20ms at 24kHz
	maxOpusPacket  = 4000
	maxDecodedPCM  = 2880 // 120ms at 24kHz

	frameDuration = time.Duration(opusFrameSize) * time.Second / opusSampleRate
)

// WebRTCTransport connects over a WebRTC peer connection: microphone audio
// goes out as an Opus track, remote audio arrives on the remote track and
// events travel over the "oai-events" data channel.
type WebRTCTransport struct {
	// BaseURL is the signalling endpoint. Defaults to DefaultBaseURL.
	BaseURL string

	// Client posts the SDP offer. Defaults to the shared httpc client.
	Client *http.Client

	// ICEServers are passed to the peer connection.
	ICEServers []webrtc.ICEServer

	Logger *slog.Logger
}

// NewWebRTCTransport creates a transport against the default endpoint.
func NewWebRTCTransport(logger *slog.Logger) *WebRTCTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebRTCTransport{
		BaseURL: DefaultBaseURL,
		Logger:  logger.With("component", "realtime.webrtc"),
	}
}

// Connect negotiates the peer connection. Failures after the microphone is
// wired are *NegotiationError tagged with the failing stage.
func (t *WebRTCTransport) Connect(ctx context.Context, req ConnectRequest, h Handlers) (Channel, error) {
	logger := t.Logger
	if logger == nil {
		logger = slog.Default()
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: t.ICEServers})
	if err != nil {
		return nil, &NegotiationError{Stage: "peer", Cause: err}
	}

	ch := &webrtcChannel{
		pc:     pc,
		done:   make(chan struct{}),
		h:      h,
		logger: logger,
	}
	fail := func(stage string, status int, err error) (Channel, error) {
		ch.shutdown(false)
		return nil, &NegotiationError{Stage: stage, StatusCode: status, Cause: err}
	}

	if req.Microphone != nil {
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
			"audio", "avatar-mic",
		)
		if err != nil {
			return fail("track", 0, err)
		}
		sender, err := pc.AddTrack(track)
		if err != nil {
			return fail("track", 0, err)
		}
		go drainRTCP(sender)

		enc, err := opus.NewEncoder(opusSampleRate, 1, opus.AppVoIP)
		if err != nil {
			return fail("encoder", 0, err)
		}
		go ch.pumpMicrophone(req.Microphone, enc, track)
	} else {
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return fail("track", 0, err)
		}
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if track.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		logger.Debug("remote audio track", "codec", track.Codec().MimeType)
		go ch.readRemoteAudio(track)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Debug("peer connection state", "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			ch.shutdown(true)
		}
	})

	dc, err := pc.CreateDataChannel(DataChannelLabel, nil)
	if err != nil {
		return fail("datachannel", 0, err)
	}
	ch.dc = dc
	dc.OnOpen(func() {
		logger.Info("data channel open", "label", dc.Label())
		h.open()
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		h.message(msg.Data)
	})
	dc.OnClose(func() {
		ch.shutdown(true)
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fail("offer", 0, err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return fail("offer", 0, err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return fail("offer", 0, ctx.Err())
	}

	answer, status, err := t.signal(ctx, req, pc.LocalDescription().SDP)
	if err != nil {
		return fail("signal", status, err)
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer,
	}); err != nil {
		return fail("answer", 0, err)
	}

	logger.Info("peer connection negotiated", "model", req.Model)
	return ch, nil
}

// signal posts the offer SDP and returns the answer SDP.
func (t *WebRTCTransport) signal(ctx context.Context, req ConnectRequest, sdp string) (string, int, error) {
	base := t.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	model := req.Model
	if model == "" {
		model = DefaultModel
	}
	endpoint := fmt.Sprintf("%s?model=%s", base, url.QueryEscape(model))

	header := http.Header{}
	header.Set("Authorization", "Bearer "+req.Credential.Secret)

	resp, err := httpc.PostContext(ctx, t.Client, endpoint, "application/sdp", []byte(sdp), header)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", resp.StatusCode, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", resp.StatusCode, fmt.Errorf("unexpected status: %s", truncate(string(body), 200))
	}
	if len(body) == 0 {
		return "", resp.StatusCode, errors.New("empty answer")
	}
	return string(body), resp.StatusCode, nil
}

type webrtcChannel struct {
	pc     *webrtc.PeerConnection
	dc     *webrtc.DataChannel
	h      Handlers
	logger *slog.Logger

	once sync.Once
	done chan struct{}
}

// Send implements Channel.
func (c *webrtcChannel) Send(data []byte) error {
	select {
	case <-c.done:
		return ErrChannelUnavailable
	default:
	}
	if c.dc == nil || c.dc.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrChannelUnavailable
	}
	return c.dc.SendText(string(data))
}

// Close implements Channel.
func (c *webrtcChannel) Close() error {
	c.shutdown(false)
	return nil
}

// shutdown releases the connection once. remote reports whether the peer
// or the network ended it.
func (c *webrtcChannel) shutdown(remote bool) {
	c.once.Do(func() {
		close(c.done)
		if c.dc != nil {
			_ = c.dc.Close()
		}
		if err := c.pc.Close(); err != nil {
			c.logger.Debug("peer connection close", "error", err)
		}
		if remote {
			c.h.closed(ErrClosed)
		} else {
			c.h.closed(nil)
		}
	})
}

func (c *webrtcChannel) pumpMicrophone(mic audioio.Source, enc *opus.Encoder, track *webrtc.TrackLocalStaticSample) {
	packet := make([]byte, maxOpusPacket)
	err := pumpFrames(mic, opusSampleRate, opusFrameSize, c.done, func(frame []int16) error {
		n, err := enc.Encode(frame, packet)
		if err != nil {
			c.logger.Debug("opus encode", "error", err)
			return nil
		}
		data := make([]byte, n)
		copy(data, packet[:n])
		return track.WriteSample(media.Sample{Data: data, Duration: frameDuration})
	})
	if err != nil && !errors.Is(err, io.ErrClosedPipe) {
		c.logger.Warn("microphone pump stopped", "error", err)
	}
}

func (c *webrtcChannel) readRemoteAudio(track *webrtc.TrackRemote) {
	dec, err := opus.NewDecoder(opusSampleRate, 1)
	if err != nil {
		c.logger.Error("opus decoder", "error", err)
		return
	}
	pcm := make([]int16, maxDecodedPCM)
	for {
		var pkt *rtp.Packet
		pkt, _, err = track.ReadRTP()
		if err != nil {
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		n, err := dec.Decode(pkt.Payload, pcm)
		if err != nil {
			c.logger.Debug("opus decode", "error", err)
			continue
		}
		out := make([]int16, n)
		copy(out, pcm[:n])
		c.h.audio(out)
	}
}

func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

var _ Channel = (*webrtcChannel)(nil)
