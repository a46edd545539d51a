// Package bridge connects a realtime session to the facial rig: remote audio
// drives the mouth through the envelope extractor, tool calls drive emotes
// and expressions, and the gaze tracker drives the look target.
package bridge

import (
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-avatar/pkg/audioio"
	"github.com/teslashibe/go-avatar/pkg/envelope"
	"github.com/teslashibe/go-avatar/pkg/frame"
	"github.com/teslashibe/go-avatar/pkg/gaze"
	"github.com/teslashibe/go-avatar/pkg/realtime"
	"github.com/teslashibe/go-avatar/pkg/rig"
)

// Session is the part of realtime.Session the bridge observes.
type Session interface {
	OnToolCall(fn func(call realtime.ToolCall))
	OnAudio(fn func(samples []int16))
	OnStateChange(fn func(from, to realtime.State))
}

// Config tunes the bridge.
type Config struct {
	// MouthGain scales loudness before it reaches the mouth. The result is
	// clamped to [0,1].
	MouthGain float64

	// AudioIdle pauses the tap once everything written has played and no
	// remote audio has arrived for this long. Zero disables the idle pause.
	AudioIdle time.Duration

	// Speaker, if set, plays remote audio. It must already be started.
	Speaker audioio.Sink

	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MouthGain: 1,
		AudioIdle: 300 * time.Millisecond,
		Logger:    slog.Default(),
	}
}

// Bridge wires one session to one rig.
type Bridge struct {
	cfg       Config
	logger    *slog.Logger
	sched     *frame.Scheduler
	rig       *rig.Controller
	tracker   *gaze.Tracker
	extractor *envelope.Extractor
	tap       *envelope.PCMTap

	mu        sync.Mutex
	lastAudio time.Time
	task      *frame.Handle
	closed    bool
}

// New attaches a fresh PCM tap to extractor, points the tracker's rest at
// the rig's rest, subscribes to sess and schedules the per-frame update.
func New(sched *frame.Scheduler, sess Session, r *rig.Controller, tracker *gaze.Tracker, extractor *envelope.Extractor, cfg Config) *Bridge {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	b := &Bridge{
		cfg:       cfg,
		logger:    cfg.Logger.With("component", "bridge"),
		sched:     sched,
		rig:       r,
		tracker:   tracker,
		extractor: extractor,
		tap:       envelope.NewPacedTap(envelope.WindowSize, realtime.AudioSampleRate, sched.Clock()),
	}

	tracker.SetRest(r.Rest())
	extractor.Attach(b.tap)

	sess.OnToolCall(b.handleToolCall)
	sess.OnAudio(b.handleAudio)
	sess.OnStateChange(b.handleStateChange)

	b.task = sched.Schedule(frame.PhaseAnimate, frame.Every(b.step))
	return b
}

// Tap returns the audio handle the extractor follows.
func (b *Bridge) Tap() *envelope.PCMTap { return b.tap }

func (b *Bridge) handleToolCall(call realtime.ToolCall) {
	switch c := call.(type) {
	case realtime.EmoteCall:
		e, ok := rig.ParseEmote(c.Emote)
		if !ok || !b.rig.Play(e) {
			b.logger.Warn("unsupported emote", "emote", c.Emote)
			return
		}
		b.logger.Debug("emote", "emote", c.Emote)
	case realtime.ExpressionCall:
		b.rig.SetHappy(c.Happy())
		b.logger.Debug("expression", "expression", c.Expression)
	}
}

func (b *Bridge) handleAudio(samples []int16) {
	if len(samples) == 0 {
		return
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.lastAudio = b.sched.Clock().Now()
	b.mu.Unlock()

	b.tap.Write(samples)
	b.tap.Play()

	if b.cfg.Speaker != nil {
		chunk := audioio.AudioChunk{Samples: samples, SampleRate: realtime.AudioSampleRate, Channels: 1}
		if err := b.cfg.Speaker.Write(chunk); err != nil {
			b.logger.Debug("speaker write failed", "error", err)
		}
	}
}

func (b *Bridge) handleStateChange(from, to realtime.State) {
	if from == realtime.StateActive && to != realtime.StateActive {
		b.tap.Pause()
		if b.cfg.Speaker != nil {
			_ = b.cfg.Speaker.Clear()
		}
	}
}

// step runs in the animate phase, before the rig composes.
func (b *Bridge) step(now time.Time) {
	b.mu.Lock()
	idle := b.cfg.AudioIdle > 0 && !b.lastAudio.IsZero() && now.Sub(b.lastAudio) > b.cfg.AudioIdle &&
		b.tap.Buffered() == 0
	if idle {
		b.lastAudio = time.Time{}
	}
	b.mu.Unlock()
	if idle {
		b.tap.Pause()
	}

	gain := b.cfg.MouthGain
	if gain == 0 {
		gain = 1
	}
	b.rig.SetMouthOpen(b.extractor.Level() * gain)
	b.rig.AimAt(b.tracker.Point())
}

// Close stops the per-frame update and releases the tap. Session callbacks
// become no-ops.
func (b *Bridge) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	task := b.task
	b.mu.Unlock()

	task.Cancel()
	b.extractor.Detach()
	b.rig.SetMouthOpen(0)
}
