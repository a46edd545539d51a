package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-avatar/pkg/audioio"
	"github.com/teslashibe/go-avatar/pkg/envelope"
	"github.com/teslashibe/go-avatar/pkg/frame"
	"github.com/teslashibe/go-avatar/pkg/gaze"
	"github.com/teslashibe/go-avatar/pkg/realtime"
	"github.com/teslashibe/go-avatar/pkg/rig"
	"github.com/teslashibe/go-avatar/pkg/scene"
)

var epoch = time.Date(2024, 12, 17, 12, 0, 0, 0, time.UTC)

const frameDur = 16 * time.Millisecond

type fakeSession struct {
	onTool  func(realtime.ToolCall)
	onAudio func([]int16)
	onState func(from, to realtime.State)
}

func (s *fakeSession) OnToolCall(fn func(realtime.ToolCall))          { s.onTool = fn }
func (s *fakeSession) OnAudio(fn func([]int16))                       { s.onAudio = fn }
func (s *fakeSession) OnStateChange(fn func(from, to realtime.State)) { s.onState = fn }

type fixture struct {
	sess      *fakeSession
	clock     *frame.ManualClock
	sched     *frame.Scheduler
	rig       *rig.Controller
	tracker   *gaze.Tracker
	extractor *envelope.Extractor
	bridge    *Bridge
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	clock := frame.NewManualClock(epoch)
	sched := frame.NewScheduler(frame.WithClock(clock))

	model := scene.NewMemoryModel(nil, []scene.Bone{
		scene.NewNode("head", scene.Transform{Position: mgl64.Vec3{0, 1, 0}}),
		scene.NewNode("eye.L", scene.Transform{Position: mgl64.Vec3{-0.1, 1.1, 0.1}}),
		scene.NewNode("eye.R", scene.Transform{Position: mgl64.Vec3{0.1, 1.1, 0.1}}),
	}, scene.NewMorphMesh("face", "MouthOpen", "HappyClosed", "UpsetClosed", "HappyOpen", "UpsetOpen"))

	r := rig.New(sched, rig.DefaultConfig(), nil)
	require.NoError(t, r.Load(model))
	r.Start()

	f := &fixture{
		sess:      &fakeSession{},
		clock:     clock,
		sched:     sched,
		rig:       r,
		tracker:   gaze.NewTracker(sched, model.Camera(), gaze.DefaultConfig(), nil),
		extractor: envelope.NewExtractor(sched, nil),
	}
	f.bridge = New(sched, f.sess, r, f.tracker, f.extractor, cfg)
	return f
}

func (f *fixture) tick() {
	f.sched.Tick(f.clock.Now())
	f.clock.Advance(frameDur)
}

func (f *fixture) run(d time.Duration) {
	for end := f.clock.Now().Add(d); !f.clock.Now().After(end); {
		f.tick()
	}
}

func loud(v int16) []int16 {
	pcm := make([]int16, envelope.WindowSize)
	for i := range pcm {
		pcm[i] = v
	}
	return pcm
}

// loudFor returns d worth of constant samples at the session audio rate.
func loudFor(v int16, d time.Duration) []int16 {
	pcm := make([]int16, int(d.Seconds()*realtime.AudioSampleRate))
	for i := range pcm {
		pcm[i] = v
	}
	return pcm
}

func TestNewWiresSession(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	assert.NotNil(t, f.sess.onTool)
	assert.NotNil(t, f.sess.onAudio)
	assert.NotNil(t, f.sess.onState)
	assert.True(t, f.tracker.Rest().ApproxEqualThreshold(f.rig.Rest(), 1e-12))
}

func TestAudioDrivesMouth(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	f.sess.onAudio(loudFor(64<<8, 100*time.Millisecond))
	assert.True(t, f.bridge.Tap().Playing())

	f.tick()
	f.tick()
	assert.InDelta(t, 0.5, f.extractor.Level(), 1e-9)
	assert.InDelta(t, 0.5, f.rig.MouthOpen(), 1e-9)
}

func TestMouthGainClamps(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MouthGain = 5
	f := newFixture(t, cfg)

	f.sess.onAudio(loudFor(64<<8, 100*time.Millisecond))
	f.tick()
	f.tick()
	assert.InDelta(t, 1.0, f.rig.MouthOpen(), 1e-9)
}

func TestLeavingActivePausesTap(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.sess.onAudio(loud(64 << 8))
	f.tick()

	f.sess.onState(realtime.StateActive, realtime.StateClosing)
	assert.False(t, f.bridge.Tap().Playing())
	f.tick()
	f.tick()
	assert.Zero(t, f.extractor.Level())
	assert.Zero(t, f.rig.MouthOpen())
}

func TestAudioIdlePausesTap(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.sess.onAudio(loud(64 << 8))
	f.tick()
	require.True(t, f.bridge.Tap().Playing())

	f.run(400 * time.Millisecond)
	assert.False(t, f.bridge.Tap().Playing())
	assert.Zero(t, f.extractor.Level())
}

func TestBurstIsPlayedAtRealTime(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	// Two seconds of loud audio delivered at once, then a quiet tail.
	burst := append(loudFor(64<<8, 2*time.Second), make([]int16, envelope.WindowSize)...)
	f.sess.onAudio(burst)

	f.tick()
	for i := 0; i < 60; i++ {
		f.tick()
		require.InDelta(t, 0.5, f.extractor.Level(), 1e-9, "frame %d", i)
	}
	assert.True(t, f.bridge.Tap().Playing())
	assert.Greater(t, f.bridge.Tap().Buffered(), time.Second/2)
	assert.InDelta(t, 0.5, f.rig.MouthOpen(), 1e-9)
}

func TestIdlePauseWaitsForBufferedAudio(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.sess.onAudio(loudFor(64<<8, time.Second))

	f.run(500 * time.Millisecond)
	require.True(t, f.bridge.Tap().Playing(), "paused while audio was still playing")
	assert.Greater(t, f.extractor.Level(), 0.0)

	f.run(600 * time.Millisecond)
	assert.False(t, f.bridge.Tap().Playing())
	assert.Zero(t, f.bridge.Tap().Buffered())
	assert.Zero(t, f.extractor.Level())
}

func TestToolCallsDriveRig(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	f.sess.onTool(realtime.ExpressionCall{Expression: "happy"})
	f.sess.onTool(realtime.EmoteCall{Emote: "shake"})
	f.tick()
	f.tick()

	e, p := f.rig.Emote()
	assert.Equal(t, rig.EmoteShake, e)
	assert.Greater(t, p, 0.0)

	f.run(600 * time.Millisecond)
	assert.InDelta(t, 1.0, f.rig.Happiness(), 1e-9)

	f.sess.onTool(realtime.ExpressionCall{Expression: "angry"})
	f.run(600 * time.Millisecond)
	assert.InDelta(t, 0.0, f.rig.Happiness(), 1e-9)
}

func TestPointerAimsRig(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.tick()
	eye0, _ := f.rig.Targets()

	require.True(t, f.tracker.Enter(250, 250))
	f.run(time.Second)

	eye, head := f.rig.Targets()
	assert.Less(t, eye.Sub(mgl64.Vec3{}).Len(), eye0.Sub(mgl64.Vec3{}).Len())
	assert.True(t, eye.ApproxEqualThreshold(mgl64.Vec3{}, 1e-9), "eye target %v", eye)
	assert.Less(t, head.Len(), eye0.Len())
}

func TestSpeakerPlaysRemoteAudio(t *testing.T) {
	speaker := audioio.NewMockSink()
	require.NoError(t, speaker.Start(context.Background()))

	cfg := DefaultConfig()
	cfg.Speaker = speaker
	f := newFixture(t, cfg)

	f.sess.onAudio(loud(1000))
	chunks := speaker.Chunks()
	require.Len(t, chunks, 1)
	assert.Equal(t, realtime.AudioSampleRate, chunks[0].SampleRate)
	assert.Equal(t, 1, chunks[0].Channels)
	assert.Len(t, chunks[0].Samples, envelope.WindowSize)

	f.sess.onState(realtime.StateActive, realtime.StateIdle)
	assert.Empty(t, speaker.Chunks())
}

func TestClose(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.sess.onAudio(loud(64 << 8))
	f.tick()

	f.bridge.Close()
	f.bridge.Close()
	assert.True(t, f.bridge.Tap().Released())

	f.sess.onAudio(loud(64 << 8))
	f.tick()
	f.tick()
	assert.Zero(t, f.extractor.Level())
	assert.Zero(t, f.rig.MouthOpen())
}
