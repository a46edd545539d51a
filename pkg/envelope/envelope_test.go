package envelope

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-avatar/pkg/frame"
)

var epoch = time.Date(2024, 12, 17, 12, 0, 0, 0, time.UTC)

func TestRMSSilence(t *testing.T) {
	buf := make([]uint8, WindowSize)
	for i := range buf {
		buf[i] = 128
	}
	assert.Equal(t, 0.0, RMS(buf))
	assert.Equal(t, 0.0, RMS(nil))
}

func TestRMSFullScaleSquareWave(t *testing.T) {
	buf := make([]uint8, WindowSize)
	for i := range buf {
		if i%2 == 0 {
			buf[i] = 0
		} else {
			buf[i] = 255
		}
	}
	// (0-128)/128 = -1 and (255-128)/128 = 127/128.
	want := math.Sqrt((1 + (127.0/128)*(127.0/128)) / 2)
	assert.InDelta(t, want, RMS(buf), 1e-12)
}

func TestRMSIsScaleOfDeviation(t *testing.T) {
	quiet := make([]uint8, WindowSize)
	loud := make([]uint8, WindowSize)
	for i := range quiet {
		quiet[i] = 128 + 16
		loud[i] = 128 + 64
	}
	assert.InDelta(t, 0.125, RMS(quiet), 1e-12)
	assert.InDelta(t, 0.5, RMS(loud), 1e-12)
}

func TestQuantize(t *testing.T) {
	assert.Equal(t, uint8(128), Quantize(0))
	assert.Equal(t, uint8(0), Quantize(math.MinInt16))
	assert.Equal(t, uint8(255), Quantize(math.MaxInt16))
}

func TestPCMTapWindow(t *testing.T) {
	tap := NewPCMTap(4)
	dst := make([]uint8, 4)

	n := tap.ByteTimeDomainData(dst)
	require.Equal(t, 4, n)
	assert.Equal(t, []uint8{128, 128, 128, 128}, dst)

	tap.Write([]int16{256, 512})
	tap.ByteTimeDomainData(dst)
	assert.Equal(t, []uint8{128, 128, 129, 130}, dst)

	tap.Write([]int16{768, 1024, 1280})
	tap.ByteTimeDomainData(dst)
	assert.Equal(t, []uint8{130, 131, 132, 133}, dst)
}

func TestPCMTapSubscribeTransitionsOnly(t *testing.T) {
	tap := NewPCMTap(0)
	plays, pauses := 0, 0
	unsub := tap.Subscribe(func() { plays++ }, func() { pauses++ })

	tap.Play()
	tap.Play()
	tap.Pause()
	tap.Pause()
	assert.Equal(t, 1, plays)
	assert.Equal(t, 1, pauses)

	unsub()
	tap.Play()
	assert.Equal(t, 1, plays)
}

type countingHandle struct {
	*PCMTap
	releases int
}

func (c *countingHandle) Release() {
	c.releases++
	c.PCMTap.Release()
}

func TestExtractorPollsOnlyWhilePlaying(t *testing.T) {
	sched := frame.NewScheduler()
	ex := NewExtractor(sched, nil)
	tap := NewPCMTap(WindowSize)
	ex.Attach(tap)

	loud := make([]int16, WindowSize)
	for i := range loud {
		loud[i] = 64 << 8
	}
	tap.Write(loud)

	sched.Tick(epoch)
	assert.False(t, ex.Polling())
	assert.Zero(t, ex.Level(), "not playing yet")

	tap.Play()
	sched.Tick(epoch.Add(16 * time.Millisecond))
	assert.True(t, ex.Polling())
	assert.InDelta(t, 0.5, ex.Level(), 1e-9)

	tap.Pause()
	sched.Tick(epoch.Add(32 * time.Millisecond))
	assert.False(t, ex.Polling())
	assert.Zero(t, ex.Level())
	assert.Equal(t, 0, sched.Len())
}

func TestExtractorAttachPlayingHandle(t *testing.T) {
	sched := frame.NewScheduler()
	ex := NewExtractor(sched, nil)
	tap := NewPCMTap(WindowSize)
	tap.Play()

	ex.Attach(tap)
	assert.True(t, ex.Polling())
}

func TestExtractorReleasesExactlyOnce(t *testing.T) {
	sched := frame.NewScheduler()
	ex := NewExtractor(sched, nil)
	first := &countingHandle{PCMTap: NewPCMTap(0)}
	second := &countingHandle{PCMTap: NewPCMTap(0)}

	ex.Attach(first)
	first.Play()
	ex.Attach(second)
	ex.Detach()
	ex.Detach()

	assert.Equal(t, 1, first.releases)
	assert.Equal(t, 1, second.releases)
	assert.False(t, ex.Polling())

	// Notifications from a detached handle are ignored.
	first.PCMTap.released = false
	first.Play()
	assert.False(t, ex.Polling())
}

func TestPacedTapFollowsPlaybackTime(t *testing.T) {
	clock := frame.NewManualClock(epoch)
	tap := NewPacedTap(4, 1000, clock)
	dst := make([]uint8, 4)

	tap.Write([]int16{256, 512, 768, 1024, 1280, 1536})
	assert.Equal(t, 6*time.Millisecond, tap.Buffered())

	tap.ByteTimeDomainData(dst)
	assert.Equal(t, []uint8{128, 128, 128, 128}, dst, "nothing plays before Play")

	tap.Play()
	clock.Advance(2 * time.Millisecond)
	tap.ByteTimeDomainData(dst)
	assert.Equal(t, []uint8{128, 128, 129, 130}, dst)
	assert.Equal(t, 4*time.Millisecond, tap.Buffered())

	clock.Advance(4 * time.Millisecond)
	tap.ByteTimeDomainData(dst)
	assert.Equal(t, []uint8{131, 132, 133, 134}, dst)
	assert.Zero(t, tap.Buffered())
	assert.Equal(t, uint64(6), tap.Played())
}

func TestPacedTapUnderrunPlaysSilence(t *testing.T) {
	clock := frame.NewManualClock(epoch)
	tap := NewPacedTap(4, 1000, clock)
	dst := make([]uint8, 4)

	tap.Play()
	tap.Write([]int16{256, 512})
	clock.Advance(3 * time.Millisecond)
	tap.ByteTimeDomainData(dst)
	assert.Equal(t, []uint8{128, 129, 130, 128}, dst)
}

func TestPacedTapPauseDropsUnplayedAudio(t *testing.T) {
	clock := frame.NewManualClock(epoch)
	tap := NewPacedTap(4, 1000, clock)

	tap.Write(make([]int16, 100))
	tap.Play()
	clock.Advance(10 * time.Millisecond)
	require.Equal(t, 90*time.Millisecond, tap.Buffered())

	tap.Pause()
	assert.Zero(t, tap.Buffered())

	// Time spent paused is not played.
	clock.Advance(time.Second)
	tap.Write(make([]int16, 50))
	tap.Play()
	assert.Equal(t, 50*time.Millisecond, tap.Buffered())
}

func TestExtractorFollowsPacedBurst(t *testing.T) {
	clock := frame.NewManualClock(epoch)
	sched := frame.NewScheduler(frame.WithClock(clock))
	ex := NewExtractor(sched, nil)
	tap := NewPacedTap(WindowSize, 24000, clock)
	ex.Attach(tap)

	// Two seconds of loud audio written in one go, then a quiet tail.
	burst := make([]int16, 2*24000+WindowSize)
	for i := 0; i < 2*24000; i++ {
		burst[i] = 64 << 8
	}
	tap.Write(burst)
	tap.Play()

	for i := 0; i < 60; i++ {
		clock.Advance(16 * time.Millisecond)
		sched.Tick(clock.Now())
		require.InDelta(t, 0.5, ex.Level(), 1e-9, "frame %d", i)
	}
}
