package envelope

import (
	"sync"
	"time"

	"github.com/teslashibe/go-avatar/pkg/frame"
)

// MaxBuffered bounds how much unplayed audio a paced tap holds. Older
// samples are dropped first.
const MaxBuffered = 60 * time.Second

// Handle is an audio output the extractor can analyse.
type Handle interface {
	// ByteTimeDomainData fills dst with the most recent samples on the
	// unsigned 8-bit scale and returns how many were written.
	ByteTimeDomainData(dst []uint8) int
	// Playing reports whether audio is currently playing.
	Playing() bool
	// Subscribe registers play/pause callbacks. The returned func removes them.
	Subscribe(onPlay, onPause func()) (unsubscribe func())
	// Release tears down the analysis graph attached to the handle.
	Release()
}

// PCMTap is a Handle fed with decoded PCM16 audio. It keeps the latest
// window of played samples in a ring.
//
// A paced tap queues written audio and moves it into the ring at the
// sample rate while playing, so the window follows what the speaker is
// playing rather than what the network delivered. An unpaced tap writes
// straight into the ring.
type PCMTap struct {
	mu      sync.Mutex
	ring    []int16
	head    int
	filled  int
	playing bool

	rate   int
	clock  frame.Clock
	queue  []int16
	last   time.Time
	carry  int64 // sample-nanoseconds not yet played
	played uint64

	nextID int
	subs   map[int]tapSub

	released bool
}

type tapSub struct {
	onPlay  func()
	onPause func()
}

// NewPCMTap creates a tap whose ring holds size samples. size <= 0 uses
// WindowSize.
func NewPCMTap(size int) *PCMTap {
	if size <= 0 {
		size = WindowSize
	}
	return &PCMTap{
		ring: make([]int16, size),
		subs: make(map[int]tapSub),
	}
}

// NewPacedTap creates a tap that plays written audio at rate samples per
// second as measured by clock.
func NewPacedTap(size, rate int, clock frame.Clock) *PCMTap {
	t := NewPCMTap(size)
	if rate > 0 {
		if clock == nil {
			clock = frame.SystemClock{}
		}
		t.rate = rate
		t.clock = clock
	}
	return t
}

// Write appends decoded samples.
func (t *PCMTap) Write(pcm []int16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.released {
		return
	}
	if t.rate == 0 {
		t.pushLocked(pcm)
		return
	}
	t.queue = append(t.queue, pcm...)
	if limit := int(MaxBuffered.Seconds() * float64(t.rate)); len(t.queue) > limit {
		t.queue = append(t.queue[:0], t.queue[len(t.queue)-limit:]...)
	}
}

func (t *PCMTap) pushLocked(pcm []int16) {
	for _, v := range pcm {
		t.ring[t.head] = v
		t.head = (t.head + 1) % len(t.ring)
		if t.filled < len(t.ring) {
			t.filled++
		}
	}
	t.played += uint64(len(pcm))
}

// advanceLocked moves the audio played since the last call from the queue
// into the ring.
func (t *PCMTap) advanceLocked() {
	if t.rate == 0 || !t.playing {
		return
	}
	now := t.clock.Now()
	elapsed := now.Sub(t.last)
	t.last = now
	if elapsed <= 0 {
		return
	}
	elapsed = min(elapsed, MaxBuffered)
	due := int64(elapsed)*int64(t.rate) + t.carry
	n := int(due / int64(time.Second))
	t.carry = due % int64(time.Second)
	if n == 0 {
		return
	}

	take := min(n, len(t.queue))
	t.pushLocked(t.queue[:take])
	t.queue = t.queue[take:]

	// An underrun plays silence.
	if gap := min(n-take, len(t.ring)); gap > 0 {
		t.pushLocked(make([]int16, gap))
		t.carry = 0
	}
}

// Buffered returns how much written audio has not been played yet. It is
// always zero for an unpaced tap.
func (t *PCMTap) Buffered() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.advanceLocked()
	if t.rate == 0 {
		return 0
	}
	return time.Duration(len(t.queue)) * time.Second / time.Duration(t.rate)
}

// Played returns the number of samples that have entered the window.
func (t *PCMTap) Played() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.played
}

// ByteTimeDomainData implements Handle. Slots not yet written read as
// silence (128).
func (t *PCMTap) ByteTimeDomainData(dst []uint8) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.advanceLocked()

	n := len(dst)
	if n > len(t.ring) {
		n = len(t.ring)
	}
	// Oldest of the last n samples first.
	start := t.head - n
	for i := 0; i < n; i++ {
		idx := (start + i + len(t.ring)) % len(t.ring)
		if i < n-t.filled {
			dst[i] = 128
			continue
		}
		dst[i] = Quantize(t.ring[idx])
	}
	return n
}

// Playing implements Handle.
func (t *PCMTap) Playing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.playing
}

// Play marks the output as playing and notifies subscribers on transition.
func (t *PCMTap) Play() {
	t.setPlaying(true)
}

// Pause marks the output as paused, flushes the ring and any unplayed
// audio, and notifies subscribers on transition.
func (t *PCMTap) Pause() {
	t.setPlaying(false)
}

func (t *PCMTap) setPlaying(v bool) {
	t.mu.Lock()
	if t.released || t.playing == v {
		t.mu.Unlock()
		return
	}
	if v && t.rate > 0 {
		t.last = t.clock.Now()
		t.carry = 0
	}
	if !v {
		t.head, t.filled = 0, 0
		t.queue = t.queue[:0]
		t.carry = 0
	}
	t.playing = v
	subs := make([]tapSub, 0, len(t.subs))
	for _, s := range t.subs {
		subs = append(subs, s)
	}
	t.mu.Unlock()

	for _, s := range subs {
		if v && s.onPlay != nil {
			s.onPlay()
		}
		if !v && s.onPause != nil {
			s.onPause()
		}
	}
}

// Subscribe implements Handle.
func (t *PCMTap) Subscribe(onPlay, onPause func()) func() {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.subs[id] = tapSub{onPlay: onPlay, onPause: onPause}
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		delete(t.subs, id)
		t.mu.Unlock()
	}
}

// Release implements Handle. Further writes are discarded.
func (t *PCMTap) Release() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.released = true
	t.playing = false
	t.queue = nil
	t.subs = make(map[int]tapSub)
}

// Released reports whether Release has been called.
func (t *PCMTap) Released() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.released
}
