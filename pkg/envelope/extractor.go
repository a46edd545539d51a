package envelope

import (
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-avatar/pkg/frame"
)

// Extractor samples a Handle once per frame while it plays and publishes the
// RMS loudness as an always-current scalar.
type Extractor struct {
	sched  *frame.Scheduler
	logger *slog.Logger

	level atomic.Uint64 // math.Float64bits

	mu       sync.Mutex
	handle   Handle
	unsub    func()
	poll     *frame.Handle
	release  *sync.Once
	buf      []uint8
	attachID uint64
}

// NewExtractor creates an extractor whose polling runs on sched.
func NewExtractor(sched *frame.Scheduler, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		sched:  sched,
		logger: logger.With("component", "envelope.extractor"),
		buf:    make([]uint8, WindowSize),
	}
}

// Level returns the latest loudness in [0,1].
func (e *Extractor) Level() float64 {
	return math.Float64frombits(e.level.Load())
}

func (e *Extractor) setLevel(v float64) {
	e.level.Store(math.Float64bits(v))
}

// Attach starts following h. Any previously attached handle is detached
// first. If h is already playing, polling starts on the next pass.
func (e *Extractor) Attach(h Handle) {
	e.Detach()

	e.mu.Lock()
	e.attachID++
	id := e.attachID
	e.handle = h
	e.release = &sync.Once{}
	e.mu.Unlock()

	unsub := h.Subscribe(
		func() { e.startPolling(id) },
		func() { e.stopPolling(id) },
	)

	e.mu.Lock()
	if e.attachID == id {
		e.unsub = unsub
	} else {
		unsub()
	}
	e.mu.Unlock()

	if h.Playing() {
		e.startPolling(id)
	}
	e.logger.Debug("handle attached")
}

// Detach stops following the current handle and releases it exactly once.
func (e *Extractor) Detach() {
	e.mu.Lock()
	h := e.handle
	unsub := e.unsub
	poll := e.poll
	once := e.release
	e.handle, e.unsub, e.poll, e.release = nil, nil, nil, nil
	e.attachID++
	e.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	poll.Cancel()
	if h != nil && once != nil {
		once.Do(h.Release)
		e.logger.Debug("handle released")
	}
	e.setLevel(0)
}

// Polling reports whether a per-frame poll is scheduled.
func (e *Extractor) Polling() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.poll.Active()
}

func (e *Extractor) startPolling(id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if id != e.attachID || e.handle == nil || e.poll.Active() {
		return
	}
	h := e.handle
	e.poll = e.sched.Schedule(frame.PhaseInput, frame.Every(func(time.Time) {
		n := h.ByteTimeDomainData(e.buf)
		e.setLevel(RMS(e.buf[:n]))
	}))
}

func (e *Extractor) stopPolling(id uint64) {
	e.mu.Lock()
	if id != e.attachID {
		e.mu.Unlock()
		return
	}
	poll := e.poll
	e.poll = nil
	e.mu.Unlock()

	poll.Cancel()
	e.setLevel(0)
	// A poll already mid-pass may still write once; zero again after it.
	e.sched.Post(func() { e.setLevel(0) })
}
