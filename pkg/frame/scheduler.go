// Package frame runs the cooperative per-frame loop every animation in the
// avatar is built on.
//
// All continuous behaviour (target approach, idle bob, emote overlays,
// envelope polling, return-to-rest blends) is expressed as a Task scheduled
// into a Phase. A single goroutine owns the loop. Other goroutines hand work
// to it with Post, so writes made from network callbacks take effect on the
// next pass and never race with the frame.
package frame

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Phase orders tasks within a pass. Lower phases run first.
type Phase int

const (
	// PhaseInput samples external input (pointer, audio level).
	PhaseInput Phase = iota
	// PhaseAnimate advances tweens and drives setters.
	PhaseAnimate
	// PhaseCompose synthesises bone and morph state from the current inputs.
	PhaseCompose
	// PhaseOutput publishes the composed state.
	PhaseOutput

	numPhases
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseInput:
		return "input"
	case PhaseAnimate:
		return "animate"
	case PhaseCompose:
		return "compose"
	case PhaseOutput:
		return "output"
	default:
		return "unknown"
	}
}

// Handle identifies a scheduled task.
type Handle struct {
	task  Task
	phase Phase

	mu        sync.Mutex
	cancelled bool
	done      chan struct{}
	closeOnce sync.Once
}

// Cancel stops the task. It never runs again. Safe to call more than once
// and from any goroutine.
func (h *Handle) Cancel() {
	if h == nil {
		return
	}
	h.mu.Lock()
	h.cancelled = true
	h.mu.Unlock()
	h.finish()
}

// Done is closed once the task has finished or been cancelled.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Active reports whether the task is still scheduled.
func (h *Handle) Active() bool {
	if h == nil {
		return false
	}
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

func (h *Handle) isCancelled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancelled
}

func (h *Handle) finish() {
	h.closeOnce.Do(func() { close(h.done) })
}

// Scheduler owns the frame loop.
type Scheduler struct {
	clock  Clock
	logger *slog.Logger

	mu      sync.Mutex
	pending []*Handle
	posted  []func()

	// Only touched from the loop goroutine.
	phases [numPhases][]*Handle

	frames atomic.Uint64

	onTick func(elapsed time.Duration)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the system clock.
func WithClock(c Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithTickObserver is called after each pass with the time it took.
func WithTickObserver(fn func(elapsed time.Duration)) Option {
	return func(s *Scheduler) { s.onTick = fn }
}

// NewScheduler creates a scheduler.
func NewScheduler(opts ...Option) *Scheduler {
	s := &Scheduler{
		clock:  SystemClock{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "frame.scheduler")
	return s
}

// Clock returns the scheduler's clock.
func (s *Scheduler) Clock() Clock { return s.clock }

// Schedule adds task to phase. It first runs on the next pass.
func (s *Scheduler) Schedule(phase Phase, task Task) *Handle {
	if phase < 0 || phase >= numPhases {
		phase = PhaseAnimate
	}
	h := &Handle{task: task, phase: phase, done: make(chan struct{})}
	s.mu.Lock()
	s.pending = append(s.pending, h)
	s.mu.Unlock()
	return h
}

// Post queues fn to run at the start of the next pass, before any task.
// Posted functions run in the order they were posted.
func (s *Scheduler) Post(fn func()) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.posted = append(s.posted, fn)
	s.mu.Unlock()
}

// Frames returns how many passes have run. Safe from any goroutine.
func (s *Scheduler) Frames() uint64 { return s.frames.Load() }

// Len returns the number of live tasks, including ones not yet started.
// Like Tick, it belongs to the loop goroutine.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	n := len(s.pending)
	s.mu.Unlock()
	for _, hs := range s.phases {
		for _, h := range hs {
			if !h.isCancelled() {
				n++
			}
		}
	}
	return n
}

// Tick runs one pass at now. Must only be called from the loop goroutine.
func (s *Scheduler) Tick(now time.Time) {
	start := time.Now()

	s.mu.Lock()
	posted := s.posted
	s.posted = nil
	s.mu.Unlock()

	for _, fn := range posted {
		fn()
	}

	// Tasks scheduled by posted functions join this pass. Tasks scheduled by
	// other tasks while the phases run wait for the next one.
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, h := range pending {
		if h.isCancelled() {
			continue
		}
		s.phases[h.phase] = append(s.phases[h.phase], h)
	}

	for p := Phase(0); p < numPhases; p++ {
		live := s.phases[p][:0]
		for _, h := range s.phases[p] {
			if h.isCancelled() {
				continue
			}
			if h.task.Step(now) {
				h.finish()
				continue
			}
			if h.isCancelled() {
				continue
			}
			live = append(live, h)
		}
		for i := len(live); i < len(s.phases[p]); i++ {
			s.phases[p][i] = nil
		}
		s.phases[p] = live
	}

	s.frames.Add(1)
	if s.onTick != nil {
		s.onTick(time.Since(start))
	}
}

// Run ticks every interval until ctx is done, then cancels every task.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second / 60
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("frame loop started", "fps", 1/interval.Seconds())
	defer func() { s.logger.Info("frame loop stopped", "frames", s.frames.Load()) }()

	for {
		select {
		case <-ctx.Done():
			s.cancelAll()
			return ctx.Err()
		case <-ticker.C:
			s.Tick(s.clock.Now())
		}
	}
}

func (s *Scheduler) cancelAll() {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.posted = nil
	s.mu.Unlock()
	for _, h := range pending {
		h.Cancel()
	}
	for p := range s.phases {
		for _, h := range s.phases[p] {
			h.Cancel()
		}
		s.phases[p] = nil
	}
}
