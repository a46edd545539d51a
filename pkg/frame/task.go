package frame

import "time"

// Task is a unit of per-frame work. Step is called once per pass with the
// frame time and reports whether the task has finished.
type Task interface {
	Step(now time.Time) (done bool)
}

// TaskFunc adapts a function to Task.
type TaskFunc func(now time.Time) bool

// Step calls f(now).
func (f TaskFunc) Step(now time.Time) bool { return f(now) }

// Every wraps fn as a task that never finishes on its own.
func Every(fn func(now time.Time)) Task {
	return TaskFunc(func(now time.Time) bool {
		fn(now)
		return false
	})
}

// Tween is a timed interpolation. On its first step it captures the start
// time; each pass it calls Update with eased progress and completes once
// linear progress reaches 1. Update is always called with exactly 1 on the
// final pass.
type Tween struct {
	Duration time.Duration
	Ease     Easing
	Update   func(p float64)
	// Finish runs once after the final Update.
	Finish func()

	start   time.Time
	started bool
}

// Step advances the tween.
func (t *Tween) Step(now time.Time) bool {
	if !t.started {
		t.start = now
		t.started = true
	}
	p := 1.0
	if t.Duration > 0 {
		p = float64(now.Sub(t.start)) / float64(t.Duration)
	}
	done := p >= 1
	if done {
		p = 1
	}
	ease := t.Ease
	if ease == nil {
		ease = Linear
	}
	if t.Update != nil {
		t.Update(ease(p))
	}
	if done && t.Finish != nil {
		t.Finish()
	}
	return done
}

// Progress reports linear progress at now, without advancing anything.
func (t *Tween) Progress(now time.Time) float64 {
	if !t.started || t.Duration <= 0 {
		if t.started {
			return 1
		}
		return 0
	}
	return clamp01(float64(now.Sub(t.start)) / float64(t.Duration))
}
