// Package gaze converts pointer samples over the avatar viewport into a 3D
// point the eyes and head follow.
package gaze

import (
	"log/slog"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"golang.org/x/time/rate"

	"github.com/teslashibe/go-avatar/pkg/frame"
	"github.com/teslashibe/go-avatar/pkg/scene"
)

// Tracker owns the live pointer target and the return-to-rest blend.
// Pointer methods are safe to call from any goroutine.
type Tracker struct {
	cfg     Config
	sched   *frame.Scheduler
	limiter *rate.Limiter
	logger  *slog.Logger

	mu        sync.Mutex
	camera    scene.Camera
	active    bool
	live      mgl64.Vec3
	hasLive   bool
	rest      mgl64.Vec3
	blend     mgl64.Vec3
	returning *frame.Handle
	samples   uint64
}

// NewTracker creates a tracker. A nil camera uses scene.DefaultCamera.
func NewTracker(sched *frame.Scheduler, cam scene.Camera, cfg Config, logger *slog.Logger) *Tracker {
	if cam == nil {
		cam = scene.DefaultCamera()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		d := DefaultConfig()
		cfg.Width, cfg.Height = d.Width, d.Height
	}
	if cfg.Plane.Normal == (mgl64.Vec3{}) {
		cfg.Plane.Normal = mgl64.Vec3{0, 0, 1}
	}
	return &Tracker{
		cfg:     cfg,
		sched:   sched,
		camera:  cam,
		limiter: rate.NewLimiter(rate.Every(cfg.Throttle), 1),
		logger:  logger.With("component", "gaze.tracker"),
	}
}

// NDC maps viewport pixels to normalised device coordinates, +Y up.
func NDC(px, py, width, height float64) (x, y float64) {
	return px/width*2 - 1, -(py/height)*2 + 1
}

// SetCamera swaps the camera rays are cast from.
func (t *Tracker) SetCamera(cam scene.Camera) {
	if cam == nil {
		return
	}
	t.mu.Lock()
	t.camera = cam
	t.mu.Unlock()
}

// SetRest sets the resting point used when no pointer is present.
func (t *Tracker) SetRest(p mgl64.Vec3) {
	t.mu.Lock()
	t.rest = p
	t.mu.Unlock()
}

// Rest returns the resting point.
func (t *Tracker) Rest() mgl64.Vec3 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rest
}

// Enter resumes tracking, cancelling any in-flight return, and offers the
// entry position as a sample. If that sample is throttled the target holds
// at the blended point until the next one lands.
func (t *Tracker) Enter(px, py float64) bool {
	t.mu.Lock()
	t.active = true
	if t.returning.Active() {
		t.live = t.blend
	}
	t.cancelReturnLocked()
	t.mu.Unlock()
	return t.Move(px, py)
}

// Move offers a pointer sample. Samples arriving faster than the throttle
// interval, or whose ray misses the plane, are dropped. It reports whether
// the live target changed.
func (t *Tracker) Move(px, py float64) bool {
	if !t.limiter.AllowN(t.sched.Clock().Now(), 1) {
		return false
	}
	x, y := NDC(px, py, t.cfg.Width, t.cfg.Height)

	t.mu.Lock()
	defer t.mu.Unlock()

	hit, ok := t.cfg.Plane.Intersect(t.camera.Ray(x, y))
	if !ok {
		return false
	}
	t.active = true
	t.cancelReturnLocked()
	t.live = hit
	t.hasLive = true
	t.samples++
	return true
}

// Leave stops tracking and blends from the last live target back to rest.
func (t *Tracker) Leave() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active {
		return
	}
	t.active = false
	if !t.hasLive {
		return
	}
	from := t.live
	t.blend = from
	t.cancelReturnLocked()

	var h *frame.Handle
	h = t.sched.Schedule(frame.PhaseInput, &frame.Tween{
		Duration: t.cfg.ReturnDuration,
		Ease:     frame.Linear,
		Update: func(p float64) {
			t.mu.Lock()
			t.blend = lerpVec(from, t.rest, p)
			t.mu.Unlock()
		},
		Finish: func() {
			t.mu.Lock()
			if t.returning == h {
				t.returning = nil
				t.hasLive = false
			}
			t.mu.Unlock()
		},
	})
	t.returning = h
	t.logger.Debug("pointer left, returning to rest")
}

// Active reports whether the pointer is being tracked.
func (t *Tracker) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Returning reports whether a return-to-rest blend is in flight.
func (t *Tracker) Returning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.returning.Active()
}

// Point returns where the avatar should look: the live target while
// tracking, the blended point while returning, rest otherwise.
func (t *Tracker) Point() mgl64.Vec3 {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case t.active && t.hasLive:
		return t.live
	case t.returning.Active():
		return t.blend
	default:
		return t.rest
	}
}

// Samples returns how many pointer samples have been accepted.
func (t *Tracker) Samples() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.samples
}

func (t *Tracker) cancelReturnLocked() {
	if t.returning != nil {
		t.returning.Cancel()
		t.returning = nil
	}
}

func lerpVec(a, b mgl64.Vec3, p float64) mgl64.Vec3 {
	return a.Add(b.Sub(a).Mul(p))
}

// Throttle returns the configured sample spacing.
func (t *Tracker) Throttle() time.Duration { return t.cfg.Throttle }
