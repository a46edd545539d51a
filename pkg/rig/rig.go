// Package rig drives the avatar's head, eyes and facial blend shapes.
//
// The Controller owns all bone and morph state. Each frame it composes, in
// order: speed-limited target following, the idle bob, head aim, eye lock
// and aim, mouth and expression weights, then any emote overlay. Setters may
// be called from any goroutine and take effect on the next pass.
package rig

import (
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/teslashibe/go-avatar/pkg/frame"
	"github.com/teslashibe/go-avatar/pkg/scene"
)

// ErrNoModel is returned by Load when given a nil model.
var ErrNoModel = errors.New("rig: no model")

// Controller is the facial rig.
type Controller struct {
	cfg        Config
	sched      *frame.Scheduler
	logger     *slog.Logger
	correction mgl64.Quat

	mu sync.Mutex

	// Bound scene handles
	head       scene.Bone
	headBase   mgl64.Vec3
	eyes       []scene.Bone
	eyeOffsets []mgl64.Vec3
	meshes     []scene.Mesh
	rest       mgl64.Vec3

	// Inputs
	aim    mgl64.Vec3
	hasAim bool
	mouth  float64

	// Driven state
	eyeTarget   mgl64.Vec3
	headTarget  mgl64.Vec3
	happiness   float64
	happyTarget float64
	happyTween  *frame.Handle
	emote       Emote
	emoteP      float64
	emoteTween  *frame.Handle

	epoch   time.Time
	started bool
	compose *frame.Handle
	pose    Pose
}

// New creates a controller. Call Load to bind a model and Start to begin
// composing.
func New(sched *frame.Scheduler, cfg Config, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		cfg:        cfg,
		sched:      sched,
		logger:     logger.With("component", "rig.controller"),
		correction: eulerXYZ(cfg.EyeCorrection),
		pose:       Pose{Morphs: map[string]float64{}},
	}
}

// Load binds the bones and meshes of model. Eye offsets from the head and
// the resting target are captured here once. Missing bones are tolerated.
func (c *Controller) Load(model scene.Model) error {
	if model == nil {
		return ErrNoModel
	}

	var head scene.Bone
	var eyes []scene.Bone
	headMatch := strings.ToLower(c.cfg.HeadMatch)
	eyeMatch := strings.ToLower(c.cfg.EyeMatch)
	for _, b := range model.Bones() {
		name := strings.ToLower(b.Name())
		switch {
		case eyeMatch != "" && strings.Contains(name, eyeMatch):
			eyes = append(eyes, b)
		case head == nil && headMatch != "" && strings.Contains(name, headMatch):
			head = b
		}
	}
	sort.Slice(eyes, func(i, j int) bool { return eyes[i].Name() < eyes[j].Name() })

	var headPos mgl64.Vec3
	if head != nil {
		headPos = head.World().Position
	}
	offsets := make([]mgl64.Vec3, len(eyes))
	var centroid mgl64.Vec3
	for i, e := range eyes {
		p := e.World().Position
		offsets[i] = p.Sub(headPos)
		centroid = centroid.Add(p)
	}
	switch {
	case len(eyes) > 0:
		centroid = centroid.Mul(1 / float64(len(eyes)))
	case head != nil:
		centroid = headPos
	}
	rest := centroid.Add(mgl64.Vec3{0, 0, c.cfg.RestDepth})

	c.mu.Lock()
	c.head = head
	c.headBase = headPos
	c.eyes = eyes
	c.eyeOffsets = offsets
	c.meshes = model.Meshes()
	c.rest = rest
	c.eyeTarget = rest
	c.headTarget = rest
	c.mu.Unlock()

	c.logger.Info("model bound",
		"head", head != nil,
		"eyes", len(eyes),
		"meshes", len(model.Meshes()),
		"rest", rest)
	return nil
}

// Start schedules the per-frame compose pass. Calling it twice is a no-op.
func (c *Controller) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.compose.Active() {
		return
	}
	c.compose = c.sched.Schedule(frame.PhaseCompose, frame.Every(c.step))
}

// Close cancels the compose pass and every running transition.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.compose.Cancel()
	c.happyTween.Cancel()
	c.emoteTween.Cancel()
	c.compose, c.happyTween, c.emoteTween = nil, nil, nil
}

// Rest returns the resting target captured at load.
func (c *Controller) Rest() mgl64.Vec3 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rest
}

// AimAt sets the point the eye and head targets follow.
func (c *Controller) AimAt(p mgl64.Vec3) {
	c.mu.Lock()
	c.aim = p
	c.hasAim = true
	c.mu.Unlock()
}

// ClearAim sends both targets back toward rest.
func (c *Controller) ClearAim() {
	c.mu.Lock()
	c.hasAim = false
	c.mu.Unlock()
}

// SetMouthOpen sets the mouth openness, clamped to [0,1].
func (c *Controller) SetMouthOpen(v float64) {
	c.mu.Lock()
	c.mouth = clamp(v, 0, 1)
	c.mu.Unlock()
}

// SetHappy eases happiness toward 1 (true) or 0 (false). The transition
// starts from the current value. Repeating the request for the target
// already in flight leaves that transition running.
func (c *Controller) SetHappy(happy bool) {
	target := 0.0
	if happy {
		target = 1
	}
	c.sched.Post(func() { c.startHappy(target) })
}

// Nod starts a nod overlay, superseding any running overlay.
func (c *Controller) Nod() {
	c.sched.Post(func() { c.startEmote(EmoteNod) })
}

// Shake starts a head-shake overlay, superseding any running overlay.
func (c *Controller) Shake() {
	c.sched.Post(func() { c.startEmote(EmoteShake) })
}

// Play starts the named overlay. It reports false for unknown names.
func (c *Controller) Play(e Emote) bool {
	switch e {
	case EmoteNod:
		c.Nod()
	case EmoteShake:
		c.Shake()
	default:
		return false
	}
	return true
}

func (c *Controller) startHappy(target float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.happyTween.Active() && c.happyTarget == target {
		return
	}
	c.happyTween.Cancel()
	c.happyTween = nil
	c.happyTarget = target
	if c.happiness == target {
		return
	}

	from := c.happiness
	var h *frame.Handle
	h = c.sched.Schedule(frame.PhaseAnimate, &frame.Tween{
		Duration: c.cfg.ExpressionDuration,
		Ease:     frame.EaseInOutQuad,
		Update: func(p float64) {
			c.mu.Lock()
			c.happiness = clamp(lerp(from, target, p), 0, 1)
			c.mu.Unlock()
		},
		Finish: func() {
			c.mu.Lock()
			if c.happyTween == h {
				c.happyTween = nil
			}
			c.mu.Unlock()
		},
	})
	c.happyTween = h
}

func (c *Controller) startEmote(e Emote) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.emoteTween.Cancel()
	c.emote = e
	c.emoteP = 0

	var h *frame.Handle
	h = c.sched.Schedule(frame.PhaseAnimate, &frame.Tween{
		Duration: c.cfg.EmoteDuration,
		Ease:     frame.Linear,
		Update: func(p float64) {
			c.mu.Lock()
			if c.emoteTween == h {
				c.emoteP = p
			}
			c.mu.Unlock()
		},
		Finish: func() {
			c.mu.Lock()
			if c.emoteTween == h {
				c.emote = EmoteNone
				c.emoteP = 0
				c.emoteTween = nil
			}
			c.mu.Unlock()
		},
	})
	c.emoteTween = h
	c.logger.Debug("emote started", "emote", e.String())
}

// step is the compose pass.
func (c *Controller) step(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		c.epoch = now
		c.started = true
	}

	desired := c.rest
	if c.hasAim {
		desired = c.aim
	}
	c.eyeTarget = stepToward(c.eyeTarget, desired, c.cfg.EyeMaxStep)
	c.headTarget = stepToward(c.headTarget, desired, c.cfg.HeadMaxStep)

	off := c.emote.evaluate(c.cfg, c.emoteP)

	pose := Pose{
		Time:       now,
		Morphs:     make(map[string]float64, 7),
		Mouth:      c.mouth,
		Happiness:  c.happiness,
		Emote:      c.emote.String(),
		EyeTarget:  vec(c.eyeTarget),
		HeadTarget: vec(c.headTarget),
	}

	eyePos := make([]mgl64.Vec3, len(c.eyes))
	if c.head != nil {
		pos := c.headBase
		pos[1] += bob(c.cfg.BobAmplitude, c.cfg.BobPeriod.Seconds(), now.Sub(c.epoch).Seconds())

		rot := lookRotation(pos, c.headTarget)
		if off.Pitch != 0 || off.Yaw != 0 {
			rot = rot.Mul(mgl64.QuatRotate(off.Pitch, mgl64.Vec3{1, 0, 0})).
				Mul(mgl64.QuatRotate(off.Yaw, mgl64.Vec3{0, 1, 0})).
				Normalize()
		}
		t := scene.Transform{Position: pos, Rotation: rot}
		c.head.SetWorld(t)
		hp := bonePose(c.head.Name(), t)
		pose.Head = &hp

		// Keep the eyes in their sockets.
		for i := range c.eyes {
			eyePos[i] = rot.Rotate(c.eyeOffsets[i]).Add(pos)
		}
	} else {
		for i, e := range c.eyes {
			eyePos[i] = e.World().Position
		}
	}

	for i, e := range c.eyes {
		t := scene.Transform{
			Position: eyePos[i],
			Rotation: lookRotation(eyePos[i], c.eyeTarget).Mul(c.correction).Normalize(),
		}
		e.SetWorld(t)
		pose.Eyes = append(pose.Eyes, bonePose(e.Name(), t))
	}

	m, h := c.mouth, c.happiness
	names := c.cfg.Morphs
	c.setMorph(pose.Morphs, names.Mouth, m)
	c.setMorph(pose.Morphs, names.CalmClosed, (1-m)*h)
	c.setMorph(pose.Morphs, names.AngryClosed, (1-m)*(1-h))
	c.setMorph(pose.Morphs, names.HappyOpen, m*h)
	c.setMorph(pose.Morphs, names.AngryOpen, m*(1-h))
	c.setMorph(pose.Morphs, names.LeftLid, off.Lid)
	c.setMorph(pose.Morphs, names.RightLid, off.Lid)

	c.pose = pose
}

func (c *Controller) setMorph(out map[string]float64, name string, w float64) {
	if name == "" {
		return
	}
	out[name] = w
	for _, mesh := range c.meshes {
		mesh.SetMorphWeight(name, w)
	}
}

// Pose returns a copy of the last composed pose.
func (c *Controller) Pose() Pose {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pose.clone()
}

// Happiness returns the current valence in [0,1].
func (c *Controller) Happiness() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.happiness
}

// MouthOpen returns the current mouth openness.
func (c *Controller) MouthOpen() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mouth
}

// Emote returns the running overlay and its progress.
func (c *Controller) Emote() (Emote, float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.emote, c.emoteP
}

// Targets returns the current eye and head targets.
func (c *Controller) Targets() (eye, head mgl64.Vec3) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.eyeTarget, c.headTarget
}
