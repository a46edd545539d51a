package rig

import (
	"math"
	"time"
)

// MorphNames maps rig channels onto the blend-shape targets of a model.
// Empty names disable a channel.
type MorphNames struct {
	Mouth       string
	CalmClosed  string
	AngryClosed string
	HappyOpen   string
	AngryOpen   string
	LeftLid     string
	RightLid    string
}

// Config holds all tunable parameters for the facial rig
type Config struct {
	// Bone lookup (case-insensitive substring match, like the exporter names them)
	HeadMatch string
	EyeMatch  string

	// Resting target sits this far in front (+Z) of the eye centroid
	RestDepth float64

	// Target following (world units per frame)
	EyeMaxStep  float64
	HeadMaxStep float64

	// Idle bob on head Y
	BobAmplitude float64
	BobPeriod    time.Duration

	// Transitions
	ExpressionDuration time.Duration
	EmoteDuration      time.Duration
	EmoteCycles        float64
	NodAngle           float64 // radians of pitch at the peak of a nod
	ShakeAngle         float64 // radians of yaw at the peak of a shake

	// Lid sweep: open over [0, LidOpenEnd], hold, close over [LidCloseStart, 1]
	LidOpenEnd    float64
	LidCloseStart float64

	// Rest-pose fix-up applied after aiming each eye (XYZ Euler, radians)
	EyeCorrection [3]float64

	Morphs MorphNames
}

// DefaultConfig returns the tuning the character asset was authored for
func DefaultConfig() Config {
	return Config{
		HeadMatch: "head",
		EyeMatch:  "eye",

		RestDepth: 2,

		EyeMaxStep:  0.15,
		HeadMaxStep: 0.05,

		BobAmplitude: 0.02,
		BobPeriod:    4 * time.Second,

		ExpressionDuration: 500 * time.Millisecond,
		EmoteDuration:      1000 * time.Millisecond,
		EmoteCycles:        3,
		NodAngle:           0.15, // ~9°
		ShakeAngle:         0.2,  // ~11°

		LidOpenEnd:    0.2,
		LidCloseStart: 0.8,

		EyeCorrection: [3]float64{math.Pi / 2, 0, 0},

		Morphs: MorphNames{
			Mouth:       "MouthOpen",
			CalmClosed:  "HappyClosed",
			AngryClosed: "UpsetClosed",
			HappyOpen:   "HappyOpen",
			AngryOpen:   "UpsetOpen",
			LeftLid:     "LeftLid",
			RightLid:    "RightLid",
		},
	}
}
