package gaze

import (
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/teslashibe/go-avatar/pkg/scene"
)

// Config holds the tunables for pointer gaze tracking
type Config struct {
	// Viewport the pointer coordinates are relative to (pixels)
	Width  float64
	Height float64

	// Timing
	Throttle       time.Duration // Minimum spacing between accepted samples
	ReturnDuration time.Duration // Blend back to rest after the pointer leaves

	// Plane pointer rays are intersected with
	Plane scene.Plane
}

// DefaultConfig returns the settings the avatar view is laid out for
func DefaultConfig() Config {
	return Config{
		Width:          500,
		Height:         500,
		Throttle:       16 * time.Millisecond, // ~60 samples per second
		ReturnDuration: 200 * time.Millisecond,
		Plane: scene.Plane{
			Normal: mgl64.Vec3{0, 0, 1},
		},
	}
}
