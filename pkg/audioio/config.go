// Package audioio provides microphone capture and speaker playback for the
// realtime session.
//
// Backends:
//   - ALSA (Linux) via arecord/aplay
//   - SoX (macOS and others) via rec/play
//   - Mock for CI and tests
//
// The backend is selected from the platform unless configured explicitly.
package audioio

import (
	"fmt"
	"time"
)

// Backend represents the audio backend type.
type Backend string

const (
	// BackendAuto selects the best available backend for the platform.
	BackendAuto Backend = "auto"
	// BackendALSA runs arecord and aplay.
	BackendALSA Backend = "alsa"
	// BackendSoX runs rec and play.
	BackendSoX Backend = "sox"
	// BackendMock uses an in-process generator.
	BackendMock Backend = "mock"
)

// Config holds audio configuration.
type Config struct {
	// Backend specifies which audio backend to use.
	// Default: "auto"
	Backend Backend `mapstructure:"backend" json:"backend"`

	// SampleRate is the audio sample rate in Hz.
	// Default: 24000 (what the realtime API expects)
	SampleRate int `mapstructure:"sample_rate" json:"sample_rate"`

	// Channels is the number of audio channels.
	// Default: 1 (mono)
	Channels int `mapstructure:"channels" json:"channels"`

	// BufferDuration is the size of audio buffers.
	// Default: 20ms (480 samples at 24kHz)
	BufferDuration time.Duration `mapstructure:"buffer_duration" json:"buffer_duration"`

	// Device is the backend-specific device name.
	// Examples:
	//   - ALSA: "default", "plughw:1,0"
	//   - SoX: ignored, the system default is used
	Device string `mapstructure:"device" json:"device"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Backend:        BackendAuto,
		SampleRate:     24000,
		Channels:       1,
		BufferDuration: 20 * time.Millisecond,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", c.Channels)
	}
	if c.BufferDuration <= 0 {
		return fmt.Errorf("buffer_duration must be positive, got %v", c.BufferDuration)
	}
	switch c.Backend {
	case "", BackendAuto, BackendALSA, BackendSoX, BackendMock:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	return nil
}

// BufferSize returns the number of frames per buffer.
func (c *Config) BufferSize() int {
	return int(float64(c.SampleRate) * c.BufferDuration.Seconds())
}

// BufferBytes returns the size of a buffer in bytes.
func (c *Config) BufferBytes() int {
	return c.BufferSize() * c.Channels * 2
}
