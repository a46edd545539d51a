// Package config loads go-avatar settings from .env, an optional YAML file
// and AVATAR_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/teslashibe/go-avatar/pkg/audioio"
	"github.com/teslashibe/go-avatar/pkg/realtime"
)

// EnvPrefix prefixes every environment override, e.g. AVATAR_SERVER_ADDR.
const EnvPrefix = "AVATAR"

// DefaultPrompt is the persona used when a start request has none.
const DefaultPrompt = `You are a witty and friendly AI chatbot designed for casual conversation with general users.
Your tone should be upbeat, engaging, and occasionally humorous. Think clever, not clownish.
Always prioritize clarity and friendliness, and aim to make interactions enjoyable without sacrificing coherence.
Use emojis sparingly and only when they enhance the message.
If a topic is unclear, gently ask for clarification in a humorous or lighthearted way.
Do not make up facts or give advice outside your capabilities.
If you don't know something, admit it with charm. Be entertaining, but stay useful.`

// Voice selectors accepted by the credential endpoint.
const (
	VoiceMale   = "male"
	VoiceFemale = "female"
)

// Transport names.
const (
	TransportWebRTC    = "webrtc"
	TransportWebSocket = "websocket"
)

// Config holds all process configuration.
type Config struct {
	LogLevel string         `mapstructure:"log_level"`
	Server   ServerConfig   `mapstructure:"server"`
	Realtime RealtimeConfig `mapstructure:"realtime"`
	Audio    audioio.Config `mapstructure:"audio"`
	Avatar   AvatarConfig   `mapstructure:"avatar"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	StaticDir    string        `mapstructure:"static_dir"`
	StartTimeout time.Duration `mapstructure:"start_timeout"`
}

// RealtimeConfig configures the conversational session.
type RealtimeConfig struct {
	// CredentialURL mints ephemeral keys (POST {prompt, voice}).
	CredentialURL string `mapstructure:"credential_url"`

	// Transport is "webrtc" or "websocket".
	Transport string `mapstructure:"transport"`

	// BaseURL is the SDP endpoint for webrtc or the websocket URL.
	BaseURL string `mapstructure:"base_url"`

	Model             string        `mapstructure:"model"`
	Prompt            string        `mapstructure:"prompt"`
	Voice             string        `mapstructure:"voice"`
	ContinuationDelay time.Duration `mapstructure:"continuation_delay"`
	OpenTimeout       time.Duration `mapstructure:"open_timeout"`
	MaxEvents         int           `mapstructure:"max_events"`

	// Speaker plays remote audio through the audio backend.
	Speaker bool `mapstructure:"speaker"`
}

// AvatarConfig configures the animated character.
type AvatarConfig struct {
	// ModelPath is a .glb/.gltf file. Empty uses a built-in head.
	ModelPath string `mapstructure:"model_path"`

	FrameRate      int           `mapstructure:"frame_rate"`
	ViewportWidth  float64       `mapstructure:"viewport_width"`
	ViewportHeight float64       `mapstructure:"viewport_height"`
	MouthGain      float64       `mapstructure:"mouth_gain"`
	AudioIdle      time.Duration `mapstructure:"audio_idle"`
	PointerHz      float64       `mapstructure:"pointer_hz"`
}

// FrameInterval returns the scheduler tick interval.
func (a AvatarConfig) FrameInterval() time.Duration {
	if a.FrameRate <= 0 {
		return time.Second / 60
	}
	return time.Second / time.Duration(a.FrameRate)
}

// defaults seeds v. Every key must have a default so AutomaticEnv can
// override it during Unmarshal.
func defaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.static_dir", "")
	v.SetDefault("server.start_timeout", 30*time.Second)

	v.SetDefault("realtime.credential_url", "http://localhost:3000/api/session")
	v.SetDefault("realtime.transport", TransportWebRTC)
	v.SetDefault("realtime.base_url", "")
	v.SetDefault("realtime.model", realtime.DefaultModel)
	v.SetDefault("realtime.prompt", DefaultPrompt)
	v.SetDefault("realtime.voice", VoiceMale)
	v.SetDefault("realtime.continuation_delay", 500*time.Millisecond)
	v.SetDefault("realtime.open_timeout", 15*time.Second)
	v.SetDefault("realtime.max_events", 1000)
	v.SetDefault("realtime.speaker", false)

	audio := audioio.DefaultConfig()
	v.SetDefault("audio.backend", string(audio.Backend))
	v.SetDefault("audio.sample_rate", audio.SampleRate)
	v.SetDefault("audio.channels", audio.Channels)
	v.SetDefault("audio.buffer_duration", audio.BufferDuration)
	v.SetDefault("audio.device", audio.Device)

	v.SetDefault("avatar.model_path", "")
	v.SetDefault("avatar.frame_rate", 60)
	v.SetDefault("avatar.viewport_width", 500)
	v.SetDefault("avatar.viewport_height", 500)
	v.SetDefault("avatar.mouth_gain", 1.0)
	v.SetDefault("avatar.audio_idle", 300*time.Millisecond)
	v.SetDefault("avatar.pointer_hz", 60.0)
}

// Load reads .env (if present), then configFile (if non-empty) and finally
// AVATAR_* environment variables, in increasing precedence.
func Load(configFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	defaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Realtime.Transport {
	case TransportWebRTC, TransportWebSocket:
	default:
		return fmt.Errorf("realtime.transport must be %q or %q, got %q", TransportWebRTC, TransportWebSocket, c.Realtime.Transport)
	}
	switch c.Realtime.Voice {
	case VoiceMale, VoiceFemale:
	default:
		return fmt.Errorf("realtime.voice must be %q or %q, got %q", VoiceMale, VoiceFemale, c.Realtime.Voice)
	}
	if c.Realtime.CredentialURL == "" {
		return errors.New("realtime.credential_url is required")
	}
	if c.Avatar.ViewportWidth <= 0 || c.Avatar.ViewportHeight <= 0 {
		return fmt.Errorf("avatar viewport must be positive, got %vx%v", c.Avatar.ViewportWidth, c.Avatar.ViewportHeight)
	}
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio: %w", err)
	}
	return nil
}
