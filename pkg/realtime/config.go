package realtime

import (
	"log/slog"
	"time"

	"github.com/teslashibe/go-avatar/pkg/audioio"
	"github.com/teslashibe/go-avatar/pkg/frame"
	"github.com/teslashibe/go-avatar/pkg/metrics"
)

const (
	// DefaultModel is the realtime model requested during negotiation.
	DefaultModel = "gpt-4o-realtime-preview-2024-12-17"

	// DefaultBaseURL is the realtime signalling endpoint.
	DefaultBaseURL = "https://api.openai.com/v1/realtime"

	// DataChannelLabel names the event data channel.
	DataChannelLabel = "oai-events"
)

// Config holds the session configuration.
type Config struct {
	// Credentials mints the per-session secret.
	Credentials Credentials

	// Transport establishes the peer connection.
	Transport Transport

	// Microphone is the local audio source. Nil disables local audio.
	Microphone audioio.Source

	// Model is passed to the transport.
	Model string

	// ContinuationDelay is the wait between a function call and the
	// follow-up response.create.
	ContinuationDelay time.Duration

	// OpenTimeout bounds the wait for the data channel to open.
	OpenTimeout time.Duration

	// MaxEvents caps the event log. Zero keeps every event.
	MaxEvents int

	// Clock stamps outbound and inbound events.
	Clock frame.Clock

	// Metrics receives protocol counters. May be nil.
	Metrics *metrics.Metrics

	// Logger is the structured logger to use.
	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Model:             DefaultModel,
		ContinuationDelay: 500 * time.Millisecond,
		OpenTimeout:       15 * time.Second,
		MaxEvents:         1000,
		Clock:             frame.SystemClock{},
		Logger:            slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks the configuration for required fields.
func (c *Config) Validate() error {
	if c.Credentials == nil {
		return ErrMissingCredentials
	}
	if c.Transport == nil {
		return ErrMissingTransport
	}
	return nil
}

// Option configures a Session.
type Option func(*Config)

// WithCredentials sets the credential source.
func WithCredentials(c Credentials) Option {
	return func(cfg *Config) {
		cfg.Credentials = c
	}
}

// WithTransport sets the peer transport.
func WithTransport(t Transport) Option {
	return func(cfg *Config) {
		cfg.Transport = t
	}
}

// WithMicrophone sets the local audio source.
func WithMicrophone(src audioio.Source) Option {
	return func(cfg *Config) {
		cfg.Microphone = src
	}
}

// WithModel sets the realtime model.
func WithModel(model string) Option {
	return func(cfg *Config) {
		cfg.Model = model
	}
}

// WithContinuationDelay sets the delay before the post-tool response.create.
func WithContinuationDelay(d time.Duration) Option {
	return func(cfg *Config) {
		cfg.ContinuationDelay = d
	}
}

// WithOpenTimeout sets how long Start waits for the data channel.
func WithOpenTimeout(d time.Duration) Option {
	return func(cfg *Config) {
		cfg.OpenTimeout = d
	}
}

// WithMaxEvents caps the event log.
func WithMaxEvents(n int) Option {
	return func(cfg *Config) {
		cfg.MaxEvents = n
	}
}

// WithClock sets the clock used for event timestamps.
func WithClock(c frame.Clock) Option {
	return func(cfg *Config) {
		cfg.Clock = c
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(cfg *Config) {
		cfg.Metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *Config) {
		cfg.Logger = logger
	}
}
