package audioio

import (
	"fmt"
	"log/slog"
	"runtime"
)

// NewSource creates a microphone source for cfg.
// If cfg.Backend is BackendAuto, the best available backend is selected.
func NewSource(cfg Config, logger *slog.Logger) (Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	backend := resolve(cfg.Backend)
	logger.Info("creating audio source",
		"backend", backend,
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
		"buffer_ms", cfg.BufferDuration.Milliseconds(),
	)

	switch backend {
	case BackendMock:
		return NewMockSource(cfg, logger), nil
	case BackendALSA:
		return NewCommandSource(cfg, logger, string(backend), "arecord", alsaArgs(cfg)...), nil
	case BackendSoX:
		return NewCommandSource(cfg, logger, string(backend), "rec", append(soxArgs(cfg), "-")...), nil
	default:
		return nil, fmt.Errorf("unsupported backend: %s", backend)
	}
}

// NewSink creates a speaker sink for cfg.
// If cfg.Backend is BackendAuto, the best available backend is selected.
func NewSink(cfg Config, logger *slog.Logger) (Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	backend := resolve(cfg.Backend)
	logger.Info("creating audio sink", "backend", backend, "sample_rate", cfg.SampleRate)

	switch backend {
	case BackendMock:
		return NewMockSink(), nil
	case BackendALSA:
		return NewCommandSink(cfg, logger, string(backend), "aplay", alsaArgs(cfg)...), nil
	case BackendSoX:
		return NewCommandSink(cfg, logger, string(backend), "play", append(soxArgs(cfg), "-")...), nil
	default:
		return nil, fmt.Errorf("unsupported backend: %s", backend)
	}
}

func resolve(b Backend) Backend {
	if b == "" || b == BackendAuto {
		return detectBestBackend()
	}
	return b
}

// detectBestBackend returns the best available backend for the current platform.
func detectBestBackend() Backend {
	switch runtime.GOOS {
	case "linux":
		return BackendALSA
	case "darwin":
		return BackendSoX
	default:
		return BackendMock
	}
}

// AvailableBackends returns the list of backends available on this platform.
func AvailableBackends() []Backend {
	backends := []Backend{BackendMock, BackendSoX}
	if runtime.GOOS == "linux" {
		backends = append(backends, BackendALSA)
	}
	return backends
}
