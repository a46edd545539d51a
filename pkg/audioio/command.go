package audioio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
)

// CommandSource captures raw PCM16 from the stdout of an external recorder
// such as arecord or rec.
type CommandSource struct {
	cfg    Config
	logger *slog.Logger
	name   string
	path   string
	args   []string

	mu       sync.Mutex
	running  bool
	closed   bool
	cmd      *exec.Cmd
	cancel   context.CancelFunc
	streamCh chan AudioChunk
	stopCh   chan struct{}
	done     chan struct{}

	chunksRead  atomic.Int64
	samplesRead atomic.Int64
	overruns    atomic.Int64
}

// NewCommandSource creates a source that runs path with args and reads
// little-endian PCM16 in cfg's format from its stdout.
func NewCommandSource(cfg Config, logger *slog.Logger, name, path string, args ...string) *CommandSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandSource{
		cfg:      cfg,
		logger:   logger.With("component", "audioio.source", "backend", name),
		name:     name,
		path:     path,
		args:     args,
		streamCh: make(chan AudioChunk, 10),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the recorder.
func (s *CommandSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(runCtx, s.path, s.args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("%s: stdout pipe: %w", s.name, err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("%s: start %s: %w", s.name, s.path, err)
	}

	s.cmd = cmd
	s.cancel = cancel
	s.running = true
	s.stopCh = make(chan struct{})
	s.streamCh = make(chan AudioChunk, 10)
	s.done = make(chan struct{})

	go s.captureLoop(runCtx, cmd, stdout, s.streamCh, s.stopCh, s.done)

	s.logger.Info("audio capture started", "command", s.path)
	return nil
}

// captureLoop is the only sender on out and closes it on exit, after the
// recorder has been reaped.
func (s *CommandSource) captureLoop(ctx context.Context, cmd *exec.Cmd, r io.Reader, out chan AudioChunk, stop, done chan struct{}) {
	defer func() {
		_ = cmd.Wait()
		s.mu.Lock()
		if s.running && s.done == done {
			// The recorder exited on its own.
			s.running = false
			close(s.stopCh)
			s.cancel()
		}
		s.mu.Unlock()
		close(out)
		close(done)
	}()

	reader := bufio.NewReaderSize(r, s.cfg.BufferBytes()*2)
	buf := make([]byte, s.cfg.BufferBytes())
	for {
		if _, err := io.ReadFull(reader, buf); err != nil {
			if ctx.Err() == nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				s.logger.Warn("audio capture read failed", "error", err)
			}
			return
		}
		chunk := AudioChunk{
			Samples:    BytesToSamples(buf),
			SampleRate: s.cfg.SampleRate,
			Channels:   s.cfg.Channels,
		}
		select {
		case <-stop:
			return
		case out <- chunk:
			s.chunksRead.Add(1)
			s.samplesRead.Add(int64(len(chunk.Samples)))
		default:
			s.overruns.Add(1)
			s.logger.Debug("capture buffer full, dropping chunk")
		}
	}
}

// Stop kills the recorder and waits for the stream to close.
func (s *CommandSource) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	s.cancel()
	done := s.done
	s.mu.Unlock()

	<-done
	s.logger.Info("audio capture stopped")
	return nil
}

// Read reads the next audio chunk.
func (s *CommandSource) Read(ctx context.Context) (AudioChunk, error) {
	s.mu.Lock()
	stream := s.streamCh
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		return AudioChunk{}, ctx.Err()
	case chunk, ok := <-stream:
		if !ok {
			return AudioChunk{}, io.EOF
		}
		return chunk, nil
	}
}

// Stream returns the audio chunk channel.
func (s *CommandSource) Stream() <-chan AudioChunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamCh
}

// Config returns the audio configuration.
func (s *CommandSource) Config() Config { return s.cfg }

// Name returns the backend name.
func (s *CommandSource) Name() string { return s.name }

// Close stops capture. The source cannot be restarted.
func (s *CommandSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.Stop()
}

// Stats returns source statistics.
func (s *CommandSource) Stats() SourceStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	return SourceStats{
		ChunksRead:  s.chunksRead.Load(),
		SamplesRead: s.samplesRead.Load(),
		Overruns:    s.overruns.Load(),
		Running:     running,
		Backend:     s.name,
	}
}

var _ SourceWithStats = (*CommandSource)(nil)

// CommandSink plays raw PCM16 by writing it to the stdin of an external
// player such as aplay or play.
type CommandSink struct {
	cfg    Config
	logger *slog.Logger
	name   string
	path   string
	args   []string

	mu      sync.Mutex
	running bool
	closed  bool
	cmd     *exec.Cmd
	cancel  context.CancelFunc
	queue   chan []byte
	stopCh  chan struct{}
}

// NewCommandSink creates a sink that runs path with args and writes PCM16
// in cfg's format to its stdin.
func NewCommandSink(cfg Config, logger *slog.Logger, name, path string, args ...string) *CommandSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandSink{
		cfg:    cfg,
		logger: logger.With("component", "audioio.sink", "backend", name),
		name:   name,
		path:   path,
		args:   args,
	}
}

// Start launches the player.
func (s *CommandSink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(runCtx, s.path, s.args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("%s: stdin pipe: %w", s.name, err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("%s: start %s: %w", s.name, s.path, err)
	}

	s.cmd = cmd
	s.cancel = cancel
	s.running = true
	s.queue = make(chan []byte, 64)
	s.stopCh = make(chan struct{})

	go s.playLoop(stdin, s.queue, s.stopCh)

	s.logger.Info("audio playback started", "command", s.path)
	return nil
}

func (s *CommandSink) playLoop(w io.WriteCloser, queue chan []byte, stop chan struct{}) {
	defer w.Close()
	for {
		select {
		case <-stop:
			return
		case data := <-queue:
			if _, err := w.Write(data); err != nil {
				s.logger.Warn("audio playback write failed", "error", err)
				return
			}
		}
	}
}

// Write queues chunk for playback, resampling to the sink's rate.
func (s *CommandSink) Write(chunk AudioChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if !s.running {
		return errors.New("sink not running")
	}

	samples := chunk.Samples
	if chunk.SampleRate != 0 && chunk.SampleRate != s.cfg.SampleRate {
		samples = Resample(samples, chunk.SampleRate, s.cfg.SampleRate)
	}
	select {
	case s.queue <- SamplesToBytes(samples):
	default:
		s.logger.Debug("playback queue full, dropping chunk")
	}
	return nil
}

// Clear discards queued audio.
func (s *CommandSink) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	for {
		select {
		case <-s.queue:
		default:
			return nil
		}
	}
}

// Stop closes the player's stdin and waits for it to exit.
func (s *CommandSink) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	cmd, cancel := s.cmd, s.cancel
	s.mu.Unlock()

	err := cmd.Wait()
	cancel()
	s.logger.Info("audio playback stopped")
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

// Name returns the backend name.
func (s *CommandSink) Name() string { return s.name }

// Close stops playback. The sink cannot be restarted.
func (s *CommandSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.Stop()
}

// alsaArgs returns arecord/aplay flags for cfg.
func alsaArgs(cfg Config) []string {
	device := cfg.Device
	if device == "" {
		device = "default"
	}
	return []string{
		"-q", "-D", device,
		"-f", "S16_LE",
		"-r", strconv.Itoa(cfg.SampleRate),
		"-c", strconv.Itoa(cfg.Channels),
		"-t", "raw",
	}
}

// soxArgs returns the raw-format flags shared by rec and play.
func soxArgs(cfg Config) []string {
	return []string{
		"-q",
		"-r", strconv.Itoa(cfg.SampleRate),
		"-c", strconv.Itoa(cfg.Channels),
		"-b", "16", "-e", "signed-integer",
		"-t", "raw",
	}
}
