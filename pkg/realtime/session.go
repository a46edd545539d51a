// Package realtime manages a conversational session with a realtime speech
// model: credential exchange, peer negotiation, the JSON event channel, the
// tool registration handshake and post-tool continuations.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

)

// Session is the realtime session state machine. Its methods are safe for
// concurrent use; transport callbacks run on transport goroutines.
type Session struct {
	config *Config
	logger *slog.Logger

	mu            sync.RWMutex
	state         State
	gen           uint64
	ch            Channel
	open          bool
	cancel        context.CancelFunc
	stopMedia     func()
	voice         string
	toolsDeclared bool
	events        []Event
	timers        map[*time.Timer]struct{}

	// Callbacks
	onEvent        func(ev Event, outbound bool)
	onFunctionCall func(fc FunctionCall)
	onToolCall     func(call ToolCall)
	onAudio        func(samples []int16)
	onStateChange  func(from, to State)
}

// NewSession creates a session in the Idle state.
func NewSession(opts ...Option) (*Session, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	return &Session{
		config: cfg,
		logger: cfg.Logger.With("component", "realtime.session"),
		state:  StateIdle,
		timers: make(map[*time.Timer]struct{}),
	}, nil
}

// Start obtains a credential, starts the microphone, negotiates the peer
// connection and waits for the event channel to open.
//
// A credential failure returns *CredentialError and a microphone failure
// returns *MediaError; both leave the session Idle. Negotiation failures,
// including the channel not opening within OpenTimeout, return
// *NegotiationError and leave the session Failed.
func (s *Session) Start(ctx context.Context, prompt, voice string) error {
	s.mu.Lock()
	if s.state == StateConnecting || s.state == StateActive || s.state == StateClosing {
		s.mu.Unlock()
		return ErrAlreadyActive
	}
	s.gen++
	gen := s.gen
	attemptCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	s.setState(StateConnecting)
	s.logger.Info("starting session", "voice", voice)

	cred, err := s.config.Credentials.Fetch(attemptCtx, prompt, voice)
	if err != nil {
		var ce *CredentialError
		if !errors.As(err, &ce) {
			err = &CredentialError{Cause: err}
		}
		s.logger.Error("credential exchange failed", "error", err)
		s.abort(gen, StateIdle)
		return err
	}

	// Capture outlives Start, so it gets its own context.
	mic := s.config.Microphone
	stopMedia := func() {}
	if mic != nil {
		mediaCtx, cancelMedia := context.WithCancel(context.Background())
		if err := mic.Start(mediaCtx); err != nil {
			cancelMedia()
			s.logger.Error("microphone unavailable", "error", err)
			s.abort(gen, StateIdle)
			return &MediaError{Cause: err}
		}
		stopMedia = func() {
			cancelMedia()
			_ = mic.Stop()
		}
	}

	opened := make(chan struct{})
	ready := make(chan struct{})
	var openOnce sync.Once

	handlers := Handlers{
		OnOpen: func() {
			<-ready
			s.handleOpen(gen)
			openOnce.Do(func() { close(opened) })
		},
		OnMessage: func(data []byte) {
			<-ready
			s.handleMessage(gen, data)
		},
		OnAudio: func(samples []int16) {
			s.handleAudio(gen, samples)
		},
		OnClose: func(err error) {
			s.handleClose(gen, err)
		},
	}

	ch, err := s.config.Transport.Connect(attemptCtx, ConnectRequest{
		Credential: cred,
		Model:      s.config.Model,
		Microphone: mic,
	}, handlers)
	if err != nil {
		close(ready)
		stopMedia()
		var ne *NegotiationError
		if !errors.As(err, &ne) {
			err = &NegotiationError{Stage: "connect", Cause: err}
		}
		s.logger.Error("negotiation failed", "error", err)
		s.abort(gen, StateFailed)
		return err
	}

	s.mu.Lock()
	if s.gen != gen {
		// Stop ran while Connect was in flight.
		s.mu.Unlock()
		close(ready)
		_ = ch.Close()
		stopMedia()
		return context.Canceled
	}
	s.ch = ch
	s.stopMedia = stopMedia
	s.voice = cred.Voice
	if s.voice == "" {
		s.voice = voice
	}
	s.mu.Unlock()
	close(ready)

	timeout := s.config.OpenTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().OpenTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-opened:
		s.logger.Info("session active", "model", s.config.Model)
		return nil
	case <-timer.C:
		err = &NegotiationError{Stage: "open", Cause: ErrOpenTimeout}
	case <-attemptCtx.Done():
		err = &NegotiationError{Stage: "open", Cause: attemptCtx.Err()}
	}

	s.mu.Lock()
	current := s.gen == gen
	s.mu.Unlock()
	if !current {
		return context.Canceled
	}
	s.logger.Error("data channel did not open", "error", err)
	s.teardown(gen, StateFailed)
	return err
}

// Stop tears the session down. It is idempotent and never fails.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.state == StateIdle && s.ch == nil {
		s.mu.Unlock()
		return
	}
	gen := s.gen
	s.mu.Unlock()

	s.logger.Info("stopping session")
	s.teardown(gen, StateIdle)
}

// teardown releases the connection for generation gen and settles in final.
func (s *Session) teardown(gen uint64, final State) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.gen++
	ch := s.ch
	cancel := s.cancel
	stopMedia := s.stopMedia
	s.ch = nil
	s.stopMedia = nil
	s.open = false
	s.cancel = nil
	s.toolsDeclared = false
	s.stopTimersLocked()
	s.mu.Unlock()

	s.setState(StateClosing)
	if cancel != nil {
		cancel()
	}
	if ch != nil {
		if err := ch.Close(); err != nil {
			s.logger.Debug("channel close", "error", err)
		}
	}
	if stopMedia != nil {
		stopMedia()
	}
	s.setState(final)
}

// abort settles a pre-connection failure.
func (s *Session) abort(gen uint64, final State) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.cancel = nil
	s.mu.Unlock()
	s.setState(final)
}

func (s *Session) stopTimersLocked() {
	for t := range s.timers {
		t.Stop()
	}
	s.timers = make(map[*time.Timer]struct{})
}

// Send stamps ev with an id and timestamp when absent, transmits it and
// records it in the event log. With no open channel it logs and returns
// ErrChannelUnavailable.
func (s *Session) Send(ev Event) error {
	s.mu.RLock()
	ch := s.ch
	open := s.open
	s.mu.RUnlock()

	if ch == nil || !open {
		s.logger.Error("send without open channel", "type", ev.Type)
		s.config.Metrics.DroppedSend()
		return ErrChannelUnavailable
	}

	ev.Stamp(s.config.Clock.Now())
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("realtime: encode %s: %w", ev.Type, err)
	}
	if err := ch.Send(data); err != nil {
		s.logger.Error("send failed", "type", ev.Type, "error", err)
		s.config.Metrics.DroppedSend()
		if errors.Is(err, ErrChannelUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrChannelUnavailable, err)
	}

	s.config.Metrics.EventSent(ev.Type)
	s.record(ev)
	s.emitEvent(ev, true)
	return nil
}

// SendText sends a user text message followed by a request for a text and
// audio response.
func (s *Session) SendText(text string) error {
	if err := s.Send(UserMessage(text)); err != nil {
		return err
	}
	return s.Send(ResponseCreate("text", "audio"))
}

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Voice returns the voice id of the current credential.
func (s *Session) Voice() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.voice
}

// Events returns a copy of the event log, most recent first.
func (s *Session) Events() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// OnEvent sets the callback for every logged event in either direction.
func (s *Session) OnEvent(fn func(ev Event, outbound bool)) {
	s.mu.Lock()
	s.onEvent = fn
	s.mu.Unlock()
}

// OnFunctionCall sets the callback for raw function_call items.
func (s *Session) OnFunctionCall(fn func(fc FunctionCall)) {
	s.mu.Lock()
	s.onFunctionCall = fn
	s.mu.Unlock()
}

// OnToolCall sets the callback for decoded calls to registered tools.
func (s *Session) OnToolCall(fn func(call ToolCall)) {
	s.mu.Lock()
	s.onToolCall = fn
	s.mu.Unlock()
}

// OnAudio sets the callback for decoded remote audio.
func (s *Session) OnAudio(fn func(samples []int16)) {
	s.mu.Lock()
	s.onAudio = fn
	s.mu.Unlock()
}

// OnStateChange sets the callback for state transitions.
func (s *Session) OnStateChange(fn func(from, to State)) {
	s.mu.Lock()
	s.onStateChange = fn
	s.mu.Unlock()
}

func (s *Session) setState(to State) {
	s.mu.Lock()
	from := s.state
	s.state = to
	fn := s.onStateChange
	s.mu.Unlock()

	if from == to {
		return
	}
	s.config.Metrics.SessionState(int(to))
	s.logger.Debug("state change", "from", from.String(), "to", to.String())
	if fn != nil {
		fn(from, to)
	}
}

func (s *Session) handleOpen(gen uint64) {
	s.mu.Lock()
	if s.gen != gen || s.ch == nil {
		s.mu.Unlock()
		return
	}
	s.open = true
	s.events = nil
	s.mu.Unlock()
	s.setState(StateActive)
}

func (s *Session) handleClose(gen uint64, err error) {
	s.mu.RLock()
	current := s.gen == gen && s.ch != nil
	s.mu.RUnlock()
	if !current {
		return
	}
	if err != nil {
		s.logger.Warn("connection lost", "error", err)
		s.teardown(gen, StateFailed)
		return
	}
	s.teardown(gen, StateIdle)
}

func (s *Session) handleAudio(gen uint64, samples []int16) {
	s.mu.RLock()
	current := s.gen == gen
	fn := s.onAudio
	s.mu.RUnlock()
	if current && fn != nil {
		fn(samples)
	}
}

// handleMessage parses, logs and dispatches one inbound message.
func (s *Session) handleMessage(gen uint64, data []byte) {
	s.mu.RLock()
	current := s.gen == gen
	s.mu.RUnlock()
	if !current {
		return
	}

	ev, err := ParseEvent(data)
	if err != nil {
		s.logger.Warn("dropping malformed event", "error", err, "bytes", len(data))
		s.config.Metrics.MalformedEvent()
		return
	}
	if ev.Timestamp == "" {
		ev.Timestamp = s.stamp()
	}
	s.config.Metrics.EventReceived(ev.Type)
	s.record(ev)
	s.emitEvent(ev, false)

	switch ev.Type {
	case EventSessionCreated:
		s.declareTools(gen)

	case EventResponseDone:
		for _, fc := range FunctionCalls(ev) {
			s.handleFunctionCall(gen, fc)
		}

	case EventError:
		var detail struct {
			Message string `json:"message"`
			Code    string `json:"code"`
		}
		_ = ev.Field("error", &detail)
		s.logger.Warn("server error", "code", detail.Code, "message", detail.Message)
	}
}

// declareTools sends session.update once per session.
func (s *Session) declareTools(gen uint64) {
	s.mu.Lock()
	if s.gen != gen || s.toolsDeclared {
		s.mu.Unlock()
		return
	}
	s.toolsDeclared = true
	s.mu.Unlock()

	if err := s.Send(SessionUpdate()); err != nil {
		s.mu.Lock()
		if s.gen == gen {
			s.toolsDeclared = false
		}
		s.mu.Unlock()
		return
	}
	s.logger.Info("tools declared", "count", len(ToolDeclarations()))
}

func (s *Session) handleFunctionCall(gen uint64, fc FunctionCall) {
	s.logger.Info("function call", "name", fc.Name, "call_id", fc.CallID)
	s.config.Metrics.ToolCall(fc.Name)

	s.mu.RLock()
	onFC := s.onFunctionCall
	onTool := s.onToolCall
	s.mu.RUnlock()

	if onFC != nil {
		onFC(fc)
	}

	call, err := DecodeTool(fc)
	switch {
	case errors.Is(err, ErrUnknownTool):
		s.logger.Debug("ignoring unknown tool", "name", fc.Name)
	case err != nil:
		s.logger.Warn("invalid tool arguments", "name", fc.Name, "error", err)
	case onTool != nil:
		onTool(call)
	}

	s.scheduleContinuation(gen)
}

// scheduleContinuation sends one response.create with the continuation
// instructions after ContinuationDelay, unless the session ends first.
func (s *Session) scheduleContinuation(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(s.config.ContinuationDelay, func() {
		s.mu.Lock()
		_, pending := s.timers[t]
		delete(s.timers, t)
		current := s.gen == gen
		s.mu.Unlock()
		if !pending || !current {
			return
		}
		if err := s.Send(ResponseContinue(ContinuationInstructions)); err == nil {
			s.config.Metrics.Continuation()
		}
	})
	s.timers[t] = struct{}{}
}

// record prepends ev to the log.
func (s *Session) record(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, Event{})
	copy(s.events[1:], s.events)
	s.events[0] = ev
	if limit := s.config.MaxEvents; limit > 0 && len(s.events) > limit {
		s.events = s.events[:limit]
	}
}

func (s *Session) emitEvent(ev Event, outbound bool) {
	s.mu.RLock()
	fn := s.onEvent
	s.mu.RUnlock()
	if fn != nil {
		fn(ev, outbound)
	}
}

func (s *Session) stamp() string {
	return s.config.Clock.Now().Format(time.RFC3339Nano)
}
