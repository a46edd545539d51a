// Package avatar assembles the talking head: frame loop, rig, gaze, the
// realtime session and the web surface, and runs them together.
package avatar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-avatar/internal/config"
	"github.com/teslashibe/go-avatar/pkg/audioio"
	"github.com/teslashibe/go-avatar/pkg/bridge"
	"github.com/teslashibe/go-avatar/pkg/envelope"
	"github.com/teslashibe/go-avatar/pkg/frame"
	"github.com/teslashibe/go-avatar/pkg/gaze"
	"github.com/teslashibe/go-avatar/pkg/hub"
	"github.com/teslashibe/go-avatar/pkg/metrics"
	"github.com/teslashibe/go-avatar/pkg/realtime"
	"github.com/teslashibe/go-avatar/pkg/rig"
	"github.com/teslashibe/go-avatar/pkg/scene"
	"github.com/teslashibe/go-avatar/pkg/web"
)

// shutdownTimeout bounds the HTTP server drain.
const shutdownTimeout = 5 * time.Second

// App is the main application orchestrator.
// It owns every component and their lifecycle.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	metrics *metrics.Metrics
	sched   *frame.Scheduler

	// Character
	model     scene.Model
	rig       *rig.Controller
	tracker   *gaze.Tracker
	extractor *envelope.Extractor

	// Conversation
	mic     audioio.Source
	speaker audioio.Sink
	session *realtime.Session
	bridge  *bridge.Bridge

	// Web
	poseHub *hub.Hub
	server  *web.Server
}

// New creates an App. Call Init before Run.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("avatar: config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("avatar: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &App{cfg: cfg, logger: logger}, nil
}

// Init loads the model and builds every component.
func (a *App) Init(ctx context.Context) error {
	a.metrics = metrics.New()
	a.sched = frame.NewScheduler(
		frame.WithLogger(a.logger),
		frame.WithTickObserver(a.metrics.ObserveFrame),
	)

	if err := a.initCharacter(ctx); err != nil {
		return err
	}
	if err := a.initConversation(); err != nil {
		return err
	}
	a.initWeb()
	return nil
}

func (a *App) initCharacter(ctx context.Context) error {
	model, err := loadModel(ctx, a.cfg.Avatar.ModelPath, a.logger)
	if err != nil {
		return err
	}
	a.model = model

	a.rig = rig.New(a.sched, rig.DefaultConfig(), a.logger)
	if err := a.rig.Load(model); err != nil {
		return fmt.Errorf("avatar: rig: %w", err)
	}
	a.rig.Start()

	gcfg := gaze.DefaultConfig()
	gcfg.Width = a.cfg.Avatar.ViewportWidth
	gcfg.Height = a.cfg.Avatar.ViewportHeight
	if hz := a.cfg.Avatar.PointerHz; hz > 0 {
		gcfg.Throttle = time.Duration(float64(time.Second) / hz)
	}
	a.tracker = gaze.NewTracker(a.sched, model.Camera(), gcfg, a.logger)
	a.extractor = envelope.NewExtractor(a.sched, a.logger)
	return nil
}

// loadModel reads a glTF file, or builds the default head when path is empty.
func loadModel(ctx context.Context, path string, logger *slog.Logger) (scene.Model, error) {
	if path == "" {
		logger.Info("using built-in head model")
		return DefaultModel(), nil
	}
	loader := &scene.GLTFLoader{Dir: filepath.Dir(path), Logger: logger}
	model, err := loader.Load(ctx, filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("avatar: load model: %w", err)
	}
	return model, nil
}

func (a *App) initConversation() error {
	rc := a.cfg.Realtime

	var transport realtime.Transport
	switch rc.Transport {
	case config.TransportWebSocket:
		t := realtime.NewWebSocketTransport(a.logger)
		if rc.BaseURL != "" {
			t.URL = rc.BaseURL
		}
		transport = t
	default:
		t := realtime.NewWebRTCTransport(a.logger)
		if rc.BaseURL != "" {
			t.BaseURL = rc.BaseURL
		}
		transport = t
	}

	mic, err := audioio.NewSource(a.cfg.Audio, a.logger)
	if err != nil {
		return fmt.Errorf("avatar: microphone: %w", err)
	}
	a.mic = mic

	session, err := realtime.NewSession(
		realtime.WithCredentials(&realtime.HTTPCredentials{URL: rc.CredentialURL}),
		realtime.WithTransport(transport),
		realtime.WithMicrophone(mic),
		realtime.WithModel(rc.Model),
		realtime.WithContinuationDelay(rc.ContinuationDelay),
		realtime.WithOpenTimeout(rc.OpenTimeout),
		realtime.WithMaxEvents(rc.MaxEvents),
		realtime.WithMetrics(a.metrics),
		realtime.WithLogger(a.logger),
	)
	if err != nil {
		return fmt.Errorf("avatar: session: %w", err)
	}
	a.session = session
	session.OnEvent(func(ev realtime.Event, outbound bool) {
		a.logger.Debug("realtime event", "type", ev.Type, "outbound", outbound)
	})

	bcfg := bridge.DefaultConfig()
	bcfg.MouthGain = a.cfg.Avatar.MouthGain
	bcfg.AudioIdle = a.cfg.Avatar.AudioIdle
	bcfg.Logger = a.logger
	if rc.Speaker {
		speaker, err := audioio.NewSink(a.cfg.Audio, a.logger)
		if err != nil {
			return fmt.Errorf("avatar: speaker: %w", err)
		}
		a.speaker = speaker
		bcfg.Speaker = speaker
	}
	a.bridge = bridge.New(a.sched, session, a.rig, a.tracker, a.extractor, bcfg)
	return nil
}

func (a *App) initWeb() {
	a.poseHub = hub.New("pose", a.logger, a.metrics)
	a.server = web.NewServer(web.Config{
		Addr:          a.cfg.Server.Addr,
		DefaultPrompt: a.cfg.Realtime.Prompt,
		DefaultVoice:  a.cfg.Realtime.Voice,
		StartTimeout:  a.cfg.Server.StartTimeout,
		StaticDir:     a.cfg.Server.StaticDir,
		Logger:        a.logger,
	}, a.session, a.rig, a.tracker, a.poseHub, a.metrics)
	a.server.StreamPoses(a.sched)
}

// Run drives the frame loop, the pose hub and the HTTP server until ctx is
// cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	if a.server == nil {
		return errors.New("avatar: Init not called")
	}

	if a.speaker != nil {
		if err := a.speaker.Start(ctx); err != nil {
			a.logger.Warn("speaker unavailable", "error", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.poseHub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		if err := a.sched.Run(ctx, a.cfg.Avatar.FrameInterval()); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := a.server.Listen(); err != nil {
			return fmt.Errorf("avatar: http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		a.session.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	a.logger.Info("avatar running", "addr", a.cfg.Server.Addr, "transport", a.cfg.Realtime.Transport)
	return g.Wait()
}

// Shutdown releases audio devices and detaches the bridge.
func (a *App) Shutdown() {
	if a.session != nil {
		a.session.Stop()
	}
	if a.bridge != nil {
		a.bridge.Close()
	}
	if a.rig != nil {
		a.rig.Close()
	}
	if a.mic != nil {
		_ = a.mic.Close()
	}
	if a.speaker != nil {
		_ = a.speaker.Close()
	}
	a.logger.Info("avatar stopped")
}

// Session returns the realtime session.
func (a *App) Session() *realtime.Session { return a.session }

// Rig returns the facial rig.
func (a *App) Rig() *rig.Controller { return a.rig }

// Server returns the web server.
func (a *App) Server() *web.Server { return a.server }
