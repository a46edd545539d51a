// Package web serves the avatar's control API, the pose stream for renderers
// and the pointer stream that feeds gaze tracking.
package web

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"

	"github.com/teslashibe/go-avatar/pkg/frame"
	"github.com/teslashibe/go-avatar/pkg/hub"
	"github.com/teslashibe/go-avatar/pkg/metrics"
	"github.com/teslashibe/go-avatar/pkg/realtime"
	"github.com/teslashibe/go-avatar/pkg/rig"
)

// Session is the part of realtime.Session the API drives.
type Session interface {
	Start(ctx context.Context, prompt, voice string) error
	Stop()
	SendText(text string) error
	State() realtime.State
	Voice() string
	Events() []realtime.Event
}

// Rig is the part of rig.Controller the API drives.
type Rig interface {
	Play(e rig.Emote) bool
	SetHappy(happy bool)
	Pose() rig.Pose
}

// Pointer receives pointer samples in viewport pixels.
type Pointer interface {
	Enter(px, py float64) bool
	Move(px, py float64) bool
	Leave()
}

// Config holds server settings.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string

	// DefaultPrompt is used when a start request has no prompt.
	DefaultPrompt string

	// DefaultVoice is used when a start request has no voice.
	DefaultVoice string

	// StartTimeout bounds a start request.
	StartTimeout time.Duration

	// StaticDir, if set, is served at /.
	StaticDir string

	Logger *slog.Logger
}

// Server is the HTTP and websocket surface.
type Server struct {
	app     *fiber.App
	cfg     Config
	logger  *slog.Logger
	session Session
	rig     Rig
	pointer Pointer
	poseHub *hub.Hub
}

// NewServer builds the fiber app and its routes. m may be nil.
func NewServer(cfg Config, session Session, r Rig, pointer Pointer, poseHub *hub.Hub, m *metrics.Metrics) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = 30 * time.Second
	}
	s := &Server{
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "web"),
		session: session,
		rig:     r,
		pointer: pointer,
		poseHub: poseHub,
	}

	app := fiber.New(fiber.Config{
		AppName:               "go-avatar",
		DisableStartupMessage: true,
	})
	app.Use(cors.New())

	if cfg.StaticDir != "" {
		app.Static("/", cfg.StaticDir)
	}

	api := app.Group("/api")
	api.Get("/session", s.handleSession)
	api.Post("/session/start", s.handleStart)
	api.Post("/session/stop", s.handleStop)
	api.Post("/session/text", s.handleText)
	api.Get("/events", s.handleEvents)
	api.Post("/emote/:name", s.handleEmote)
	api.Post("/expression/:name", s.handleExpression)
	api.Get("/pose", s.handlePose)

	if m != nil {
		app.Get("/metrics", adaptor.HTTPHandler(m.Handler()))
	}

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/pose", websocket.New(s.handlePoseWS))
	app.Get("/ws/pointer", websocket.New(s.handlePointerWS))

	s.app = app
	return s
}

// App exposes the fiber app.
func (s *Server) App() *fiber.App { return s.app }

// Listen serves until the app is shut down.
func (s *Server) Listen() error {
	s.logger.Info("listening", "addr", s.cfg.Addr)
	return s.app.Listen(s.cfg.Addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// StreamPoses broadcasts the rig pose to /ws/pose clients on every output
// pass of sched.
func (s *Server) StreamPoses(sched *frame.Scheduler) *frame.Handle {
	return sched.Schedule(frame.PhaseOutput, frame.Every(func(time.Time) {
		if s.poseHub.ClientCount() == 0 {
			return
		}
		if err := s.poseHub.BroadcastJSON(s.rig.Pose()); err != nil {
			s.logger.Warn("pose encode failed", "error", err)
		}
	}))
}
