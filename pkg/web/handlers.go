package web

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-avatar/pkg/hub"
	"github.com/teslashibe/go-avatar/pkg/realtime"
	"github.com/teslashibe/go-avatar/pkg/rig"
)

// SessionStatus is the body of GET /api/session.
type SessionStatus struct {
	State  realtime.State `json:"state"`
	Voice  string         `json:"voice,omitempty"`
	Events int            `json:"events"`
}

// StartRequest is the body of POST /api/session/start.
type StartRequest struct {
	Prompt string `json:"prompt"`
	Voice  string `json:"voice"`
}

// TextRequest is the body of POST /api/session/text.
type TextRequest struct {
	Text string `json:"text"`
}

// PointerMessage is one sample on /ws/pointer, in viewport pixels.
type PointerMessage struct {
	Type string  `json:"type"` // enter, move or leave
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

func (s *Server) status() SessionStatus {
	return SessionStatus{
		State:  s.session.State(),
		Voice:  s.session.Voice(),
		Events: len(s.session.Events()),
	}
}

func (s *Server) handleSession(c *fiber.Ctx) error {
	return c.JSON(s.status())
}

func (s *Server) handleStart(c *fiber.Ctx) error {
	var req StartRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
	}
	if strings.TrimSpace(req.Prompt) == "" {
		req.Prompt = s.cfg.DefaultPrompt
	}
	if req.Voice == "" {
		req.Voice = s.cfg.DefaultVoice
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), s.cfg.StartTimeout)
	defer cancel()

	if err := s.session.Start(ctx, req.Prompt, req.Voice); err != nil {
		s.logger.Warn("session start failed", "error", err)
		return c.Status(startStatus(err)).JSON(fiber.Map{
			"error": err.Error(),
			"state": s.session.State(),
		})
	}
	return c.JSON(s.status())
}

// startStatus maps a Start failure to an HTTP status.
func startStatus(err error) int {
	switch {
	case errors.Is(err, realtime.ErrAlreadyActive):
		return fiber.StatusConflict
	case realtime.IsMediaError(err):
		return fiber.StatusServiceUnavailable
	case realtime.IsCredentialError(err), realtime.IsNegotiationError(err):
		return fiber.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fiber.StatusGatewayTimeout
	default:
		return fiber.StatusInternalServerError
	}
}

func (s *Server) handleStop(c *fiber.Ctx) error {
	s.session.Stop()
	return c.JSON(s.status())
}

func (s *Server) handleText(c *fiber.Ctx) error {
	var req TextRequest
	if err := c.BodyParser(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		return fiber.NewError(fiber.StatusBadRequest, "text is required")
	}
	if err := s.session.SendText(req.Text); err != nil {
		if errors.Is(err, realtime.ErrChannelUnavailable) {
			return fiber.NewError(fiber.StatusConflict, err.Error())
		}
		return err
	}
	return c.SendStatus(fiber.StatusAccepted)
}

// handleEvents returns the event log, newest first. ?limit=n trims it.
func (s *Server) handleEvents(c *fiber.Ctx) error {
	events := s.session.Events()
	if n := c.QueryInt("limit", 0); n > 0 && n < len(events) {
		events = events[:n]
	}
	if events == nil {
		events = []realtime.Event{}
	}
	return c.JSON(events)
}

func (s *Server) handleEmote(c *fiber.Ctx) error {
	e, ok := rig.ParseEmote(c.Params("name"))
	if !ok {
		return fiber.NewError(fiber.StatusBadRequest, "unknown emote")
	}
	s.rig.Play(e)
	return c.JSON(fiber.Map{"emote": e.String()})
}

func (s *Server) handleExpression(c *fiber.Ctx) error {
	name := c.Params("name")
	switch name {
	case "happy":
		s.rig.SetHappy(true)
	case "angry":
		s.rig.SetHappy(false)
	default:
		return fiber.NewError(fiber.StatusBadRequest, "unknown expression")
	}
	return c.JSON(fiber.Map{"expression": name})
}

func (s *Server) handlePose(c *fiber.Ctx) error {
	return c.JSON(s.rig.Pose())
}

// handlePoseWS streams poses until the connection closes.
func (s *Server) handlePoseWS(c *websocket.Conn) {
	client, ok := hub.NewClient(s.poseHub, c)
	if !ok {
		_ = c.Close()
		return
	}
	client.Run()
}

// handlePointerWS feeds pointer samples to gaze tracking.
func (s *Server) handlePointerWS(c *websocket.Conn) {
	defer func() {
		s.pointer.Leave()
		_ = c.Close()
	}()

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			return
		}
		var msg PointerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Debug("bad pointer message", "error", err)
			continue
		}
		s.applyPointer(msg)
	}
}

func (s *Server) applyPointer(msg PointerMessage) {
	switch msg.Type {
	case "enter":
		s.pointer.Enter(msg.X, msg.Y)
	case "move":
		s.pointer.Move(msg.X, msg.Y)
	case "leave":
		s.pointer.Leave()
	}
}
