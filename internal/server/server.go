// Package server exposes the robot debug panel: status, board and capture
// inspection, manual move injection and a live G-code stream.
package server

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/thyrook/chessarm/internal/relay"
	"github.com/thyrook/chessarm/internal/robot"
	"github.com/thyrook/chessarm/internal/robot/serial"
)

// streamBuffer is the number of lines a slow websocket client may lag behind
// before lines are dropped
const streamBuffer = 256

// Traffic is the command channel as seen by the panel
type Traffic interface {
	Subscribe(fn func(serial.Traffic)) func()
	Stats() serial.Stats
}

// Publisher writes moves to the relay file
type Publisher interface {
	Write(cmd relay.MoveCommand) error
}

// Config wires the panel to the running robot. Watcher, Traffic and
// Publisher are optional.
type Config struct {
	Choreographer *robot.Choreographer
	Watcher       *relay.Watcher
	Traffic       Traffic
	Publisher     Publisher
	Logger        *zap.Logger
}

// Server is the debug panel HTTP server
type Server struct {
	app     *fiber.App
	chor    *robot.Choreographer
	watcher *relay.Watcher
	traffic Traffic
	pub     Publisher
	logger  *zap.Logger
}

// MoveRequest is the body of POST /api/robot/move
type MoveRequest struct {
	Line string `json:"line"`
}

// New builds the fiber app and its routes
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	s := &Server{
		app: fiber.New(fiber.Config{
			AppName:               "chessarm",
			DisableStartupMessage: true,
		}),
		chor:    cfg.Choreographer,
		watcher: cfg.Watcher,
		traffic: cfg.Traffic,
		pub:     cfg.Publisher,
		logger:  cfg.Logger,
	}

	s.app.Use(recover.New())
	s.app.Use(s.logRequests)

	api := s.app.Group("/api/robot")
	api.Get("/status", s.getStatus)
	api.Get("/board", s.getBoard)
	api.Get("/captures", s.getCaptures)
	api.Post("/move", s.postMove)

	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	s.app.Get("/ws/robot/log", websocket.New(s.streamLog))

	return s
}

// App returns the fiber app, e.g. for app.Test
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on addr until Shutdown
func (s *Server) Listen(addr string) error {
	s.logger.Info("Debug panel listening", zap.String("addr", addr))
	return s.app.Listen(addr)
}

// Shutdown stops the server, waiting up to timeout for open requests
func (s *Server) Shutdown(timeout time.Duration) error {
	return s.app.ShutdownWithTimeout(timeout)
}

func (s *Server) logRequests(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()

	s.logger.Debug("HTTP request",
		zap.String("method", c.Method()),
		zap.String("path", c.Path()),
		zap.Int("status", c.Response().StatusCode()),
		zap.Duration("duration", time.Since(start)),
	)
	return err
}

func (s *Server) getStatus(c *fiber.Ctx) error {
	resp := fiber.Map{
		"robot": s.chor.Status(),
	}

	if s.watcher != nil {
		relayInfo := fiber.Map{
			"running": s.watcher.IsRunning(),
			"stats":   s.watcher.Stats(),
		}
		if last, ok := s.watcher.LastMove(); ok {
			relayInfo["last_move"] = last
		}
		resp["relay"] = relayInfo
	}

	if s.traffic != nil {
		resp["channel"] = s.traffic.Stats()
	}

	return c.JSON(resp)
}

func (s *Server) getBoard(c *fiber.Ctx) error {
	tracker := s.chor.Tracker()
	return c.JSON(fiber.Map{
		"placement": tracker.Placement(),
		"squares":   tracker.Snapshot(),
		"pieces":    tracker.Count(),
	})
}

func (s *Server) getCaptures(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"counters": s.chor.Counters(),
		"records":  s.chor.Records(),
	})
}

func (s *Server) postMove(c *fiber.Ctx) error {
	if s.pub == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "relay is not configured",
		})
	}

	var req MoveRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	cmd, err := relay.Parse(req.Line)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	if err := s.pub.Write(cmd); err != nil {
		s.logger.Error("Failed to write relay line", zap.String("line", req.Line), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to write relay file",
		})
	}

	s.logger.Info("Move injected from debug panel", zap.String("line", relay.Format(cmd)))
	return c.Status(fiber.StatusAccepted).JSON(cmd)
}

// streamLog forwards every G-code line to the client until it disconnects
func (s *Server) streamLog(conn *websocket.Conn) {
	if s.traffic == nil {
		conn.WriteJSON(fiber.Map{"error": "no command channel"})
		conn.Close()
		return
	}

	id := uuid.NewString()
	log := s.logger.With(zap.String("client", id))
	log.Info("Log stream connected")
	defer log.Info("Log stream disconnected")

	lines := make(chan serial.Traffic, streamBuffer)
	unsubscribe := s.traffic.Subscribe(func(t serial.Traffic) {
		select {
		case lines <- t:
		default:
		}
	})
	defer unsubscribe()

	// the client only talks to close the stream
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case t := <-lines:
			if err := conn.WriteJSON(t); err != nil {
				log.Debug("Log stream write failed", zap.Error(err))
				return
			}
		case <-closed:
			return
		}
	}
}
