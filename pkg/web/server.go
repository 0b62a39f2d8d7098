// Package web exposes heatmap generation and live capture over HTTP.
package web

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-heatmap/pkg/capture"
	"github.com/teslashibe/go-heatmap/pkg/detection"
	"github.com/teslashibe/go-heatmap/pkg/heatmap"
	"github.com/teslashibe/go-heatmap/pkg/hub"
)

// Config holds server settings.
type Config struct {
	Port        int
	UploadDir   string // Uploaded videos and logs
	BodyLimitMB int
	CORSOrigins string

	// Capture is the template for live sessions.
	Capture capture.Config

	Logger *slog.Logger
}

// DefaultConfig returns development defaults.
func DefaultConfig() Config {
	return Config{
		Port:        8080,
		UploadDir:   "uploads",
		BodyLimitMB: 1024,
		CORSOrigins: "*",
		Capture:     capture.DefaultConfig(),
		Logger:      slog.Default(),
	}
}

// Deps are the collaborators the server drives.
type Deps struct {
	Generator *heatmap.Generator
	Camera    capture.Opener

	// Detector is shared by every detection session. Nil disables the
	// detection endpoints.
	Detector detection.Detector

	// RecordingSink overrides how live recordings are encoded.
	RecordingSink capture.SinkCreator
}

// Server is the HTTP front end.
type Server struct {
	app    *fiber.App
	cfg    Config
	logger *slog.Logger

	gen      atomic.Pointer[heatmap.Generator]
	camera   capture.Opener
	detector detection.Detector
	sink     capture.SinkCreator
	hub      *hub.Hub

	// One live session at a time.
	mu      sync.Mutex
	session *capture.Session
}

// NewServer creates the server and registers routes.
func NewServer(cfg Config, deps Deps) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.BodyLimitMB <= 0 {
		cfg.BodyLimitMB = DefaultConfig().BodyLimitMB
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = DefaultConfig().UploadDir
	}

	s := &Server{
		cfg:      cfg,
		logger:   cfg.Logger.With("component", "web"),
		camera:   deps.Camera,
		detector: deps.Detector,
		sink:     deps.RecordingSink,
		hub:      hub.New("detections", cfg.Logger),
	}
	s.gen.Store(deps.Generator)

	app := fiber.New(fiber.Config{
		AppName:               "go-heatmap",
		DisableStartupMessage: true,
		BodyLimit:             cfg.BodyLimitMB * 1024 * 1024,
		ReadTimeout:           5 * time.Minute,
		WriteTimeout:          30 * time.Minute,
	})

	origins := cfg.CORSOrigins
	if origins == "" {
		origins = "*"
	}
	app.Use(cors.New(cors.Config{AllowOrigins: origins}))

	app.Get("/health", s.handleHealth)

	// Recording: capture without detection, heatmap from client clicks.
	app.Post("/start_recording", s.handleStartRecording)
	app.Post("/stop_recording", s.handleStopRecording)
	app.Post("/generate_heatmap", s.handleGenerateHeatmap)
	app.Post("/aggregate", s.handleAggregate)

	// Detection: capture with object detection.
	app.Post("/start_detection", s.handleStartDetection)
	app.Post("/stop_detection", s.handleStopDetection)
	app.Get("/detections", s.handleDetections)
	app.Post("/detect_object", s.handleDetectObject)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/detections", websocket.New(s.handleDetectionsWS))

	s.app = app
	return s
}

// App returns the underlying Fiber app.
func (s *Server) App() *fiber.App { return s.app }

// Hub returns the detection broadcast hub.
func (s *Server) Hub() *hub.Hub { return s.hub }

// SetGenerator swaps the heatmap generator, e.g. after a config reload.
// Requests already running keep the old one.
func (s *Server) SetGenerator(g *heatmap.Generator) {
	s.gen.Store(g)
	s.logger.Info("heatmap settings updated")
}

func (s *Server) generator() *heatmap.Generator { return s.gen.Load() }

// Start runs the hub and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		return fmt.Errorf("web: create upload dir: %w", err)
	}

	go s.hub.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.app.Listen(fmt.Sprintf(":%d", s.cfg.Port))
	}()
	s.logger.Info("listening", "port", s.cfg.Port)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.stopActiveSession()
	return s.app.ShutdownWithTimeout(10 * time.Second)
}

// stopActiveSession stops a live session left running at shutdown.
func (s *Server) stopActiveSession() {
	s.mu.Lock()
	sess := s.session
	s.session = nil
	s.mu.Unlock()
	if sess == nil {
		return
	}
	if _, err := sess.Stop(); err != nil {
		s.logger.Warn("stopping session at shutdown", "error", err)
	}
}

// startSession begins a live session. withDetection selects the shared
// detector; otherwise the session only records.
func (s *Server) startSession(ctx context.Context, withDetection bool) (*capture.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session != nil {
		return nil, errSessionActive
	}
	if s.camera == nil {
		return nil, errNoCamera
	}

	var det detection.Detector
	if withDetection {
		if s.detector == nil {
			return nil, detection.ErrDetectionUnavailable
		}
		det = s.detector
	}

	cfg := s.cfg.Capture
	cfg.OutputDir = s.cfg.UploadDir
	if cfg.Logger == nil {
		cfg.Logger = s.cfg.Logger
	}
	sess := capture.NewSession(cfg, s.camera, det)
	if s.sink != nil {
		sess.WithSink(s.sink)
	}
	if withDetection {
		id := sess.ID()
		sess.SetListener(func(ts float64, objs []detection.Object) {
			update := hub.NewDetectionUpdate(id, sess.State().String(), ts, objs)
			if err := s.hub.BroadcastJSON(update); err != nil {
				s.logger.Warn("encode detection update", "error", err)
			}
		})
	}

	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		return nil, err
	}
	if err := sess.Start(ctx); err != nil {
		return nil, err
	}
	s.session = sess
	return sess, nil
}

// takeSession detaches the active session if it is of the expected kind.
func (s *Server) takeSession(withDetection bool) (*capture.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil || s.session.HasDetector() != withDetection {
		return nil, errNoSession
	}
	sess := s.session
	s.session = nil
	return sess, nil
}

// activeSession returns the running session, if any.
func (s *Server) activeSession() *capture.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}
