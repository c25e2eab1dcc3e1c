// Package web serves the attention API, the live stats websocket and the
// MJPEG stream of the composite view.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"
	"github.com/hybridgroup/mjpeg"

	"github.com/teslashibe/go-attention/internal/config"
	"github.com/teslashibe/go-attention/pkg/attention"
	"github.com/teslashibe/go-attention/pkg/camera"
	"github.com/teslashibe/go-attention/pkg/hub"
	"github.com/teslashibe/go-attention/pkg/recording"
	"github.com/teslashibe/go-attention/pkg/session"
	"github.com/teslashibe/go-attention/pkg/vision"
)

// Cameras is the camera control surface. *multicam.Orchestrator implements it.
type Cameras interface {
	StartSource(ctx context.Context, id int, src camera.Source, target camera.Target) error
	Stop(id int) error
	StopAll() error
	ActiveCameras() []int
	CameraStats(id int) (session.Stats, error)
	AllStats() []session.Stats
	AggregatedStats() attention.Counts
	CameraFrame(id int) (vision.Frame, bool)
	Composite() (vision.Frame, attention.Counts, error)
	Frames(ctx context.Context, interval time.Duration) <-chan vision.Frame
	StartRecording(id, name string, cameras []int, fps float64) (string, error)
	StopRecording(id string) (*recording.Summary, error)
	RecordingStatus() []recording.Status
}

// Encoder turns frames into JPEG. opencv.Renderer implements it.
type Encoder interface {
	EncodeJPEG(f vision.Frame) ([]byte, error)
}

// ProbeFunc lists capture sources that can be opened.
type ProbeFunc func(ctx context.Context, max int) []camera.Source

// Options configures the server.
type Options struct {
	Port string

	// StreamAddr is where the MJPEG stream listens. Empty disables it.
	StreamAddr string

	// StreamInterval is the composite refresh period for the MJPEG stream.
	StreamInterval time.Duration

	// StatsInterval is how often aggregated stats are pushed on /ws/stats.
	StatsInterval time.Duration
}

// DefaultOptions returns production defaults.
func DefaultOptions() Options {
	return Options{
		Port:           config.DefaultPort,
		StreamAddr:     ":8081",
		StreamInterval: 50 * time.Millisecond,
		StatsInterval:  time.Second,
	}
}

// Server is the HTTP API server
type Server struct {
	app     *fiber.App
	options Options
	logger  *slog.Logger

	cameras Cameras
	encoder Encoder
	probe   ProbeFunc
	config  *config.Manager

	// Hub for websocket broadcast of live stats
	statsHub *hub.Hub

	stream       *mjpeg.Stream
	streamServer *http.Server

	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer creates the server and registers its routes. probe may be nil.
func NewServer(opts Options, cameras Cameras, encoder Encoder, probe ProbeFunc, cfg *config.Manager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		options:  opts,
		logger:   logger.With("component", "web"),
		cameras:  cameras,
		encoder:  encoder,
		probe:    probe,
		config:   cfg,
		statsHub: hub.New("stats", logger),
		ctx:      ctx,
		cancel:   cancel,
	}

	app := fiber.New(fiber.Config{
		AppName:               "attentiond",
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})

	// CORS for local development
	app.Use(cors.New())

	// API routes
	api := app.Group("/api")
	api.Get("/health", s.handleHealth)

	api.Get("/cameras", s.handleListCameras)
	api.Get("/cameras/probe", s.handleProbe)
	api.Post("/cameras/stop", s.handleStopAll)
	api.Get("/cameras/:id", s.handleCameraStats)
	api.Get("/cameras/:id/frame.jpg", s.handleCameraFrame)
	api.Post("/cameras/:id/start", s.handleStartCamera)
	api.Post("/cameras/:id/stop", s.handleStopCamera)

	api.Get("/stats", s.handleStats)
	api.Get("/composite.jpg", s.handleComposite)

	api.Get("/recordings", s.handleListRecordings)
	api.Post("/recordings", s.handleStartRecording)
	api.Delete("/recordings/:id", s.handleStopRecording)

	api.Get("/config", s.handleGetConfig)
	api.Put("/config", s.handleUpdateConfig)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/stats", websocket.New(s.handleStatsWS))

	s.app = app

	if opts.StreamAddr != "" {
		s.stream = mjpeg.NewStream()
		mux := http.NewServeMux()
		mux.Handle("/", s.stream)
		s.streamServer = &http.Server{
			Addr:              opts.StreamAddr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	return s
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start starts the background pumps and blocks serving the API.
func (s *Server) Start() error {
	go s.statsHub.Run()
	go s.statsPump()

	if s.streamServer != nil {
		go s.streamPump()
		go func() {
			s.logger.Info("mjpeg stream listening", "addr", s.options.StreamAddr)
			if err := s.streamServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("mjpeg stream server failed", "error", err)
			}
		}()
	}

	s.logger.Info("api listening", "port", s.options.Port)
	return s.app.Listen(":" + s.options.Port)
}

// StartAsync starts the server in a goroutine
func (s *Server) StartAsync() {
	go func() {
		if err := s.Start(); err != nil {
			s.logger.Error("web server error", "error", err)
		}
	}()
}

// statsPump pushes aggregated stats to websocket clients.
func (s *Server) statsPump() {
	interval := s.options.StatsInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}
		if s.statsHub.ClientCount() == 0 {
			continue
		}
		if err := s.statsHub.BroadcastJSON(s.snapshot()); err != nil {
			s.logger.Warn("stats broadcast failed", "error", err)
		}
	}
}

// streamPump encodes composites into the MJPEG stream.
func (s *Server) streamPump() {
	interval := s.options.StreamInterval
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	for frame := range s.cameras.Frames(s.ctx, interval) {
		data, err := s.encoder.EncodeJPEG(frame)
		if err != nil {
			s.logger.Warn("composite encode failed", "error", err)
			continue
		}
		s.stream.UpdateJPEG(data)
	}
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.cancel()
	s.statsHub.Stop()

	var errs []error
	if s.streamServer != nil {
		// MJPEG responses never finish, so there is nothing to drain
		errs = append(errs, s.streamServer.Close())
	}
	errs = append(errs, s.app.Shutdown())
	return errors.Join(errs...)
}
