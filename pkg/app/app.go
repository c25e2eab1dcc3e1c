// Package app wires the attention daemon together: model loading, camera
// acquisition, per-camera pipelines, recordings and the web API.
package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-attention/internal/config"
	"github.com/teslashibe/go-attention/pkg/camera"
	"github.com/teslashibe/go-attention/pkg/multicam"
	"github.com/teslashibe/go-attention/pkg/opencv"
	"github.com/teslashibe/go-attention/pkg/pipeline"
	"github.com/teslashibe/go-attention/pkg/pose"
	"github.com/teslashibe/go-attention/pkg/recording"
	"github.com/teslashibe/go-attention/pkg/session"
	"github.com/teslashibe/go-attention/pkg/tracking/detection"
	"github.com/teslashibe/go-attention/pkg/web"
)

// App is the daemon. It manages all components and their lifecycle.
type App struct {
	config config.Config
	logger *slog.Logger

	// Models
	detector *detection.YOLODetector
	faces    *detection.FacePose

	renderer  opencv.Renderer
	pipelines *pipeline.Set
	acquirer  *camera.Acquirer
	recorder  *recording.Synchronizer
	cameras   *multicam.Orchestrator
	runtime   *config.Manager

	webServer *web.Server

	shutdownOnce sync.Once
}

// New creates the application. Call Init before Run.
func New(cfg config.Config, logger *slog.Logger) (*App, error) {
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, errors.New("invalid configuration: " + errs[0])
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &App{
		config: cfg,
		logger: logger,
	}, nil
}

// Init loads models and builds every component.
func (a *App) Init() error {
	if err := a.initModels(); err != nil {
		return err
	}

	a.renderer = opencv.Renderer{Quality: a.config.JPEGQuality}

	pcfg := pipeline.DefaultConfig()
	pcfg.ConfidenceThreshold = a.config.Thresholds.Confidence
	pcfg.Tracking.IoUThreshold = a.config.Thresholds.IoU
	pcfg.Tracking.DisappearFrames = a.config.DisappearFrames
	pcfg.Attention.YawThreshold = a.config.Thresholds.Yaw
	pcfg.Attention.PitchThreshold = a.config.Thresholds.Pitch
	if errs := pcfg.Validate(); len(errs) > 0 {
		return errors.New("pipeline config: " + errs[0])
	}
	var estimator pipeline.PoseEstimator
	if a.faces != nil {
		estimator = a.faces
	}
	a.pipelines = pipeline.NewSet(pcfg, a.detector, estimator, a.renderer, a.logger)

	acfg := camera.DefaultAcquireConfig()
	acfg.Timeout = a.config.AcquireTimeout
	if acfg.AttemptTimeout > acfg.Timeout {
		acfg.AttemptTimeout = acfg.Timeout
	}
	a.acquirer = camera.NewAcquirer(opencv.Opener{}, acfg, a.logger)

	a.recorder = recording.New(recording.Config{
		Dir: a.config.RecordingsDir,
		Ext: recording.DefaultConfig().Ext,
	}, openWriter, a.logger)

	mcfg := multicam.DefaultConfig()
	mcfg.Session.Target = a.config.Stream
	mcfg.RecordFPS = float64(a.config.Stream.FPS)
	a.cameras = multicam.New(mcfg, a.acquirer, func(id int) session.Pipeline {
		return a.pipelines.For(id)
	}, a.renderer, a.recorder, a.logger)

	a.runtime = config.NewManager(a.config)
	a.runtime.OnConfigChange = a.applyRuntime

	opts := web.DefaultOptions()
	opts.Port = a.config.Port
	a.webServer = web.NewServer(opts, a.cameras, a.renderer, a.acquirer.Probe, a.runtime, a.logger)

	return nil
}

func (a *App) initModels() error {
	ycfg := detection.DefaultYOLOConfig()
	ycfg.ModelPath = a.config.Models.Person
	ycfg.ConfidenceThresh = float32(a.config.Thresholds.Confidence)

	var err error
	a.detector, err = detection.NewYOLO(ycfg)
	if err != nil {
		a.logger.Error("person detector unavailable", "model", ycfg.ModelPath, "error", err)
		return err
	}
	a.logger.Info("person detector loaded", "model", ycfg.ModelPath)

	fcfg := detection.DefaultConfig()
	fcfg.ModelPath = a.config.Models.Face
	a.faces, err = detection.NewFacePose(fcfg, pose.DefaultConfig())
	if err != nil {
		// Without faces everyone is counted, just never as attending
		a.logger.Warn("face detector unavailable, attention disabled",
			"model", fcfg.ModelPath,
			"error", err,
			"hint", "curl -L https://github.com/opencv/opencv_zoo/raw/main/models/face_detection_yunet/face_detection_yunet_2023mar.onnx -o "+fcfg.ModelPath,
		)
		a.faces = nil
	} else {
		a.logger.Info("face detector loaded", "model", fcfg.ModelPath)
	}
	return nil
}

// openWriter adapts opencv.OpenWriter to recording.WriterFactory.
func openWriter(path string, fps float64, width, height int) (recording.Writer, error) {
	w, err := opencv.OpenWriter(path, fps, width, height)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// applyRuntime pushes new thresholds into the detector and every pipeline.
func (a *App) applyRuntime(cfg config.Runtime) error {
	t := cfg.Thresholds
	a.detector.SetConfidence(float32(t.Confidence))
	a.pipelines.SetThresholds(t.Confidence, t.IoU, t.Yaw, t.Pitch)
	a.logger.Info("thresholds updated",
		"confidence", t.Confidence,
		"iou", t.IoU,
		"yaw", t.Yaw,
		"pitch", t.Pitch,
	)
	return nil
}

// Run starts the configured cameras and the web server.
// Blocks until context is cancelled.
func (a *App) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, id := range a.config.Cameras {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if err := a.cameras.Start(ctx, id, a.config.Stream); err != nil {
				a.logger.Error("camera failed to start", "camera_id", id, "error", err)
			}
		}(id)
	}

	a.webServer.StartAsync()
	a.logger.Info("attentiond running", "port", a.config.Port, "cameras", a.config.Cameras)

	<-ctx.Done()
	wg.Wait()
	return nil
}

// Shutdown stops recordings, cameras and the web server, then frees models.
func (a *App) Shutdown() {
	a.shutdownOnce.Do(func() {
		a.logger.Info("shutting down")
		start := time.Now()

		if a.webServer != nil {
			if err := a.webServer.Shutdown(); err != nil {
				a.logger.Warn("web server shutdown", "error", err)
			}
		}
		if a.cameras != nil {
			if err := a.cameras.Shutdown(); err != nil {
				a.logger.Warn("camera shutdown", "error", err)
			}
		}
		if a.faces != nil {
			a.faces.Close()
		}
		if a.detector != nil {
			a.detector.Close()
		}

		a.logger.Info("shutdown complete", "took", time.Since(start))
	})
}
