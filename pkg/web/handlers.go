package web

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-attention/pkg/attention"
	"github.com/teslashibe/go-attention/pkg/camera"
	"github.com/teslashibe/go-attention/pkg/hub"
	"github.com/teslashibe/go-attention/pkg/multicam"
	"github.com/teslashibe/go-attention/pkg/recording"
	"github.com/teslashibe/go-attention/pkg/session"
	"github.com/teslashibe/go-attention/pkg/vision"
)

// maxProbe bounds the device indices probed by /api/cameras/probe.
const maxProbe = 10

// StatsSnapshot is the aggregated view served on /api/stats and /ws/stats.
type StatsSnapshot struct {
	Time           time.Time          `json:"time"`
	Counts         attention.Counts   `json:"counts"`
	AttendingRatio float64            `json:"attending_ratio"`
	ActiveCameras  []int              `json:"active_cameras"`
	Cameras        []session.Stats    `json:"cameras"`
	Recordings     []recording.Status `json:"recordings"`
}

func (s *Server) snapshot() StatsSnapshot {
	counts := s.cameras.AggregatedStats()
	active := s.cameras.ActiveCameras()
	if active == nil {
		active = []int{}
	}
	return StatsSnapshot{
		Time:           time.Now(),
		Counts:         counts,
		AttendingRatio: counts.AttendingRatio(),
		ActiveCameras:  active,
		Cameras:        s.cameras.AllStats(),
		Recordings:     s.cameras.RecordingStatus(),
	}
}

// handleError maps domain errors onto HTTP statuses.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		code = fe.Code
	case errors.Is(err, multicam.ErrCameraNotFound),
		errors.Is(err, recording.ErrNotFound),
		errors.Is(err, multicam.ErrNoFrames):
		code = fiber.StatusNotFound
	case errors.Is(err, recording.ErrAlreadyRecording),
		errors.Is(err, recording.ErrNoSampleFrame),
		errors.Is(err, multicam.ErrNoActiveCameras),
		errors.Is(err, camera.ErrSourceInUse):
		code = fiber.StatusConflict
	case errors.Is(err, camera.ErrInvalidSource):
		code = fiber.StatusBadRequest
	case errors.Is(err, camera.ErrAcquireFailed),
		errors.Is(err, session.ErrStopped),
		errors.Is(err, multicam.ErrShutdown):
		code = fiber.StatusServiceUnavailable
	}

	if code >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

func cameraID(c *fiber.Ctx) (int, error) {
	id, err := c.ParamsInt("id")
	if err != nil || id < 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "camera id must be a non-negative integer")
	}
	return id, nil
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":         "ok",
		"active_cameras": len(s.cameras.ActiveCameras()),
	})
}

func (s *Server) handleListCameras(c *fiber.Ctx) error {
	return c.JSON(s.cameras.AllStats())
}

func (s *Server) handleProbe(c *fiber.Ctx) error {
	if s.probe == nil {
		return fiber.NewError(fiber.StatusNotImplemented, "camera probing not configured")
	}
	max := c.QueryInt("max", maxProbe)
	if max < 1 || max > maxProbe {
		max = maxProbe
	}
	sources := s.probe(c.UserContext(), max)

	out := make([]fiber.Map, 0, len(sources))
	for _, src := range sources {
		out = append(out, fiber.Map{"source": src.String(), "device": src.Device, "kind": src.Kind()})
	}
	return c.JSON(out)
}

// StartCameraRequest is the optional body for starting a camera
type StartCameraRequest struct {
	// Source is a stream URL or file path. Empty uses the device index.
	Source string `json:"source"`
	Preset string `json:"preset"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	FPS    int    `json:"fps"`
}

func (s *Server) handleStartCamera(c *fiber.Ctx) error {
	id, err := cameraID(c)
	if err != nil {
		return err
	}

	var req StartCameraRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid body: "+err.Error())
		}
	}

	target := camera.DefaultTarget()
	if s.config != nil {
		target = s.config.GetConfig().Stream
	}
	if req.Preset != "" {
		preset := camera.GetPreset(req.Preset)
		if preset == nil {
			return fiber.NewError(fiber.StatusBadRequest, "unknown preset: "+req.Preset)
		}
		target = *preset
	}
	if req.Width > 0 {
		target.Width = req.Width
	}
	if req.Height > 0 {
		target.Height = req.Height
	}
	if req.FPS > 0 {
		target.FPS = req.FPS
	}
	if errs := target.Validate(); len(errs) > 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid target", "details": errs})
	}

	src := camera.Device(id)
	if req.Source != "" {
		if src, err = camera.ParseSource(req.Source); err != nil {
			return err
		}
	}

	// Acquisition outlives a dropped request; the server context bounds it
	if err := s.cameras.StartSource(s.ctx, id, src, target); err != nil {
		return err
	}

	st, err := s.cameras.CameraStats(id)
	if err != nil {
		return err
	}
	return c.JSON(st)
}

func (s *Server) handleStopCamera(c *fiber.Ctx) error {
	id, err := cameraID(c)
	if err != nil {
		return err
	}
	if err := s.cameras.Stop(id); err != nil && !errors.Is(err, session.ErrJoinTimeout) {
		return err
	}
	return c.JSON(fiber.Map{"camera_id": id, "stopped": true})
}

func (s *Server) handleStopAll(c *fiber.Ctx) error {
	if err := s.cameras.StopAll(); err != nil {
		s.logger.Warn("stop all reported errors", "error", err)
	}
	return c.JSON(fiber.Map{"stopped": true})
}

func (s *Server) handleCameraStats(c *fiber.Ctx) error {
	id, err := cameraID(c)
	if err != nil {
		return err
	}
	st, err := s.cameras.CameraStats(id)
	if err != nil {
		return err
	}
	return c.JSON(st)
}

func (s *Server) handleCameraFrame(c *fiber.Ctx) error {
	id, err := cameraID(c)
	if err != nil {
		return err
	}
	frame, ok := s.cameras.CameraFrame(id)
	if !ok {
		return multicam.ErrNoFrames
	}
	return s.sendJPEG(c, frame)
}

func (s *Server) handleComposite(c *fiber.Ctx) error {
	frame, _, err := s.cameras.Composite()
	if err != nil {
		return err
	}
	return s.sendJPEG(c, frame)
}

func (s *Server) sendJPEG(c *fiber.Ctx, frame vision.Frame) error {
	if frame.Empty() {
		return multicam.ErrNoFrames
	}
	data, err := s.encoder.EncodeJPEG(frame)
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, "image/jpeg")
	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.Send(data)
}

func (s *Server) handleStats(c *fiber.Ctx) error {
	return c.JSON(s.snapshot())
}

// StartRecordingRequest is the body for starting a recording
type StartRecordingRequest struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Cameras []int   `json:"cameras"`
	FPS     float64 `json:"fps"`
}

func (s *Server) handleStartRecording(c *fiber.Ctx) error {
	var req StartRecordingRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid body: "+err.Error())
		}
	}

	id, err := s.cameras.StartRecording(req.ID, req.Name, req.Cameras, req.FPS)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": id})
}

func (s *Server) handleStopRecording(c *fiber.Ctx) error {
	summary, err := s.cameras.StopRecording(c.Params("id"))
	if err != nil && summary == nil {
		return err
	}
	if err != nil {
		s.logger.Warn("recording stopped with errors", "recording_id", summary.ID, "error", err)
	}
	return c.JSON(summary)
}

func (s *Server) handleListRecordings(c *fiber.Ctx) error {
	status := s.cameras.RecordingStatus()
	if status == nil {
		status = []recording.Status{}
	}
	return c.JSON(status)
}

func (s *Server) handleGetConfig(c *fiber.Ctx) error {
	if s.config == nil {
		return fiber.NewError(fiber.StatusNotImplemented, "runtime config not configured")
	}
	return c.JSON(s.config.GetConfig())
}

func (s *Server) handleUpdateConfig(c *fiber.Ctx) error {
	if s.config == nil {
		return fiber.NewError(fiber.StatusNotImplemented, "runtime config not configured")
	}
	var params map[string]interface{}
	if err := c.BodyParser(&params); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body: "+err.Error())
	}
	if err := s.config.UpdateConfig(params); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return c.JSON(s.config.GetConfig())
}

// handleStatsWS streams stats snapshots to one websocket client
func (s *Server) handleStatsWS(conn *websocket.Conn) {
	// Initial snapshot goes out before the write pump owns the connection
	if err := conn.WriteJSON(s.snapshot()); err != nil {
		return
	}
	client := hub.NewClient(s.statsHub, conn)
	if client == nil {
		return
	}
	client.Run()
}
