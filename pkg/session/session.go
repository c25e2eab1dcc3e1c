// Package session drives one camera: it acquires the device, reads frames on
// a capture goroutine, hands them to a processing worker, and publishes the
// newest processed result for readers.
package session

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/teslashibe/go-attention/pkg/attention"
	"github.com/teslashibe/go-attention/pkg/camera"
	"github.com/teslashibe/go-attention/pkg/pipeline"
	"github.com/teslashibe/go-attention/pkg/vision"
)

// Acquirer opens and releases capture devices. *camera.Acquirer implements it.
type Acquirer interface {
	Acquire(ctx context.Context, src camera.Source, target camera.Target) (camera.Capture, error)
	Release(src camera.Source)
}

// Pipeline is the per-camera processing stage. *pipeline.Pipeline implements it.
type Pipeline interface {
	pipeline.Stage
	Reset()
	Average(n int) pipeline.AverageStats
	ActiveTracks() int
}

// PublishFunc observes every published result. It runs on the capture
// goroutine and must not block.
type PublishFunc func(cameraID int, result pipeline.Result)

// Config holds session parameters.
type Config struct {
	Target camera.Target `json:"target"`

	// JoinTimeout bounds how long Stop waits for the capture loop and the
	// processing worker.
	JoinTimeout time.Duration `json:"join_timeout"`

	// StatsFrames is the rolling window used for average stats.
	StatsFrames int `json:"stats_frames"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Target:      camera.DefaultTarget(),
		JoinTimeout: 2 * time.Second,
		StatsFrames: 60,
	}
}

// Stats is a point-in-time snapshot of a session.
type Stats struct {
	CameraID     int                   `json:"camera_id"`
	Source       string                `json:"source"`
	State        State                 `json:"state"`
	Counts       attention.Counts      `json:"counts"`
	HasFrame     bool                  `json:"has_frame"`
	NoDetection  bool                  `json:"no_detection"`
	Average      pipeline.AverageStats `json:"average"`
	ActiveTracks int                   `json:"active_tracks"`
	FramesRead   uint64                `json:"frames_read"`
	Published    uint64                `json:"published"`
	Dropped      uint64                `json:"dropped"`
	Failed       uint64                `json:"failed"`
	Uptime       time.Duration         `json:"uptime"`
	LastError    string                `json:"last_error,omitempty"`
}

// Session owns one camera. Start and Stop are serialized; readers only ever
// see copies of the latest slot.
type Session struct {
	id       int
	src      camera.Source
	config   Config
	acquirer Acquirer
	pipeline Pipeline
	camLog   *slog.Logger // Tagged with camera_id only, for the worker
	logger   *slog.Logger

	startMu sync.Mutex // Serializes Start and Stop

	mu            sync.Mutex // Guards everything below
	state         State
	capture       camera.Capture
	worker        *pipeline.Processor
	stop          chan struct{}
	done          chan struct{}
	cancelAcquire context.CancelFunc
	aborted       bool // Stop was called during acquisition
	startedAt     time.Time
	latest        pipeline.Result
	hasLatest     bool
	framesRead    uint64
	published     uint64
	lastErr       error
	onPublish     PublishFunc
}

// New creates an idle session for one camera.
func New(id int, src camera.Source, cfg Config, acquirer Acquirer, p Pipeline, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = DefaultConfig().JoinTimeout
	}
	return &Session{
		id:       id,
		src:      src,
		config:   cfg,
		acquirer: acquirer,
		pipeline: p,
		camLog:   logger.With("camera_id", id),
		logger:   logger.With("component", "session", "camera_id", id),
	}
}

// ID returns the camera id.
func (s *Session) ID() int {
	return s.id
}

// Source returns the capture source.
func (s *Session) Source() camera.Source {
	return s.src
}

// OnPublish registers the publish hook. Pass nil to remove it.
func (s *Session) OnPublish(fn PublishFunc) {
	s.mu.Lock()
	s.onPublish = fn
	s.mu.Unlock()
}

// Start acquires the camera and launches the capture loop and processing
// worker. Calling Start on a streaming session is a no-op.
func (s *Session) Start(ctx context.Context) error {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	s.mu.Lock()
	switch s.state {
	case Streaming:
		s.mu.Unlock()
		return nil
	case Stopping:
		// The loop is tearing itself down after a read failure
		done := s.done
		s.mu.Unlock()
		s.join(done)
		s.mu.Lock()
	}
	actx, cancel := context.WithCancel(ctx)
	s.state = Acquiring
	s.cancelAcquire = cancel
	s.aborted = false
	s.lastErr = nil
	s.mu.Unlock()

	s.logger.Info("acquiring camera", "source", s.src.String())
	capture, err := s.acquirer.Acquire(actx, s.src, s.config.Target)
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelAcquire = nil

	if s.aborted {
		if err == nil {
			capture.Close()
			s.acquirer.Release(s.src)
		}
		err = ErrStopped
	}
	if err != nil {
		s.state = Idle
		s.lastErr = err
		s.logger.Error("camera acquisition failed", "error", err)
		return err
	}

	s.pipeline.Reset()
	worker := pipeline.NewProcessor(s.pipeline, s.camLog)
	worker.Start()

	s.capture = capture
	s.worker = worker
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.startedAt = time.Now()
	s.hasLatest = false
	s.latest = pipeline.Result{}
	s.framesRead = 0
	s.published = 0
	s.state = Streaming

	go s.loop(capture, worker, s.stop, s.done)

	s.logger.Info("camera streaming",
		"width", s.config.Target.Width,
		"height", s.config.Target.Height,
		"fps", s.config.Target.FPS,
	)
	return nil
}

// loop reads, submits, picks up the latest processed result, publishes it,
// and sleeps out the rest of the frame interval.
func (s *Session) loop(capture camera.Capture, worker *pipeline.Processor, stop, done chan struct{}) {
	defer close(done)

	var interval time.Duration
	if s.config.Target.FPS > 0 {
		interval = time.Second / time.Duration(s.config.Target.FPS)
	}
	var lastVersion uint64

	for {
		select {
		case <-stop:
			return
		default:
		}

		start := time.Now()
		frame, err := capture.Read()
		if err != nil {
			select {
			case <-stop:
				// Close during Stop unblocks Read
				return
			default:
			}
			s.fail(stop, err)
			return
		}

		s.mu.Lock()
		s.framesRead++
		s.mu.Unlock()

		worker.Submit(frame)

		if res, ok := worker.Latest(); ok && res.Version != lastVersion {
			lastVersion = res.Version
			s.publish(res)
		}

		if interval > 0 {
			if wait := interval - time.Since(start); wait > 0 {
				t := time.NewTimer(wait)
				select {
				case <-t.C:
				case <-stop:
					t.Stop()
					return
				}
			}
		}
	}
}

func (s *Session) publish(res pipeline.Result) {
	s.mu.Lock()
	s.latest = res
	s.hasLatest = true
	s.published++
	hook := s.onPublish
	s.mu.Unlock()

	if hook != nil {
		hook(s.id, res)
	}
}

// fail tears the session down from the loop goroutine after a read error,
// unless Stop already owns the teardown.
func (s *Session) fail(stop chan struct{}, err error) {
	s.mu.Lock()
	if s.state != Streaming || s.stop != stop {
		s.mu.Unlock()
		return
	}
	s.state = Stopping
	s.lastErr = err
	capture, worker := s.capture, s.worker
	s.mu.Unlock()

	s.logger.Error("frame read failed, stopping camera", "error", err)
	s.teardown(capture, worker)
}

// Stop signals the loop, closes the capture to unblock a pending read, and
// waits up to JoinTimeout for the loop to exit. The session returns to Idle
// even when the join times out; ErrJoinTimeout is returned in that case.
func (s *Session) Stop() error {
	// Abort an acquisition in progress so Stop does not wait the full ladder
	s.mu.Lock()
	if s.cancelAcquire != nil {
		s.aborted = true
		s.cancelAcquire()
	}
	s.mu.Unlock()

	s.startMu.Lock()
	defer s.startMu.Unlock()

	s.mu.Lock()
	switch s.state {
	case Streaming:
	case Stopping:
		done := s.done
		s.mu.Unlock()
		if !s.join(done) {
			return ErrJoinTimeout
		}
		return nil
	default:
		s.mu.Unlock()
		return nil
	}
	s.state = Stopping
	stop, done := s.stop, s.done
	capture, worker := s.capture, s.worker
	s.mu.Unlock()

	close(stop)
	capture.Close()

	var err error
	if !s.join(done) {
		err = ErrJoinTimeout
		s.logger.Warn("capture loop did not stop in time", "timeout", s.config.JoinTimeout)
	}

	s.teardown(capture, worker)
	s.logger.Info("camera stopped")
	return err
}

func (s *Session) join(done chan struct{}) bool {
	if done == nil {
		return true
	}
	t := time.NewTimer(s.config.JoinTimeout)
	defer t.Stop()
	select {
	case <-done:
		return true
	case <-t.C:
		return false
	}
}

func (s *Session) teardown(capture camera.Capture, worker *pipeline.Processor) {
	capture.Close()
	if err := worker.Stop(s.config.JoinTimeout); err != nil {
		s.logger.Warn("processing worker did not stop in time", "error", err)
	}
	s.acquirer.Release(s.src)
	s.pipeline.Reset()

	s.mu.Lock()
	s.state = Idle
	s.capture = nil
	s.worker = nil
	s.hasLatest = false
	s.latest = pipeline.Result{}
	s.mu.Unlock()
}

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsStreaming reports whether the capture loop is running.
func (s *Session) IsStreaming() bool {
	return s.State() == Streaming
}

// Err returns the error that last moved the session to Idle, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Latest returns a copy of the newest processed frame and its counts.
func (s *Session) Latest() (vision.Frame, attention.Counts, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasLatest {
		return vision.Frame{}, attention.Counts{}, false
	}
	return s.latest.Frame.Clone(), s.latest.Counts, true
}

// LatestResult returns a copy of the newest processed result.
func (s *Session) LatestResult() (pipeline.Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasLatest {
		return pipeline.Result{}, false
	}
	res := s.latest
	res.Frame = res.Frame.Clone()
	res.Detections = slices.Clone(res.Detections)
	return res, true
}

// Stats returns a snapshot of the session.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	st := Stats{
		CameraID:   s.id,
		Source:     s.src.String(),
		State:      s.state,
		HasFrame:   s.hasLatest,
		FramesRead: s.framesRead,
		Published:  s.published,
	}
	if s.hasLatest {
		st.Counts = s.latest.Counts
		st.NoDetection = s.latest.NoDetection()
	}
	if s.state == Streaming {
		st.Uptime = time.Since(s.startedAt)
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	worker := s.worker
	s.mu.Unlock()

	if worker != nil {
		ws := worker.Stats()
		st.Dropped = ws.Dropped
		st.Failed = ws.Failed
	}
	st.Average = s.pipeline.Average(s.config.StatsFrames)
	st.ActiveTracks = s.pipeline.ActiveTracks()
	return st
}

// Info describes the session without touching the pipeline.
type Info struct {
	CameraID int               `json:"camera_id"`
	Source   camera.Source     `json:"source"`
	Kind     camera.SourceKind `json:"kind"`
	Target   camera.Target     `json:"target"`
	State    State             `json:"state"`
}

// Info returns the session's identity, requested geometry and state.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		CameraID: s.id,
		Source:   s.src,
		Kind:     s.src.Kind(),
		Target:   s.config.Target,
		State:    s.state,
	}
}
