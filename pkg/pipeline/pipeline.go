// Package pipeline runs the per-frame attention stages: person detection,
// face landmarks and head pose per person crop, identity tracking, temporally
// smoothed classification, counting, and overlay rendering.
package pipeline

import (
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-attention/pkg/attention"
	"github.com/teslashibe/go-attention/pkg/pose"
	"github.com/teslashibe/go-attention/pkg/tracking"
	"github.com/teslashibe/go-attention/pkg/vision"
)

// Detector finds people in a frame.
type Detector interface {
	Detect(frame vision.Frame) ([]vision.Detection, error)
}

// PoseEstimator finds face landmarks in a person crop and turns them into
// head angles in degrees.
type PoseEstimator interface {
	// Landmarks returns nil when no face is found.
	Landmarks(crop vision.Frame) (*pose.Landmarks, error)
	Pose(lm pose.Landmarks, width, height int) (yaw, pitch float64, ok bool)
}

// Annotator draws detections onto a copy of the frame.
type Annotator interface {
	Annotate(frame vision.Frame, dets []vision.Detection, counts attention.Counts) (vision.Frame, error)
}

// Config holds the pipeline parameters.
type Config struct {
	// ConfidenceThreshold drops person detections scoring below it.
	ConfidenceThreshold float64 `json:"confidence_threshold"`

	Tracking  tracking.Config  `json:"tracking"`
	Attention attention.Config `json:"attention"`

	// StatsWindow is the number of recent frames kept for rolling stats.
	StatsWindow int `json:"stats_window"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold: 0.4,
		Tracking:            tracking.DefaultConfig(),
		Attention:           attention.DefaultConfig(),
		StatsWindow:         60,
	}
}

// Validate checks if the config values are within valid ranges.
// Returns a list of validation errors, or nil if valid.
func (c *Config) Validate() []string {
	var errors []string
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		errors = append(errors, "confidence_threshold must be between 0 and 1")
	}
	if c.StatsWindow < 1 {
		errors = append(errors, "stats_window must be at least 1")
	}
	errors = append(errors, c.Tracking.Validate()...)
	errors = append(errors, c.Attention.Validate()...)
	return errors
}

// Result is the outcome of processing one frame.
type Result struct {
	Seq        uint64             `json:"seq"`
	Frame      vision.Frame       `json:"-"`
	Detections []vision.Detection `json:"detections"`
	Counts     attention.Counts   `json:"counts"`
	Timestamp  time.Time          `json:"timestamp"`
	Latency    time.Duration      `json:"latency"`

	// Version is assigned by the Processor and increases with every
	// published result, including failures.
	Version uint64 `json:"-"`

	// Err is set when processing failed. Such results carry the raw frame
	// and no detections.
	Err error `json:"-"`
}

// NoDetection reports whether the result is a failure placeholder.
func (r Result) NoDetection() bool {
	return r.Err != nil
}

// Pipeline owns the tracker and classifier of one camera. Process must be
// called from a single goroutine; the stats accessors are safe from any.
type Pipeline struct {
	detector  Detector
	pose      PoseEstimator
	annotator Annotator
	tracker   *tracking.Tracker
	classify  *attention.Classifier
	logger    *slog.Logger

	mu         sync.Mutex
	minConf    float64
	frameCount uint64
	window     *Window
}

// New creates a pipeline. pose and annotator may be nil: without a pose
// estimator every person is classified as not attending, and without an
// annotator results carry the raw frame.
func New(cfg Config, detector Detector, pose PoseEstimator, annotator Annotator, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		detector:  detector,
		pose:      pose,
		annotator: annotator,
		tracker:   tracking.New(cfg.Tracking),
		classify:  attention.NewClassifier(cfg.Attention),
		logger:    logger.With("component", "pipeline"),
		minConf:   cfg.ConfidenceThreshold,
		window:    NewWindow(cfg.StatsWindow),
	}
	// Classifier state dies with the track
	p.tracker.OnRetire(p.classify.Clear)
	return p
}

// Process runs every stage on one frame.
func (p *Pipeline) Process(frame vision.Frame) (Result, error) {
	start := time.Now()

	raw, err := p.detector.Detect(frame)
	if err != nil {
		return Result{}, err
	}

	p.mu.Lock()
	minConf := p.minConf
	p.mu.Unlock()

	dets := raw[:0:0]
	for _, d := range raw {
		if d.Confidence >= minConf {
			dets = append(dets, d)
		}
	}

	dets = p.tracker.Update(dets)
	for i := range dets {
		p.attend(frame, &dets[i])
	}

	counts := attention.Count(dets)

	out := frame
	if p.annotator != nil {
		annotated, err := p.annotator.Annotate(frame, dets, counts)
		if err != nil {
			p.logger.Warn("annotate failed", "error", err)
		} else {
			out = annotated
		}
	}

	p.mu.Lock()
	p.frameCount++
	seq := p.frameCount
	p.window.Add(counts)
	p.mu.Unlock()

	return Result{
		Seq:        seq,
		Frame:      out,
		Detections: dets,
		Counts:     counts,
		Timestamp:  start,
		Latency:    time.Since(start),
	}, nil
}

// attend fills pose, status and confidence for one tracked detection. When
// the face cannot be measured the last known pose is carried forward.
func (p *Pipeline) attend(frame vision.Frame, d *vision.Detection) {
	yaw, pitch, ok := p.measure(frame, d.Box)

	switch {
	case ok:
		yaw, pitch = p.classify.SmoothPose(d.ID, yaw, pitch)
		d.Status = p.classify.ClassifyFor(d.ID, yaw, pitch)
	default:
		yaw, pitch, ok = p.classify.LastKnownPose(d.ID)
		if ok {
			d.Status = p.classify.ClassifyFor(d.ID, yaw, pitch)
		} else {
			d.Status = p.classify.NoFace(d.ID)
		}
	}

	if ok {
		d.Yaw, d.Pitch, d.HasPose = yaw, pitch, true
		dir := attention.Direction(yaw, pitch)
		d.Direction = &dir
	}
	d.AttentionConfidence = p.classify.Confidence(d.ID)
}

func (p *Pipeline) measure(frame vision.Frame, box vision.Box) (yaw, pitch float64, ok bool) {
	if p.pose == nil {
		return 0, 0, false
	}
	crop := frame.Crop(box)
	if crop.Empty() {
		return 0, 0, false
	}
	lm, err := p.pose.Landmarks(crop)
	if err != nil {
		p.logger.Debug("landmarks failed", "error", err)
		return 0, 0, false
	}
	if lm == nil {
		return 0, 0, false
	}
	return p.pose.Pose(*lm, crop.Width, crop.Height)
}

// SetThresholds applies new detection, tracking and attention thresholds to
// subsequent frames without dropping identities.
func (p *Pipeline) SetThresholds(confidence, iou, yaw, pitch float64) {
	p.mu.Lock()
	p.minConf = confidence
	p.mu.Unlock()
	p.tracker.SetIoUThreshold(iou)
	p.classify.SetThresholds(yaw, pitch)
}

// FrameCount returns the number of frames processed since the last Reset.
func (p *Pipeline) FrameCount() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frameCount
}

// Recent returns up to n of the most recent per-frame counts, oldest first.
func (p *Pipeline) Recent(n int) []attention.Counts {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.window.Recent(n)
}

// Average returns mean counts and band percentages over the last n frames.
func (p *Pipeline) Average(n int) AverageStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.window.Average(n)
}

// ActiveTracks returns the number of live identities.
func (p *Pipeline) ActiveTracks() int {
	return p.tracker.Len()
}

// Reset drops every identity and the rolling stats. Called when a stream
// restarts.
func (p *Pipeline) Reset() {
	p.tracker.Reset()
	p.classify.ClearAll()

	p.mu.Lock()
	p.frameCount = 0
	p.window.Reset()
	p.mu.Unlock()
}
