package pipeline

import (
	"log/slog"
	"slices"
	"sync"
)

// Set hands out one Pipeline per camera, sharing the detector, pose
// estimator and annotator. Threshold changes reach every pipeline, including
// ones created later.
type Set struct {
	detector  Detector
	pose      PoseEstimator
	annotator Annotator
	logger    *slog.Logger

	mu        sync.Mutex
	config    Config
	pipelines map[int]*Pipeline
}

// NewSet creates an empty set.
func NewSet(cfg Config, detector Detector, pose PoseEstimator, annotator Annotator, logger *slog.Logger) *Set {
	if logger == nil {
		logger = slog.Default()
	}
	return &Set{
		detector:  detector,
		pose:      pose,
		annotator: annotator,
		logger:    logger,
		config:    cfg,
		pipelines: make(map[int]*Pipeline),
	}
}

// For returns the pipeline of a camera, creating it on first use. A camera
// keeps its pipeline across restarts; the session resets it on start.
func (s *Set) For(cameraID int) *Pipeline {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.pipelines[cameraID]; ok {
		return p
	}
	p := New(s.config, s.detector, s.pose, s.annotator, s.logger.With("camera_id", cameraID))
	s.pipelines[cameraID] = p
	return p
}

// Cameras returns the ids that have a pipeline, sorted.
func (s *Set) Cameras() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int, 0, len(s.pipelines))
	for id := range s.pipelines {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Config returns the configuration new pipelines are built with.
func (s *Set) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

// SetThresholds updates every pipeline and the configuration of future ones.
func (s *Set) SetThresholds(confidence, iou, yaw, pitch float64) {
	s.mu.Lock()
	s.config.ConfidenceThreshold = confidence
	s.config.Tracking.IoUThreshold = iou
	s.config.Attention.YawThreshold = yaw
	s.config.Attention.PitchThreshold = pitch
	pipelines := make([]*Pipeline, 0, len(s.pipelines))
	for _, p := range s.pipelines {
		pipelines = append(pipelines, p)
	}
	s.mu.Unlock()

	for _, p := range pipelines {
		p.SetThresholds(confidence, iou, yaw, pitch)
	}
}
