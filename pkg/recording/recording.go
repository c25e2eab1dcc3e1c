// Package recording writes annotated video together with a timestamped
// sequence of attention counts. Recordings are keyed by id and independent
// of each other and of the cameras that feed them.
package recording

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/teslashibe/go-attention/pkg/attention"
	"github.com/teslashibe/go-attention/pkg/vision"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Writer appends frames to a video file. *opencv.Writer implements it.
type Writer interface {
	Write(frame vision.Frame) error
	Close() error
}

// WriterFactory creates the video writer for a recording.
type WriterFactory func(path string, fps float64, width, height int) (Writer, error)

// Config holds recorder parameters.
type Config struct {
	// Dir is where videos and sample sidecars are written.
	Dir string `json:"dir"`

	// Ext is the video file extension.
	Ext string `json:"ext"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Dir: "recordings",
		Ext: ".avi",
	}
}

// Sample is the attention counts written alongside one video frame.
type Sample struct {
	Offset time.Duration    `json:"offset"`
	Counts attention.Counts `json:"counts"`
}

// Status describes an active recording.
type Status struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Cameras   []int         `json:"cameras"`
	StartedAt time.Time     `json:"started_at"`
	Elapsed   time.Duration `json:"elapsed"`
	Frames    int           `json:"frames"`
	Width     int           `json:"width"`
	Height    int           `json:"height"`
	FPS       float64       `json:"fps"`
}

// Summary is returned when a recording stops.
type Summary struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Cameras     []int         `json:"cameras"`
	VideoPath   string        `json:"video_path"`
	SamplesPath string        `json:"samples_path"`
	StartedAt   time.Time     `json:"started_at"`
	StoppedAt   time.Time     `json:"stopped_at"`
	Duration    time.Duration `json:"duration"`
	Frames      int           `json:"frames"`
	WriteErrors int           `json:"write_errors"`

	// Totals sums each band over every sample.
	Totals attention.Counts `json:"totals"`

	// Per-sample statistics of the attending share and headcount.
	MeanAttendingRatio   float64 `json:"mean_attending_ratio"`
	StdDevAttendingRatio float64 `json:"stddev_attending_ratio"`
	MeanTotal            float64 `json:"mean_total"`
	PeakTotal            float64 `json:"peak_total"`
}

type recording struct {
	mu        sync.Mutex
	id        string
	name      string
	cameras   []int
	writer    Writer
	videoPath string
	startedAt time.Time
	width     int
	height    int
	fps       float64
	frames    int
	errors    int
	samples   []Sample
}

// Synchronizer manages concurrent recordings. The registry lock only guards
// the map; each recording serializes its own writes.
type Synchronizer struct {
	config    Config
	newWriter WriterFactory
	logger    *slog.Logger
	now       func() time.Time

	mu     sync.Mutex
	active map[string]*recording
}

// New creates a synchronizer writing into cfg.Dir.
func New(cfg Config, newWriter WriterFactory, logger *slog.Logger) *Synchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Ext == "" {
		cfg.Ext = DefaultConfig().Ext
	}
	return &Synchronizer{
		config:    cfg,
		newWriter: newWriter,
		logger:    logger.With("component", "recording"),
		now:       time.Now,
		active:    make(map[string]*recording),
	}
}

// Start begins a recording sized from sample. An empty id is replaced by a
// generated one; the id in use is returned.
func (s *Synchronizer) Start(id string, sample vision.Frame, fps float64, name string, cameras []int) (string, error) {
	if sample.Empty() {
		return "", ErrNoSampleFrame
	}
	if fps <= 0 {
		fps = 20
	}
	if id == "" {
		id = uuid.NewString()
	}

	s.mu.Lock()
	if _, ok := s.active[id]; ok {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrAlreadyRecording, id)
	}
	// Reserve the id so a concurrent Start with the same id fails
	s.active[id] = nil
	s.mu.Unlock()

	rec, err := s.open(id, sample, fps, name, cameras)

	s.mu.Lock()
	if err != nil {
		delete(s.active, id)
	} else {
		s.active[id] = rec
	}
	s.mu.Unlock()

	if err != nil {
		return "", err
	}

	s.logger.Info("recording started",
		"recording_id", id,
		"path", rec.videoPath,
		"width", rec.width,
		"height", rec.height,
		"fps", fps,
		"cameras", cameras,
	)
	return id, nil
}

func (s *Synchronizer) open(id string, sample vision.Frame, fps float64, name string, cameras []int) (*recording, error) {
	if err := os.MkdirAll(s.config.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("recording: create dir: %w", err)
	}

	started := s.now()
	path := filepath.Join(s.config.Dir, fileBase(id, name, started)+s.config.Ext)

	w, err := s.newWriter(path, fps, sample.Width, sample.Height)
	if err != nil {
		return nil, fmt.Errorf("recording: open writer: %w", err)
	}

	return &recording{
		id:        id,
		name:      name,
		cameras:   slices.Clone(cameras),
		writer:    w,
		videoPath: path,
		startedAt: started,
		width:     sample.Width,
		height:    sample.Height,
		fps:       fps,
	}, nil
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func fileBase(id, name string, t time.Time) string {
	base := "recording_" + t.Format("20060102_150405")
	if name != "" {
		base = unsafeName.ReplaceAllString(name, "_")
	}
	short := id
	if len(short) > 8 {
		short = short[:8]
	}
	return base + "_" + unsafeName.ReplaceAllString(short, "_")
}

func (s *Synchronizer) get(id string) *recording {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active[id]
}

// WriteFrame appends a video frame and its attention sample.
func (s *Synchronizer) WriteFrame(id string, frame vision.Frame, counts attention.Counts) error {
	rec := s.get(id)
	if rec == nil {
		return ErrNotFound
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.writer == nil {
		// Stopped between lookup and lock
		return ErrNotFound
	}

	if err := rec.writer.Write(frame); err != nil {
		rec.errors++
		return fmt.Errorf("recording %s: write frame: %w", id, err)
	}
	rec.frames++
	rec.samples = append(rec.samples, Sample{
		Offset: s.now().Sub(rec.startedAt),
		Counts: counts,
	})
	return nil
}

// Stop finalizes the video, writes the sample sidecar and returns the
// summary. Unknown or already stopped ids return ErrNotFound.
func (s *Synchronizer) Stop(id string) (*Summary, error) {
	s.mu.Lock()
	rec := s.active[id]
	if rec != nil {
		delete(s.active, id)
	}
	s.mu.Unlock()

	if rec == nil {
		return nil, ErrNotFound
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	var closeErr error
	if err := rec.writer.Close(); err != nil {
		closeErr = fmt.Errorf("recording %s: close writer: %w", id, err)
	}
	rec.writer = nil

	stopped := s.now()
	summary := summarize(rec, stopped)

	if err := s.persist(summary, rec.samples); err != nil {
		s.logger.Error("failed to persist samples", "recording_id", id, "error", err)
		if closeErr == nil {
			closeErr = err
		}
	}

	s.logger.Info("recording stopped",
		"recording_id", id,
		"frames", summary.Frames,
		"duration", summary.Duration,
		"mean_attending_ratio", summary.MeanAttendingRatio,
	)
	return summary, closeErr
}

func summarize(rec *recording, stopped time.Time) *Summary {
	sum := &Summary{
		ID:          rec.id,
		Name:        rec.name,
		Cameras:     rec.cameras,
		VideoPath:   rec.videoPath,
		SamplesPath: sidecarPath(rec.videoPath),
		StartedAt:   rec.startedAt,
		StoppedAt:   stopped,
		Duration:    stopped.Sub(rec.startedAt),
		Frames:      rec.frames,
		WriteErrors: rec.errors,
	}
	if len(rec.samples) == 0 {
		return sum
	}

	ratios := make([]float64, len(rec.samples))
	totals := make([]float64, len(rec.samples))
	for i, smp := range rec.samples {
		sum.Totals = sum.Totals.Add(smp.Counts)
		ratios[i] = smp.Counts.AttendingRatio()
		totals[i] = float64(smp.Counts.Total)
	}

	if len(ratios) > 1 {
		sum.MeanAttendingRatio, sum.StdDevAttendingRatio = stat.MeanStdDev(ratios, nil)
	} else {
		sum.MeanAttendingRatio = ratios[0]
	}
	sum.MeanTotal = stat.Mean(totals, nil)
	sum.PeakTotal = floats.Max(totals)
	return sum
}

func sidecarPath(videoPath string) string {
	return videoPath[:len(videoPath)-len(filepath.Ext(videoPath))] + ".json"
}

type sidecar struct {
	Summary *Summary `json:"summary"`
	Samples []Sample `json:"samples"`
}

func (s *Synchronizer) persist(summary *Summary, samples []Sample) error {
	if samples == nil {
		samples = []Sample{}
	}
	data, err := json.MarshalIndent(sidecar{Summary: summary, Samples: samples}, "", "  ")
	if err != nil {
		return fmt.Errorf("recording: encode samples: %w", err)
	}
	if err := os.WriteFile(summary.SamplesPath, data, 0o644); err != nil {
		return fmt.Errorf("recording: write samples: %w", err)
	}
	return nil
}

// IsRecording reports whether id is active.
func (s *Synchronizer) IsRecording(id string) bool {
	return s.get(id) != nil
}

// Active returns the ids of active recordings, sorted.
func (s *Synchronizer) Active() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.active))
	for id, rec := range s.active {
		if rec != nil {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// Status returns the state of one active recording.
func (s *Synchronizer) Status(id string) (Status, error) {
	rec := s.get(id)
	if rec == nil {
		return Status{}, ErrNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return Status{
		ID:        rec.id,
		Name:      rec.name,
		Cameras:   slices.Clone(rec.cameras),
		StartedAt: rec.startedAt,
		Elapsed:   s.now().Sub(rec.startedAt),
		Frames:    rec.frames,
		Width:     rec.width,
		Height:    rec.height,
		FPS:       rec.fps,
	}, nil
}

// StatusAll returns the state of every active recording, sorted by id.
func (s *Synchronizer) StatusAll() []Status {
	var out []Status
	for _, id := range s.Active() {
		if st, err := s.Status(id); err == nil {
			out = append(out, st)
		}
	}
	return out
}

// StopAll stops every active recording and returns their summaries.
func (s *Synchronizer) StopAll() []*Summary {
	var out []*Summary
	for _, id := range s.Active() {
		sum, err := s.Stop(id)
		if err != nil {
			s.logger.Warn("stop recording failed", "recording_id", id, "error", err)
		}
		if sum != nil {
			out = append(out, sum)
		}
	}
	return out
}
