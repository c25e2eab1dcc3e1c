// Package multicam runs several camera sessions side by side, aggregates
// their attention counts, composites their frames and feeds recordings.
package multicam

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/teslashibe/go-attention/pkg/attention"
	"github.com/teslashibe/go-attention/pkg/camera"
	"github.com/teslashibe/go-attention/pkg/recording"
	"github.com/teslashibe/go-attention/pkg/session"
	"github.com/teslashibe/go-attention/pkg/vision"
)

// PipelineFactory builds the processing stage for one camera. Each camera
// gets its own so identities never mix across cameras.
type PipelineFactory func(cameraID int) session.Pipeline

// Compositor joins per-camera frames into one. *opencv.Renderer implements it.
type Compositor interface {
	Compose(ids []int, frames []vision.Frame, counts attention.Counts) (vision.Frame, error)
}

// Config holds orchestrator parameters.
type Config struct {
	Session session.Config `json:"session"`

	// SettleDelay is waited after StopAll so drivers can release devices
	// before a restart.
	SettleDelay time.Duration `json:"settle_delay"`

	// RecordFPS is the default frame rate for multi-camera recordings.
	RecordFPS float64 `json:"record_fps"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Session:     session.DefaultConfig(),
		SettleDelay: 500 * time.Millisecond,
		RecordFPS:   20,
	}
}

// Orchestrator owns the camera registry. The registry lock is only held to
// read or mutate the map, never across acquisition, joins or I/O.
type Orchestrator struct {
	config      Config
	acquirer    session.Acquirer
	newPipeline PipelineFactory
	compositor  Compositor
	recorder    *recording.Synchronizer
	base        *slog.Logger
	logger      *slog.Logger

	mu       sync.Mutex
	sessions map[int]*session.Session
	starting map[int]*pendingStart
	closed   bool

	recMu      sync.Mutex
	recordings map[string]*feed
}

// New creates an orchestrator. compositor and recorder may be nil, which
// disables composites and recordings respectively.
func New(cfg Config, acquirer session.Acquirer, newPipeline PipelineFactory, compositor Compositor, recorder *recording.Synchronizer, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		config:      cfg,
		acquirer:    acquirer,
		newPipeline: newPipeline,
		compositor:  compositor,
		recorder:    recorder,
		base:        logger,
		logger:      logger.With("component", "multicam"),
		sessions:    make(map[int]*session.Session),
		starting:    make(map[int]*pendingStart),
		recordings:  make(map[string]*feed),
	}
}

// Start starts the local device with index id.
func (o *Orchestrator) Start(ctx context.Context, id int, target camera.Target) error {
	return o.StartSource(ctx, id, camera.Device(id), target)
}

// pendingStart is an acquisition in flight. err is set before done closes.
type pendingStart struct {
	done chan struct{}
	err  error
}

// StartSource starts a camera session for src under id. Starting an id that
// is already streaming is a no-op; starting one that is still acquiring
// waits for that acquisition and returns its result. A source can back only
// one id at a time. On failure nothing is left in the registry.
// Acquisitions of different ids run concurrently.
func (o *Orchestrator) StartSource(ctx context.Context, id int, src camera.Source, target camera.Target) error {
	cfg := o.config.Session
	if target != (camera.Target{}) {
		cfg.Target = target
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrShutdown
	}
	if p, ok := o.starting[id]; ok {
		o.mu.Unlock()
		select {
		case <-p.done:
			return p.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if existing, ok := o.sessions[id]; ok && existing.State() != session.Idle {
		o.mu.Unlock()
		return nil
	}
	if owner, ok := o.ownerOf(src, id); ok {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s is used by camera %d", camera.ErrSourceInUse, src, owner)
	}
	sess := session.New(id, src, cfg, o.acquirer, o.newPipeline(id), o.base)
	sess.OnPublish(o.onPublish)
	pending := &pendingStart{done: make(chan struct{})}
	o.sessions[id] = sess
	o.starting[id] = pending
	o.mu.Unlock()

	err := sess.Start(ctx)

	o.mu.Lock()
	delete(o.starting, id)
	if err != nil && o.sessions[id] == sess {
		delete(o.sessions, id)
	}
	o.mu.Unlock()
	pending.err = err
	close(pending.done)
	if err != nil {
		return err
	}

	o.logger.Info("camera started", "camera_id", id, "source", src.String())
	return nil
}

// ownerOf returns another id whose session holds or is acquiring src.
// Callers hold o.mu.
func (o *Orchestrator) ownerOf(src camera.Source, id int) (int, bool) {
	for other, sess := range o.sessions {
		if other == id || sess.Source().String() != src.String() {
			continue
		}
		if _, pending := o.starting[other]; pending || sess.State() != session.Idle {
			return other, true
		}
	}
	return 0, false
}

// Stop stops one camera and removes it from the registry once its loop has
// exited or the join timed out.
func (o *Orchestrator) Stop(id int) error {
	o.mu.Lock()
	sess, ok := o.sessions[id]
	o.mu.Unlock()
	if !ok {
		return ErrCameraNotFound
	}

	err := sess.Stop()

	o.mu.Lock()
	if o.sessions[id] == sess {
		delete(o.sessions, id)
	}
	o.mu.Unlock()

	o.dropCamera(id)
	o.logger.Info("camera stopped", "camera_id", id, "error", err)
	return err
}

// StopAll stops every camera concurrently, then waits SettleDelay.
func (o *Orchestrator) StopAll() error {
	o.mu.Lock()
	ids := make([]int, 0, len(o.sessions))
	for id := range o.sessions {
		ids = append(ids, id)
	}
	o.mu.Unlock()

	if len(ids) == 0 {
		return nil
	}

	errs := make([]error, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i, id int) {
			defer wg.Done()
			if err := o.Stop(id); err != nil && !errors.Is(err, ErrCameraNotFound) {
				errs[i] = err
			}
		}(i, id)
	}
	wg.Wait()

	if o.config.SettleDelay > 0 {
		time.Sleep(o.config.SettleDelay)
	}
	return errors.Join(errs...)
}

// Shutdown stops every recording and camera. The orchestrator rejects new
// cameras afterwards.
func (o *Orchestrator) Shutdown() error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	o.recMu.Lock()
	ids := make([]string, 0, len(o.recordings))
	for id := range o.recordings {
		ids = append(ids, id)
	}
	o.recMu.Unlock()
	for _, id := range ids {
		if _, err := o.StopRecording(id); err != nil {
			o.logger.Warn("stop recording on shutdown failed", "recording_id", id, "error", err)
		}
	}

	return o.StopAll()
}

// snapshot returns streaming sessions ordered by id. Sessions that fell back
// to Idle after a read failure are dropped from the registry here.
func (o *Orchestrator) snapshot() []*session.Session {
	o.mu.Lock()
	var out []*session.Session
	var dead []int
	for id, sess := range o.sessions {
		switch sess.State() {
		case session.Streaming:
			out = append(out, sess)
		case session.Idle:
			if _, pending := o.starting[id]; pending {
				continue
			}
			delete(o.sessions, id)
			dead = append(dead, id)
		}
	}
	o.mu.Unlock()

	for _, id := range dead {
		o.logger.Warn("camera no longer streaming, removed", "camera_id", id)
		o.dropCamera(id)
	}

	slices.SortFunc(out, func(a, b *session.Session) int { return a.ID() - b.ID() })
	return out
}

func (o *Orchestrator) lookup(id int) (*session.Session, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	sess, ok := o.sessions[id]
	return sess, ok
}

// ActiveCameras returns the ids of streaming cameras, sorted.
func (o *Orchestrator) ActiveCameras() []int {
	sessions := o.snapshot()
	ids := make([]int, len(sessions))
	for i, s := range sessions {
		ids[i] = s.ID()
	}
	return ids
}

// CameraState returns the lifecycle state of a registered camera.
func (o *Orchestrator) CameraState(id int) (session.State, bool) {
	sess, ok := o.lookup(id)
	if !ok {
		return session.Idle, false
	}
	return sess.State(), true
}

// CameraStats returns one camera's snapshot.
func (o *Orchestrator) CameraStats(id int) (session.Stats, error) {
	sess, ok := o.lookup(id)
	if !ok {
		return session.Stats{}, ErrCameraNotFound
	}
	return sess.Stats(), nil
}

// AllStats returns the snapshot of every streaming camera, ordered by id.
func (o *Orchestrator) AllStats() []session.Stats {
	sessions := o.snapshot()
	out := make([]session.Stats, len(sessions))
	for i, s := range sessions {
		out[i] = s.Stats()
	}
	return out
}

// AggregatedStats sums the latest published counts of every streaming
// camera. A camera with no frame yet contributes zero.
func (o *Orchestrator) AggregatedStats() attention.Counts {
	var total attention.Counts
	for _, s := range o.snapshot() {
		if _, counts, ok := s.Latest(); ok {
			total = total.Add(counts)
		}
	}
	return total
}

// CameraFrame returns a copy of one camera's latest annotated frame.
func (o *Orchestrator) CameraFrame(id int) (vision.Frame, bool) {
	sess, ok := o.lookup(id)
	if !ok {
		return vision.Frame{}, false
	}
	frame, _, ok := sess.Latest()
	return frame, ok
}

// Composite builds one frame from the latest frame of every streaming
// camera, with the aggregated counts of the cameras included.
func (o *Orchestrator) Composite() (vision.Frame, attention.Counts, error) {
	return o.composite(nil)
}

func (o *Orchestrator) composite(only []int) (vision.Frame, attention.Counts, error) {
	if o.compositor == nil {
		return vision.Frame{}, attention.Counts{}, errors.New("multicam: no compositor configured")
	}

	var (
		ids    []int
		frames []vision.Frame
		total  attention.Counts
	)
	for _, s := range o.snapshot() {
		if only != nil && !slices.Contains(only, s.ID()) {
			continue
		}
		frame, counts, ok := s.Latest()
		if !ok {
			continue
		}
		ids = append(ids, s.ID())
		frames = append(frames, frame)
		total = total.Add(counts)
	}
	if len(frames) == 0 {
		return vision.Frame{}, total, ErrNoFrames
	}

	out, err := o.compositor.Compose(ids, frames, total)
	if err != nil {
		return vision.Frame{}, total, err
	}
	return out, total, nil
}

// Frames emits a composite every interval until ctx is done. Ticks with no
// frames are skipped, and a composite is dropped if the consumer has not
// taken the previous one.
func (o *Orchestrator) Frames(ctx context.Context, interval time.Duration) <-chan vision.Frame {
	out := make(chan vision.Frame, 1)
	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			frame, _, err := o.Composite()
			if err != nil {
				continue
			}
			select {
			case out <- frame:
			default:
			}
		}
	}()
	return out
}
