package multicam

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teslashibe/go-attention/pkg/attention"
	"github.com/teslashibe/go-attention/pkg/camera"
	"github.com/teslashibe/go-attention/pkg/pipeline"
	"github.com/teslashibe/go-attention/pkg/recording"
	"github.com/teslashibe/go-attention/pkg/session"
	"github.com/teslashibe/go-attention/pkg/vision"
)

// fakeAcquirer hands out captures per device index.
type fakeAcquirer struct {
	mu      sync.Mutex
	acquire map[int]func(ctx context.Context) (camera.Capture, error)
}

func newFakeAcquirer() *fakeAcquirer {
	return &fakeAcquirer{acquire: make(map[int]func(ctx context.Context) (camera.Capture, error))}
}

func (a *fakeAcquirer) set(id int, fn func(ctx context.Context) (camera.Capture, error)) {
	a.mu.Lock()
	a.acquire[id] = fn
	a.mu.Unlock()
}

func (a *fakeAcquirer) Acquire(ctx context.Context, src camera.Source, _ camera.Target) (camera.Capture, error) {
	a.mu.Lock()
	fn, ok := a.acquire[src.Device]
	a.mu.Unlock()
	if !ok {
		return streaming(), nil
	}
	return fn(ctx)
}

func (a *fakeAcquirer) Release(camera.Source) {}

func streaming() *camera.MockCapture {
	c := camera.NewMockCapture()
	c.FrameDelay = 5 * time.Millisecond
	return c
}

type fakePipeline struct {
	counts attention.Counts
}

func (p *fakePipeline) Process(f vision.Frame) (pipeline.Result, error) {
	return pipeline.Result{Frame: f, Counts: p.counts}, nil
}
func (p *fakePipeline) Reset()                             {}
func (p *fakePipeline) Average(int) pipeline.AverageStats { return pipeline.AverageStats{} }
func (p *fakePipeline) ActiveTracks() int                  { return p.counts.Total }

type fakeCompositor struct {
	mu    sync.Mutex
	calls [][]int
}

func (c *fakeCompositor) Compose(ids []int, frames []vision.Frame, _ attention.Counts) (vision.Frame, error) {
	c.mu.Lock()
	c.calls = append(c.calls, append([]int(nil), ids...))
	c.mu.Unlock()
	return vision.NewFrame(frames[0].Width*len(frames), frames[0].Height), nil
}

func (c *fakeCompositor) last() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.calls) == 0 {
		return nil
	}
	return c.calls[len(c.calls)-1]
}

func counts(a, p, n int) attention.Counts {
	return attention.Counts{Attending: a, PartiallyAttending: p, NotAttending: n, Total: a + p + n}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Session.Target.FPS = 100
	cfg.Session.JoinTimeout = 500 * time.Millisecond
	cfg.SettleDelay = 0
	return cfg
}

type harness struct {
	orch       *Orchestrator
	acq        *fakeAcquirer
	compositor *fakeCompositor
	recorder   *recording.Synchronizer
	writers    *writerSet
	counts     map[int]attention.Counts
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		acq:        newFakeAcquirer(),
		compositor: &fakeCompositor{},
		writers:    &writerSet{},
		counts:     make(map[int]attention.Counts),
	}
	h.recorder = recording.New(recording.Config{Dir: t.TempDir(), Ext: ".avi"}, h.writers.factory, nil)
	factory := func(id int) session.Pipeline {
		return &fakePipeline{counts: h.counts[id]}
	}
	h.orch = New(testConfig(), h.acq, factory, h.compositor, h.recorder, nil)
	t.Cleanup(func() { h.orch.Shutdown() })
	return h
}

func waitForFrames(t *testing.T, o *Orchestrator, ids ...int) {
	t.Helper()
	for _, id := range ids {
		require.Eventually(t, func() bool {
			_, ok := o.CameraFrame(id)
			return ok
		}, 2*time.Second, 2*time.Millisecond, "camera %d never published", id)
	}
}

func TestStartAndStop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.orch.Start(ctx, 0, camera.Target{}))
	assert.Equal(t, []int{0}, h.orch.ActiveCameras())

	state, ok := h.orch.CameraState(0)
	require.True(t, ok)
	assert.Equal(t, session.Streaming, state)

	// Starting a streaming camera again is a no-op
	require.NoError(t, h.orch.Start(ctx, 0, camera.Target{}))

	require.NoError(t, h.orch.Stop(0))
	assert.Empty(t, h.orch.ActiveCameras())
	_, ok = h.orch.CameraState(0)
	assert.False(t, ok)

	assert.ErrorIs(t, h.orch.Stop(0), ErrCameraNotFound)
}

func TestAcquisitionDoesNotBlockOtherCameras(t *testing.T) {
	h := newHarness(t)
	gate := make(chan struct{})
	h.acq.set(1, func(ctx context.Context) (camera.Capture, error) {
		select {
		case <-gate:
			return streaming(), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	started := make(chan error, 1)
	go func() { started <- h.orch.Start(context.Background(), 1, camera.Target{}) }()

	require.Eventually(t, func() bool {
		s, ok := h.orch.CameraState(1)
		return ok && s == session.Acquiring
	}, time.Second, time.Millisecond)

	// Camera 0 starts and streams while camera 1 is still acquiring
	require.NoError(t, h.orch.Start(context.Background(), 0, camera.Target{}))
	waitForFrames(t, h.orch, 0)
	assert.Equal(t, []int{0}, h.orch.ActiveCameras())

	close(gate)
	require.NoError(t, <-started)
	assert.Equal(t, []int{0, 1}, h.orch.ActiveCameras())
}

func TestAcquisitionFailureLeavesNothing(t *testing.T) {
	h := newHarness(t)
	h.acq.set(2, func(context.Context) (camera.Capture, error) {
		return nil, camera.ErrAcquireFailed
	})

	err := h.orch.Start(context.Background(), 2, camera.Target{})
	assert.ErrorIs(t, err, camera.ErrAcquireFailed)
	_, ok := h.orch.CameraState(2)
	assert.False(t, ok)
	assert.Empty(t, h.orch.ActiveCameras())
}

func TestStopDuringPendingRead(t *testing.T) {
	h := newHarness(t)
	h.acq.set(0, func(context.Context) (camera.Capture, error) {
		c := camera.NewMockCapture()
		c.FrameDelay = time.Hour
		return c, nil
	})

	require.NoError(t, h.orch.Start(context.Background(), 0, camera.Target{}))

	start := time.Now()
	require.NoError(t, h.orch.Stop(0))
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	_, ok := h.orch.CameraState(0)
	assert.False(t, ok)
}

func TestReadFailureIsReaped(t *testing.T) {
	h := newHarness(t)
	h.acq.set(0, func(context.Context) (camera.Capture, error) {
		c := camera.NewMockCapture()
		c.ReadFunc = func() (vision.Frame, error) {
			return vision.Frame{}, errors.New("device unplugged")
		}
		return c, nil
	})

	require.NoError(t, h.orch.Start(context.Background(), 0, camera.Target{}))
	require.Eventually(t, func() bool {
		return len(h.orch.ActiveCameras()) == 0
	}, 2*time.Second, 2*time.Millisecond)

	_, ok := h.orch.CameraState(0)
	assert.False(t, ok)

	// The id can be started again
	h.acq.set(0, func(context.Context) (camera.Capture, error) { return streaming(), nil })
	require.NoError(t, h.orch.Start(context.Background(), 0, camera.Target{}))
	assert.Equal(t, []int{0}, h.orch.ActiveCameras())
}

func TestAggregatedStatsSums(t *testing.T) {
	h := newHarness(t)
	h.counts[0] = counts(1, 0, 1)
	h.counts[1] = counts(2, 1, 0)
	h.acq.set(2, func(context.Context) (camera.Capture, error) {
		// Streams but never delivers a frame
		c := camera.NewMockCapture()
		c.FrameDelay = time.Hour
		return c, nil
	})
	h.counts[2] = counts(5, 5, 5)

	ctx := context.Background()
	for _, id := range []int{0, 1, 2} {
		require.NoError(t, h.orch.Start(ctx, id, camera.Target{}))
	}
	waitForFrames(t, h.orch, 0, 1)

	total := h.orch.AggregatedStats()
	assert.Equal(t, counts(3, 1, 1), total)

	stats := h.orch.AllStats()
	require.Len(t, stats, 3)
	assert.Equal(t, 0, stats[0].CameraID)
	assert.False(t, stats[2].HasFrame)

	st, err := h.orch.CameraStats(1)
	require.NoError(t, err)
	assert.Equal(t, counts(2, 1, 0), st.Counts)

	_, err = h.orch.CameraStats(9)
	assert.ErrorIs(t, err, ErrCameraNotFound)
}

func TestComposite(t *testing.T) {
	h := newHarness(t)

	_, _, err := h.orch.Composite()
	assert.ErrorIs(t, err, ErrNoFrames)

	h.counts[0] = counts(1, 0, 0)
	h.counts[3] = counts(0, 0, 2)
	ctx := context.Background()
	require.NoError(t, h.orch.Start(ctx, 3, camera.Target{}))
	require.NoError(t, h.orch.Start(ctx, 0, camera.Target{}))
	waitForFrames(t, h.orch, 0, 3)

	frame, total, err := h.orch.Composite()
	require.NoError(t, err)
	assert.Equal(t, 128, frame.Width)
	assert.Equal(t, counts(1, 0, 2), total)
	assert.Equal(t, []int{0, 3}, h.compositor.last())
}

func TestFramesStream(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.orch.Start(context.Background(), 0, camera.Target{}))
	waitForFrames(t, h.orch, 0)

	ctx, cancel := context.WithCancel(context.Background())
	frames := h.orch.Frames(ctx, 5*time.Millisecond)

	select {
	case f := <-frames:
		assert.Equal(t, 64, f.Width)
	case <-time.After(2 * time.Second):
		t.Fatal("no composite frame")
	}

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-frames:
			return !ok
		default:
			return false
		}
	}, time.Second, time.Millisecond)
}

func TestStopAll(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, id := range []int{0, 1, 2} {
		require.NoError(t, h.orch.Start(ctx, id, camera.Target{}))
	}
	require.NoError(t, h.orch.StopAll())
	assert.Empty(t, h.orch.ActiveCameras())
}

func TestShutdownRejectsStart(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.orch.Shutdown())
	assert.ErrorIs(t, h.orch.Start(context.Background(), 0, camera.Target{}), ErrShutdown)
}

func newAcquirerHarness(t *testing.T) (*Orchestrator, *camera.Acquirer, *camera.MockOpener) {
	t.Helper()
	opener := &camera.MockOpener{
		OpenFunc: func(camera.Source, camera.Backend) (camera.Capture, error) {
			return streaming(), nil
		},
	}
	acq := camera.NewAcquirer(opener, camera.AcquireConfig{
		Timeout:        2 * time.Second,
		AttemptTimeout: 500 * time.Millisecond,
		Grace:          time.Millisecond,
		GOOS:           "linux",
	}, nil)
	factory := func(int) session.Pipeline { return &fakePipeline{} }
	o := New(testConfig(), acq, factory, nil, nil, nil)
	t.Cleanup(func() { o.Shutdown() })
	return o, acq, opener
}

func TestProbeKeepsLiveCameras(t *testing.T) {
	o, acq, opener := newAcquirerHarness(t)
	ctx := context.Background()

	require.NoError(t, o.Start(ctx, 0, camera.Target{}))
	waitForFrames(t, o, 0)
	opened := len(opener.Calls())

	found := acq.Probe(ctx, 2)
	assert.Equal(t, []camera.Source{camera.Device(0), camera.Device(1)}, found)
	assert.Len(t, opener.Calls(), opened+1, "live device is not reopened")

	// Still streaming well after the probe
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []int{0}, o.ActiveCameras())
	stats, err := o.CameraStats(0)
	require.NoError(t, err)
	before := stats.FramesRead
	require.Eventually(t, func() bool {
		st, err := o.CameraStats(0)
		return err == nil && st.FramesRead > before
	}, time.Second, 2*time.Millisecond)
}

func TestSourceBacksOneCamera(t *testing.T) {
	o, acq, _ := newAcquirerHarness(t)
	ctx := context.Background()

	require.NoError(t, o.Start(ctx, 0, camera.Target{}))
	waitForFrames(t, o, 0)

	err := o.StartSource(ctx, 1, camera.Device(0), camera.Target{})
	assert.ErrorIs(t, err, camera.ErrSourceInUse)
	_, ok := o.CameraState(1)
	assert.False(t, ok)

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, []int{0}, o.ActiveCameras())

	// Once released the source can move to another id
	require.NoError(t, o.Stop(0))
	assert.False(t, acq.InUse(camera.Device(0)))
	require.NoError(t, o.StartSource(ctx, 1, camera.Device(0), camera.Target{}))
	waitForFrames(t, o, 1)
	assert.Equal(t, []int{1}, o.ActiveCameras())
	assert.True(t, acq.InUse(camera.Device(0)))
}

func TestRestartWithAcquirer(t *testing.T) {
	o, acq, _ := newAcquirerHarness(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, o.Start(ctx, 0, camera.Target{}))
		waitForFrames(t, o, 0)
		require.NoError(t, o.Stop(0))
		assert.False(t, acq.InUse(camera.Device(0)))
	}
}

func TestStartWaitsForPendingAcquisition(t *testing.T) {
	h := newHarness(t)
	gate := make(chan struct{})
	h.acq.set(1, func(ctx context.Context) (camera.Capture, error) {
		<-gate
		return nil, camera.ErrAcquireFailed
	})

	first := make(chan error, 1)
	go func() { first <- h.orch.Start(context.Background(), 1, camera.Target{}) }()
	require.Eventually(t, func() bool {
		s, ok := h.orch.CameraState(1)
		return ok && s == session.Acquiring
	}, time.Second, time.Millisecond)

	second := make(chan error, 1)
	go func() { second <- h.orch.Start(context.Background(), 1, camera.Target{}) }()

	select {
	case err := <-second:
		t.Fatalf("second start returned before acquisition finished: %v", err)
	case <-time.After(30 * time.Millisecond):
	}

	close(gate)
	assert.ErrorIs(t, <-first, camera.ErrAcquireFailed)
	assert.ErrorIs(t, <-second, camera.ErrAcquireFailed)
	_, ok := h.orch.CameraState(1)
	assert.False(t, ok)
}

func TestStartPendingHonorsContext(t *testing.T) {
	h := newHarness(t)
	gate := make(chan struct{})
	defer close(gate)
	h.acq.set(1, func(ctx context.Context) (camera.Capture, error) {
		select {
		case <-gate:
		case <-ctx.Done():
		}
		return nil, camera.ErrAcquireFailed
	})

	go h.orch.Start(context.Background(), 1, camera.Target{})
	require.Eventually(t, func() bool {
		s, ok := h.orch.CameraState(1)
		return ok && s == session.Acquiring
	}, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.orch.Start(ctx, 1, camera.Target{}), context.DeadlineExceeded)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSessionLogsCarryOneComponent(t *testing.T) {
	out := &syncBuffer{}
	logger := slog.New(slog.NewJSONHandler(out, nil))
	factory := func(int) session.Pipeline { return &fakePipeline{} }
	o := New(testConfig(), newFakeAcquirer(), factory, nil, nil, logger)

	require.NoError(t, o.Start(context.Background(), 0, camera.Target{}))
	require.NoError(t, o.Stop(0))

	var sawSession bool
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		assert.Equal(t, 1, strings.Count(line, `"component"`), line)
		if strings.Contains(line, `"component":"session"`) {
			sawSession = true
		}
	}
	assert.True(t, sawSession)
}
