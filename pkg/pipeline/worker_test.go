package pipeline

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teslashibe/go-attention/pkg/vision"
)

type stageFunc func(vision.Frame) (Result, error)

func (f stageFunc) Process(frame vision.Frame) (Result, error) { return f(frame) }

func TestProcessorPublishesLatest(t *testing.T) {
	var seq atomic.Uint64
	w := NewProcessor(stageFunc(func(f vision.Frame) (Result, error) {
		return Result{Seq: seq.Add(1), Frame: f}, nil
	}), nil)
	w.Start()
	defer w.Stop(time.Second)

	_, ok := w.Latest()
	assert.False(t, ok)

	w.Submit(vision.NewFrame(4, 4))
	require.Eventually(t, func() bool {
		_, ok := w.Latest()
		return ok
	}, time.Second, time.Millisecond)

	res, _ := w.Latest()
	assert.Equal(t, 4, res.Frame.Width)
	assert.False(t, res.NoDetection())
}

func TestProcessorOverwritesPendingFrame(t *testing.T) {
	release := make(chan struct{})
	var processed []int
	w := NewProcessor(stageFunc(func(f vision.Frame) (Result, error) {
		<-release
		processed = append(processed, f.Width)
		return Result{Frame: f}, nil
	}), nil)
	w.Start()

	// First frame occupies the worker; the next three contend for the slot
	w.Submit(vision.NewFrame(1, 1))
	require.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.pending == nil
	}, time.Second, time.Millisecond)

	w.Submit(vision.NewFrame(2, 1))
	w.Submit(vision.NewFrame(3, 1))
	w.Submit(vision.NewFrame(4, 1))
	close(release)

	require.Eventually(t, func() bool {
		res, ok := w.Latest()
		return ok && res.Frame.Width == 4
	}, time.Second, time.Millisecond)
	require.NoError(t, w.Stop(time.Second))

	assert.Equal(t, []int{1, 4}, processed)
	stats := w.Stats()
	assert.Equal(t, uint64(4), stats.Submitted)
	assert.Equal(t, uint64(2), stats.Dropped)
}

func TestProcessorRecoversFromErrors(t *testing.T) {
	tests := []struct {
		name  string
		stage stageFunc
	}{
		{"error", func(vision.Frame) (Result, error) { return Result{}, errors.New("model failed") }},
		{"panic", func(vision.Frame) (Result, error) { panic("index out of range") }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := NewProcessor(tc.stage, nil)
			w.Start()
			defer w.Stop(time.Second)

			raw := vision.NewFrame(8, 8)
			w.Submit(raw)

			require.Eventually(t, func() bool {
				_, ok := w.Latest()
				return ok
			}, time.Second, time.Millisecond)

			res, _ := w.Latest()
			assert.True(t, res.NoDetection())
			assert.Empty(t, res.Detections)
			assert.Equal(t, raw, res.Frame)
			assert.Equal(t, uint64(1), w.Stats().Failed)

			// The worker survives and keeps consuming
			w.Submit(raw)
			assert.Eventually(t, func() bool { return w.Stats().Failed == 2 }, time.Second, time.Millisecond)
		})
	}
}

func TestProcessorStopIsBounded(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	w := NewProcessor(stageFunc(func(vision.Frame) (Result, error) {
		<-block
		return Result{}, nil
	}), nil)
	w.Start()
	w.Submit(vision.NewFrame(1, 1))
	time.Sleep(10 * time.Millisecond)

	start := time.Now()
	err := w.Stop(50 * time.Millisecond)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	// Stopped processors ignore input and Stop is idempotent
	w.Submit(vision.NewFrame(1, 1))
	assert.NoError(t, w.Stop(time.Millisecond))
}

func TestProcessorStopBeforeStart(t *testing.T) {
	w := NewProcessor(stageFunc(func(vision.Frame) (Result, error) { return Result{}, nil }), nil)
	assert.NoError(t, w.Stop(time.Millisecond))
	w.Start()
	w.Submit(vision.NewFrame(1, 1))
	time.Sleep(5 * time.Millisecond)
	_, ok := w.Latest()
	assert.False(t, ok)
}

func TestWindow(t *testing.T) {
	w := NewWindow(3)
	assert.Equal(t, AverageStats{}, w.Average(0))

	for i := 1; i <= 5; i++ {
		w.Add(countsOf(i, 0, 0))
	}
	assert.Equal(t, 3, w.Len())

	recent := w.Recent(0)
	require.Len(t, recent, 3)
	assert.Equal(t, 3, recent[0].Attending)
	assert.Equal(t, 5, recent[2].Attending)
	assert.Len(t, w.Recent(2), 2)

	avg := w.Average(0)
	assert.InDelta(t, 4, avg.Attending, 1e-9)
	assert.InDelta(t, 100, avg.AttendingPct, 1e-9)

	w.Reset()
	assert.Equal(t, 0, w.Len())
}

func TestWindowPercentages(t *testing.T) {
	w := NewWindow(60)
	w.Add(countsOf(1, 1, 2))
	w.Add(countsOf(3, 1, 0))

	avg := w.Average(10)
	assert.Equal(t, 2, avg.Frames)
	assert.InDelta(t, 4, avg.Total, 1e-9)
	assert.InDelta(t, 50, avg.AttendingPct, 1e-9)
	assert.InDelta(t, 25, avg.PartiallyAttendingPct, 1e-9)
	assert.InDelta(t, 25, avg.NotAttendingPct, 1e-9)
}
