package attention

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-attention/pkg/vision"
)

func TestClassify_Bands(t *testing.T) {
	c := NewClassifier(DefaultConfig())

	tests := []struct {
		name       string
		yaw, pitch float64
		want       vision.Band
	}{
		{"straight ahead", 0, 0, vision.Attending},
		{"on the yaw edge", 25, 0, vision.Attending},
		{"negative angles inside", -20, -15, vision.Attending},
		{"yaw out", 40, 5, vision.PartiallyAttending},
		{"pitch out", 5, -30, vision.PartiallyAttending},
		{"both out", -60, 45, vision.NotAttending},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, c.Classify(tc.yaw, tc.pitch))
		})
	}
}

func TestSmoothPose_MeanOverWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HistorySize = 3
	c := NewClassifier(cfg)

	y, p := c.SmoothPose(1, 10, 0)
	assert.InDelta(t, 10, y, 1e-9)
	assert.InDelta(t, 0, p, 1e-9)

	c.SmoothPose(1, 20, 3)
	y, p = c.SmoothPose(1, 30, 6)
	assert.InDelta(t, 20, y, 1e-9)
	assert.InDelta(t, 3, p, 1e-9)

	// Oldest sample falls out of the 3-wide window
	y, _ = c.SmoothPose(1, 40, 0)
	assert.InDelta(t, 30, y, 1e-9)
}

func TestSmoothPose_Exponential(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SmoothingAlpha = 0.5
	c := NewClassifier(cfg)

	c.SmoothPose(7, 0, 0)
	y, _ := c.SmoothPose(7, 10, 0)
	assert.InDelta(t, 5, y, 1e-9)
	y, _ = c.SmoothPose(7, 10, 0)
	assert.InDelta(t, 7.5, y, 1e-9)
}

func TestSmoothPose_IdentitiesAreIndependent(t *testing.T) {
	c := NewClassifier(DefaultConfig())
	c.SmoothPose(1, 80, 80)
	y, p := c.SmoothPose(2, 0, 0)
	assert.Zero(t, y)
	assert.Zero(t, p)
}

func TestClassifyFor_SingleFrameFlipIsSuppressed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConfirmFrames = 4
	c := NewClassifier(cfg)

	for i := 0; i < cfg.ConfirmFrames-1; i++ {
		require.Equal(t, vision.Attending, c.ClassifyFor(1, 0, 0))
	}
	// One frame of looking away
	assert.Equal(t, vision.Attending, c.ClassifyFor(1, 70, 70))
	for i := 0; i < cfg.ConfirmFrames-1; i++ {
		assert.Equal(t, vision.Attending, c.ClassifyFor(1, 0, 0))
	}
}

func TestClassifyFor_SustainedFlipCommits(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConfirmFrames = 3
	c := NewClassifier(cfg)

	c.ClassifyFor(1, 0, 0)
	assert.Equal(t, vision.Attending, c.ClassifyFor(1, 70, 0))
	assert.Equal(t, vision.Attending, c.ClassifyFor(1, 70, 0))
	assert.Equal(t, vision.PartiallyAttending, c.ClassifyFor(1, 70, 0))
	assert.Equal(t, 1.0, c.Confidence(1))
}

func TestClassifyFor_InterruptedStreakRestarts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConfirmFrames = 3
	c := NewClassifier(cfg)

	c.ClassifyFor(1, 0, 0)
	c.ClassifyFor(1, 70, 70)
	c.ClassifyFor(1, 70, 70)
	// Different candidate band resets the streak
	assert.Equal(t, vision.Attending, c.ClassifyFor(1, 70, 0))
	assert.Equal(t, vision.Attending, c.ClassifyFor(1, 70, 0))
	assert.Equal(t, vision.PartiallyAttending, c.ClassifyFor(1, 70, 0))
}

func TestConfidence_StreakRatio(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConfirmFrames = 4
	c := NewClassifier(cfg)

	assert.Equal(t, NeutralConfidence, c.Confidence(9))

	c.ClassifyFor(9, 0, 0)
	assert.InDelta(t, 0.25, c.Confidence(9), 1e-9)
	c.ClassifyFor(9, 0, 0)
	assert.InDelta(t, 0.5, c.Confidence(9), 1e-9)
	for i := 0; i < 10; i++ {
		c.ClassifyFor(9, 0, 0)
	}
	assert.InDelta(t, 1.0, c.Confidence(9), 1e-9)

	c.ClassifyFor(9, 80, 80)
	assert.Zero(t, c.Confidence(9))
}

func TestLastKnownPose(t *testing.T) {
	c := NewClassifier(DefaultConfig())

	_, _, ok := c.LastKnownPose(3)
	assert.False(t, ok)

	c.SmoothPose(3, 12, -4)
	y, p, ok := c.LastKnownPose(3)
	require.True(t, ok)
	assert.InDelta(t, 12, y, 1e-9)
	assert.InDelta(t, -4, p, 1e-9)
}

func TestClear_NoBleedThrough(t *testing.T) {
	c := NewClassifier(DefaultConfig())

	for i := 0; i < 5; i++ {
		c.SmoothPose(1, 60, 60)
		c.ClassifyFor(1, 60, 60)
	}
	require.Equal(t, 5, c.HistoryLen(1))

	c.Clear(1)
	assert.Equal(t, NeutralConfidence, c.Confidence(1))
	assert.Zero(t, c.HistoryLen(1))
	_, _, ok := c.LastKnownPose(1)
	assert.False(t, ok)

	// Reused id starts fresh: first observation commits immediately
	assert.Equal(t, vision.Attending, c.ClassifyFor(1, 0, 0))
	y, _ := c.SmoothPose(1, 0, 0)
	assert.Zero(t, y)
}

func TestClearAll(t *testing.T) {
	c := NewClassifier(DefaultConfig())
	c.SmoothPose(1, 1, 1)
	c.SmoothPose(2, 1, 1)
	require.Equal(t, 2, c.Identities())

	c.ClearAll()
	assert.Zero(t, c.Identities())
}

func TestNoFace_GoesThroughHysteresis(t *testing.T) {
	c := NewClassifier(DefaultConfig())
	c.ClassifyFor(1, 0, 0)
	assert.Equal(t, vision.Attending, c.NoFace(1))
	assert.Equal(t, vision.NotAttending, c.NoFace(5))
}

func TestDirection(t *testing.T) {
	v := Direction(0, 0)
	assert.InDelta(t, 0, v.DX, 1e-9)
	assert.InDelta(t, 0, v.DY, 1e-9)

	v = Direction(90, 0)
	assert.InDelta(t, 1, v.DX, 1e-9)

	v = Direction(0, 30)
	assert.InDelta(t, -math.Sin(math.Pi/6), v.DY, 1e-9)
}

func TestCount(t *testing.T) {
	dets := []vision.Detection{
		{Status: vision.Attending},
		{Status: vision.Attending},
		{Status: vision.PartiallyAttending},
		{Status: vision.NotAttending},
		{},
	}
	got := Count(dets)
	assert.Equal(t, Counts{Attending: 2, PartiallyAttending: 1, NotAttending: 2, Total: 5}, got)
	assert.InDelta(t, 0.4, got.AttendingRatio(), 1e-9)
	assert.Equal(t, got.Add(got).Total, 10)
}

func TestSmoothPose_WindowSizes(t *testing.T) {
	for _, size := range []int{1, 2, 3, 4, 5, 8} {
		t.Run(fmt.Sprintf("history_%d", size), func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.HistorySize = size
			c := NewClassifier(cfg)

			// Feed 10, 20, 30, ... past the window
			var y float64
			samples := size + 3
			for i := 1; i <= samples; i++ {
				y, _ = c.SmoothPose(1, float64(10*i), 0)
			}

			// Mean of the newest size samples
			want := 10 * (float64(samples) - float64(size-1)/2)
			assert.InDelta(t, want, y, 1e-9)
			assert.Equal(t, size, c.HistoryLen(1))
		})
	}
}

func TestRingSize(t *testing.T) {
	tests := []struct{ n, want int }{
		{1, 2}, {2, 4}, {3, 4}, {4, 8}, {7, 8}, {8, 16},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ringSize(tt.n), "n=%d", tt.n)
	}
}
