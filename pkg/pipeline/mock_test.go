package pipeline

import (
	"sync"

	"github.com/teslashibe/go-attention/pkg/attention"
	"github.com/teslashibe/go-attention/pkg/pose"
	"github.com/teslashibe/go-attention/pkg/vision"
)

type mockDetector struct {
	DetectFunc func(frame vision.Frame) ([]vision.Detection, error)
}

func (m *mockDetector) Detect(frame vision.Frame) ([]vision.Detection, error) {
	return m.DetectFunc(frame)
}

// mockPose reports a fixed pose per call; a nil entry means no face.
type mockPose struct {
	mu    sync.Mutex
	poses []*[2]float64
	calls int
}

func (m *mockPose) Landmarks(crop vision.Frame) (*pose.Landmarks, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := min(m.calls, len(m.poses)-1)
	m.calls++
	if i < 0 || m.poses[i] == nil {
		return nil, nil
	}
	p := m.poses[i]
	// Smuggle the angles through the nose point
	return &pose.Landmarks{Nose: pose.Point{X: p[0], Y: p[1]}}, nil
}

func (m *mockPose) Pose(lm pose.Landmarks, width, height int) (float64, float64, bool) {
	return lm.Nose.X, lm.Nose.Y, true
}

func angles(yaw, pitch float64) *[2]float64 {
	return &[2]float64{yaw, pitch}
}

func person(x float64) vision.Detection {
	return vision.Detection{
		Box:        vision.Box{X1: x, Y1: 10, X2: x + 40, Y2: 90},
		Confidence: 0.9,
	}
}

func staticDetector(dets ...vision.Detection) *mockDetector {
	return &mockDetector{
		DetectFunc: func(vision.Frame) ([]vision.Detection, error) {
			out := make([]vision.Detection, len(dets))
			copy(out, dets)
			return out, nil
		},
	}
}

func testFrame() vision.Frame {
	return vision.NewFrame(320, 120)
}

func countsOf(a, p, n int) attention.Counts {
	return attention.Counts{Attending: a, PartiallyAttending: p, NotAttending: n, Total: a + p + n}
}
