package recording

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teslashibe/go-attention/pkg/attention"
	"github.com/teslashibe/go-attention/pkg/vision"
)

type fakeWriter struct {
	mu     sync.Mutex
	path   string
	width  int
	height int
	frames int
	closed bool
	fail   error
}

func (w *fakeWriter) Write(vision.Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail != nil {
		return w.fail
	}
	w.frames++
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

type writerSet struct {
	mu      sync.Mutex
	writers []*fakeWriter
}

func (s *writerSet) factory(path string, fps float64, width, height int) (Writer, error) {
	w := &fakeWriter{path: path, width: width, height: height}
	s.mu.Lock()
	s.writers = append(s.writers, w)
	s.mu.Unlock()
	return w, nil
}

func newTestSync(t *testing.T) (*Synchronizer, *writerSet) {
	t.Helper()
	ws := &writerSet{}
	s := New(Config{Dir: t.TempDir()}, ws.factory, nil)
	return s, ws
}

func counts(a, p, n int) attention.Counts {
	return attention.Counts{Attending: a, PartiallyAttending: p, NotAttending: n, Total: a + p + n}
}

func TestStartRequiresSampleFrame(t *testing.T) {
	s, ws := newTestSync(t)

	_, err := s.Start("r1", vision.Frame{}, 20, "", nil)
	assert.ErrorIs(t, err, ErrNoSampleFrame)
	assert.Empty(t, ws.writers)
	assert.False(t, s.IsRecording("r1"))
}

func TestStartSizesFromSample(t *testing.T) {
	s, ws := newTestSync(t)

	id, err := s.Start("r1", vision.NewFrame(1280, 520), 15, "Lecture 3", []int{0, 1})
	require.NoError(t, err)
	assert.Equal(t, "r1", id)

	require.Len(t, ws.writers, 1)
	assert.Equal(t, 1280, ws.writers[0].width)
	assert.Equal(t, 520, ws.writers[0].height)
	assert.Contains(t, filepath.Base(ws.writers[0].path), "Lecture_3")

	st, err := s.Status("r1")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, st.Cameras)
	assert.Equal(t, 15.0, st.FPS)
}

func TestStartGeneratesID(t *testing.T) {
	s, _ := newTestSync(t)

	id, err := s.Start("", vision.NewFrame(8, 8), 20, "", nil)
	require.NoError(t, err)
	assert.Len(t, id, 36)
	assert.True(t, s.IsRecording(id))
}

func TestDuplicateID(t *testing.T) {
	s, _ := newTestSync(t)

	_, err := s.Start("r1", vision.NewFrame(8, 8), 20, "", nil)
	require.NoError(t, err)
	_, err = s.Start("r1", vision.NewFrame(8, 8), 20, "", nil)
	assert.ErrorIs(t, err, ErrAlreadyRecording)
}

func TestWriteAndStopSummary(t *testing.T) {
	s, ws := newTestSync(t)
	clock := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }

	_, err := s.Start("r1", vision.NewFrame(8, 8), 20, "", nil)
	require.NoError(t, err)

	for _, c := range []attention.Counts{counts(2, 0, 2), counts(4, 0, 0), counts(0, 1, 3)} {
		clock = clock.Add(50 * time.Millisecond)
		require.NoError(t, s.WriteFrame("r1", vision.NewFrame(8, 8), c))
	}
	clock = clock.Add(time.Second)

	sum, err := s.Stop("r1")
	require.NoError(t, err)

	assert.Equal(t, 3, sum.Frames)
	assert.Equal(t, 1150*time.Millisecond, sum.Duration)
	assert.Equal(t, counts(6, 1, 5), sum.Totals)
	assert.InDelta(t, 0.5, sum.MeanAttendingRatio, 1e-9)
	assert.InDelta(t, 4, sum.MeanTotal, 1e-9)
	assert.InDelta(t, 4, sum.PeakTotal, 1e-9)
	assert.Greater(t, sum.StdDevAttendingRatio, 0.0)

	assert.True(t, ws.writers[0].closed)
	assert.Equal(t, 3, ws.writers[0].frames)
	assert.False(t, s.IsRecording("r1"))

	data, err := os.ReadFile(sum.SamplesPath)
	require.NoError(t, err)
	var side struct {
		Summary Summary  `json:"summary"`
		Samples []Sample `json:"samples"`
	}
	require.NoError(t, json.Unmarshal(data, &side))
	require.Len(t, side.Samples, 3)
	assert.Equal(t, 50*time.Millisecond, side.Samples[0].Offset)
	assert.Equal(t, counts(0, 1, 3), side.Samples[2].Counts)
	assert.Equal(t, "r1", side.Summary.ID)
}

func TestStopEmptyRecording(t *testing.T) {
	s, _ := newTestSync(t)
	_, err := s.Start("r1", vision.NewFrame(8, 8), 20, "", nil)
	require.NoError(t, err)

	sum, err := s.Stop("r1")
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Frames)
	assert.Equal(t, 0.0, sum.MeanAttendingRatio)
	assert.FileExists(t, sum.SamplesPath)
}

func TestUnknownIDIsNotFound(t *testing.T) {
	s, _ := newTestSync(t)

	_, err := s.Stop("nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.WriteFrame("nope", vision.NewFrame(8, 8), attention.Counts{}), ErrNotFound)
	_, err = s.Status("nope")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Start("r1", vision.NewFrame(8, 8), 20, "", nil)
	require.NoError(t, err)
	_, err = s.Stop("r1")
	require.NoError(t, err)

	// Second stop of the same id
	_, err = s.Stop("r1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecordingsAreIndependent(t *testing.T) {
	s, ws := newTestSync(t)

	_, err := s.Start("a", vision.NewFrame(8, 8), 20, "", []int{0})
	require.NoError(t, err)
	_, err = s.Start("b", vision.NewFrame(16, 8), 20, "", []int{1})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, s.Active())

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				assert.NoError(t, s.WriteFrame(id, vision.NewFrame(8, 8), counts(1, 0, 0)))
			}
		}(id)
	}
	wg.Wait()

	sa, err := s.Stop("a")
	require.NoError(t, err)
	assert.Equal(t, 50, sa.Frames)
	assert.True(t, s.IsRecording("b"))
	assert.False(t, ws.writers[1].closed)

	summaries := s.StopAll()
	require.Len(t, summaries, 1)
	assert.Equal(t, "b", summaries[0].ID)
	assert.Empty(t, s.Active())
}

func TestWriteErrorIsCounted(t *testing.T) {
	s, ws := newTestSync(t)
	_, err := s.Start("r1", vision.NewFrame(8, 8), 20, "", nil)
	require.NoError(t, err)

	ws.writers[0].fail = errors.New("disk full")
	assert.Error(t, s.WriteFrame("r1", vision.NewFrame(8, 8), attention.Counts{}))

	sum, err := s.Stop("r1")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.WriteErrors)
	assert.Equal(t, 0, sum.Frames)
}

func TestWriterFactoryFailure(t *testing.T) {
	s := New(Config{Dir: t.TempDir()}, func(string, float64, int, int) (Writer, error) {
		return nil, errors.New("codec missing")
	}, nil)

	_, err := s.Start("r1", vision.NewFrame(8, 8), 20, "", nil)
	assert.Error(t, err)
	assert.False(t, s.IsRecording("r1"))

	// The id is free again
	_, err = s.Start("r1", vision.NewFrame(8, 8), 20, "", nil)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrAlreadyRecording)
}
