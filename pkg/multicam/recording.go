package multicam

import (
	"errors"
	"slices"
	"time"

	"github.com/teslashibe/go-attention/pkg/pipeline"
	"github.com/teslashibe/go-attention/pkg/recording"
)

var errNoRecorder = errors.New("multicam: recording not configured")

// feed is what keeps one recording supplied with frames. Single-camera
// recordings are written from that camera's publish hook. Multi-camera
// recordings are written by a pump that composites at the recording rate.
type feed struct {
	cameras []int
	single  bool
	stop    chan struct{}
	done    chan struct{}
}

// StartRecording starts a recording of cameras, or of every streaming camera
// when cameras is empty. A single camera records its annotated frames; more
// than one records the composite. An empty id is replaced by a fresh one.
func (o *Orchestrator) StartRecording(id, name string, cameras []int, fps float64) (string, error) {
	if o.recorder == nil {
		return "", errNoRecorder
	}
	if fps <= 0 {
		fps = o.config.RecordFPS
	}

	active := o.ActiveCameras()
	if len(cameras) == 0 {
		cameras = active
	} else {
		cameras = slices.Clone(cameras)
		slices.Sort(cameras)
		cameras = slices.Compact(cameras)
		for _, c := range cameras {
			if !slices.Contains(active, c) {
				return "", ErrCameraNotFound
			}
		}
	}
	if len(cameras) == 0 {
		return "", ErrNoActiveCameras
	}

	f := &feed{cameras: cameras, single: len(cameras) == 1}

	var err error
	if f.single {
		sample, ok := o.CameraFrame(cameras[0])
		if !ok {
			return "", recording.ErrNoSampleFrame
		}
		id, err = o.recorder.Start(id, sample, fps, name, cameras)
		if err != nil {
			return "", err
		}
	} else {
		sample, _, cerr := o.composite(cameras)
		if cerr != nil {
			return "", recording.ErrNoSampleFrame
		}
		id, err = o.recorder.Start(id, sample, fps, name, cameras)
		if err != nil {
			return "", err
		}
		f.stop = make(chan struct{})
		f.done = make(chan struct{})
		go o.pump(id, f, fps)
	}

	o.recMu.Lock()
	o.recordings[id] = f
	o.recMu.Unlock()

	o.logger.Debug("recording feed attached", "recording_id", id, "cameras", cameras, "fps", fps)
	return id, nil
}

// pump writes a composite of the recording's cameras every frame interval.
func (o *Orchestrator) pump(id string, f *feed, fps float64) {
	defer close(f.done)
	ticker := time.NewTicker(time.Duration(float64(time.Second) / fps))
	defer ticker.Stop()
	for {
		select {
		case <-f.stop:
			return
		case <-ticker.C:
		}
		frame, counts, err := o.composite(f.cameras)
		if err != nil {
			continue
		}
		if err := o.recorder.WriteFrame(id, frame, counts); errors.Is(err, recording.ErrNotFound) {
			return
		}
	}
}

// onPublish feeds single-camera recordings from a session's publish hook.
func (o *Orchestrator) onPublish(cameraID int, res pipeline.Result) {
	if o.recorder == nil || res.Frame.Empty() {
		return
	}
	o.recMu.Lock()
	var ids []string
	for id, f := range o.recordings {
		if f.single && f.cameras[0] == cameraID {
			ids = append(ids, id)
		}
	}
	o.recMu.Unlock()

	for _, id := range ids {
		if err := o.recorder.WriteFrame(id, res.Frame, res.Counts); err != nil && !errors.Is(err, recording.ErrNotFound) {
			o.logger.Warn("recording write failed", "recording_id", id, "error", err)
		}
	}
}

// StopRecording stops a recording and returns its summary.
func (o *Orchestrator) StopRecording(id string) (*recording.Summary, error) {
	if o.recorder == nil {
		return nil, errNoRecorder
	}
	o.recMu.Lock()
	f, ok := o.recordings[id]
	delete(o.recordings, id)
	o.recMu.Unlock()

	if ok && f.stop != nil {
		close(f.stop)
		<-f.done
	}

	summary, err := o.recorder.Stop(id)
	if err != nil {
		return summary, err
	}
	o.logger.Info("recording stopped", "recording_id", id, "frames", summary.Frames, "duration", summary.Duration)
	return summary, nil
}

// RecordingStatus returns the state of every active recording.
func (o *Orchestrator) RecordingStatus() []recording.Status {
	if o.recorder == nil {
		return nil
	}
	return o.recorder.StatusAll()
}

// dropCamera stops single-camera recordings of a camera that left the
// registry. Multi-camera recordings keep compositing the remaining cameras.
func (o *Orchestrator) dropCamera(cameraID int) {
	o.recMu.Lock()
	var ids []string
	for id, f := range o.recordings {
		if f.single && f.cameras[0] == cameraID {
			ids = append(ids, id)
		}
	}
	o.recMu.Unlock()

	for _, id := range ids {
		if _, err := o.StopRecording(id); err != nil {
			o.logger.Warn("stop recording failed", "recording_id", id, "error", err)
		}
	}
}
