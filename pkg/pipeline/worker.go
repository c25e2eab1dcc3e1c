package pipeline

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-attention/pkg/vision"
)

// Stage processes one frame. *Pipeline implements it.
type Stage interface {
	Process(frame vision.Frame) (Result, error)
}

// Processor runs a Stage on its own goroutine so capture never waits on
// inference. Input is a single-slot mailbox: a submitted frame replaces any
// frame the worker has not picked up yet. Output is the latest result.
type Processor struct {
	stage  Stage
	logger *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	pending *vision.Frame
	latest  *Result
	closed  bool
	started bool

	submitted uint64
	processed uint64
	dropped   uint64
	failed    uint64

	done chan struct{}
}

// ProcessorStats are lifetime counters of a processor.
type ProcessorStats struct {
	Submitted uint64 `json:"submitted"`
	Processed uint64 `json:"processed"`
	Dropped   uint64 `json:"dropped"`
	Failed    uint64 `json:"failed"`
}

// NewProcessor creates a stopped processor.
func NewProcessor(stage Stage, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Processor{
		stage:  stage,
		logger: logger.With("component", "pipeline.processor"),
		done:   make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// Start launches the worker goroutine. A processor runs at most once.
func (w *Processor) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started || w.closed {
		return
	}
	w.started = true
	go w.run()
}

// Submit hands a frame to the worker without blocking. The processor keeps
// its own reference; the caller must not mutate the frame afterwards.
func (w *Processor) Submit(frame vision.Frame) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	if w.pending != nil {
		w.dropped++
	}
	w.submitted++
	w.pending = &frame
	w.cond.Signal()
}

// Latest returns the most recent result without blocking. ok is false until
// the first frame has been processed.
func (w *Processor) Latest() (Result, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.latest == nil {
		return Result{}, false
	}
	return *w.latest, true
}

// Stats returns the processor counters.
func (w *Processor) Stats() ProcessorStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return ProcessorStats{
		Submitted: w.submitted,
		Processed: w.processed,
		Dropped:   w.dropped,
		Failed:    w.failed,
	}
}

// Stop closes the mailbox and waits up to timeout for the in-flight frame
// to finish. It returns an error if the worker is still busy at the deadline.
func (w *Processor) Stop(timeout time.Duration) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.pending = nil
	started := w.started
	w.cond.Broadcast()
	w.mu.Unlock()

	if !started {
		return nil
	}

	select {
	case <-w.done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("pipeline: processor still busy after %s", timeout)
	}
}

func (w *Processor) run() {
	defer close(w.done)

	for {
		w.mu.Lock()
		for w.pending == nil && !w.closed {
			w.cond.Wait()
		}
		if w.closed {
			w.mu.Unlock()
			return
		}
		frame := *w.pending
		w.pending = nil
		w.mu.Unlock()

		result := w.process(frame)

		w.mu.Lock()
		w.processed++
		result.Version = w.processed
		if result.Err != nil {
			w.failed++
		}
		w.latest = &result
		w.mu.Unlock()
	}
}

// process never fails: errors and panics become a placeholder result with
// the raw frame and zero detections.
func (w *Processor) process(frame vision.Frame) (result Result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("processing panicked", "panic", r)
			result = failed(frame, start, fmt.Errorf("pipeline: panic: %v", r))
		}
	}()

	res, err := w.stage.Process(frame)
	if err != nil {
		w.logger.Warn("processing failed", "error", err)
		return failed(frame, start, err)
	}
	return res
}

func failed(frame vision.Frame, start time.Time, err error) Result {
	return Result{
		Frame:     frame,
		Timestamp: start,
		Latency:   time.Since(start),
		Err:       err,
	}
}
