package camera

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// AcquireConfig bounds the acquisition ladder.
type AcquireConfig struct {
	// Timeout bounds the whole ladder.
	Timeout time.Duration

	// AttemptTimeout bounds a single strategy (open plus first read).
	AttemptTimeout time.Duration

	// Grace is waited after force-releasing a previous handle so the driver
	// can let go of the device.
	Grace time.Duration

	// GOOS overrides the platform used to build the ladder.
	GOOS string
}

// DefaultAcquireConfig returns production defaults.
func DefaultAcquireConfig() AcquireConfig {
	return AcquireConfig{
		Timeout:        15 * time.Second,
		AttemptTimeout: 5 * time.Second,
		Grace:          500 * time.Millisecond,
	}
}

// handle is the last capture handed out for a source. It is live from
// Acquire until Release; after that it is stale and only kept so the next
// acquisition of the source closes it again and waits out the grace period.
type handle struct {
	capture Capture
	live    bool
}

// Acquirer opens sources through the strategy ladder. A source has at most
// one live handle; acquiring it again fails with ErrSourceInUse until the
// owner releases it.
type Acquirer struct {
	opener Opener
	config AcquireConfig
	logger *slog.Logger

	mu      sync.Mutex
	handles map[string]*handle
}

// NewAcquirer creates an acquirer over the given opener.
func NewAcquirer(opener Opener, cfg AcquireConfig, logger *slog.Logger) *Acquirer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Acquirer{
		opener:  opener,
		config:  cfg,
		logger:  logger.With("component", "camera.acquirer"),
		handles: make(map[string]*handle),
	}
}

// Acquire opens src, trying each strategy in order until one yields a frame.
// The returned capture has already been configured with target and stays
// live until Release is called for src.
func (a *Acquirer) Acquire(ctx context.Context, src Source, target Target) (Capture, error) {
	if a.InUse(src) {
		return nil, fmt.Errorf("%w: %s", ErrSourceInUse, src)
	}

	if a.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.config.Timeout)
		defer cancel()
	}

	start := time.Now()
	var errors []error

	for i, s := range Ladder(src, a.config.GOOS) {
		if ctx.Err() != nil {
			break
		}

		if a.dropStale(src) {
			if err := sleepCtx(ctx, a.config.Grace); err != nil {
				break
			}
		}

		capture, err := a.attempt(ctx, src, s, target)
		if err == nil {
			a.mu.Lock()
			if h, ok := a.handles[src.String()]; ok && h.live {
				// Lost a race with a concurrent acquisition of the same source
				a.mu.Unlock()
				capture.Close()
				return nil, fmt.Errorf("%w: %s", ErrSourceInUse, src)
			}
			a.handles[src.String()] = &handle{capture: capture, live: true}
			a.mu.Unlock()

			a.logger.Info("camera acquired",
				"source", src.String(),
				"strategy", s.Name,
				"strategy_index", i,
				"elapsed", time.Since(start),
			)
			return capture, nil
		}

		errors = append(errors, &StrategyError{Strategy: s.Name, Err: err})
		a.logger.Warn("strategy failed, trying next",
			"source", src.String(),
			"strategy", s.Name,
			"error", err,
		)
	}

	if ctx.Err() != nil {
		errors = append(errors, ctx.Err())
	}
	return nil, &AcquireError{Source: src, Errors: errors}
}

// Release closes the live handle for src, if any, and marks it stale.
func (a *Acquirer) Release(src Source) {
	a.mu.Lock()
	h, ok := a.handles[src.String()]
	if ok {
		h.live = false
	}
	a.mu.Unlock()

	if ok {
		if err := h.capture.Close(); err != nil {
			a.logger.Debug("release failed", "source", src.String(), "error", err)
		}
	}
}

// InUse reports whether src has a live handle.
func (a *Acquirer) InUse(src Source) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	h, ok := a.handles[src.String()]
	return ok && h.live
}

// dropStale force-closes a released handle for src. Live handles are never
// touched. Reports whether a stale handle was dropped.
func (a *Acquirer) dropStale(src Source) bool {
	a.mu.Lock()
	h, ok := a.handles[src.String()]
	if !ok || h.live {
		a.mu.Unlock()
		return false
	}
	delete(a.handles, src.String())
	a.mu.Unlock()

	if err := h.capture.Close(); err != nil {
		a.logger.Debug("force release failed", "source", src.String(), "error", err)
	}
	return true
}

type attemptResult struct {
	capture Capture
	err     error
}

// attempt runs one strategy in its own goroutine. If the deadline passes
// first the goroutine is abandoned; should it succeed later it closes the
// handle itself.
func (a *Acquirer) attempt(ctx context.Context, src Source, s Strategy, target Target) (Capture, error) {
	actx := ctx
	if a.config.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, a.config.AttemptTimeout)
		defer cancel()
	}

	results := make(chan attemptResult)
	go func() {
		capture, err := a.open(src, s, target)
		select {
		case results <- attemptResult{capture, err}:
		case <-actx.Done():
			if capture != nil {
				capture.Close()
				a.logger.Debug("closed late handle from abandoned attempt",
					"source", src.String(),
					"strategy", s.Name,
				)
			}
		}
	}()

	select {
	case r := <-results:
		return r.capture, r.err
	case <-actx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w after %s", ErrAttemptTimeout, a.config.AttemptTimeout)
	}
}

func (a *Acquirer) open(src Source, s Strategy, target Target) (Capture, error) {
	capture, err := a.opener.Open(src, s.Backend)
	if err != nil {
		return nil, err
	}
	if capture == nil {
		return nil, ErrNotOpened
	}

	frame, err := capture.Read()
	if err != nil || frame.Empty() {
		capture.Close()
		if err == nil {
			err = ErrNoFrame
		}
		return nil, fmt.Errorf("first read: %w", err)
	}

	if err := capture.Configure(target); err != nil {
		a.logger.Warn("target not applied",
			"source", src.String(),
			"strategy", s.Name,
			"error", err,
		)
	}
	return capture, nil
}

// Probe tries device indexes [0, max) and returns those that acquire.
// Devices with a live handle are reported without being reopened. Each
// probed handle is released before the next index is tried.
func (a *Acquirer) Probe(ctx context.Context, max int) []Source {
	var found []Source
	for i := 0; i < max; i++ {
		if ctx.Err() != nil {
			break
		}
		src := Device(i)
		if a.InUse(src) {
			found = append(found, src)
			continue
		}
		if _, err := a.Acquire(ctx, src, DefaultTarget()); err != nil {
			a.logger.Debug("probe miss", "device", i, "error", err)
			continue
		}
		a.Release(src)
		found = append(found, src)
	}
	a.logger.Info("probe complete", "found", len(found), "tried", max)
	return found
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
