// Package attention classifies head pose into attention bands, with
// per-identity temporal smoothing and anti-flicker hysteresis.
package attention

import (
	"math"
	"math/bits"
	"sync"

	"github.com/bmharper/ringbuffer"
	"github.com/teslashibe/go-attention/pkg/vision"
)

// NeutralConfidence is reported for identities with no classification state.
const NeutralConfidence = 0.5

type poseSample struct {
	yaw, pitch float64
}

// identityState is everything the classifier remembers about one identity.
type identityState struct {
	history ringbuffer.RingP[poseSample]

	lastYaw, lastPitch float64
	hasPose            bool

	committed    vision.Band
	hasCommitted bool
	candidate    vision.Band
	streak       int // Consecutive frames of candidate
	agree        int // Consecutive frames of committed, capped at ConfirmFrames
}

// Classifier holds smoothing and hysteresis state keyed by identity id. It
// never owns tracks; the pipeline must call Clear when the tracker retires
// an id.
type Classifier struct {
	config  Config
	ringCap int

	mu     sync.Mutex
	states map[int]*identityState
}

// NewClassifier creates a classifier with the given configuration.
func NewClassifier(config Config) *Classifier {
	if config.HistorySize < 1 {
		config.HistorySize = 1
	}
	if config.ConfirmFrames < 1 {
		config.ConfirmFrames = 1
	}
	return &Classifier{
		config:  config,
		ringCap: ringSize(config.HistorySize),
		states:  make(map[int]*identityState),
	}
}

// ringSize returns the RingP size that holds at least n items. RingP keeps
// one slot free, so this is the smallest power of two above n.
func ringSize(n int) int {
	return 1 << bits.Len(uint(n))
}

// Config returns the active configuration.
func (c *Classifier) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.config
}

// SetThresholds changes the yaw and pitch thresholds. Existing per-identity
// state is kept.
func (c *Classifier) SetThresholds(yaw, pitch float64) {
	c.mu.Lock()
	c.config.YawThreshold = yaw
	c.config.PitchThreshold = pitch
	c.mu.Unlock()
}

func (c *Classifier) state(id int) *identityState {
	s, ok := c.states[id]
	if !ok {
		s = &identityState{history: ringbuffer.NewRingP[poseSample](c.ringCap)}
		c.states[id] = s
	}
	return s
}

// Classify maps an angle pair to a band without any per-identity state.
func (c *Classifier) Classify(yaw, pitch float64) vision.Band {
	c.mu.Lock()
	yawT, pitchT := c.config.YawThreshold, c.config.PitchThreshold
	c.mu.Unlock()

	yawOut := math.Abs(yaw) > yawT
	pitchOut := math.Abs(pitch) > pitchT
	switch {
	case !yawOut && !pitchOut:
		return vision.Attending
	case yawOut && pitchOut:
		return vision.NotAttending
	default:
		return vision.PartiallyAttending
	}
}

// SmoothPose appends a raw pose to the identity's history and returns the
// smoothed pose over the last HistorySize samples.
func (c *Classifier) SmoothPose(id int, yaw, pitch float64) (float64, float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.state(id)
	s.history.Add(poseSample{yaw: yaw, pitch: pitch})

	n := min(s.history.Len(), c.config.HistorySize)
	start := s.history.Len() - n

	var sy, sp float64
	if c.config.SmoothingAlpha > 0 {
		a := c.config.SmoothingAlpha
		first := s.history.Peek(start)
		sy, sp = first.yaw, first.pitch
		for i := start + 1; i < s.history.Len(); i++ {
			p := s.history.Peek(i)
			sy = a*p.yaw + (1-a)*sy
			sp = a*p.pitch + (1-a)*sp
		}
	} else {
		for i := start; i < s.history.Len(); i++ {
			p := s.history.Peek(i)
			sy += p.yaw
			sp += p.pitch
		}
		sy /= float64(n)
		sp /= float64(n)
	}

	s.lastYaw, s.lastPitch, s.hasPose = sy, sp, true
	return sy, sp
}

// ClassifyFor classifies a pose for a tracked identity. A band change is only
// committed after ConfirmFrames consecutive observations; until then the
// previously committed band is returned. The first observation for an
// identity commits immediately.
func (c *Classifier) ClassifyFor(id int, yaw, pitch float64) vision.Band {
	return c.observe(id, c.Classify(yaw, pitch))
}

// NoFace records a frame where the identity's face could not be measured and
// no pose could be carried forward.
func (c *Classifier) NoFace(id int) vision.Band {
	return c.observe(id, vision.NotAttending)
}

func (c *Classifier) observe(id int, raw vision.Band) vision.Band {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := c.config.ConfirmFrames
	s := c.state(id)

	switch {
	case !s.hasCommitted:
		s.committed, s.hasCommitted = raw, true
		s.agree = 1
		s.streak = 0
	case raw == s.committed:
		s.agree = min(s.agree+1, k)
		s.streak = 0
	default:
		s.agree = 0
		if raw == s.candidate && s.streak > 0 {
			s.streak++
		} else {
			s.candidate, s.streak = raw, 1
		}
		if s.streak >= k {
			s.committed = raw
			s.agree = min(s.streak, k)
			s.streak = 0
		}
	}
	return s.committed
}

// Confidence is the committed band's consecutive-frame streak divided by
// ConfirmFrames, in [0,1]. Identities without state report NeutralConfidence.
func (c *Classifier) Confidence(id int) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.states[id]
	if !ok || !s.hasCommitted {
		return NeutralConfidence
	}
	return float64(s.agree) / float64(c.config.ConfirmFrames)
}

// LastKnownPose returns the most recent smoothed pose for an identity.
func (c *Classifier) LastKnownPose(id int) (yaw, pitch float64, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, exists := c.states[id]
	if !exists || !s.hasPose {
		return 0, 0, false
	}
	return s.lastYaw, s.lastPitch, true
}

// HistoryLen returns how many pose samples are held for an identity.
func (c *Classifier) HistoryLen(id int) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.states[id]
	if !ok {
		return 0
	}
	return min(s.history.Len(), c.config.HistorySize)
}

// Clear purges all state for one identity.
func (c *Classifier) Clear(id int) {
	c.mu.Lock()
	delete(c.states, id)
	c.mu.Unlock()
}

// ClearAll purges every identity.
func (c *Classifier) ClearAll() {
	c.mu.Lock()
	c.states = make(map[int]*identityState)
	c.mu.Unlock()
}

// Identities returns the number of identities with live state.
func (c *Classifier) Identities() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.states)
}

// Direction converts angles in degrees to an image-space unit-ish vector for
// arrow overlays. Positive yaw points right, positive pitch points up.
func Direction(yaw, pitch float64) vision.Vector {
	y := yaw * math.Pi / 180
	p := pitch * math.Pi / 180
	return vision.Vector{
		DX: math.Sin(y) * math.Cos(p),
		DY: -math.Sin(p),
	}
}
