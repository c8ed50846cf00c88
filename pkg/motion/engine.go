// Package motion turns a stream of upper-body landmarks into chest-compression
// metrics.
//
// An Engine consumes one frame at a time, tracks the vertical movement of the
// shoulder midpoint over a short sliding window and records a compression
// each time the shoulders pass the bottom of a stroke. Counting only begins
// once the subject has been seen in a valid starting posture.
//
// Frames must be six landmarks in this fixed order: left shoulder, right
// shoulder, left elbow, right elbow, left wrist, right wrist.
//
// An Engine is not safe for concurrent use; it belongs to exactly one session.
package motion

import (
	"time"

	"github.com/teslashibe/go-cprcoach/pkg/geometry"
)

// Landmark indices within a frame.
const (
	LeftShoulder = iota
	RightShoulder
	LeftElbow
	RightElbow
	LeftWrist
	RightWrist
	NumLandmarks
)

// Detection and rate constants.
const (
	WindowSize        = 10
	MinEventSamples   = 5
	MinRelativeDepth  = 0.02
	MinEventInterval  = 300 * time.Millisecond
	RateWindow        = 10 * time.Second
	StaleWindow       = 3 * time.Second
	TargetMinBPM      = 100
	TargetMaxBPM      = 120
	LockedElbowDegree = 160.0
	MaxWristSpread    = 0.15
	MaxWristOffset    = 0.08
)

// rateScale extrapolates an event count in RateWindow to a per-minute rate.
const rateScale = int(time.Minute / RateWindow)

// Feedback messages.
const (
	FeedbackStartPosition = "Good position, start compressions"
	FeedbackGetInPosition = "Get into proper position"
	FeedbackPushFaster    = "Push faster"
	FeedbackSlowDown      = "Slow down"
	FeedbackLockElbows    = "Lock your elbows"
	FeedbackPushDeeper    = "Push deeper"
	FeedbackGood          = "Good compressions"
)

// Direction is the vertical movement of the shoulders between two frames.
type Direction int

const (
	DirectionNone Direction = iota
	DirectionUp
	DirectionDown
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionUp:
		return "up"
	case DirectionDown:
		return "down"
	default:
		return "none"
	}
}

// Sample is the per-frame metrics output. It is never mutated once produced.
type Sample struct {
	BPM              int     `json:"bpm"`
	RelativeDepth    float64 `json:"relativeDepth"`
	ElbowsLocked     bool    `json:"elbowsLocked"`
	Feedback         string  `json:"feedback,omitempty"`
	CompressionCount int     `json:"compressionCount"`
}

// Engine detects compressions from landmark frames.
type Engine struct {
	yHistory         []float64
	lastDirection    Direction
	timestamps       []time.Time
	lastCompression  time.Time
	totalCompression int
	started          bool

	now func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source used by ProcessFrame.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an engine in the not-started phase.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		yHistory: make([]float64, 0, WindowSize),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Reset discards all state and returns the engine to the not-started phase.
func (e *Engine) Reset() {
	e.yHistory = e.yHistory[:0]
	e.lastDirection = DirectionNone
	e.timestamps = nil
	e.lastCompression = time.Time{}
	e.totalCompression = 0
	e.started = false
}

// Started reports whether the start posture has been observed.
func (e *Engine) Started() bool {
	return e.started
}

// CompressionCount returns the number of compressions accepted since the
// last reset.
func (e *Engine) CompressionCount() int {
	return e.totalCompression
}

// LastDirection returns the direction classified on the previous frame.
func (e *Engine) LastDirection() Direction {
	return e.lastDirection
}

// ProcessFrame processes a frame stamped with the engine clock.
func (e *Engine) ProcessFrame(landmarks []geometry.Point) *Sample {
	return e.ProcessFrameAt(landmarks, e.now())
}

// ProcessFrameAt processes a frame captured at the given time. Frames with
// fewer than six landmarks produce no sample.
func (e *Engine) ProcessFrameAt(landmarks []geometry.Point, at time.Time) *Sample {
	if len(landmarks) < NumLandmarks {
		return nil
	}

	if !e.started {
		if !IsInStartPosition(landmarks) {
			return &Sample{Feedback: FeedbackGetInPosition}
		}
		e.started = true
		return &Sample{ElbowsLocked: true, Feedback: FeedbackStartPosition}
	}

	lShoulder, rShoulder := landmarks[LeftShoulder], landmarks[RightShoulder]
	shoulderY := geometry.Midpoint(lShoulder, rShoulder).Y
	shoulderWidth := abs(lShoulder.X - rShoulder.X)

	e.push(shoulderY)

	if n := len(e.yHistory); n >= 2 {
		direction := DirectionUp
		if shoulderY > e.yHistory[n-2] {
			direction = DirectionDown
		}

		if n >= MinEventSamples {
			depth := e.relativeDepth(shoulderWidth)
			// Bottom of the stroke: the shoulders were sinking and now rise.
			if e.lastDirection == DirectionDown &&
				direction == DirectionUp &&
				depth > MinRelativeDepth &&
				at.Sub(e.lastCompression) > MinEventInterval {
				e.timestamps = append(e.timestamps, at)
				e.lastCompression = at
				e.totalCompression++
			}
		}

		e.lastDirection = direction
	}

	e.prune(at)
	bpm := len(e.timestamps) * rateScale

	sample := &Sample{
		RelativeDepth:    e.relativeDepth(shoulderWidth),
		ElbowsLocked:     ElbowsLocked(landmarks),
		CompressionCount: e.totalCompression,
	}

	if len(e.timestamps) == 0 || at.Sub(e.timestamps[len(e.timestamps)-1]) > StaleWindow {
		return sample
	}

	sample.BPM = bpm
	sample.Feedback = feedbackFor(bpm, sample.ElbowsLocked, sample.RelativeDepth)
	return sample
}

// push appends a shoulder height, evicting the oldest past WindowSize.
func (e *Engine) push(y float64) {
	if len(e.yHistory) == WindowSize {
		copy(e.yHistory, e.yHistory[1:])
		e.yHistory = e.yHistory[:WindowSize-1]
	}
	e.yHistory = append(e.yHistory, y)
}

// prune drops compression times outside the trailing rate window.
func (e *Engine) prune(at time.Time) {
	keep := e.timestamps[:0]
	for _, ts := range e.timestamps {
		if at.Sub(ts) < RateWindow {
			keep = append(keep, ts)
		}
	}
	e.timestamps = keep
}

// relativeDepth is the vertical excursion of the window normalized by
// shoulder width, or 0 when the width is degenerate.
func (e *Engine) relativeDepth(shoulderWidth float64) float64 {
	if len(e.yHistory) == 0 || shoulderWidth <= 0 {
		return 0
	}
	lo, hi := e.yHistory[0], e.yHistory[0]
	for _, y := range e.yHistory[1:] {
		lo = min(lo, y)
		hi = max(hi, y)
	}
	return (hi - lo) / shoulderWidth
}

func feedbackFor(bpm int, elbowsLocked bool, depth float64) string {
	switch {
	case bpm < TargetMinBPM:
		return FeedbackPushFaster
	case bpm > TargetMaxBPM:
		return FeedbackSlowDown
	case !elbowsLocked:
		return FeedbackLockElbows
	case depth < MinRelativeDepth:
		return FeedbackPushDeeper
	default:
		return FeedbackGood
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
