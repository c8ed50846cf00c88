// Package trigger decides which coaching issue, if any, to surface for the
// latest metrics sample.
//
// Evaluation is stateless: every call depends only on the sample, the session
// mode and the metrics history passed in. At most one issue is returned, the
// one with the highest priority. Ties keep the order rate, depth, elbows,
// fatigue.
package trigger

import (
	"slices"

	"github.com/teslashibe/go-cprcoach/pkg/motion"
)

// IssueID identifies a coaching problem. It is what debouncing compares.
type IssueID string

const (
	SlowRate     IssueID = "slow_rate"
	FastRate     IssueID = "fast_rate"
	ElbowsBent   IssueID = "elbows_bent"
	Fatigue      IssueID = "fatigue"
	ShallowDepth IssueID = "shallow_depth"
)

// Color is the highlight color shown alongside the coaching text.
type Color string

const (
	Green  Color = "green"
	Yellow Color = "yellow"
	Orange Color = "orange"
	Red    Color = "red"
)

// Mode is the session mode.
type Mode string

const (
	ModeTrain Mode = "train"
	ModeTest  Mode = "test"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeTrain || m == ModeTest
}

// Rate thresholds carry a one-bpm buffer around the 100-120 target band to
// keep feedback from flickering at the edges.
const (
	SlowRateBelow = 99
	FastRateAbove = 121
)

// Fatigue detection constants.
const (
	FatigueWindow     = 10
	FatigueDepthDrop  = 0.5
	FatigueRateDrop   = 8.0
	fatigueHalfWindow = FatigueWindow / 2
)

// Issue is a single identified coaching problem.
type Issue struct {
	ID       IssueID `json:"issue"`
	Text     string  `json:"text"`
	Color    Color   `json:"color"`
	Priority int     `json:"priority"`
}

// Issue catalog.
var (
	IssueSlowRate     = Issue{ID: SlowRate, Text: "Push faster", Color: Green, Priority: 2}
	IssueFastRate     = Issue{ID: FastRate, Text: "Slow down slightly", Color: Green, Priority: 2}
	IssueShallowDepth = Issue{ID: ShallowDepth, Text: "Push deeper", Color: Orange, Priority: 3}
	IssueElbowsBent   = Issue{ID: ElbowsBent, Text: "Lock your elbows", Color: Red, Priority: 4}
	IssueFatigue      = Issue{ID: Fatigue, Text: "Keep consistent compressions", Color: Yellow, Priority: 1}
)

// Payload is the ready-to-display form of an issue.
type Payload struct {
	Text           string `json:"text"`
	HighlightColor Color  `json:"highlightColor"`
	DuckMusic      bool   `json:"duckMusic"`
}

// Result is the outcome of a successful evaluation.
type Result struct {
	Issue   IssueID
	Detail  Issue
	Payload Payload
}

// Policy tunes evaluation per mode.
type Policy struct {
	// Suppress lists issues that are never surfaced in a given mode.
	Suppress map[Mode][]IssueID

	// ShallowDepthBelow enables the depth check when positive: samples with a
	// relative depth under this value raise ShallowDepth.
	ShallowDepthBelow float64
}

// DefaultPolicy treats both modes identically and leaves the depth check off.
func DefaultPolicy() Policy {
	return Policy{}
}

// suppressed reports whether id is filtered out for mode.
func (p Policy) suppressed(mode Mode, id IssueID) bool {
	return slices.Contains(p.Suppress[mode], id)
}

// Evaluator applies a Policy.
type Evaluator struct {
	policy Policy
}

// NewEvaluator creates an evaluator with the given policy.
func NewEvaluator(policy Policy) *Evaluator {
	return &Evaluator{policy: policy}
}

// Policy returns the evaluator's policy.
func (e *Evaluator) Policy() Policy {
	return e.policy
}

// Evaluate uses the default policy.
func Evaluate(sample motion.Sample, mode Mode, history []motion.Sample) *Result {
	return NewEvaluator(DefaultPolicy()).Evaluate(sample, mode, history)
}

// Evaluate returns the highest-priority issue for sample, or nil when there
// is nothing to coach.
func (e *Evaluator) Evaluate(sample motion.Sample, mode Mode, history []motion.Sample) *Result {
	candidates := make([]Issue, 0, 4)

	switch {
	case sample.BPM < SlowRateBelow:
		candidates = append(candidates, IssueSlowRate)
	case sample.BPM > FastRateAbove:
		candidates = append(candidates, IssueFastRate)
	}

	if e.policy.ShallowDepthBelow > 0 && sample.RelativeDepth < e.policy.ShallowDepthBelow {
		candidates = append(candidates, IssueShallowDepth)
	}

	if !sample.ElbowsLocked {
		candidates = append(candidates, IssueElbowsBent)
	}

	if DetectFatigue(history) {
		candidates = append(candidates, IssueFatigue)
	}

	candidates = slices.DeleteFunc(candidates, func(i Issue) bool {
		return e.policy.suppressed(mode, i.ID)
	})
	if len(candidates) == 0 {
		return nil
	}

	slices.SortStableFunc(candidates, func(a, b Issue) int {
		return b.Priority - a.Priority
	})

	top := candidates[0]
	return &Result{
		Issue:  top.ID,
		Detail: top,
		Payload: Payload{
			Text:           top.Text,
			HighlightColor: top.Color,
			DuckMusic:      true,
		},
	}
}

// DetectFatigue reports a significant decline in depth or rate between the
// older and newer halves of the last FatigueWindow samples.
func DetectFatigue(history []motion.Sample) bool {
	if len(history) < FatigueWindow {
		return false
	}

	recent := history[len(history)-FatigueWindow:]
	firstDepth, firstBPM := means(recent[:fatigueHalfWindow])
	secondDepth, secondBPM := means(recent[fatigueHalfWindow:])

	return firstDepth-secondDepth > FatigueDepthDrop || firstBPM-secondBPM > FatigueRateDrop
}

func means(samples []motion.Sample) (depth, bpm float64) {
	for _, s := range samples {
		depth += s.RelativeDepth
		bpm += float64(s.BPM)
	}
	n := float64(len(samples))
	return depth / n, bpm / n
}
