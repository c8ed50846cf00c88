package motion

import (
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/teslashibe/go-cprcoach/pkg/geometry"
)

const (
	baseY     = 0.30
	amplitude = 0.03
	framesPer = 10
	frameStep = 50 * time.Millisecond
)

var epoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// lockedFrame builds a kneeling pose with straight arms meeting at the
// sternum, shoulders at height y.
func lockedFrame(y float64) []geometry.Point {
	return []geometry.Point{
		{X: 0.40, Y: y},
		{X: 0.60, Y: y},
		{X: 0.45, Y: y + 0.15},
		{X: 0.55, Y: y + 0.15},
		{X: 0.50, Y: y + 0.30},
		{X: 0.50, Y: y + 0.30},
	}
}

// bentFrame is lockedFrame with both elbows bent to roughly 105 degrees.
func bentFrame(y float64) []geometry.Point {
	f := lockedFrame(y)
	f[LeftWrist] = geometry.Point{X: 0.30, Y: y + 0.25}
	f[RightWrist] = geometry.Point{X: 0.70, Y: y + 0.25}
	return f
}

// strokeY returns the shoulder height for frame j of a ten-frame stroke:
// five frames sinking, then rising back to baseY.
func strokeY(j int) float64 {
	if j <= 5 {
		return baseY + amplitude*float64(j)/5
	}
	return baseY + amplitude*float64(framesPer-j)/5
}

// startedEngine returns an engine that has accepted the start posture at epoch.
func startedEngine(t *testing.T) *Engine {
	t.Helper()
	e := NewEngine()
	s := e.ProcessFrameAt(lockedFrame(baseY), epoch)
	if s == nil || s.Feedback != FeedbackStartPosition {
		t.Fatalf("expected start sample, got %+v", s)
	}
	return e
}

// feedStrokes feeds n strokes of period 500ms beginning at from and returns
// every sample produced. Compressions land on frame 6 of each stroke.
func feedStrokes(e *Engine, from time.Time, n int) []*Sample {
	var out []*Sample
	for k := 0; k < n; k++ {
		for j := 0; j < framesPer; j++ {
			at := from.Add(time.Duration(k*framesPer+j) * frameStep)
			out = append(out, e.ProcessFrameAt(lockedFrame(strokeY(j)), at))
		}
	}
	return out
}

func TestShortFramesReturnNil(t *testing.T) {
	e := NewEngine()
	for n := 0; n < NumLandmarks; n++ {
		if s := e.ProcessFrameAt(make([]geometry.Point, n), epoch); s != nil {
			t.Errorf("ProcessFrame(%d landmarks) = %+v, want nil", n, s)
		}
	}

	started := startedEngine(t)
	if s := started.ProcessFrameAt(lockedFrame(baseY)[:5], epoch); s != nil {
		t.Errorf("started engine accepted a short frame: %+v", s)
	}
}

func TestStartGate(t *testing.T) {
	t.Run("bent arms stay not started", func(t *testing.T) {
		e := NewEngine()
		for i := 0; i < 5; i++ {
			s := e.ProcessFrameAt(bentFrame(baseY), epoch.Add(time.Duration(i)*frameStep))
			if s.Feedback != FeedbackGetInPosition {
				t.Errorf("feedback = %q, want %q", s.Feedback, FeedbackGetInPosition)
			}
			if s.BPM != 0 || s.RelativeDepth != 0 || s.ElbowsLocked {
				t.Errorf("expected zero metrics, got %+v", s)
			}
		}
		if e.Started() {
			t.Error("engine should not have started")
		}
	})

	t.Run("hands off center stay not started", func(t *testing.T) {
		f := lockedFrame(baseY)
		for i := range f {
			if i == LeftWrist || i == RightWrist || i == LeftElbow || i == RightElbow {
				f[i].X += 0.1
			}
		}
		if IsInStartPosition(f) {
			t.Error("offset hands should not be a start position")
		}
	})

	t.Run("locked centered arms start", func(t *testing.T) {
		e := NewEngine()
		s := e.ProcessFrameAt(lockedFrame(baseY), epoch)
		if s.Feedback != FeedbackStartPosition || !s.ElbowsLocked || s.BPM != 0 {
			t.Errorf("unexpected start sample %+v", s)
		}
		if !e.Started() {
			t.Error("engine should be started")
		}
	})
}

func TestTwentyEventsInTenSecondsIs120BPM(t *testing.T) {
	e := startedEngine(t)
	samples := feedStrokes(e, epoch.Add(frameStep), 20)

	if got := e.CompressionCount(); got != 20 {
		t.Fatalf("CompressionCount = %d, want 20", got)
	}

	// Frame 6 of the last stroke carries the 20th compression.
	last := samples[19*framesPer+6]
	if last.BPM != 120 {
		t.Errorf("BPM = %d, want 120", last.BPM)
	}
	if last.Feedback != FeedbackGood {
		t.Errorf("Feedback = %q, want %q", last.Feedback, FeedbackGood)
	}
	if last.CompressionCount != 20 {
		t.Errorf("sample CompressionCount = %d, want 20", last.CompressionCount)
	}
}

func TestRefractoryPeriod(t *testing.T) {
	e := startedEngine(t)

	var eventAt time.Time
	for j := 0; j <= 6; j++ {
		eventAt = epoch.Add(time.Duration(j+1) * frameStep)
		e.ProcessFrameAt(lockedFrame(strokeY(j)), eventAt)
	}
	if e.CompressionCount() != 1 {
		t.Fatalf("CompressionCount = %d, want 1", e.CompressionCount())
	}

	// Re-feeding the accepted frame at the same timestamp must not count.
	e.ProcessFrameAt(lockedFrame(strokeY(6)), eventAt)
	if e.CompressionCount() != 1 {
		t.Errorf("identical refeed counted: %d", e.CompressionCount())
	}

	// A full bounce inside 300ms of the last event is jitter.
	e.ProcessFrameAt(lockedFrame(baseY+amplitude), eventAt.Add(50*time.Millisecond))
	e.ProcessFrameAt(lockedFrame(baseY), eventAt.Add(100*time.Millisecond))
	if e.CompressionCount() != 1 {
		t.Errorf("bounce within refractory period counted: %d", e.CompressionCount())
	}
}

func TestShallowMovementIsIgnored(t *testing.T) {
	e := startedEngine(t)
	for k := 0; k < 5; k++ {
		for j := 0; j < framesPer; j++ {
			y := baseY + (strokeY(j)-baseY)*0.1 // 0.003 excursion, 0.015 relative
			e.ProcessFrameAt(lockedFrame(y), epoch.Add(time.Duration(1+k*framesPer+j)*frameStep))
		}
	}
	if e.CompressionCount() != 0 {
		t.Errorf("shallow strokes counted: %d", e.CompressionCount())
	}
}

func TestStaleActivityResetsRate(t *testing.T) {
	e := startedEngine(t)
	feedStrokes(e, epoch.Add(frameStep), 5)

	last := epoch.Add(frameStep * time.Duration(1+5*framesPer))
	s := e.ProcessFrameAt(lockedFrame(baseY), last.Add(StaleWindow+100*time.Millisecond))
	if s.BPM != 0 {
		t.Errorf("BPM = %d, want 0 after pause", s.BPM)
	}
	if s.Feedback != "" {
		t.Errorf("Feedback = %q, want empty after pause", s.Feedback)
	}
	if s.CompressionCount != 5 {
		t.Errorf("CompressionCount = %d, want 5 (cumulative)", s.CompressionCount)
	}
}

func TestElbowsReportedWhileCompressing(t *testing.T) {
	e := startedEngine(t)
	feedStrokes(e, epoch.Add(frameStep), 2)
	s := e.ProcessFrameAt(bentFrame(baseY), epoch.Add(2*time.Second))
	if s.ElbowsLocked {
		t.Error("bent arms reported as locked")
	}
}

func TestHistoryIsBounded(t *testing.T) {
	e := startedEngine(t)
	feedStrokes(e, epoch.Add(frameStep), 3)
	if len(e.yHistory) != WindowSize {
		t.Errorf("history length = %d, want %d", len(e.yHistory), WindowSize)
	}
}

func TestReset(t *testing.T) {
	e := startedEngine(t)
	feedStrokes(e, epoch.Add(frameStep), 3)
	e.Reset()

	if e.Started() || e.CompressionCount() != 0 || e.LastDirection() != DirectionNone {
		t.Errorf("engine not reset: started=%v count=%d dir=%v", e.Started(), e.CompressionCount(), e.LastDirection())
	}
}

func TestFeedbackPrecedence(t *testing.T) {
	tests := []struct {
		bpm    int
		locked bool
		depth  float64
		want   string
	}{
		{bpm: 90, locked: false, depth: 0, want: FeedbackPushFaster},
		{bpm: 130, locked: false, depth: 0, want: FeedbackSlowDown},
		{bpm: 110, locked: false, depth: 0, want: FeedbackLockElbows},
		{bpm: 110, locked: true, depth: 0.01, want: FeedbackPushDeeper},
		{bpm: 110, locked: true, depth: 0.1, want: FeedbackGood},
		{bpm: 100, locked: true, depth: 0.1, want: FeedbackGood},
		{bpm: 120, locked: true, depth: 0.1, want: FeedbackGood},
	}

	for _, tt := range tests {
		if got := feedbackFor(tt.bpm, tt.locked, tt.depth); got != tt.want {
			t.Errorf("feedbackFor(%d, %v, %.2f) = %q, want %q", tt.bpm, tt.locked, tt.depth, got, tt.want)
		}
	}
}

func TestClockOption(t *testing.T) {
	now := epoch
	e := NewEngine(WithClock(func() time.Time { return now }))
	e.ProcessFrame(lockedFrame(baseY))
	for j := 0; j < framesPer; j++ {
		now = now.Add(frameStep)
		e.ProcessFrame(lockedFrame(strokeY(j)))
	}
	if e.CompressionCount() != 1 {
		t.Errorf("CompressionCount = %d, want 1", e.CompressionCount())
	}
}

func TestBPMIsSixTimesWindowCountProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		e := NewEngine()
		e.ProcessFrameAt(lockedFrame(baseY), epoch)

		at := epoch
		var events []time.Time
		n := rapid.IntRange(1, 400).Draw(t, "frames")
		for i := 0; i < n; i++ {
			at = at.Add(time.Duration(rapid.IntRange(10, 400).Draw(t, "step_ms")) * time.Millisecond)
			y := rapid.Float64Range(0.2, 0.4).Draw(t, "y")

			before := e.CompressionCount()
			s := e.ProcessFrameAt(lockedFrame(y), at)
			if e.CompressionCount() > before {
				events = append(events, at)
			}

			inWindow := 0
			for _, ts := range events {
				if at.Sub(ts) < RateWindow {
					inWindow++
				}
			}

			stale := len(events) == 0 || at.Sub(events[len(events)-1]) > StaleWindow || inWindow == 0
			switch {
			case stale && s.BPM != 0:
				t.Fatalf("frame %d: stale engine reported bpm %d", i, s.BPM)
			case !stale && s.BPM != 6*inWindow:
				t.Fatalf("frame %d: bpm %d, want %d", i, s.BPM, 6*inWindow)
			}
			if s.CompressionCount != len(events) {
				t.Fatalf("frame %d: count %d, want %d", i, s.CompressionCount, len(events))
			}
		}
	})
}

func TestShortFramesProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		e := NewEngine()
		if rapid.Bool().Draw(t, "started") {
			e.ProcessFrameAt(lockedFrame(baseY), epoch)
		}
		n := rapid.IntRange(0, NumLandmarks-1).Draw(t, "n")
		frame := make([]geometry.Point, n)
		for i := range frame {
			frame[i] = geometry.Point{
				X: rapid.Float64Range(0, 1).Draw(t, "x"),
				Y: rapid.Float64Range(0, 1).Draw(t, "y"),
			}
		}
		if s := e.ProcessFrameAt(frame, epoch.Add(time.Second)); s != nil {
			t.Fatalf("short frame produced %+v", s)
		}
	})
}
