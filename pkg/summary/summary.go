// Package summary scores a completed compression session.
package summary

import (
	"math"
	"time"

	"github.com/teslashibe/go-cprcoach/pkg/motion"
)

// IdealBPM is the target compression rate. The rate score loses
// PenaltyPerBPM points for every bpm away from it.
const (
	IdealBPM      = 110.0
	PenaltyPerBPM = 2.0
)

// Summary is derived once per session from its metrics log.
type Summary struct {
	AvgBPM             float64 `json:"avgBPM"`
	ElbowLockedPercent float64 `json:"elbowLockedPercent"`
	CompressionCount   int     `json:"compressionCount"`
	DurationSeconds    float64 `json:"duration"`
	Score              int     `json:"score"`
	Samples            int     `json:"samples"`
	NoData             bool    `json:"noData,omitempty"`
}

// Summarize computes the summary of a session that started at start and
// ended at end. An empty log yields a zero summary flagged NoData.
func Summarize(metrics []motion.Sample, start, end time.Time) Summary {
	s := Summary{DurationSeconds: duration(start, end)}

	if len(metrics) == 0 {
		s.NoData = true
		return s
	}

	var (
		bpmSum   float64
		bpmCount int
		locked   int
	)
	for _, m := range metrics {
		// Paused samples report 0 and would drag the mean down.
		if m.BPM > 0 {
			bpmSum += float64(m.BPM)
			bpmCount++
		}
		if m.ElbowsLocked {
			locked++
		}
		s.CompressionCount = max(s.CompressionCount, m.CompressionCount)
	}

	if bpmCount > 0 {
		s.AvgBPM = bpmSum / float64(bpmCount)
	}
	s.ElbowLockedPercent = 100 * float64(locked) / float64(len(metrics))
	s.Samples = len(metrics)
	s.Score = Score(s.AvgBPM, s.ElbowLockedPercent)
	return s
}

// RateScore maps an average rate to [0,100], peaking at IdealBPM.
func RateScore(avgBPM float64) float64 {
	return math.Max(0, 100-PenaltyPerBPM*math.Abs(avgBPM-IdealBPM))
}

// Score blends rate and elbow form equally into a 0-100 composite.
func Score(avgBPM, elbowLockedPercent float64) int {
	return int(math.Round(0.5*RateScore(avgBPM) + 0.5*elbowLockedPercent))
}

func duration(start, end time.Time) float64 {
	if start.IsZero() || end.Before(start) {
		return 0
	}
	return end.Sub(start).Seconds()
}
