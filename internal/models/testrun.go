package models

import (
	"slices"
	"time"
)

// RunStatus is the lifecycle status of a persisted test run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// ScoreBand buckets a score for display.
type ScoreBand string

const (
	ScoreBandHigh   ScoreBand = "high"
	ScoreBandMedium ScoreBand = "medium"
	ScoreBandLow    ScoreBand = "low"
	ScoreBandNone   ScoreBand = "none"
)

// Score thresholds used by the dashboard colouring.
const (
	HighScoreThreshold   = 90.0
	MediumScoreThreshold = 70.0
)

// TestRun is one persisted optimization iteration. The client never
// mutates a TestRun; it only reads lists of them from the backend.
type TestRun struct {
	ID                 string         `json:"id"`
	CollectionID       string         `json:"collection_id,omitempty"`
	Iteration          int            `json:"iteration"`
	Status             RunStatus      `json:"status"`
	Score              *float64       `json:"score"`
	SubjectInstruction string         `json:"subject_instruction"`
	EvaluationResult   map[string]any `json:"evaluation_result,omitempty"`
	Transcript         []Message      `json:"transcript,omitempty"`
	CreatedAt          *time.Time     `json:"created_at,omitempty"`
}

// ScoreValue returns the score, or 0 when the run has none.
func (r TestRun) ScoreValue() float64 {
	if r.Score == nil {
		return 0
	}
	return *r.Score
}

// ScoreBand returns the display band for the run's score.
func (r TestRun) ScoreBand() ScoreBand {
	return BandFor(r.Score)
}

// BandFor returns the display band for an optional score.
func BandFor(score *float64) ScoreBand {
	switch {
	case score == nil:
		return ScoreBandNone
	case *score >= HighScoreThreshold:
		return ScoreBandHigh
	case *score >= MediumScoreThreshold:
		return ScoreBandMedium
	default:
		return ScoreBandLow
	}
}

// MostRecentFirst returns a copy of runs in reverse delivery order.
// The input slice is left untouched.
func MostRecentFirst(runs []TestRun) []TestRun {
	out := slices.Clone(runs)
	slices.Reverse(out)
	return out
}

// BestScore returns the highest score present in runs, or 0.
func BestScore(runs []TestRun) float64 {
	best := 0.0
	for _, r := range runs {
		if r.Score != nil && *r.Score > best {
			best = *r.Score
		}
	}
	return best
}

// Latest returns the last run in delivery order.
func Latest(runs []TestRun) (TestRun, bool) {
	if len(runs) == 0 {
		return TestRun{}, false
	}
	return runs[len(runs)-1], true
}

// FindRun looks a run up by ID.
func FindRun(runs []TestRun, id string) (TestRun, bool) {
	for _, r := range runs {
		if r.ID == id {
			return r, true
		}
	}
	return TestRun{}, false
}
