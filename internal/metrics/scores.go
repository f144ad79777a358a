package metrics

import "github.com/spboyer/promptloop/internal/models"

// ScoreSummary describes the scores a collection's runs have reached.
// Runs without a score are not counted.
type ScoreSummary struct {
	Scored int     `json:"scored"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stdDev"`
	Low    float64 `json:"ci95Low"`
	High   float64 `json:"ci95High"`
	Best   float64 `json:"best"`
	First  float64 `json:"first"`
	Last   float64 `json:"last"`
	// Gain is the normalized gain from the first to the last scored run.
	Gain float64 `json:"gain"`
}

// SummarizeScores computes a ScoreSummary over runs in delivery order.
func SummarizeScores(runs []models.TestRun) ScoreSummary {
	scores := make([]float64, 0, len(runs))
	for _, r := range runs {
		if r.Score != nil {
			scores = append(scores, *r.Score)
		}
	}
	if len(scores) == 0 {
		return ScoreSummary{}
	}

	s := ScoreSummary{
		Scored: len(scores),
		Mean:   Mean(scores),
		StdDev: StdDev(scores),
		First:  scores[0],
		Last:   scores[len(scores)-1],
	}
	s.Low, s.High = ConfidenceInterval95(scores)
	for _, v := range scores {
		s.Best = max(s.Best, v)
	}
	s.Gain = NormalizedGain(s.First/100, s.Last/100)
	return s
}
