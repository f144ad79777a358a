package models

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

// Evaluation is the typed view of a run's free-form evaluation_result.
// Keys follow the judge agent's output schema.
type Evaluation struct {
	TestID   string         `mapstructure:"test_id"`
	Scenario string         `mapstructure:"test_scenario"`
	Scores   CategoryScores `mapstructure:"scores"`
	Summary  Summary        `mapstructure:"resumo"`
	Final    FinalStatus    `mapstructure:"status_final"`
}

// CategoryScores are the per-category scores (0-100).
type CategoryScores struct {
	Compliance    float64 `mapstructure:"compliance"`
	Efficacy      float64 `mapstructure:"eficacia"`
	Efficiency    float64 `mapstructure:"eficiencia"`
	Communication float64 `mapstructure:"qualidade_comunicacao"`
	UserExp       float64 `mapstructure:"experiencia_usuario"`
	Overall       float64 `mapstructure:"score_geral"`
}

// Summary holds the judge's free-text conclusions.
type Summary struct {
	Verdict         string   `mapstructure:"resultado"`
	Strengths       []string `mapstructure:"pontos_fortes"`
	Weaknesses      []string `mapstructure:"pontos_fracos"`
	Recommendations []string `mapstructure:"recomendacoes"`
}

// FinalStatus is the judge's pass/fail decision.
type FinalStatus struct {
	Approved        bool   `mapstructure:"aprovado"`
	FailureCriteria string `mapstructure:"criterio_reprovacao"`
	ProductionReady bool   `mapstructure:"pronto_para_producao"`
}

// Evaluation decodes EvaluationResult. A run without a result decodes to
// the zero Evaluation.
func (r TestRun) Evaluation() (Evaluation, error) {
	var ev Evaluation
	if len(r.EvaluationResult) == 0 {
		return ev, nil
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &ev,
	})
	if err != nil {
		return ev, err
	}
	if err := dec.Decode(r.EvaluationResult); err != nil {
		return Evaluation{}, fmt.Errorf("decoding evaluation for run %s: %w", r.ID, err)
	}
	return ev, nil
}

// FirstRecommendation returns the judge's first recommendation, or "" when
// the result is missing or malformed.
func (r TestRun) FirstRecommendation() string {
	ev, err := r.Evaluation()
	if err != nil || len(ev.Summary.Recommendations) == 0 {
		return ""
	}
	return ev.Summary.Recommendations[0]
}
