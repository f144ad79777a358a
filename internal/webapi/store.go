package webapi

import (
	"context"

	"github.com/spboyer/promptloop/internal/metrics"
	"github.com/spboyer/promptloop/internal/models"
	"github.com/spboyer/promptloop/internal/session"
	"github.com/spboyer/promptloop/internal/view"
)

// Dashboard is the session core the API exposes.
type Dashboard interface {
	// Snapshot returns the current session state.
	Snapshot() session.Snapshot
	// Subscribe registers fn for every state change and returns a func
	// that removes it.
	Subscribe(fn func(session.Snapshot)) func()
	// Start begins a session; session.ErrAlreadyRunning while one is active.
	Start(ctx context.Context) (uint64, error)
	// Stop cancels the session; session.ErrNotRunning when idle.
	Stop() error
	// Refresh re-reads run history from the backend.
	Refresh(ctx context.Context) error
	// Runs returns the last fetched runs in delivery order.
	Runs() []models.TestRun
	// Collection returns the last fetched collection.
	Collection() (models.Collection, bool)
	// View returns the transcript to render.
	View() view.View
	// SelectRun pins the view; view.ErrRunNotFound for unknown IDs.
	SelectRun(id string) error
	// ClearSelection returns the view to live mode.
	ClearSelection()
}

// toRunsResponse builds the runs listing, most recent first.
func toRunsResponse(col models.Collection, runs []models.TestRun) RunsResponse {
	ordered := models.MostRecentFirst(runs)
	resp := RunsResponse{
		CollectionID:   col.ID,
		CollectionName: col.Name,
		Runs:           make([]RunSummary, 0, len(ordered)),
		BestScore:      models.BestScore(runs),
		Total:          len(runs),
		Stats:          metrics.SummarizeScores(runs),
	}
	for _, r := range ordered {
		resp.Runs = append(resp.Runs, toRunSummary(r))
	}
	return resp
}

func toRunSummary(r models.TestRun) RunSummary {
	return RunSummary{
		ID:                 r.ID,
		Iteration:          r.Iteration,
		Status:             string(r.Status),
		Score:              r.Score,
		Band:               string(r.ScoreBand()),
		SubjectInstruction: r.SubjectInstruction,
		Recommendation:     r.FirstRecommendation(),
		MessageCount:       len(r.Transcript),
		CreatedAt:          r.CreatedAt,
	}
}
