// Package view arbitrates whether the rendered transcript follows the live
// session or a pinned historical run.
package view

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/spboyer/promptloop/internal/models"
	"github.com/spboyer/promptloop/internal/reconcile"
	"github.com/spboyer/promptloop/internal/session"
)

// ErrRunNotFound is returned when selecting a run that is not in history.
var ErrRunNotFound = errors.New("run not found")

// Mode is the active view mode.
type Mode string

const (
	ModeLive       Mode = "live"
	ModeHistorical Mode = "historical"
)

// View is the transcript handed to the renderer.
type View struct {
	Mode       Mode             `json:"mode"`
	RunID      string           `json:"runId,omitempty"`
	Iteration  int              `json:"iteration"`
	Prompt     string           `json:"prompt"`
	Transcript []models.Message `json:"transcript"`
	// LiveUnderneath is set when a historical run is pinned while a session
	// keeps streaming.
	LiveUnderneath bool     `json:"liveUnderneath"`
	Score          *float64 `json:"score,omitempty"`
}

// History supplies the persisted runs.
type History interface {
	Runs() []models.TestRun
	Collection() (models.Collection, bool)
}

type baseline struct {
	gen       uint64
	prompt    string
	iteration int
}

// matches reports whether the machine still shows exactly b.
func (b *baseline) matches(snap session.Snapshot) bool {
	return b != nil && b.gen == snap.Generation &&
		b.prompt == snap.CurrentPrompt && b.iteration == snap.CurrentIteration
}

// Selector holds the view selection. The zero selection is live.
type Selector struct {
	machine *session.Machine
	history History

	mu     sync.Mutex
	pinned *models.TestRun
	// saved is the baseline held right before selecting; shown is what the
	// selection wrote over it.
	saved *baseline
	shown *baseline
}

// NewSelector creates a Selector in live mode.
func NewSelector(m *session.Machine, h History) *Selector {
	return &Selector{machine: m, history: h}
}

// SelectRun pins the view to a historical run. While no session is running
// the run's prompt and iteration become the displayed baseline.
func (s *Selector) SelectRun(runID string) error {
	run, ok := models.FindRun(s.history.Runs(), runID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	run.Transcript = slices.Clone(run.Transcript)

	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.machine.Snapshot()
	if !s.shown.matches(snap) {
		s.saved = &baseline{gen: snap.Generation, prompt: snap.CurrentPrompt, iteration: snap.CurrentIteration}
	}
	s.pinned = &run
	s.shown = nil
	if s.machine.Rebase(snap.Generation, run.SubjectInstruction, run.Iteration) {
		s.shown = &baseline{gen: snap.Generation, prompt: run.SubjectInstruction, iteration: run.Iteration}
	}
	return nil
}

// Clear returns to live mode. When nothing else touched the baseline since
// the selection, the values held before it are restored; otherwise the
// baseline is re-seeded from the most recent persisted run. A running
// session's values are never overwritten.
func (s *Selector) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
}

func (s *Selector) clearLocked() {
	saved, shown := s.saved, s.shown
	s.pinned, s.saved, s.shown = nil, nil, nil
	if saved == nil {
		return
	}

	snap := s.machine.Snapshot()
	if snap.IsLooping {
		return
	}
	if shown.matches(snap) {
		s.machine.Rebase(snap.Generation, saved.prompt, saved.iteration)
		return
	}
	col, ok := s.history.Collection()
	if !ok {
		return
	}
	prompt, iteration := reconcile.Baseline(col, s.history.Runs())
	s.machine.Rebase(snap.Generation, prompt, iteration)
}

// ResetAfterSession returns to live mode if the pinned run is no longer in
// history. It reports whether the selection changed.
func (s *Selector) ResetAfterSession() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pinned == nil {
		return false
	}
	if _, ok := models.FindRun(s.history.Runs(), s.pinned.ID); ok {
		return false
	}
	s.pinned, s.saved, s.shown = nil, nil, nil
	return true
}

// Mode returns the current mode.
func (s *Selector) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pinned != nil {
		return ModeHistorical
	}
	return ModeLive
}

// Active returns the transcript to render.
func (s *Selector) Active() View {
	snap := s.machine.Snapshot()

	s.mu.Lock()
	defer s.mu.Unlock()
	if run := s.pinned; run != nil {
		v := View{
			Mode:           ModeHistorical,
			RunID:          run.ID,
			Iteration:      run.Iteration,
			Prompt:         run.SubjectInstruction,
			Transcript:     slices.Clone(run.Transcript),
			LiveUnderneath: snap.IsLooping,
		}
		if run.Score != nil {
			score := *run.Score
			v.Score = &score
		}
		return v
	}
	return View{
		Mode:       ModeLive,
		Iteration:  snap.CurrentIteration,
		Prompt:     snap.CurrentPrompt,
		Transcript: snap.LiveMessages,
		Score:      snap.LastScore,
	}
}
