// Package session owns the state of an optimization session and folds
// stream events into it.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/spboyer/promptloop/internal/events"
	"github.com/spboyer/promptloop/internal/models"
)

var (
	// ErrAlreadyRunning is returned when a session is started while one is active.
	ErrAlreadyRunning = errors.New("a session is already running")
	// ErrNotRunning is returned when an operation needs an active session.
	ErrNotRunning = errors.New("no session is running")
)

// DefaultScoreThreshold is the score at or above which a result is a success.
const DefaultScoreThreshold = 90.0

// Console lines written by the machine.
const (
	startLine    = "Starting optimization loop..."
	finishedLine = "Loop finished."
)

// Option configures a Machine.
type Option func(*Machine)

// WithClock overrides time.Now for log timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// WithScoreThreshold sets the success threshold for result lines.
func WithScoreThreshold(threshold float64) Option {
	return func(m *Machine) { m.threshold = threshold }
}

// WithAuditLog mirrors every console line to l.
func WithAuditLog(l Logger) Option {
	return func(m *Machine) { m.audit = l }
}

// WithLogger sets the structured logger for diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) { m.logger = l }
}

// Machine is the only writer of session state. All methods are safe for
// concurrent use; readers receive Snapshots, never the live state.
//
// Every session is identified by a generation number that increases on each
// Start. Writers pass the generation they were created for, so stale writers
// (a late reconciliation, a previous stream) cannot touch a newer session.
type Machine struct {
	mu        sync.Mutex
	state     Snapshot
	finalized bool

	threshold float64
	now       func() time.Time
	audit     Logger
	logger    *slog.Logger

	notifyMu  sync.Mutex
	observers map[int]func(Snapshot)
	nextObs   int
}

// NewMachine returns an idle machine.
func NewMachine(opts ...Option) *Machine {
	m := &Machine{
		state:     Snapshot{Phase: PhaseIdle},
		threshold: DefaultScoreThreshold,
		now:       time.Now,
		audit:     NopLogger{},
		logger:    slog.Default(),
		observers: make(map[int]func(Snapshot)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Subscribe registers fn to receive a Snapshot after every change. fn runs
// while the machine serializes notifications and must not call back into
// the machine. The returned func unsubscribes.
func (m *Machine) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()
	id := m.nextObs
	m.nextObs++
	m.observers[id] = fn
	return func() {
		m.notifyMu.Lock()
		defer m.notifyMu.Unlock()
		delete(m.observers, id)
	}
}

// Snapshot returns a copy of the current state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

// Generation returns the generation of the current (or last) session.
func (m *Machine) Generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Generation
}

// Start begins a new session. It fails with ErrAlreadyRunning, and changes
// nothing, while another session is running.
func (m *Machine) Start(sessionID string) (uint64, error) {
	m.mu.Lock()
	if m.state.Phase == PhaseRunning {
		m.mu.Unlock()
		return 0, ErrAlreadyRunning
	}

	m.state.Generation++
	m.state.SessionID = sessionID
	m.state.Phase = PhaseRunning
	m.state.IsLooping = true
	m.state.LiveMessages = nil
	m.state.LastScore = nil
	m.state.EndReason = ""
	m.finalized = false
	m.appendLocked(LevelInfo, startLine)

	gen := m.state.Generation
	m.unlockAndNotify()
	return gen, nil
}

// Apply folds ev into the session identified by gen. It returns false when
// the event was ignored: the generation is stale, the session is no longer
// running, or the kind is unknown.
func (m *Machine) Apply(gen uint64, ev events.Event) bool {
	m.mu.Lock()
	if gen != m.state.Generation || m.state.Phase != PhaseRunning {
		m.mu.Unlock()
		m.logger.Debug("ignoring event outside running session",
			"kind", kindOf(ev), "generation", gen)
		return false
	}

	switch e := ev.(type) {
	case events.Status:
		m.appendLocked(LevelInfo, e.Content)
	case events.IterationStart:
		m.state.CurrentIteration = e.Iteration
		m.state.CurrentPrompt = e.Prompt
		m.state.LiveMessages = nil
		m.appendLocked(LevelSystem, fmt.Sprintf(">>> ITERATION %d <<<", e.Iteration))
	case events.Message:
		m.state.LiveMessages = append(m.state.LiveMessages, models.Message{Role: e.Role, Content: e.Content})
	case events.Result:
		score := e.Score
		m.state.LastScore = &score
		level := LevelWarning
		if score >= m.threshold {
			level = LevelSuccess
		}
		m.appendLocked(level, fmt.Sprintf("RESULT: Score %s/100", formatScore(score)))
	case events.Optimization:
		m.state.CurrentPrompt = e.NewPrompt
		m.appendLocked(LevelSystem, "PROMPT OPTIMIZED BY AGENT")
	case events.Error:
		m.appendLocked(LevelError, "ERROR: "+e.Content)
	case events.Done:
		m.state.EndReason = e.Reason
		m.state.Phase = PhaseCompleted
		m.state.IsLooping = false
		m.appendLocked(LevelSuccess, "DONE: "+e.Reason)
	default:
		m.mu.Unlock()
		m.logger.Debug("ignoring unknown event", "kind", kindOf(ev))
		return false
	}

	m.unlockAndNotify()
	return true
}

// Finalize ends the session identified by gen. phase is the terminal phase
// for the path that ended it; cause is the transport failure for
// PhaseFailed. If a done event already completed the session its phase is
// kept. Finalize runs at most once per session and reports whether this call
// was the one that did.
func (m *Machine) Finalize(gen uint64, phase Phase, cause error) bool {
	if !phase.Terminal() {
		panic(fmt.Sprintf("session: Finalize with non-terminal phase %q", phase))
	}

	m.mu.Lock()
	if gen != m.state.Generation || m.finalized || m.state.Phase == PhaseIdle {
		m.mu.Unlock()
		return false
	}
	m.finalized = true

	if m.state.Phase == PhaseRunning {
		m.state.Phase = phase
		if phase == PhaseFailed {
			reason := "stream closed unexpectedly"
			if cause != nil {
				reason = cause.Error()
			}
			m.appendLocked(LevelCritical, "Critical error: "+reason)
		}
	} else if cause != nil {
		m.logger.Debug("stream error after terminal event", "error", cause)
	}
	m.state.IsLooping = false
	m.appendLocked(LevelInfo, finishedLine)

	m.unlockAndNotify()
	return true
}

// Rebase sets the baseline prompt and iteration. It is rejected when gen is
// not the current generation or a session is running, so a late writer
// never overwrites a newer session.
func (m *Machine) Rebase(gen uint64, prompt string, iteration int) bool {
	m.mu.Lock()
	if gen != m.state.Generation || m.state.Phase == PhaseRunning {
		m.mu.Unlock()
		return false
	}
	m.state.CurrentPrompt = prompt
	m.state.CurrentIteration = iteration
	m.unlockAndNotify()
	return true
}

// Note appends a console line outside the event flow, for example a failed
// history refresh.
func (m *Machine) Note(level Level, text string) {
	m.mu.Lock()
	m.appendLocked(level, text)
	m.unlockAndNotify()
}

func (m *Machine) appendLocked(level Level, text string) {
	line := LogLine{
		Time:      m.now(),
		Level:     level,
		Text:      text,
		SessionID: m.state.SessionID,
	}
	m.state.Logs = append(m.state.Logs, line)
	if err := m.audit.Log(line); err != nil {
		m.logger.Warn("failed to write session log", "error", err)
	}
}

// unlockAndNotify releases mu and delivers the new snapshot. notifyMu is
// taken before mu is released so observers see snapshots in write order.
func (m *Machine) unlockAndNotify() {
	snap := m.state.clone()
	m.notifyMu.Lock()
	m.mu.Unlock()
	defer m.notifyMu.Unlock()
	for _, fn := range m.observers {
		fn(snap)
	}
}

func kindOf(ev events.Event) events.Kind {
	if ev == nil {
		return ""
	}
	return ev.Kind()
}

func formatScore(s float64) string {
	return fmt.Sprintf("%g", s)
}
