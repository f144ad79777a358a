// Package loop runs optimization sessions: it opens the run stream, feeds
// decoded events to the session machine and reconciles history afterwards.
package loop

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/spboyer/promptloop/internal/backend"
	"github.com/spboyer/promptloop/internal/events"
	"github.com/spboyer/promptloop/internal/models"
	"github.com/spboyer/promptloop/internal/reconcile"
	"github.com/spboyer/promptloop/internal/session"
	"github.com/spboyer/promptloop/internal/sse"
	"github.com/spboyer/promptloop/internal/view"
)

// Option configures a Controller.
type Option func(*Controller)

// WithBufferSize sets the stream read buffer size.
func WithBufferSize(n int) Option {
	return func(c *Controller) { c.bufSize = n }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithReconcileOptions configures the history reconciler.
func WithReconcileOptions(opts ...reconcile.Option) Option {
	return func(c *Controller) { c.reconcileOpts = append(c.reconcileOpts, opts...) }
}

// WithSessionIDs overrides session ID generation.
func WithSessionIDs(next func() string) Option {
	return func(c *Controller) { c.newID = next }
}

// Controller owns at most one running session.
type Controller struct {
	api          backend.API
	collectionID string
	machine      *session.Machine
	history      *reconcile.Reconciler
	selector     *view.Selector

	bufSize       int
	logger        *slog.Logger
	newID         func() string
	reconcileOpts []reconcile.Option

	mu     sync.Mutex
	active bool
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Controller for one collection.
func New(api backend.API, collectionID string, m *session.Machine, opts ...Option) *Controller {
	c := &Controller{
		api:          api,
		collectionID: collectionID,
		machine:      m,
		bufSize:      sse.DefaultBufferSize,
		logger:       slog.Default(),
		newID:        uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	rOpts := append([]reconcile.Option{reconcile.WithLogger(c.logger)}, c.reconcileOpts...)
	c.history = reconcile.New(api, collectionID, m, rOpts...)
	c.selector = view.NewSelector(m, c.history)
	return c
}

// Machine returns the session machine.
func (c *Controller) Machine() *session.Machine { return c.machine }

// Selector returns the view selector.
func (c *Controller) Selector() *view.Selector { return c.selector }

// Snapshot returns the current session state.
func (c *Controller) Snapshot() session.Snapshot { return c.machine.Snapshot() }

// Subscribe registers fn for every session state change.
func (c *Controller) Subscribe(fn func(session.Snapshot)) func() { return c.machine.Subscribe(fn) }

// View returns the transcript to render.
func (c *Controller) View() view.View { return c.selector.Active() }

// SelectRun pins the view to a historical run.
func (c *Controller) SelectRun(runID string) error { return c.selector.SelectRun(runID) }

// ClearSelection returns the view to the live session.
func (c *Controller) ClearSelection() { c.selector.Clear() }

// Runs returns the last fetched run history.
func (c *Controller) Runs() []models.TestRun { return c.history.Runs() }

// Collection returns the last fetched collection.
func (c *Controller) Collection() (models.Collection, bool) { return c.history.Collection() }

// Load fetches history and seeds the baseline before the first session.
func (c *Controller) Load(ctx context.Context) error {
	_, err := c.history.Load(ctx)
	return err
}

// Refresh re-runs reconciliation against the current session.
func (c *Controller) Refresh(ctx context.Context) error {
	if _, err := c.history.Load(ctx); err != nil {
		return err
	}
	c.selector.ResetAfterSession()
	return nil
}

// Start begins a new session and returns its generation. It returns
// session.ErrAlreadyRunning, without side effects, while one is active.
// The session runs until the stream ends, ctx is cancelled or Stop is
// called.
func (c *Controller) Start(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active {
		return 0, session.ErrAlreadyRunning
	}

	id := c.newID()
	gen, err := c.machine.Start(id)
	if err != nil {
		return 0, err
	}

	sctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.active, c.cancel, c.done = true, cancel, done

	c.logger.Info("session started", "session", id, "generation", gen, "collection", c.collectionID)
	go c.run(sctx, gen, done)
	return gen, nil
}

// Stop cancels the running session. The session ends in the cancelled
// phase; use Wait to block until it is finalized.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return session.ErrNotRunning
	}
	c.cancel()
	return nil
}

// Running reports whether a session is streaming.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Wait blocks until the most recently started session has finished,
// including its history reconciliation.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) run(ctx context.Context, gen uint64, done chan struct{}) {
	defer close(done)

	streamErr := c.stream(ctx, gen)
	phase := session.PhaseCompleted
	switch {
	case streamErr == nil:
	case ctx.Err() != nil:
		phase = session.PhaseCancelled
	default:
		phase = session.PhaseFailed
	}

	finalized := c.machine.Finalize(gen, phase, streamErr)

	c.mu.Lock()
	c.active = false
	c.cancel()
	c.mu.Unlock()

	snap := c.machine.Snapshot()
	c.logger.Info("session finished", "session", snap.SessionID, "phase", snap.Phase, "error", streamErr)

	if !finalized {
		return
	}
	// Reconciliation outlives cancellation of the session itself.
	if _, err := c.history.Reconcile(context.WithoutCancel(ctx), gen); err != nil {
		return
	}
	c.selector.ResetAfterSession()
}

// stream reads the session's events until the stream closes. It returns
// nil on a clean close and the transport or cancellation error otherwise.
func (c *Controller) stream(ctx context.Context, gen uint64) error {
	body, err := c.api.StartRun(ctx, c.collectionID)
	if err != nil {
		return err
	}
	defer body.Close() //nolint:errcheck

	for payload, err := range sse.Frames(ctx, body, c.bufSize) {
		if errors.Is(err, sse.ErrIncompleteFrame) {
			c.logger.Debug("dropping incomplete trailing frame", "generation", gen)
			continue
		}
		if err != nil {
			return err
		}

		ev, err := events.Parse(payload)
		if err != nil {
			c.logger.Debug("dropping frame", "error", err)
			continue
		}
		if ev == nil {
			continue
		}
		c.machine.Apply(gen, ev)
	}
	return nil
}
