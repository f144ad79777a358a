// Package reconcile refreshes durable run history after a session ends and
// rebases the session baseline on it.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/spboyer/promptloop/internal/backend"
	"github.com/spboyer/promptloop/internal/models"
	"github.com/spboyer/promptloop/internal/session"
	"golang.org/x/sync/errgroup"
)

// Retry defaults for the idempotent history reads.
const (
	DefaultAttempts = 3
	DefaultBackoff  = 200 * time.Millisecond
)

// Result is the outcome of one reconciliation.
type Result struct {
	Collection models.Collection
	Runs       []models.TestRun
	Prompt     string
	Iteration  int
	// Applied is false when the session moved on before the fetch finished
	// and the baseline was left untouched.
	Applied bool
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithRetry sets the number of attempts per read and the initial backoff.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(r *Reconciler) {
		if attempts > 0 {
			r.attempts = attempts
		}
		if backoff > 0 {
			r.backoff = backoff
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = l }
}

// Reconciler fetches the collection and its runs and rebases the machine.
// It keeps the last successfully fetched history for readers.
type Reconciler struct {
	api          backend.API
	collectionID string
	machine      *session.Machine
	attempts     int
	backoff      time.Duration
	logger       *slog.Logger

	mu         sync.RWMutex
	collection *models.Collection
	runs       []models.TestRun
}

// New creates a Reconciler for one collection.
func New(api backend.API, collectionID string, machine *session.Machine, opts ...Option) *Reconciler {
	r := &Reconciler{
		api:          api,
		collectionID: collectionID,
		machine:      machine,
		attempts:     DefaultAttempts,
		backoff:      DefaultBackoff,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load performs the initial fetch against the machine's current generation.
func (r *Reconciler) Load(ctx context.Context) (Result, error) {
	return r.Reconcile(ctx, r.machine.Generation())
}

// Reconcile fetches history and rebases the session identified by gen. On
// failure the error is written to the session console, the last known
// values are kept, and the error is returned.
func (r *Reconciler) Reconcile(ctx context.Context, gen uint64) (Result, error) {
	var (
		col  *models.Collection
		runs []models.TestRun
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.withRetry(gctx, func(ctx context.Context) error {
			var err error
			col, err = r.api.GetCollection(ctx, r.collectionID)
			return err
		})
	})
	g.Go(func() error {
		return r.withRetry(gctx, func(ctx context.Context) error {
			var err error
			runs, err = r.api.ListRuns(ctx, r.collectionID)
			return err
		})
	})
	if err := g.Wait(); err != nil {
		r.logger.Warn("history refresh failed", "collection", r.collectionID, "error", err)
		r.machine.Note(session.LevelError, "History refresh failed: "+err.Error())
		return Result{}, fmt.Errorf("reconciling collection %s: %w", r.collectionID, err)
	}

	r.mu.Lock()
	r.collection = col
	r.runs = runs
	r.mu.Unlock()

	prompt, iteration := Baseline(*col, runs)
	applied := r.machine.Rebase(gen, prompt, iteration)
	if !applied {
		r.logger.Debug("session moved on, baseline left untouched",
			"generation", gen, "current", r.machine.Generation())
	}

	return Result{
		Collection: *col,
		Runs:       slices.Clone(runs),
		Prompt:     prompt,
		Iteration:  iteration,
		Applied:    applied,
	}, nil
}

// Runs returns the last fetched runs in delivery order.
func (r *Reconciler) Runs() []models.TestRun {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.runs)
}

// Collection returns the last fetched collection.
func (r *Reconciler) Collection() (models.Collection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.collection == nil {
		return models.Collection{}, false
	}
	return *r.collection, true
}

// Baseline returns the prompt and iteration the dashboard shows when no
// session is streaming: the latest persisted run's instruction with the run
// count as iteration, or the collection's base instruction at iteration 0
// when there are no runs.
func Baseline(col models.Collection, runs []models.TestRun) (string, int) {
	last, ok := models.Latest(runs)
	if !ok {
		return col.BaseSubjectInstruction, 0
	}
	return last.SubjectInstruction, len(runs)
}

func (r *Reconciler) withRetry(ctx context.Context, fn retry.RetryFunc) error {
	b := retry.WithMaxRetries(uint64(r.attempts-1), retry.NewExponential(r.backoff))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil && retryable(ctx, err) {
			r.logger.Debug("retrying history read", "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
}

// retryable reports whether err may go away on a second attempt: transport
// failures and 429/5xx responses. Cancellation and 4xx are final.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return false
	}
	var se *backend.StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return true
}
