package main

import (
	"fmt"
	"log/slog"

	"github.com/spboyer/promptloop/internal/backend"
	"github.com/spboyer/promptloop/internal/loop"
	"github.com/spboyer/promptloop/internal/projectconfig"
	"github.com/spboyer/promptloop/internal/reconcile"
	"github.com/spboyer/promptloop/internal/session"
	"github.com/spf13/cobra"
)

// backendFlags are the connection flags shared by commands that talk to
// the backend. Set flags override .promptloop.yaml.
type backendFlags struct {
	url        string
	collection string
	logDir     string
	noLog      bool
}

func (f *backendFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.url, "backend", "", "Backend base URL (default from .promptloop.yaml)")
	cmd.Flags().StringVarP(&f.collection, "collection", "c", "", "Collection ID (default from .promptloop.yaml)")
	cmd.Flags().StringVar(&f.logDir, "log-dir", "", "Directory for session console logs")
	cmd.Flags().BoolVar(&f.noLog, "no-session-log", false, "Do not record the session console to disk")
}

// config loads .promptloop.yaml from the working directory and applies
// the flags on top.
func (f *backendFlags) config() (*projectconfig.ProjectConfig, error) {
	cfg, err := projectconfig.Load(".")
	if err != nil {
		return nil, err
	}
	if f.url != "" {
		cfg.Backend.URL = f.url
	}
	if f.collection != "" {
		cfg.Backend.Collection = f.collection
	}
	if f.logDir != "" {
		cfg.Session.LogDir = f.logDir
	}
	if f.noLog {
		disabled := false
		cfg.Session.LogEnabled = &disabled
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// openAuditLog returns the on-disk session console log, or a NopLogger
// when logging is disabled.
func openAuditLog(cfg *projectconfig.ProjectConfig, sessionID string) (session.Logger, error) {
	if !cfg.LogEnabled() {
		return session.NopLogger{}, nil
	}
	l, err := session.NewJSONLogger(session.DefaultLogPath(cfg.Session.LogDir, sessionID))
	if err != nil {
		return nil, err
	}
	slog.Debug("recording session console", "path", l.Path())
	return l, nil
}

// newController wires the backend client, session machine and reconciler
// from cfg.
func newController(cfg *projectconfig.ProjectConfig, audit session.Logger, opts ...loop.Option) *loop.Controller {
	client := backend.NewClient(cfg.Backend.URL,
		backend.WithReadTimeout(cfg.BackendTimeout()),
	)
	machine := session.NewMachine(
		session.WithScoreThreshold(cfg.Session.ScoreThreshold),
		session.WithAuditLog(audit),
	)
	opts = append([]loop.Option{
		loop.WithBufferSize(cfg.Stream.BufferSize),
		loop.WithReconcileOptions(reconcile.WithRetry(cfg.Reconcile.Attempts, cfg.ReconcileBackoff())),
	}, opts...)
	return loop.New(client, cfg.Backend.Collection, machine, opts...)
}
