package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spboyer/promptloop/internal/loop"
	"github.com/spboyer/promptloop/internal/models"
	"github.com/spboyer/promptloop/internal/session"
	"github.com/spboyer/promptloop/internal/spinner"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

func newRunCommand() *cobra.Command {
	var flags backendFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start an optimization session and follow it live",
		Long: `Start an optimization session for the configured collection and print
the session console as events arrive.

Press Ctrl-C to cancel the session. When the stream ends the run history is
refreshed and a summary is printed. The command exits with status 1 when the
session failed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSession(cmd, &flags)
		},
	}
	flags.register(cmd)

	return cmd
}

func runSession(cmd *cobra.Command, flags *backendFlags) error {
	cfg, err := flags.config()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessionID := uuid.NewString()
	audit, err := openAuditLog(cfg, sessionID)
	if err != nil {
		return err
	}
	defer audit.Close() //nolint:errcheck

	ctrl := newController(cfg, audit, loop.WithSessionIDs(func() string { return sessionID }))

	out := cmd.OutOrStdout()
	con := console{color: isTerminal(out)}
	var sp *spinner.Spinner
	if con.color {
		sp = spinner.Start(out, "Connecting to "+cfg.Backend.URL)
		defer sp.Stop()
	}
	emit := func(s string) {
		if sp != nil {
			sp.Print(s + "\n")
			return
		}
		fmt.Fprintln(out, s) //nolint:errcheck
	}

	printed := 0
	unsubscribe := ctrl.Subscribe(func(snap session.Snapshot) {
		if printed > len(snap.Logs) {
			printed = 0
		}
		for _, line := range snap.Logs[printed:] {
			emit(con.format(line))
		}
		printed = len(snap.Logs)
		if sp != nil {
			sp.Update(progress(snap))
		}
	})
	defer unsubscribe()

	if err := ctrl.Load(ctx); err != nil {
		slog.Warn("initial history load failed", "error", err)
	}

	if _, err := ctrl.Start(ctx); err != nil {
		return fmt.Errorf("starting session: %w", err)
	}
	if err := ctrl.Wait(context.Background()); err != nil {
		return err
	}
	if sp != nil {
		sp.Stop()
	}

	snap := ctrl.Snapshot()
	printSummary(out, snap, ctrl.Runs())
	if snap.Phase == session.PhaseFailed {
		return &SessionFailedError{Message: fmt.Sprintf("session %s failed", shortID(snap.SessionID))}
	}
	return nil
}

func progress(snap session.Snapshot) string {
	if !snap.IsLooping {
		return "Refreshing history"
	}
	if snap.CurrentIteration == 0 {
		return "Waiting for the first iteration"
	}
	if snap.LastScore != nil {
		return fmt.Sprintf("Iteration %d · last score %g", snap.CurrentIteration, *snap.LastScore)
	}
	return fmt.Sprintf("Iteration %d", snap.CurrentIteration)
}

func printSummary(w io.Writer, snap session.Snapshot, runs []models.TestRun) {
	p := message.NewPrinter(language.English)
	p.Fprintf(w, "\nSession %s %s", shortID(snap.SessionID), snap.Phase) //nolint:errcheck
	if snap.EndReason != "" {
		p.Fprintf(w, " (%s)", snap.EndReason) //nolint:errcheck
	}
	p.Fprintln(w, ".") //nolint:errcheck
	if snap.LastScore != nil {
		p.Fprintf(w, "Last score: %.1f/100\n", *snap.LastScore) //nolint:errcheck
	}
	p.Fprintf(w, "%d runs recorded, best score %.1f\n", len(runs), models.BestScore(runs)) //nolint:errcheck
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
