package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spboyer/promptloop/internal/webserver"
	"github.com/spf13/cobra"
)

func newServeCommand() *cobra.Command {
	var (
		flags backendFlags
		port  int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the dashboard API",
		Long: `Serve the dashboard REST API on the loopback interface.

The API lets a front end start and stop sessions, follow the session state
as server-sent events, list persisted runs and switch the transcript view
between the live session and a historical run.

Routes:
  GET    /api/health
  GET    /api/session
  GET    /api/session/stream
  POST   /api/session/start
  POST   /api/session/stop
  GET    /api/runs
  POST   /api/refresh
  GET    /api/view
  PUT    /api/view/{id}
  DELETE /api/view`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.config()
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Server.Port = port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			// One console log per server process; lines carry their session ID.
			audit, err := openAuditLog(cfg, uuid.NewString())
			if err != nil {
				return err
			}
			defer audit.Close() //nolint:errcheck

			ctrl := newController(cfg, audit)
			if err := ctrl.Load(ctx); err != nil {
				slog.Warn("initial history load failed", "error", err)
			}

			srv, err := webserver.New(webserver.Config{
				Port:           cfg.Server.Port,
				AllowedOrigins: cfg.Server.AllowedOrigins,
				Dashboard:      ctrl,
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "promptloop dashboard API: http://127.0.0.1:%d/api\n", cfg.Server.Port) //nolint:errcheck
			if err := srv.ListenAndServe(ctx); err != nil {
				return err
			}

			if ctrl.Running() {
				_ = ctrl.Stop()
			}
			return ctrl.Wait(cmd.Context())
		},
	}
	flags.register(cmd)
	cmd.Flags().IntVar(&port, "port", 0, "Port to listen on (default from .promptloop.yaml)")

	return cmd
}
