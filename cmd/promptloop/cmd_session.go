package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spboyer/promptloop/internal/projectconfig"
	"github.com/spboyer/promptloop/internal/session"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

func newSessionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "View recorded session consoles",
		Long: `View recorded session consoles.

Session logs are NDJSON files written by run and serve unless
--no-session-log is given or session.log_enabled is false. Every console line
of a session is recorded: iterations, scores, errors and the closing line.`,
	}

	cmd.AddCommand(newSessionListCommand())
	cmd.AddCommand(newSessionViewCommand())

	return cmd
}

func newSessionListCommand() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded session logs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				cfg, err := projectconfig.Load(".")
				if err != nil {
					return err
				}
				dir = cfg.Session.LogDir
			}
			absDir, err := filepath.Abs(dir)
			if err != nil {
				return err
			}

			files, err := session.ListLogs(absDir)
			if err != nil {
				return fmt.Errorf("listing sessions: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(files) == 0 {
				fmt.Fprintln(out, "No session logs found.") //nolint:errcheck
				return nil
			}

			p := message.NewPrinter(language.English)
			p.Fprintf(out, "%-48s %-8s %s\n%s\n", "File", "Lines", "Modified", strings.Repeat("─", 76)) //nolint:errcheck
			for _, f := range files {
				p.Fprintf(out, "%-48s %-8d %s\n", f.Name, f.NumLines, f.ModTime.Format("2006-01-02 15:04:05")) //nolint:errcheck
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "Directory to search for session logs (default session.log_dir)")

	return cmd
}

func newSessionViewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "view <session-file>",
		Short: "View a session timeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lines, err := session.ReadLog(args[0])
			if err != nil {
				return fmt.Errorf("reading session: %w", err)
			}

			session.RenderTimeline(cmd.OutOrStdout(), lines)
			return nil
		},
	}

	return cmd
}
