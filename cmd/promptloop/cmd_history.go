package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-runewidth"
	"github.com/spboyer/promptloop/internal/metrics"
	"github.com/spboyer/promptloop/internal/models"
	"github.com/spboyer/promptloop/internal/session"
	"github.com/spboyer/promptloop/internal/view"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const instructionWidth = 48

// pickRun is a test hook for replacing the interactive run selector.
// It returns the chosen run ID.
var pickRun = defaultPickRun

func defaultPickRun(in io.Reader, out io.Writer, runs []models.TestRun) (string, error) {
	f, ok := in.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return "", errors.New("--pick needs an interactive terminal; pass a run ID instead")
	}

	options := make([]huh.Option[string], 0, len(runs))
	for _, r := range runs {
		label := fmt.Sprintf("#%d  %s  %s", r.Iteration, formatScore(r.Score),
			runewidth.Truncate(oneLine(r.SubjectInstruction), instructionWidth, "…"))
		options = append(options, huh.NewOption(label, r.ID))
	}

	var id string
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Select a run").
				Options(options...).
				Value(&id),
		),
	).WithInput(in).WithOutput(out).Run()
	if err != nil {
		return "", err
	}
	return id, nil
}

func newHistoryCommand() *cobra.Command {
	var (
		flags backendFlags
		pick  bool
		limit int
	)

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List persisted runs or show one run's transcript",
		Long: `List the collection's persisted runs, most recent first.

With a run ID, or with --pick to choose one interactively, print that run's
instruction, score and transcript instead.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.noLog = true
			cfg, err := flags.config()
			if err != nil {
				return err
			}
			ctrl := newController(cfg, session.NopLogger{})
			if err := ctrl.Load(cmd.Context()); err != nil {
				return fmt.Errorf("loading history: %w", err)
			}

			runs := models.MostRecentFirst(ctrl.Runs())
			out := cmd.OutOrStdout()

			var id string
			switch {
			case len(args) == 1:
				id = args[0]
			case pick:
				if len(runs) == 0 {
					fmt.Fprintln(out, "No runs recorded yet.") //nolint:errcheck
					return nil
				}
				if id, err = pickRun(cmd.InOrStdin(), out, runs); err != nil {
					return err
				}
			default:
				if limit > 0 && len(runs) > limit {
					runs = runs[:limit]
				}
				col, _ := ctrl.Collection()
				printHistory(out, col, runs, ctrl.Runs())
				return nil
			}

			if err := ctrl.SelectRun(id); err != nil {
				if errors.Is(err, view.ErrRunNotFound) {
					return fmt.Errorf("no run %q in collection %s", id, cfg.Backend.Collection)
				}
				return err
			}
			printTranscript(out, ctrl.View())
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&pick, "pick", false, "Choose a run interactively")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Show at most n runs")

	return cmd
}

// printHistory renders runs as a table. The footer summarizes all runs, not
// only the ones shown.
func printHistory(w io.Writer, col models.Collection, runs, all []models.TestRun) {
	p := message.NewPrinter(language.English)
	if col.Name != "" {
		p.Fprintf(w, "%s\n\n", col.Name) //nolint:errcheck
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded yet.") //nolint:errcheck
		return
	}

	fmt.Fprintf(w, "%s %s %s %s %s\n", //nolint:errcheck
		padRight("Iter", 5), padRight("Score", 7), padRight("Band", 7), padRight("Created", 17), "Instruction")
	fmt.Fprintln(w, strings.Repeat("─", 5+7+7+17+instructionWidth+4)) //nolint:errcheck
	for _, r := range runs {
		created := "-"
		if r.CreatedAt != nil {
			created = r.CreatedAt.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s %s %s %s %s\n", //nolint:errcheck
			padRight(fmt.Sprintf("#%d", r.Iteration), 5),
			padRight(formatScore(r.Score), 7),
			padRight(string(r.ScoreBand()), 7),
			padRight(created, 17),
			runewidth.Truncate(oneLine(r.SubjectInstruction), instructionWidth, "…"))
	}
	stats := metrics.SummarizeScores(all)
	p.Fprintf(w, "\n%d of %d runs, best score %.1f\n", len(runs), len(all), stats.Best) //nolint:errcheck
	if stats.Scored > 1 {
		fmt.Fprintf(w, "Mean %.1f ± %.1f over %d scored runs, gain %+.0f%% since the first run\n", //nolint:errcheck
			stats.Mean, stats.StdDev, stats.Scored, stats.Gain*100)
	}
}

func printTranscript(w io.Writer, v view.View) {
	fmt.Fprintf(w, "Run %s · iteration %d · score %s\n\n", v.RunID, v.Iteration, formatScore(v.Score)) //nolint:errcheck
	fmt.Fprintf(w, "Instruction:\n%s\n\n", indent(v.Prompt)) //nolint:errcheck
	if len(v.Transcript) == 0 {
		fmt.Fprintln(w, "(no transcript)") //nolint:errcheck
		return
	}
	roleWidth := 0
	for _, m := range v.Transcript {
		roleWidth = max(roleWidth, runewidth.StringWidth(m.Role))
	}
	for _, m := range v.Transcript {
		fmt.Fprintf(w, "%s  %s\n", padRight(m.Role, roleWidth), m.Content) //nolint:errcheck
	}
}

func formatScore(score *float64) string {
	if score == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f", *score)
}

// padRight pads s with spaces so its terminal display width reaches width.
func padRight(s string, width int) string {
	sw := runewidth.StringWidth(s)
	if sw >= width {
		return s
	}
	return s + strings.Repeat(" ", width-sw)
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func indent(s string) string {
	return "  " + strings.ReplaceAll(strings.TrimSpace(s), "\n", "\n  ")
}
