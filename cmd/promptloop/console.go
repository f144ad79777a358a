package main

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spboyer/promptloop/internal/session"
	"golang.org/x/term"
)

var levelColors = map[session.Level]lipgloss.Color{
	session.LevelInfo:     lipgloss.Color("7"),
	session.LevelSystem:   lipgloss.Color("12"),
	session.LevelSuccess:  lipgloss.Color("10"),
	session.LevelWarning:  lipgloss.Color("11"),
	session.LevelError:    lipgloss.Color("9"),
	session.LevelCritical: lipgloss.Color("13"),
}

var timeStyle = lipgloss.NewStyle().Faint(true)

// console formats session log lines for a terminal.
type console struct {
	color bool
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (c console) format(line session.LogLine) string {
	if !c.color {
		return line.String()
	}
	style := lipgloss.NewStyle().Foreground(levelColors[line.Level])
	if line.Level == session.LevelCritical || line.Level == session.LevelSystem {
		style = style.Bold(true)
	}
	ts := timeStyle.Render("[" + line.Time.Format("15:04:05") + "]")
	body := "[" + strings.ToUpper(string(line.Level)) + "] " + line.Text
	return ts + " " + style.Render(body)
}
