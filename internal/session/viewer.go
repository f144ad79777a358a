package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// LogFile represents a session log file on disk.
type LogFile struct {
	Path     string
	Name     string
	Size     int64
	ModTime  time.Time
	NumLines int
}

// ListLogs finds session log files in dir, newest first.
func ListLogs(dir string) ([]LogFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading session directory: %w", err)
	}

	var files []LogFile
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), logSuffix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}

		path := filepath.Join(dir, e.Name())
		n, _ := countLines(path) //nolint:errcheck
		files = append(files, LogFile{
			Path:     path,
			Name:     e.Name(),
			Size:     info.Size(),
			ModTime:  info.ModTime(),
			NumLines: n,
		})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].ModTime.After(files[j].ModTime)
	})
	return files, nil
}

func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close() //nolint:errcheck
	n := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		n++
	}
	return n, scanner.Err()
}

// ReadLog parses all console lines from a session log file. Malformed lines
// are skipped.
func ReadLog(path string) ([]LogLine, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening session file: %w", err)
	}
	defer f.Close() //nolint:errcheck

	var lines []LogLine
	scanner := bufio.NewScanner(f)
	// Prompts can be long.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var l LogLine
		if err := json.Unmarshal(scanner.Bytes(), &l); err != nil || l.Level == "" {
			continue
		}
		lines = append(lines, l)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading session file: %w", err)
	}
	return lines, nil
}

var levelIcons = map[Level]string{
	LevelInfo:     "·",
	LevelSystem:   "▶",
	LevelSuccess:  "✓",
	LevelWarning:  "!",
	LevelError:    "✗",
	LevelCritical: "❌",
}

// RenderTimeline writes a human-readable replay of lines to w, with the time
// elapsed since the first line. Sessions are separated by a rule.
//
//nolint:errcheck // display-only writes; errors are not actionable
func RenderTimeline(w io.Writer, lines []LogLine) {
	if len(lines) == 0 {
		fmt.Fprintln(w, "No log lines found.")
		return
	}

	fmt.Fprintln(w, "═══════════════════════════════════════════════════════")
	fmt.Fprintln(w, " SESSION TIMELINE")
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════")

	start := lines[0].Time
	session := ""
	for i, l := range lines {
		if i == 0 || l.SessionID != session {
			session = l.SessionID
			label := session
			if label == "" {
				label = "(no session id)"
			}
			fmt.Fprintf(w, "\n── session %s\n", label)
		}
		icon, ok := levelIcons[l.Level]
		if !ok {
			icon = "?"
		}
		fmt.Fprintf(w, "[%s] %s %s\n", formatDuration(l.Time.Sub(start)), icon, l.Text)
	}
	fmt.Fprintln(w)
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%6dms", d.Milliseconds())
	}
	return fmt.Sprintf("%6.1fs", d.Seconds())
}
