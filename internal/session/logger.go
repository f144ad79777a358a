package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const logSuffix = "-session.jsonl"

// Logger receives every console line of a session.
type Logger interface {
	Log(line LogLine) error
	Close() error
}

// JSONLogger writes console lines as newline-delimited JSON (NDJSON).
type JSONLogger struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
	path string
}

// NewJSONLogger creates a logger that appends NDJSON to the given path.
// Parent directories are created automatically.
func NewJSONLogger(path string) (*JSONLogger, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating session log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening session log: %w", err)
	}

	return &JSONLogger{
		file: f,
		enc:  json.NewEncoder(f),
		path: path,
	}, nil
}

// Log writes a single line as one JSON object.
func (l *JSONLogger) Log(line LogLine) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enc.Encode(line)
}

// Close closes the underlying file.
func (l *JSONLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// Path returns the file path of the session log.
func (l *JSONLogger) Path() string {
	return l.path
}

// NopLogger discards all lines. It is the default when logging is disabled.
type NopLogger struct{}

// Log is a no-op.
func (NopLogger) Log(LogLine) error { return nil }

// Close is a no-op.
func (NopLogger) Close() error { return nil }

// DefaultLogPath returns a timestamped session log path inside dir. The
// first eight characters of sessionID, when present, keep logs of sessions
// started in the same second apart.
func DefaultLogPath(dir, sessionID string) string {
	ts := time.Now().UTC().Format("20060102T150405Z")
	if len(sessionID) > 8 {
		sessionID = sessionID[:8]
	}
	if sessionID != "" {
		ts += "-" + sessionID
	}
	return filepath.Join(dir, ts+logSuffix)
}
