package session

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spboyer/promptloop/internal/models"
)

// Phase is the lifecycle position of the current session.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseRunning   Phase = "running"
	PhaseCompleted Phase = "completed"
	PhaseFailed    Phase = "failed"
	PhaseCancelled Phase = "cancelled"
)

// Terminal reports whether p ends a session.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed || p == PhaseCancelled
}

// Level is the severity of a console line.
type Level string

const (
	LevelInfo     Level = "info"
	LevelSystem   Level = "system"
	LevelSuccess  Level = "success"
	LevelWarning  Level = "warning"
	LevelError    Level = "error"
	LevelCritical Level = "critical"
)

// LogLine is one timestamped entry of the session console.
type LogLine struct {
	Time      time.Time `json:"timestamp"`
	Level     Level     `json:"level"`
	Text      string    `json:"text"`
	SessionID string    `json:"session_id,omitempty"`
}

// String renders the line the way the console shows it.
func (l LogLine) String() string {
	return fmt.Sprintf("[%s] [%s] %s", l.Time.Format("15:04:05"), strings.ToUpper(string(l.Level)), l.Text)
}

// Snapshot is an immutable copy of the session state. Slices in a
// Snapshot are never shared with the machine.
type Snapshot struct {
	SessionID        string           `json:"sessionId,omitempty"`
	Generation       uint64           `json:"generation"`
	Phase            Phase            `json:"phase"`
	IsLooping        bool             `json:"isLooping"`
	CurrentIteration int              `json:"currentIteration"`
	CurrentPrompt    string           `json:"currentPrompt"`
	Logs             []LogLine        `json:"logs"`
	LiveMessages     []models.Message `json:"liveMessages"`
	LastScore        *float64         `json:"lastScore,omitempty"`
	EndReason        string           `json:"endReason,omitempty"`
}

func (s Snapshot) clone() Snapshot {
	c := s
	c.Logs = slices.Clone(s.Logs)
	c.LiveMessages = slices.Clone(s.LiveMessages)
	if s.LastScore != nil {
		v := *s.LastScore
		c.LastScore = &v
	}
	return c
}
