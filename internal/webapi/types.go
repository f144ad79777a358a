package webapi

import (
	"time"

	"github.com/spboyer/promptloop/internal/metrics"
)

// RunSummary is the API response for a single persisted run.
type RunSummary struct {
	ID                 string     `json:"id"`
	Iteration          int        `json:"iteration"`
	Status             string     `json:"status"`
	Score              *float64   `json:"score,omitempty"`
	Band               string     `json:"band"`
	SubjectInstruction string     `json:"subjectInstruction"`
	Recommendation     string     `json:"recommendation,omitempty"`
	MessageCount       int        `json:"messageCount"`
	CreatedAt          *time.Time `json:"createdAt,omitempty"`
}

// RunsResponse lists the collection's runs, most recent first.
type RunsResponse struct {
	CollectionID   string       `json:"collectionId,omitempty"`
	CollectionName string       `json:"collectionName,omitempty"`
	Runs           []RunSummary `json:"runs"`
	BestScore      float64      `json:"bestScore"`
	Total          int          `json:"total"`

	Stats metrics.ScoreSummary `json:"stats"`
}

// StartResponse is returned when a session was started.
type StartResponse struct {
	SessionID  string `json:"sessionId"`
	Generation uint64 `json:"generation"`
}

// HealthResponse is the health check response.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ErrorResponse is returned for errors.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}
