// Package backendtest provides an in-process optimization backend for tests.
package backendtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/spboyer/promptloop/internal/events"
	"github.com/spboyer/promptloop/internal/models"
)

// Step is one scripted action of a run stream.
type Step struct {
	// Event is encoded as a frame when set.
	Event events.Event
	// Raw is written verbatim when Event is nil.
	Raw string
	// Wait blocks the stream until it is closed or the client goes away.
	Wait <-chan struct{}
	// Abort drops the connection without finishing the response.
	Abort bool
}

// Server is a fake backend. Exported fields may be changed between
// requests; use Lock/Unlock when a stream may be running.
type Server struct {
	*httptest.Server

	mu sync.Mutex
	// Collection is served for every collection ID.
	Collection models.Collection
	// Runs is returned by the runs endpoint.
	Runs []models.TestRun
	// Script drives the next POST .../run.
	Script []Step
	// Persist is appended to Runs when a scripted stream finishes.
	Persist []models.TestRun
	// FailReads makes the next n collection/runs reads return 500.
	FailReads int
	// RunStatus, when non-zero, is returned instead of opening the stream.
	RunStatus int

	runCalls  int
	readCalls int
}

// New starts a fake backend serving col.
func New(col models.Collection, runs ...models.TestRun) *Server {
	s := &Server{Collection: col, Runs: runs}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/collections/{id}", s.handleCollection)
	mux.HandleFunc("GET /api/collections/{id}/runs", s.handleRuns)
	mux.HandleFunc("POST /api/collections/{id}/run", s.handleRun)
	s.Server = httptest.NewServer(mux)
	return s
}

// Lock guards the exported fields.
func (s *Server) Lock() { s.mu.Lock() }

// Unlock releases Lock.
func (s *Server) Unlock() { s.mu.Unlock() }

// RunCalls reports how many streams were requested.
func (s *Server) RunCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runCalls
}

// ReadCalls reports how many collection/runs reads were served.
func (s *Server) ReadCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readCalls
}

func (s *Server) failRead(w http.ResponseWriter) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readCalls++
	if s.FailReads > 0 {
		s.FailReads--
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return true
	}
	return false
}

func (s *Server) handleCollection(w http.ResponseWriter, r *http.Request) {
	if s.failRead(w) {
		return
	}
	s.mu.Lock()
	col := s.Collection
	s.mu.Unlock()
	if col.ID != "" && col.ID != r.PathValue("id") {
		http.Error(w, "collection not found", http.StatusNotFound)
		return
	}
	writeJSON(w, col)
}

func (s *Server) handleRuns(w http.ResponseWriter, _ *http.Request) {
	if s.failRead(w) {
		return
	}
	s.mu.Lock()
	runs := append([]models.TestRun{}, s.Runs...)
	s.mu.Unlock()
	writeJSON(w, runs)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.runCalls++
	script := s.Script
	status := s.RunStatus
	s.mu.Unlock()

	if status != 0 {
		http.Error(w, "loop could not start", status)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher) //nolint:errcheck
	if flusher != nil {
		flusher.Flush()
	}

	for _, step := range script {
		if step.Wait != nil {
			select {
			case <-step.Wait:
			case <-r.Context().Done():
				return
			}
		}
		if step.Abort {
			abort(w)
			return
		}

		frame := step.Raw
		if step.Event != nil {
			var err error
			if frame, err = events.Encode(step.Event); err != nil {
				panic(err)
			}
		}
		if _, err := w.Write([]byte(frame)); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	s.mu.Lock()
	s.Runs = append(s.Runs, s.Persist...)
	s.Persist = nil
	s.mu.Unlock()
}

// abort closes the underlying connection mid-response.
func abort(w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		panic(http.ErrAbortHandler)
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		panic(http.ErrAbortHandler)
	}
	conn.Close() //nolint:errcheck
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
