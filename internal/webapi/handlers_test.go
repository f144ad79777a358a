package webapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/spboyer/promptloop/internal/models"
	"github.com/spboyer/promptloop/internal/session"
	"github.com/spboyer/promptloop/internal/view"
)

// mockDashboard implements Dashboard for testing.
type mockDashboard struct {
	mu         sync.Mutex
	snap       session.Snapshot
	col        models.Collection
	runs       []models.TestRun
	selected   string
	refreshErr error
	refreshed  int
	observers  map[int]func(session.Snapshot)
	nextObs    int
}

func newMockDashboard() *mockDashboard {
	return &mockDashboard{
		snap:      session.Snapshot{Phase: session.PhaseIdle, CurrentPrompt: "base"},
		col:       models.Collection{ID: "c1", Name: "Support bot"},
		observers: make(map[int]func(session.Snapshot)),
	}
}

func (m *mockDashboard) update(fn func(*session.Snapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.snap)
	for _, o := range m.observers {
		o(m.snap)
	}
}

func (m *mockDashboard) Snapshot() session.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

func (m *mockDashboard) Subscribe(fn func(session.Snapshot)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextObs
	m.nextObs++
	m.observers[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.observers, id)
	}
}

func (m *mockDashboard) subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.observers)
}

func (m *mockDashboard) Start(context.Context) (uint64, error) {
	if m.Snapshot().IsLooping {
		return 0, session.ErrAlreadyRunning
	}
	var gen uint64
	m.update(func(s *session.Snapshot) {
		s.Generation++
		s.SessionID = fmt.Sprintf("s-%d", s.Generation)
		s.Phase = session.PhaseRunning
		s.IsLooping = true
		gen = s.Generation
	})
	return gen, nil
}

func (m *mockDashboard) Stop() error {
	if !m.Snapshot().IsLooping {
		return session.ErrNotRunning
	}
	m.update(func(s *session.Snapshot) {
		s.Phase = session.PhaseCancelled
		s.IsLooping = false
	})
	return nil
}

func (m *mockDashboard) Refresh(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshed++
	return m.refreshErr
}

func (m *mockDashboard) Runs() []models.TestRun {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs
}

func (m *mockDashboard) Collection() (models.Collection, bool) {
	return m.col, m.col.ID != ""
}

func (m *mockDashboard) View() view.View {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.selected != "" {
		return view.View{Mode: view.ModeHistorical, RunID: m.selected}
	}
	return view.View{Mode: view.ModeLive, Prompt: m.snap.CurrentPrompt}
}

func (m *mockDashboard) SelectRun(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := models.FindRun(m.runs, id); !ok {
		return fmt.Errorf("%w: %s", view.ErrRunNotFound, id)
	}
	m.selected = id
	return nil
}

func (m *mockDashboard) ClearSelection() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selected = ""
}

func score(v float64) *float64 { return &v }

func serve(t *testing.T, dash Dashboard, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	RegisterRoutes(mux, dash)
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestHandleHealth(t *testing.T) {
	h := NewHandlers(newMockDashboard())

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()

	h.HandleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "ok" {
		t.Errorf("expected status ok, got %q", resp.Status)
	}
	if resp.Version == "" {
		t.Error("expected non-empty version")
	}
}

func TestHandleSession(t *testing.T) {
	dash := newMockDashboard()
	rec := serve(t, dash, http.MethodGet, "/api/session")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var snap session.Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
	if snap.Phase != session.PhaseIdle {
		t.Errorf("expected idle phase, got %q", snap.Phase)
	}
	if snap.CurrentPrompt != "base" {
		t.Errorf("expected prompt base, got %q", snap.CurrentPrompt)
	}
}

func TestHandleStart(t *testing.T) {
	dash := newMockDashboard()

	rec := serve(t, dash, http.MethodPost, "/api/session/start")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	var resp StartResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Generation != 1 || resp.SessionID != "s-1" {
		t.Errorf("unexpected start response %+v", resp)
	}

	rec = serve(t, dash, http.MethodPost, "/api/session/start")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for second start, got %d", rec.Code)
	}
	if e := decodeError(t, rec); e.Code != http.StatusConflict {
		t.Errorf("expected error code 409, got %d", e.Code)
	}
	if got := dash.Snapshot().Generation; got != 1 {
		t.Errorf("rejected start changed generation to %d", got)
	}
}

func TestHandleStop(t *testing.T) {
	dash := newMockDashboard()

	rec := serve(t, dash, http.MethodPost, "/api/session/stop")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 when idle, got %d", rec.Code)
	}

	if _, err := dash.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	rec = serve(t, dash, http.MethodPost, "/api/session/stop")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	var snap session.Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
	if snap.Phase != session.PhaseCancelled {
		t.Errorf("expected cancelled, got %q", snap.Phase)
	}
}

func TestHandleRuns(t *testing.T) {
	dash := newMockDashboard()
	dash.runs = []models.TestRun{
		{ID: "r1", Iteration: 1, Status: models.RunStatusCompleted, Score: score(64), SubjectInstruction: "P1"},
		{ID: "r2", Iteration: 2, Status: models.RunStatusCompleted, Score: score(93), SubjectInstruction: "P2",
			Transcript: []models.Message{{Role: models.RoleUser, Content: "hi"}}},
		{ID: "r3", Iteration: 3, Status: models.RunStatusCompleted, Score: score(78), SubjectInstruction: "P3"},
	}

	rec := serve(t, dash, http.MethodGet, "/api/runs")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp RunsResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 3 || len(resp.Runs) != 3 {
		t.Fatalf("expected 3 runs, got total=%d len=%d", resp.Total, len(resp.Runs))
	}
	if resp.Runs[0].ID != "r3" || resp.Runs[2].ID != "r1" {
		t.Errorf("expected most recent first, got %s..%s", resp.Runs[0].ID, resp.Runs[2].ID)
	}
	if resp.BestScore != 93 {
		t.Errorf("expected best score 93, got %v", resp.BestScore)
	}
	if resp.Runs[1].Band != string(models.ScoreBandHigh) {
		t.Errorf("expected high band for r2, got %q", resp.Runs[1].Band)
	}
	if resp.Runs[1].MessageCount != 1 {
		t.Errorf("expected 1 message for r2, got %d", resp.Runs[1].MessageCount)
	}
	if resp.CollectionName != "Support bot" {
		t.Errorf("expected collection name, got %q", resp.CollectionName)
	}
	if resp.Stats.Scored != 3 || resp.Stats.First != 64 || resp.Stats.Last != 78 {
		t.Errorf("unexpected stats %+v", resp.Stats)
	}
}

func TestHandleRunsEmpty(t *testing.T) {
	rec := serve(t, newMockDashboard(), http.MethodGet, "/api/runs")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp RunsResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Runs == nil || len(resp.Runs) != 0 {
		t.Errorf("expected empty non-nil runs, got %v", resp.Runs)
	}
}

func TestHandleRefresh(t *testing.T) {
	dash := newMockDashboard()
	rec := serve(t, dash, http.MethodPost, "/api/refresh")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	dash.refreshErr = errors.New("GET /runs: HTTP 503")
	rec = serve(t, dash, http.MethodPost, "/api/refresh")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	if e := decodeError(t, rec); e.Error != "GET /runs: HTTP 503" {
		t.Errorf("unexpected error message %q", e.Error)
	}
	if dash.refreshed != 2 {
		t.Errorf("expected 2 refreshes, got %d", dash.refreshed)
	}
}

func TestHandleViewSelection(t *testing.T) {
	dash := newMockDashboard()
	dash.runs = []models.TestRun{{ID: "r1"}}

	rec := serve(t, dash, http.MethodGet, "/api/view")
	var v view.View
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatal(err)
	}
	if v.Mode != view.ModeLive {
		t.Errorf("expected live mode, got %q", v.Mode)
	}

	rec = serve(t, dash, http.MethodPut, "/api/view/missing")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	rec = serve(t, dash, http.MethodPut, "/api/view/r1")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatal(err)
	}
	if v.Mode != view.ModeHistorical || v.RunID != "r1" {
		t.Errorf("expected historical r1, got %+v", v)
	}

	rec = serve(t, dash, http.MethodDelete, "/api/view")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatal(err)
	}
	if v.Mode != view.ModeLive {
		t.Errorf("expected live mode after clear, got %q", v.Mode)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	rec := serve(t, newMockDashboard(), http.MethodGet, "/api/session/start")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestCORSMiddleware(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	t.Run("no origins configured means no CORS header", func(t *testing.T) {
		handler := CORSMiddleware(inner)
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		req.Header.Set("Origin", "http://evil.com")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Header().Get("Access-Control-Allow-Origin") != "" {
			t.Error("expected no CORS header when no origins configured")
		}
		if rec.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rec.Code)
		}
	})

	t.Run("allowed origin gets CORS header", func(t *testing.T) {
		handler := CORSMiddleware(inner, "http://localhost:3000")
		req := httptest.NewRequest(http.MethodPost, "/api/session/start", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
			t.Error("expected CORS header for allowed origin")
		}
		if rec.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rec.Code)
		}
	})

	t.Run("disallowed origin gets no CORS header", func(t *testing.T) {
		handler := CORSMiddleware(inner, "http://localhost:3000")
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		req.Header.Set("Origin", "http://evil.com")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Header().Get("Access-Control-Allow-Origin") != "" {
			t.Error("expected no CORS header for disallowed origin")
		}
	})

	t.Run("OPTIONS preflight", func(t *testing.T) {
		handler := CORSMiddleware(inner, "http://localhost:3000")
		req := httptest.NewRequest(http.MethodOptions, "/api/view/r1", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusNoContent {
			t.Errorf("expected 204 for OPTIONS, got %d", rec.Code)
		}
	})
}
