package webapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/spboyer/promptloop/internal/session"
	"github.com/spboyer/promptloop/internal/view"
)

// Version is set at build time or defaults to dev.
var Version = "0.1.0-dev"

// Handlers holds the HTTP handler methods for the web API.
type Handlers struct {
	dash Dashboard
}

// NewHandlers creates a new Handlers over the given dashboard.
func NewHandlers(dash Dashboard) *Handlers {
	return &Handlers{dash: dash}
}

// HandleHealth returns a simple health check response.
func (h *Handlers) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: Version,
	})
}

// HandleSession returns the current session snapshot.
func (h *Handlers) HandleSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.dash.Snapshot())
}

// HandleStart starts a session. The session outlives the request.
func (h *Handlers) HandleStart(w http.ResponseWriter, r *http.Request) {
	gen, err := h.dash.Start(context.WithoutCancel(r.Context()))
	if err != nil {
		if errors.Is(err, session.ErrAlreadyRunning) {
			writeError(w, http.StatusConflict, "a session is already running")
		} else {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusAccepted, StartResponse{
		SessionID:  h.dash.Snapshot().SessionID,
		Generation: gen,
	})
}

// HandleStop cancels the running session.
func (h *Handlers) HandleStop(w http.ResponseWriter, _ *http.Request) {
	if err := h.dash.Stop(); err != nil {
		if errors.Is(err, session.ErrNotRunning) {
			writeError(w, http.StatusConflict, "no session is running")
		} else {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusAccepted, h.dash.Snapshot())
}

// HandleRuns returns the run history, most recent first.
func (h *Handlers) HandleRuns(w http.ResponseWriter, _ *http.Request) {
	col, _ := h.dash.Collection()
	writeJSON(w, http.StatusOK, toRunsResponse(col, h.dash.Runs()))
}

// HandleRefresh re-reads run history from the backend.
func (h *Handlers) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := h.dash.Refresh(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	col, _ := h.dash.Collection()
	writeJSON(w, http.StatusOK, toRunsResponse(col, h.dash.Runs()))
}

// HandleView returns the active transcript view.
func (h *Handlers) HandleView(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.dash.View())
}

// HandleSelectView pins the view to a historical run.
func (h *Handlers) HandleSelectView(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "run id is required")
		return
	}
	if err := h.dash.SelectRun(id); err != nil {
		if errors.Is(err, view.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
		} else {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, h.dash.View())
}

// HandleClearView returns the view to the live session.
func (h *Handlers) HandleClearView(w http.ResponseWriter, _ *http.Request) {
	h.dash.ClearSelection()
	writeJSON(w, http.StatusOK, h.dash.View())
}

// RegisterRoutes registers all web API routes on the given mux.
func RegisterRoutes(mux *http.ServeMux, dash Dashboard) {
	h := NewHandlers(dash)
	mux.HandleFunc("GET /api/health", h.HandleHealth)
	mux.HandleFunc("GET /api/session", h.HandleSession)
	mux.HandleFunc("GET /api/session/stream", h.HandleStream)
	mux.HandleFunc("POST /api/session/start", h.HandleStart)
	mux.HandleFunc("POST /api/session/stop", h.HandleStop)
	mux.HandleFunc("GET /api/runs", h.HandleRuns)
	mux.HandleFunc("POST /api/refresh", h.HandleRefresh)
	mux.HandleFunc("GET /api/view", h.HandleView)
	mux.HandleFunc("PUT /api/view/{id}", h.HandleSelectView)
	mux.HandleFunc("DELETE /api/view", h.HandleClearView)
}

// CORSMiddleware wraps a handler with CORS headers.
// If allowedOrigins is empty, no CORS header is set (same-origin only).
// Otherwise, the request Origin is checked against the allowed list.
func CORSMiddleware(next http.Handler, allowedOrigins ...string) http.Handler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if len(allowedOrigins) > 0 && origin != "" && allowed[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, ErrorResponse{Error: msg, Code: code})
}
