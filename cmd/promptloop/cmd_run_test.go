package main

import (
	"bytes"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/spboyer/promptloop/internal/backend/backendtest"
	"github.com/spboyer/promptloop/internal/events"
	"github.com/spboyer/promptloop/internal/models"
	"github.com/spboyer/promptloop/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCollectionID = "col-1"

func score(v float64) *float64 { return &v }

func newFakeBackend(t *testing.T, runs ...models.TestRun) *backendtest.Server {
	t.Helper()
	srv := backendtest.New(models.Collection{
		ID:                     testCollectionID,
		Name:                   "Support bot",
		BaseSubjectInstruction: "You are a support agent.",
	}, runs...)
	t.Cleanup(srv.Close)
	return srv
}

func backendArgs(srv *backendtest.Server, extra ...string) []string {
	return append([]string{"--backend", srv.URL, "--collection", testCollectionID}, extra...)
}

func TestRunCommand_CompletedSession(t *testing.T) {
	srv := newFakeBackend(t)
	srv.Script = []backendtest.Step{
		{Event: events.Status{Content: "Agents ready"}},
		{Event: events.IterationStart{Iteration: 1, Prompt: "P1"}},
		{Event: events.Message{Role: models.RoleEvaluator, Content: "Hi"}},
		{Event: events.Result{Score: 92}},
		{Event: events.Done{Reason: "max_score"}},
	}
	srv.Persist = []models.TestRun{{ID: "r1", Iteration: 1, SubjectInstruction: "P1", Score: score(92)}}

	var out bytes.Buffer
	cmd := newRunCommand()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(backendArgs(srv, "--no-session-log"))

	require.NoError(t, cmd.Execute())

	got := out.String()
	for _, want := range []string{
		"[INFO] Starting optimization loop...",
		"[INFO] Agents ready",
		"[SYSTEM] >>> ITERATION 1 <<<",
		"[SUCCESS] RESULT: Score 92/100",
		"[SUCCESS] DONE: max_score",
		"[INFO] Loop finished.",
		"completed (max_score).",
		"Last score: 92.0/100",
		"1 runs recorded, best score 92.0",
	} {
		assert.Contains(t, got, want)
	}
	assert.NotContains(t, got, "Hi", "messages are not console lines")
}

func TestRunCommand_FailedSessionReturnsSessionFailedError(t *testing.T) {
	srv := newFakeBackend(t)
	srv.Script = []backendtest.Step{
		{Event: events.IterationStart{Iteration: 1, Prompt: "P1"}},
		{Abort: true},
	}

	var out bytes.Buffer
	cmd := newRunCommand()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(backendArgs(srv, "--no-session-log"))

	err := cmd.Execute()
	require.Error(t, err)
	var failed *SessionFailedError
	require.ErrorAs(t, err, &failed)
	assert.Contains(t, out.String(), "[CRITICAL] Critical error: ")
	assert.Contains(t, out.String(), "[INFO] Loop finished.")
}

func TestRunCommand_MissingCollection(t *testing.T) {
	cmd := newRunCommand()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"--backend", "http://127.0.0.1:1", "--no-session-log"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend.collection is required")
	var failed *SessionFailedError
	assert.False(t, errors.As(err, &failed))
}

func TestRunCommand_RecordsSessionLog(t *testing.T) {
	srv := newFakeBackend(t)
	srv.Script = []backendtest.Step{
		{Event: events.IterationStart{Iteration: 1, Prompt: "P1"}},
		{Event: events.Result{Score: 64}},
		{Event: events.Done{Reason: "max_iterations"}},
	}
	logDir := t.TempDir()

	cmd := newRunCommand()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(backendArgs(srv, "--log-dir", logDir))
	require.NoError(t, cmd.Execute())

	matches, err := filepath.Glob(filepath.Join(logDir, "*-session.jsonl"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	var list bytes.Buffer
	listCmd := newSessionListCommand()
	listCmd.SetOut(&list)
	listCmd.SetArgs([]string{"--dir", logDir})
	require.NoError(t, listCmd.Execute())
	assert.Contains(t, list.String(), filepath.Base(matches[0]))

	var timeline bytes.Buffer
	viewCmd := newSessionViewCommand()
	viewCmd.SetOut(&timeline)
	viewCmd.SetArgs([]string{matches[0]})
	require.NoError(t, viewCmd.Execute())
	assert.Contains(t, timeline.String(), "SESSION TIMELINE")
	assert.Contains(t, timeline.String(), "RESULT: Score 64/100")
	assert.Contains(t, timeline.String(), "Loop finished.")
}

func TestSessionListCommand_Empty(t *testing.T) {
	var out bytes.Buffer
	cmd := newSessionListCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--dir", t.TempDir()})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "No session logs found.")
}

func TestSessionViewCommand_MissingFile(t *testing.T) {
	cmd := newSessionViewCommand()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{filepath.Join(t.TempDir(), "nope.jsonl")})
	require.Error(t, cmd.Execute())
}

func TestProgress(t *testing.T) {
	assert.Equal(t, "Waiting for the first iteration", progress(snapshotAt(0, nil, true)))
	assert.Equal(t, "Iteration 3", progress(snapshotAt(3, nil, true)))
	assert.Equal(t, "Iteration 3 · last score 71.5", progress(snapshotAt(3, score(71.5), true)))
	assert.Equal(t, "Refreshing history", progress(snapshotAt(3, nil, false)))
}

func snapshotAt(iteration int, last *float64, looping bool) session.Snapshot {
	return session.Snapshot{CurrentIteration: iteration, LastScore: last, IsLooping: looping}
}
