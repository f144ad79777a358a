package projectconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNew_ReturnsAllDefaults(t *testing.T) {
	cfg := New()

	// Backend
	assertEqual(t, "Backend.URL", "http://127.0.0.1:8000", cfg.Backend.URL)
	assertEqual(t, "Backend.Collection", "", cfg.Backend.Collection)
	assertEqualInt(t, "Backend.Timeout", 30, cfg.Backend.Timeout)

	// Stream
	assertEqualInt(t, "Stream.BufferSize", 4096, cfg.Stream.BufferSize)

	// Session
	if cfg.Session.ScoreThreshold != 90 {
		t.Errorf("Session.ScoreThreshold = %v, want 90", cfg.Session.ScoreThreshold)
	}
	assertEqual(t, "Session.LogDir", ".promptloop/sessions", cfg.Session.LogDir)
	assertBoolPtr(t, "Session.LogEnabled", true, cfg.Session.LogEnabled)

	// Reconcile
	assertEqualInt(t, "Reconcile.Attempts", 3, cfg.Reconcile.Attempts)
	assertEqualInt(t, "Reconcile.BackoffMS", 200, cfg.Reconcile.BackoffMS)

	// Server
	assertEqualInt(t, "Server.Port", 3100, cfg.Server.Port)
	if cfg.Server.AllowedOrigins != nil {
		t.Error("Server.AllowedOrigins should be nil by default")
	}
}

func TestLoad_FullConfig(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, FileName, `
backend:
  url: "http://optimizer.internal:9000"
  collection: col-42
  timeout: 5
stream:
  buffer_size: 512
session:
  score_threshold: 75
  log_dir: logs
  log_enabled: false
reconcile:
  attempts: 5
  backoff_ms: 50
server:
  port: 8080
  allowed_origins:
    - http://localhost:3000
    - https://dash.example.com
`)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	assertEqual(t, "Backend.URL", "http://optimizer.internal:9000", cfg.Backend.URL)
	assertEqual(t, "Backend.Collection", "col-42", cfg.Backend.Collection)
	assertEqualInt(t, "Backend.Timeout", 5, cfg.Backend.Timeout)
	assertEqualInt(t, "Stream.BufferSize", 512, cfg.Stream.BufferSize)
	if cfg.Session.ScoreThreshold != 75 {
		t.Errorf("Session.ScoreThreshold = %v, want 75", cfg.Session.ScoreThreshold)
	}
	assertEqual(t, "Session.LogDir", "logs", cfg.Session.LogDir)
	assertBoolPtr(t, "Session.LogEnabled", false, cfg.Session.LogEnabled)
	assertEqualInt(t, "Reconcile.Attempts", 5, cfg.Reconcile.Attempts)
	assertEqualInt(t, "Reconcile.BackoffMS", 50, cfg.Reconcile.BackoffMS)
	assertEqualInt(t, "Server.Port", 8080, cfg.Server.Port)
	if len(cfg.Server.AllowedOrigins) != 2 || cfg.Server.AllowedOrigins[1] != "https://dash.example.com" {
		t.Errorf("Server.AllowedOrigins = %v", cfg.Server.AllowedOrigins)
	}

	if got := cfg.BackendTimeout(); got != 5*time.Second {
		t.Errorf("BackendTimeout() = %v, want 5s", got)
	}
	if got := cfg.ReconcileBackoff(); got != 50*time.Millisecond {
		t.Errorf("ReconcileBackoff() = %v, want 50ms", got)
	}
	if cfg.LogEnabled() {
		t.Error("LogEnabled() = true, want false")
	}
}

func TestLoad_PartialConfig(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, FileName, `
backend:
  collection: col-7
`)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	assertEqual(t, "Backend.Collection", "col-7", cfg.Backend.Collection)
	// Everything else keeps its default.
	assertEqual(t, "Backend.URL", DefaultBackendURL, cfg.Backend.URL)
	assertEqualInt(t, "Stream.BufferSize", DefaultBufferSize, cfg.Stream.BufferSize)
	assertEqualInt(t, "Server.Port", DefaultServerPort, cfg.Server.Port)
	assertBoolPtr(t, "Session.LogEnabled", true, cfg.Session.LogEnabled)
}

func TestLoad_MissingFile_ReturnsDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	assertEqual(t, "Backend.URL", DefaultBackendURL, cfg.Backend.URL)
	assertEqualInt(t, "Reconcile.Attempts", DefaultReconcileAttempts, cfg.Reconcile.Attempts)
}

func TestLoad_InvalidYAML_ReturnsError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, FileName, "backend: [unclosed")

	_, err := Load(dir)
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
	if !strings.Contains(err.Error(), "parsing .promptloop.yaml") {
		t.Errorf("error = %q, want parsing context", err)
	}
}

func TestLoad_WalksUpDirectories(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, FileName, "backend:\n  collection: from-root\n")

	nested := filepath.Join(root, "a", "b", "c")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(nested)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	assertEqual(t, "Backend.Collection", "from-root", cfg.Backend.Collection)
}

func TestValidate(t *testing.T) {
	cfg := New()
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "backend.collection is required") {
		t.Fatalf("Validate() = %v, want missing collection", err)
	}

	cfg.Backend.Collection = "col-1"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}

	cfg.Backend.URL = ""
	cfg.Reconcile.Attempts = -1
	err = cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"backend.url", "reconcile.attempts"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate() = %q, want mention of %s", err, want)
		}
	}
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func assertEqual(t *testing.T, field, want, got string) {
	t.Helper()
	if got != want {
		t.Errorf("%s = %q, want %q", field, got, want)
	}
}

func assertEqualInt(t *testing.T, field string, want, got int) {
	t.Helper()
	if got != want {
		t.Errorf("%s = %d, want %d", field, got, want)
	}
}

func assertBoolPtr(t *testing.T, field string, want bool, got *bool) {
	t.Helper()
	if got == nil {
		t.Errorf("%s is nil, want *%v", field, want)
		return
	}
	if *got != want {
		t.Errorf("%s = %v, want %v", field, *got, want)
	}
}

func TestLoad_UnknownKey_ReturnsError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, FileName, "backend:\n  collection: col-1\n  colection: typo\n")

	_, err := Load(dir)
	if err == nil {
		t.Fatal("expected error for unknown key")
	}
	if !strings.Contains(err.Error(), "validating .promptloop.yaml") || !strings.Contains(err.Error(), "colection") {
		t.Errorf("error = %q, want schema violation naming the key", err)
	}
}

func TestLoad_OutOfRange_ReturnsError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, FileName, "session:\n  score_threshold: 150\nserver:\n  port: 70000\n")

	_, err := Load(dir)
	if err == nil {
		t.Fatal("expected error for out of range values")
	}
	for _, want := range []string{"/session/score_threshold", "/server/port"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error = %q, want mention of %s", err, want)
		}
	}
}

func TestLoad_EmptyFile_ReturnsDefaults(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, FileName, "")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	assertEqual(t, "Backend.URL", DefaultBackendURL, cfg.Backend.URL)
}
