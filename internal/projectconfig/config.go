// Package projectconfig provides the ProjectConfig struct and loader for
// .promptloop.yaml project-level configuration files.
package projectconfig

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spboyer/promptloop/internal/validation"
	"gopkg.in/yaml.v3"
)

// FileName is the project configuration file looked up by Load.
const FileName = ".promptloop.yaml"

//go:embed config.schema.json
var schemaJSON []byte

var configSchema = validation.MustCompile("config.schema.json", schemaJSON)

// Default values for project configuration. New() references them and no
// other code should duplicate them.
const (
	DefaultBackendURL     = "http://127.0.0.1:8000"
	DefaultBackendTimeout = 30

	DefaultBufferSize = 4096

	DefaultScoreThreshold = 90
	DefaultLogDir         = ".promptloop/sessions"

	DefaultReconcileAttempts  = 3
	DefaultReconcileBackoffMS = 200

	DefaultServerPort = 3100
)

// BackendConfig points at the optimization backend.
type BackendConfig struct {
	URL        string `yaml:"url,omitempty"`
	Collection string `yaml:"collection,omitempty"`
	// Timeout bounds collection and run reads, in seconds. Run streams are
	// not bounded.
	Timeout int `yaml:"timeout,omitempty"`
}

// StreamConfig holds run stream settings.
type StreamConfig struct {
	BufferSize int `yaml:"buffer_size,omitempty"`
}

// SessionConfig holds session console settings.
type SessionConfig struct {
	ScoreThreshold float64 `yaml:"score_threshold,omitempty"`
	LogDir         string  `yaml:"log_dir,omitempty"`
	LogEnabled     *bool   `yaml:"log_enabled,omitempty"`
}

// ReconcileConfig holds history refresh retry settings.
type ReconcileConfig struct {
	Attempts  int `yaml:"attempts,omitempty"`
	BackoffMS int `yaml:"backoff_ms,omitempty"`
}

// ServerConfig holds dashboard API settings.
type ServerConfig struct {
	Port           int      `yaml:"port,omitempty"`
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`
}

// ProjectConfig is the top-level configuration loaded from .promptloop.yaml.
type ProjectConfig struct {
	Backend   BackendConfig   `yaml:"backend,omitempty"`
	Stream    StreamConfig    `yaml:"stream,omitempty"`
	Session   SessionConfig   `yaml:"session,omitempty"`
	Reconcile ReconcileConfig `yaml:"reconcile,omitempty"`
	Server    ServerConfig    `yaml:"server,omitempty"`
}

// New returns a ProjectConfig with all hard-coded defaults populated.
func New() *ProjectConfig {
	return &ProjectConfig{
		Backend: BackendConfig{
			URL:     DefaultBackendURL,
			Timeout: DefaultBackendTimeout,
		},
		Stream: StreamConfig{
			BufferSize: DefaultBufferSize,
		},
		Session: SessionConfig{
			ScoreThreshold: DefaultScoreThreshold,
			LogDir:         DefaultLogDir,
			LogEnabled:     boolPtr(true),
		},
		Reconcile: ReconcileConfig{
			Attempts:  DefaultReconcileAttempts,
			BackoffMS: DefaultReconcileBackoffMS,
		},
		Server: ServerConfig{
			Port: DefaultServerPort,
		},
	}
}

// BackendTimeout returns Backend.Timeout as a duration.
func (c *ProjectConfig) BackendTimeout() time.Duration {
	return time.Duration(c.Backend.Timeout) * time.Second
}

// ReconcileBackoff returns Reconcile.BackoffMS as a duration.
func (c *ProjectConfig) ReconcileBackoff() time.Duration {
	return time.Duration(c.Reconcile.BackoffMS) * time.Millisecond
}

// LogEnabled reports whether session console logs are written to disk.
func (c *ProjectConfig) LogEnabled() bool {
	return c.Session.LogEnabled == nil || *c.Session.LogEnabled
}

// Validate reports settings that cannot be used to reach a backend.
func (c *ProjectConfig) Validate() error {
	var errs []error
	if c.Backend.URL == "" {
		errs = append(errs, errors.New("backend.url is required"))
	}
	if c.Backend.Collection == "" {
		errs = append(errs, errors.New("backend.collection is required"))
	}
	if c.Stream.BufferSize < 0 {
		errs = append(errs, fmt.Errorf("stream.buffer_size must be positive, got %d", c.Stream.BufferSize))
	}
	if c.Reconcile.Attempts < 0 {
		errs = append(errs, fmt.Errorf("reconcile.attempts must be positive, got %d", c.Reconcile.Attempts))
	}
	return errors.Join(errs...)
}

// Load finds .promptloop.yaml by walking up from startDir (max 10 levels),
// unmarshals and validates it, and fills in missing fields with defaults.
// If no config file is found, returns defaults with a nil error.
// Real I/O errors (e.g. permission denied) are returned to the caller.
func Load(startDir string) (*ProjectConfig, error) {
	cfg := New()

	data, err := findConfigFile(startDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil // no file found → return defaults
		}
		return nil, fmt.Errorf("loading %s: %w", FileName, err)
	}

	var fileCfg ProjectConfig
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", FileName, err)
	}
	if errs := validation.ValidateYAML(configSchema, data); len(errs) > 0 {
		return nil, fmt.Errorf("validating %s: %s", FileName, strings.Join(errs, "; "))
	}

	mergeConfig(cfg, &fileCfg)
	return cfg, nil
}

// findConfigFile walks up from dir looking for .promptloop.yaml (max 10
// levels). Returns os.ErrNotExist if no config file is found.
func findConfigFile(dir string) ([]byte, error) {
	// Convert to absolute path so filepath.Dir(".") walks correctly.
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving path %q: %w", dir, err)
	}
	dir = absDir

	for range 10 {
		p := filepath.Join(dir, FileName)
		data, err := os.ReadFile(p)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reading %q: %w", p, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break // reached filesystem root
		}
		dir = parent
	}
	return nil, os.ErrNotExist
}

// mergeConfig overlays non-zero values from src onto dst.
func mergeConfig(dst, src *ProjectConfig) {
	// Backend
	if src.Backend.URL != "" {
		dst.Backend.URL = src.Backend.URL
	}
	if src.Backend.Collection != "" {
		dst.Backend.Collection = src.Backend.Collection
	}
	if src.Backend.Timeout != 0 {
		dst.Backend.Timeout = src.Backend.Timeout
	}

	// Stream
	if src.Stream.BufferSize != 0 {
		dst.Stream.BufferSize = src.Stream.BufferSize
	}

	// Session
	if src.Session.ScoreThreshold != 0 {
		dst.Session.ScoreThreshold = src.Session.ScoreThreshold
	}
	if src.Session.LogDir != "" {
		dst.Session.LogDir = src.Session.LogDir
	}
	if src.Session.LogEnabled != nil {
		dst.Session.LogEnabled = src.Session.LogEnabled
	}

	// Reconcile
	if src.Reconcile.Attempts != 0 {
		dst.Reconcile.Attempts = src.Reconcile.Attempts
	}
	if src.Reconcile.BackoffMS != 0 {
		dst.Reconcile.BackoffMS = src.Reconcile.BackoffMS
	}

	// Server
	if src.Server.Port != 0 {
		dst.Server.Port = src.Server.Port
	}
	if src.Server.AllowedOrigins != nil {
		dst.Server.AllowedOrigins = src.Server.AllowedOrigins
	}
}

func boolPtr(b bool) *bool {
	return &b
}
