// Package backend talks to the optimization backend: it opens the run
// stream and reads collections and their persisted runs.
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"github.com/spboyer/promptloop/internal/models"
)

//go:generate go tool mockgen -source=client.go -destination=backendmock/mock_api.go -package=backendmock

// API is the subset of the backend the session client depends on.
type API interface {
	// GetCollection returns one collection by ID.
	GetCollection(ctx context.Context, id string) (*models.Collection, error)
	// ListRuns returns the collection's runs ordered by iteration ascending.
	ListRuns(ctx context.Context, collectionID string) ([]models.TestRun, error)
	// StartRun starts an optimization loop and returns its event stream.
	// The caller must close the returned body.
	StartRun(ctx context.Context, collectionID string) (io.ReadCloser, error)
}

// StatusError is returned when the backend answers with an unexpected status.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: HTTP %d", e.Method, e.URL, e.Code)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Temporary reports whether retrying the request may succeed.
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 4 << 10

// DefaultTimeout bounds collection and run reads.
const DefaultTimeout = 30 * time.Second

// Client is an HTTP implementation of API.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	readTimeout time.Duration
	logger      *slog.Logger
}

var _ API = (*Client)(nil)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.httpClient = c }
}

// WithReadTimeout bounds GetCollection and ListRuns. The run stream is only
// bounded by its context since it stays open for the whole session.
func WithReadTimeout(d time.Duration) ClientOption {
	return func(cl *Client) { cl.readTimeout = d }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(cl *Client) { cl.logger = l }
}

// NewClient creates a client for the backend at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Transport: gzhttp.Transport(http.DefaultTransport),
		},
		readTimeout: DefaultTimeout,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetCollection implements API.
func (c *Client) GetCollection(ctx context.Context, id string) (*models.Collection, error) {
	var col models.Collection
	if err := c.getJSON(ctx, c.collectionURL(id, ""), &col); err != nil {
		return nil, fmt.Errorf("fetching collection %s: %w", id, err)
	}
	return &col, nil
}

// ListRuns implements API.
func (c *Client) ListRuns(ctx context.Context, collectionID string) ([]models.TestRun, error) {
	var runs []models.TestRun
	if err := c.getJSON(ctx, c.collectionURL(collectionID, "runs"), &runs); err != nil {
		return nil, fmt.Errorf("fetching runs of collection %s: %w", collectionID, err)
	}
	return runs, nil
}

// StartRun implements API.
func (c *Client) StartRun(ctx context.Context, collectionID string) (io.ReadCloser, error) {
	u := c.collectionURL(collectionID, "run")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	c.logger.Debug("opening run stream", "url", u)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to open run stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close() //nolint:errcheck
		return nil, statusError(req, resp)
	}
	return resp.Body, nil
}

func (c *Client) getJSON(ctx context.Context, u string, out any) error {
	if c.readTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.readTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return statusError(req, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (c *Client) collectionURL(id, suffix string) string {
	u := c.baseURL + "/api/collections/" + url.PathEscape(id)
	if suffix != "" {
		u += "/" + suffix
	}
	return u
}

func statusError(req *http.Request, resp *http.Response) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody)) //nolint:errcheck
	return &StatusError{
		Method: req.Method,
		URL:    req.URL.String(),
		Code:   resp.StatusCode,
		Body:   strings.TrimSpace(string(body)),
	}
}
