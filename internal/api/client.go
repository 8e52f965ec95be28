// Package api is the client for the household REST backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dukerupert/cohabit/internal/metrics"
)

// ErrUnauthorized is returned for any 401 from the backend. By the time it
// is returned the stored token has been cleared and the unauthorized hook
// has run.
var ErrUnauthorized = errors.New("unauthorized")

// StatusError is a non-2xx, non-401 backend response.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend returned %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("backend returned %d", e.Status)
}

// TokenSource reads and clears the stored bearer token.
type TokenSource interface {
	Token() (string, error)
	ClearToken() error
}

type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client calls the backend with the stored bearer token. It never retries.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	logger     *slog.Logger
	metrics    *metrics.Metrics

	mu             sync.RWMutex
	onUnauthorized func()
}

func NewClient(cfg Config, tokens TokenSource, logger *slog.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		tokens: tokens,
		logger: logger.With("component", "api"),
	}
}

// SetMetrics attaches backend call counters.
func (c *Client) SetMetrics(m *metrics.Metrics) {
	c.metrics = m
}

// OnUnauthorized registers fn to run after any 401 response.
func (c *Client) OnUnauthorized(fn func()) {
	c.mu.Lock()
	c.onUnauthorized = fn
	c.mu.Unlock()
}

func (c *Client) handleUnauthorized() {
	if err := c.tokens.ClearToken(); err != nil {
		c.logger.Error("clear token after 401", "error", err)
	}
	c.mu.RLock()
	fn := c.onUnauthorized
	c.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

// do sends a JSON request. endpoint is the metrics label. out may be nil.
func (c *Client) do(ctx context.Context, method, path, endpoint string, body, out any) error {
	raw, err := c.send(ctx, method, path, endpoint, body)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}

// send performs the request and returns the raw 2xx body.
func (c *Client) send(ctx context.Context, method, path, endpoint string, body any) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal %s request: %w", endpoint, err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	token, err := c.tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("read token: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.BackendCall(endpoint, "transport")
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		c.metrics.BackendCall(endpoint, "transport")
		return nil, fmt.Errorf("read %s response: %w", endpoint, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		c.metrics.BackendCall(endpoint, "unauthorized")
		c.logger.Warn("backend rejected token", "method", method, "path", path)
		c.handleUnauthorized()
		return nil, ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		c.metrics.BackendCall(endpoint, "error")
		return nil, &StatusError{Status: resp.StatusCode, Message: errorMessage(raw)}
	}

	c.metrics.BackendCall(endpoint, "ok")
	return raw, nil
}

// errorMessage pulls a human-readable message out of an error body.
func errorMessage(raw []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	msg := strings.TrimSpace(string(raw))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
