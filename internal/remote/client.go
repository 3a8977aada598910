// Package remote is the client of the remote store's REST API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrUnauthorized is returned when the store rejects the bearer token.
var ErrUnauthorized = errors.New("remote: unauthorized")

// maxResponse caps how much of a response body is read.
const maxResponse = 32 << 20

// HTTPError is a non-success response from the store.
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote: %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("remote: %d %s", e.Status, e.Message)
}

// Config configures the client.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client talks to the remote store.
type Client struct {
	base   *url.URL
	token  string
	http   *http.Client
	logger *zap.Logger
}

// New creates a client for cfg.BaseURL.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		return nil, errors.New("remote: base url is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("remote: parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("remote: unsupported scheme %q", base.Scheme)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		base:   base,
		token:  cfg.Token,
		http:   &http.Client{Timeout: timeout},
		logger: logger.Named("remote"),
	}, nil
}

// envelope is the response wrapper used by every endpoint.
type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) endpoint(segments ...string) string {
	return c.base.JoinPath(segments...).String()
}

func (c *Client) getJSON(ctx context.Context, out any, segments ...string) error {
	return c.do(ctx, http.MethodGet, c.endpoint(segments...), nil, "", out)
}

func (c *Client) sendJSON(ctx context.Context, method string, payload, out any, segments ...string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	return c.do(ctx, method, c.endpoint(segments...), bytes.NewReader(body), "application/json", out)
}

func (c *Client) do(ctx context.Context, method, target string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponse))
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", method, req.URL.Path, err)
	}
	c.logger.Debug("request",
		zap.String("method", method),
		zap.String("path", req.URL.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)))

	return decode(resp.StatusCode, raw, out)
}

// decode unwraps a response. Bodies may be the {status, message, data}
// envelope or the bare payload.
func decode(status int, raw []byte, out any) error {
	trimmed := bytes.TrimSpace(raw)
	var env envelope
	isEnvelope := len(trimmed) > 0 && trimmed[0] == '{' && json.Unmarshal(trimmed, &env) == nil &&
		(env.Status != "" || env.Message != "" || env.Data != nil)

	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		if isEnvelope && env.Message != "" {
			return fmt.Errorf("%w: %s", ErrUnauthorized, env.Message)
		}
		return ErrUnauthorized
	}
	if status < 200 || status > 299 {
		msg := strings.TrimSpace(string(trimmed))
		if isEnvelope {
			msg = env.Message
		}
		return &HTTPError{Status: status, Message: msg}
	}
	if isEnvelope && env.Status == "error" {
		return &HTTPError{Status: status, Message: env.Message}
	}
	if out == nil {
		return nil
	}

	payload := trimmed
	if isEnvelope {
		payload = env.Data
	}
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
