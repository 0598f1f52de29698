// Package peer provides a resilient HTTP client for calling sibling services.
// A Client owns a pooled transport shared by concurrent calls and converts
// every failure mode into an Outcome value instead of a returned error.
package peer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/c360studio/storechat/metrics"
)

const (
	// DefaultTimeout bounds each attempt.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxRetries is the number of retries after the first attempt.
	DefaultMaxRetries = 3

	// maxResponseSize limits response bodies to prevent memory exhaustion.
	maxResponseSize = 10 * 1024 * 1024 // 10MB
)

// Client calls one peer service rooted at a fixed base URL.
type Client struct {
	name       string
	baseURL    string
	timeout    time.Duration
	maxRetries int
	headers    http.Header
	httpClient *http.Client
	sleep      Sleeper
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// Option configures a Client.
type Option func(*Client)

// WithName labels the client in logs and metrics.
func WithName(name string) Option {
	return func(c *Client) {
		c.name = name
	}
}

// WithTimeout sets the per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMaxRetries sets how many times a retryable failure is retried.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithHeader adds a header sent on every request.
func WithHeader(key, value string) Option {
	return func(c *Client) {
		c.headers.Set(key, value)
	}
}

// WithHeaders adds every header in h.
func WithHeaders(h http.Header) Option {
	return func(c *Client) {
		for k, vs := range h {
			for _, v := range vs {
				c.headers.Add(k, v)
			}
		}
	}
}

// WithHTTPClient replaces the pooled HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithSleeper replaces the backoff sleeper.
func WithSleeper(s Sleeper) Option {
	return func(c *Client) {
		c.sleep = s
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithMetrics records call outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// New creates a client for the service at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		name:       "peer",
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		timeout:    DefaultTimeout,
		maxRetries: DefaultMaxRetries,
		headers:    make(http.Header),
		sleep:      sleepContext,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxConnsPerHost:     10,
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     30 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
			Timeout: c.timeout,
		}
	}

	return c
}

// BaseURL returns the address every path is resolved against.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Post sends body as JSON to path.
func (c *Client) Post(ctx context.Context, path string, body any) Outcome {
	return c.Call(ctx, http.MethodPost, path, body)
}

// Get requests path with the given query parameters.
func (c *Client) Get(ctx context.Context, path string, query url.Values) Outcome {
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	return c.Call(ctx, http.MethodGet, path, nil)
}

// Call issues method on path, retrying 5xx responses and transport errors
// with exponential backoff. It always returns exactly one terminal Outcome.
func (c *Client) Call(ctx context.Context, method, path string, body any) Outcome {
	if method != http.MethodGet && method != http.MethodPost {
		return c.finish(failed(http.StatusBadRequest, fmt.Sprintf("unsupported method %s", method), 0))
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return c.finish(failed(http.StatusBadRequest, fmt.Sprintf("encode request body: %v", err), 0))
		}
	}

	target := c.baseURL + path
	attempts := c.maxRetries + 1
	var lastErr error

	c.logger.Debug("Calling peer service", "service", c.name, "method", method, "url", target)

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := Backoff(attempt - 1)
			c.logger.Info("Retrying peer call",
				"service", c.name,
				"attempt", attempt+1,
				"max_attempts", attempts,
				"backoff", delay)
			if err := c.sleep(ctx, delay); err != nil {
				return c.finish(cancelled(err, attempt))
			}
		}

		resp, err := c.do(ctx, method, target, payload)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return c.finish(cancelled(ctxErr, attempt+1))
			}
			lastErr = err
			c.logger.Warn("Peer request failed",
				"service", c.name,
				"attempt", attempt+1,
				"error", err)
			continue
		}

		if resp.status >= 200 && resp.status < 300 {
			if !json.Valid(resp.body) {
				return c.finish(failed(http.StatusBadGateway, "invalid JSON response from peer", attempt+1))
			}
			return c.finish(Outcome{Payload: resp.body, Attempts: attempt + 1})
		}

		message := errorMessage(resp)
		c.logger.Warn("Peer returned error status",
			"service", c.name,
			"attempt", attempt+1,
			"status", resp.status,
			"error", message)

		if resp.status >= 500 && attempt < attempts-1 {
			continue
		}
		return c.finish(failed(resp.status, message, attempt+1))
	}

	return c.finish(failed(http.StatusServiceUnavailable,
		fmt.Sprintf("service unavailable after %d attempts: %v", attempts, lastErr), attempts))
}

type rawResponse struct {
	status     int
	statusText string
	body       []byte
}

// do executes a single attempt and reads the whole body.
func (c *Client) do(ctx context.Context, method, target string, payload []byte) (*rawResponse, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, vs := range c.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if len(body) > maxResponseSize {
		return nil, fmt.Errorf("response body exceeds %d bytes", maxResponseSize)
	}

	return &rawResponse{status: resp.StatusCode, statusText: resp.Status, body: body}, nil
}

func (c *Client) finish(o Outcome) Outcome {
	c.metrics.ObservePeerCall(c.name, outcomeLabel(o), o.Attempts)
	return o
}

func cancelled(err error, attempts int) Outcome {
	return failed(StatusClientClosed, fmt.Sprintf("request cancelled: %v", err), attempts)
}

// errorMessage prefers a structured error field in the body over the
// status line.
func errorMessage(resp *rawResponse) string {
	var body map[string]any
	if err := json.Unmarshal(resp.body, &body); err == nil {
		for _, key := range []string{"detail", "error", "message"} {
			if s, ok := body[key].(string); ok && s != "" {
				return s
			}
		}
	}
	if resp.statusText != "" {
		return resp.statusText
	}
	return fmt.Sprintf("%d %s", resp.status, http.StatusText(resp.status))
}

func outcomeLabel(o Outcome) string {
	switch {
	case o.Failure == nil:
		return "success"
	case o.Failure.StatusCode == StatusClientClosed:
		return "cancelled"
	case o.Failure.Unavailable():
		return "unavailable"
	default:
		return "rejected"
	}
}

// IsFailure reports whether err is a peer Failure and returns it.
func IsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}
