// Package llm provides a provider-agnostic chat completion client. Requests
// travel over a peer.Client so LLM calls share the pooled transport, the
// backoff policy and the call metrics of every other outbound call.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/c360studio/storechat/metrics"
	"github.com/c360studio/storechat/peer"
)

// Chat roles understood by every provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request defines an LLM completion request.
type Request struct {
	// Messages is the chat history to send to the LLM.
	Messages []Message

	// Temperature controls randomness. nil uses the endpoint default, 0 is deterministic.
	Temperature *float64

	// MaxTokens limits response length. 0 uses the provider default.
	MaxTokens int
}

// TokenUsage represents token consumption details for an LLM call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response contains the LLM completion result.
type Response struct {
	Content      string
	Model        string
	Usage        TokenUsage
	FinishReason string
}

// Completer is satisfied by anything that can answer a chat completion.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// EndpointConfig identifies the model endpoint a Client talks to.
type EndpointConfig struct {
	// Provider is a registered provider name ("openai", "ollama", "anthropic").
	Provider string

	// URL overrides the provider's default base URL.
	URL string

	// Model is the model identifier sent with each request.
	Model string

	// Temperature is used when a Request leaves Temperature nil.
	Temperature *float64

	// Timeout bounds a single completion round trip.
	Timeout time.Duration
}

// ErrEmptyRequest is returned when a request carries no messages.
var ErrEmptyRequest = errors.New("at least one message is required")

// Client sends completions to a single configured endpoint.
type Client struct {
	endpoint EndpointConfig
	provider Provider
	peer     *peer.Client
	logger   *slog.Logger

	retries    int
	httpClient *http.Client
	sleeper    peer.Sleeper
	metrics    *metrics.Metrics
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithRetries allows transient endpoint failures to be retried n times.
func WithRetries(n int) ClientOption {
	return func(client *Client) {
		client.retries = n
	}
}

// WithSleeper replaces the backoff sleeper used between retries.
func WithSleeper(s peer.Sleeper) ClientOption {
	return func(client *Client) {
		client.sleeper = s
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(client *Client) {
		client.logger = logger
	}
}

// WithMetrics records completion calls under the "llm" service label.
func WithMetrics(m *metrics.Metrics) ClientOption {
	return func(client *Client) {
		client.metrics = m
	}
}

// NewClient creates a client for ep. The provider must be registered.
func NewClient(ep EndpointConfig, opts ...ClientOption) (*Client, error) {
	provider := GetProvider(ep.Provider)
	if provider == nil {
		return nil, NewFatalError(fmt.Errorf("unknown provider: %s", ep.Provider))
	}
	if ep.Model == "" {
		return nil, NewFatalError(fmt.Errorf("model is required for provider %s", ep.Provider))
	}
	if ep.Timeout <= 0 {
		ep.Timeout = peer.DefaultTimeout
	}

	c := &Client{
		endpoint: ep,
		provider: provider,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	peerOpts := []peer.Option{
		peer.WithName("llm"),
		peer.WithTimeout(ep.Timeout),
		peer.WithMaxRetries(c.retries),
		peer.WithHeaders(provider.Headers()),
		peer.WithLogger(c.logger),
		peer.WithMetrics(c.metrics),
	}
	if c.httpClient != nil {
		peerOpts = append(peerOpts, peer.WithHTTPClient(c.httpClient))
	}
	if c.sleeper != nil {
		peerOpts = append(peerOpts, peer.WithSleeper(c.sleeper))
	}
	c.peer = peer.New(provider.BuildURL(ep.URL), peerOpts...)

	return c, nil
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.endpoint.Model
}

// Complete sends req to the endpoint and returns the first choice.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	if len(req.Messages) == 0 {
		return nil, NewFatalError(ErrEmptyRequest)
	}

	temperature := req.Temperature
	if temperature == nil {
		temperature = c.endpoint.Temperature
	}

	body, err := c.provider.BuildRequestBody(c.endpoint.Model, req.Messages, temperature, req.MaxTokens)
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("build request body: %w", err))
	}

	c.logger.Debug("Sending LLM request",
		"provider", c.provider.Name(),
		"model", c.endpoint.Model,
		"messages", len(req.Messages))

	out := c.peer.Post(ctx, "", json.RawMessage(body))
	if !out.OK() {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, classifyFailure(out.Failure)
	}

	resp, err := c.provider.ParseResponse(out.Payload, c.endpoint.Model)
	if err != nil {
		return nil, NewFatalError(err)
	}
	if resp.Model == "" {
		resp.Model = c.endpoint.Model
	}
	return resp, nil
}
