package intent

import (
	"context"
	"log/slog"

	"github.com/c360studio/storechat/llm"
	"github.com/c360studio/storechat/metrics"
)

// systemPrompt instructs the model to emit a single decision object.
const systemPrompt = `You are an assistant for an online store that sells musical instruments and related products.
Classify the customer's message into exactly one category:
1. PRODUCT_QUERY - product details, recommendations, comparisons or features
2. ORDER_QUERY - order status, history or details
3. GENERAL_QUERY - anything else

Look for a customer ID in the message. Only report one that is clearly stated.

Respond with only this JSON object:
{
  "intent": "PRODUCT_QUERY|ORDER_QUERY|GENERAL_QUERY",
  "has_customer_id": true|false,
  "customer_id": "the id, or empty",
  "requires_customer_id": true|false
}

requires_customer_id is true only when the intent is ORDER_QUERY and no customer ID is present.`

// Classifier turns combined user text into a Decision with one model call.
type Classifier struct {
	llm         llm.Completer
	temperature *float64
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithTemperature overrides the endpoint's sampling temperature.
func WithTemperature(t float64) Option {
	return func(c *Classifier) {
		c.temperature = &t
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Classifier) {
		c.logger = logger
	}
}

// WithMetrics counts classification fallbacks.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Classifier) {
		c.metrics = m
	}
}

// NewClassifier creates a classifier backed by completer.
func NewClassifier(completer llm.Completer, opts ...Option) *Classifier {
	c := &Classifier{llm: completer}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Classify never fails: model errors and undecodable output both yield
// Fallback().
func (c *Classifier) Classify(ctx context.Context, text string) Decision {
	resp, err := c.llm.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: systemPrompt},
			{Role: llm.RoleUser, Content: text},
		},
		Temperature: c.temperature,
	})
	if err != nil {
		c.logger.Warn("Intent classification failed, using general intent", "error", err)
		c.metrics.ObserveFallback("classifier")
		return Fallback()
	}

	d, err := Decode(resp.Content)
	if err != nil {
		c.logger.Warn("Intent decision malformed, using general intent",
			"error", err,
			"content", truncate(resp.Content, 200))
		c.metrics.ObserveFallback("classifier")
		return Fallback()
	}

	c.logger.Debug("Classified intent",
		"intent", d.Intent,
		"has_customer_id", d.CustomerID != "",
		"requires_customer_id", d.RequiresCustomerID)
	return d
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
