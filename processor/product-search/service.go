// Package productsearch implements the product capability behind the chat
// router: retrieve the catalog entries closest to the conversation and let a
// model answer from them.
package productsearch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/c360studio/storechat/conversation"
	"github.com/c360studio/storechat/llm"
	"github.com/c360studio/storechat/metrics"
)

// Apology is returned when no answer could be generated.
const Apology = "I'm sorry, I encountered an issue while processing your query. Our team has been notified."

// ErrorCodeGeneration is reported in metadata when no answer could be
// generated. The underlying error is only logged.
const ErrorCodeGeneration = "generation_failed"

// DefaultTopK is how many catalog entries are given to the model.
const DefaultTopK = 4

// ErrNoUserMessage rejects a query without a user-authored turn.
var ErrNoUserMessage = errors.New("no user message found in the input")

const systemPrompt = `You are a helpful assistant that answers product-related questions using the context provided.
If the user asks about orders or delivery, ask for their Customer ID first.
If the user asks for a product recommendation, give a brief summary of the product and its features. Do not ask for a Customer ID.
If the context does not cover the question, say so and suggest what the store does carry.
Always respond politely and ask follow-up questions if needed.`

// Service answers product questions.
type Service struct {
	index       *Index
	llm         llm.Completer
	topK        int
	temperature float64
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// Option configures a Service.
type Option func(*Service)

// WithTopK sets how many entries are retrieved per query.
func WithTopK(k int) Option {
	return func(s *Service) {
		if k > 0 {
			s.topK = k
		}
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(s *Service) {
		s.temperature = t
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMetrics records degraded answers.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// New creates a Service over index.
func New(index *Index, completer llm.Completer, opts ...Option) *Service {
	s := &Service{
		index:       index,
		llm:         completer,
		topK:        DefaultTopK,
		temperature: 0.1,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Answer handles one product query. All turns are joined into the search
// text so earlier context ("the red one") still retrieves.
func (s *Service) Answer(ctx context.Context, req conversation.QueryRequest) (conversation.QueryResponse, error) {
	if !conversation.HasUserTurn(req.Messages) {
		return conversation.QueryResponse{}, ErrNoUserMessage
	}
	query := conversation.AllText(req.Messages)

	hits := s.index.Search(query, s.topK)
	sources := make([]string, len(hits))
	docs := make([]string, len(hits))
	for i, h := range hits {
		sources[i] = h.Product.ID
		docs[i] = h.Product.Document()
	}

	knowledge := "No matching products."
	if len(docs) > 0 {
		knowledge = strings.Join(docs, "\n")
	}

	temperature := s.temperature
	resp, err := s.llm.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: systemPrompt},
			{Role: llm.RoleUser, Content: fmt.Sprintf("Context: %s\n\nUser Question: %s", knowledge, query)},
		},
		Temperature: &temperature,
	})
	if err == nil && strings.TrimSpace(resp.Content) == "" {
		err = errors.New("empty completion")
	}
	if err != nil {
		s.logger.Warn("Product answer failed", "error", err, "hits", len(hits))
		s.metrics.ObserveFallback("product-search")
		return conversation.QueryResponse{
			Response: Apology,
			Metadata: map[string]any{"error": ErrorCodeGeneration},
		}, nil
	}

	s.logger.Info("Answered product query", "hits", len(hits), "sources", sources)
	return conversation.QueryResponse{
		Response: strings.TrimSpace(resp.Content),
		Metadata: map[string]any{"sources": sources},
	}, nil
}
