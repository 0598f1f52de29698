// Package orderlookup implements the order capability behind the chat
// router. A model picks a data API endpoint for the customer's question, the
// rows it returns are post-processed, and the formatter turns them into the
// reply.
package orderlookup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/c360studio/storechat/conversation"
	"github.com/c360studio/storechat/formatter"
	"github.com/c360studio/storechat/llm"
	"github.com/c360studio/storechat/metrics"
	"github.com/c360studio/storechat/postprocess"
)

// Replies that do not come from the formatter.
const (
	AnalysisFailed      = "Failed to understand your request"
	AnalysisUnavailable = "I'm having trouble looking up your order right now. Please try again later."
	NotFound            = "I couldn't find any order information for that request."
)

// RawDataLimit caps how many processed rows are echoed in metadata.
const RawDataLimit = 5

// ErrNoUserMessage rejects a query without a user-authored turn.
var ErrNoUserMessage = errors.New("no user message found in the input")

const analysisPrompt = `You are an AI assistant for an e-commerce website specializing in musical instruments and other products.
Your task is to analyze customer queries about their orders and determine which API endpoint to call.

Available API endpoints:
1. ` + EndpointCustomer + ` - Get all orders for a specific customer
2. ` + EndpointProductCategory + ` - Get all orders for a specific product category
3. ` + EndpointOrderPriority + ` - Get orders with a specific priority (Low, Medium, High, Critical)
4. ` + EndpointSalesByCategory + ` - Get total sales by product category
5. ` + EndpointHighProfit + ` - Get high-profit products (parameter "threshold", default 100)
6. ` + EndpointShippingSummary + ` - Get shipping cost statistics
7. ` + EndpointProfitByGender + ` - Get total profit by customer gender

Order records carry these fields: Order_Date, Time, Aging, Customer_Id, Gender, Device_Type,
Customer_Login_type, Product_Category, Product, Sales, Quantity, Discount, Profit,
Shipping_Cost, Order_Priority, Payment_method.

Respond with only this JSON object:
{
  "endpoint": "the endpoint to call",
  "parameters": {"param_name": "param_value"},
  "post_processing": {
    "filter_by": ["field_name", "equals|contains|greater_than|less_than", "value"],
    "sort_by": "field_name",
    "sort_order": "asc|desc",
    "limit": number_of_results
  },
  "query_type": "most_recent|specific_product|all_orders"
}
Leave out post_processing keys that are not needed.`

// Service answers order questions.
type Service struct {
	planner     llm.Completer
	data        DataSource
	processor   *postprocess.Processor
	formatter   *formatter.Formatter
	temperature float64
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// Option configures a Service.
type Option func(*Service)

// WithProcessor replaces the default post-processor.
func WithProcessor(p *postprocess.Processor) Option {
	return func(s *Service) {
		s.processor = p
	}
}

// WithFormatter replaces the formatter built on the planner's completer.
func WithFormatter(f *formatter.Formatter) Option {
	return func(s *Service) {
		s.formatter = f
	}
}

// WithTemperature sets the analysis sampling temperature.
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

// New creates a Service that plans with completer and reads rows from data.
func New(completer llm.Completer, data DataSource, opts ...Option) *Service {
	s := &Service{
		planner:     completer,
		data:        data,
		temperature: 0.1,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.processor == nil {
		s.processor = postprocess.New(postprocess.WithLogger(s.logger))
	}
	if s.formatter == nil {
		s.formatter = formatter.New(completer, formatter.WithLogger(s.logger), formatter.WithMetrics(s.metrics))
	}
	return s
}

// Answer handles one order query. The only error is ErrNoUserMessage; every
// other failure becomes a reply.
func (s *Service) Answer(ctx context.Context, req conversation.QueryRequest) (conversation.QueryResponse, error) {
	customerID := strings.TrimSpace(req.CustomerID)
	if customerID == "" {
		return conversation.QueryResponse{
			Response:           conversation.CustomerIDPrompt,
			RequiresCustomerID: true,
			Metadata:           map[string]any{},
		}, nil
	}

	query, ok := conversation.LastUserText(req.Messages)
	if !ok {
		return conversation.QueryResponse{}, ErrNoUserMessage
	}

	plan, err := s.Analyze(ctx, customerID, query)
	switch {
	case errors.Is(err, ErrMalformedPlan):
		s.logger.Warn("Order analysis unparsable", "customer_id", customerID, "error", err)
		return s.degraded(AnalysisFailed, map[string]any{"error": "JSON parsing failed"}), nil
	case err != nil:
		s.logger.Warn("Order analysis failed", "customer_id", customerID, "error", err)
		return s.degraded(AnalysisUnavailable, map[string]any{"error": "analysis unavailable"}), nil
	}

	records, err := s.fetch(ctx, customerID, plan)
	if err != nil {
		s.logger.Warn("Order data lookup failed",
			"customer_id", customerID,
			"endpoint", plan.Endpoint,
			"error", err)
	}
	if len(records) == 0 {
		return s.degraded(NotFound, map[string]any{"customer_id": customerID}), nil
	}

	processed := s.processor.Apply(records, plan.PostProcessing, plan.QueryType)
	if len(processed) == 0 {
		return s.degraded(NotFound, map[string]any{"customer_id": customerID}), nil
	}

	text := s.formatter.Format(ctx, query, customerID, processed)

	raw := processed
	if len(raw) > RawDataLimit {
		raw = raw[:RawDataLimit]
	}
	s.logger.Info("Answered order query",
		"customer_id", customerID,
		"endpoint", plan.Endpoint,
		"query_type", plan.QueryType,
		"rows", len(records),
		"processed", len(processed))

	return conversation.QueryResponse{
		Response: text,
		Metadata: map[string]any{"raw_data": raw},
	}, nil
}

// Analyze asks the model which endpoint answers query.
func (s *Service) Analyze(ctx context.Context, customerID, query string) (Plan, error) {
	temperature := s.temperature
	resp, err := s.planner.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: analysisPrompt},
			{Role: llm.RoleUser, Content: fmt.Sprintf("Customer ID: %s\nQuery: %s", customerID, query)},
		},
		Temperature: &temperature,
	})
	if err != nil {
		return Plan{}, fmt.Errorf("analysis completion: %w", err)
	}
	return DecodePlan(resp.Content)
}

func (s *Service) fetch(ctx context.Context, customerID string, plan Plan) (postprocess.RecordSet, error) {
	params := plan.Parameters
	if strings.HasPrefix(plan.Endpoint, "/data/customer") || strings.HasPrefix(plan.Endpoint, "data/customer") {
		if paramString(params["customer_id"]) == "" {
			params = withParam(params, "customer_id", customerID)
		}
	}

	path, query, err := Resolve(plan.Endpoint, params)
	if err != nil {
		return nil, err
	}
	return s.data.Fetch(ctx, path, query)
}

func (s *Service) degraded(text string, metadata map[string]any) conversation.QueryResponse {
	s.metrics.ObserveFallback("order-lookup")
	return conversation.QueryResponse{Response: text, Metadata: metadata}
}

func withParam(params map[string]any, key string, value any) map[string]any {
	out := make(map[string]any, len(params)+1)
	for k, v := range params {
		out[k] = v
	}
	out[key] = value
	return out
}
