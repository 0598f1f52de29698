// Package chatrouter implements the front-door chat orchestrator. It
// classifies each conversation, asks for a customer id when an order
// question lacks one, dispatches to the product or order capability, and
// replaces every downstream failure with a fixed apology so callers always
// receive a well-formed result.
package chatrouter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/c360studio/storechat/conversation"
	"github.com/c360studio/storechat/events"
	"github.com/c360studio/storechat/httpapi"
	"github.com/c360studio/storechat/intent"
	"github.com/c360studio/storechat/llm"
	"github.com/c360studio/storechat/metrics"
	"github.com/c360studio/storechat/peer"
)

// Degraded replies, one pair per backend capability plus the general answer.
const (
	ProductUnavailable = "I'm having trouble connecting to our product database right now. Please try again later."
	ProductMalformed   = "I couldn't find information about that product. Can you try asking in a different way?"
	OrderUnavailable   = "I'm having trouble connecting to our order database right now. Please try again later."
	OrderMalformed     = "I couldn't find information about your order. Please check your Customer ID and try again."
	GeneralUnavailable = "I'm sorry, I'm having trouble processing your request. How else can I help you today?"
)

// QueryPath is the backend capability endpoint, relative to its base URL.
const QueryPath = "/query"

var (
	// ErrNoUserTurn rejects a request that carries no user-authored turn.
	ErrNoUserTurn = errors.New("no user message found in the input")

	// ErrMalformedResponse marks a 2xx backend reply without an answer.
	ErrMalformedResponse = errors.New("backend response has no answer")
)

// State is a step of the routing state machine.
type State string

const (
	StateReceived   State = "received"
	StateClassified State = "classified"
	StateNeedsID    State = "needs_id"
	StateDispatched State = "dispatched"
	StateResolved   State = "resolved"
)

// Outcome labels how a request was resolved.
const (
	OutcomeAnswered    = "answered"
	OutcomeNeedsID     = "needs_id"
	OutcomeUnavailable = "unavailable"
	OutcomeMalformed   = "malformed"
)

// Classifier turns combined user text into an intent decision.
type Classifier interface {
	Classify(ctx context.Context, text string) intent.Decision
}

// Backend is a capability service reached through a resilient client.
type Backend interface {
	Post(ctx context.Context, path string, body any) peer.Outcome
}

// RouteRequest is one inbound conversation. The router never modifies it.
type RouteRequest struct {
	Turns          []conversation.Turn
	ConversationID string
	CustomerID     string
	Metadata       map[string]any
}

// RouteResult is the single reply to a RouteRequest.
type RouteResult struct {
	Text               string
	RequiresCustomerID bool
	Metadata           map[string]any
	SourceType         conversation.SourceType
}

// Router runs the routing state machine. It holds no per-request state and
// is safe for concurrent use.
type Router struct {
	classifier Classifier
	products   Backend
	orders     Backend
	general    llm.Completer
	publisher  events.Publisher
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		r.logger = logger
	}
}

// WithPublisher emits a route event per resolved request.
func WithPublisher(p events.Publisher) Option {
	return func(r *Router) {
		r.publisher = p
	}
}

// WithMetrics records route outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Router) {
		r.metrics = m
	}
}

// New creates a Router.
func New(classifier Classifier, products, orders Backend, general llm.Completer, opts ...Option) *Router {
	r := &Router{
		classifier: classifier,
		products:   products,
		orders:     orders,
		general:    general,
		publisher:  events.Nop{},
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// trace accumulates what happened to one request for logs and events.
type trace struct {
	start      time.Time
	state      State
	decision   intent.Decision
	customerID string
	outcome    string
}

// Route resolves req. The only errors are caller-input rejections
// (ErrNoUserTurn, conversation.ErrInvalidRole); every downstream failure
// becomes a degraded RouteResult.
func (r *Router) Route(ctx context.Context, req RouteRequest) (RouteResult, error) {
	if err := conversation.ValidateTurns(req.Turns); err != nil {
		return RouteResult{}, err
	}
	if !conversation.HasUserTurn(req.Turns) {
		return RouteResult{}, ErrNoUserTurn
	}

	tr := &trace{start: time.Now(), state: StateReceived, customerID: strings.TrimSpace(req.CustomerID)}

	// RECEIVED -> CLASSIFIED
	text := conversation.UserText(req.Turns)
	if tr.customerID != "" {
		text = fmt.Sprintf("%s (Customer ID: %s)", text, tr.customerID)
	}
	tr.decision = r.classifier.Classify(ctx, text)
	tr.state = StateClassified
	if tr.customerID == "" && tr.decision.CustomerID != "" {
		tr.customerID = tr.decision.CustomerID
	}

	var res RouteResult
	switch {
	case tr.decision.Intent == intent.Order && tr.customerID == "":
		// CLASSIFIED -> NEEDS_ID
		tr.state = StateNeedsID
		tr.outcome = OutcomeNeedsID
		res = RouteResult{
			Text:               conversation.CustomerIDPrompt,
			RequiresCustomerID: true,
			Metadata:           map[string]any{},
			SourceType:         conversation.SourceGeneral,
		}
	case tr.decision.Intent == intent.Product:
		tr.state = StateDispatched
		res = r.dispatch(ctx, tr, r.products, req, conversation.SourceProduct, ProductUnavailable, ProductMalformed)
	case tr.decision.Intent == intent.Order:
		tr.state = StateDispatched
		res = r.dispatch(ctx, tr, r.orders, req, conversation.SourceOrder, OrderUnavailable, OrderMalformed)
	default:
		tr.state = StateDispatched
		res = r.answerGeneral(ctx, tr, req.Turns)
	}

	tr.state = StateResolved
	r.finish(ctx, req, tr, res)
	return res, nil
}

// dispatch calls a backend capability and converts its outcome.
func (r *Router) dispatch(ctx context.Context, tr *trace, backend Backend, req RouteRequest,
	source conversation.SourceType, unavailable, malformed string,
) RouteResult {
	degraded := func(outcome, text string) RouteResult {
		tr.outcome = outcome
		r.metrics.ObserveFallback("router")
		return RouteResult{Text: text, Metadata: map[string]any{}, SourceType: source}
	}

	out := backend.Post(ctx, QueryPath, conversation.QueryRequest{
		Messages:       req.Turns,
		ConversationID: req.ConversationID,
		CustomerID:     tr.customerID,
		Metadata:       req.Metadata,
	})
	if !out.OK() {
		r.logger.Warn("Backend call failed",
			"source_type", source,
			"status", out.Failure.StatusCode,
			"attempts", out.Attempts,
			"error", out.Failure.Message)
		return degraded(OutcomeUnavailable, unavailable)
	}

	answer, metadata, err := decodeAnswer(out.Payload)
	if err != nil {
		r.logger.Warn("Backend response malformed", "source_type", source, "error", err)
		return degraded(OutcomeMalformed, malformed)
	}

	tr.outcome = OutcomeAnswered
	return RouteResult{Text: answer, Metadata: metadata, SourceType: source}
}

// decodeAnswer reads the "response" (or "answer") string and the optional
// metadata object. A metadata value of another shape is dropped.
func decodeAnswer(payload json.RawMessage) (string, map[string]any, error) {
	var body map[string]json.RawMessage
	if err := json.Unmarshal(payload, &body); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	var answer string
	found := false
	for _, key := range []string{"response", "answer"} {
		raw, ok := body[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, &answer); err == nil && strings.TrimSpace(answer) != "" {
			found = true
			break
		}
	}
	if !found {
		return "", nil, ErrMalformedResponse
	}

	metadata := map[string]any{}
	if raw, ok := body["metadata"]; ok {
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err == nil && m != nil {
			metadata = m
		}
	}
	return answer, metadata, nil
}

const generalPrompt = `You are a helpful assistant for an online store that sells musical instruments and related products.
Answer general questions in a friendly, concise way.
If the question might be about products or orders, suggest asking about a specific product or sharing a Customer ID to check an order.`

// answerGeneral asks the model directly, with the conversation as history.
func (r *Router) answerGeneral(ctx context.Context, tr *trace, turns []conversation.Turn) RouteResult {
	messages := make([]llm.Message, 0, len(turns)+1)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: generalPrompt})
	for _, t := range turns {
		messages = append(messages, llm.Message{Role: string(t.Role), Content: t.Text})
	}

	res := RouteResult{Metadata: map[string]any{}, SourceType: conversation.SourceGeneral}

	resp, err := r.general.Complete(ctx, llm.Request{Messages: messages})
	if err != nil || strings.TrimSpace(resp.Content) == "" {
		if err == nil {
			err = errors.New("empty completion")
		}
		r.logger.Warn("General answer failed", "error", err)
		r.metrics.ObserveFallback("router")
		tr.outcome = OutcomeUnavailable
		res.Text = GeneralUnavailable
		return res
	}

	tr.outcome = OutcomeAnswered
	res.Text = strings.TrimSpace(resp.Content)
	return res
}

func (r *Router) finish(ctx context.Context, req RouteRequest, tr *trace, res RouteResult) {
	elapsed := time.Since(tr.start)
	r.metrics.ObserveRoute(string(res.SourceType), tr.outcome)

	r.logger.Info("Routed chat request",
		"conversation_id", req.ConversationID,
		"intent", tr.decision.Intent,
		"source_type", res.SourceType,
		"outcome", tr.outcome,
		"requires_customer_id", res.RequiresCustomerID,
		"duration", elapsed)

	ev := events.RouteEvent{
		ConversationID:     req.ConversationID,
		Intent:             string(tr.decision.Intent),
		SourceType:         string(res.SourceType),
		State:              string(tr.state),
		Outcome:            tr.outcome,
		RequiresCustomerID: res.RequiresCustomerID,
		HasCustomerID:      tr.customerID != "",
		DurationMs:         elapsed.Milliseconds(),
		Timestamp:          time.Now().UTC(),
	}
	ev.RequestID = httpapi.RequestIDFrom(ctx)
	if err := r.publisher.PublishRoute(ctx, ev); err != nil {
		r.logger.Warn("Failed to publish route event", "error", err)
	}
}
