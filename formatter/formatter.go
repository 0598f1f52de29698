// Package formatter renders processed order records into a conversational
// reply, falling back to a fixed template when rendering fails.
package formatter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/c360studio/storechat/llm"
	"github.com/c360studio/storechat/metrics"
	"github.com/c360studio/storechat/postprocess"
)

// GenericApology is returned when not even the template can be filled.
const GenericApology = "I found your order information but had trouble formatting it. Please check your account or contact support."

// ErrRender marks a failed model rendering.
var ErrRender = errors.New("render response")

const systemPrompt = `You are a customer service assistant for an online musical instrument store.
Turn the order data below into a short, friendly answer to the customer's question.
Mention dates, products, categories and amounts when they are relevant.
Do not invent information that is not in the data. If the data is empty, say that no matching orders were found.`

// Fields names the record fields the fallback template reads.
type Fields struct {
	Date       string
	Category   string
	Amount     string
	DateLayout string
}

// DefaultFields matches the order data API.
func DefaultFields() Fields {
	return Fields{
		Date:       postprocess.DefaultDateField,
		Category:   "Product_Category",
		Amount:     "Sales",
		DateLayout: "2006-01-02",
	}
}

// Formatter turns records into reply text.
type Formatter struct {
	llm         llm.Completer
	fields      Fields
	temperature *float64
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// Option configures a Formatter.
type Option func(*Formatter)

// WithFields overrides the template fields.
func WithFields(f Fields) Option {
	return func(fm *Formatter) {
		fm.fields = f
	}
}

// WithTemperature overrides the endpoint's sampling temperature.
func WithTemperature(t float64) Option {
	return func(fm *Formatter) {
		fm.temperature = &t
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(fm *Formatter) {
		fm.logger = logger
	}
}

// WithMetrics counts template fallbacks.
func WithMetrics(m *metrics.Metrics) Option {
	return func(fm *Formatter) {
		fm.metrics = m
	}
}

// New creates a Formatter backed by completer.
func New(completer llm.Completer, opts ...Option) *Formatter {
	f := &Formatter{
		llm:    completer,
		fields: DefaultFields(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.logger == nil {
		f.logger = slog.Default()
	}
	return f
}

// Format always returns reply text. A failed rendering is replaced by
// Fallback(records).
func (f *Formatter) Format(ctx context.Context, query, customerID string, records postprocess.RecordSet) string {
	text, err := f.Render(ctx, query, customerID, records)
	if err == nil {
		return text
	}

	f.logger.Warn("Response rendering failed, using template", "error", err, "records", len(records))
	f.metrics.ObserveFallback("formatter")
	return f.Fallback(records)
}

// Render asks the model to phrase the answer.
func (f *Formatter) Render(ctx context.Context, query, customerID string, records postprocess.RecordSet) (string, error) {
	data, err := Serialize(records)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRender, err)
	}

	prompt := fmt.Sprintf("Customer question: %s\nCustomer ID: %s\nOrder data (JSON): %s", query, customerID, data)
	resp, err := f.llm.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: systemPrompt},
			{Role: llm.RoleUser, Content: prompt},
		},
		Temperature: f.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRender, err)
	}

	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", fmt.Errorf("%w: empty completion", ErrRender)
	}
	return text, nil
}

// Fallback builds the deterministic reply from the first record. It returns
// GenericApology when there is no record, no known field, or a known field
// cannot be converted.
func (f *Formatter) Fallback(records postprocess.RecordSet) string {
	if len(records) == 0 {
		return GenericApology
	}
	item := records[0]

	var details []string
	if v, ok := item[f.fields.Date]; ok {
		d, ok := f.date(v)
		if !ok {
			return GenericApology
		}
		details = append(details, "ordered on "+d.Format("January 02, 2006"))
	}
	if v, ok := item[f.fields.Category]; ok && v != nil {
		details = append(details, fmt.Sprintf("category: %v", v))
	}
	if v, ok := item[f.fields.Amount]; ok {
		amount, ok := toFloat(v)
		if !ok {
			return GenericApology
		}
		details = append(details, fmt.Sprintf("amount: $%.2f", amount))
	}

	if len(details) == 0 {
		return GenericApology
	}
	return fmt.Sprintf("I found your order (%s) but had trouble formatting details. Please contact support for more information.",
		strings.Join(details, " "))
}

func (f *Formatter) date(v any) (time.Time, bool) {
	switch d := v.(type) {
	case time.Time:
		return d, true
	case string:
		t, err := time.Parse(f.fields.DateLayout, strings.TrimSpace(d))
		return t, err == nil
	}
	return time.Time{}, false
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		var err error
		if f, err = n.Float64(); err != nil {
			return 0, false
		}
	case string:
		var err error
		if f, err = strconv.ParseFloat(strings.TrimSpace(n), 64); err != nil {
			return 0, false
		}
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Serialize encodes records as JSON after normalizing values: times become
// RFC 3339 text and NaN or infinite numbers become null.
func Serialize(records postprocess.RecordSet) ([]byte, error) {
	normalized := make([]any, len(records))
	for i, r := range records {
		normalized[i] = normalize(map[string]any(r))
	}
	return json.Marshal(normalized)
}

func normalize(v any) any {
	switch x := v.(type) {
	case time.Time:
		return x.Format(time.RFC3339)
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil
		}
		return x
	case float32:
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return nil
		}
		return x
	case postprocess.Record:
		return normalize(map[string]any(x))
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = normalize(val)
		}
		return out
	default:
		return v
	}
}
