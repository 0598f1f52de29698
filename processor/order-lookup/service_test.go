package orderlookup

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/storechat/conversation"
	"github.com/c360studio/storechat/formatter"
	"github.com/c360studio/storechat/llm"
	"github.com/c360studio/storechat/llm/testutil"
	"github.com/c360studio/storechat/postprocess"
)

type fakeSource struct {
	mu      sync.Mutex
	records postprocess.RecordSet
	err     error
	paths   []string
	queries []url.Values
}

func (f *fakeSource) Fetch(_ context.Context, path string, query url.Values) (postprocess.RecordSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, path)
	f.queries = append(f.queries, query)
	return f.records, f.err
}

func (f *fakeSource) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.paths)
}

func customerOrders() postprocess.RecordSet {
	return postprocess.RecordSet{
		{"Order_Date": "2024-01-15", "Product_Category": "Fashion", "Product": "Jeans", "Sales": float64(120), "Order_Priority": "Medium"},
		{"Order_Date": "2024-03-02", "Product_Category": "Electronics", "Product": "Headphones", "Sales": float64(89.5), "Order_Priority": "High"},
		{"Order_Date": "not a date", "Product_Category": "Home & Furniture", "Product": "Lamp", "Sales": float64(35), "Order_Priority": "Low"},
	}
}

func query(customerID string, texts ...string) conversation.QueryRequest {
	req := conversation.QueryRequest{CustomerID: customerID}
	for _, t := range texts {
		req.Messages = append(req.Messages, conversation.Turn{Role: conversation.RoleUser, Text: t})
	}
	return req
}

func scripted(contents ...string) *testutil.MockLLMClient {
	m := &testutil.MockLLMClient{}
	for _, c := range contents {
		m.Responses = append(m.Responses, &llm.Response{Content: c})
	}
	return m
}

func TestAnswer_AsksForCustomerID(t *testing.T) {
	mock := scripted(`{"endpoint": "/data/shipping-cost-summary"}`)
	src := &fakeSource{records: customerOrders()}
	svc := New(mock, src)

	resp, err := svc.Answer(context.Background(), query("  ", "Where is my order?"))

	require.NoError(t, err)
	assert.Equal(t, conversation.CustomerIDPrompt, resp.Response)
	assert.True(t, resp.RequiresCustomerID)
	assert.Zero(t, mock.CallCount())
	assert.Zero(t, src.calls())
}

func TestAnswer_NoUserMessage(t *testing.T) {
	svc := New(scripted(), &fakeSource{})

	_, err := svc.Answer(context.Background(), conversation.QueryRequest{
		CustomerID: "37077",
		Messages:   []conversation.Turn{{Role: conversation.RoleAssistant, Text: "Hello"}},
	})
	assert.ErrorIs(t, err, ErrNoUserMessage)
}

func TestAnswer_MostRecentOrder(t *testing.T) {
	mock := scripted(
		`{"endpoint": "/data/customer/{customer_id}", "parameters": {}, "post_processing": {}, "query_type": "most_recent"}`,
		"Your most recent order, placed on March 2, 2024, was a pair of headphones for $89.50.",
	)
	src := &fakeSource{records: customerOrders()}
	svc := New(mock, src)

	resp, err := svc.Answer(context.Background(), query("37077", "hi", "What was my last order?"))

	require.NoError(t, err)
	assert.Equal(t, "Your most recent order, placed on March 2, 2024, was a pair of headphones for $89.50.", resp.Response)
	assert.False(t, resp.RequiresCustomerID)

	require.Equal(t, []string{"/data/customer/37077"}, src.paths)

	raw, ok := resp.Metadata["raw_data"].(postprocess.RecordSet)
	require.True(t, ok)
	require.Len(t, raw, 1)
	assert.Equal(t, "Headphones", raw[0]["Product"])

	requests := mock.Requests()
	require.Len(t, requests, 2)
	assert.Contains(t, requests[0].Messages[1].Content, "Customer ID: 37077\nQuery: What was my last order?")
	assert.Contains(t, requests[1].Messages[1].Content, "Headphones")
}

func TestAnswer_FilterAndLimit(t *testing.T) {
	var records postprocess.RecordSet
	for i := 0; i < 8; i++ {
		records = append(records, postprocess.Record{
			"Order_Date":       fmt.Sprintf("2024-02-%02d", i+1),
			"Product_Category": "Electronics",
			"Sales":            float64(100 + i),
			"Order_Priority":   []string{"High", "Low"}[i%2],
		})
	}
	mock := scripted(
		`{"endpoint": "/data/product-category/{category}", "parameters": {"category": "Electronics"},
		  "post_processing": {"filter_by": ["Order_Priority", "equals", "High"], "limit": 2}, "query_type": "all_orders"}`,
		"You have two high priority electronics orders.",
	)
	src := &fakeSource{records: records}

	resp, err := New(mock, src).Answer(context.Background(), query("37077", "high priority electronics orders"))

	require.NoError(t, err)
	assert.Equal(t, "/data/product-category/Electronics", src.paths[0])
	raw := resp.Metadata["raw_data"].(postprocess.RecordSet)
	require.Len(t, raw, 2)
	for _, r := range raw {
		assert.Equal(t, "High", r["Order_Priority"])
	}
	assert.Equal(t, "2024-02-01", raw[0]["Order_Date"])
	assert.Equal(t, "2024-02-03", raw[1]["Order_Date"])
}

func TestAnswer_RawDataCapped(t *testing.T) {
	var records postprocess.RecordSet
	for i := 0; i < 9; i++ {
		records = append(records, postprocess.Record{"Product": fmt.Sprintf("item-%d", i)})
	}
	mock := scripted(`{"endpoint": "/data/high-profit-products", "parameters": {"threshold": 150}}`, "Here are the products.")
	src := &fakeSource{records: records}

	resp, err := New(mock, src).Answer(context.Background(), query("37077", "most profitable products"))

	require.NoError(t, err)
	assert.Len(t, resp.Metadata["raw_data"], RawDataLimit)
	assert.Equal(t, url.Values{"threshold": {"150"}}, src.queries[0])
}

func TestAnswer_Degraded(t *testing.T) {
	tests := []struct {
		name      string
		llm       *testutil.MockLLMClient
		source    *fakeSource
		want      string
		metadata  map[string]any
		dataCalls int
	}{
		{
			name:      "unparsable plan",
			llm:       scripted("I would call the customer endpoint."),
			source:    &fakeSource{records: customerOrders()},
			want:      AnalysisFailed,
			metadata:  map[string]any{"error": "JSON parsing failed"},
			dataCalls: 0,
		},
		{
			name:      "analysis model down",
			llm:       &testutil.MockLLMClient{Err: llm.NewTransientError(errors.New("LLM API error (status 503)"))},
			source:    &fakeSource{records: customerOrders()},
			want:      AnalysisUnavailable,
			metadata:  map[string]any{"error": "analysis unavailable"},
			dataCalls: 0,
		},
		{
			name:      "unknown endpoint",
			llm:       scripted(`{"endpoint": "/admin/export"}`),
			source:    &fakeSource{records: customerOrders()},
			want:      NotFound,
			metadata:  map[string]any{"customer_id": "37077"},
			dataCalls: 0,
		},
		{
			name:      "data api failure",
			llm:       scripted(`{"endpoint": "/data/customer/{customer_id}"}`),
			source:    &fakeSource{err: errors.New("peer call failed (status 503)")},
			want:      NotFound,
			metadata:  map[string]any{"customer_id": "37077"},
			dataCalls: 1,
		},
		{
			name:      "no rows",
			llm:       scripted(`{"endpoint": "/data/order-priority/{priority}", "parameters": {"priority": "Critical"}}`),
			source:    &fakeSource{records: postprocess.RecordSet{}},
			want:      NotFound,
			metadata:  map[string]any{"customer_id": "37077"},
			dataCalls: 1,
		},
		{
			name: "filter removes everything",
			llm: scripted(`{"endpoint": "/data/customer/{customer_id}",
				"post_processing": {"filter_by": ["Product_Category", "equals", "Toys"]}}`),
			source:    &fakeSource{records: customerOrders()},
			want:      NotFound,
			metadata:  map[string]any{"customer_id": "37077"},
			dataCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := New(tt.llm, tt.source).Answer(context.Background(), query("37077", "show my orders"))

			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.Response)
			assert.Equal(t, tt.metadata, resp.Metadata)
			assert.False(t, resp.RequiresCustomerID)
			assert.Equal(t, tt.dataCalls, tt.source.calls())
		})
	}
}

func TestAnswer_FormatterFallback(t *testing.T) {
	planner := scripted(`{"endpoint": "/data/customer/{customer_id}", "query_type": "most_recent"}`)
	broken := formatter.New(&testutil.MockLLMClient{Err: errors.New("connection refused")})
	src := &fakeSource{records: customerOrders()}

	resp, err := New(planner, src, WithFormatter(broken)).Answer(context.Background(), query("37077", "last order?"))

	require.NoError(t, err)
	assert.Contains(t, resp.Response, "March 02, 2024")
	assert.Contains(t, resp.Response, "$89.50")
	assert.Len(t, resp.Metadata["raw_data"], 1)
}
