// Package testutil provides test doubles for the llm package.
package testutil

import (
	"context"
	"sync"

	"github.com/c360studio/storechat/llm"
)

// MockLLMClient is a thread-safe llm.Completer for tests. It returns
// Responses in sequence and records every request it receives.
//
//	mock := &MockLLMClient{
//	    Responses: []*llm.Response{{Content: `{"intent": "ORDER_QUERY"}`}},
//	}
//
//	failing := &MockLLMClient{Err: errors.New("connection failed")}
type MockLLMClient struct {
	Responses []*llm.Response // Responses to return in sequence
	Err       error           // Error to return (takes precedence over Responses)

	mu            sync.Mutex
	requests      []llm.Request
	responseIndex int
}

var _ llm.Completer = (*MockLLMClient)(nil)

// Complete returns the next configured response, or Err if set. Once the
// responses run out the last one is repeated.
func (m *MockLLMClient) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.Err != nil {
		return nil, m.Err
	}

	switch {
	case m.responseIndex < len(m.Responses):
		resp := m.Responses[m.responseIndex]
		m.responseIndex++
		return resp, nil
	case len(m.Responses) > 0:
		return m.Responses[len(m.Responses)-1], nil
	default:
		return &llm.Response{Content: "", Model: "test-model"}, nil
	}
}

// CallCount returns the number of times Complete was called.
func (m *MockLLMClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Requests returns a copy of every request received.
func (m *MockLLMClient) Requests() []llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llm.Request(nil), m.requests...)
}

// LastRequest returns the most recent request, or the zero Request.
func (m *MockLLMClient) LastRequest() llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return llm.Request{}
	}
	return m.requests[len(m.requests)-1]
}

// Reset clears recorded requests and rewinds the response sequence.
func (m *MockLLMClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
	m.responseIndex = 0
}

// Text returns a mock that always answers with content.
func Text(content string) *MockLLMClient {
	return &MockLLMClient{Responses: []*llm.Response{{Content: content, Model: "test-model"}}}
}
