package llm_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/storechat/llm"
	_ "github.com/c360studio/storechat/llm/providers" // Register providers
)

func noSleep(context.Context, time.Duration) error { return nil }

func completion(content string) map[string]any {
	return map[string]any{
		"model": "test-model",
		"choices": []map[string]any{
			{
				"message":       map[string]string{"role": "assistant", "content": content},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 8, "total_tokens": 18},
	}
}

func newClient(t *testing.T, url string, opts ...llm.ClientOption) *llm.Client {
	t.Helper()
	temp := 0.1
	c, err := llm.NewClient(llm.EndpointConfig{
		Provider:    "ollama",
		URL:         url,
		Model:       "test-model",
		Temperature: &temp,
	}, opts...)
	require.NoError(t, err)
	return c
}

func TestClient_Complete_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "test-model", body["model"])
		assert.InDelta(t, 0.1, body["temperature"], 1e-9)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(completion("Hello! How can I help you?"))
	}))
	defer server.Close()

	client := newClient(t, server.URL+"/v1")
	resp, err := client.Complete(context.Background(), llm.Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "Hello"}},
	})

	require.NoError(t, err)
	assert.Equal(t, "Hello! How can I help you?", resp.Content)
	assert.Equal(t, "test-model", resp.Model)
	assert.Equal(t, 18, resp.Usage.TotalTokens)
	assert.Equal(t, "test-model", client.Model())
}

func TestClient_Complete_RequestTemperatureWins(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.InDelta(t, 0.7, body["temperature"], 1e-9)
		_ = json.NewEncoder(w).Encode(completion("ok"))
	}))
	defer server.Close()

	temp := 0.7
	_, err := newClient(t, server.URL).Complete(context.Background(), llm.Request{
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: "Hi"}},
		Temperature: &temp,
	})
	require.NoError(t, err)
}

func TestClient_Complete_SingleAttemptByDefault(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := newClient(t, server.URL).Complete(context.Background(), llm.Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "Hi"}},
	})

	require.Error(t, err)
	assert.True(t, llm.IsTransient(err))
	assert.Equal(t, int32(1), attempts.Load())
}

func TestClient_Complete_RetryOnTransientError(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(completion("Success after retry"))
	}))
	defer server.Close()

	client := newClient(t, server.URL, llm.WithRetries(2), llm.WithSleeper(noSleep))
	resp, err := client.Complete(context.Background(), llm.Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "Test"}},
	})

	require.NoError(t, err)
	assert.Equal(t, "Success after retry", resp.Content)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestClient_Complete_FatalErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		transient bool
	}{
		{"unauthorized", http.StatusUnauthorized, false},
		{"bad request", http.StatusBadRequest, false},
		{"rate limited", http.StatusTooManyRequests, true},
		{"server error", http.StatusInternalServerError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var attempts atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				attempts.Add(1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error": "nope"}`))
			}))
			defer server.Close()

			_, err := newClient(t, server.URL).Complete(context.Background(), llm.Request{
				Messages: []llm.Message{{Role: llm.RoleUser, Content: "Hi"}},
			})

			require.Error(t, err)
			assert.Equal(t, tt.transient, llm.IsTransient(err))
			assert.Equal(t, !tt.transient, llm.IsFatal(err))
			assert.Contains(t, err.Error(), "nope")
			assert.Equal(t, int32(1), attempts.Load())
		})
	}
}

func TestClient_Complete_UnparsableBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices": []}`))
	}))
	defer server.Close()

	_, err := newClient(t, server.URL).Complete(context.Background(), llm.Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "Hi"}},
	})
	require.Error(t, err)
	assert.True(t, llm.IsFatal(err))
}

func TestClient_Complete_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server can detect the client disconnect.
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newClient(t, server.URL).Complete(ctx, llm.Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "Hi"}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_ValidationErrors(t *testing.T) {
	_, err := llm.NewClient(llm.EndpointConfig{Provider: "nonexistent", Model: "m"})
	require.Error(t, err)
	assert.True(t, llm.IsFatal(err))

	_, err = llm.NewClient(llm.EndpointConfig{Provider: "openai"})
	require.Error(t, err)

	client := newClient(t, "http://127.0.0.1:1")
	_, err = client.Complete(context.Background(), llm.Request{})
	assert.ErrorIs(t, err, llm.ErrEmptyRequest)
}
