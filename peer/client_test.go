package peer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/storechat/metrics"
)

// recordingSleeper captures backoff delays without waiting.
type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func (s *recordingSleeper) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, 1600 * time.Millisecond},
		{5, 3200 * time.Millisecond},
		{6, 5 * time.Second},
		{10, 5 * time.Second},
		{62, 5 * time.Second},
		{-1, 100 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt_%d", tt.attempt), func(t *testing.T) {
			assert.Equal(t, tt.want, Backoff(tt.attempt))
		})
	}
}

func TestClient_SucceedsOnFirst2xx(t *testing.T) {
	for retries := 0; retries <= 3; retries++ {
		for failures := 0; failures <= retries; failures++ {
			t.Run(fmt.Sprintf("retries_%d_failures_%d", retries, failures), func(t *testing.T) {
				var calls atomic.Int32
				server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					n := calls.Add(1)
					if int(n) <= failures {
						w.WriteHeader(http.StatusServiceUnavailable)
						return
					}
					w.Header().Set("Content-Type", "application/json")
					_, _ = w.Write([]byte(`{"response":"ok"}`))
				}))
				defer server.Close()

				sleeper := &recordingSleeper{}
				client := New(server.URL, WithMaxRetries(retries), WithSleeper(sleeper.sleep))

				out := client.Post(context.Background(), "/query", map[string]string{"q": "x"})

				require.True(t, out.OK(), "unexpected failure: %v", out.Err())
				assert.JSONEq(t, `{"response":"ok"}`, string(out.Payload))
				assert.Equal(t, int32(failures+1), calls.Load())
				assert.Equal(t, failures+1, out.Attempts)
				assert.Len(t, sleeper.recorded(), failures)
			})
		}
	}
}

func TestClient_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"detail":"No user message found in the input."}`))
	}))
	defer server.Close()

	sleeper := &recordingSleeper{}
	client := New(server.URL, WithMaxRetries(3), WithSleeper(sleeper.sleep))

	out := client.Post(context.Background(), "/query", map[string]any{})

	require.False(t, out.OK())
	assert.Equal(t, http.StatusBadRequest, out.Failure.StatusCode)
	assert.Equal(t, "No user message found in the input.", out.Failure.Message)
	assert.Equal(t, int32(1), calls.Load())
	assert.Empty(t, sleeper.recorded())
}

func TestClient_ErrorMessageFallsBackToStatusText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("not json"))
	}))
	defer server.Close()

	out := New(server.URL).Get(context.Background(), "/missing", nil)

	require.False(t, out.OK())
	assert.Equal(t, http.StatusNotFound, out.Failure.StatusCode)
	assert.Equal(t, "404 Not Found", out.Failure.Message)
}

func TestClient_ServerErrorsExhaustRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"database down"}`))
	}))
	defer server.Close()

	sleeper := &recordingSleeper{}
	client := New(server.URL, WithMaxRetries(3), WithSleeper(sleeper.sleep))

	out := client.Post(context.Background(), "/query", nil)

	require.False(t, out.OK())
	assert.Equal(t, http.StatusInternalServerError, out.Failure.StatusCode)
	assert.Equal(t, "database down", out.Failure.Message)
	assert.Equal(t, int32(4), calls.Load())
	assert.Equal(t, 4, out.Attempts)

	// Delays happen between attempts only, never after the last one.
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
	}, sleeper.recorded())
}

func TestClient_TransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	target := server.URL
	server.Close()

	sleeper := &recordingSleeper{}
	client := New(target, WithMaxRetries(2), WithSleeper(sleeper.sleep))

	out := client.Get(context.Background(), "/health", nil)

	require.False(t, out.OK())
	assert.Equal(t, http.StatusServiceUnavailable, out.Failure.StatusCode)
	assert.Contains(t, out.Failure.Message, "service unavailable after 3 attempts")
	assert.True(t, out.Failure.Unavailable())
	assert.Len(t, sleeper.recorded(), 2)
}

func TestClient_InvalidJSONSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response": "trunc`))
	}))
	defer server.Close()

	out := New(server.URL).Post(context.Background(), "/query", nil)

	require.False(t, out.OK())
	assert.Equal(t, http.StatusBadGateway, out.Failure.StatusCode)
	assert.Nil(t, out.Payload)
}

func TestClient_CancelledDuringBackoff(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	client := New(server.URL, WithMaxRetries(3), WithSleeper(func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}))

	out := client.Post(ctx, "/query", nil)

	require.False(t, out.OK())
	assert.Equal(t, StatusClientClosed, out.Failure.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_SendsBodyAndHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/orders/query", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "42", body["customer_id"])

		_, _ = w.Write([]byte(`{"response":"done"}`))
	}))
	defer server.Close()

	client := New(server.URL+"/api/orders/", WithHeader("Authorization", "Bearer secret"))
	out := client.Post(context.Background(), "/query", map[string]string{"customer_id": "42"})

	require.True(t, out.OK())
	var resp struct {
		Response string `json:"response"`
	}
	require.NoError(t, out.Decode(&resp))
	assert.Equal(t, "done", resp.Response)
}

func TestClient_GetEncodesQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "150", r.URL.Query().Get("threshold"))
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	out := New(server.URL).Get(context.Background(), "/data/high-profit-products", url.Values{"threshold": {"150"}})
	require.True(t, out.OK())
	assert.JSONEq(t, `[]`, string(out.Payload))
}

func TestClient_UnsupportedMethod(t *testing.T) {
	out := New("http://127.0.0.1:1").Call(context.Background(), http.MethodDelete, "/x", nil)
	require.False(t, out.OK())
	assert.Equal(t, http.StatusBadRequest, out.Failure.StatusCode)
	assert.Equal(t, 0, out.Attempts)
}

func TestClient_ConcurrentCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	client := New(server.URL)

	var wg sync.WaitGroup
	var failures atomic.Int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if out := client.Get(context.Background(), "/", nil); !out.OK() {
				failures.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, failures.Load())
}

func TestClient_RecordsMetrics(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	reg := prometheus.NewRegistry()
	client := New(server.URL, WithName("products"), WithMetrics(metrics.New(reg)))
	require.True(t, client.Post(context.Background(), "/query", nil).OK())

	families, err := reg.Gather()
	require.NoError(t, err)

	var found bool
	for _, mf := range families {
		if mf.GetName() == "storechat_peer_calls_total" {
			found = true
			require.Len(t, mf.GetMetric(), 1)
			assert.Equal(t, 1.0, mf.GetMetric()[0].GetCounter().GetValue())
		}
	}
	assert.True(t, found)
}

func TestIsFailure(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &Failure{StatusCode: 503, Message: "down"})
	f, ok := IsFailure(err)
	require.True(t, ok)
	assert.Equal(t, 503, f.StatusCode)

	_, ok = IsFailure(fmt.Errorf("plain"))
	assert.False(t, ok)
}
