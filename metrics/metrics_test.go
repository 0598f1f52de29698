package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObservePeerCall("orders", "success", 1)
	m.ObservePeerCall("orders", "success", 2)
	m.ObservePeerCall("orders", "unavailable", 4)
	m.ObserveRoute("order", "answered")
	m.ObserveFallback("formatter")
	m.ObserveFallback("formatter")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.peerCalls.WithLabelValues("orders", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.peerCalls.WithLabelValues("orders", "unavailable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.routes.WithLabelValues("order", "answered")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.fallbacks.WithLabelValues("formatter")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObservePeerCall("x", "success", 1)
		m.ObserveRoute("general", "answered")
		m.ObserveFallback("classifier")
		m.ObserveHTTP("GET", "/health", 200, time.Millisecond)
	})
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ObserveHTTP("POST", "POST /api/chat", 200, 25*time.Millisecond)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "storechat_http_request_duration_seconds")
}
