package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusBucket(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{100, "1xx"},
		{200, "2xx"},
		{201, "2xx"},
		{301, "3xx"},
		{400, "4xx"},
		{404, "4xx"},
		{500, "5xx"},
		{503, "5xx"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, statusBucket(tt.code), "code %d", tt.code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/metrics", Handler())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)

	// Gauges are always exported with a zero value.
	body := w.Body.String()
	assert.Contains(t, body, "fraudwatch_review_queue_depth")
	assert.Contains(t, body, "fraudwatch_active_websocket_clients")

	AssessmentsTotal.WithLabelValues("FRAUD").Inc()
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, w.Body.String(), "fraudwatch_assessments_total")
}

func TestMiddleware_CountsByRoutePattern(t *testing.T) {
	gin.SetMode(gin.TestMode)
	HTTPRequestsTotal.Reset()

	r := gin.New()
	r.Use(Middleware())
	r.GET("/transactions/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/transactions/abc", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/transactions/def", nil))

	got := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/transactions/:id", "4xx"))
	assert.Equal(t, 2.0, got)
}

func TestObserveEngine(t *testing.T) {
	ObserveEngine(EngineSnapshot{
		QueueDepth:    4,
		GraphVertices: 12,
		Rings:         2,
		Blacklist:     map[string]int{"user": 3, "ip": 1},
	})

	assert.Equal(t, 4.0, testutil.ToFloat64(ReviewQueueDepth))
	assert.Equal(t, 12.0, testutil.ToFloat64(FraudGraphVertices))
	assert.Equal(t, 2.0, testutil.ToFloat64(FraudRings))

	m := &dto.Metric{}
	g, err := BlacklistEntries.GetMetricWithLabelValues("user")
	require.NoError(t, err)
	require.NoError(t, g.Write(m))
	assert.Equal(t, 3.0, m.GetGauge().GetValue())
}

type fakeSource struct{ calls chan struct{} }

func (f fakeSource) MetricsSnapshot() EngineSnapshot {
	select {
	case f.calls <- struct{}{}:
	default:
	}
	return EngineSnapshot{QueueDepth: 7}
}

func TestStartEngineCollector_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := fakeSource{calls: make(chan struct{}, 1)}

	done := make(chan struct{})
	go func() {
		StartEngineCollector(ctx, src, 5*time.Millisecond)
		close(done)
	}()

	select {
	case <-src.calls:
	case <-time.After(2 * time.Second):
		t.Fatal("collector never sampled")
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("collector did not stop")
	}
}
