// Package metrics provides Prometheus instrumentation for fraudwatch.
package metrics

import (
	"context"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fraudwatch"

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// AssessmentsTotal counts risk assessments by resulting status.
	AssessmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assessments_total",
			Help:      "Total risk assessments by status.",
		},
		[]string{"status"},
	)

	// RiskScore observes the distribution of final risk scores.
	RiskScore = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "risk_score",
		Help:      "Distribution of final risk scores (0-100).",
		Buckets:   []float64{0, 10, 20, 30, 40, 50, 60, 75, 90, 100},
	})

	// AnalyzeDuration observes how long one assessment takes.
	AnalyzeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "analyze_duration_seconds",
		Help:      "Time spent scoring a single transaction.",
		Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1},
	})

	// HeuristicFailuresTotal counts heuristics that degraded to zero.
	HeuristicFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heuristic_failures_total",
			Help:      "Heuristic evaluations that failed and contributed zero.",
		},
		[]string{"heuristic"},
	)

	// ReviewQueueDepth tracks transactions waiting for manual review.
	ReviewQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "review_queue_depth",
		Help:      "Number of transactions waiting for manual review.",
	})

	// BlacklistEntries tracks blacklist sizes by kind.
	BlacklistEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "blacklist_entries",
			Help:      "Number of blacklisted values by kind.",
		},
		[]string{"kind"},
	)

	// FraudGraphVertices tracks the number of vertices in the fraud graph.
	FraudGraphVertices = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "fraud_graph_vertices",
		Help:      "Number of vertices in the fraud graph.",
	})

	// FraudRings tracks connected components of size two or more.
	FraudRings = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "fraud_rings",
		Help:      "Number of detected fraud rings.",
	})

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// RateLimitedTotal counts requests rejected by a rate limiter scope.
	RateLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_requests_total",
			Help:      "Requests rejected by rate limiting, by scope.",
		},
		[]string{"scope"},
	)

	// ReviewsTotal counts manual review decisions by assigned status.
	ReviewsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reviews_total",
			Help:      "Manual review decisions by assigned status.",
		},
		[]string{"status"},
	)

	// BreakerTransitionsTotal counts circuit breaker state changes per heuristic.
	BreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_transitions_total",
			Help:      "Circuit breaker state transitions by key.",
		},
		[]string{"key", "from", "to"},
	)

	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		AssessmentsTotal,
		RiskScore,
		AnalyzeDuration,
		HeuristicFailuresTotal,
		ReviewQueueDepth,
		BlacklistEntries,
		FraudGraphVertices,
		FraudRings,
		ActiveWebSocketClients,
		RateLimitedTotal,
		ReviewsTotal,
		BreakerTransitionsTotal,
		GoroutineCount,
	)
}

// EngineSnapshot is the subset of engine state exported as gauges.
type EngineSnapshot struct {
	QueueDepth    int
	GraphVertices int
	Rings         int
	Blacklist     map[string]int
}

// EngineSource supplies engine gauges to the collector.
type EngineSource interface {
	MetricsSnapshot() EngineSnapshot
}

// StartEngineCollector periodically samples engine state and the runtime
// goroutine count into gauges. Call in a goroutine; exits when ctx is done.
func StartEngineCollector(ctx context.Context, src EngineSource, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ObserveEngine(src.MetricsSnapshot())
		}
	}
}

// ObserveEngine writes one engine snapshot into the gauges.
func ObserveEngine(s EngineSnapshot) {
	ReviewQueueDepth.Set(float64(s.QueueDepth))
	FraudGraphVertices.Set(float64(s.GraphVertices))
	FraudRings.Set(float64(s.Rings))
	for kind, n := range s.Blacklist {
		BlacklistEntries.WithLabelValues(kind).Set(float64(n))
	}
	GoroutineCount.Set(float64(runtime.NumGoroutine()))
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // route pattern, not the raw path
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
