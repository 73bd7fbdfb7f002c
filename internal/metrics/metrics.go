// Package metrics exposes Prometheus collectors for the crawler service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	tasksTotal                 *prometheus.CounterVec
	gatewayRequestsTotal       *prometheus.CounterVec
	throttleDeferralsTotal     prometheus.Counter
	entitiesCreatedTotal       *prometheus.CounterVec
	gamesPersistedTotal        prometheus.Counter
	activeWorkers              prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times. Observe functions are
// no-ops until Init has run.
func Init() {
	once.Do(func() {
		tasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wikigames_tasks_total",
				Help: "Total number of crawl tasks handled, labeled by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		)

		gatewayRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wikigames_gateway_requests_total",
				Help: "Total number of wiki API calls, labeled by operation and status.",
			},
			[]string{"operation", "status"},
		)

		throttleDeferralsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "wikigames_throttle_deferrals_total",
				Help: "Total number of tasks deferred by the shared throttle.",
			},
		)

		entitiesCreatedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wikigames_entities_created_total",
				Help: "Total number of taxonomy rows created, labeled by kind.",
			},
			[]string{"kind"},
		)

		gamesPersistedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "wikigames_games_persisted_total",
				Help: "Total number of game upserts committed.",
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "wikigames_active_workers",
				Help: "Number of workers currently processing a task.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveTask counts a finished task attempt. Outcome is one of
// succeeded, retried, deferred or failed.
func ObserveTask(kind, outcome string) {
	if tasksTotal == nil {
		return
	}
	tasksTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveGatewayRequest counts one wiki API call.
func ObserveGatewayRequest(operation, status string) {
	if gatewayRequestsTotal == nil {
		return
	}
	gatewayRequestsTotal.WithLabelValues(operation, status).Inc()
}

// ObserveThrottleDeferral counts a task pushed back by the throttle.
func ObserveThrottleDeferral() {
	if throttleDeferralsTotal == nil {
		return
	}
	throttleDeferralsTotal.Inc()
}

// ObserveEntitiesCreated adds n newly created taxonomy rows of kind.
func ObserveEntitiesCreated(kind string, n int) {
	if entitiesCreatedTotal == nil || n <= 0 {
		return
	}
	entitiesCreatedTotal.WithLabelValues(kind).Add(float64(n))
}

// ObserveGamePersisted counts a committed game upsert.
func ObserveGamePersisted() {
	if gamesPersistedTotal == nil {
		return
	}
	gamesPersistedTotal.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	if activeWorkers == nil {
		return
	}
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	if activeWorkers == nil {
		return
	}
	activeWorkers.Dec()
}
