// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector registers and exposes the voiceflow prometheus metrics.
type Collector struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	sessionsActive  prometheus.Gauge
	sessionsTotal   *prometheus.CounterVec
	turnsTotal      prometheus.Counter
	greetingsTotal  *prometheus.CounterVec
	interruptsTotal prometheus.Counter
	stageLatency    *prometheus.HistogramVec
	provisioningDur *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector creates the metrics collector under the given namespace.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.sessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of bot sessions currently registered",
		},
	)

	c.sessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of bot sessions by terminal outcome",
		},
		[]string{"outcome"}, // completed, cancelled, failed
	)

	c.turnsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of completed conversation turns",
		},
	)

	c.greetingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "greetings_total",
			Help:      "Total number of greetings by trigger",
		},
		[]string{"trigger"}, // joined, fallback
	)

	c.interruptsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interruptions_total",
			Help:      "Total number of interrupted generations",
		},
	)

	c.stageLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_latency_seconds",
			Help:      "Per-stage processing latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"stage"}, // recognition, reasoning, synthesis
	)

	c.provisioningDur = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provisioning_duration_seconds",
			Help:      "Daily API call duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"}, // create_room, meeting_token, delete_room
	)

	return c
}

// RecordHTTPRequest records one served HTTP request.
func (c *Collector) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// SessionStarted increments the active session gauge.
func (c *Collector) SessionStarted() {
	c.sessionsActive.Inc()
}

// SessionEnded decrements the gauge and records the terminal outcome.
func (c *Collector) SessionEnded(outcome string) {
	c.sessionsActive.Dec()
	c.sessionsTotal.WithLabelValues(outcome).Inc()
}

// TurnCompleted records one finished user/assistant exchange.
func (c *Collector) TurnCompleted() {
	c.turnsTotal.Inc()
}

// GreetingSent records a greeting and which trigger fired it.
func (c *Collector) GreetingSent(trigger string) {
	c.greetingsTotal.WithLabelValues(trigger).Inc()
}

// GenerationInterrupted records an abandoned in-flight generation.
func (c *Collector) GenerationInterrupted() {
	c.interruptsTotal.Inc()
}

// ObserveStage records the latency of one pipeline stage invocation.
func (c *Collector) ObserveStage(stage string, duration time.Duration) {
	c.stageLatency.WithLabelValues(stage).Observe(duration.Seconds())
}

// ObserveProvisioning records the latency of one Daily API call.
func (c *Collector) ObserveProvisioning(operation string, duration time.Duration) {
	c.provisioningDur.WithLabelValues(operation).Observe(duration.Seconds())
}
