// Package metrics exposes Prometheus collectors for the chat relay.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector is the recording surface used by the auth, completion and
// orchestration layers.
type MetricsCollector interface {
	RecordTokenRefresh(result string)
	RecordCompletion(outcome string, duration time.Duration)
	RecordAuthRetry()
	RecordChatRequest(outcome string)
}

// Collector implements MetricsCollector on top of Prometheus.
type Collector struct {
	tokenRefresh      *prometheus.CounterVec
	completions       *prometheus.CounterVec
	completionLatency prometheus.Histogram
	authRetries       prometheus.Counter
	chatRequests      *prometheus.CounterVec
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		tokenRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "yagpt_iam_token_refresh_total",
			Help: "IAM token exchanges by result.",
		}, []string{"result"}),
		completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "yagpt_completion_attempts_total",
			Help: "Completion API attempts by outcome.",
		}, []string{"outcome"}),
		completionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "yagpt_completion_latency_seconds",
			Help:    "Completion API latency in seconds.",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
		}),
		authRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "yagpt_completion_auth_retries_total",
			Help: "Completions retried after invalidating the IAM token.",
		}),
		chatRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "yagpt_chat_requests_total",
			Help: "Chat messages handled by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		c.tokenRefresh,
		c.completions,
		c.completionLatency,
		c.authRetries,
		c.chatRequests,
	)

	return c
}

// RecordTokenRefresh counts one IAM token exchange.
func (c *Collector) RecordTokenRefresh(result string) {
	c.tokenRefresh.WithLabelValues(result).Inc()
}

// RecordCompletion counts one completion attempt and observes its latency.
func (c *Collector) RecordCompletion(outcome string, duration time.Duration) {
	c.completions.WithLabelValues(outcome).Inc()
	c.completionLatency.Observe(duration.Seconds())
}

// RecordAuthRetry counts one invalidate-and-retry.
func (c *Collector) RecordAuthRetry() {
	c.authRetries.Inc()
}

// RecordChatRequest counts one handled chat message.
func (c *Collector) RecordChatRequest(outcome string) {
	c.chatRequests.WithLabelValues(outcome).Inc()
}

// Nop discards all measurements.
type Nop struct{}

func (Nop) RecordTokenRefresh(string)              {}
func (Nop) RecordCompletion(string, time.Duration) {}
func (Nop) RecordAuthRetry()                       {}
func (Nop) RecordChatRequest(string)               {}

// Handler returns the Prometheus scrape handler.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
