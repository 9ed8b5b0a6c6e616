// Package metrics collects and exposes Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector records auth and HTTP metrics.
type Collector struct {
	registry *prometheus.Registry

	authAttempts     *prometheus.CounterVec
	challengesIssued prometheus.Counter
	activityFailures prometheus.Counter
	httpStatus       *prometheus.CounterVec
	httpLatency      prometheus.Histogram
}

// NewCollector creates a Collector with its own registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "walletgate_auth_attempts_total",
			Help: "Authentication attempts by flow and outcome.",
		}, []string{"flow", "outcome"}),
		challengesIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "walletgate_challenges_issued_total",
			Help: "Wallet challenges issued.",
		}),
		activityFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "walletgate_activity_append_failures_total",
			Help: "Activity log writes that failed and were dropped.",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "walletgate_http_status_total",
			Help: "HTTP responses by status code.",
		}, []string{"status_code"}),
		httpLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "walletgate_http_latency_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	c.registry.MustRegister(
		c.authAttempts,
		c.challengesIssued,
		c.activityFailures,
		c.httpStatus,
		c.httpLatency,
	)
	return c
}

// RecordAuthAttempt counts one attempt of the given flow
// ("register_email", "login_email", "verify_wallet") and outcome
// ("success" or "failure").
func (c *Collector) RecordAuthAttempt(flow, outcome string) {
	c.authAttempts.WithLabelValues(flow, outcome).Inc()
}

// RecordChallengeIssued counts one issued wallet challenge.
func (c *Collector) RecordChallengeIssued() {
	c.challengesIssued.Inc()
}

// RecordActivityFailure counts one dropped activity write.
func (c *Collector) RecordActivityFailure() {
	c.activityFailures.Inc()
}

// RecordHTTP counts one response and its latency.
func (c *Collector) RecordHTTP(statusCode int, duration time.Duration) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
	c.httpLatency.Observe(duration.Seconds())
}

// Handler returns the exposition endpoint for this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
