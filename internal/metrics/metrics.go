// Package metrics holds the Prometheus collectors of the token economy
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "atlas_trader"

// Metrics holds all Prometheus metrics for the service
type Metrics struct {
	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Ledger metrics
	Spends         *prometheus.CounterVec // outcome: ok, insufficient, error
	TokensSpent    *prometheus.CounterVec // reason
	TokensCredited *prometheus.CounterVec // reason

	// Referral and settlement metrics
	Referrals        *prometheus.CounterVec // outcome: no_code, applied, invalid_code, error
	Settlements      *prometheus.CounterVec // outcome: success, failed, replayed, untrusted, error
	WebhookRejected  prometheus.Counter
	Generations      *prometheus.CounterVec // backend, outcome
	BalanceWatchers  prometheus.Gauge
	PublishFailures  prometheus.Counter
	InflightRejected prometheus.Counter

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them on reg.
// A nil reg uses a fresh private registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		Spends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spends_total",
			Help:      "Spend attempts by outcome",
		}, []string{"outcome"}),
		TokensSpent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_spent_total",
			Help:      "Tokens debited by reason",
		}, []string{"reason"}),
		TokensCredited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_credited_total",
			Help:      "Tokens credited by reason",
		}, []string{"reason"}),
		Referrals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "referrals_total",
			Help:      "Referral resolutions at sign-up by outcome",
		}, []string{"outcome"}),
		Settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_total",
			Help:      "Payment callbacks by outcome",
		}, []string{"outcome"}),
		WebhookRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_rejected_total",
			Help:      "Provider webhooks rejected for a bad signature",
		}),
		Generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Text generation calls by backend and outcome",
		}, []string{"backend", "outcome"}),
		BalanceWatchers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "balance_watchers",
			Help:      "Open live balance sessions",
		}),
		PublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "balance_publish_failures_total",
			Help:      "Balance snapshots that could not be published",
		}),
		InflightRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inflight_rejected_total",
			Help:      "Actions refused because another one was running for the account",
		}),
		gatherer: reg,
	}
	reg.MustRegister(
		m.HTTPRequests, m.HTTPDuration,
		m.Spends, m.TokensSpent, m.TokensCredited,
		m.Referrals, m.Settlements, m.WebhookRejected,
		m.Generations, m.BalanceWatchers, m.PublishFailures, m.InflightRejected,
	)
	return m
}

// Middleware records request counts and latencies
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unknown"
		}
		status := strconv.Itoa(c.Writer.Status())
		m.HTTPRequests.WithLabelValues(c.Request.Method, endpoint, status).Inc()
		m.HTTPDuration.WithLabelValues(c.Request.Method, endpoint).Observe(time.Since(start).Seconds())
	}
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() gin.HandlerFunc {
	handler := promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		handler.ServeHTTP(c.Writer, c.Request)
	}
}
