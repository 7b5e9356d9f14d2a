// Package metrics holds the process-wide Prometheus collectors. They are
// registered on the default registry that promhttp.Handler serves.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "idsimplify",
		Name:      "http_requests_total",
		Help:      "HTTP requests by service, route pattern, method and status.",
	}, []string{"service", "route", "method", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "idsimplify",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"service", "route", "method"})

	// Mutations counts tenancy mutations by terminal outcome.
	Mutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "idsimplify",
		Name:      "mutations_total",
		Help:      "Tenancy mutations by operation and outcome.",
	}, []string{"operation", "outcome"})

	MutationRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "idsimplify",
		Name:      "mutation_retries_total",
		Help:      "Optimistic-concurrency retries by operation.",
	}, []string{"operation"})

	Denials = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "idsimplify",
		Name:      "authorization_denials_total",
		Help:      "Authorization denials by reason.",
	}, []string{"reason"})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "idsimplify",
		Name:      "notifications_total",
		Help:      "Notification attempts by channel and outcome.",
	}, []string{"channel", "outcome"})

	ProviderCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "idsimplify",
		Name:      "provider_calls_total",
		Help:      "External provider calls by provider and outcome.",
	}, []string{"provider", "outcome"})

	BreakerOpen = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "idsimplify",
		Name:      "provider_breaker_open",
		Help:      "1 while the provider's circuit breaker rejects calls.",
	}, []string{"provider"})
)

// SetBreaker records the breaker state seen after a provider call.
func SetBreaker(provider string, open bool) {
	v := 0.0
	if open {
		v = 1
	}
	BreakerOpen.WithLabelValues(provider).Set(v)
}

// Outcome label values.
const (
	OutcomeOK       = "ok"
	OutcomeError    = "error"
	OutcomeNotFound = "not_found"
	OutcomeRejected = "rejected"
	OutcomeConflict = "conflict"
)
