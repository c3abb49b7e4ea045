package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "connectorhub"
)

var (
	dispatchDurationBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30}

	// Credential Metrics
	TokenRefreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "token_refreshes_total",
		Help:      "Count of provider token refresh attempts.",
	}, []string{"provider", "outcome"})

	CredentialStoreErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "credential_store_errors_total",
		Help:      "Count of credential store operations that failed.",
	}, []string{"backend", "op"})

	// Authorization Metrics
	AuthorizationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "authorizations_total",
		Help:      "Count of connector authorization steps.",
	}, []string{"connector", "step", "outcome"})

	// Dispatch Metrics
	ToolDispatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tool_dispatches_total",
		Help:      "Count of tool dispatches by outcome.",
	}, []string{"connector", "function", "outcome"})

	ToolDispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "tool_dispatch_duration_seconds",
		Help:      "Time taken for a tool dispatch, including credential resolution.",
		Buckets:   dispatchDurationBuckets,
	}, []string{"connector", "function"})

	// Provider Metrics
	ProviderRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "provider_requests_total",
		Help:      "Count of outbound provider HTTP requests by status class.",
	}, []string{"provider", "status_class"})
)

// StatusClass buckets an HTTP status code for low-cardinality labels.
// Zero means the request never produced a response.
func StatusClass(status int) string {
	if status <= 0 {
		return "error"
	}
	return strconv.Itoa(status/100) + "xx"
}
