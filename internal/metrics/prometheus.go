// Package metrics provides Prometheus metrics for the gateway core: HTTP
// request counts/latency, token usage, KeyPool state, Upstream Client
// transport rebuilds, and orchestrator retries. Generalized from the
// teacher's internal/metrics/prometheus.go LiteLLM-style metric set, pared
// to what spec §5/§8 actually asks an operator to observe (admission,
// leases, backoff, retries) rather than the teacher's budget/spend tracking,
// which has no equivalent in this spec.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "llmgate"

// LatencyBuckets are the histogram buckets shared by the request and
// upstream-call latency metrics, carried over from the teacher's bucket set.
var LatencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5,
	1.0, 2.5, 5.0, 10.0, 30.0, 60.0, 120.0, 300.0,
}

var (
	// RequestsTotal counts proxy requests by dialect, model, and outcome.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of proxy requests.",
		},
		[]string{"dialect", "model", "error_kind"}, // error_kind is "" on success
	)

	// RequestLatency tracks end-to-end request latency (spec §8 latency
	// percentiles under the gate/key dispatch sequence).
	RequestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_latency_seconds",
			Help:      "End-to-end proxy request latency in seconds.",
			Buckets:   LatencyBuckets,
		},
		[]string{"dialect", "model"},
	)

	// TokenUsage counts tokens reported by the upstream provider, split by
	// kind (prompt/completion/total), per spec §4.5's Usage extraction.
	TokenUsage = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_usage_total",
			Help:      "Total tokens reported by upstream, by kind.",
		},
		[]string{"dialect", "model", "kind"},
	)

	// RetriesTotal counts the single pre-byte retry the orchestrator is
	// permitted (spec §4.6/§9).
	RetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Total pre-byte retries performed after a rate_limited/upstream_5xx failure.",
		},
	)

	// KeyPoolKeyState is a gauge of keys currently in each KeyPool state
	// (spec §4.2). Set by the pool via SetKeyPoolState after each state
	// change.
	KeyPoolKeyState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "keypool",
			Name:      "keys",
			Help:      "Number of upstream keys currently in each state.",
		},
		[]string{"state"},
	)

	// UpstreamTransportRebuilds counts Upstream Client transport rebuilds
	// (spec §4.4, §5 "only one rebuild occurs per failure burst").
	UpstreamTransportRebuilds = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "transport_rebuilds_total",
			Help:      "Total times the shared upstream http.Transport was rebuilt.",
		},
	)
)

// RecordRequest records the outcome of a completed proxy request.
func RecordRequest(dialect, model, errorKind string, latencySeconds float64) {
	RequestsTotal.WithLabelValues(dialect, model, errorKind).Inc()
	RequestLatency.WithLabelValues(dialect, model).Observe(latencySeconds)
}

// RecordTokens records usage reported by upstream for one request.
func RecordTokens(dialect, model string, prompt, completion, total int) {
	if prompt > 0 {
		TokenUsage.WithLabelValues(dialect, model, "prompt").Add(float64(prompt))
	}
	if completion > 0 {
		TokenUsage.WithLabelValues(dialect, model, "completion").Add(float64(completion))
	}
	if total > 0 {
		TokenUsage.WithLabelValues(dialect, model, "total").Add(float64(total))
	}
}

// SetKeyPoolState updates the per-state key gauges from a snapshot count.
func SetKeyPoolState(active, leased, cooling int) {
	KeyPoolKeyState.WithLabelValues("active").Set(float64(active))
	KeyPoolKeyState.WithLabelValues("leased").Set(float64(leased))
	KeyPoolKeyState.WithLabelValues("cooling").Set(float64(cooling))
}
