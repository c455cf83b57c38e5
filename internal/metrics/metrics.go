// Package metrics collects and exposes Prometheus metrics for the auth
// subsystem. Recording is fire-and-forget: no method blocks or returns an
// error into the auth path.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels shared across events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"

	// Deserialization-specific outcomes.
	OutcomeRecoveredByEmail = "recovered_by_email"
	OutcomeNotFound         = "not_found"
	OutcomeError            = "error"
)

// Recorder is the observability sink consumed by the auth subsystem.
type Recorder interface {
	RecordDiscovery(outcome string, attempts int, duration time.Duration)
	RecordUpsert(outcome string)
	RecordLookup(outcome string)
	RecordSerialization(outcome string)
	RecordDeserialization(outcome string)
	RecordCircuitTransition(name, from, to string)
	RecordRetry(policy, operation string)
}

// Collector implements Recorder on top of Prometheus.
type Collector struct {
	discovery         *prometheus.CounterVec
	discoveryDuration prometheus.Histogram
	discoveryAttempts prometheus.Histogram
	upserts           *prometheus.CounterVec
	lookups           *prometheus.CounterVec
	serializations    *prometheus.CounterVec
	deserializations  *prometheus.CounterVec
	circuitStates     *prometheus.CounterVec
	retries           *prometheus.CounterVec
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		discovery: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bazaar_oidc_discovery_total",
			Help: "OIDC discovery attempts by outcome.",
		}, []string{"outcome"}),
		discoveryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bazaar_oidc_discovery_duration_seconds",
			Help:    "OIDC discovery duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		discoveryAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bazaar_oidc_discovery_attempts",
			Help:    "Retry attempts consumed per discovery call.",
			Buckets: []float64{1, 2, 3, 4, 5},
		}),
		upserts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bazaar_user_upsert_total",
			Help: "User upsert operations by outcome.",
		}, []string{"outcome"}),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bazaar_user_lookup_total",
			Help: "User lookup operations by outcome.",
		}, []string{"outcome"}),
		serializations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bazaar_session_serialize_total",
			Help: "Session principal serializations by outcome.",
		}, []string{"outcome"}),
		deserializations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bazaar_session_deserialize_total",
			Help: "Session principal deserializations by outcome, including recovery paths.",
		}, []string{"outcome"}),
		circuitStates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bazaar_circuit_transitions_total",
			Help: "Circuit breaker state transitions.",
		}, []string{"name", "from", "to"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bazaar_retry_attempts_total",
			Help: "Retried operations by policy and operation.",
		}, []string{"policy", "operation"}),
	}

	reg.MustRegister(
		c.discovery,
		c.discoveryDuration,
		c.discoveryAttempts,
		c.upserts,
		c.lookups,
		c.serializations,
		c.deserializations,
		c.circuitStates,
		c.retries,
	)

	return c
}

// RecordDiscovery records one discovery call with its outcome, the retry
// attempts it consumed and its total duration.
func (c *Collector) RecordDiscovery(outcome string, attempts int, duration time.Duration) {
	c.discovery.WithLabelValues(outcome).Inc()
	c.discoveryDuration.Observe(duration.Seconds())
	c.discoveryAttempts.Observe(float64(attempts))
}

// RecordUpsert records a user upsert outcome.
func (c *Collector) RecordUpsert(outcome string) {
	c.upserts.WithLabelValues(outcome).Inc()
}

// RecordLookup records a user lookup outcome.
func (c *Collector) RecordLookup(outcome string) {
	c.lookups.WithLabelValues(outcome).Inc()
}

// RecordSerialization records a session serialize outcome.
func (c *Collector) RecordSerialization(outcome string) {
	c.serializations.WithLabelValues(outcome).Inc()
}

// RecordDeserialization records a session deserialize outcome.
func (c *Collector) RecordDeserialization(outcome string) {
	c.deserializations.WithLabelValues(outcome).Inc()
}

// RecordCircuitTransition records a circuit breaker state change.
func (c *Collector) RecordCircuitTransition(name, from, to string) {
	c.circuitStates.WithLabelValues(name, from, to).Inc()
}

// RecordRetry records a retried operation.
func (c *Collector) RecordRetry(policy, operation string) {
	c.retries.WithLabelValues(policy, operation).Inc()
}

// Nop is a Recorder that discards everything. Useful in tests.
type Nop struct{}

func (Nop) RecordDiscovery(string, int, time.Duration) {}
func (Nop) RecordUpsert(string)                        {}
func (Nop) RecordLookup(string)                        {}
func (Nop) RecordSerialization(string)                 {}
func (Nop) RecordDeserialization(string)               {}
func (Nop) RecordCircuitTransition(_, _, _ string)     {}
func (Nop) RecordRetry(_, _ string)                    {}
