// Package metrics holds the kernel's Prometheus collectors: counters for
// grants issued by kind, denials, and in-flight consent prompts. These are
// ambient observability, not part of the admission decision itself.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// GrantsIssued counts grants issued, partitioned by kind
	// (temporary/session/timed/permanent).
	GrantsIssued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "localghost_grants_issued_total",
		Help: "Total number of permission grants issued, by grant kind.",
	}, []string{"kind"})

	// Denials counts requests that reached DENY in the admission state
	// machine.
	Denials = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "localghost_denials_total",
		Help: "Total number of requests denied by the admission middleware.",
	})

	// ActivePrompts gauges the number of consent prompts currently
	// awaiting a user decision.
	ActivePrompts = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "localghost_active_prompts",
		Help: "Number of consent prompts currently awaiting a decision.",
	})
)

// Registry is the collector registry the kernel exposes on /metrics. A
// dedicated registry (rather than the global default) keeps the surface
// limited to the collectors this package defines.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(GrantsIssued, Denials, ActivePrompts)
}
