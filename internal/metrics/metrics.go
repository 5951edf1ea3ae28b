// Package metrics provides Prometheus instrumentation for the loan journey.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts the observable events of the conversation core. All methods
// are nil-safe so tests can run without a registry.
type Metrics struct {
	// Stage transitions by origin and destination stage
	StageTransitions *prometheus.CounterVec

	// Underwriting outcomes by decision
	Decisions *prometheus.CounterVec

	// Assistant calls that degraded to a fixed fallback reply
	AssistantFallbacks prometheus.Counter

	// Sanction letters issued, by result
	LettersIssued *prometheus.CounterVec
}

// New registers and returns the metric set on the default registry.
func New() *Metrics {
	return &Metrics{
		StageTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "loan_stage_transitions_total",
			Help: "Total conversation stage transitions by origin and destination",
		}, []string{"from", "to"}),

		Decisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "loan_underwriting_decisions_total",
			Help: "Total underwriting decisions by outcome",
		}, []string{"decision"}),

		AssistantFallbacks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "loan_assistant_fallbacks_total",
			Help: "Total assistant calls answered with the fixed fallback reply",
		}),

		LettersIssued: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "loan_sanction_letters_total",
			Help: "Total sanction letter issuance attempts by result",
		}, []string{"result"}),
	}
}

// ObserveTransition records one stage transition.
func (m *Metrics) ObserveTransition(from, to string) {
	if m != nil {
		m.StageTransitions.WithLabelValues(from, to).Inc()
	}
}

// ObserveDecision records one underwriting outcome.
func (m *Metrics) ObserveDecision(decision string) {
	if m != nil {
		m.Decisions.WithLabelValues(decision).Inc()
	}
}

// ObserveFallback records one degraded assistant reply.
func (m *Metrics) ObserveFallback() {
	if m != nil {
		m.AssistantFallbacks.Inc()
	}
}

// ObserveLetter records one issuance attempt, result "ok" or "error".
func (m *Metrics) ObserveLetter(result string) {
	if m != nil {
		m.LettersIssued.WithLabelValues(result).Inc()
	}
}
