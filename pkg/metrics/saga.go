package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// SagaMetrics records the payment saga's money movements.
type SagaMetrics struct {
	debits        *prometheus.CounterVec
	compensations prometheus.Counter
	awaitTimeouts prometheus.Counter
}

// NewSagaMetrics registers the saga metrics on the provided registerer.
func NewSagaMetrics(reg prometheus.Registerer) *SagaMetrics {
	if reg == nil {
		return &SagaMetrics{}
	}
	debits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "saga_debits_total",
		Help: "Debit attempts by outcome.",
	}, []string{"outcome"})
	compensations := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "saga_compensations_total",
		Help: "Refunds applied for cancelled orders.",
	})
	awaitTimeouts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "saga_await_timeouts_total",
		Help: "Synchronous waits that exceeded their bound.",
	})
	reg.MustRegister(debits, compensations, awaitTimeouts)
	return &SagaMetrics{
		debits:        debits,
		compensations: compensations,
		awaitTimeouts: awaitTimeouts,
	}
}

// IncDebit increments the debit counter for the given outcome label.
func (s *SagaMetrics) IncDebit(outcome string) {
	if s == nil || s.debits == nil {
		return
	}
	s.debits.WithLabelValues(outcome).Inc()
}

// IncCompensation increments the compensation counter.
func (s *SagaMetrics) IncCompensation() {
	if s == nil || s.compensations == nil {
		return
	}
	s.compensations.Inc()
}

// IncAwaitTimeout increments the synchronous-wait timeout counter.
func (s *SagaMetrics) IncAwaitTimeout() {
	if s == nil || s.awaitTimeouts == nil {
		return
	}
	s.awaitTimeouts.Inc()
}
