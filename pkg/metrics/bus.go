package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// BusMetrics records event bus activity per topic. Dropped and exhausted
// counters are the monitoring hook for events lost to a full buffer or to
// repeated handler failures; a non-zero value means some order may be stuck
// in an intermediate state.
type BusMetrics struct {
	published   *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	redelivered *prometheus.CounterVec
	exhausted   *prometheus.CounterVec
}

// NewBusMetrics registers the bus metrics on the provided registerer.
func NewBusMetrics(reg prometheus.Registerer) *BusMetrics {
	if reg == nil {
		return &BusMetrics{}
	}
	published := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bus_events_published_total",
		Help: "Events accepted for delivery per topic.",
	}, []string{"topic"})
	dropped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bus_events_dropped_total",
		Help: "Events dropped because a subscriber buffer was full.",
	}, []string{"topic"})
	redelivered := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bus_events_redelivered_total",
		Help: "Events requeued after a handler error.",
	}, []string{"topic"})
	exhausted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bus_events_exhausted_total",
		Help: "Events abandoned after exhausting delivery attempts.",
	}, []string{"topic"})
	reg.MustRegister(published, dropped, redelivered, exhausted)
	return &BusMetrics{
		published:   published,
		dropped:     dropped,
		redelivered: redelivered,
		exhausted:   exhausted,
	}
}

// IncPublished increments the published counter for the topic.
func (b *BusMetrics) IncPublished(topic string) {
	if b == nil || b.published == nil {
		return
	}
	b.published.WithLabelValues(topic).Inc()
}

// IncDropped increments the dropped counter for the topic.
func (b *BusMetrics) IncDropped(topic string) {
	if b == nil || b.dropped == nil {
		return
	}
	b.dropped.WithLabelValues(topic).Inc()
}

// IncRedelivered increments the redelivery counter for the topic.
func (b *BusMetrics) IncRedelivered(topic string) {
	if b == nil || b.redelivered == nil {
		return
	}
	b.redelivered.WithLabelValues(topic).Inc()
}

// IncExhausted increments the exhausted counter for the topic.
func (b *BusMetrics) IncExhausted(topic string) {
	if b == nil || b.exhausted == nil {
		return
	}
	b.exhausted.WithLabelValues(topic).Inc()
}
