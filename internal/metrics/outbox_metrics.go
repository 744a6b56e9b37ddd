package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OutboxMetrics описывает доставку событий заказов из outbox.
type OutboxMetrics struct {
	publishes    *prometheus.CounterVec
	deadLettered prometheus.Counter
	pending      prometheus.Gauge
	oldestAge    prometheus.Gauge
}

// NewOutboxMetrics регистрирует метрики outbox в prometheus.DefaultRegisterer.
func NewOutboxMetrics() *OutboxMetrics {
	return NewOutboxMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewOutboxMetricsWithRegisterer регистрирует метрики outbox в переданном реестре.
func NewOutboxMetricsWithRegisterer(registerer prometheus.Registerer) *OutboxMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &OutboxMetrics{
		publishes: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "flashorder_outbox_publish_attempts_total",
			Help: "Order event publish attempts grouped by result.",
		}, []string{"result"}),
		deadLettered: registerCounter(registerer, prometheus.CounterOpts{
			Name: "flashorder_outbox_dead_lettered_total",
			Help: "Order events moved to the dead letter topic.",
		}),
		pending: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "flashorder_outbox_pending_records",
			Help: "Order events waiting for publication.",
		}),
		oldestAge: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "flashorder_outbox_oldest_pending_age_seconds",
			Help: "Age of the oldest unpublished order event in seconds.",
		}),
	}
}

// RecordPublish учитывает попытку публикации: sent, error, dlq_failed.
func (m *OutboxMetrics) RecordPublish(result string) {
	if m == nil {
		return
	}
	m.publishes.WithLabelValues(result).Inc()
}

// RecordDeadLetter учитывает событие, отправленное в DLQ.
func (m *OutboxMetrics) RecordDeadLetter() {
	if m == nil {
		return
	}
	m.deadLettered.Inc()
}

// SetBacklog обновляет размер и возраст очереди неопубликованных событий.
func (m *OutboxMetrics) SetBacklog(pending int, oldest time.Time, now time.Time) {
	if m == nil {
		return
	}
	m.pending.Set(float64(pending))
	if pending == 0 || oldest.IsZero() {
		m.oldestAge.Set(0)
		return
	}
	m.oldestAge.Set(max(now.Sub(oldest).Seconds(), 0))
}
