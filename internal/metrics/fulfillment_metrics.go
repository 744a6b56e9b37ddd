package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// FulfillmentMetrics содержит метрики приёма и исполнения заказов.
type FulfillmentMetrics struct {
	// Приём заказа
	reservations  *prometheus.CounterVec
	compensations *prometheus.CounterVec

	// Исполнение
	outcomes       *prometheus.CounterVec
	retries        prometheus.Counter
	exhausted      prometheus.Counter
	stockDrift     prometheus.Counter
	consumeErrors  prometheus.Counter
	attemptLatency prometheus.Histogram
	submitLatency  prometheus.Histogram

	inFlight prometheus.Gauge
}

// NewFulfillmentMetrics регистрирует метрики в prometheus.DefaultRegisterer.
func NewFulfillmentMetrics() *FulfillmentMetrics {
	return NewFulfillmentMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewFulfillmentMetricsWithRegisterer регистрирует метрики в переданном реестре.
func NewFulfillmentMetricsWithRegisterer(registerer prometheus.Registerer) *FulfillmentMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &FulfillmentMetrics{
		reservations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "flashorder_reservations_total",
			Help: "Fast-path stock reservations grouped by result.",
		}, []string{"result"}),
		compensations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "flashorder_compensations_total",
			Help: "Reservation releases grouped by trigger and whether anything was returned.",
		}, []string{"trigger", "released"}),
		outcomes: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "flashorder_fulfillment_outcomes_total",
			Help: "Fulfillment attempt outcomes.",
		}, []string{"outcome"}),
		retries: registerCounter(registerer, prometheus.CounterOpts{
			Name: "flashorder_fulfillment_retries_total",
			Help: "Fulfillment tasks scheduled for another attempt.",
		}),
		exhausted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "flashorder_fulfillment_exhausted_total",
			Help: "Fulfillment tasks that used up all attempts.",
		}),
		stockDrift: registerCounter(registerer, prometheus.CounterOpts{
			Name: "flashorder_stock_drift_total",
			Help: "Commits rejected because durable stock was lower than the reserved quantity.",
		}),
		consumeErrors: registerCounter(registerer, prometheus.CounterOpts{
			Name: "flashorder_consume_errors_total",
			Help: "Failures to drop a pending deduction after a successful commit.",
		}),
		attemptLatency: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "flashorder_fulfillment_attempt_duration_seconds",
			Help:    "Duration of a single fulfillment attempt in seconds.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 15, 60},
		}),
		submitLatency: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "flashorder_submit_duration_seconds",
			Help:    "Duration of order submission in seconds.",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),
		inFlight: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "flashorder_fulfillment_in_flight",
			Help: "Number of fulfillment attempts currently running.",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

// RecordReservation учитывает результат быстрого резерва: ok, insufficient, error.
func (m *FulfillmentMetrics) RecordReservation(result string) {
	if m == nil {
		return
	}
	m.reservations.WithLabelValues(result).Inc()
}

// RecordCompensation учитывает возврат резерва; trigger: причина (persist, enqueue, commit, exhausted).
func (m *FulfillmentMetrics) RecordCompensation(trigger string, released bool) {
	if m == nil {
		return
	}
	m.compensations.WithLabelValues(trigger, fmt.Sprintf("%t", released)).Inc()
}

// RecordOutcome учитывает исход попытки исполнения.
func (m *FulfillmentMetrics) RecordOutcome(outcome string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(outcome).Inc()
}

// RecordRetry увеличивает счётчик повторных попыток.
func (m *FulfillmentMetrics) RecordRetry() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

// RecordExhausted увеличивает счётчик задач, исчерпавших попытки.
func (m *FulfillmentMetrics) RecordExhausted() {
	if m == nil {
		return
	}
	m.exhausted.Inc()
}

// RecordStockDrift увеличивает счётчик расхождений счётчика и БД.
func (m *FulfillmentMetrics) RecordStockDrift() {
	if m == nil {
		return
	}
	m.stockDrift.Inc()
}

// RecordConsumeError учитывает неудачное удаление резерва после фиксации.
func (m *FulfillmentMetrics) RecordConsumeError() {
	if m == nil {
		return
	}
	m.consumeErrors.Inc()
}

// RecordAttemptDuration записывает длительность попытки исполнения.
func (m *FulfillmentMetrics) RecordAttemptDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.attemptLatency.Observe(duration.Seconds())
}

// RecordSubmitDuration записывает длительность приёма заказа.
func (m *FulfillmentMetrics) RecordSubmitDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.submitLatency.Observe(duration.Seconds())
}

// AttemptStarted увеличивает число выполняющихся попыток.
func (m *FulfillmentMetrics) AttemptStarted() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

// AttemptFinished уменьшает число выполняющихся попыток.
func (m *FulfillmentMetrics) AttemptFinished() {
	if m == nil {
		return
	}
	m.inFlight.Dec()
}
