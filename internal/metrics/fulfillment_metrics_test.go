package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()

	var metric dto.Metric
	if err := c.Write(&metric); err != nil {
		t.Fatalf("write counter: %v", err)
	}
	return metric.GetCounter().GetValue()
}

func TestNewFulfillmentMetrics_RegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()

	first := NewFulfillmentMetricsWithRegisterer(reg)
	second := NewFulfillmentMetricsWithRegisterer(reg)

	first.RecordStockDrift()
	second.RecordStockDrift()

	if got := counterValue(t, first.stockDrift); got != 2 {
		t.Fatalf("expected shared drift counter value 2, got %v", got)
	}
}

func TestFulfillmentMetrics_Counters(t *testing.T) {
	m := NewFulfillmentMetricsWithRegisterer(prometheus.NewRegistry())

	m.RecordReservation("ok")
	m.RecordReservation("ok")
	m.RecordReservation("insufficient")
	m.RecordCompensation("enqueue", true)
	m.RecordOutcome("committed")
	m.RecordRetry()
	m.RecordExhausted()
	m.RecordConsumeError()

	if got := counterValue(t, m.reservations.WithLabelValues("ok")); got != 2 {
		t.Fatalf("expected 2 ok reservations, got %v", got)
	}
	if got := counterValue(t, m.reservations.WithLabelValues("insufficient")); got != 1 {
		t.Fatalf("expected 1 insufficient reservation, got %v", got)
	}
	if got := counterValue(t, m.compensations.WithLabelValues("enqueue", "true")); got != 1 {
		t.Fatalf("expected 1 enqueue compensation, got %v", got)
	}
	if got := counterValue(t, m.outcomes.WithLabelValues("committed")); got != 1 {
		t.Fatalf("expected 1 committed outcome, got %v", got)
	}
	if got := counterValue(t, m.retries); got != 1 {
		t.Fatalf("expected 1 retry, got %v", got)
	}
	if got := counterValue(t, m.exhausted); got != 1 {
		t.Fatalf("expected 1 exhausted, got %v", got)
	}
	if got := counterValue(t, m.consumeErrors); got != 1 {
		t.Fatalf("expected 1 consume error, got %v", got)
	}
}

func TestFulfillmentMetrics_InFlightAndDurations(t *testing.T) {
	m := NewFulfillmentMetricsWithRegisterer(prometheus.NewRegistry())

	m.AttemptStarted()
	m.AttemptStarted()
	m.AttemptFinished()
	m.RecordAttemptDuration(150 * time.Millisecond)
	m.RecordSubmitDuration(2 * time.Millisecond)

	var gauge dto.Metric
	if err := m.inFlight.Write(&gauge); err != nil {
		t.Fatalf("write gauge: %v", err)
	}
	if gauge.GetGauge().GetValue() != 1 {
		t.Fatalf("expected 1 in-flight attempt, got %v", gauge.GetGauge().GetValue())
	}

	var hist dto.Metric
	if err := m.attemptLatency.Write(&hist); err != nil {
		t.Fatalf("write histogram: %v", err)
	}
	if hist.GetHistogram().GetSampleCount() != 1 {
		t.Fatalf("expected 1 attempt sample, got %d", hist.GetHistogram().GetSampleCount())
	}
}

func TestFulfillmentMetrics_NilSafe(t *testing.T) {
	var m *FulfillmentMetrics

	m.RecordReservation("ok")
	m.RecordCompensation("persist", false)
	m.RecordOutcome("skipped")
	m.RecordRetry()
	m.RecordExhausted()
	m.RecordStockDrift()
	m.RecordConsumeError()
	m.RecordAttemptDuration(time.Second)
	m.RecordSubmitDuration(time.Second)
	m.AttemptStarted()
	m.AttemptFinished()
}
