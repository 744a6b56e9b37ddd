package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()

	var metric dto.Metric
	if err := g.Write(&metric); err != nil {
		t.Fatalf("write gauge: %v", err)
	}
	return metric.GetGauge().GetValue()
}

func TestOutboxMetrics_Backlog(t *testing.T) {
	m := NewOutboxMetricsWithRegisterer(prometheus.NewRegistry())
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	m.SetBacklog(4, now.Add(-30*time.Second), now)
	if got := gaugeValue(t, m.pending); got != 4 {
		t.Fatalf("expected 4 pending, got %v", got)
	}
	if got := gaugeValue(t, m.oldestAge); got != 30 {
		t.Fatalf("expected oldest age 30s, got %v", got)
	}

	m.SetBacklog(0, time.Time{}, now)
	if got := gaugeValue(t, m.oldestAge); got != 0 {
		t.Fatalf("expected oldest age reset, got %v", got)
	}

	m.SetBacklog(1, now.Add(time.Minute), now)
	if got := gaugeValue(t, m.oldestAge); got != 0 {
		t.Fatalf("clock skew must not produce negative age, got %v", got)
	}
}

func TestOutboxMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOutboxMetricsWithRegisterer(reg)
	shared := NewOutboxMetricsWithRegisterer(reg)

	m.RecordPublish("sent")
	shared.RecordPublish("sent")
	m.RecordPublish("error")
	m.RecordDeadLetter()

	if got := counterValue(t, m.publishes.WithLabelValues("sent")); got != 2 {
		t.Fatalf("expected 2 sent, got %v", got)
	}
	if got := counterValue(t, m.publishes.WithLabelValues("error")); got != 1 {
		t.Fatalf("expected 1 error, got %v", got)
	}
	if got := counterValue(t, m.deadLettered); got != 1 {
		t.Fatalf("expected 1 dead letter, got %v", got)
	}
}

func TestOutboxMetrics_NilSafe(t *testing.T) {
	var m *OutboxMetrics
	m.RecordPublish("sent")
	m.RecordDeadLetter()
	m.SetBacklog(1, time.Now(), time.Now())
}
