package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestOrdersTotal_CountsByStatus(t *testing.T) {
	OrdersTotal.Reset()

	OrdersTotal.WithLabelValues("completed").Inc()
	OrdersTotal.WithLabelValues("completed").Inc()
	OrdersTotal.WithLabelValues("refunded").Inc()

	m := &dto.Metric{}
	counter, err := OrdersTotal.GetMetricWithLabelValues("completed")
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues failed: %v", err)
	}
	_ = counter.Write(m)
	if got := m.Counter.GetValue(); got != 2.0 {
		t.Errorf("completed counter = %f, want 2", got)
	}
}

func TestSweepDuration_ObservesSamples(t *testing.T) {
	SweepDuration.Observe(0.02)

	ch := make(chan prometheus.Metric, 1)
	SweepDuration.Collect(ch)
	close(ch)

	metric, ok := <-ch
	if !ok {
		t.Fatal("histogram produced no metric")
	}
	m := &dto.Metric{}
	_ = metric.Write(m)
	if m.Histogram == nil || m.Histogram.GetSampleCount() == 0 {
		t.Error("expected at least one histogram sample")
	}
}

func TestStatusBucket(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, "2xx"},
		{201, "2xx"},
		{301, "3xx"},
		{404, "4xx"},
		{429, "4xx"},
		{500, "5xx"},
		{503, "5xx"},
	}
	for _, tt := range tests {
		if got := statusBucket(tt.code); got != tt.want {
			t.Errorf("statusBucket(%d) = %s, want %s", tt.code, got, tt.want)
		}
	}
}

func TestAllMetricsRegistered(t *testing.T) {
	LedgerEntriesTotal.WithLabelValues("deposit_credit").Inc()
	DepositsTotal.WithLabelValues("pending").Inc()
	ActiveWebSocketClients.Set(0)

	gathered, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	found := make(map[string]bool)
	for _, mf := range gathered {
		found[mf.GetName()] = true
	}
	for _, name := range []string{
		"playstash_ledger_entries_total",
		"playstash_deposits_total",
		"playstash_active_websocket_clients",
	} {
		if !found[name] {
			t.Errorf("metric %s not registered", name)
		}
	}
}
