package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestRecordCompletion(t *testing.T) {
	// Use a fresh registry to avoid polluting the default one
	reg := prometheus.NewRegistry()

	tokensTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "test_chartdesk_tokens_total",
		Help: "Test counter",
	}, []string{"provider", "model", "direction"})

	costTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "test_chartdesk_cost_usd_total",
		Help: "Test counter",
	}, []string{"provider", "model"})

	reg.MustRegister(tokensTotal, costTotal)

	m := &Metrics{
		TokensTotal:  tokensTotal,
		CostUSDTotal: costTotal,
	}

	m.RecordCompletion("openai-main", "gpt-4o", 100, 50, 0.005)

	var metric dto.Metric
	inputCounter, err := tokensTotal.GetMetricWithLabelValues("openai-main", "gpt-4o", "input")
	if err != nil {
		t.Fatalf("failed to get metric: %v", err)
	}
	inputCounter.Write(&metric)
	if *metric.Counter.Value != 100 {
		t.Errorf("expected 100 input tokens, got %v", *metric.Counter.Value)
	}

	costCounter, _ := costTotal.GetMetricWithLabelValues("openai-main", "gpt-4o")
	costCounter.Write(&metric)
	if *metric.Counter.Value != 0.005 {
		t.Errorf("expected cost 0.005, got %v", *metric.Counter.Value)
	}
}

func TestRecordCacheLookup(t *testing.T) {
	lookupTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "test_cache_lookup",
		Help: "Test",
	}, []string{"outcome"})

	m := &Metrics{CacheLookupTotal: lookupTotal}
	m.RecordCacheLookup("hit")
	m.RecordCacheLookup("hit")
	m.RecordCacheLookup("miss")

	var metric dto.Metric
	counter, _ := lookupTotal.GetMetricWithLabelValues("hit")
	counter.Write(&metric)
	if *metric.Counter.Value != 2 {
		t.Errorf("expected 2 hits, got %v", *metric.Counter.Value)
	}
}

func TestRecordWorkflowUnit(t *testing.T) {
	unitTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "test_workflow_unit",
		Help: "Test",
	}, []string{"step", "outcome"})

	m := &Metrics{WorkflowUnitTotal: unitTotal}
	m.RecordWorkflowUnit("report", "degraded")

	var metric dto.Metric
	counter, _ := unitTotal.GetMetricWithLabelValues("report", "degraded")
	counter.Write(&metric)
	if *metric.Counter.Value != 1 {
		t.Errorf("expected 1 degraded unit, got %v", *metric.Counter.Value)
	}
}
