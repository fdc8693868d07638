package observability

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordEvent(t *testing.T) {
	metrics := NewMetricsWith(prometheus.NewRegistry())

	metrics.RecordEvent("1", "handled")
	metrics.RecordEvent("1", "handled")
	metrics.RecordEvent("24001", "skipped")

	expected := `
		# HELP tenex_events_total Total number of relay events consumed by kind and status
		# TYPE tenex_events_total counter
		tenex_events_total{kind="1",status="handled"} 2
		tenex_events_total{kind="24001",status="skipped"} 1
	`
	if err := testutil.CollectAndCompare(metrics.EventCounter, strings.NewReader(expected)); err != nil {
		t.Errorf("Unexpected metric value: %v", err)
	}
}

func TestRecordLLMRequest(t *testing.T) {
	metrics := NewMetricsWith(prometheus.NewRegistry())

	metrics.RecordLLMRequest("anthropic", "claude-sonnet-4-20250514", "success", 1.5, 100, 50, 200, 0)
	metrics.RecordLLMRequest("anthropic", "claude-sonnet-4-20250514", "error", 0.2, 0, 0, 0, 0)

	if got := testutil.ToFloat64(metrics.LLMRequestCounter.WithLabelValues("anthropic", "claude-sonnet-4-20250514", "success")); got != 1 {
		t.Errorf("success counter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.LLMRequestCounter.WithLabelValues("anthropic", "claude-sonnet-4-20250514", "error")); got != 1 {
		t.Errorf("error counter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.LLMTokensUsed.WithLabelValues("anthropic", "claude-sonnet-4-20250514", "prompt")); got != 100 {
		t.Errorf("prompt tokens = %v, want 100", got)
	}
	if got := testutil.ToFloat64(metrics.LLMTokensUsed.WithLabelValues("anthropic", "claude-sonnet-4-20250514", "cache_create")); got != 200 {
		t.Errorf("cache_create tokens = %v, want 200", got)
	}
}

func TestRecordStrategyRun(t *testing.T) {
	metrics := NewMetricsWith(prometheus.NewRegistry())

	metrics.RecordStrategyRun("hierarchical", "success", 12.5)
	metrics.RecordStrategyRun("parallel", "failed", 3.0)

	if got := testutil.ToFloat64(metrics.StrategyRunCounter.WithLabelValues("hierarchical", "success")); got != 1 {
		t.Errorf("hierarchical success = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.StrategyRunCounter.WithLabelValues("parallel", "failed")); got != 1 {
		t.Errorf("parallel failed = %v, want 1", got)
	}
}

func TestActiveConversationsGauge(t *testing.T) {
	metrics := NewMetricsWith(prometheus.NewRegistry())

	metrics.ConversationStarted()
	metrics.ConversationStarted()
	metrics.ConversationFinished()

	if got := testutil.ToFloat64(metrics.ActiveConversations); got != 1 {
		t.Errorf("active conversations = %v, want 1", got)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var metrics *Metrics

	metrics.RecordEvent("1", "handled")
	metrics.RecordPublish("1", "success")
	metrics.RecordPublishRetry()
	metrics.RecordLLMRequest("openai", "gpt-4o", "success", 0.5, 10, 10, 0, 0)
	metrics.RecordToolExecution("shell", "success", 0.1)
	metrics.RecordStrategyRun("single", "success", 1.0)
	metrics.ConversationStarted()
	metrics.ConversationFinished()
	metrics.RecordError("bus", "timeout")
}
