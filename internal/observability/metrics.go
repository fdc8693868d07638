package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the runtime's Prometheus collector set: relay event intake and
// publishing, LLM latency and token spend, tool runs, strategy outcomes, and
// error rates per component. Every Record method is safe on a nil receiver,
// so components run unchanged when metrics are not wired.
type Metrics struct {
	// EventCounter tracks events consumed from relays.
	// Labels: kind (event kind as string), status (handled|skipped|failed)
	EventCounter *prometheus.CounterVec

	// PublishCounter tracks events published to relays.
	// Labels: kind, status (success|error)
	PublishCounter *prometheus.CounterVec

	// PublishRetries counts publish attempts beyond the first.
	PublishRetries prometheus.Counter

	// LLMRequestDuration observes provider call latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts provider calls.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed sums tokens spent per call type.
	// Labels: provider, model, type (prompt|completion|cache_create|cache_read)
	LLMTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool runs.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration observes tool runtimes in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// StrategyRunCounter counts strategy executions.
	// Labels: strategy (single|hierarchical|parallel|phased), status (success|failed)
	StrategyRunCounter *prometheus.CounterVec

	// StrategyRunDuration measures end-to-end strategy latency in seconds.
	// Labels: strategy
	StrategyRunDuration *prometheus.HistogramVec

	// ActiveConversations is a gauge tracking conversations with a run in flight.
	ActiveConversations prometheus.Gauge

	// ErrorCounter tracks errors by component and type.
	// Labels: component (bus|store|llm|tool|planner|strategy|orchestrator), error_type
	ErrorCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the default registry.
// Call once at startup; the collectors surface on the /metrics endpoint.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers the metrics with a caller-supplied registerer.
// Tests use this with prometheus.NewRegistry for isolation.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		EventCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenex_events_total",
				Help: "Total number of relay events consumed by kind and status",
			},
			[]string{"kind", "status"},
		),

		PublishCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenex_publishes_total",
				Help: "Total number of events published to relays by kind and status",
			},
			[]string{"kind", "status"},
		),

		PublishRetries: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tenex_publish_retries_total",
				Help: "Total number of publish attempts beyond the first",
			},
		),

		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tenex_llm_request_duration_seconds",
				Help:    "LLM provider request latency in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenex_llm_requests_total",
				Help: "Total LLM provider requests by provider, model and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenex_llm_tokens_total",
				Help: "Total LLM tokens consumed by provider, model and type",
			},
			[]string{"provider", "model", "type"},
		),

		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenex_tool_executions_total",
				Help: "Total tool runs by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tenex_tool_execution_duration_seconds",
				Help:    "Tool run duration in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		StrategyRunCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenex_strategy_runs_total",
				Help: "Total number of strategy runs by strategy and status",
			},
			[]string{"strategy", "status"},
		),

		StrategyRunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tenex_strategy_run_duration_seconds",
				Help:    "End-to-end duration of strategy runs in seconds",
				Buckets: []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"strategy"},
		),

		ActiveConversations: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "tenex_active_conversations",
				Help: "Current number of conversations with a run in flight",
			},
		),

		ErrorCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenex_errors_total",
				Help: "Total number of errors by component and error type",
			},
			[]string{"component", "error_type"},
		),
	}
}

// RecordEvent counts a consumed relay event.
func (m *Metrics) RecordEvent(kind, status string) {
	if m == nil {
		return
	}
	m.EventCounter.WithLabelValues(kind, status).Inc()
}

// RecordPublish counts a publish outcome for a given kind.
func (m *Metrics) RecordPublish(kind, status string) {
	if m == nil {
		return
	}
	m.PublishCounter.WithLabelValues(kind, status).Inc()
}

// RecordPublishRetry counts one publish attempt beyond the first.
func (m *Metrics) RecordPublishRetry() {
	if m == nil {
		return
	}
	m.PublishRetries.Inc()
}

// RecordLLMRequest records latency, outcome, and token usage for one LLM call.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens, cacheCreate, cacheRead int) {
	if m == nil {
		return
	}
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
	if cacheCreate > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "cache_create").Add(float64(cacheCreate))
	}
	if cacheRead > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "cache_read").Add(float64(cacheRead))
	}
}

// RecordToolExecution records one tool invocation.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordStrategyRun records one strategy execution.
func (m *Metrics) RecordStrategyRun(strategy, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.StrategyRunCounter.WithLabelValues(strategy, status).Inc()
	m.StrategyRunDuration.WithLabelValues(strategy).Observe(durationSeconds)
}

// ConversationStarted increments the active conversation gauge.
func (m *Metrics) ConversationStarted() {
	if m == nil {
		return
	}
	m.ActiveConversations.Inc()
}

// ConversationFinished decrements the active conversation gauge.
func (m *Metrics) ConversationFinished() {
	if m == nil {
		return
	}
	m.ActiveConversations.Dec()
}

// RecordError increments the error counter for a component and error type.
func (m *Metrics) RecordError(component, errorType string) {
	if m == nil {
		return
	}
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}
