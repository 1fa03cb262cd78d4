// Package observability exports workflow metrics through OpenTelemetry to a
// Prometheus registry. It adapts the internal metric event stream to otel
// instruments so the /metrics endpoint reflects live workflow activity.
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics bundles the otel instruments the orchestrator records into. The
// zero value (disabled) is safe to use everywhere.
type Metrics struct {
	enabled bool

	taskTransitions  metric.Int64Counter
	agentTransitions metric.Int64Counter
	taskSuccesses    metric.Int64Counter
	taskErrors       metric.Int64Counter
	llmDuration      metric.Float64Histogram
	llmTokens        metric.Int64Counter
	llmErrors        metric.Int64Counter
	toolDuration     metric.Float64Histogram
	toolErrors       metric.Int64Counter
}

// Init builds the Prometheus exporter and the instrument set. The returned
// provider must be kept alive for the life of the process.
func Init(ctx context.Context) (*Metrics, *sdkmetric.MeterProvider, error) {
	promExporter, err := prometheus.New()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
	)
	meter := meterProvider.Meter("kanba")

	m := &Metrics{enabled: true}

	if m.taskTransitions, err = meter.Int64Counter(
		"kanba_task_transitions_total",
		metric.WithDescription("Total task status transitions"),
	); err != nil {
		return nil, nil, fmt.Errorf("failed to create task transitions counter: %w", err)
	}

	if m.agentTransitions, err = meter.Int64Counter(
		"kanba_agent_transitions_total",
		metric.WithDescription("Total agent status transitions"),
	); err != nil {
		return nil, nil, fmt.Errorf("failed to create agent transitions counter: %w", err)
	}

	if m.taskSuccesses, err = meter.Int64Counter(
		"kanba_tasks_completed_total",
		metric.WithDescription("Total tasks completed successfully"),
	); err != nil {
		return nil, nil, fmt.Errorf("failed to create task successes counter: %w", err)
	}

	if m.taskErrors, err = meter.Int64Counter(
		"kanba_task_errors_total",
		metric.WithDescription("Total tasks ending in error"),
	); err != nil {
		return nil, nil, fmt.Errorf("failed to create task errors counter: %w", err)
	}

	if m.llmDuration, err = meter.Float64Histogram(
		"kanba_llm_request_duration_seconds",
		metric.WithDescription("LLM request duration in seconds"),
	); err != nil {
		return nil, nil, fmt.Errorf("failed to create llm duration histogram: %w", err)
	}

	if m.llmTokens, err = meter.Int64Counter(
		"kanba_llm_tokens_total",
		metric.WithDescription("Total tokens exchanged with LLM providers"),
	); err != nil {
		return nil, nil, fmt.Errorf("failed to create llm tokens counter: %w", err)
	}

	if m.llmErrors, err = meter.Int64Counter(
		"kanba_llm_errors_total",
		metric.WithDescription("Total LLM call errors"),
	); err != nil {
		return nil, nil, fmt.Errorf("failed to create llm errors counter: %w", err)
	}

	if m.toolDuration, err = meter.Float64Histogram(
		"kanba_tool_execution_duration_seconds",
		metric.WithDescription("Tool execution duration in seconds"),
	); err != nil {
		return nil, nil, fmt.Errorf("failed to create tool duration histogram: %w", err)
	}

	if m.toolErrors, err = meter.Int64Counter(
		"kanba_tool_errors_total",
		metric.WithDescription("Total tool execution errors"),
	); err != nil {
		return nil, nil, fmt.Errorf("failed to create tool errors counter: %w", err)
	}

	return m, meterProvider, nil
}

// RecordTaskTransition counts one task status change.
func (m *Metrics) RecordTaskTransition(ctx context.Context, taskTitle, st string) {
	if !m.enabled {
		return
	}
	m.taskTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", st),
	))
	switch st {
	case "DONE", "VALIDATED":
		m.taskSuccesses.Add(ctx, 1)
	case "ERROR":
		m.taskErrors.Add(ctx, 1)
	}
}

// RecordAgentTransition counts one agent status change.
func (m *Metrics) RecordAgentTransition(ctx context.Context, agentName, st string) {
	if !m.enabled {
		return
	}
	m.agentTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("agent", agentName),
		attribute.String("status", st),
	))
}

// RecordLLMCall records one provider call's latency and volume.
func (m *Metrics) RecordLLMCall(ctx context.Context, model string, seconds float64, tokens int64, failed bool) {
	if !m.enabled {
		return
	}
	attrs := metric.WithAttributes(attribute.String("model", model))
	m.llmDuration.Record(ctx, seconds, attrs)
	if tokens > 0 {
		m.llmTokens.Add(ctx, tokens, attrs)
	}
	if failed {
		m.llmErrors.Add(ctx, 1, attrs)
	}
}

// RecordToolCall records one tool invocation.
func (m *Metrics) RecordToolCall(ctx context.Context, tool string, seconds float64, failed bool) {
	if !m.enabled {
		return
	}
	attrs := metric.WithAttributes(attribute.String("tool", tool))
	m.toolDuration.Record(ctx, seconds, attrs)
	if failed {
		m.toolErrors.Add(ctx, 1, attrs)
	}
}
