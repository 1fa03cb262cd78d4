// Package metrics implements the streaming telemetry pipeline: a fixed
// capacity ring buffer of metric events, a collector with adaptive sampling
// and periodic batched flushes to a sink, and a running aggregator for
// point-in-time rollups. Telemetry is best-effort by design: a failing sink
// never aborts task or workflow execution.
package metrics

import (
	"context"
	"time"
)

// Domain identifies which part of the system produced an event.
type Domain string

const (
	DomainSystem   Domain = "SYSTEM"
	DomainAgent    Domain = "AGENT"
	DomainTask     Domain = "TASK"
	DomainWorkflow Domain = "WORKFLOW"
	DomainTeam     Domain = "TEAM"
	DomainLLM      Domain = "LLM"
)

// Type classifies what an event measures.
type Type string

const (
	TypePerformance     Type = "PERFORMANCE"
	TypeLatency         Type = "LATENCY"
	TypeThroughput      Type = "THROUGHPUT"
	TypeResource        Type = "RESOURCE"
	TypeStateTransition Type = "STATE_TRANSITION"
	TypeSuccess         Type = "SUCCESS"
	TypeError           Type = "ERROR"
	TypeUsage           Type = "USAGE"
)

// Event is a single timestamped telemetry sample. Events are buffered and
// flushed in batches; only aggregates outlive the buffer's retention window.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Domain    Domain         `json:"domain"`
	Type      Type           `json:"type"`
	Value     float64        `json:"value"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// QueryOptions filters a sink query. Zero values match everything.
type QueryOptions struct {
	Domain Domain
	Type   Type
	Since  time.Time
	Limit  int
}

// Sink receives flushed metric events. Implementations may persist, export
// or discard them; StoreMetric failures are counted and swallowed upstream.
type Sink interface {
	StoreMetric(ctx context.Context, event Event) error
	QueryMetrics(ctx context.Context, opts QueryOptions) ([]Event, error)
}
