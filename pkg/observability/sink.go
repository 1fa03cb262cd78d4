package observability

import (
	"context"
	"errors"

	"github.com/kanba-ai/kanba/pkg/metrics"
)

// ErrQueryUnsupported is returned by OTelSink.QueryMetrics: the Prometheus
// registry is the query surface for exported metrics.
var ErrQueryUnsupported = errors.New("otel sink does not support queries")

// OTelSink adapts the collector's flush pipeline onto otel instruments.
// Events that match no instrument are dropped silently; the sink is a
// projection, not an archive.
type OTelSink struct {
	m *Metrics
}

func NewSink(m *Metrics) *OTelSink {
	return &OTelSink{m: m}
}

func (s *OTelSink) StoreMetric(ctx context.Context, ev metrics.Event) error {
	switch ev.Domain {
	case metrics.DomainTask:
		if ev.Type == metrics.TypeStateTransition {
			s.m.RecordTaskTransition(ctx, metaString(ev, "task"), metaString(ev, "status"))
		}

	case metrics.DomainAgent:
		switch ev.Type {
		case metrics.TypeStateTransition:
			s.m.RecordAgentTransition(ctx, metaString(ev, "agent"), metaString(ev, "status"))
		case metrics.TypeLatency:
			s.m.RecordToolCall(ctx, metaString(ev, "tool"), ev.Value, false)
		case metrics.TypeError:
			if tool := metaString(ev, "tool"); tool != "" {
				s.m.RecordToolCall(ctx, tool, 0, true)
			}
		}

	case metrics.DomainLLM:
		model := metaString(ev, "model")
		switch ev.Type {
		case metrics.TypeLatency:
			s.m.RecordLLMCall(ctx, model, ev.Value, 0, false)
		case metrics.TypeUsage:
			s.m.RecordLLMCall(ctx, model, 0, int64(ev.Value), false)
		case metrics.TypeError:
			s.m.RecordLLMCall(ctx, model, 0, 0, true)
		}
	}
	return nil
}

func (s *OTelSink) QueryMetrics(ctx context.Context, opts metrics.QueryOptions) ([]metrics.Event, error) {
	return nil, ErrQueryUnsupported
}

func metaString(ev metrics.Event, key string) string {
	if ev.Metadata == nil {
		return ""
	}
	v, _ := ev.Metadata[key].(string)
	return v
}
