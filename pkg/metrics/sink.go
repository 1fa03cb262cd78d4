package metrics

import (
	"context"
	"sync"
)

// NoopSink discards every event. It is the default sink: telemetry stays
// purely in the aggregator unless a real sink is wired in.
type NoopSink struct{}

func (s *NoopSink) StoreMetric(ctx context.Context, event Event) error {
	return nil
}

func (s *NoopSink) QueryMetrics(ctx context.Context, opts QueryOptions) ([]Event, error) {
	return nil, nil
}

// MemorySink retains stored events in memory. Intended for tests and for
// the debug server's metrics view.
type MemorySink struct {
	mu     sync.RWMutex
	events []Event
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) StoreMetric(ctx context.Context, event Event) error {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
	return nil
}

func (s *MemorySink) QueryMetrics(ctx context.Context, opts QueryOptions) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Event
	for _, ev := range s.events {
		if opts.Domain != "" && ev.Domain != opts.Domain {
			continue
		}
		if opts.Type != "" && ev.Type != opts.Type {
			continue
		}
		if !opts.Since.IsZero() && ev.Timestamp.Before(opts.Since) {
			continue
		}
		out = append(out, ev)
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}
	return out, nil
}

// Len returns the number of stored events.
func (s *MemorySink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}
