package metrics

import (
	"fmt"
	"sync"
)

// Aggregator keeps running sums and counts keyed by "domain:type". It is
// independent of the buffer's retention window: every collected event lands
// here exactly once, regardless of sampling.
type Aggregator struct {
	mu     sync.RWMutex
	sums   map[string]float64
	counts map[string]int64
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		sums:   make(map[string]float64),
		counts: make(map[string]int64),
	}
}

func aggregateKey(domain Domain, typ Type) string {
	return fmt.Sprintf("%s:%s", domain, typ)
}

// Add folds one event into the rollup.
func (a *Aggregator) Add(ev Event) {
	key := aggregateKey(ev.Domain, ev.Type)
	a.mu.Lock()
	a.sums[key] += ev.Value
	a.counts[key]++
	a.mu.Unlock()
}

// Sum returns the running sum for a domain and type.
func (a *Aggregator) Sum(domain Domain, typ Type) float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.sums[aggregateKey(domain, typ)]
}

// Count returns the number of events folded in for a domain and type.
func (a *Aggregator) Count(domain Domain, typ Type) int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.counts[aggregateKey(domain, typ)]
}

// Snapshot returns a copy of all running sums.
func (a *Aggregator) Snapshot() map[string]float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]float64, len(a.sums))
	for k, v := range a.sums {
		out[k] = v
	}
	return out
}

// Reset clears all rollups.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	a.sums = make(map[string]float64)
	a.counts = make(map[string]int64)
	a.mu.Unlock()
}
