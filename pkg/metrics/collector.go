package metrics

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultCapacity is the ring buffer capacity.
	DefaultCapacity = 1000

	// DefaultBatchSize is the flush chunk size; reaching it in the buffer
	// also triggers an immediate flush.
	DefaultBatchSize = 100

	// DefaultFlushInterval is the periodic flush timer.
	DefaultFlushInterval = 5 * time.Second

	// Sampling rate bounds and the rate watermarks that drive adaptation.
	minSamplingRate  = 0.1
	maxSamplingRate  = 1.0
	highRatePerSec   = 1000.0
	lowRatePerSec    = 100.0
	samplingDecrease = 0.75 // multiplicative, applied above the high watermark
	samplingIncrease = 0.05 // additive, applied below the low watermark
)

// CollectorConfig configures a Collector. Zero values take defaults.
type CollectorConfig struct {
	Capacity      int
	BatchSize     int
	FlushInterval time.Duration
	Sink          Sink
	Logger        *slog.Logger
}

// SetDefaults fills unset fields.
func (c *CollectorConfig) SetDefaults() {
	if c.Capacity <= 0 {
		c.Capacity = DefaultCapacity
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.Sink == nil {
		c.Sink = &NoopSink{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Collector buffers metric events and flushes them to a sink in batches.
// A rolling events-per-second rate drives an additive-increase,
// multiplicative-decrease sampling controller bounded to [0.1, 1.0]: the
// rate above 1000/s lowers the sampling probability, below 100/s raises it.
type Collector struct {
	mu        sync.Mutex
	buf       *CircularBuffer[Event]
	sink      Sink
	agg       *Aggregator
	batchSize int
	interval  time.Duration
	logger    *slog.Logger

	samplingRate float64
	windowStart  time.Time
	windowCount  int

	flushErrors int64
	flushedOK   int64

	// Injectable for deterministic tests.
	now   func() time.Time
	randF func() float64

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewCollector creates a collector. The aggregator always observes every
// collected event, sampled or not, so rollups stay exact.
func NewCollector(cfg CollectorConfig) (*Collector, error) {
	cfg.SetDefaults()
	buf, err := NewCircularBuffer[Event](cfg.Capacity)
	if err != nil {
		return nil, err
	}
	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &Collector{
		buf:          buf,
		sink:         cfg.Sink,
		agg:          NewAggregator(),
		batchSize:    cfg.BatchSize,
		interval:     cfg.FlushInterval,
		logger:       cfg.Logger,
		samplingRate: maxSamplingRate,
		now:          time.Now,
		randF:        rnd.Float64,
	}, nil
}

// Aggregator returns the collector's running aggregator.
func (c *Collector) Aggregator() *Aggregator { return c.agg }

// SamplingRate returns the current sampling probability.
func (c *Collector) SamplingRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.samplingRate
}

// Collect records one metric event. The event always feeds the aggregator;
// whether it is buffered for the sink is subject to the sampling rate. When
// the buffered count reaches the batch size the buffer is flushed inline.
func (c *Collector) Collect(domain Domain, typ Type, value float64, metadata map[string]any) {
	c.mu.Lock()

	now := c.now()
	c.trackRate(now)

	ev := Event{Timestamp: now, Domain: domain, Type: typ, Value: value, Metadata: metadata}
	c.agg.Add(ev)

	if c.randF() > c.samplingRate {
		c.mu.Unlock()
		return
	}
	c.buf.Push(ev)

	var pending []Event
	if c.buf.Len() >= c.batchSize {
		pending = c.buf.Drain()
	}
	c.mu.Unlock()

	if pending != nil {
		c.push(context.Background(), pending)
	}
}

// trackRate updates the rolling collection rate and adapts the sampling
// probability once per one-second window. Caller holds the lock.
func (c *Collector) trackRate(now time.Time) {
	if c.windowStart.IsZero() {
		c.windowStart = now
	}
	c.windowCount++

	elapsed := now.Sub(c.windowStart)
	if elapsed < time.Second {
		return
	}

	rate := float64(c.windowCount) / elapsed.Seconds()
	switch {
	case rate > highRatePerSec:
		c.samplingRate *= samplingDecrease
		if c.samplingRate < minSamplingRate {
			c.samplingRate = minSamplingRate
		}
	case rate < lowRatePerSec:
		c.samplingRate += samplingIncrease
		if c.samplingRate > maxSamplingRate {
			c.samplingRate = maxSamplingRate
		}
	}
	c.windowStart = now
	c.windowCount = 0
}

// Flush drains the buffer and pushes the drained events to the sink. Flush
// reports its own collection-rate sample first, then sends the events in
// batch-size chunks processed concurrently. Sink failures are logged and
// counted but never returned: a lost batch is accepted data loss.
func (c *Collector) Flush(ctx context.Context) {
	c.mu.Lock()
	pending := c.buf.Drain()
	rate := c.samplingRate
	c.mu.Unlock()

	if len(pending) == 0 {
		return
	}

	rateEvent := Event{
		Timestamp: c.now(),
		Domain:    DomainSystem,
		Type:      TypeThroughput,
		Value:     float64(len(pending)),
		Metadata:  map[string]any{"samplingRate": rate},
	}
	pending = append(pending, rateEvent)

	c.push(ctx, pending)
}

// push sends events to the sink in batchSize chunks, chunks in parallel.
func (c *Collector) push(ctx context.Context, events []Event) {
	g, ctx := errgroup.WithContext(ctx)
	for start := 0; start < len(events); start += c.batchSize {
		end := start + c.batchSize
		if end > len(events) {
			end = len(events)
		}
		chunk := events[start:end]
		g.Go(func() error {
			for _, ev := range chunk {
				if err := c.sink.StoreMetric(ctx, ev); err != nil {
					return err
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		c.mu.Lock()
		c.flushErrors++
		c.mu.Unlock()
		c.agg.Add(Event{Timestamp: c.now(), Domain: DomainSystem, Type: TypeError, Value: 1})
		c.logger.Error("metric flush failed", "error", err, "events", len(events))
		return
	}

	c.mu.Lock()
	c.flushedOK += int64(len(events))
	c.mu.Unlock()
}

// FlushErrors returns the number of failed flush attempts.
func (c *Collector) FlushErrors() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushErrors
}

// Start launches the periodic flush loop. It returns immediately; Stop (or
// context cancellation) terminates the loop after a final flush.
func (c *Collector) Start(ctx context.Context) {
	c.mu.Lock()
	if c.stopCh != nil {
		c.mu.Unlock()
		return
	}
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	stopCh, doneCh := c.stopCh, c.doneCh
	c.mu.Unlock()

	go func() {
		defer close(doneCh)
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.Flush(ctx)
			case <-ctx.Done():
				c.Flush(context.Background())
				return
			case <-stopCh:
				c.Flush(context.Background())
				return
			}
		}
	}()
}

// Stop terminates the flush loop and waits for the final flush.
func (c *Collector) Stop() {
	c.mu.Lock()
	stopCh, doneCh := c.stopCh, c.doneCh
	c.stopCh = nil
	c.doneCh = nil
	c.mu.Unlock()

	if stopCh == nil {
		return
	}
	close(stopCh)
	<-doneCh
}
