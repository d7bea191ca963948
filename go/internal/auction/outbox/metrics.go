package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/guildloot/go/internal/auction"
)

// MetricsCollector defines the interface for collecting outbox metrics
type MetricsCollector interface {
	RecordEventProcessed(eventType string, success bool, duration time.Duration)
	RecordBatchProcessed(count int, duration time.Duration)
	RecordPublishAttempt(eventType string, attempt int, success bool)
}

// NoOpMetricsCollector is a no-op implementation for when metrics aren't needed
type NoOpMetricsCollector struct{}

func (NoOpMetricsCollector) RecordEventProcessed(string, bool, time.Duration) {}
func (NoOpMetricsCollector) RecordBatchProcessed(int, time.Duration)          {}
func (NoOpMetricsCollector) RecordPublishAttempt(string, int, bool)           {}

// MetricPublisher wraps a Publisher with metrics collection
type MetricPublisher struct {
	publisher Publisher
	metrics   MetricsCollector
	clock     clockwork.Clock
}

func NewMetricPublisher(publisher Publisher, metrics MetricsCollector, clock clockwork.Clock) *MetricPublisher {
	return &MetricPublisher{publisher: publisher, metrics: metrics, clock: clock}
}

func (p *MetricPublisher) Publish(ctx context.Context, event auction.OutboxEvent) error {
	start := p.clock.Now()
	err := p.publisher.Publish(ctx, event)
	p.metrics.RecordEventProcessed(event.EventType, err == nil, p.clock.Since(start))
	return err
}

// Counters keeps running totals per event type in memory.
type Counters struct {
	mu        sync.Mutex
	published map[string]uint64
	failed    map[string]uint64
	retries   uint64
	batches   uint64
}

func NewCounters() *Counters {
	return &Counters{
		published: make(map[string]uint64),
		failed:    make(map[string]uint64),
	}
}

func (c *Counters) RecordEventProcessed(eventType string, success bool, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if success {
		c.published[eventType]++
	} else {
		c.failed[eventType]++
	}
}

func (c *Counters) RecordBatchProcessed(count int, _ time.Duration) {
	if count == 0 {
		return
	}
	c.mu.Lock()
	c.batches++
	c.mu.Unlock()
}

func (c *Counters) RecordPublishAttempt(_ string, attempt int, _ bool) {
	if attempt <= 1 {
		return
	}
	c.mu.Lock()
	c.retries++
	c.mu.Unlock()
}

// Snapshot copies the current totals.
func (c *Counters) Snapshot() CounterSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := CounterSnapshot{
		Published: make(map[string]uint64, len(c.published)),
		Failed:    make(map[string]uint64, len(c.failed)),
		Retries:   c.retries,
		Batches:   c.batches,
	}
	for k, v := range c.published {
		s.Published[k] = v
	}
	for k, v := range c.failed {
		s.Failed[k] = v
	}
	return s
}

type CounterSnapshot struct {
	Published map[string]uint64 `json:"published"`
	Failed    map[string]uint64 `json:"failed"`
	Retries   uint64            `json:"retries"`
	Batches   uint64            `json:"batches"`
}
