// Package bus implements the dataflow graph's inter-node event bus: a
// partitioned, queued delivery mode for control/lifecycle events, and a
// single-slot "latest wins" delivery mode for the per-tick sensor/action
// payloads the node runtime fans out at the configured tick period.
package bus

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
)

// EventBus is the queued, ordered delivery mode: every published event is
// eventually handled exactly once, in publish order within its partition.
// Used for the named channels that must not drop deliveries
// (save_queue, image_queue, offload_events, cancel).
type EventBus interface {
	Publish(event *Event) error
	Subscribe(topic string, handler Handler) error
	Close() error
	GetStats() *Stats
}

// Stats reports bus throughput and backlog.
type Stats struct {
	PublishedCount int64
	ProcessedCount int64
	PartitionCount int
	QueuedCount    []int
}

// InMemoryEventBus is an in-process EventBus partitioned by FNV hash of
// the event key, so that events sharing a key (e.g. one episode's save
// lifecycle) are processed in order by the same goroutine while unrelated
// keys fan out across partitions.
type InMemoryEventBus struct {
	partitions     []*partition
	partitionCount int
	queueSize      int
	subscribers    map[string]Handler
	mu             sync.RWMutex
	closed         int32

	publishedCount int64
	processedCount int64
}

// NewInMemoryEventBus creates a partitioned event bus with partitionCount
// goroutines, each buffering up to queueSize pending events.
func NewInMemoryEventBus(partitionCount, queueSize int) EventBus {
	b := &InMemoryEventBus{
		partitionCount: partitionCount,
		queueSize:      queueSize,
		subscribers:    make(map[string]Handler),
		partitions:     make([]*partition, partitionCount),
	}

	for i := 0; i < partitionCount; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		b.partitions[i] = &partition{
			id:     i,
			queue:  make(chan *Event, queueSize),
			ctx:    ctx,
			cancel: cancel,
		}
		go b.runPartition(b.partitions[i])
	}

	return b
}

// Publish enqueues an event onto the partition selected by its key.
// Returns an error if that partition's queue is full rather than
// blocking — callers that cannot tolerate drops must size queueSize
// generously or shed load upstream.
func (b *InMemoryEventBus) Publish(event *Event) error {
	if atomic.LoadInt32(&b.closed) == 1 {
		return fmt.Errorf("bus: event bus is closed")
	}

	id := b.getPartitionID(event.Key)
	p := b.partitions[id]

	select {
	case p.queue <- event:
		atomic.AddInt64(&b.publishedCount, 1)
		return nil
	default:
		return fmt.Errorf("bus: partition %d queue is full", id)
	}
}

// Subscribe registers a handler for a topic. Only one handler per topic
// is supported; a later Subscribe call replaces the previous handler.
func (b *InMemoryEventBus) Subscribe(topic string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if atomic.LoadInt32(&b.closed) == 1 {
		return fmt.Errorf("bus: event bus is closed")
	}

	b.subscribers[topic] = handler
	for _, p := range b.partitions {
		p.handler = b.dispatch
	}

	slog.Info("bus: subscribed", "topic", topic)
	return nil
}

// Close stops all partition consumers. Idempotent.
func (b *InMemoryEventBus) Close() error {
	if !atomic.CompareAndSwapInt32(&b.closed, 0, 1) {
		return nil
	}
	for _, p := range b.partitions {
		p.cancel()
		close(p.queue)
	}
	slog.Info("bus: closed")
	return nil
}

// GetStats returns a snapshot of publish/process counters and per-partition backlog.
func (b *InMemoryEventBus) GetStats() *Stats {
	stats := &Stats{
		PublishedCount: atomic.LoadInt64(&b.publishedCount),
		ProcessedCount: atomic.LoadInt64(&b.processedCount),
		PartitionCount: b.partitionCount,
		QueuedCount:    make([]int, b.partitionCount),
	}
	for i, p := range b.partitions {
		stats.QueuedCount[i] = len(p.queue)
	}
	return stats
}

func (b *InMemoryEventBus) getPartitionID(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32()) % b.partitionCount
}

func (b *InMemoryEventBus) dispatch(event *Event) error {
	b.mu.RLock()
	handler, ok := b.subscribers[event.Topic]
	b.mu.RUnlock()

	if !ok {
		return nil
	}
	return handler(event)
}

func (b *InMemoryEventBus) runPartition(p *partition) {
	slog.Info("bus: partition started", "partition", p.id)
	defer slog.Info("bus: partition stopped", "partition", p.id)

	for {
		select {
		case <-p.ctx.Done():
			return
		case event, ok := <-p.queue:
			if !ok {
				return
			}
			if p.handler != nil {
				if err := p.handler(event); err != nil {
					slog.Error("bus: handler failed", "partition", p.id, "topic", event.Topic, "error", err)
				} else {
					atomic.AddInt64(&b.processedCount, 1)
				}
			}
		}
	}
}
