package pubsub

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBufferSize is the default channel buffer for subscribers.
const DefaultBufferSize = 64

type BrokerOption[T any] func(*Broker[T])

// WithBufferSize sets the subscriber channel buffer size.
func WithBufferSize[T any](size int) BrokerOption[T] {
	return func(b *Broker[T]) {
		if size >= 0 {
			b.bufferSize = size
		}
	}
}

// WithDropPolicy sets whether to drop events when a subscriber is full.
// When false, Publish waits until every live subscriber has taken the event.
func WithDropPolicy[T any](drop bool) BrokerOption[T] {
	return func(b *Broker[T]) {
		b.dropOnFull = drop
	}
}

type subscription[T any] struct {
	ch   chan Event[T]
	done chan struct{}
}

// Broker fans events out to subscribers. Publishing holds a read lock for
// the whole delivery, so events reach each subscriber in publish order and
// a subscriber channel is never closed while a send is pending.
type Broker[T any] struct {
	name       string
	subs       map[*subscription[T]]struct{}
	mu         sync.RWMutex
	pubMu      sync.Mutex
	done       chan struct{}
	closeOnce  sync.Once
	bufferSize int
	dropOnFull bool

	seq          atomic.Uint64
	publishCount atomic.Int64
	dropCount    atomic.Int64
}

func NewBroker[T any](name string, opts ...BrokerOption[T]) *Broker[T] {
	b := &Broker[T]{
		name:       name,
		subs:       make(map[*subscription[T]]struct{}),
		done:       make(chan struct{}),
		bufferSize: DefaultBufferSize,
		dropOnFull: true,
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

func (b *Broker[T]) Name() string {
	return b.name
}

// Subscribe returns a channel that receives events until ctx is done or the
// broker shuts down; the channel is then closed.
func (b *Broker[T]) Subscribe(ctx context.Context) <-chan Event[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	select {
	case <-b.done:
		ch := make(chan Event[T])
		close(ch)
		return ch
	default:
	}

	sub := &subscription[T]{
		ch:   make(chan Event[T], b.bufferSize),
		done: make(chan struct{}),
	}
	b.subs[sub] = struct{}{}

	go func() {
		select {
		case <-ctx.Done():
		case <-b.done:
		}

		// Release any publisher blocked on this subscriber before taking
		// the write lock.
		close(sub.done)

		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[sub]; !ok {
			return
		}
		delete(b.subs, sub)
		close(sub.ch)
	}()

	return sub.ch
}

// Publish sends an event to all subscribers.
func (b *Broker[T]) Publish(eventType EventType, payload T) {
	// Serialise publishers so sequence numbers match delivery order.
	b.pubMu.Lock()
	defer b.pubMu.Unlock()

	b.mu.RLock()
	defer b.mu.RUnlock()

	select {
	case <-b.done:
		return
	default:
	}

	event := Event[T]{
		Type:      eventType,
		Payload:   payload,
		Seq:       b.seq.Add(1),
		Timestamp: time.Now(),
	}
	b.publishCount.Add(1)

	for sub := range b.subs {
		if b.dropOnFull {
			select {
			case sub.ch <- event:
			default:
				b.dropCount.Add(1)
			}
			continue
		}

		select {
		case sub.ch <- event:
		case <-sub.done:
			b.dropCount.Add(1)
		case <-b.done:
			return
		}
	}
}

// Shutdown closes every subscriber channel. It is idempotent.
func (b *Broker[T]) Shutdown() {
	b.closeOnce.Do(func() {
		close(b.done)
	})

	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subs {
		delete(b.subs, sub)
		close(sub.ch)
	}
}

func (b *Broker[T]) IsShutdown() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

func (b *Broker[T]) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Broker[T]) Metrics() BrokerMetrics {
	return BrokerMetrics{
		Name:            b.name,
		PublishCount:    b.publishCount.Load(),
		DropCount:       b.dropCount.Load(),
		SubscriberCount: b.SubscriberCount(),
	}
}

type BrokerMetrics struct {
	Name            string
	PublishCount    int64
	DropCount       int64
	SubscriberCount int
}
