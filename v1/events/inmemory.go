package events

import (
	"context"
	"sync"
	"sync/atomic"
)

// InMemoryBus is a local implementation of Bus.
type InMemoryBus struct {
	mu        sync.Mutex
	subs      map[string][]chan Event
	published uint64
	delivered uint64
}

// NewInMemoryBus returns a new InMemoryBus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{subs: make(map[string][]chan Event)}
}

// Publish implements Publisher.Publish. Slow watchers miss events rather
// than blocking the publisher.
func (b *InMemoryBus) Publish(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	atomic.AddUint64(&b.published, 1)
	// deliver under the lock so Unwatch cannot close a channel mid-send
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs[e.ShowID] {
		select {
		case ch <- e:
			atomic.AddUint64(&b.delivered, 1)
		default:
		}
	}
	return nil
}

// Watch implements Bus.Watch.
func (b *InMemoryBus) Watch(ctx context.Context, showID string) (chan Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ch := make(chan Event, 16)
	b.mu.Lock()
	b.subs[showID] = append(b.subs[showID], ch)
	b.mu.Unlock()
	go func() {
		<-ctx.Done()
		_ = b.Unwatch(context.Background(), showID, ch)
	}()
	return ch, nil
}

// Unwatch implements Bus.Unwatch.
func (b *InMemoryBus) Unwatch(ctx context.Context, showID string, ch chan Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[showID]
	for i, c := range subs {
		if c == ch {
			subs[i] = subs[len(subs)-1]
			subs = subs[:len(subs)-1]
			b.subs[showID] = subs
			close(c)
			break
		}
	}
	if len(subs) == 0 {
		delete(b.subs, showID)
	}
	return nil
}

// Watchers reports the number of active watchers of showID.
func (b *InMemoryBus) Watchers(showID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[showID])
}

// Metrics holds delivery counters.
type Metrics struct {
	Published uint64
	Delivered uint64
}

// Metrics returns the published and delivered counts.
func (b *InMemoryBus) Metrics() Metrics {
	return Metrics{
		Published: atomic.LoadUint64(&b.published),
		Delivered: atomic.LoadUint64(&b.delivered),
	}
}
