package events

import (
	"context"
	"sync"
)

// Bus fans events out to all active subscribers (SSE clients, projections).
// Publishing never blocks: a subscriber whose buffer is full misses the event.
type Bus[E any] struct {
	mu     sync.RWMutex
	subs   map[int]chan E
	next   int
	buffer int
}

// NewBus creates a bus whose subscriber channels hold buffer events.
func NewBus[E any](buffer int) *Bus[E] {
	if buffer <= 0 {
		buffer = 16
	}
	return &Bus[E]{subs: make(map[int]chan E), buffer: buffer}
}

// Subscribe registers a subscriber. The channel is closed when ctx ends.
func (b *Bus[E]) Subscribe(ctx context.Context) <-chan E {
	ch := make(chan E, b.buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		close(ch)
		b.mu.Unlock()
	}()

	return ch
}

// Publish delivers evt to every subscriber with room in its buffer.
func (b *Bus[E]) Publish(evt E) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Subscribers returns the number of active subscribers.
func (b *Bus[E]) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
