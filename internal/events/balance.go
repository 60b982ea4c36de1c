package events

import (
	"sync"
	"sync/atomic"

	"github.com/vadiminshakov/balancecache/internal/domain"
)

// Kind of a streamed event. The value doubles as the SSE event name.
type Kind string

const (
	KindBalanceChange Kind = "balance_change"
	KindSnapshot      Kind = "snapshot"
)

// Event is either a balance change or an accepted snapshot.
type Event struct {
	Kind     Kind
	Change   *domain.ChangeEvent
	Snapshot *domain.BalanceSnapshot
}

// Payload returns the value to serialize for the event.
func (e Event) Payload() any {
	if e.Kind == KindBalanceChange {
		return e.Change
	}
	return e.Snapshot
}

// BalanceBroadcaster fans out cache events to all subscribers via buffered channels.
// It is the notification sink of the balance cache.
type BalanceBroadcaster struct {
	mu      sync.RWMutex
	subs    map[chan Event]struct{}
	buffer  int
	dropped atomic.Uint64
}

// NewBalanceBroadcaster creates a broadcaster with the given per-subscriber buffer.
func NewBalanceBroadcaster(buffer int) *BalanceBroadcaster {
	if buffer < 1 {
		buffer = 64
	}
	return &BalanceBroadcaster{
		subs:   make(map[chan Event]struct{}),
		buffer: buffer,
	}
}

// Publish sends a change event to all subscribers.
func (b *BalanceBroadcaster) Publish(e domain.ChangeEvent) {
	b.send(Event{Kind: KindBalanceChange, Change: &e})
}

// PublishSnapshot sends an accepted snapshot to all subscribers.
func (b *BalanceBroadcaster) PublishSnapshot(s domain.BalanceSnapshot) {
	b.send(Event{Kind: KindSnapshot, Snapshot: &s})
}

// send drops the event for readers whose buffer is full.
func (b *BalanceBroadcaster) send(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped number of deliveries skipped because a subscriber was slow.
func (b *BalanceBroadcaster) Dropped() uint64 {
	return b.dropped.Load()
}

// Subscribe returns a channel that receives events until Unsubscribe is called.
func (b *BalanceBroadcaster) Subscribe() chan Event {
	ch := make(chan Event, b.buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes the channel and closes it.
func (b *BalanceBroadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}
