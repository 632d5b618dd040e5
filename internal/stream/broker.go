package stream

import (
	"encoding/json"
	"sync"
)

// subscriberBufferSize is the channel buffer for each chunk subscriber.
// Chunks are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 64

// Broker fans one stream's chunks out to any number of subscribers.
// It is safe for concurrent use.
//
// Finished streams are retained as closed markers so that late subscribers
// (those subscribing after a stream settles) receive a closed channel
// instead of blocking forever. Each marker is a few bytes, which is
// acceptable for the expected stream volume.
type Broker struct {
	mu     sync.Mutex
	topics map[string]*topic
}

type topic struct {
	subs   map[int]chan json.RawMessage
	nextID int
	closed bool
}

// NewBroker creates a new chunk broker.
func NewBroker() *Broker {
	return &Broker{
		topics: make(map[string]*topic),
	}
}

// Subscribe returns a channel that receives chunks for the given stream and
// an unsubscribe function. If the stream has already settled (Close was
// called), the returned channel is immediately closed.
func (b *Broker) Subscribe(streamID string) (<-chan json.RawMessage, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[streamID]
	if !ok {
		t = &topic{subs: make(map[int]chan json.RawMessage)}
		b.topics[streamID] = t
	}

	ch := make(chan json.RawMessage, subscriberBufferSize)
	if t.closed {
		close(ch)
		return ch, func() {}
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
	}
}

// Publish sends a chunk to all subscribers of the given stream.
// Chunks are dropped for subscribers whose buffers are full.
func (b *Broker) Publish(streamID string, chunk json.RawMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[streamID]
	if !ok || t.closed {
		return
	}

	for _, ch := range t.subs {
		select {
		case ch <- chunk:
		default:
			// Drop the chunk for slow subscribers to avoid blocking delivery.
		}
	}
}

// Close signals that no more chunks will be published for the given stream.
// All subscriber channels are closed and future Subscribe calls return a
// closed channel.
func (b *Broker) Close(streamID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[streamID]
	if !ok {
		// Create a closed marker so late subscribers get a closed channel.
		b.topics[streamID] = &topic{subs: make(map[int]chan json.RawMessage), closed: true}
		return
	}

	t.closed = true
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}
