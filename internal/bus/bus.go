package bus

import (
	"sync"

	"dm-service/internal/models"
	"dm-service/internal/observability"
)

// subscriber buffer; fanout drops events for a connection that cannot keep
// up, since every event is only a cue to refetch.
const eventBuffer = 16

// Bus is an in-process pub/sub relay with one addressable channel per user
// handle. It holds no durable state: a user with no live subscription simply
// misses events, and the next store read catches them up.
type Bus struct {
	mu       sync.RWMutex
	channels map[string]map[string]chan models.Event
}

// Subscription is a live binding of one connection to its user's channel.
type Subscription struct {
	ConnID string
	Events <-chan models.Event
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{channels: make(map[string]map[string]chan models.Event)}
}

// Subscribe binds a connection to the user's channel. The connection id is
// the capability later used to exclude the originating connection on publish.
func (b *Bus) Subscribe(username, connID string) *Subscription {
	ch := make(chan models.Event, eventBuffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.channels[username]; !ok {
		b.channels[username] = make(map[string]chan models.Event)
	}
	if old, ok := b.channels[username][connID]; ok {
		close(old)
	}
	b.channels[username][connID] = ch

	return &Subscription{ConnID: connID, Events: ch}
}

// Unsubscribe removes the connection's binding and closes its event channel.
func (b *Bus) Unsubscribe(username, connID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	conns, ok := b.channels[username]
	if !ok {
		return
	}
	if ch, ok := conns[connID]; ok {
		close(ch)
		delete(conns, connID)
	}
	if len(conns) == 0 {
		delete(b.channels, username)
	}
}

// Publish fans the event out to every live subscription on the user's
// channel except the one matching excludeConnID. Delivery is best effort:
// a full subscriber buffer drops the event rather than blocking the writer.
func (b *Bus) Publish(username, excludeConnID string, event models.Event) {
	// sends stay under the read lock: Unsubscribe closes channels under the
	// write lock, so no send can race a close. The sends never block.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for connID, ch := range b.channels[username] {
		if connID == excludeConnID {
			continue
		}
		select {
		case ch <- event:
			observability.IncBusPublished(string(event.Type))
		default:
			observability.IncBusDropped(string(event.Type))
		}
	}
}

// SubscriberCount reports live subscriptions for a user.
func (b *Bus) SubscriberCount(username string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.channels[username])
}
