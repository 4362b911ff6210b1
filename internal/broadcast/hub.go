// Package broadcast implements the observer hub: a publish/subscribe fanout
// of the latest offer snapshot. Subscribers attach and detach independently;
// the hub's only obligation is delivering the most recent state.
package broadcast

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/commercekit/subsync/internal/catalog"
)

// Snapshot is one published state: the offer list of a successful fetch
// cycle. Offers carry IsActive flags from the same cycle's entitlement data,
// never a mix of cycles.
type Snapshot struct {
	Offers    []catalog.Offer `json:"offers"`
	FetchedAt time.Time       `json:"fetchedAt"`
}

const subscriberBuffer = 1

// Hub fans the latest snapshot out to subscribers. Publish is last-write-wins
// and never blocks: a subscriber that has not drained its channel has its
// stale snapshot replaced by the new one.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]chan Snapshot
	last *Snapshot
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		subs: make(map[string]chan Snapshot),
	}
}

// Subscribe attaches a new observer. A late joiner immediately receives the
// last published snapshot, if any. The returned ID detaches the observer via
// Unsubscribe.
func (h *Hub) Subscribe() (string, <-chan Snapshot) {
	id := uuid.NewString()
	ch := make(chan Snapshot, subscriberBuffer)

	h.mu.Lock()
	h.subs[id] = ch
	if h.last != nil {
		ch <- *h.last
	}
	h.mu.Unlock()

	log.Debug().Str("subscriber", id).Msg("Observer attached")
	return id, ch
}

// Unsubscribe detaches an observer and closes its channel. Unknown IDs are
// a no-op.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	ch, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
		close(ch)
	}
	h.mu.Unlock()

	if ok {
		log.Debug().Str("subscriber", id).Msg("Observer detached")
	}
}

// Publish replaces the current snapshot and delivers it to every subscriber.
// A subscriber with an undrained buffer gets its pending snapshot swapped
// for the new one rather than blocking the publisher.
func (h *Hub) Publish(s Snapshot) {
	h.mu.Lock()
	h.last = &s
	for _, ch := range h.subs {
		select {
		case ch <- s:
		default:
			// Drop the stale snapshot and push the fresh one.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- s:
			default:
			}
		}
	}
	h.mu.Unlock()
}

// Latest returns the most recently published snapshot.
func (h *Hub) Latest() (Snapshot, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.last == nil {
		return Snapshot{}, false
	}
	return *h.last, true
}

// SubscriberCount returns the number of attached observers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
