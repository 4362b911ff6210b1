package entitlement

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/commercekit/subsync/pkg/storeapi"
)

// Acknowledger confirms an entitlement with the backend. Implementations are
// idempotent; acknowledging an already-acknowledged token is a no-op.
type Acknowledger func(ctx context.Context, token string) error

// Cache is the single shared store of which tracked product IDs are
// currently owned. It is rebuilt wholesale on every successful fetch cycle
// and never patched incrementally, so stale entries cannot leak across
// cycles. All access goes through its lock; the direct is-active query path
// shares the same lock as the rebuild.
type Cache struct {
	mu      sync.Mutex
	tracked map[string]struct{}
	entries map[string]Entitlement

	nowFn func() time.Time
}

// NewCache creates a cache tracking the given product IDs. With an empty
// tracking set every product the backend reports is tracked.
func NewCache(trackedProducts []string) *Cache {
	c := &Cache{
		entries: make(map[string]Entitlement),
		nowFn:   time.Now,
	}
	if len(trackedProducts) > 0 {
		c.tracked = make(map[string]struct{}, len(trackedProducts))
		for _, id := range trackedProducts {
			c.tracked[id] = struct{}{}
		}
	}
	return c
}

// Rebuild replaces the cache contents from the backend's current entitlement
// set. Expired or non-purchased receipts are dropped silently. Any live,
// unacknowledged entitlement discovered here is acknowledged immediately;
// an acknowledge failure is logged and the entry is kept (the next rebuild
// retries, acknowledge is idempotent).
func (c *Cache) Rebuild(ctx context.Context, raw []storeapi.RawEntitlement, ack Acknowledger) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowFn()
	entries := make(map[string]Entitlement)

	for _, r := range raw {
		e := FromRaw(r)
		if !e.Live(now) {
			log.Debug().
				Str("token", truncateToken(e.Token)).
				Int("state", e.State).
				Time("expiry", e.Expiry).
				Msg("Dropping inactive entitlement")
			continue
		}

		if !e.Acknowledged && ack != nil {
			if err := ack(ctx, e.Token); err != nil {
				log.Warn().Err(err).Str("token", truncateToken(e.Token)).Msg("Failed to acknowledge entitlement, will retry next cycle")
			} else {
				e.Acknowledged = true
			}
		}

		for _, productID := range e.ProductIDs {
			if !c.isTracked(productID) {
				continue
			}
			entries[productID] = e
		}
	}

	c.entries = entries
}

// Add inserts a verified entitlement after a successful purchase, covering
// the window before the post-purchase refresh lands.
func (c *Cache) Add(e Entitlement) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !e.Live(c.nowFn()) {
		return
	}
	for _, productID := range e.ProductIDs {
		if c.isTracked(productID) {
			c.entries[productID] = e
		}
	}
}

// IsActive reports whether the product is currently owned. Reads never
// block on network activity; they only contend on the cache lock.
func (c *Cache) IsActive(productID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[productID]
	if !ok {
		return false
	}
	return e.Live(c.nowFn())
}

// Get returns the cached entitlement for a product, if any.
func (c *Cache) Get(productID string) (Entitlement, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[productID]
	return e, ok
}

// Owned returns the product IDs with a live cached entitlement.
func (c *Cache) Owned() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowFn()
	owned := make([]string, 0, len(c.entries))
	for productID, e := range c.entries {
		if e.Live(now) {
			owned = append(owned, productID)
		}
	}
	return owned
}

// isTracked must be called with the lock held.
func (c *Cache) isTracked(productID string) bool {
	if c.tracked == nil {
		return true
	}
	_, ok := c.tracked[productID]
	return ok
}
