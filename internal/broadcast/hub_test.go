package broadcast

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commercekit/subsync/internal/catalog"
)

func snapshotFor(productID string, active bool) Snapshot {
	return Snapshot{
		Offers:    []catalog.Offer{{ProductID: productID, IsActive: active}},
		FetchedAt: time.Now(),
	}
}

func TestHub_PublishReachesAllSubscribers(t *testing.T) {
	h := NewHub()

	_, ch1 := h.Subscribe()
	_, ch2 := h.Subscribe()
	require.Equal(t, 2, h.SubscriberCount())

	h.Publish(snapshotFor("premium_monthly", true))

	for _, ch := range []<-chan Snapshot{ch1, ch2} {
		select {
		case s := <-ch:
			require.Len(t, s.Offers, 1)
			assert.True(t, s.Offers[0].IsActive)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive snapshot")
		}
	}
}

func TestHub_LateJoinerReceivesLatest(t *testing.T) {
	h := NewHub()
	h.Publish(snapshotFor("premium_monthly", false))

	_, ch := h.Subscribe()
	select {
	case s := <-ch:
		assert.Equal(t, "premium_monthly", s.Offers[0].ProductID)
	case <-time.After(time.Second):
		t.Fatal("late joiner did not receive last snapshot")
	}
}

func TestHub_SlowSubscriberGetsLatestNotBacklog(t *testing.T) {
	h := NewHub()
	_, ch := h.Subscribe()

	// Subscriber never drains while three snapshots are published.
	h.Publish(snapshotFor("v1", false))
	h.Publish(snapshotFor("v2", false))
	h.Publish(snapshotFor("v3", false))

	s := <-ch
	assert.Equal(t, "v3", s.Offers[0].ProductID, "pending snapshot is replaced, not queued")

	select {
	case extra := <-ch:
		t.Fatalf("unexpected queued snapshot: %v", extra.Offers)
	default:
	}
}

func TestHub_Unsubscribe(t *testing.T) {
	h := NewHub()
	id, ch := h.Subscribe()

	h.Unsubscribe(id)
	assert.Equal(t, 0, h.SubscriberCount())

	_, open := <-ch
	assert.False(t, open, "channel closed on unsubscribe")

	// Unknown ID is a no-op.
	h.Unsubscribe("nope")
}

func TestHub_Latest(t *testing.T) {
	h := NewHub()

	_, ok := h.Latest()
	assert.False(t, ok)

	h.Publish(snapshotFor("premium_monthly", true))
	s, ok := h.Latest()
	require.True(t, ok)
	assert.Equal(t, "premium_monthly", s.Offers[0].ProductID)
}

func TestHub_ConcurrentPublishAndSubscribe(t *testing.T) {
	h := NewHub()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, ch := h.Subscribe()
			for range 3 {
				select {
				case <-ch:
				case <-time.After(time.Second):
				}
			}
			h.Unsubscribe(id)
		}()
	}
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Publish(snapshotFor("p", true))
		}()
	}
	wg.Wait()
}
