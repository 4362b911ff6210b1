package sync

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commercekit/subsync/internal/config"
	"github.com/commercekit/subsync/internal/history"
	"github.com/commercekit/subsync/internal/mock"
	"github.com/commercekit/subsync/pkg/storeapi"
)

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.New()
	cfg.FetchAttempts = 0

	_, err := New(cfg, mock.NewClient(nil, nil), zerolog.Nop())
	require.Error(t, err)
}

func TestNewRejectsMalformedTrustKey(t *testing.T) {
	cfg := config.New()
	cfg.TrustedPublicKey = "not base64!!!"

	_, err := New(cfg, mock.NewClient(nil, nil), zerolog.Nop())
	require.Error(t, err)
}

func TestEngineFetchesOnConnect(t *testing.T) {
	client := mock.NewClient(mock.DemoProducts(), []storeapi.RawEntitlement{
		mock.DemoEntitlement("premium_monthly"),
	})
	e := newTestEngine(t, nil, client)

	require.Eventually(t, func() bool {
		return len(e.Offers()) > 0
	}, 2*time.Second, 5*time.Millisecond)
	assert.True(t, e.IsActive("premium_monthly"))
	assert.False(t, e.IsActive("premium_yearly"))
}

func TestEngineSubscribersReceiveSnapshots(t *testing.T) {
	client := mock.NewClient(mock.DemoProducts(), nil)
	e := newTestEngine(t, nil, client)

	id, ch := e.Subscribe()
	defer e.Unsubscribe(id)

	select {
	case snap := <-ch:
		assert.NotEmpty(t, snap.Offers)
		assert.False(t, snap.FetchedAt.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber received no snapshot")
	}
}

func TestEngineLateSubscriberGetsLatestSnapshot(t *testing.T) {
	client := mock.NewClient(mock.DemoProducts(), nil)
	e := newTestEngine(t, nil, client)

	require.Eventually(t, func() bool {
		_, ok := e.Latest()
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	id, ch := e.Subscribe()
	defer e.Unsubscribe(id)

	select {
	case snap := <-ch:
		assert.NotEmpty(t, snap.Offers)
	case <-time.After(time.Second):
		t.Fatal("late subscriber did not receive the latest snapshot")
	}
}

func TestEngineVisibilityTriggersRefresh(t *testing.T) {
	client := mock.NewClient(mock.DemoProducts(), nil)
	e := newTestEngine(t, nil, client)

	require.Eventually(t, func() bool {
		return len(e.Offers()) > 0
	}, 2*time.Second, 5*time.Millisecond)
	base := client.OfferQueries

	// Inside the debounce window: visible must not trigger network work.
	e.LifecycleEvent(EventVisible)
	e.LifecycleEvent(EventHidden)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, base, client.OfferQueries)

	// Past the window the refresh goes through.
	e.fetcher.mu.Lock()
	e.fetcher.lastFetch = e.fetcher.lastFetch.Add(-e.cfg.DebounceInterval - time.Second)
	e.fetcher.mu.Unlock()
	e.LifecycleEvent(EventVisible)
	require.Eventually(t, func() bool {
		return client.OfferQueries > base
	}, 2*time.Second, 5*time.Millisecond)
}

func TestEngineJournalsPurchaseOutcomes(t *testing.T) {
	cfg := config.New()
	cfg.ProductIDs = mock.DemoProductIDs
	cfg.HistoryPath = filepath.Join(t.TempDir(), "history.db")

	client := mock.NewClient(mock.DemoProducts(), nil)
	client.ScriptPurchase(func(ref storeapi.PurchaseRef) *storeapi.PurchaseUpdate {
		return purchasedUpdate(ref, "", `{}`)
	})
	e := newTestEngine(t, cfg, client)

	outcome := awaitOutcome(t, e.Purchase(context.Background(), PurchaseRequest{ProductID: "premium_monthly"}))
	require.Equal(t, OutcomeSuccess, outcome.Kind)

	events, err := e.History(history.Filter{ProductID: "premium_monthly"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, string(OutcomeSuccess), events[0].Outcome)
	assert.Equal(t, outcome.OrderID, events[0].OrderID)
}

func TestEngineStatus(t *testing.T) {
	client := mock.NewClient(mock.DemoProducts(), []storeapi.RawEntitlement{
		mock.DemoEntitlement("premium_monthly"),
	})
	e := newTestEngine(t, nil, client)

	require.Eventually(t, func() bool {
		return !e.Status().LastFetch.IsZero()
	}, 2*time.Second, 5*time.Millisecond)

	st := e.Status()
	assert.True(t, st.Connected)
	assert.Contains(t, st.OwnedProducts, "premium_monthly")
	assert.False(t, st.PurchasePending)
	assert.Zero(t, st.Reconnects)
}

func TestEngineCloseIsIdempotent(t *testing.T) {
	client := mock.NewClient(mock.DemoProducts(), nil)
	e, err := New(config.New(), client, zerolog.Nop())
	require.NoError(t, err)

	e.Start(context.Background())
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
}
