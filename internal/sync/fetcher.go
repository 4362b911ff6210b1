package sync

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/commercekit/subsync/internal/broadcast"
	"github.com/commercekit/subsync/internal/catalog"
	"github.com/commercekit/subsync/internal/entitlement"
	syncerrors "github.com/commercekit/subsync/internal/errors"
	"github.com/commercekit/subsync/pkg/storeapi"
)

// Fetcher orchestrates the fetch cycle: debounce, single-flight, retry with
// backoff, entitlements-then-offers querying, and the atomic publish of the
// merged result. It owns the cached offer list and the last-fetch timestamp;
// both are mutated only inside the single-flighted cycle and read by any
// caller without blocking.
type Fetcher struct {
	client     storeapi.Client
	cache      *entitlement.Cache
	hub        *broadcast.Hub
	metrics    *Metrics
	logger     zerolog.Logger
	awaitReady func(ctx context.Context) error

	productIDs   []string
	debounce     time.Duration
	attempts     int
	retryBase    time.Duration
	readyTimeout time.Duration

	group    singleflight.Group
	inFlight atomic.Bool

	mu        sync.RWMutex
	offers    []catalog.Offer
	lastFetch time.Time

	// runCtx outlives any single caller: a cycle in flight runs to
	// completion even when the triggering caller's context is gone.
	runCtx context.Context

	nowFn   func() time.Time
	sleepFn func(ctx context.Context, d time.Duration) error
}

func newFetcher(client storeapi.Client, cache *entitlement.Cache, hub *broadcast.Hub, awaitReady func(ctx context.Context) error, productIDs []string, debounce time.Duration, attempts int, retryBase, readyTimeout time.Duration, logger zerolog.Logger) *Fetcher {
	return &Fetcher{
		client:       client,
		cache:        cache,
		hub:          hub,
		metrics:      getMetrics(),
		logger:       logger,
		awaitReady:   awaitReady,
		productIDs:   productIDs,
		debounce:     debounce,
		attempts:     attempts,
		retryBase:    retryBase,
		readyTimeout: readyTimeout,
		runCtx:       context.Background(),
		nowFn:        time.Now,
		sleepFn:      sleepContext,
	}
}

// Cached returns the offer list of the last successful cycle, or nil.
func (f *Fetcher) Cached() []catalog.Offer {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.offers
}

// LastFetch returns when the last successful cycle completed.
func (f *Fetcher) LastFetch() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.lastFetch
}

// Fetch runs one fetch cycle, applying, in order: debounce (non-forced calls
// inside the debounce window return the cached list without touching the
// network), single-flight (callers arriving while a cycle is in flight get
// the cached list if one exists, otherwise join the in-flight cycle), and
// retry with linear backoff. On exhausted retries the cache and hub are left
// untouched and a transient error is returned; old data stays authoritative.
//
// A debounced call with no cache yet yields (nil, nil): no result rather
// than a stale empty list.
func (f *Fetcher) Fetch(ctx context.Context, forceRefresh bool) ([]catalog.Offer, error) {
	if !forceRefresh {
		f.mu.RLock()
		cached, last := f.offers, f.lastFetch
		f.mu.RUnlock()
		if !last.IsZero() && f.nowFn().Sub(last) < f.debounce {
			f.metrics.observeFetch("debounced", 0)
			if len(cached) == 0 {
				return nil, nil
			}
			return cached, nil
		}
	}

	// This applies regardless of forceRefresh: a second network round trip
	// is never started while one is in flight.
	if f.inFlight.Load() {
		if cached := f.Cached(); len(cached) > 0 {
			f.metrics.observeFetch("joined", 0)
			return cached, nil
		}
	}

	v, err, shared := f.group.Do("cycle", func() (interface{}, error) {
		if !f.inFlight.CompareAndSwap(false, true) {
			// Unreachable while the group serializes the key; the flag
			// still guards against a second path ever starting a cycle.
			return f.Cached(), nil
		}
		defer f.inFlight.Store(false)
		return f.runCycle()
	})
	if shared {
		f.metrics.observeFetch("joined", 0)
	}
	if err != nil {
		return nil, err
	}
	offers, _ := v.([]catalog.Offer)
	return offers, nil
}

// runCycle executes the retried network phase on the engine-lifetime
// context, so an abandoned caller cannot cancel it mid-cycle.
func (f *Fetcher) runCycle() ([]catalog.Offer, error) {
	ctx := f.runCtx
	start := f.nowFn()

	var lastErr error
	for attempt := 1; attempt <= f.attempts; attempt++ {
		offers, err := f.networkPhase(ctx)
		if err == nil {
			f.metrics.observeFetch("success", f.nowFn().Sub(start))
			f.logger.Debug().
				Int("offers", len(offers)).
				Int("attempt", attempt).
				Msg("Fetch cycle completed")
			return offers, nil
		}

		lastErr = err
		f.metrics.observeRetry()
		f.logger.Warn().Err(err).
			Int("attempt", attempt).
			Int("budget", f.attempts).
			Msg("Fetch attempt failed")

		delay := time.Duration(attempt) * f.retryBase
		if f.sleepFn(ctx, delay) != nil {
			break
		}
	}

	f.metrics.observeFetch("error", 0)
	syncErr := syncerrors.New(syncerrors.ErrorTypeTransient, "fetch", lastErr).WithAttempt(f.attempts)
	return nil, syncErr
}

// networkPhase performs one attempt: await readiness, query entitlements,
// rebuild the cache, then (only when product IDs are configured) query offer
// metadata and publish. The entitlement query always precedes the offer
// query so ownership flags are computed from the same cycle's data.
func (f *Fetcher) networkPhase(ctx context.Context) ([]catalog.Offer, error) {
	readyCtx, cancel := context.WithTimeout(ctx, f.readyTimeout)
	err := f.awaitReady(readyCtx)
	cancel()
	if err != nil {
		return nil, syncerrors.WrapTransient("await_ready", err)
	}

	raw, err := f.client.QueryEntitlements(ctx)
	if err != nil {
		return nil, syncerrors.WrapTransient("query_entitlements", err)
	}
	f.cache.Rebuild(ctx, raw, f.client.Acknowledge)

	if len(f.productIDs) == 0 {
		f.mu.Lock()
		f.lastFetch = f.nowFn()
		f.mu.Unlock()
		return nil, nil
	}

	products, err := f.client.QueryOffers(ctx, f.productIDs)
	if err != nil {
		return nil, syncerrors.WrapTransient("query_offers", err)
	}

	offers := make([]catalog.Offer, 0, len(products))
	for _, pd := range products {
		offers = append(offers, catalog.FromProduct(pd, f.cache.IsActive)...)
	}

	// Replace the cached list and publish in one step so every observer
	// sees this cycle's offers with this cycle's ownership flags.
	now := f.nowFn()
	f.mu.Lock()
	f.offers = offers
	f.lastFetch = now
	f.mu.Unlock()
	f.hub.Publish(broadcast.Snapshot{Offers: offers, FetchedAt: now})

	return offers, nil
}
