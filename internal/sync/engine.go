// Package sync implements the subscription synchronization engine: a
// supervised store connection, a debounced single-flight fetch pipeline, the
// purchase transaction coordinator, and the observer broadcast that ties
// them together.
package sync

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/commercekit/subsync/internal/broadcast"
	"github.com/commercekit/subsync/internal/catalog"
	"github.com/commercekit/subsync/internal/config"
	"github.com/commercekit/subsync/internal/entitlement"
	syncerrors "github.com/commercekit/subsync/internal/errors"
	"github.com/commercekit/subsync/internal/history"
	"github.com/commercekit/subsync/pkg/storeapi"
)

// LifecycleEvent signals host application visibility transitions to the
// engine.
type LifecycleEvent int

const (
	// EventVisible indicates the application returned to the foreground.
	// The engine reacts with a debounced refresh.
	EventVisible LifecycleEvent = iota
	// EventHidden indicates the application left the foreground. No work
	// is triggered; in-flight operations continue.
	EventHidden
)

// Status is a point-in-time snapshot of engine health.
type Status struct {
	Connected       bool      `json:"connected"`
	LastError       string    `json:"lastError,omitempty"`
	Reconnects      int       `json:"reconnects"`
	LastFetch       time.Time `json:"lastFetch,omitzero"`
	OwnedProducts   []string  `json:"ownedProducts"`
	Subscribers     int       `json:"subscribers"`
	PurchasePending bool      `json:"purchasePending"`
}

// Engine owns the full synchronization lifecycle. Construct with New, start
// with Start, and release with Close. All exported methods are safe for
// concurrent use once Start has returned.
type Engine struct {
	cfg    *config.Config
	client storeapi.Client
	logger zerolog.Logger

	cache      *entitlement.Cache
	verifier   *entitlement.Verifier
	hub        *broadcast.Hub
	fetcher    *Fetcher
	supervisor *Supervisor
	journal    *history.Store
	metrics    *Metrics

	purchaseMu sync.Mutex
	pending    *pendingPurchase

	// runCtx outlives any caller context: fetch cycles and purchase
	// transactions started on behalf of a caller run to completion even
	// when the caller goes away. It is cancelled only by Close.
	runCtx    context.Context
	runCancel context.CancelFunc

	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

// New wires an Engine from a validated configuration and a store client.
// Invalid configuration or trust material fails construction; nothing is
// deferred to first use.
func New(cfg *config.Config, client storeapi.Client, logger zerolog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	verifier, err := entitlement.NewVerifier(cfg.TrustedPublicKey)
	if err != nil {
		return nil, syncerrors.WrapContract("new_engine", err)
	}
	if !verifier.Enabled() {
		logger.Warn().Msg("No trusted public key configured, purchase receipts will not be verified")
	}

	var journal *history.Store
	if cfg.HistoryPath != "" {
		journal, err = history.Open(cfg.HistoryPath)
		if err != nil {
			return nil, err
		}
	}

	runCtx, runCancel := context.WithCancel(context.Background())

	e := &Engine{
		cfg:       cfg,
		client:    client,
		logger:    logger,
		cache:     entitlement.NewCache(cfg.ProductIDs),
		verifier:  verifier,
		hub:       broadcast.NewHub(),
		journal:   journal,
		metrics:   getMetrics(),
		runCtx:    runCtx,
		runCancel: runCancel,
		done:      make(chan struct{}),
	}

	e.supervisor = newSupervisor(client, cfg.ReconnectBase, cfg.ReconnectMax, cfg.ConnectionTimeout, logger)
	e.supervisor.onPurchaseUpdate = e.handlePurchaseUpdate
	e.supervisor.onEstablished = func() {
		go func() {
			if _, err := e.fetcher.Fetch(e.runCtx, true); err != nil {
				e.logger.Warn().Err(err).Msg("Initial fetch after connect failed")
			}
		}()
	}

	e.fetcher = newFetcher(client, e.cache, e.hub, e.supervisor.AwaitReady,
		cfg.ProductIDs, cfg.DebounceInterval, cfg.FetchAttempts,
		cfg.RetryBaseDelay, cfg.ConnectionTimeout, logger)
	e.fetcher.runCtx = runCtx

	return e, nil
}

// Start launches the connection supervisor. It returns immediately; the
// first fetch runs once the connection is established. Subsequent calls are
// no-ops.
func (e *Engine) Start(ctx context.Context) {
	e.startOnce.Do(func() {
		go func() {
			defer close(e.done)
			e.supervisor.Run(e.runCtx)
		}()
		e.logger.Info().
			Strs("products", e.cfg.ProductIDs).
			Bool("verification", e.verifier.Enabled()).
			Msg("Sync engine started")
	})

	// A caller-scoped shutdown hook: Close when the provided context ends.
	if ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				e.Close()
			case <-e.done:
			}
		}()
	}
}

// Close stops the supervisor, releases the transport, and closes the
// journal. Safe to call more than once.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.runCancel()
		err = e.client.Close()
		if e.journal != nil {
			if jerr := e.journal.Close(); err == nil {
				err = jerr
			}
		}
		e.logger.Info().Msg("Sync engine stopped")
	})
	return err
}

// Fetch triggers a synchronization cycle and returns the resulting offer
// list. Non-forced calls within the debounce window return the cached list
// without network activity. See Fetcher.Fetch for the concurrency contract.
func (e *Engine) Fetch(ctx context.Context, forceRefresh bool) ([]catalog.Offer, error) {
	return e.fetcher.Fetch(ctx, forceRefresh)
}

// Offers returns the offer list of the last successful fetch, or nil before
// the first one.
func (e *Engine) Offers() []catalog.Offer {
	return e.fetcher.Cached()
}

// IsActive reports whether the product is covered by a live, verified
// entitlement.
func (e *Engine) IsActive(productID string) bool {
	return e.cache.IsActive(productID)
}

// Entitlement returns the cached entitlement covering the product, if any.
func (e *Engine) Entitlement(productID string) (entitlement.Entitlement, bool) {
	return e.cache.Get(productID)
}

// Subscribe registers an observer for offer snapshots. A subscriber joining
// after the first fetch immediately receives the latest snapshot.
func (e *Engine) Subscribe() (string, <-chan broadcast.Snapshot) {
	return e.hub.Subscribe()
}

// Unsubscribe removes an observer and closes its channel.
func (e *Engine) Unsubscribe(id string) {
	e.hub.Unsubscribe(id)
}

// Latest returns the most recent published snapshot.
func (e *Engine) Latest() (broadcast.Snapshot, bool) {
	return e.hub.Latest()
}

// History returns recent purchase journal events, newest first. It returns
// nil when no journal is configured.
func (e *Engine) History(filter history.Filter) ([]history.Event, error) {
	if e.journal == nil {
		return nil, nil
	}
	return e.journal.Recent(filter)
}

// LifecycleEvent feeds a host visibility transition into the engine.
// Becoming visible triggers a debounced refresh so state staleness is
// bounded by the debounce interval; hiding is recorded but triggers nothing.
func (e *Engine) LifecycleEvent(ev LifecycleEvent) {
	switch ev {
	case EventVisible:
		e.logger.Debug().Msg("Application visible, refreshing")
		go func() {
			if _, err := e.fetcher.Fetch(e.runCtx, false); err != nil {
				e.logger.Warn().Err(err).Msg("Visibility refresh failed")
			}
		}()
	case EventHidden:
		e.logger.Debug().Msg("Application hidden")
	}
}

// Status snapshots engine health for diagnostics endpoints.
func (e *Engine) Status() Status {
	connected, lastError, reconnects := e.supervisor.status()

	e.purchaseMu.Lock()
	pendingPurchase := e.pending != nil
	e.purchaseMu.Unlock()

	return Status{
		Connected:       connected,
		LastError:       lastError,
		Reconnects:      reconnects,
		LastFetch:       e.fetcher.LastFetch(),
		OwnedProducts:   e.cache.Owned(),
		Subscribers:     e.hub.SubscriberCount(),
		PurchasePending: pendingPurchase,
	}
}
