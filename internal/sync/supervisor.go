package sync

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/commercekit/subsync/pkg/storeapi"
)

// Supervisor owns the lifecycle of the backend connection. It is the only
// component holding the live connection; everything else awaits readiness
// through it. Connection failures are a transient, always-retry condition:
// the supervisor reconnects autonomously with backoff and never surfaces a
// connect error to callers.
type Supervisor struct {
	client         storeapi.Client
	logger         zerolog.Logger
	backoff        retryPolicy
	connectTimeout time.Duration

	// onEstablished fires exactly once per successful (re)connect.
	onEstablished    func()
	onPurchaseUpdate func(storeapi.PurchaseUpdate)

	mu         sync.Mutex
	connected  bool
	lastError  string
	reconnects int
	readyCh    chan struct{} // closed while connected, replaced on disconnect

	disconnectCh chan error

	rngFn   func() float64
	sleepFn func(ctx context.Context, d time.Duration) error
}

func newSupervisor(client storeapi.Client, base, max, connectTimeout time.Duration, logger zerolog.Logger) *Supervisor {
	return &Supervisor{
		client:         client,
		logger:         logger,
		backoff:        retryPolicy{Base: base, Factor: 2, Jitter: 0.1, Cap: max},
		connectTimeout: connectTimeout,
		readyCh:        make(chan struct{}),
		disconnectCh:   make(chan error, 1),
		rngFn:          rand.Float64,
		sleepFn:        sleepContext,
	}
}

// Run drives the connect/reconnect loop until ctx is cancelled. Reconnect
// attempts continue indefinitely; there is no ceiling on the attempt count,
// only on the delay between attempts.
func (s *Supervisor) Run(ctx context.Context) error {
	failures := 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		connectCtx, cancel := context.WithTimeout(ctx, s.connectTimeout)
		err := s.client.Connect(connectCtx, storeapi.Events{
			PurchaseUpdate: s.onPurchaseUpdate,
			Disconnected:   s.handleDisconnect,
		})
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			s.setLastError(err)
			delay := s.backoff.delay(failures-1, s.rngFn())

			if failures >= 3 {
				s.logger.Warn().Err(err).
					Int("failures", failures).
					Dur("retry_in", delay).
					Msg("Store connection failed repeatedly")
			} else {
				s.logger.Debug().Err(err).
					Dur("retry_in", delay).
					Msg("Store connection failed, retrying")
			}

			if s.sleepFn(ctx, delay) != nil {
				return ctx.Err()
			}
			continue
		}

		failures = 0
		s.markReady()
		s.logger.Info().Msg("Store connection established")
		if s.onEstablished != nil {
			s.onEstablished()
		}

		select {
		case <-ctx.Done():
			s.markDisconnected(ctx.Err())
			s.client.Close()
			return ctx.Err()
		case err := <-s.disconnectCh:
			s.markDisconnected(err)
			s.logger.Warn().Err(err).Msg("Store connection lost, reconnecting")
		}
	}
}

// AwaitReady blocks until the connection is established or ctx is done.
func (s *Supervisor) AwaitReady(ctx context.Context) error {
	s.mu.Lock()
	if s.connected {
		s.mu.Unlock()
		return nil
	}
	ready := s.readyCh
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ready:
		return nil
	}
}

// Connected reports whether the connection is currently established.
func (s *Supervisor) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Supervisor) status() (connected bool, lastError string, reconnects int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected, s.lastError, s.reconnects
}

func (s *Supervisor) handleDisconnect(err error) {
	select {
	case s.disconnectCh <- err:
	default:
	}
}

func (s *Supervisor) markReady() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return
	}
	s.connected = true
	s.lastError = ""
	close(s.readyCh)
}

func (s *Supervisor) markDisconnected(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return
	}
	s.connected = false
	s.reconnects++
	getMetrics().observeReconnect()
	s.readyCh = make(chan struct{})
	if err != nil {
		s.lastError = err.Error()
	}
}

func (s *Supervisor) setLastError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastError = err.Error()
}

// sleepContext waits for d or until ctx is done, without blocking a worker
// beyond the select.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
