package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const (
	metricsPort = 9481

	metricsReadTimeout  = 5 * time.Second
	metricsWriteTimeout = 10 * time.Second
	metricsIdleTimeout  = 30 * time.Second
	metricsDrainTimeout = 5 * time.Second
)

// serveMetrics exposes the Prometheus registry on localhost and drains the
// server when ctx ends. It returns immediately; failures are logged, not
// fatal, since metrics are an optional surface.
func serveMetrics(ctx context.Context, port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:         fmt.Sprintf("127.0.0.1:%d", port),
		Handler:      mux,
		ReadTimeout:  metricsReadTimeout,
		WriteTimeout: metricsWriteTimeout,
		IdleTimeout:  metricsIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Serving Prometheus metrics")
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn().Err(err).Msg("Metrics listener exited with error")
		}
	}()

	go func() {
		<-ctx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), metricsDrainTimeout)
		defer cancel()
		if err := srv.Shutdown(drainCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn().Err(err).Msg("Metrics listener did not drain in time")
		}
	}()
}
