package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/commercekit/subsync/internal/config"
	"github.com/commercekit/subsync/internal/history"
	"github.com/commercekit/subsync/internal/logging"
	"github.com/commercekit/subsync/internal/mock"
	"github.com/commercekit/subsync/internal/sync"
	"github.com/commercekit/subsync/pkg/storeapi"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var (
	flagMock    bool
	flagMetrics bool
	flagBuy     string
)

var rootCmd = &cobra.Command{
	Use:     "subsync",
	Short:   "subsync - subscription state synchronization engine",
	Long:    `subsync keeps local subscription state (offers and entitlements) synchronized with a commerce backend and coordinates purchase transactions.`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		runEngine()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&flagMock, "mock", false, "run against the built-in mock backend")
	rootCmd.Flags().BoolVar(&flagMetrics, "metrics", false, "expose Prometheus metrics on the metrics port")
	rootCmd.Flags().StringVar(&flagBuy, "buy", "", "trigger a purchase of the given product ID once connected")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(historyCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("subsync %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print recent purchase events from the journal",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.HistoryPath == "" {
			return fmt.Errorf("no history journal configured (set SUBSYNC_HISTORY_PATH)")
		}
		store, err := history.Open(cfg.HistoryPath)
		if err != nil {
			return err
		}
		defer store.Close()

		events, err := store.Recent(history.Filter{})
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(events)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runEngine() {
	logging.Init(logging.Config{
		Format:    "auto",
		Level:     "info",
		Component: "subsync",
	})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if flagMock {
		cfg.MockMode = true
	}
	if cfg.MockMode && len(cfg.ProductIDs) == 0 {
		cfg.ProductIDs = mock.DemoProductIDs
	}

	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "subsync",
	})

	client, err := buildClient(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to construct store client")
	}

	engine, err := sync.New(cfg, client, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to construct sync engine")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if flagMetrics {
		serveMetrics(ctx, metricsPort)
	}

	engine.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return watchSnapshots(gctx, engine)
	})
	if flagBuy != "" {
		g.Go(func() error {
			return runPurchase(gctx, engine, flagBuy)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return engine.Close()
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("Engine terminated")
		os.Exit(1)
	}
	log.Info().Msg("Shutdown complete")
}

// watchSnapshots logs each published offer snapshot until ctx ends.
func watchSnapshots(ctx context.Context, engine *sync.Engine) error {
	id, ch := engine.Subscribe()
	defer engine.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-ch:
			if !ok {
				return nil
			}
			for _, offer := range snap.Offers {
				log.Info().
					Str("product", offer.ProductID).
					Str("base_plan", offer.BasePlanID).
					Str("offer", offer.OfferID).
					Str("price", offer.Regular.FormattedPrice).
					Bool("active", offer.IsActive).
					Bool("free_trial", offer.HasFreeTrial).
					Msg("Offer")
			}
		}
	}
}

// runPurchase waits for the outcome of one purchase and logs it.
func runPurchase(ctx context.Context, engine *sync.Engine, productID string) error {
	select {
	case <-ctx.Done():
		return nil
	case outcome := <-engine.Purchase(ctx, sync.PurchaseRequest{ProductID: productID}):
		switch outcome.Kind {
		case sync.OutcomeSuccess:
			log.Info().Str("product", outcome.ProductID).Str("order", outcome.OrderID).Msg("Purchase completed")
		case sync.OutcomeCancelled:
			log.Info().Str("product", outcome.ProductID).Msg("Purchase cancelled")
		case sync.OutcomeAlreadyOwned:
			log.Info().Str("product", outcome.ProductID).Msg("Product already owned")
		default:
			log.Error().Str("product", outcome.ProductID).Int("code", outcome.Code).Msg(outcome.Message)
		}
		return nil
	}
}

func buildClient(cfg *config.Config) (storeapi.Client, error) {
	if cfg.MockMode {
		log.Info().Msg("Running with the mock store backend")
		client := mock.NewClient(mock.DemoProducts(), nil)
		client.ScriptPurchase(func(ref storeapi.PurchaseRef) *storeapi.PurchaseUpdate {
			return &storeapi.PurchaseUpdate{
				Code: storeapi.CodeOK,
				Entitlements: []storeapi.RawEntitlement{{
					Token:      "mock-token-" + ref.ProductID,
					OrderID:    mock.NewOrderID(),
					State:      storeapi.PurchaseStatePurchased,
					ProductIDs: []string{ref.ProductID},
				}},
			}
		})
		return client, nil
	}
	if cfg.BackendURL == "" {
		return nil, fmt.Errorf("no backend URL configured (set SUBSYNC_BACKEND_URL or use --mock)")
	}
	return storeapi.NewWSClient(cfg.BackendURL, log.Logger), nil
}
