// main wires the engines, stores, and background workers behind a small
// cobra CLI: `serve` runs the API with the deadline sweep, `sweep` runs one
// sweep pass and exits.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"landledger/internal/dispute"
	disputemetrics "landledger/internal/dispute/metrics"
	disputestore "landledger/internal/dispute/store"
	"landledger/internal/identity"
	identitycache "landledger/internal/identity/cache"
	identitystore "landledger/internal/identity/store"
	"landledger/internal/ledger"
	"landledger/internal/ledger/publisher"
	ledgerstore "landledger/internal/ledger/store"
	"landledger/internal/parcel"
	parcelstore "landledger/internal/parcel/store"
	"landledger/internal/platform/config"
	"landledger/internal/platform/httpserver"
	"landledger/internal/platform/logger"
	"landledger/internal/platform/postgres"
	platformredis "landledger/internal/platform/redis"
	"landledger/internal/sweep"
	"landledger/internal/transfer"
	transfermetrics "landledger/internal/transfer/metrics"
	transferstore "landledger/internal/transfer/store"
	httptransport "landledger/internal/transport/http"
	"landledger/pkg/platform/keylock"
)

const tokenTTL = 24 * time.Hour

func main() {
	root := &cobra.Command{
		Use:          "landledger",
		Short:        "Land parcel ownership, transfer, and dispute ledger",
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd(), sweepCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background deadline sweep",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one deadline sweep pass and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, cleanup, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()
			return app.sweeper.Sweep(cmd.Context())
		},
	}
}

// app holds the fully wired service graph.
type app struct {
	cfg      config.Config
	log      *slog.Logger
	registry *prometheus.Registry
	handler  *httptransport.Handler
	sweeper  *sweep.Sweeper
	pub      *publisher.Publisher
}

func runServe(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, cleanup, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	router := httptransport.NewRouter(app.handler, app.registry, app.log)
	srv := httpserver.New(app.cfg.Addr, router)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		app.log.Info("listening", "addr", app.cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		err := app.sweeper.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	if app.pub != nil {
		g.Go(func() error {
			err := app.pub.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func buildApp(ctx context.Context) (*app, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	log := logger.New()

	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	var (
		identityStore identity.Store
		parcelStore   parcel.Store
		transferStore transfer.Store
		disputeStore  dispute.Store
		ledgerStore   ledger.Store
	)
	if cfg.PostgresDSN != "" {
		pool, err := postgres.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		cleanups = append(cleanups, pool.Close)
		if err := postgres.Migrate(ctx, pool); err != nil {
			cleanup()
			return nil, nil, err
		}
		identityStore = identitystore.NewPostgresStore(pool)
		parcelStore = parcelstore.NewPostgresStore(pool)
		transferStore = transferstore.NewPostgresStore(pool)
		disputeStore = disputestore.NewPostgresStore(pool)
		ledgerStore = ledgerstore.NewPostgresStore(pool)
		log.Info("storage", "backend", "postgres")
	} else {
		identityStore = identitystore.NewMemoryStore()
		parcelStore = parcelstore.NewMemoryStore()
		transferStore = transferstore.NewMemoryStore()
		disputeStore = disputestore.NewMemoryStore()
		ledgerStore = ledgerstore.NewMemoryStore()
		log.Info("storage", "backend", "memory")
	}

	if cfg.RedisURL != "" {
		rc, err := platformredis.New(cfg.RedisURL)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		cleanups = append(cleanups, func() { _ = rc.Close() })
		identityStore = identitycache.New(identityStore, rc.Client, cfg.IdentityCacheTTL, log)
		log.Info("identity cache enabled", "ttl", cfg.IdentityCacheTTL)
	}

	// The reducer writes through the same (possibly cached) store so
	// reputation changes invalidate cached reads.
	reducer := identity.NewReducer(identityStore, identity.Adjustments{
		TransferCompleted: cfg.Reputation.TransferCompleted,
		DisputeWon:        cfg.Reputation.DisputeWon,
		DisputeLost:       cfg.Reputation.DisputeLost,
	})

	var (
		sink chan ledger.Entry
		pub  *publisher.Publisher
	)
	if len(cfg.KafkaBrokers) > 0 {
		sink = make(chan ledger.Entry, 1024)
		pub, err = publisher.New(cfg.KafkaBrokers, cfg.KafkaTopic, sink, log)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		log.Info("event publisher enabled", "topic", cfg.KafkaTopic)
	}

	ledgerSvc := ledger.NewService(ledgerStore, sink, log, reducer)

	identitySvc := identity.NewService(identityStore, ledgerSvc, log)
	parcelSvc := parcel.NewService(parcelStore, identitySvc, ledgerSvc, log, cfg.RetryBudget)

	registry := prometheus.NewRegistry()
	locks := keylock.New()

	disputeSvc := dispute.NewService(
		disputeStore, parcelSvc, identitySvc, nil, ledgerSvc, locks,
		disputemetrics.New(registry), log, cfg.VotingWindow, cfg.VoteQuorum,
	)
	transferSvc := transfer.NewService(
		transferStore, parcelSvc, identitySvc, disputeSvc, ledgerSvc, locks,
		transfermetrics.New(registry), log, cfg.EscrowDeadline,
	)
	disputeSvc.SetTransferChecker(transferSvc)

	issuer := httptransport.NewTokenIssuer(cfg.JWTSigningKey, tokenTTL)
	handler := httptransport.NewHandler(identitySvc, parcelSvc, transferSvc, disputeSvc, ledgerSvc, issuer, log)
	sweeper := sweep.New(transferSvc, disputeSvc, log, cfg.SweepInterval)

	return &app{
		cfg:      cfg,
		log:      log,
		registry: registry,
		handler:  handler,
		sweeper:  sweeper,
		pub:      pub,
	}, cleanup, nil
}
