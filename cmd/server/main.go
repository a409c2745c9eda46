package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	claimstore "escrow/internal/claims/store"
	itemstore "escrow/internal/collectible/store"
	identitymetrics "escrow/internal/identity/metrics"
	"escrow/internal/identity/proof"
	identityservice "escrow/internal/identity/service"
	identitystore "escrow/internal/identity/store"
	"escrow/internal/platform/config"
	"escrow/internal/platform/httpserver"
	"escrow/internal/platform/kafka"
	"escrow/internal/platform/logger"
	platformmetrics "escrow/internal/platform/metrics"
	escrowotel "escrow/internal/platform/otel"
	"escrow/internal/platform/postgres"
	"escrow/internal/platform/redis"
	settlementmetrics "escrow/internal/settlement/metrics"
	settlementservice "escrow/internal/settlement/service"
	treasurystore "escrow/internal/treasury/store"
	"escrow/pkg/platform/audit"
	auditfallback "escrow/pkg/platform/audit/store/fallback"
	auditkafka "escrow/pkg/platform/audit/store/kafka"
	auditmemory "escrow/pkg/platform/audit/store/memory"
	auditpostgres "escrow/pkg/platform/audit/store/postgres"
	"escrow/pkg/platform/audit/publisher"
)

const shutdownTimeout = 10 * time.Second

// main wires dependencies and owns the process lifecycle. Business logic
// lives in the internal service packages.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		log.Error("escrow exited", "error", err)
		os.Exit(1)
	}
}

type infra struct {
	db      *sql.DB
	redis   *redis.Client
	closers []func()
}

func (i *infra) close() {
	for j := len(i.closers) - 1; j >= 0; j-- {
		i.closers[j]()
	}
}

func run(cfg config.Server, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracerProvider, shutdownTracing, err := escrowotel.Setup(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Warn("tracing shutdown failed", "error", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	deps := &infra{}
	defer deps.close()

	deps.db, err = postgres.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	if deps.db != nil {
		deps.closers = append(deps.closers, func() { _ = deps.db.Close() })
		if err := postgres.Migrate(ctx, deps.db); err != nil {
			return err
		}
		log.Info("using postgres storage")
	} else {
		log.Info("using in-memory storage")
	}

	deps.redis, err = redis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if deps.redis != nil {
		deps.closers = append(deps.closers, func() { _ = deps.redis.Close() })
	}

	auditStore, err := newAuditStore(ctx, cfg.Kafka, deps, log)
	if err != nil {
		return err
	}
	auditPublisher := publisher.NewPublisher(auditStore,
		publisher.WithAsyncBuffer(cfg.Kafka.BufferSize),
		publisher.WithLogger(log),
	)
	defer func() {
		if err := auditPublisher.Close(); err != nil {
			log.Warn("audit publisher close failed", "error", err)
		}
	}()

	identityMetrics := identitymetrics.New(registry)
	identities, err := identityservice.New(
		newIdentityStore(cfg.Redis, deps, identityMetrics),
		proof.NewSigner(cfg.Proof.SigningKey, cfg.Proof.Issuer, cfg.Proof.TTL),
		identityservice.WithLogger(log),
		identityservice.WithAuditPublisher(auditPublisher),
		identityservice.WithMetrics(identityMetrics),
	)
	if err != nil {
		return err
	}

	feeRate, err := cfg.Marketplace.Rate()
	if err != nil {
		return err
	}
	storeTx, reads := newSettlementStores(cfg, deps, log)
	settlement, err := settlementservice.New(storeTx, reads, identities, feeRate,
		settlementservice.WithLogger(log),
		settlementservice.WithAuditPublisher(auditPublisher),
		settlementservice.WithMetrics(settlementmetrics.New(registry)),
		settlementservice.WithTracerProvider(tracerProvider),
	)
	if err != nil {
		return err
	}

	router := newRouter(routerDeps{
		log:        log,
		registry:   registry,
		httpMetric: platformmetrics.New(registry),
		identities: identities,
		settlement: settlement,
		adminToken: cfg.AdminToken,
		health:     deps.health,
	})
	srv := httpserver.New(cfg.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting escrow", "addr", cfg.Addr, "env", cfg.Environment, "fee_rate", feeRate.String())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func newAuditStore(ctx context.Context, cfg config.KafkaConfig, deps *infra, log *slog.Logger) (audit.Store, error) {
	var local audit.Store = auditmemory.NewInMemoryStore()
	if deps.db != nil {
		local = auditpostgres.New(deps.db)
	}
	client, err := kafka.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return local, nil
	}
	deps.closers = append(deps.closers, client.Close)
	log.Info("publishing events to kafka", "topic", cfg.EventsTopic)
	return auditfallback.New(auditkafka.New(client, cfg.EventsTopic), local,
		auditfallback.WithLogger(log),
	), nil
}

func newIdentityStore(cfg config.RedisConfig, deps *infra, m *identitymetrics.Metrics) identityservice.Store {
	var store identitystore.Backing = identitystore.NewInMemory()
	if deps.db != nil {
		store = identitystore.NewPostgres(deps.db)
	}
	if deps.redis == nil {
		return store
	}
	return identitystore.NewCached(store, deps.redis.Client, cfg.CacheTTL,
		identitystore.WithLookupCounter(m.CacheLookups))
}

func newSettlementStores(cfg config.Server, deps *infra, log *slog.Logger) (settlementservice.StoreTx, settlementservice.Stores) {
	if deps.db != nil {
		stores := settlementservice.Stores{
			Items:    itemstore.NewPostgres(deps.db),
			Claims:   claimstore.NewPostgres(deps.db),
			Treasury: treasurystore.NewPostgres(deps.db),
		}
		return settlementservice.NewPostgresTx(deps.db, stores, cfg.TxTimeout), stores
	}
	tx := settlementservice.NewShardedTx(
		itemstore.NewInMemory(),
		claimstore.NewInMemory(),
		treasurystore.NewInMemory(),
		settlementservice.WithTxTimeout(cfg.TxTimeout),
		settlementservice.WithTxLogger(log),
	)
	return tx, tx.Stores()
}

func (i *infra) health(ctx context.Context) error {
	if i.db != nil {
		if err := i.db.PingContext(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	if i.redis != nil {
		if err := i.redis.Health(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}
