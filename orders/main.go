// Command orders boots the combined order-lifecycle process: the stock
// ledger, the order saga, and the payment processor all live in this one
// binary, wired together in memory rather than over the network. See
// DESIGN.md's process-topology note for why: internal/orders/inventoryclient
// wraps a live *inventory.Service pointer, which only works when both
// bounded contexts share a process, and internal/payment.Processor calls
// Stripe synchronously, so there is nothing left for a standalone payments
// service to front.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/vectorcommerce/platform/discovery"
	"github.com/vectorcommerce/platform/discovery/consul"
	"github.com/vectorcommerce/platform/internal/broker"
	"github.com/vectorcommerce/platform/internal/cache"
	"github.com/vectorcommerce/platform/internal/config"
	"github.com/vectorcommerce/platform/internal/inventory"
	inventorypg "github.com/vectorcommerce/platform/internal/inventory/postgres"
	"github.com/vectorcommerce/platform/internal/lock"
	"github.com/vectorcommerce/platform/internal/logging"
	"github.com/vectorcommerce/platform/internal/metricsx"
	"github.com/vectorcommerce/platform/internal/orders"
	"github.com/vectorcommerce/platform/internal/orders/inventoryclient"
	orderspg "github.com/vectorcommerce/platform/internal/orders/postgres"
	"github.com/vectorcommerce/platform/internal/payment"
	"github.com/vectorcommerce/platform/internal/scheduler"
	"github.com/vectorcommerce/platform/internal/telemetry"
)

// bootConfig is this process's own environment surface, kept separate from
// internal/config.Config: the latter is the domain tunables table shared
// across every process in the system, this one is purely local wiring
// (addresses, DSNs, credentials).
type bootConfig struct {
	ServiceName   string
	InstanceID    string
	MetricsAddr   string
	AdvertiseAddr string
	ConsulAddr    string
	PostgresDSN   string
	RedisAddr     string
	KafkaBrokers  []string
	StripeAPIKey  string
}

func loadBootConfig() bootConfig {
	return bootConfig{
		ServiceName:   config.GetEnv("SERVICE_NAME", "orders"),
		InstanceID:    config.GetEnv("INSTANCE_ID", discovery.GenerateInstanceID("orders")),
		MetricsAddr:   config.GetEnv("METRICS_ADDR", ":9001"),
		AdvertiseAddr: config.GetEnv("ADVERTISE_ADDR", "localhost:9001"),
		ConsulAddr:    config.GetEnv("CONSUL_ADDR", ""),
		PostgresDSN:   config.MustGetEnv("POSTGRES_DSN"),
		RedisAddr:     config.GetEnv("REDIS_ADDR", "localhost:6379"),
		KafkaBrokers:  []string{config.GetEnv("KAFKA_BROKERS", "localhost:9092")},
		StripeAPIKey:  config.MustGetEnv("STRIPE_API_KEY"),
	}
}

// app bundles the combined process's long-lived dependencies. newApp wires
// everything up, Start launches every background loop and blocks on the
// metrics server, and Shutdown unwinds in the opposite order.
type app struct {
	boot         bootConfig
	domain       config.Config
	logger       *slog.Logger
	registry     discovery.Registry
	registration *discovery.Registration
	pgPool       *pgxpool.Pool
	redisClient  *redis.Client
	publisher    *broker.KafkaPublisher
	metricsSrv   *http.Server

	coordinator  *orders.Coordinator
	outboxWorker *orders.Worker
	ledger       *inventory.Service
	cachedReader *inventory.CachedReader
	expirer      *inventory.Expirer
	sched        *scheduler.Scheduler
}

func newApp(boot bootConfig, domain config.Config, logger *slog.Logger) (*app, error) {
	var registry discovery.Registry
	if boot.ConsulAddr != "" {
		r, err := consul.NewRegistry(boot.ConsulAddr)
		if err != nil {
			return nil, err
		}
		registry = r
	} else {
		logger.Info("consul address not provided, service discovery disabled")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pgPool, err := pgxpool.New(ctx, boot.PostgresDSN)
	if err != nil {
		return nil, err
	}

	redisClient := redis.NewClient(&redis.Options{Addr: boot.RedisAddr})

	publisher, err := broker.NewKafkaPublisher(boot.KafkaBrokers, logger)
	if err != nil {
		return nil, err
	}

	lockSvc := lock.NewService(redisClient)
	productCache := cache.New(redisClient, logger, "product", domain.CacheProductTTL, domain.CacheRefreshThreshold)

	inventoryStore := inventorypg.NewStore(pgPool)
	ledgerMetrics := metricsx.NewLedgerMetrics(boot.ServiceName)
	ledger := inventory.NewService(inventoryStore, lockSvc, publisher, logger, ledgerMetrics, domain.LedgerRetryMax, domain.LockDefaultWait, domain.LockDefaultLease)
	cachedReader := inventory.NewCachedReader(inventoryStore, productCache, logger)
	expirer := inventory.NewExpirer(inventoryStore, ledger, domain.ExpirerInterval, logger)

	sched := scheduler.New(logger)
	sched.Register(scheduler.CacheMaintenanceJob(productCache, domain.ExpirerInterval, 10, domain.CacheProductTTL))

	ordersStore := orderspg.NewStore(pgPool)
	invAdapter := inventoryclient.New(ledger)
	paymentProcessor := payment.NewProcessor(boot.StripeAPIKey, payment.DefaultConfig(), logger)
	coordinator := orders.NewCoordinator(ordersStore, invAdapter, paymentProcessor, logger,
		domain.OrderCancellationWin, domain.OrderDuplicateWindow, domain.ReservationTTL, domain.LedgerRetryMax)
	outboxWorker := orders.NewWorker(ordersStore, publisher, logger, time.Second, 100)

	return &app{
		boot:         boot,
		domain:       domain,
		logger:       logger,
		registry:     registry,
		pgPool:       pgPool,
		redisClient:  redisClient,
		publisher:    publisher,
		coordinator:  coordinator,
		outboxWorker: outboxWorker,
		ledger:       ledger,
		cachedReader: cachedReader,
		expirer:      expirer,
		sched:        sched,
	}, nil
}

func (a *app) Start(ctx context.Context) error {
	registration, err := discovery.Register(ctx, a.registry, a.boot.InstanceID, a.boot.ServiceName, a.boot.AdvertiseAddr, a.logger)
	if err != nil {
		return err
	}
	a.registration = registration

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	a.metricsSrv = &http.Server{Addr: a.boot.MetricsAddr, Handler: mux}

	go a.expirer.Run(ctx)
	go a.outboxWorker.Start(ctx)
	go a.sched.Start(ctx)

	a.logger.Info("starting metrics server", "addr", a.boot.MetricsAddr)
	if err := a.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (a *app) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down gracefully")

	if a.metricsSrv != nil {
		if err := a.metricsSrv.Shutdown(ctx); err != nil {
			a.logger.Error("error shutting down metrics server", "error", err)
		}
	}
	if err := a.publisher.Close(); err != nil {
		a.logger.Error("error closing kafka publisher", "error", err)
	}
	a.pgPool.Close()
	if err := a.redisClient.Close(); err != nil {
		a.logger.Error("error closing redis client", "error", err)
	}
	return a.registration.Deregister(ctx)
}

func main() {
	boot := loadBootConfig()
	logger := logging.New(boot.ServiceName)

	shutdownTracing, err := telemetry.Init(boot.ServiceName)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer shutdownTracing()

	a, err := newApp(boot, config.Load(), logger)
	if err != nil {
		logger.Error("failed to construct app", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("received shutdown signal")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := a.Shutdown(shutdownCtx); err != nil {
			logger.Error("error during shutdown", "error", err)
		}
		cancel()
	}()

	if err := a.Start(ctx); err != nil {
		logger.Error("app exited with error", "error", err)
		os.Exit(1)
	}
}
