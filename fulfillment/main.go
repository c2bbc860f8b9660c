// Command fulfillment boots the post-payment leg of the order lifecycle:
// a single Kafka consumer on orders.payment-completed that advances each
// paid order to PREPARING.
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
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/vectorcommerce/platform/discovery"
	"github.com/vectorcommerce/platform/discovery/consul"
	"github.com/vectorcommerce/platform/internal/broker"
	"github.com/vectorcommerce/platform/internal/config"
	"github.com/vectorcommerce/platform/internal/events"
	"github.com/vectorcommerce/platform/internal/fulfillment"
	"github.com/vectorcommerce/platform/internal/ids"
	"github.com/vectorcommerce/platform/internal/logging"
	"github.com/vectorcommerce/platform/internal/metricsx"
	orderspg "github.com/vectorcommerce/platform/internal/orders/postgres"
	"github.com/vectorcommerce/platform/internal/processed"
	"github.com/vectorcommerce/platform/internal/telemetry"
)

type bootConfig struct {
	ServiceName   string
	InstanceID    string
	MetricsAddr   string
	AdvertiseAddr string
	ConsulAddr    string
	PostgresDSN   string
	MongoURI      string
	KafkaBrokers  []string
}

func loadBootConfig() bootConfig {
	return bootConfig{
		ServiceName:   config.GetEnv("SERVICE_NAME", "fulfillment"),
		InstanceID:    config.GetEnv("INSTANCE_ID", discovery.GenerateInstanceID("fulfillment")),
		MetricsAddr:   config.GetEnv("METRICS_ADDR", ":9002"),
		AdvertiseAddr: config.GetEnv("ADVERTISE_ADDR", "localhost:9002"),
		ConsulAddr:    config.GetEnv("CONSUL_ADDR", ""),
		PostgresDSN:   config.MustGetEnv("POSTGRES_DSN"),
		MongoURI:      config.GetEnv("MONGO_URI", "mongodb://localhost:27017"),
		KafkaBrokers:  []string{config.GetEnv("KAFKA_BROKERS", "localhost:9092")},
	}
}

type app struct {
	boot         bootConfig
	logger       *slog.Logger
	registry     discovery.Registry
	registration *discovery.Registration
	pgPool       *pgxpool.Pool
	mongoClient  *mongo.Client
	publisher    *broker.KafkaPublisher
	consumer     *broker.KafkaConsumer
	metricsSrv   *http.Server
	service      *fulfillment.Service
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

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	pgPool, err := pgxpool.New(ctx, boot.PostgresDSN)
	if err != nil {
		return nil, err
	}

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(boot.MongoURI))
	if err != nil {
		return nil, err
	}
	if err := mongoClient.Ping(ctx, nil); err != nil {
		return nil, err
	}

	processedLog := processed.NewLog(mongoClient)
	if err := processedLog.EnsureIndexes(ctx, 7*24*time.Hour); err != nil {
		return nil, err
	}
	archive := processed.NewDeadLetterArchive(mongoClient)

	publisher, err := broker.NewKafkaPublisher(boot.KafkaBrokers, logger)
	if err != nil {
		return nil, err
	}
	consumer, err := broker.NewKafkaConsumer(boot.KafkaBrokers, boot.ServiceName, publisher, processedLog, archive, domain.ConsumerRetryMax, logger)
	if err != nil {
		return nil, err
	}

	store := orderspg.NewStore(pgPool)
	orderMetrics := metricsx.NewOrderMetrics(boot.ServiceName)
	service := fulfillment.NewService(store, logger, orderMetrics)

	return &app{
		boot:        boot,
		logger:      logger,
		registry:    registry,
		pgPool:      pgPool,
		mongoClient: mongoClient,
		publisher:   publisher,
		consumer:    consumer,
		service:     service,
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

	topic := "orders.payment-completed"
	if err := a.consumer.Subscribe(ctx, []string{topic}, a.handlePaymentCompleted); err != nil {
		return err
	}

	a.logger.Info("starting metrics server", "addr", a.boot.MetricsAddr)
	if err := a.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// handlePaymentCompleted advances the paid order to PREPARING. Prepare
// itself swallows a redelivered, already-advanced order as a no-op, so
// this handler needs no idempotence logic of its own beyond what
// broker.KafkaConsumer's processed-event check already provides.
func (a *app) handlePaymentCompleted(ctx context.Context, env events.Envelope) error {
	var payload events.PaymentCompletedPayload
	if err := env.Decode(&payload); err != nil {
		return err
	}
	orderID, err := ids.Parse(payload.OrderID)
	if err != nil {
		return err
	}
	return a.service.Prepare(ctx, orderID)
}

func (a *app) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down gracefully")

	if a.metricsSrv != nil {
		if err := a.metricsSrv.Shutdown(ctx); err != nil {
			a.logger.Error("error shutting down metrics server", "error", err)
		}
	}
	if err := a.consumer.Close(); err != nil {
		a.logger.Error("error closing kafka consumer", "error", err)
	}
	if err := a.publisher.Close(); err != nil {
		a.logger.Error("error closing kafka publisher", "error", err)
	}
	a.pgPool.Close()
	if err := a.mongoClient.Disconnect(ctx); err != nil {
		a.logger.Error("error disconnecting mongo", "error", err)
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
