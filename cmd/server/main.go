package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/nikolayk812/marketcore/internal/gateway"
	"github.com/nikolayk812/marketcore/internal/httpapi"
	"github.com/nikolayk812/marketcore/internal/kafka"
	"github.com/nikolayk812/marketcore/internal/metrics"
	"github.com/nikolayk812/marketcore/internal/port"
	"github.com/nikolayk812/marketcore/internal/repository"
	"github.com/nikolayk812/marketcore/internal/service"
	"github.com/nikolayk812/marketcore/internal/settlement"
)

type config struct {
	port          string
	databaseURL   string
	kafkaBrokers  string
	notifyTopic   string
	stockTopic    string
	gatewayURL    string
	gatewayAPIKey string
	webhookSecret string
	relayInterval time.Duration
	commission    decimal.Decimal
}

func readConfig() (config, error) {
	cfg := config{
		port:          envOr("PORT", "8080"),
		databaseURL:   os.Getenv("DATABASE_URL"),
		kafkaBrokers:  os.Getenv("KAFKA_BROKERS"),
		notifyTopic:   envOr("KAFKA_NOTIFY_TOPIC", "marketcore.notifications"),
		stockTopic:    envOr("KAFKA_STOCK_TOPIC", "marketcore.inventory"),
		gatewayURL:    os.Getenv("GATEWAY_URL"),
		gatewayAPIKey: os.Getenv("GATEWAY_API_KEY"),
		webhookSecret: os.Getenv("WEBHOOK_SECRET"),
		relayInterval: 2 * time.Second,
	}

	if cfg.databaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.gatewayURL == "" {
		return cfg, fmt.Errorf("GATEWAY_URL is required")
	}
	if cfg.webhookSecret == "" {
		return cfg, fmt.Errorf("WEBHOOK_SECRET is required")
	}

	commission, err := decimal.NewFromString(envOr("PLATFORM_COMMISSION", "10"))
	if err != nil {
		return cfg, fmt.Errorf("PLATFORM_COMMISSION: %w", err)
	}
	cfg.commission = commission

	if v := os.Getenv("RELAY_INTERVAL"); v != "" {
		interval, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("RELAY_INTERVAL: %w", err)
		}
		cfg.relayInterval = interval
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	if err := run(log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := readConfig()
	if err != nil {
		return fmt.Errorf("readConfig: %w", err)
	}

	pool, err := pgxpool.New(ctx, cfg.databaseURL)
	if err != nil {
		return fmt.Errorf("pgxpool.New: %w", err)
	}
	defer pool.Close()

	if err := repository.EnsureSchema(ctx, pool); err != nil {
		return fmt.Errorf("repository.EnsureSchema: %w", err)
	}

	var (
		notifier  port.Notifier  = kafka.NoopNotifier{}
		inventory port.Inventory = kafka.NoopInventory{}
	)
	if client := kafka.NewClient(cfg.kafkaBrokers); client.Enabled() {
		kafkaNotifier := kafka.NewNotifier(client, cfg.notifyTopic)
		defer kafkaNotifier.Close()
		kafkaInventory := kafka.NewInventory(client, cfg.stockTopic)
		defer kafkaInventory.Close()

		notifier = kafkaNotifier
		inventory = kafkaInventory
	} else {
		log.Warn("no kafka brokers configured, collaborator messages are dropped")
	}

	processor, err := gateway.NewClient(cfg.gatewayURL, cfg.gatewayAPIKey)
	if err != nil {
		return fmt.Errorf("gateway.NewClient: %w", err)
	}

	tx := repository.NewTxRunner(pool)
	recMetrics := metrics.NewReconciliation()
	resolver := settlement.NewStaticResolver(cfg.commission)

	checkout, err := service.NewCheckout(tx, resolver, log)
	if err != nil {
		return fmt.Errorf("service.NewCheckout: %w", err)
	}
	payments, err := service.NewPaymentOps(tx, processor, recMetrics, log)
	if err != nil {
		return fmt.Errorf("service.NewPaymentOps: %w", err)
	}
	refunds, err := service.NewRefundManager(tx, processor, recMetrics, log)
	if err != nil {
		return fmt.Errorf("service.NewRefundManager: %w", err)
	}
	returns, err := service.NewReturns(tx, refunds, recMetrics, log)
	if err != nil {
		return fmt.Errorf("service.NewReturns: %w", err)
	}
	coordinator, err := service.NewCoordinator(tx, recMetrics, log)
	if err != nil {
		return fmt.Errorf("service.NewCoordinator: %w", err)
	}
	relay, err := service.NewRelay(tx.Repos().Effects, notifier, inventory, refunds, log)
	if err != nil {
		return fmt.Errorf("service.NewRelay: %w", err)
	}

	api, err := httpapi.NewServer(checkout, payments, refunds, returns, coordinator, tx.Repos(), cfg.webhookSecret, log)
	if err != nil {
		return fmt.Errorf("httpapi.NewServer: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/", api.Router())

	server := &http.Server{
		Addr:              ":" + cfg.port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("http server listening", "port", cfg.port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server.ListenAndServe: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		err := relay.Run(gctx, cfg.relayInterval)
		if err != nil && err != context.Canceled {
			return fmt.Errorf("relay.Run: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}

	log.Info("shutdown complete")
	return nil
}
