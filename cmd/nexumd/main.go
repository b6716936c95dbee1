// Command nexumd wires the core together and runs until signalled.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"nexum/internal/access"
	"nexum/internal/account"
	"nexum/internal/audit"
	"nexum/internal/bridge"
	"nexum/internal/bus"
	"nexum/internal/compliance"
	"nexum/internal/config"
	"nexum/internal/customer"
	"nexum/internal/fraud"
	"nexum/internal/ledger"
	"nexum/internal/processor"
	"nexum/internal/storage"
	"nexum/internal/storage/memstore"
	"nexum/internal/storage/pgstore"
	"nexum/pkg/clock"
	"nexum/pkg/events"
)

// core groups the wired subsystems.
type core struct {
	kernel    *access.Kernel
	ledger    *ledger.Service
	processor *processor.Processor
	customers *customer.Manager
	accounts  *account.Manager
	bridge    *bridge.Bridge
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "nexumd:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}

	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := context.Background()
	clk := clock.NewReal()

	store, cleanup, err := buildStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	trail := audit.NewTrail(store, clk)
	ledgerSvc := ledger.NewService(store, clk, logger.Named("ledger"))
	if err := ledgerSvc.SeedSystemAccounts(ctx, cfg.BaseCurrency); err != nil {
		return fmt.Errorf("seed system accounts: %w", err)
	}

	kernel, err := access.NewKernel(ctx, store, trail, clk, access.DefaultPasswordPolicy(), logger.Named("access"))
	if err != nil {
		return fmt.Errorf("access kernel: %w", err)
	}

	dispatcher := events.NewDispatcher(logger.Named("events"))
	events.SetDefault(dispatcher)

	eventBus, err := buildBus(cfg, logger)
	if err != nil {
		return err
	}

	gate := compliance.NewRuleGate(store, dispatcher, clk, logger.Named("compliance"), cfg.SanctionedCustomers)

	var scorer fraud.Scorer
	if cfg.FraudScorerURL != "" {
		scorer = fraud.NewClient(fraud.Config{
			BaseURL: cfg.FraudScorerURL,
			APIKey:  cfg.FraudScorerAPIKey,
			Timeout: cfg.FraudTimeout,
		}, logger.Named("fraud"))
	} else {
		scorer = fraud.NewMockScorer()
	}

	// The core container is what a transport layer (out of scope here)
	// would serve from.
	c := &core{
		kernel:    kernel,
		ledger:    ledgerSvc,
		processor: processor.New(store, ledgerSvc, gate, scorer, dispatcher, trail, clk, logger.Named("processor")),
		customers: customer.NewManager(store, dispatcher, clk, logger.Named("customer")),
		accounts:  account.NewManager(ledgerSvc, store, dispatcher, clk, logger.Named("account")),
		bridge:    bridge.New(dispatcher, eventBus, store, gate, clk, logger.Named("bridge")),
	}
	if err := c.bridge.Start(); err != nil {
		return fmt.Errorf("start bridge: %w", err)
	}
	defer c.bridge.Stop()

	logger.Info("nexum core started",
		zap.String("storage", cfg.StorageBackend),
		zap.String("bus", cfg.BusBackend),
		zap.String("base_currency", string(cfg.BaseCurrency)))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")
	return nil
}

func buildLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

func buildStorage(ctx context.Context, cfg config.Config) (storage.Storage, func(), error) {
	switch cfg.StorageBackend {
	case config.StoragePostgres:
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		if _, err := pool.Exec(ctx, pgstore.Schema); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("postgres schema: %w", err)
		}
		store := pgstore.New(pool)
		return store, store.Close, nil
	default:
		return memstore.New(), func() {}, nil
	}
}

func buildBus(cfg config.Config, logger *zap.Logger) (bus.Bus, error) {
	switch cfg.BusBackend {
	case config.BusKafka:
		return bus.NewKafka(bus.KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			GroupID: cfg.KafkaGroupID,
		}, logger.Named("bus"))
	case config.BusMemory:
		return bus.NewInMemory(), nil
	default:
		return bus.NewLogOnly(logger.Named("bus")), nil
	}
}
