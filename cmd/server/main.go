package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/sheikh-saqib/crowdfunding-ledger/internal/api"
	"github.com/sheikh-saqib/crowdfunding-ledger/internal/auth"
	"github.com/sheikh-saqib/crowdfunding-ledger/internal/config"
	eventbus "github.com/sheikh-saqib/crowdfunding-ledger/internal/events"
	"github.com/sheikh-saqib/crowdfunding-ledger/internal/events/kafka"
	interfaces "github.com/sheikh-saqib/crowdfunding-ledger/internal/interfaces"
	"github.com/sheikh-saqib/crowdfunding-ledger/internal/ledger"
	"github.com/sheikh-saqib/crowdfunding-ledger/internal/logger"
	"github.com/sheikh-saqib/crowdfunding-ledger/internal/metrics"
	"github.com/sheikh-saqib/crowdfunding-ledger/internal/storage/memory"
	"github.com/sheikh-saqib/crowdfunding-ledger/internal/storage/postgres"
	"github.com/sheikh-saqib/crowdfunding-ledger/internal/workflow"
)

func main() {
	envFile := flag.String("env", ".env", "optional .env file")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	appLogger, err := logger.NewLogger(cfg.HTTP.Mode)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer appLogger.Sync()

	if err := run(cfg, appLogger); err != nil {
		appLogger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, appLogger *zap.Logger) error {
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}
	ctx := context.Background()

	var store interfaces.LedgerStore
	if cfg.Database.URL == "" {
		appLogger.Warn("no database configured, using the in-memory store")
		store = memory.NewMemoryLedgerStore()
	} else {
		db, err := postgres.Open(ctx, cfg.Database.URL, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
		if err != nil {
			return err
		}
		defer db.Close()
		pg := postgres.NewPostgresLedgerStore(db, cfg.Database.TxRetries)
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		store = pg
	}

	var publisher interfaces.EventPublisher = eventbus.Nop{}
	if len(cfg.Kafka.Brokers) > 0 {
		kp := kafka.NewPublisher(cfg.Kafka.Brokers, appLogger)
		defer kp.Close()
		publisher = kp
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(registry)

	engine := ledger.NewEngine(store, publisher, appLogger, m)
	wf := workflow.NewService(engine, store, publisher, appLogger, m, cfg.Workflow.RefundWorkers)
	handler := api.NewHandler(engine, wf, appLogger)
	srv := api.NewServer(appLogger, cfg.HTTP.Addr, cfg.HTTP.Mode, handler, auth.NewJWTVerifier(cfg.Auth.JWTSecret), registry)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		appLogger.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
