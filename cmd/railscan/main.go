package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"railscan/api"
	"railscan/chain"
	"railscan/config"
	"railscan/engine"
	"railscan/ingest"
	"railscan/integrations/exports"
	"railscan/integrations/webhooks"
	"railscan/ledger"
	"railscan/observability/logging"
	"railscan/observability/otel"
	"railscan/readmodel"
	"railscan/storage"
)

const envVar = "RAILSCAN_ENV"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv(envVar))

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}
	if env == "" {
		env = cfg.Environment
	}

	logger := logging.Setup("railscan", env, logging.Options{
		FilePath:   cfg.Log.FilePath,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})

	if cfg.Telemetry.Endpoint != "" {
		shutdown, err := otel.Init(context.Background(), otel.Config{
			ServiceName: "railscan",
			Environment: env,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Metrics:     cfg.Telemetry.Metrics,
			Traces:      cfg.Telemetry.Traces,
		})
		if err != nil {
			logger.Error("Failed to initialise telemetry", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(flushCtx); err != nil {
				logger.Error("telemetry shutdown failed", slog.Any("error", err))
			}
		}()
	}

	var hooks *webhooks.Dispatcher
	if cfg.Webhook.URL != "" {
		hooks, err = webhooks.NewDispatcher(cfg.Webhook.URL, []byte(cfg.Webhook.Secret))
		if err != nil {
			logger.Error("Failed to configure webhooks", slog.Any("error", err))
			os.Exit(1)
		}
		defer hooks.Close()
	}

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()
	store := ledger.NewStore(db)

	client, err := chain.Dial(cfg.Chain.RPCEndpoint, cfg.PaymentsAddress(), chain.Options{
		CallsPerSec: float64(cfg.Chain.CallsPerSec),
	})
	if err != nil {
		logger.Error("Failed to dial RPC endpoint",
			slog.String("endpoint", logging.MaskEndpoint(cfg.Chain.RPCEndpoint)), slog.Any("error", err))
		os.Exit(1)
	}
	defer client.Close()

	eng := engine.New(store, client, logger)

	var exporter *exports.Exporter
	var mirror engine.Observer
	if cfg.DatabaseURL != "" {
		sqlDB, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
		if err != nil {
			logger.Error("Failed to open read model database", slog.Any("error", err))
			os.Exit(1)
		}
		m, err := readmodel.New(sqlDB)
		if err != nil {
			logger.Error("Failed to migrate read model", slog.Any("error", err))
			os.Exit(1)
		}
		mirror = m
		exporter = exports.NewExporter(sqlDB, cfg.ExportDir, logger)
	}
	var notifier engine.Observer
	if hooks != nil {
		notifier = webhooks.NewLedgerNotifier(hooks)
	}
	if observer := engine.CombineObservers(mirror, notifier); observer != nil {
		eng.SetObserver(observer)
	}

	runner := ingest.NewRunner(client, eng, store, logger, ingest.Options{
		StartBlock:    cfg.Chain.StartBlock,
		Confirmations: cfg.Chain.Confirmations,
		PollInterval:  time.Duration(cfg.Chain.PollIntervalSecs) * time.Second,
		BatchBlocks:   cfg.Chain.BatchBlocks,
	})

	handler := api.New(store, exporter, hooks, logger).Handler()
	if cfg.Telemetry.Endpoint != "" && cfg.Telemetry.Traces {
		handler = otelhttp.NewHandler(handler, "railscan-api")
	}
	server := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("ops server listening", slog.String("address", cfg.ListenAddress))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops server failed", slog.Any("error", err))
			stop()
		}
	}()

	logger.Info("starting ingest loop",
		slog.String("contract", cfg.PaymentsAddress().Hex()),
		slog.Uint64("startBlock", cfg.Chain.StartBlock),
		slog.Uint64("confirmations", cfg.Chain.Confirmations))

	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("ingest loop exited", slog.Any("error", err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("ops server shutdown failed", slog.Any("error", err))
	}
	logger.Info("shutdown complete")
}
