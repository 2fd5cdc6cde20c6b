package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"notion_mirror/internal/config"
	"notion_mirror/internal/publisher"
	"notion_mirror/internal/scheduler"
	"notion_mirror/internal/service"
	"notion_mirror/internal/source/notion"
	"notion_mirror/internal/storage/postgres"
	"notion_mirror/internal/transport"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	logger := setupLogger("info")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = setupLogger(cfg.LogLevel)

	db, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	var pub service.Publisher
	if cfg.RabbitMQ.Enabled {
		rabbitMQ, err := publisher.NewRabbitMQ(publisher.Config{
			URL:        cfg.RabbitMQ.URL,
			Exchange:   cfg.RabbitMQ.Exchange,
			RoutingKey: cfg.RabbitMQ.RoutingKey,
			QueueName:  cfg.RabbitMQ.QueueName,
		}, logger)
		if err != nil {
			logger.Error("failed to connect to rabbitmq", "error", err)
			os.Exit(1)
		}
		defer rabbitMQ.Close()
		pub = rabbitMQ
	}

	recordStore := postgres.NewRecordStore(db)
	syncMetaStore := postgres.NewSyncMetaStore(db)
	txManager := postgres.NewTransactionManager(db)

	schemaCache := notion.NewSchemaCache(cfg.Notion.SchemaCacheTTL)
	notionSource := notion.New(notion.Config{
		BaseURL:        cfg.Notion.BaseURL,
		APIKey:         cfg.Notion.APIKey,
		Version:        cfg.Notion.Version,
		DatabaseID:     cfg.Notion.DatabaseID,
		PageSize:       cfg.Notion.PageSize,
		Timeout:        cfg.Notion.Timeout,
		MaxAttempts:    cfg.Notion.Retry.MaxAttempts,
		InitialBackoff: cfg.Notion.Retry.InitialBackoff,
		MaxBackoff:     cfg.Notion.Retry.MaxBackoff,
	}, schemaCache, logger)

	syncService := service.NewSyncService(
		notionSource,
		recordStore,
		syncMetaStore,
		txManager,
		pub,
		logger,
		cfg.Sync,
	)
	defer syncService.Close()

	queryService := service.NewQueryService(recordStore, syncMetaStore, cfg.Notion.DatabaseID, logger)

	sched := scheduler.NewScheduler(syncService, cfg.Sync.Interval, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	router := transport.NewRouter(syncService, queryService, logger)
	httpServer := &http.Server{
		Addr:    cfg.Server.Addr(),
		Handler: router,
	}

	go func() {
		logger.Info("http server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	logger.Info("starting notion mirror",
		"database_id", cfg.Notion.DatabaseID,
		"interval", cfg.Sync.Interval,
	)

	err = sched.Start(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("scheduler error", "error", err)
		os.Exit(1)
	}
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}
