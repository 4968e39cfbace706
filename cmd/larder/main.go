package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/larderhq/larder/internal/app"
	"github.com/larderhq/larder/internal/catalog"
	"github.com/larderhq/larder/internal/document"
	"github.com/larderhq/larder/internal/ledger"
	"github.com/larderhq/larder/internal/observability"
	"github.com/larderhq/larder/internal/platform/cache"
	"github.com/larderhq/larder/internal/platform/db"
	"github.com/larderhq/larder/internal/recon"
	"github.com/larderhq/larder/internal/shared"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, db.PoolConfig{
		DSN:          cfg.PGDSN,
		MaxConns:     cfg.PGMaxConns,
		MinConns:     cfg.PGMinConns,
		ConnLifetime: cfg.PGConnLifetime,
	})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr, cfg.RedisPoolSize)
	if err != nil {
		logger.Warn("redis unavailable, document views uncached", slog.Any("error", err))
	}
	defer func() {
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}
	}()

	auditLogger := shared.NewAuditLogger(pool)
	approvalRecorder := shared.NewApprovalRecorder(pool, logger)
	metrics := observability.NewMetrics()

	catalogRepo := catalog.NewRepository(pool)
	catalogService := catalog.NewService(catalogRepo, auditLogger)
	catalogResolver := catalog.NewResolver(catalogService)
	refs := app.CatalogRefs{Catalog: catalogService}

	ledgerRepo := ledger.NewRepository(pool)
	ledgerService := ledger.NewService(ledgerRepo, auditLogger, logger)

	documentRepo := document.NewRepository(pool)
	documentCache := document.NewViewCache(redisClient, cfg.DocumentCacheTTL)
	documentService := document.NewService(documentRepo, refs, ledgerService, documentCache,
		approvalRecorder, auditLogger, metrics, logger,
		document.ServiceConfig{ApprovalRetries: cfg.ApprovalRetries})

	reconRepo := recon.NewRepository(pool)
	reconService := recon.NewService(reconRepo, refs, approvalRecorder, auditLogger, logger)
	reconReporter := recon.NewReporter(reconRepo)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		CatalogHandler:  catalog.NewHandler(logger, catalogService),
		DocumentHandler: document.NewHandler(logger, documentService, catalogResolver),
		StockHandler:    ledger.NewHandler(logger, ledgerService),
		ReconHandler:    recon.NewHandler(logger, reconService, reconReporter),
		Metrics:         metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
