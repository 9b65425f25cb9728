package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"

	"github.com/coaltech18/hybits-crm/internal/allocation"
	"github.com/coaltech18/hybits-crm/internal/app"
	"github.com/coaltech18/hybits-crm/internal/auth"
	"github.com/coaltech18/hybits-crm/internal/item"
	"github.com/coaltech18/hybits-crm/internal/ledger"
	"github.com/coaltech18/hybits-crm/internal/observability"
	"github.com/coaltech18/hybits-crm/internal/platform/cache"
	"github.com/coaltech18/hybits-crm/internal/platform/db"
	"github.com/coaltech18/hybits-crm/internal/sequence"
	"github.com/coaltech18/hybits-crm/internal/shared"
	"github.com/coaltech18/hybits-crm/internal/stockaudit"
	"github.com/coaltech18/hybits-crm/jobs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	validate := validator.New(validator.WithRequiredStructEnabled())

	directory := auth.NewDirectory(dbpool, redisClient, cfg.AuthCacheTTL)

	activityLogger := shared.NewActivityLogger(dbpool)
	approvalRecorder := shared.NewApprovalRecorder(dbpool, logger)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)

	seqStore := sequence.NewRepository(dbpool)
	codes := sequence.NewGenerator(seqStore, metrics.SequenceConflict)

	itemRepo := item.NewRepository(dbpool)
	itemService := item.NewService(itemRepo, codes, activityLogger)
	itemHandler := item.NewHandler(logger, itemService, validate)

	ledgerRepo := ledger.NewRepository(dbpool)
	ledgerService := ledger.NewService(ledgerRepo, codes, activityLogger, idempotencyStore, metrics.MovementRecorded)
	ledgerHandler := ledger.NewHandler(logger, ledgerService, validate)

	allocationRepo := allocation.NewRepository(dbpool)
	allocationService := allocation.NewService(allocationRepo, codes, activityLogger, metrics.MovementRecorded)
	allocationHandler := allocation.NewHandler(logger, allocationService, validate)

	auditRepo := stockaudit.NewRepository(dbpool)
	auditService := stockaudit.NewService(auditRepo, codes, approvalRecorder, activityLogger, metrics.AuditApproved)
	auditHandler := stockaudit.NewHandler(logger, auditService, validate)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		ActorResolver:     directory,
		ItemHandler:       itemHandler,
		LedgerHandler:     ledgerHandler,
		AllocationHandler: allocationHandler,
		AuditHandler:      auditHandler,
		JobHandler:        jobHandler,
		Metrics:           metrics,
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
