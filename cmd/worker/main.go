package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/coaltech18/hybits-crm/internal/app"
	"github.com/coaltech18/hybits-crm/internal/item"
	jobmetrics "github.com/coaltech18/hybits-crm/internal/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	// Asynq manages its own connections; this ping just fails fast when
	// redis is unreachable at startup.
	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	if err := redisClient.Close(); err != nil {
		logger.Warn("redis close", slog.Any("error", err))
	}

	metrics := observability.NewMetrics()
	trackers := jobmetrics.NewMetrics(metrics.Registerer())

	activityLogger := shared.NewActivityLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)
	codes := sequence.NewGenerator(sequence.NewRepository(pool), metrics.SequenceConflict)

	itemRepo := item.NewRepository(pool)
	ledgerRepo := ledger.NewRepository(pool)
	ledgerService := ledger.NewService(ledgerRepo, codes, activityLogger, idempotencyStore, metrics.MovementRecorded)

	integrityJob := jobs.NewSummaryIntegrityChecker(logger, itemRepo, ledgerService, trackers, metrics.SummaryDrift)
	cleanupJob := jobs.NewIdempotencyCleaner(logger, idempotencyStore, trackers)
	reminderJob := jobs.NewAuditReminder(logger, stockaudit.NewRepository(pool), trackers)

	integrityTask, err := jobs.NewSummaryIntegrityTask(time.Now(), 0)
	if err != nil {
		logger.Error("build integrity task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(cfg.IdempotencyRetention)
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}
	reminderTask, err := jobs.NewAuditReminderTask(cfg.AuditReminderMaxAge)
	if err != nil {
		logger.Error("build reminder task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskSummaryIntegrity, Handler: integrityJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
			{Type: jobs.TaskAuditReminder, Handler: reminderJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.SummaryCheckSchedule, Task: integrityTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "45 3 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "30 8 * * *", Task: reminderTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
