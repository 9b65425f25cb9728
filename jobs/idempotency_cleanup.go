package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/coaltech18/hybits-crm/internal/jobs"
)

// KeyPruner removes idempotency keys older than the retention window.
type KeyPruner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// IdempotencyCleaner prunes expired idempotency keys so the uniqueness
// table stays small while retries within the retention window still dedupe.
type IdempotencyCleaner struct {
	logger  *slog.Logger
	pruner  KeyPruner
	metrics *jobmetrics.Metrics
}

// NewIdempotencyCleaner constructs the cleaner.
func NewIdempotencyCleaner(logger *slog.Logger, pruner KeyPruner, metrics *jobmetrics.Metrics) *IdempotencyCleaner {
	return &IdempotencyCleaner{logger: logger, pruner: pruner, metrics: metrics}
}

// Handle processes TaskIdempotencyCleanup tasks.
func (c *IdempotencyCleaner) Handle(ctx context.Context, t *asynq.Task) error {
	var payload IdempotencyCleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	retention := payload.Retention
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	tracker := c.metrics.Track("idempotency_cleanup")
	removed, err := c.pruner.Cleanup(ctx, retention)
	if err == nil {
		c.logger.Info("idempotency cleanup complete", slog.Int64("removed", removed))
	}
	return tracker.End(err)
}
