package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/coaltech18/hybits-crm/internal/jobs"
	"github.com/coaltech18/hybits-crm/internal/stockaudit"
)

// StaleAuditLister finds open audits that have idled past maxAge.
type StaleAuditLister interface {
	ListStale(ctx context.Context, maxAge time.Duration) ([]stockaudit.Audit, error)
}

// AuditReminder surfaces physical counts that stalled mid-cycle. An audit
// stuck in counting blocks the next period's cycle for its outlet, so stale
// ones are worth chasing.
type AuditReminder struct {
	logger  *slog.Logger
	audits  StaleAuditLister
	metrics *jobmetrics.Metrics
}

// NewAuditReminder constructs the reminder.
func NewAuditReminder(logger *slog.Logger, audits StaleAuditLister, metrics *jobmetrics.Metrics) *AuditReminder {
	return &AuditReminder{logger: logger, audits: audits, metrics: metrics}
}

// Handle processes TaskAuditReminder tasks.
func (a *AuditReminder) Handle(ctx context.Context, t *asynq.Task) error {
	var payload AuditReminderPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	maxAge := payload.MaxAge
	if maxAge <= 0 {
		maxAge = 72 * time.Hour
	}
	tracker := a.metrics.Track("audit_reminder")
	stale, err := a.audits.ListStale(ctx, maxAge)
	if err != nil {
		return tracker.End(err)
	}
	for _, audit := range stale {
		a.logger.Warn("audit stalled",
			slog.String("code", audit.Code),
			slog.Int64("outlet_id", audit.OutletID),
			slog.String("period", audit.Period.String()),
			slog.String("status", string(audit.Status)),
			slog.Time("last_update", audit.UpdatedAt))
	}
	a.logger.Info("audit reminder sweep complete", slog.Int("stale", len(stale)))
	return tracker.End(nil)
}
