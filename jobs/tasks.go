// Package jobs holds the asynq task definitions and the worker that runs
// them: the nightly summary integrity sweep, idempotency-key cleanup and
// stale-audit reminders.
package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskSummaryIntegrity re-aggregates every summary from the movement
	// log and flags drift.
	TaskSummaryIntegrity = "inventory:summary_integrity"
	// TaskIdempotencyCleanup prunes expired idempotency keys.
	TaskIdempotencyCleanup = "inventory:idempotency_cleanup"
	// TaskAuditReminder flags physical counts that stalled mid-cycle.
	TaskAuditReminder = "inventory:audit_reminder"
)

// SummaryIntegrityPayload carries scheduling metadata.
type SummaryIntegrityPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
	OutletID     int64     `json:"outlet_id,omitempty"`
}

// NewSummaryIntegrityTask constructs the integrity-sweep task. OutletID
// zero sweeps every outlet.
func NewSummaryIntegrityTask(at time.Time, outletID int64) (*asynq.Task, error) {
	body, err := json.Marshal(SummaryIntegrityPayload{ScheduledFor: at, OutletID: outletID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSummaryIntegrity, body, asynq.Queue(QueueDefault)), nil
}

// IdempotencyCleanupPayload carries the retention window.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewIdempotencyCleanupTask constructs the cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}

// AuditReminderPayload carries how long an open audit may idle before it is
// flagged.
type AuditReminderPayload struct {
	MaxAge time.Duration `json:"max_age"`
}

// NewAuditReminderTask constructs the stale-audit reminder task.
func NewAuditReminderTask(maxAge time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(AuditReminderPayload{MaxAge: maxAge})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditReminder, body, asynq.Queue(QueueDefault)), nil
}
