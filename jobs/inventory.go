package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/stocksync/internal/channelsync"
	"github.com/odyssey-erp/stocksync/internal/inventory"
	jobmetrics "github.com/odyssey-erp/stocksync/internal/jobs"
	"github.com/odyssey-erp/stocksync/internal/scheduler"
)

const (
	// TaskSyncTick runs every channel sync that is due.
	TaskSyncTick = "inventory:sync_tick"
	// TaskSyncWatchdog fails channel syncs stuck in pending.
	TaskSyncWatchdog = "inventory:sync_watchdog"
	// TaskReorderOverdue flags reorders past their estimated delivery.
	TaskReorderOverdue = "inventory:reorder_overdue"
	// TaskLedgerAudit replays the movement log against stored quantities.
	TaskLedgerAudit = "inventory:ledger_audit"
	// TaskKeyCleanup prunes channel event idempotency keys past retention.
	TaskKeyCleanup = "inventory:key_cleanup"

	defaultKeyRetention = 30 * 24 * time.Hour
)

// InventoryMaintenance is the slice of the inventory service the jobs drive.
type InventoryMaintenance interface {
	FlagOverdueReorders(ctx context.Context) (int, error)
	AuditAll(ctx context.Context) ([]inventory.AuditResult, error)
}

// SyncTicker runs one scheduling pass.
type SyncTicker interface {
	Tick(ctx context.Context) (scheduler.Report, error)
}

// SyncWatchdog resets stuck syncs.
type SyncWatchdog interface {
	Watchdog(ctx context.Context) (int, error)
}

// KeyJanitor prunes idempotency keys of one module.
type KeyJanitor interface {
	Cleanup(ctx context.Context, module string, cutoff time.Time) (int64, error)
}

// InventoryJobs binds the periodic inventory tasks to their handlers.
// Client movement keys are never pruned; only channel event keys are, since
// channels are never re-pulled past the webhook retention window.
type InventoryJobs struct {
	Service      InventoryMaintenance
	Ticker       SyncTicker
	Watchdog     SyncWatchdog
	Keys         KeyJanitor
	KeyRetention time.Duration
	Logger       *slog.Logger
	Metrics      *jobmetrics.Metrics
}

// Handlers lists the task handlers to register on the worker.
func (j *InventoryJobs) Handlers() []TaskHandler {
	return []TaskHandler{
		{Type: TaskSyncTick, Handler: j.HandleSyncTick},
		{Type: TaskSyncWatchdog, Handler: j.HandleSyncWatchdog},
		{Type: TaskReorderOverdue, Handler: j.HandleReorderOverdue},
		{Type: TaskLedgerAudit, Handler: j.HandleLedgerAudit},
		{Type: TaskKeyCleanup, Handler: j.HandleKeyCleanup},
	}
}

// CronSchedule registers the periodic inventory tasks. Sync ticks run at the
// sync interval and are unique for that long so slow ticks never pile up.
func CronSchedule(syncEvery time.Duration) []CronRegistration {
	if syncEvery < time.Second {
		syncEvery = 30 * time.Second
	}
	tick := fmt.Sprintf("@every %s", syncEvery)
	return []CronRegistration{
		{Spec: tick, Task: asynq.NewTask(TaskSyncTick, nil), Options: []asynq.Option{asynq.Queue(QueueSync), asynq.Unique(syncEvery), asynq.MaxRetry(0)}},
		{Spec: "@every 1m", Task: asynq.NewTask(TaskSyncWatchdog, nil), Options: []asynq.Option{asynq.Queue(QueueSync), asynq.Unique(time.Minute), asynq.MaxRetry(0)}},
		{Spec: "*/15 * * * *", Task: asynq.NewTask(TaskReorderOverdue, nil), Options: []asynq.Option{asynq.MaxRetry(1)}},
		{Spec: "30 2 * * *", Task: asynq.NewTask(TaskLedgerAudit, nil), Options: []asynq.Option{asynq.MaxRetry(1), asynq.Timeout(time.Hour)}},
		{Spec: "45 3 * * *", Task: asynq.NewTask(TaskKeyCleanup, nil), Options: []asynq.Option{asynq.MaxRetry(2)}},
	}
}

// QueueFor returns the queue a task type is enqueued on.
func QueueFor(taskType string) string {
	switch taskType {
	case TaskSyncTick, TaskSyncWatchdog:
		return QueueSync
	default:
		return QueueDefault
	}
}

// HandleSyncTick syncs every due (sku, channel) pair.
func (j *InventoryJobs) HandleSyncTick(ctx context.Context, _ *asynq.Task) (err error) {
	if j == nil || j.Ticker == nil {
		return errors.New("sync tick: handler not configured")
	}
	tracker := j.Metrics.Track(TaskSyncTick)
	defer func() { err = tracker.End(err) }()

	report, err := j.Ticker.Tick(ctx)
	if err != nil {
		j.logger().Error("sync tick failed", slog.Any("error", err))
		return err
	}
	j.Metrics.AddFindings(TaskSyncTick, "failed_syncs", report.Failed)
	j.Metrics.AddFindings(TaskSyncTick, "partial_syncs", report.Partial)
	if report.Due > 0 {
		j.logger().Info("sync tick completed",
			slog.Int("due", report.Due),
			slog.Int("synced", report.Synced),
			slog.Int("partial", report.Partial),
			slog.Int("failed", report.Failed),
		)
	}
	return nil
}

// HandleSyncWatchdog resets syncs stuck in pending.
func (j *InventoryJobs) HandleSyncWatchdog(ctx context.Context, _ *asynq.Task) (err error) {
	if j == nil || j.Watchdog == nil {
		return errors.New("sync watchdog: handler not configured")
	}
	tracker := j.Metrics.Track(TaskSyncWatchdog)
	defer func() { err = tracker.End(err) }()

	n, err := j.Watchdog.Watchdog(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		j.Metrics.AddFindings(TaskSyncWatchdog, "stuck_syncs", n)
		j.logger().Warn("sync watchdog reset channels", slog.Int("count", n))
	}
	return nil
}

// HandleReorderOverdue flags overdue reorders. Orders are never auto-cancelled.
func (j *InventoryJobs) HandleReorderOverdue(ctx context.Context, _ *asynq.Task) (err error) {
	if j == nil || j.Service == nil {
		return errors.New("reorder overdue: handler not configured")
	}
	tracker := j.Metrics.Track(TaskReorderOverdue)
	defer func() { err = tracker.End(err) }()

	n, err := j.Service.FlagOverdueReorders(ctx)
	if err != nil {
		return err
	}
	j.Metrics.AddFindings(TaskReorderOverdue, "overdue_reorders", n)
	if n > 0 {
		j.logger().Warn("overdue reorders flagged", slog.Int("count", n))
	}
	return nil
}

// HandleLedgerAudit replays every active (sku, warehouse).
func (j *InventoryJobs) HandleLedgerAudit(ctx context.Context, _ *asynq.Task) (err error) {
	if j == nil || j.Service == nil {
		return errors.New("ledger audit: handler not configured")
	}
	tracker := j.Metrics.Track(TaskLedgerAudit)
	defer func() { err = tracker.End(err) }()

	results, err := j.Service.AuditAll(ctx)
	if err != nil {
		return err
	}
	mismatches := 0
	for _, res := range results {
		if !res.Match {
			mismatches++
		}
	}
	j.Metrics.AddFindings(TaskLedgerAudit, "mismatches", mismatches)
	j.logger().Info("ledger audit completed", slog.Int("checked", len(results)), slog.Int("mismatches", mismatches))
	return nil
}

// HandleKeyCleanup deletes channel event keys older than the retention.
func (j *InventoryJobs) HandleKeyCleanup(ctx context.Context, _ *asynq.Task) (err error) {
	if j == nil || j.Keys == nil {
		return errors.New("key cleanup: handler not configured")
	}
	tracker := j.Metrics.Track(TaskKeyCleanup)
	defer func() { err = tracker.End(err) }()

	retention := j.KeyRetention
	if retention <= 0 {
		retention = defaultKeyRetention
	}
	n, err := j.Keys.Cleanup(ctx, channelsync.IdempotencyModule, time.Now().Add(-retention))
	if err != nil {
		return err
	}
	j.Metrics.AddFindings(TaskKeyCleanup, "pruned_keys", int(n))
	j.logger().Info("idempotency keys pruned", slog.Int64("count", n), slog.Duration("retention", retention))
	return nil
}

func (j *InventoryJobs) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
