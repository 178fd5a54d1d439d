// Package scheduler decides when channel syncs run.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/stocksync/internal/inventory"
	"github.com/odyssey-erp/stocksync/internal/shared"
)

// Source lists the (sku, channel) pairs due at a point in time.
type Source interface {
	DueSyncs(ctx context.Context, now time.Time) ([]inventory.SyncTarget, error)
}

// Runner executes syncs.
type Runner interface {
	Sync(ctx context.Context, sku string, ch inventory.Channel) (inventory.SyncResult, error)
	Watchdog(ctx context.Context) (int, error)
}

// Report summarises one tick.
type Report struct {
	Due     int
	Synced  int
	Partial int
	Failed  int
}

// Config tunes the scheduler loop.
type Config struct {
	Interval time.Duration
	Workers  int
}

// Scheduler fans due syncs out to a bounded worker pool.
type Scheduler struct {
	source Source
	runner Runner
	clock  shared.Clock
	logger *slog.Logger
	cfg    Config
}

// New constructs a scheduler.
func New(source Source, runner Runner, clock shared.Clock, logger *slog.Logger, cfg Config) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if clock == nil {
		clock = shared.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{source: source, runner: runner, clock: clock, logger: logger, cfg: cfg}
}

// SyncNow runs an immediate sync outside the schedule.
func (s *Scheduler) SyncNow(ctx context.Context, sku string, ch inventory.Channel) (inventory.SyncResult, error) {
	return s.runner.Sync(ctx, sku, ch)
}

// Tick syncs every due pair once. Individual sync failures are recorded on the
// channel and counted, never returned.
func (s *Scheduler) Tick(ctx context.Context) (Report, error) {
	due, err := s.source.DueSyncs(ctx, s.clock.Now())
	if err != nil {
		return Report{}, err
	}
	report := Report{Due: len(due)}
	if len(due) == 0 {
		return report, nil
	}

	results := make([]inventory.SyncStatus, len(due))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for i, target := range due {
		g.Go(func() error {
			res, err := s.runner.Sync(gctx, target.SKU, target.Channel)
			if err != nil {
				var syncErr *inventory.ChannelSyncError
				if !errors.As(err, &syncErr) {
					s.logger.Warn("scheduled sync skipped", slog.String("sku", target.SKU), slog.String("channel", string(target.Channel)), slog.Any("error", err))
				}
				results[i] = inventory.SyncFailed
				return nil
			}
			results[i] = res.Status
			return nil
		})
	}
	_ = g.Wait()

	for _, status := range results {
		switch status {
		case inventory.SyncSynced:
			report.Synced++
		case inventory.SyncPartial:
			report.Partial++
		default:
			report.Failed++
		}
	}
	return report, ctx.Err()
}

// Run ticks until ctx is cancelled, running the watchdog before each tick.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	s.logger.Info("sync scheduler started", slog.Duration("interval", s.cfg.Interval), slog.Int("workers", s.cfg.Workers))
	for {
		s.runOnce(ctx)
		select {
		case <-ctx.Done():
			s.logger.Info("sync scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if n, err := s.runner.Watchdog(ctx); err != nil {
		s.logger.Error("sync watchdog failed", slog.Any("error", err))
	} else if n > 0 {
		s.logger.Warn("sync watchdog reset channels", slog.Int("count", n))
	}
	report, err := s.Tick(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("sync tick failed", slog.Any("error", err))
		return
	}
	if report.Due > 0 {
		s.logger.Info("sync tick",
			slog.Int("due", report.Due),
			slog.Int("synced", report.Synced),
			slog.Int("partial", report.Partial),
			slog.Int("failed", report.Failed),
		)
	}
}
