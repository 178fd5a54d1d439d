package inventory

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/odyssey-erp/stocksync/internal/shared"
)

// SyncTarget identifies one (sku, channel) pair due for reconciliation.
type SyncTarget struct {
	SKU     string
	Channel Channel
}

// BeginSync marks the channel pending and returns the plan for the adapter calls.
func (s *Service) BeginSync(ctx context.Context, sku string, ch Channel) (SyncPlan, error) {
	var plan SyncPlan
	change, err := s.mutate(ctx, sku, []string{shared.ChannelLockKey(sku, string(ch))}, func(rec InventoryRecord, now time.Time) (Change, error) {
		change, p, err := s.ledger.BeginSync(rec, ch, now)
		plan = p
		return change, err
	})
	if err != nil {
		return SyncPlan{}, err
	}
	s.afterCommit(ctx, change, "", "")
	return plan, nil
}

// Allocation re-reads committed state and computes the quantity to push.
// Stale listings are never used for this decision.
func (s *Service) Allocation(ctx context.Context, sku string, ch Channel, pendingSales int64) (int64, error) {
	rec, err := s.repo.Get(ctx, sku)
	if err != nil {
		return 0, err
	}
	if rec.Archived {
		return 0, ErrArchived
	}
	alloc, ok := rec.Allocation(ch)
	if !ok || !alloc.Enabled {
		return 0, invalid("channel", string(ch)+" is not enabled for "+sku)
	}
	plan := SyncPlan{SKU: sku, Channel: ch, Available: rec.GlobalStock.TotalAvailable, Cap: alloc.AllocationCap}
	return plan.Allocation(pendingSales), nil
}

// CompleteSync books pulled sales and returns and records the pushed allocation.
// Every warehouse of the SKU is locked because the events pick their warehouse
// while being applied.
func (s *Service) CompleteSync(ctx context.Context, sku string, ch Channel, events []SaleEvent, pushed int64, nextSync time.Time) (SyncSummary, error) {
	keys, err := s.recordKeys(ctx, sku, ch)
	if err != nil {
		return SyncSummary{}, err
	}
	var summary SyncSummary
	change, err := s.mutate(ctx, sku, keys, func(rec InventoryRecord, now time.Time) (Change, error) {
		change, sm, err := s.ledger.CompleteSync(rec, ch, events, pushed, nextSync, now)
		summary = sm
		return change, err
	})
	if err != nil {
		return SyncSummary{}, err
	}
	s.afterCommit(ctx, change, "inventory.sync.complete", "channel:"+string(ch))
	return summary, nil
}

// FailSync records an adapter failure without touching stock.
func (s *Service) FailSync(ctx context.Context, sku string, ch Channel, cause string, nextSync time.Time) error {
	change, err := s.mutate(ctx, sku, []string{shared.ChannelLockKey(sku, string(ch))}, func(rec InventoryRecord, now time.Time) (Change, error) {
		return s.ledger.FailSync(rec, ch, cause, nextSync, now)
	})
	if err != nil {
		return err
	}
	s.afterCommit(ctx, change, "", "")
	return nil
}

// DueSyncs lists enabled channel allocations of active records whose next sync
// time has passed. A zero next sync time means due immediately. Channels with a
// sync already pending are skipped; the watchdog recovers them.
func (s *Service) DueSyncs(ctx context.Context, now time.Time) ([]SyncTarget, error) {
	recs, err := s.repo.List(ctx, ListFilter{})
	if err != nil {
		return nil, err
	}
	var out []SyncTarget
	for _, rec := range recs {
		for _, alloc := range rec.ChannelAllocations {
			if !alloc.Enabled || alloc.SyncStatus == SyncPending {
				continue
			}
			if alloc.NextSyncAt.IsZero() || !alloc.NextSyncAt.After(now) {
				out = append(out, SyncTarget{SKU: rec.SKU, Channel: alloc.Channel})
			}
		}
	}
	return out, nil
}

// ResetStuckSyncs fails every sync left pending since before cutoff and returns
// the number of channels reset.
func (s *Service) ResetStuckSyncs(ctx context.Context, cutoff time.Time) (int, error) {
	recs, err := s.repo.List(ctx, ListFilter{IncludeArchived: true})
	if err != nil {
		return 0, err
	}
	total := 0
	for _, rec := range recs {
		stuck := false
		for _, alloc := range rec.ChannelAllocations {
			if alloc.SyncStatus == SyncPending && !alloc.SyncStartedAt.After(cutoff) {
				stuck = true
			}
		}
		if !stuck {
			continue
		}
		var reset []Channel
		change, err := s.mutate(ctx, rec.SKU, nil, func(rec InventoryRecord, now time.Time) (Change, error) {
			var change Change
			change, reset = s.ledger.ResetStuck(rec, cutoff, now)
			if len(reset) == 0 {
				return change, errUnchanged
			}
			return change, nil
		})
		if err != nil {
			if !errors.Is(err, ErrRecordNotFound) {
				s.logger.Warn("sync watchdog failed", slog.String("sku", rec.SKU), slog.Any("error", err))
			}
			continue
		}
		for _, ch := range reset {
			s.logger.Warn("reset stuck channel sync", slog.String("sku", rec.SKU), slog.String("channel", string(ch)))
		}
		total += len(reset)
		s.afterCommit(ctx, change, "", "")
	}
	return total, nil
}

func (s *Service) recordKeys(ctx context.Context, sku string, ch Channel) ([]string, error) {
	rec, err := s.repo.Get(ctx, sku)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(rec.Warehouses))
	for _, w := range rec.Warehouses {
		ids = append(ids, w.WarehouseID)
	}
	return append(s.stockKeys(sku, ids), shared.ChannelLockKey(sku, string(ch))), nil
}
