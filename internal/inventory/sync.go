package inventory

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// SaleEvent is a channel-reported sale or return, idempotent per Reference.
type SaleEvent struct {
	Reference   string       `json:"reference"`
	Type        MovementType `json:"type"`
	Quantity    int64        `json:"quantity"`
	WarehouseID string       `json:"warehouseId,omitempty"`
	OccurredAt  time.Time    `json:"occurredAt"`
}

// SyncPlan is what a channel sync needs to know before talking to the adapter.
type SyncPlan struct {
	SKU       string
	Channel   Channel
	Since     time.Time
	Available int64
	Cap       int64
}

// Allocation caps the pushed quantity by ledger availability net of sales that
// were pulled but not yet booked.
func (p SyncPlan) Allocation(pendingSales int64) int64 {
	qty := p.Available - pendingSales
	if p.Cap > 0 && qty > p.Cap {
		qty = p.Cap
	}
	if qty < 0 {
		return 0
	}
	return qty
}

// SyncSummary reports what a completed sync booked.
type SyncSummary struct {
	Applied  []string `json:"applied"`
	Rejected []string `json:"rejected"`
	Sold     int64    `json:"sold"`
	Returned int64    `json:"returned"`
}

// BeginSync marks the channel pending and returns the plan for the adapter calls.
func (l Ledger) BeginSync(rec InventoryRecord, ch Channel, now time.Time) (Change, SyncPlan, error) {
	if rec.Archived {
		return Change{Record: rec}, SyncPlan{}, ErrArchived
	}
	i := rec.allocationIndex(ch)
	if i < 0 {
		return Change{Record: rec}, SyncPlan{}, invalid("channel", fmt.Sprintf("%s is not configured for %s", ch, rec.SKU))
	}
	alloc := rec.ChannelAllocations[i]
	if !alloc.Enabled {
		return Change{Record: rec}, SyncPlan{}, invalid("channel", fmt.Sprintf("%s is disabled for %s", ch, rec.SKU))
	}
	next := rec.clone()
	next.ChannelAllocations[i].SyncStatus = SyncPending
	next.ChannelAllocations[i].SyncStartedAt = now
	next.SyncStatus = aggregateSyncStatus(next.ChannelAllocations)
	plan := SyncPlan{
		SKU:       rec.SKU,
		Channel:   ch,
		Since:     alloc.PulledThrough,
		Available: rec.GlobalStock.TotalAvailable,
		Cap:       alloc.AllocationCap,
	}
	return Change{Record: next}, plan, nil
}

// CompleteSync books pulled sales and returns through the ledger and records
// the pushed allocation. Rejected events leave the channel partial; those
// rejected for lack of stock also raise an oversell alert.
func (l Ledger) CompleteSync(rec InventoryRecord, ch Channel, events []SaleEvent, pushed int64, nextSync time.Time, now time.Time) (Change, SyncSummary, error) {
	if rec.Archived {
		return Change{Record: rec}, SyncSummary{}, ErrArchived
	}
	i := rec.allocationIndex(ch)
	if i < 0 {
		return Change{Record: rec}, SyncSummary{}, invalid("channel", fmt.Sprintf("%s is not configured for %s", ch, rec.SKU))
	}
	change := Change{Record: rec.clone()}
	var summary SyncSummary
	var invalidEvents []string
	for _, se := range events {
		mv, err := saleMovement(change.Record, ch, se)
		if err == nil {
			var applied Change
			applied, err = l.Apply(change.Record, mv, now)
			if err == nil {
				change.merge(applied)
				summary.Applied = append(summary.Applied, se.Reference)
				if se.Type == MovementReturn {
					summary.Returned += se.Quantity
				} else {
					summary.Sold += se.Quantity
				}
				continue
			}
		}
		if errors.Is(err, ErrArchived) {
			return Change{Record: rec}, SyncSummary{}, err
		}
		summary.Rejected = append(summary.Rejected, se.Reference)
		if !errors.Is(err, ErrInsufficientStock) {
			invalidEvents = append(invalidEvents, fmt.Sprintf("%s: %v", se.Reference, err))
			continue
		}
		msg := fmt.Sprintf("%s could not book %s %s from %s: %v", rec.SKU, se.Type, se.Reference, ch, err)
		if evt, ok := l.raise(&change.Record, Alert{Type: AlertOversell, Severity: SeverityCritical, Channel: ch, Message: msg, Quantity: se.Quantity}, now); ok {
			change.Events = append(change.Events, evt)
		}
	}

	alloc := &change.Record.ChannelAllocations[i]
	alloc.Sold += summary.Sold
	alloc.Returned += summary.Returned
	alloc.Allocated = pushed
	alloc.SyncStatus = SyncSynced
	alloc.SyncError = ""
	if len(summary.Rejected) > 0 {
		alloc.SyncStatus = SyncPartial
		alloc.SyncError = fmt.Sprintf("%d channel events rejected", len(summary.Rejected))
		if len(invalidEvents) > 0 {
			alloc.SyncError += "; invalid " + strings.Join(invalidEvents, "; ")
		}
	}
	// Events the channel records after the pull started are read again next time.
	alloc.PulledThrough = alloc.SyncStartedAt
	if alloc.PulledThrough.IsZero() {
		alloc.PulledThrough = now
	}
	alloc.LastSync = now
	alloc.SyncStartedAt = time.Time{}
	alloc.NextSyncAt = nextSync
	alloc.FailedSyncCount = 0
	change.Record.SyncStatus = aggregateSyncStatus(change.Record.ChannelAllocations)
	change.Record.UpdatedAt = now
	change.Events = append(change.Events, l.EvaluateChannel(&change.Record, ch, now)...)
	change.Events = append(change.Events, Event{Kind: EventSyncCompleted, SKU: rec.SKU, At: now, Channel: ch})
	return change, summary, nil
}

// FailSync records an adapter failure. Stock is never touched.
func (l Ledger) FailSync(rec InventoryRecord, ch Channel, cause string, nextSync time.Time, now time.Time) (Change, error) {
	i := rec.allocationIndex(ch)
	if i < 0 {
		return Change{Record: rec}, invalid("channel", fmt.Sprintf("%s is not configured for %s", ch, rec.SKU))
	}
	next := rec.clone()
	alloc := &next.ChannelAllocations[i]
	alloc.SyncStatus = SyncFailed
	alloc.SyncError = cause
	alloc.FailedSyncCount++
	alloc.SyncStartedAt = time.Time{}
	alloc.NextSyncAt = nextSync
	next.SyncStatus = aggregateSyncStatus(next.ChannelAllocations)
	next.UpdatedAt = now
	change := Change{Record: next}
	change.Events = append(change.Events, l.EvaluateChannel(&change.Record, ch, now)...)
	change.Events = append(change.Events, Event{Kind: EventSyncFailed, SKU: rec.SKU, At: now, Channel: ch, Error: cause})
	return change, nil
}

// ResetStuck fails every pending sync that started before the cutoff.
func (l Ledger) ResetStuck(rec InventoryRecord, cutoff time.Time, now time.Time) (Change, []Channel) {
	change := Change{Record: rec}
	var reset []Channel
	for _, alloc := range rec.ChannelAllocations {
		if alloc.SyncStatus != SyncPending || alloc.SyncStartedAt.After(cutoff) {
			continue
		}
		failed, err := l.FailSync(change.Record, alloc.Channel, "sync watchdog: no result before deadline", now, now)
		if err != nil {
			continue
		}
		change.merge(failed)
		reset = append(reset, alloc.Channel)
	}
	return change, reset
}

// saleMovement converts a channel event into a ledger movement. Sales come out
// of the event's warehouse, else the channel's fulfilment warehouse, else the
// warehouse holding the most available stock; returns go back to the event's
// warehouse, else the fulfilment warehouse, else the first warehouse.
func saleMovement(rec InventoryRecord, ch Channel, se SaleEvent) (Movement, error) {
	if se.Reference == "" {
		return Movement{}, invalid("reference", "channel event reference required")
	}
	if se.Type != MovementSale && se.Type != MovementReturn {
		return Movement{}, invalid("type", fmt.Sprintf("channel events must be sale or return, got %q", se.Type))
	}
	warehouseID := se.WarehouseID
	if warehouseID == "" {
		if alloc, ok := rec.Allocation(ch); ok {
			warehouseID = alloc.WarehouseID
		}
	}
	if warehouseID == "" && len(rec.Warehouses) > 0 {
		warehouseID = rec.Warehouses[0].WarehouseID
		if se.Type == MovementSale {
			best := rec.Warehouses[0]
			for _, w := range rec.Warehouses[1:] {
				if w.Quantities.Available > best.Quantities.Available {
					best = w
				}
			}
			warehouseID = best.WarehouseID
		}
	}
	mv := Movement{
		Type:      se.Type,
		Quantity:  se.Quantity,
		Channel:   ch,
		Reference: se.Reference,
		Actor:     "channel:" + string(ch),
	}
	return mv.Normalize(warehouseID), nil
}

func aggregateSyncStatus(allocs []ChannelAllocation) SyncStatus {
	status := SyncSynced
	rank := map[SyncStatus]int{SyncSynced: 0, SyncPartial: 1, SyncPending: 2, SyncFailed: 3}
	for _, a := range allocs {
		if !a.Enabled || a.SyncStatus == "" {
			continue
		}
		if rank[a.SyncStatus] > rank[status] {
			status = a.SyncStatus
		}
	}
	return status
}

// SyncResult reports one reconciliation attempt of a (sku, channel) pair.
type SyncResult struct {
	SKU     string      `json:"sku"`
	Channel Channel     `json:"channel"`
	Status  SyncStatus  `json:"status"`
	Pushed  int64       `json:"pushed"`
	Summary SyncSummary `json:"summary"`
	Error   string      `json:"error,omitempty"`
}
