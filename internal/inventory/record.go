package inventory

import (
	"fmt"
	"strings"
	"time"
)

// WarehouseInput configures one warehouse, with optional opening stock.
type WarehouseInput struct {
	WarehouseID     string     `json:"warehouseId" validate:"required"`
	Available       int64      `json:"available" validate:"gte=0"`
	Reserved        int64      `json:"reserved" validate:"gte=0"`
	Damaged         int64      `json:"damaged" validate:"gte=0"`
	InTransit       int64      `json:"inTransit" validate:"gte=0"`
	ReorderPoint    int64      `json:"reorderPoint" validate:"gte=0"`
	ReorderQuantity int64      `json:"reorderQuantity" validate:"gte=0"`
	MaxStockLevel   int64      `json:"maxStockLevel" validate:"gte=0"`
	AutoReorder     bool       `json:"autoReorder"`
	Suppliers       []Supplier `json:"suppliers"`
}

// ChannelInput configures one channel allocation.
type ChannelInput struct {
	Channel       Channel `json:"channel" validate:"required"`
	Enabled       bool    `json:"enabled"`
	AllocationCap int64   `json:"allocationCap" validate:"gte=0"`
	WarehouseID   string  `json:"warehouseId"`
}

// CreateInput describes a new SKU record.
type CreateInput struct {
	SKU        string           `json:"sku" validate:"required"`
	ProductID  string           `json:"productId" validate:"required"`
	VariantID  string           `json:"variantId"`
	Warehouses []WarehouseInput `json:"warehouses" validate:"required,min=1,dive"`
	Channels   []ChannelInput   `json:"channels" validate:"dive"`
	Actor      string           `json:"-"`
}

// NewRecord builds a record. Opening stock is booked as adjustment movements so
// the movement log replays to the stored state from the very first version.
func (l Ledger) NewRecord(in CreateInput, now time.Time) (Change, error) {
	sku := strings.TrimSpace(in.SKU)
	if sku == "" {
		return Change{}, invalid("sku", "required")
	}
	if len(in.Warehouses) == 0 {
		return Change{}, invalid("warehouses", "at least one warehouse required")
	}
	rec := InventoryRecord{
		SKU:                sku,
		ProductID:          in.ProductID,
		VariantID:          in.VariantID,
		Warehouses:         []WarehouseStock{},
		ChannelAllocations: []ChannelAllocation{},
		Alerts:             []Alert{},
		ReorderHistory:     []ReorderOrder{},
		SyncStatus:         SyncSynced,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	for _, w := range in.Warehouses {
		if w.WarehouseID == "" {
			return Change{}, invalid("warehouseId", "required")
		}
		if rec.warehouseIndex(w.WarehouseID) >= 0 {
			return Change{}, invalid("warehouseId", fmt.Sprintf("duplicate warehouse %q", w.WarehouseID))
		}
		ws, err := warehouseFromInput(WarehouseStock{WarehouseID: w.WarehouseID}, w)
		if err != nil {
			return Change{}, err
		}
		rec.Warehouses = append(rec.Warehouses, l.refresh(ws, now))
	}
	for _, c := range in.Channels {
		if rec.allocationIndex(c.Channel) >= 0 {
			return Change{}, invalid("channel", fmt.Sprintf("duplicate channel %q", c.Channel))
		}
		alloc, err := allocationFromInput(rec, ChannelAllocation{Channel: c.Channel, SyncStatus: SyncPending}, c)
		if err != nil {
			return Change{}, err
		}
		rec.ChannelAllocations = append(rec.ChannelAllocations, alloc)
	}
	rec.GlobalStock = computeGlobal(rec.Warehouses)

	change := Change{Record: rec}
	for _, w := range in.Warehouses {
		opening := []struct {
			field StockField
			qty   int64
		}{
			{FieldAvailable, w.Available},
			{FieldReserved, w.Reserved},
			{FieldDamaged, w.Damaged},
			{FieldInTransit, w.InTransit},
		}
		for _, o := range opening {
			if o.qty < 0 {
				return Change{}, invalid(string(o.field), "must not be negative")
			}
			if o.qty == 0 {
				continue
			}
			applied, err := l.Apply(change.Record, Movement{
				Type:        MovementAdjustment,
				Field:       o.field,
				Delta:       o.qty,
				ToWarehouse: w.WarehouseID,
				Reference:   "opening-balance",
				Actor:       in.Actor,
			}, now)
			if err != nil {
				return Change{}, err
			}
			change.merge(applied)
		}
	}
	for _, w := range change.Record.Warehouses {
		change.Events = append(change.Events, l.Evaluate(&change.Record, w.WarehouseID, now)...)
		if evt, ok := l.MaybeTrigger(&change.Record, w.WarehouseID, now); ok {
			change.Events = append(change.Events, evt)
		}
	}
	return change, nil
}

// ConfigureWarehouse adds a warehouse (with zero stock) or updates its
// replenishment settings. Stock itself only changes through movements.
func (l Ledger) ConfigureWarehouse(rec InventoryRecord, in WarehouseInput, now time.Time) (Change, error) {
	if rec.Archived {
		return Change{Record: rec}, ErrArchived
	}
	if in.WarehouseID == "" {
		return Change{Record: rec}, invalid("warehouseId", "required")
	}
	next := rec.clone()
	i := next.warehouseIndex(in.WarehouseID)
	if i < 0 {
		next.Warehouses = append(next.Warehouses, WarehouseStock{WarehouseID: in.WarehouseID})
		i = len(next.Warehouses) - 1
	}
	ws, err := warehouseFromInput(next.Warehouses[i], in)
	if err != nil {
		return Change{Record: rec}, err
	}
	next.Warehouses[i] = l.refresh(ws, now)
	next.GlobalStock = computeGlobal(next.Warehouses)
	next.UpdatedAt = now
	change := Change{Record: next}
	change.Events = append(change.Events, l.Evaluate(&change.Record, in.WarehouseID, now)...)
	if evt, ok := l.MaybeTrigger(&change.Record, in.WarehouseID, now); ok {
		change.Events = append(change.Events, evt)
	}
	return change, nil
}

// ConfigureChannel adds or updates a channel allocation.
func (l Ledger) ConfigureChannel(rec InventoryRecord, in ChannelInput, now time.Time) (Change, error) {
	if rec.Archived {
		return Change{Record: rec}, ErrArchived
	}
	next := rec.clone()
	i := next.allocationIndex(in.Channel)
	if i < 0 {
		next.ChannelAllocations = append(next.ChannelAllocations, ChannelAllocation{Channel: in.Channel, SyncStatus: SyncPending})
		i = len(next.ChannelAllocations) - 1
	}
	alloc, err := allocationFromInput(next, next.ChannelAllocations[i], in)
	if err != nil {
		return Change{Record: rec}, err
	}
	next.ChannelAllocations[i] = alloc
	next.SyncStatus = aggregateSyncStatus(next.ChannelAllocations)
	next.UpdatedAt = now
	return Change{Record: next}, nil
}

// Archive soft-deletes the record; the audit trail is kept.
func (l Ledger) Archive(rec InventoryRecord, now time.Time) Change {
	if rec.Archived {
		return Change{Record: rec}
	}
	next := rec.clone()
	next.Archived = true
	next.ArchivedAt = now
	next.UpdatedAt = now
	return Change{Record: next}
}

func warehouseFromInput(ws WarehouseStock, in WarehouseInput) (WarehouseStock, error) {
	if in.ReorderPoint < 0 || in.ReorderQuantity < 0 || in.MaxStockLevel < 0 {
		return ws, invalid("warehouse", "reorder settings must not be negative")
	}
	for _, s := range in.Suppliers {
		if s.Name == "" {
			return ws, invalid("suppliers", "supplier name required")
		}
		if s.LeadTimeDays < 0 {
			return ws, invalid("suppliers", "lead time must not be negative")
		}
	}
	ws.ReorderPoint = in.ReorderPoint
	ws.ReorderQuantity = in.ReorderQuantity
	ws.MaxStockLevel = in.MaxStockLevel
	ws.AutoReorder = in.AutoReorder
	ws.Suppliers = append([]Supplier(nil), in.Suppliers...)
	return ws, nil
}

func allocationFromInput(rec InventoryRecord, alloc ChannelAllocation, in ChannelInput) (ChannelAllocation, error) {
	if !in.Channel.Valid() {
		return alloc, invalid("channel", fmt.Sprintf("unknown channel %q", in.Channel))
	}
	if in.AllocationCap < 0 {
		return alloc, invalid("allocationCap", "must not be negative")
	}
	if in.WarehouseID != "" && rec.warehouseIndex(in.WarehouseID) < 0 {
		return alloc, invalid("warehouseId", fmt.Sprintf("unknown warehouse %q", in.WarehouseID))
	}
	alloc.Enabled = in.Enabled
	alloc.AllocationCap = in.AllocationCap
	alloc.WarehouseID = in.WarehouseID
	return alloc, nil
}
