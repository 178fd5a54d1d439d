package inventory

import (
	"slices"
	"time"
)

// MovementType enumerates stock-affecting events.
type MovementType string

const (
	MovementSale         MovementType = "sale"
	MovementPurchase     MovementType = "purchase"
	MovementReturn       MovementType = "return"
	MovementDamage       MovementType = "damage"
	MovementTransfer     MovementType = "transfer"
	MovementAdjustment   MovementType = "adjustment"
	MovementAllocation   MovementType = "allocation"
	MovementDeallocation MovementType = "deallocation"
)

// Valid reports whether the type is one of the supported movements.
func (t MovementType) Valid() bool {
	switch t {
	case MovementSale, MovementPurchase, MovementReturn, MovementDamage,
		MovementTransfer, MovementAdjustment, MovementAllocation, MovementDeallocation:
		return true
	}
	return false
}

// StockField names one quantity bucket of a warehouse.
type StockField string

const (
	FieldAvailable StockField = "available"
	FieldReserved  StockField = "reserved"
	FieldDamaged   StockField = "damaged"
	FieldInTransit StockField = "inTransit"
)

// Valid reports whether the field is an adjustable bucket.
func (f StockField) Valid() bool {
	switch f {
	case FieldAvailable, FieldReserved, FieldDamaged, FieldInTransit:
		return true
	}
	return false
}

// WarehouseStatus is derived from available stock.
type WarehouseStatus string

const (
	StatusInStock    WarehouseStatus = "in-stock"
	StatusLowStock   WarehouseStatus = "low-stock"
	StatusOutOfStock WarehouseStatus = "out-of-stock"
)

// AlertType enumerates alert kinds.
type AlertType string

const (
	AlertOutOfStock        AlertType = "out-of-stock"
	AlertLowStock          AlertType = "low-stock"
	AlertOverstock         AlertType = "overstock"
	AlertSyncFailed        AlertType = "sync-failed"
	AlertOversell          AlertType = "oversell"
	AlertReorderOverdue    AlertType = "reorder-overdue"
	AlertDeliveryShortfall AlertType = "delivery-shortfall"
)

// AlertSeverity grades alerts for notification routing.
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// ReorderStatus is the purchase-order intent lifecycle.
type ReorderStatus string

const (
	ReorderNone      ReorderStatus = "none"
	ReorderPending   ReorderStatus = "pending"
	ReorderOrdered   ReorderStatus = "ordered"
	ReorderConfirmed ReorderStatus = "confirmed"
	ReorderShipped   ReorderStatus = "shipped"
	ReorderDelivered ReorderStatus = "delivered"
	ReorderCancelled ReorderStatus = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s ReorderStatus) Terminal() bool {
	return s == ReorderDelivered || s == ReorderCancelled
}

// SyncStatus tracks the last reconciliation outcome of a channel or record.
type SyncStatus string

const (
	SyncSynced  SyncStatus = "synced"
	SyncPending SyncStatus = "pending"
	SyncFailed  SyncStatus = "failed"
	SyncPartial SyncStatus = "partial"
)

// Channel enumerates supported external sales platforms.
type Channel string

const (
	ChannelAmazon    Channel = "amazon"
	ChannelEbay      Channel = "ebay"
	ChannelShopify   Channel = "shopify"
	ChannelWebsite   Channel = "website"
	ChannelFacebook  Channel = "facebook"
	ChannelInstagram Channel = "instagram"
	ChannelTikTok    Channel = "tiktok"
	ChannelWholesale Channel = "wholesale"
)

// Channels lists every supported channel.
var Channels = []Channel{
	ChannelAmazon, ChannelEbay, ChannelShopify, ChannelWebsite,
	ChannelFacebook, ChannelInstagram, ChannelTikTok, ChannelWholesale,
}

// Valid reports whether the channel is supported.
func (c Channel) Valid() bool {
	for _, ch := range Channels {
		if ch == c {
			return true
		}
	}
	return false
}

// Quantities groups the stock buckets of one warehouse.
type Quantities struct {
	Available int64 `json:"available"`
	Reserved  int64 `json:"reserved"`
	Damaged   int64 `json:"damaged"`
	InTransit int64 `json:"inTransit"`
	OnOrder   int64 `json:"onOrder"`
}

// Total sums the physical buckets; onOrder is not counted.
func (q Quantities) Total() int64 {
	return q.Available + q.Reserved + q.Damaged + q.InTransit
}

func (q Quantities) field(f StockField) int64 {
	switch f {
	case FieldReserved:
		return q.Reserved
	case FieldDamaged:
		return q.Damaged
	case FieldInTransit:
		return q.InTransit
	default:
		return q.Available
	}
}

func (q *Quantities) add(f StockField, delta int64) {
	switch f {
	case FieldReserved:
		q.Reserved += delta
	case FieldDamaged:
		q.Damaged += delta
	case FieldInTransit:
		q.InTransit += delta
	default:
		q.Available += delta
	}
}

// Supplier is a replenishment source for a warehouse.
type Supplier struct {
	Name         string `json:"name"`
	IsPrimary    bool   `json:"isPrimary"`
	LeadTimeDays int    `json:"leadTimeDays"`
}

// LeadTime converts the lead time to a duration.
func (s Supplier) LeadTime() time.Duration {
	return time.Duration(s.LeadTimeDays) * 24 * time.Hour
}

// WarehouseStock holds one warehouse's share of a SKU.
type WarehouseStock struct {
	WarehouseID     string          `json:"warehouseId"`
	Quantities      Quantities      `json:"quantities"`
	Total           int64           `json:"total"`
	ReorderPoint    int64           `json:"reorderPoint"`
	ReorderQuantity int64           `json:"reorderQuantity"`
	MaxStockLevel   int64           `json:"maxStockLevel"`
	AutoReorder     bool            `json:"autoReorder"`
	Suppliers       []Supplier      `json:"suppliers,omitempty"`
	Status          WarehouseStatus `json:"status"`
	LastUpdated     time.Time       `json:"lastUpdated"`
}

// GlobalStock is derived from all warehouses and never set directly.
type GlobalStock struct {
	TotalAvailable int64 `json:"totalAvailable"`
	TotalReserved  int64 `json:"totalReserved"`
	TotalDamaged   int64 `json:"totalDamaged"`
	TotalInTransit int64 `json:"totalInTransit"`
	Total          int64 `json:"total"`
}

// ChannelAllocation is one channel's view of sellable stock.
type ChannelAllocation struct {
	Channel         Channel    `json:"channel"`
	Enabled         bool       `json:"enabled"`
	AllocationCap   int64      `json:"allocationCap,omitempty"`
	WarehouseID     string     `json:"warehouseId,omitempty"`
	Allocated       int64      `json:"allocated"`
	Sold            int64      `json:"sold"`
	Returned        int64      `json:"returned"`
	SyncStatus      SyncStatus `json:"syncStatus"`
	LastSync        time.Time  `json:"lastSync"`
	PulledThrough   time.Time  `json:"pulledThrough"`
	SyncStartedAt   time.Time  `json:"syncStartedAt"`
	NextSyncAt      time.Time  `json:"nextSyncAt"`
	SyncError       string     `json:"syncError,omitempty"`
	FailedSyncCount int        `json:"failedSyncCount"`
}

// Alert is a raised condition; at most one unresolved per (type, scope).
type Alert struct {
	ID          string        `json:"id"`
	Type        AlertType     `json:"type"`
	Severity    AlertSeverity `json:"severity"`
	WarehouseID string        `json:"warehouseId,omitempty"`
	Channel     Channel       `json:"channel,omitempty"`
	Message     string        `json:"message"`
	Quantity    int64         `json:"quantity"`
	TriggeredAt time.Time     `json:"triggeredAt"`
	Resolved    bool          `json:"resolved"`
	ResolvedAt  time.Time     `json:"resolvedAt"`
}

// ReorderOrder is a purchase-order intent raised by reorder automation.
type ReorderOrder struct {
	ID                string        `json:"id"`
	WarehouseID       string        `json:"warehouseId"`
	QuantityOrdered   int64         `json:"quantityOrdered"`
	Supplier          string        `json:"supplier"`
	EstimatedDelivery time.Time     `json:"estimatedDelivery"`
	Status            ReorderStatus `json:"status"`
	Overdue           bool          `json:"overdue"`
	CreatedAt         time.Time     `json:"createdAt"`
	DeliveredAt       time.Time     `json:"deliveredAt"`
	QuantityReceived  int64         `json:"quantityReceived"`
}

// InventoryRecord is the per-SKU aggregate and sole owner of its sub-entities.
type InventoryRecord struct {
	SKU                string              `json:"sku"`
	ProductID          string              `json:"productId"`
	VariantID          string              `json:"variantId,omitempty"`
	Warehouses         []WarehouseStock    `json:"warehouses"`
	GlobalStock        GlobalStock         `json:"globalStock"`
	ChannelAllocations []ChannelAllocation `json:"channelAllocations"`
	Alerts             []Alert             `json:"alerts"`
	ReorderHistory     []ReorderOrder      `json:"reorderHistory"`
	SyncStatus         SyncStatus          `json:"syncStatus"`
	MovementSeq        int64               `json:"movementSeq"`
	Archived           bool                `json:"archived"`
	ArchivedAt         time.Time           `json:"archivedAt"`
	Version            int64               `json:"version"`
	CreatedAt          time.Time           `json:"createdAt"`
	UpdatedAt          time.Time           `json:"updatedAt"`
}

// Warehouse returns the warehouse with the given id.
func (r InventoryRecord) Warehouse(id string) (WarehouseStock, bool) {
	if i := r.warehouseIndex(id); i >= 0 {
		return r.Warehouses[i], true
	}
	return WarehouseStock{}, false
}

// Allocation returns the channel allocation for the channel.
func (r InventoryRecord) Allocation(ch Channel) (ChannelAllocation, bool) {
	if i := r.allocationIndex(ch); i >= 0 {
		return r.ChannelAllocations[i], true
	}
	return ChannelAllocation{}, false
}

// ActiveAlerts returns unresolved alerts in trigger order.
func (r InventoryRecord) ActiveAlerts() []Alert {
	out := []Alert{}
	for _, a := range r.Alerts {
		if !a.Resolved {
			out = append(out, a)
		}
	}
	return out
}

// OpenReorders returns reorders that have not reached a terminal state.
func (r InventoryRecord) OpenReorders() []ReorderOrder {
	out := []ReorderOrder{}
	for _, o := range r.ReorderHistory {
		if !o.Status.Terminal() {
			out = append(out, o)
		}
	}
	return out
}

func (r InventoryRecord) warehouseIndex(id string) int {
	for i := range r.Warehouses {
		if r.Warehouses[i].WarehouseID == id {
			return i
		}
	}
	return -1
}

func (r InventoryRecord) allocationIndex(ch Channel) int {
	for i := range r.ChannelAllocations {
		if r.ChannelAllocations[i].Channel == ch {
			return i
		}
	}
	return -1
}

// clone deep-copies the slices so pure functions never alias the caller's record.
func (r InventoryRecord) clone() InventoryRecord {
	out := r
	out.Warehouses = make([]WarehouseStock, len(r.Warehouses))
	for i, w := range r.Warehouses {
		w.Suppliers = slices.Clone(w.Suppliers)
		out.Warehouses[i] = w
	}
	out.ChannelAllocations = slices.Clone(r.ChannelAllocations)
	out.Alerts = slices.Clone(r.Alerts)
	out.ReorderHistory = slices.Clone(r.ReorderHistory)
	return out
}

// Movement is an immutable entry of the movement log.
type Movement struct {
	ID            string       `json:"id"`
	SKU           string       `json:"sku"`
	Seq           int64        `json:"seq"`
	Type          MovementType `json:"type"`
	Quantity      int64        `json:"quantity"`
	Field         StockField   `json:"field,omitempty"`
	Delta         int64        `json:"delta,omitempty"`
	FromWarehouse string       `json:"fromWarehouse,omitempty"`
	ToWarehouse   string       `json:"toWarehouse,omitempty"`
	Channel       Channel      `json:"channel,omitempty"`
	Reference     string       `json:"reference,omitempty"`
	Actor         string       `json:"actor"`
	Note          string       `json:"note,omitempty"`
	Timestamp     time.Time    `json:"timestamp"`
}

// AlertSettings toggles and parameterises alert rules.
type AlertSettings struct {
	LowStock           bool
	OutOfStock         bool
	Overstock          bool
	SyncFailed         bool
	LowStockThreshold  int64
	OverstockThreshold int64
	SyncFailureCeiling int
}

// DefaultAlertSettings mirrors the stock configuration.
func DefaultAlertSettings() AlertSettings {
	return AlertSettings{
		LowStock:           true,
		OutOfStock:         true,
		Overstock:          false,
		SyncFailed:         true,
		LowStockThreshold:  10,
		OverstockThreshold: 1000,
		SyncFailureCeiling: 3,
	}
}
