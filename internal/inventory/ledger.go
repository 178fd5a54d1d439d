package inventory

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Ledger holds the pure stock rules. Its methods take a record and a command and
// return a new record plus emitted events; they never perform I/O or read the clock.
type Ledger struct {
	Alerts AlertSettings
	NewID  func() string
}

// NewLedger builds a Ledger with uuid identifiers.
func NewLedger(settings AlertSettings) Ledger {
	return Ledger{Alerts: settings, NewID: uuid.NewString}
}

// Change is the result of a pure mutation.
type Change struct {
	Record    InventoryRecord
	Movements []Movement
	Events    []Event

	committed bool
}

func (c *Change) merge(other Change) {
	c.Record = other.Record
	c.Movements = append(c.Movements, other.Movements...)
	c.Events = append(c.Events, other.Events...)
}

type effect struct {
	warehouseID string
	field       StockField
	delta       int64
}

// effects translates a movement into per-warehouse bucket deltas.
func effects(mv Movement) []effect {
	q := mv.Quantity
	switch mv.Type {
	case MovementPurchase, MovementReturn:
		return []effect{{mv.ToWarehouse, FieldAvailable, q}}
	case MovementSale:
		return []effect{{mv.FromWarehouse, FieldAvailable, -q}}
	case MovementDamage:
		return []effect{{mv.FromWarehouse, FieldAvailable, -q}, {mv.FromWarehouse, FieldDamaged, q}}
	case MovementTransfer:
		return []effect{{mv.FromWarehouse, FieldAvailable, -q}, {mv.ToWarehouse, FieldAvailable, q}}
	case MovementAdjustment:
		field := mv.Field
		if field == "" {
			field = FieldAvailable
		}
		return []effect{{mv.target(), field, mv.Delta}}
	case MovementAllocation:
		return []effect{{mv.FromWarehouse, FieldAvailable, -q}, {mv.FromWarehouse, FieldReserved, q}}
	case MovementDeallocation:
		return []effect{{mv.FromWarehouse, FieldReserved, -q}, {mv.FromWarehouse, FieldAvailable, q}}
	}
	return nil
}

// target is the single warehouse an adjustment applies to.
func (mv Movement) target() string {
	if mv.ToWarehouse != "" {
		return mv.ToWarehouse
	}
	return mv.FromWarehouse
}

// Touches reports whether the movement affects the warehouse.
func (mv Movement) Touches(warehouseID string) bool {
	return mv.FromWarehouse == warehouseID || mv.ToWarehouse == warehouseID
}

// Normalize fills the warehouse side implied by the type so callers can pass a
// single warehouse id for one-sided movements.
func (mv Movement) Normalize(warehouseID string) Movement {
	switch mv.Type {
	case MovementPurchase, MovementReturn:
		if mv.ToWarehouse == "" {
			mv.ToWarehouse = warehouseID
		}
	case MovementAdjustment:
		if mv.ToWarehouse == "" && mv.FromWarehouse == "" {
			mv.ToWarehouse = warehouseID
		}
		if mv.Field == "" {
			mv.Field = FieldAvailable
		}
	case MovementTransfer:
		if mv.FromWarehouse == "" {
			mv.FromWarehouse = warehouseID
		}
	default:
		if mv.FromWarehouse == "" {
			mv.FromWarehouse = warehouseID
		}
	}
	return mv
}

// Warehouses lists the warehouses a movement mutates, in lock order.
func (mv Movement) Warehouses() []string {
	ids := []string{}
	for _, e := range effects(mv) {
		if e.warehouseID != "" && !contains(ids, e.warehouseID) {
			ids = append(ids, e.warehouseID)
		}
	}
	return sortedCopy(ids)
}

func validateMovement(rec InventoryRecord, mv Movement) error {
	if !mv.Type.Valid() {
		return invalid("type", fmt.Sprintf("unknown movement type %q", mv.Type))
	}
	if mv.Type == MovementAdjustment {
		if mv.Delta == 0 {
			return invalid("delta", "adjustment delta must be non zero")
		}
		if mv.Field != "" && !mv.Field.Valid() {
			return invalid("field", fmt.Sprintf("unknown stock field %q", mv.Field))
		}
	} else if mv.Quantity <= 0 {
		return invalid("quantity", "must be positive")
	}
	if mv.Type == MovementTransfer {
		if mv.FromWarehouse == "" || mv.ToWarehouse == "" {
			return invalid("warehouse", "transfer requires source and destination")
		}
		if mv.FromWarehouse == mv.ToWarehouse {
			return invalid("warehouse", "source and destination warehouse must differ")
		}
	}
	if mv.Channel != "" && !mv.Channel.Valid() {
		return invalid("channel", fmt.Sprintf("unknown channel %q", mv.Channel))
	}
	for _, e := range effects(mv) {
		if e.warehouseID == "" {
			return invalid("warehouse", "warehouse required")
		}
		if rec.warehouseIndex(e.warehouseID) < 0 {
			return invalid("warehouse", fmt.Sprintf("unknown warehouse %q", e.warehouseID))
		}
	}
	return nil
}

// Apply validates and applies one movement, then runs alert evaluation and
// reorder automation for every touched warehouse. On error the input record is
// returned untouched.
func (l Ledger) Apply(rec InventoryRecord, mv Movement, now time.Time) (Change, error) {
	if rec.Archived {
		return Change{Record: rec}, ErrArchived
	}
	if mv.Type == MovementAdjustment && mv.Quantity == 0 {
		mv.Quantity = abs(mv.Delta)
	}
	if err := validateMovement(rec, mv); err != nil {
		return Change{Record: rec}, err
	}
	next := rec.clone()
	for _, e := range effects(mv) {
		i := next.warehouseIndex(e.warehouseID)
		have := next.Warehouses[i].Quantities.field(e.field)
		if have+e.delta < 0 {
			return Change{Record: rec}, &InsufficientStockError{
				SKU: rec.SKU, WarehouseID: e.warehouseID, Field: e.field, Have: have, Want: -e.delta,
			}
		}
		next.Warehouses[i].Quantities.add(e.field, e.delta)
	}
	for _, id := range mv.Warehouses() {
		i := next.warehouseIndex(id)
		next.Warehouses[i] = l.refresh(next.Warehouses[i], now)
	}
	next.GlobalStock = computeGlobal(next.Warehouses)

	next.MovementSeq++
	mv.ID = l.id()
	mv.SKU = rec.SKU
	mv.Seq = next.MovementSeq
	mv.Timestamp = now
	next.UpdatedAt = now

	mvCopy := mv
	change := Change{
		Record:    next,
		Movements: []Movement{mv},
		Events:    []Event{{Kind: EventMovementApplied, SKU: rec.SKU, At: now, Movement: &mvCopy}},
	}
	for _, id := range mv.Warehouses() {
		change.Events = append(change.Events, l.Evaluate(&change.Record, id, now)...)
		if evt, ok := l.MaybeTrigger(&change.Record, id, now); ok {
			change.Events = append(change.Events, evt)
		}
	}
	return change, nil
}

// refresh recomputes the derived fields of a warehouse.
func (l Ledger) refresh(w WarehouseStock, now time.Time) WarehouseStock {
	w.Total = w.Quantities.Total()
	w.Status = l.status(w)
	w.LastUpdated = now
	return w
}

func (l Ledger) status(w WarehouseStock) WarehouseStatus {
	switch avail := w.Quantities.Available; {
	case avail <= 0:
		return StatusOutOfStock
	case avail <= l.lowStockThreshold(w):
		return StatusLowStock
	default:
		return StatusInStock
	}
}

func (l Ledger) lowStockThreshold(w WarehouseStock) int64 {
	if l.Alerts.LowStockThreshold > 0 {
		return l.Alerts.LowStockThreshold
	}
	return w.ReorderPoint
}

func computeGlobal(warehouses []WarehouseStock) GlobalStock {
	var g GlobalStock
	for _, w := range warehouses {
		g.TotalAvailable += w.Quantities.Available
		g.TotalReserved += w.Quantities.Reserved
		g.TotalDamaged += w.Quantities.Damaged
		g.TotalInTransit += w.Quantities.InTransit
		g.Total += w.Total
	}
	return g
}

// Replay folds a warehouse's movements from empty state. Movements must be in
// log order; a fold that goes negative means the log is corrupt.
func Replay(warehouseID string, movements []Movement) (Quantities, error) {
	var q Quantities
	for _, mv := range movements {
		for _, e := range effects(mv) {
			if e.warehouseID != warehouseID {
				continue
			}
			q.add(e.field, e.delta)
			if q.field(e.field) < 0 {
				return q, fmt.Errorf("inventory: replay of %s went negative at seq %d", warehouseID, mv.Seq)
			}
		}
	}
	return q, nil
}

// AuditResult compares replayed and stored stock for one warehouse.
type AuditResult struct {
	SKU         string     `json:"sku"`
	WarehouseID string     `json:"warehouseId"`
	Stored      Quantities `json:"stored"`
	Replayed    Quantities `json:"replayed"`
	StoredTotal int64      `json:"storedTotal"`
	Movements   int        `json:"movements"`
	Match       bool       `json:"match"`
}

// Verify checks the conservation and replay contracts for one warehouse.
// Movements newer than the record's sequence were committed after it was read
// and are left out of the replay.
func Verify(rec InventoryRecord, warehouseID string, movements []Movement) (AuditResult, error) {
	w, ok := rec.Warehouse(warehouseID)
	if !ok {
		return AuditResult{}, invalid("warehouse", fmt.Sprintf("unknown warehouse %q", warehouseID))
	}
	bounded := movements[:0:0]
	for _, mv := range movements {
		if mv.Seq <= rec.MovementSeq {
			bounded = append(bounded, mv)
		}
	}
	movements = bounded
	relevant := 0
	for _, mv := range movements {
		if mv.Touches(warehouseID) {
			relevant++
		}
	}
	replayed, err := Replay(warehouseID, movements)
	if err != nil {
		return AuditResult{}, err
	}
	stored := w.Quantities
	res := AuditResult{
		SKU:         rec.SKU,
		WarehouseID: warehouseID,
		Stored:      stored,
		Replayed:    replayed,
		StoredTotal: w.Total,
		Movements:   relevant,
	}
	res.Match = stored.Available == replayed.Available &&
		stored.Reserved == replayed.Reserved &&
		stored.Damaged == replayed.Damaged &&
		stored.InTransit == replayed.InTransit &&
		w.Total == replayed.Total()
	return res, nil
}

func (l Ledger) id() string {
	if l.NewID == nil {
		return uuid.NewString()
	}
	return l.NewID()
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func sortedCopy(ids []string) []string {
	out := slices.Clone(ids)
	slices.Sort(out)
	return out
}
