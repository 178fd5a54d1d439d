package inventory

import (
	"fmt"
	"time"
)

// nextReorderStatus is the forward path; delivered is reached through Receive and
// cancelled from any non-terminal state.
var nextReorderStatus = map[ReorderStatus]ReorderStatus{
	ReorderNone:      ReorderPending,
	ReorderPending:   ReorderOrdered,
	ReorderOrdered:   ReorderConfirmed,
	ReorderConfirmed: ReorderShipped,
	ReorderShipped:   ReorderDelivered,
}

// primarySupplier picks the flagged primary, else the shortest lead time.
func primarySupplier(suppliers []Supplier) (Supplier, bool) {
	var best Supplier
	found := false
	for _, s := range suppliers {
		if s.IsPrimary {
			return s, true
		}
		if !found || s.LeadTimeDays < best.LeadTimeDays {
			best = s
			found = true
		}
	}
	return best, found
}

// MaybeTrigger appends a pending reorder when the warehouse is at or below its
// reorder point, auto-reorder is on and no open reorder exists for it.
func (l Ledger) MaybeTrigger(rec *InventoryRecord, warehouseID string, now time.Time) (Event, bool) {
	i := rec.warehouseIndex(warehouseID)
	if i < 0 {
		return Event{}, false
	}
	w := rec.Warehouses[i]
	if !w.AutoReorder || w.ReorderQuantity <= 0 || w.Quantities.Available > w.ReorderPoint {
		return Event{}, false
	}
	for _, o := range rec.ReorderHistory {
		if o.WarehouseID == warehouseID && !o.Status.Terminal() {
			return Event{}, false
		}
	}
	supplier, ok := primarySupplier(w.Suppliers)
	if !ok {
		return Event{}, false
	}
	order := ReorderOrder{
		ID:                l.id(),
		WarehouseID:       warehouseID,
		QuantityOrdered:   w.ReorderQuantity,
		Supplier:          supplier.Name,
		EstimatedDelivery: now.Add(supplier.LeadTime()),
		Status:            ReorderPending,
		CreatedAt:         now,
	}
	rec.ReorderHistory = append(rec.ReorderHistory, order)
	rec.Warehouses[i].Quantities.OnOrder += order.QuantityOrdered
	return Event{Kind: EventReorderCreated, SKU: rec.SKU, At: now, Reorder: &order}, true
}

func reorderIndex(rec InventoryRecord, id string) int {
	for i := range rec.ReorderHistory {
		if rec.ReorderHistory[i].ID == id {
			return i
		}
	}
	return -1
}

// Transition moves a reorder one step forward or cancels it.
func (l Ledger) Transition(rec InventoryRecord, reorderID string, to ReorderStatus, now time.Time) (Change, error) {
	i := reorderIndex(rec, reorderID)
	if i < 0 {
		return Change{Record: rec}, ErrReorderNotFound
	}
	from := rec.ReorderHistory[i].Status
	if from.Terminal() {
		return Change{Record: rec}, invalid("status", fmt.Sprintf("reorder already %s", from))
	}
	if to == ReorderDelivered {
		return Change{Record: rec}, invalid("status", "deliveries are recorded through receive")
	}
	if to != ReorderCancelled && nextReorderStatus[from] != to {
		return Change{Record: rec}, invalid("status", fmt.Sprintf("cannot move reorder from %s to %s", from, to))
	}
	next := rec.clone()
	next.ReorderHistory[i].Status = to
	if to == ReorderCancelled {
		releaseOnOrder(&next, next.ReorderHistory[i])
	}
	next.UpdatedAt = now
	order := next.ReorderHistory[i]
	return Change{
		Record: next,
		Events: []Event{{Kind: EventReorderUpdated, SKU: rec.SKU, At: now, Reorder: &order}},
	}, nil
}

// Receive marks a reorder delivered and books a purchase movement of the received
// quantity into the originating warehouse. A short delivery raises a
// delivery-shortfall alert that only an explicit acknowledge resolves.
func (l Ledger) Receive(rec InventoryRecord, reorderID string, received int64, actor string, now time.Time) (Change, *DeliveryShortfall, error) {
	i := reorderIndex(rec, reorderID)
	if i < 0 {
		return Change{Record: rec}, nil, ErrReorderNotFound
	}
	if rec.ReorderHistory[i].Status.Terminal() {
		return Change{Record: rec}, nil, invalid("status", fmt.Sprintf("reorder already %s", rec.ReorderHistory[i].Status))
	}
	if received < 0 {
		return Change{Record: rec}, nil, invalid("quantityReceived", "must not be negative")
	}
	if rec.Archived {
		return Change{Record: rec}, nil, ErrArchived
	}
	next := rec.clone()
	order := &next.ReorderHistory[i]
	order.Status = ReorderDelivered
	order.DeliveredAt = now
	order.QuantityReceived = received
	releaseOnOrder(&next, *order)
	delivered := *order

	change := Change{
		Record: next,
		Events: []Event{{Kind: EventReorderUpdated, SKU: rec.SKU, At: now, Reorder: &delivered}},
	}
	if received > 0 {
		applied, err := l.Apply(change.Record, Movement{
			Type:        MovementPurchase,
			Quantity:    received,
			ToWarehouse: delivered.WarehouseID,
			Reference:   "reorder:" + delivered.ID,
			Actor:       actor,
			Note:        fmt.Sprintf("receipt from %s", delivered.Supplier),
		}, now)
		if err != nil {
			return Change{Record: rec}, nil, err
		}
		change.merge(applied)
	}

	if received >= delivered.QuantityOrdered {
		return change, nil, nil
	}
	shortfall := &DeliveryShortfall{ReorderID: delivered.ID, Ordered: delivered.QuantityOrdered, Received: received}
	msg := fmt.Sprintf("reorder %s for %s delivered %d of %d", delivered.ID, delivered.WarehouseID, received, delivered.QuantityOrdered)
	if evt, ok := l.raise(&change.Record, Alert{
		Type: AlertDeliveryShortfall, Severity: SeverityWarning, WarehouseID: delivered.WarehouseID,
		Message: msg, Quantity: shortfall.Missing(),
	}, now); ok {
		change.Events = append(change.Events, evt)
	}
	return change, shortfall, nil
}

// FlagOverdue marks reorders past their estimated delivery for manual review.
// Orders are never cancelled automatically.
func (l Ledger) FlagOverdue(rec InventoryRecord, now time.Time) Change {
	next := rec.clone()
	change := Change{Record: next}
	for i := range change.Record.ReorderHistory {
		o := &change.Record.ReorderHistory[i]
		switch o.Status {
		case ReorderOrdered, ReorderConfirmed, ReorderShipped:
		default:
			continue
		}
		if o.Overdue || !now.After(o.EstimatedDelivery) {
			continue
		}
		o.Overdue = true
		flagged := *o
		change.Events = append(change.Events, Event{Kind: EventReorderUpdated, SKU: rec.SKU, At: now, Reorder: &flagged})
		msg := fmt.Sprintf("reorder %s from %s is past its estimated delivery %s", o.ID, o.Supplier, o.EstimatedDelivery.Format(time.RFC3339))
		if evt, ok := l.raise(&change.Record, Alert{
			Type: AlertReorderOverdue, Severity: SeverityWarning, WarehouseID: o.WarehouseID,
			Message: msg, Quantity: o.QuantityOrdered,
		}, now); ok {
			change.Events = append(change.Events, evt)
		}
	}
	if len(change.Events) > 0 {
		change.Record.UpdatedAt = now
	}
	return change
}

func releaseOnOrder(rec *InventoryRecord, order ReorderOrder) {
	i := rec.warehouseIndex(order.WarehouseID)
	if i < 0 {
		return
	}
	rec.Warehouses[i].Quantities.OnOrder -= order.QuantityOrdered
	if rec.Warehouses[i].Quantities.OnOrder < 0 {
		rec.Warehouses[i].Quantities.OnOrder = 0
	}
}
