package inventory

import (
	"fmt"
	"time"
)

// Evaluate runs the stock alert rules for one warehouse, raising alerts whose
// condition holds and resolving those whose condition cleared.
func (l Ledger) Evaluate(rec *InventoryRecord, warehouseID string, now time.Time) []Event {
	w, ok := rec.Warehouse(warehouseID)
	if !ok {
		return nil
	}
	avail := w.Quantities.Available
	lowThreshold := l.lowStockThreshold(w)
	overThreshold := l.Alerts.OverstockThreshold
	if w.MaxStockLevel > 0 {
		overThreshold = w.MaxStockLevel
	}

	var events []Event
	toggle := func(active bool, typ AlertType, sev AlertSeverity, msg string) {
		var evt Event
		var changed bool
		if active {
			evt, changed = l.raise(rec, Alert{Type: typ, Severity: sev, WarehouseID: warehouseID, Message: msg, Quantity: avail}, now)
		} else {
			evt, changed = resolve(rec, typ, warehouseID, "", now)
		}
		if changed {
			events = append(events, evt)
		}
	}
	toggle(l.Alerts.OutOfStock && avail == 0, AlertOutOfStock, SeverityCritical,
		fmt.Sprintf("%s is out of stock in %s", rec.SKU, warehouseID))
	toggle(l.Alerts.LowStock && avail > 0 && avail <= lowThreshold, AlertLowStock, SeverityWarning,
		fmt.Sprintf("%s low in %s: %d left (threshold %d)", rec.SKU, warehouseID, avail, lowThreshold))
	toggle(l.Alerts.Overstock && overThreshold > 0 && avail >= overThreshold, AlertOverstock, SeverityInfo,
		fmt.Sprintf("%s overstocked in %s: %d (threshold %d)", rec.SKU, warehouseID, avail, overThreshold))
	return events
}

// EvaluateChannel raises sync-failed once the failure count reaches the ceiling
// and resolves it after a successful sync.
func (l Ledger) EvaluateChannel(rec *InventoryRecord, ch Channel, now time.Time) []Event {
	alloc, ok := rec.Allocation(ch)
	if !ok {
		return nil
	}
	switch {
	case l.Alerts.SyncFailed && alloc.FailedSyncCount >= l.ceiling():
		msg := fmt.Sprintf("%s sync with %s failed %d times: %s", rec.SKU, ch, alloc.FailedSyncCount, alloc.SyncError)
		if evt, ok := l.raise(rec, Alert{Type: AlertSyncFailed, Severity: SeverityCritical, Channel: ch, Message: msg, Quantity: int64(alloc.FailedSyncCount)}, now); ok {
			return []Event{evt}
		}
	case alloc.FailedSyncCount == 0:
		if evt, ok := resolve(rec, AlertSyncFailed, "", ch, now); ok {
			return []Event{evt}
		}
	}
	return nil
}

func (l Ledger) ceiling() int {
	if l.Alerts.SyncFailureCeiling <= 0 {
		return 3
	}
	return l.Alerts.SyncFailureCeiling
}

// raise appends the alert unless an unresolved one with the same type and scope exists.
func (l Ledger) raise(rec *InventoryRecord, a Alert, now time.Time) (Event, bool) {
	if findActive(*rec, a.Type, a.WarehouseID, a.Channel) >= 0 {
		return Event{}, false
	}
	a.ID = l.id()
	a.TriggeredAt = now
	rec.Alerts = append(rec.Alerts, a)
	return Event{Kind: EventAlertRaised, SKU: rec.SKU, At: now, Alert: &a}, true
}

func resolve(rec *InventoryRecord, typ AlertType, warehouseID string, ch Channel, now time.Time) (Event, bool) {
	i := findActive(*rec, typ, warehouseID, ch)
	if i < 0 {
		return Event{}, false
	}
	rec.Alerts[i].Resolved = true
	rec.Alerts[i].ResolvedAt = now
	a := rec.Alerts[i]
	return Event{Kind: EventAlertResolved, SKU: rec.SKU, At: now, Alert: &a}, true
}

func findActive(rec InventoryRecord, typ AlertType, warehouseID string, ch Channel) int {
	for i, a := range rec.Alerts {
		if !a.Resolved && a.Type == typ && a.WarehouseID == warehouseID && a.Channel == ch {
			return i
		}
	}
	return -1
}

// Acknowledge resolves an alert explicitly. Acknowledging a resolved alert is a no-op.
func (l Ledger) Acknowledge(rec InventoryRecord, alertID string, now time.Time) (Change, error) {
	for i, a := range rec.Alerts {
		if a.ID != alertID {
			continue
		}
		if a.Resolved {
			return Change{Record: rec}, nil
		}
		next := rec.clone()
		next.Alerts[i].Resolved = true
		next.Alerts[i].ResolvedAt = now
		next.UpdatedAt = now
		resolved := next.Alerts[i]
		return Change{
			Record: next,
			Events: []Event{{Kind: EventAlertResolved, SKU: rec.SKU, At: now, Alert: &resolved}},
		}, nil
	}
	return Change{Record: rec}, ErrAlertNotFound
}
