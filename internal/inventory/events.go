package inventory

import (
	"context"
	"time"
)

// EventKind names a domain event emitted by the core.
type EventKind string

const (
	EventMovementApplied EventKind = "inventory.movement.applied"
	EventAlertRaised     EventKind = "inventory.alert.raised"
	EventAlertResolved   EventKind = "inventory.alert.resolved"
	EventReorderCreated  EventKind = "inventory.reorder.created"
	EventReorderUpdated  EventKind = "inventory.reorder.updated"
	EventSyncCompleted   EventKind = "inventory.sync.completed"
	EventSyncFailed      EventKind = "inventory.sync.failed"
)

// Event is emitted after a committed change. Exactly one payload pointer is set
// except for sync events which carry Channel and Error.
type Event struct {
	Kind     EventKind     `json:"kind"`
	SKU      string        `json:"sku"`
	At       time.Time     `json:"at"`
	Movement *Movement     `json:"movement,omitempty"`
	Alert    *Alert        `json:"alert,omitempty"`
	Reorder  *ReorderOrder `json:"reorder,omitempty"`
	Channel  Channel       `json:"channel,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// EventPublisher receives committed events (message bus, notifier).
type EventPublisher interface {
	Publish(ctx context.Context, events []Event) error
}
