package inventory

import (
	"errors"
	"fmt"

	"github.com/odyssey-erp/stocksync/internal/shared"
)

var (
	// ErrInsufficientStock is matched by every InsufficientStockError.
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrRecordNotFound indicates an unknown SKU.
	ErrRecordNotFound = fmt.Errorf("inventory: record %w", shared.ErrNotFound)
	// ErrRecordExists indicates CreateRecord on an existing SKU.
	ErrRecordExists = fmt.Errorf("inventory: record already exists: %w", shared.ErrConflict)
	// ErrVersionConflict indicates a lost optimistic CAS race; callers retry.
	ErrVersionConflict = fmt.Errorf("inventory: version conflict: %w", shared.ErrConflict)
	// ErrArchived rejects mutations of discontinued SKUs.
	ErrArchived = fmt.Errorf("inventory: record archived: %w", shared.ErrConflict)
	// ErrAlertNotFound indicates an unknown alert id.
	ErrAlertNotFound = fmt.Errorf("inventory: alert %w", shared.ErrNotFound)
	// ErrReorderNotFound indicates an unknown reorder id.
	ErrReorderNotFound = fmt.Errorf("inventory: reorder %w", shared.ErrNotFound)
)

// ValidationError rejects a request synchronously; nothing is applied.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "inventory: " + e.Reason
	}
	return fmt.Sprintf("inventory: %s: %s", e.Field, e.Reason)
}

// Unwrap maps validation failures onto the shared sentinel.
func (e *ValidationError) Unwrap() error { return shared.ErrValidation }

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// InsufficientStockError reports a decrement that would drive a bucket negative.
type InsufficientStockError struct {
	SKU         string
	WarehouseID string
	Field       StockField
	Have        int64
	Want        int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("inventory: insufficient %s stock for %s in %s: have %d, want %d",
		e.Field, e.SKU, e.WarehouseID, e.Have, e.Want)
}

// Is matches ErrInsufficientStock and the shared conflict sentinel.
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock || target == shared.ErrConflict
}

// ChannelSyncError wraps a network, timeout or adapter-reported failure.
type ChannelSyncError struct {
	Channel Channel
	Op      string
	Err     error
}

func (e *ChannelSyncError) Error() string {
	return fmt.Sprintf("channel %s: %s: %v", e.Channel, e.Op, e.Err)
}

func (e *ChannelSyncError) Unwrap() error { return e.Err }

// DeliveryShortfall is returned alongside a received reorder that came in short.
// It is informational; the receipt itself succeeded.
type DeliveryShortfall struct {
	ReorderID string
	Ordered   int64
	Received  int64
}

// Missing is the quantity still outstanding.
func (d DeliveryShortfall) Missing() int64 { return d.Ordered - d.Received }
