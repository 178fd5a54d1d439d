// Package channelsync reconciles ledger availability with external sales channels.
package channelsync

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/stocksync/internal/inventory"
	"github.com/odyssey-erp/stocksync/internal/shared"
)

// Adapter talks to one external channel. Implementations must honour ctx
// cancellation; the manager relies on it for timeouts.
type Adapter interface {
	PushAllocation(ctx context.Context, sku string, quantity int64) error
	PullSales(ctx context.Context, sku string, since time.Time) ([]inventory.SaleEvent, error)
}

// ErrNoAdapter rejects syncs for channels without a registered adapter.
var ErrNoAdapter = fmt.Errorf("channelsync: no adapter registered: %w", shared.ErrValidation)

// Registry maps channels to adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[inventory.Channel]Adapter
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[inventory.Channel]Adapter)}
}

// Register binds an adapter to a channel, replacing any previous binding.
func (r *Registry) Register(ch inventory.Channel, adapter Adapter) error {
	if !ch.Valid() {
		return fmt.Errorf("channelsync: unknown channel %q: %w", ch, shared.ErrValidation)
	}
	if adapter == nil {
		return fmt.Errorf("channelsync: nil adapter for %s: %w", ch, shared.ErrValidation)
	}
	r.mu.Lock()
	r.adapters[ch] = adapter
	r.mu.Unlock()
	return nil
}

// Adapter returns the adapter bound to ch.
func (r *Registry) Adapter(ch inventory.Channel) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[ch]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoAdapter, ch)
	}
	return adapter, nil
}

// Channels lists the registered channels in name order.
func (r *Registry) Channels() []inventory.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]inventory.Channel, 0, len(r.adapters))
	for ch := range r.adapters {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
