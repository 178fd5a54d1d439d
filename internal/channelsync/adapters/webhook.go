package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/stocksync/internal/inventory"
	"github.com/odyssey-erp/stocksync/internal/shared"
)

const (
	defaultOverlap   = 5 * time.Minute
	defaultRetention = 7 * 24 * time.Hour
)

// WebhookAdapter serves storefronts that push their sales to us. Events are
// buffered in a Redis sorted set per SKU scored by receipt time, and the
// allocation is published into a hash the storefront polls.
type WebhookAdapter struct {
	channel   inventory.Channel
	client    redis.UniversalClient
	clock     shared.Clock
	overlap   time.Duration
	retention time.Duration
}

// NewWebhookAdapter constructs the adapter for ch.
func NewWebhookAdapter(ch inventory.Channel, client redis.UniversalClient, clock shared.Clock) *WebhookAdapter {
	if clock == nil {
		clock = shared.SystemClock{}
	}
	return &WebhookAdapter{
		channel:   ch,
		client:    client,
		clock:     clock,
		overlap:   defaultOverlap,
		retention: defaultRetention,
	}
}

// Channel reports which channel the adapter serves.
func (a *WebhookAdapter) Channel() inventory.Channel { return a.channel }

// Ingest buffers events delivered by the storefront. Redelivered events with an
// identical payload collapse onto the same member.
func (a *WebhookAdapter) Ingest(ctx context.Context, sku string, events []inventory.SaleEvent) error {
	if len(events) == 0 {
		return nil
	}
	now := a.clock.Now()
	members := make([]redis.Z, 0, len(events))
	for _, evt := range events {
		raw, err := json.Marshal(evt)
		if err != nil {
			return err
		}
		members = append(members, redis.Z{Score: float64(now.UnixMilli()), Member: raw})
	}
	key := a.salesKey(sku)
	pipe := a.client.TxPipeline()
	pipe.ZAddNX(ctx, key, members...)
	pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(now.Add(-a.retention).UnixMilli(), 10))
	pipe.Expire(ctx, key, a.retention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("buffer %s webhook events: %w", a.channel, err)
	}
	return nil
}

// PullSales returns events received after since minus the overlap window.
// Events re-read inside the window are dropped by the caller's reference check.
func (a *WebhookAdapter) PullSales(ctx context.Context, sku string, since time.Time) ([]inventory.SaleEvent, error) {
	lower := "-inf"
	if !since.IsZero() {
		lower = strconv.FormatInt(since.Add(-a.overlap).UnixMilli(), 10)
	}
	raw, err := a.client.ZRangeByScore(ctx, a.salesKey(sku), &redis.ZRangeBy{Min: lower, Max: "+inf"}).Result()
	if err != nil {
		return nil, fmt.Errorf("read %s webhook events: %w", a.channel, err)
	}
	events := make([]inventory.SaleEvent, 0, len(raw))
	for _, item := range raw {
		var evt inventory.SaleEvent
		if err := json.Unmarshal([]byte(item), &evt); err != nil {
			return nil, fmt.Errorf("decode %s webhook event: %w", a.channel, err)
		}
		events = append(events, evt)
	}
	return events, nil
}

// PushAllocation publishes the sellable quantity for sku.
func (a *WebhookAdapter) PushAllocation(ctx context.Context, sku string, quantity int64) error {
	if err := a.client.HSet(ctx, a.allocationKey(), sku, quantity).Err(); err != nil {
		return fmt.Errorf("publish %s allocation: %w", a.channel, err)
	}
	return nil
}

// Allocation reads the last published quantity. ok is false when none was pushed yet.
func (a *WebhookAdapter) Allocation(ctx context.Context, sku string) (quantity int64, ok bool, err error) {
	quantity, err = a.client.HGet(ctx, a.allocationKey(), sku).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return quantity, true, nil
}

func (a *WebhookAdapter) salesKey(sku string) string {
	return "stocksync:channel:" + string(a.channel) + ":sales:" + sku
}

func (a *WebhookAdapter) allocationKey() string {
	return "stocksync:channel:" + string(a.channel) + ":allocation"
}
