package channelsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/stocksync/internal/inventory"
	"github.com/odyssey-erp/stocksync/internal/shared"
)

// IdempotencyModule tags the keys claimed for pulled channel events.
const IdempotencyModule = "channelsync"

// Store is the slice of the inventory service a sync needs.
type Store interface {
	Get(ctx context.Context, sku string) (inventory.InventoryRecord, error)
	BeginSync(ctx context.Context, sku string, ch inventory.Channel) (inventory.SyncPlan, error)
	Allocation(ctx context.Context, sku string, ch inventory.Channel, pendingSales int64) (int64, error)
	CompleteSync(ctx context.Context, sku string, ch inventory.Channel, events []inventory.SaleEvent, pushed int64, nextSync time.Time) (inventory.SyncSummary, error)
	FailSync(ctx context.Context, sku string, ch inventory.Channel, cause string, nextSync time.Time) error
	ResetStuckSyncs(ctx context.Context, cutoff time.Time) (int, error)
}

// BackoffPolicy schedules the next attempt after consecutive failures.
type BackoffPolicy interface {
	Next(failures int, now time.Time) time.Time
}

// Options tunes the manager. PullOverlap rewinds every pull past the last
// watermark so events the channel records late are still read.
type Options struct {
	Frequency   time.Duration
	Timeout     time.Duration
	PullOverlap time.Duration
	Backoff     BackoffPolicy
}

const defaultPullOverlap = 5 * time.Minute

// Manager runs one reconciliation of a (sku, channel) pair at a time.
type Manager struct {
	store       Store
	registry    *Registry
	idempotency shared.Idempotency
	clock       shared.Clock
	logger      *slog.Logger
	opts        Options

	group    singleflight.Group
	mu       sync.Mutex
	inflight map[string]context.CancelFunc
}

// NewManager wires a manager. Zero options fall back to a five minute
// frequency and overlap and a thirty second timeout.
func NewManager(store Store, registry *Registry, idem shared.Idempotency, clock shared.Clock, logger *slog.Logger, opts Options) *Manager {
	if opts.Frequency <= 0 {
		opts.Frequency = 5 * time.Minute
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.PullOverlap <= 0 {
		opts.PullOverlap = defaultPullOverlap
	}
	if clock == nil {
		clock = shared.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if idem == nil {
		idem = shared.NewMemoryIdempotencyStore()
	}
	return &Manager{
		store:       store,
		registry:    registry,
		idempotency: idem,
		clock:       clock,
		logger:      logger,
		opts:        opts,
		inflight:    make(map[string]context.CancelFunc),
	}
}

// Timeout is the per-sync deadline applied to adapter calls.
func (m *Manager) Timeout() time.Duration { return m.opts.Timeout }

// Sync reconciles sku on ch. Concurrent calls for the same pair share a single
// run. A failed run returns its result together with a *inventory.ChannelSyncError.
func (m *Manager) Sync(ctx context.Context, sku string, ch inventory.Channel) (inventory.SyncResult, error) {
	key := flightKey(sku, ch)
	resultChan := m.group.DoChan(key, func() (interface{}, error) {
		return m.run(context.WithoutCancel(ctx), sku, ch)
	})
	select {
	case <-ctx.Done():
		return inventory.SyncResult{SKU: sku, Channel: ch, Status: inventory.SyncPending}, ctx.Err()
	case res := <-resultChan:
		out, _ := res.Val.(inventory.SyncResult)
		return out, res.Err
	}
}

func (m *Manager) run(ctx context.Context, sku string, ch inventory.Channel) (inventory.SyncResult, error) {
	result := inventory.SyncResult{SKU: sku, Channel: ch}
	adapter, err := m.registry.Adapter(ch)
	if err != nil {
		return result, err
	}
	plan, err := m.store.BeginSync(ctx, sku, ch)
	if err != nil {
		return result, err
	}

	syncCtx, cancel := context.WithTimeout(ctx, m.opts.Timeout)
	key := flightKey(sku, ch)
	m.mu.Lock()
	m.inflight[key] = cancel
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.inflight, key)
		m.mu.Unlock()
		cancel()
	}()

	var claimed []string
	fail := func(op string, cause error) (inventory.SyncResult, error) {
		if errors.Is(syncCtx.Err(), context.Canceled) && ctx.Err() == nil {
			cause = errSyncCancelled
		}
		m.release(ctx, claimed)
		syncErr := &inventory.ChannelSyncError{Channel: ch, Op: op, Err: cause}
		if err := m.store.FailSync(ctx, sku, ch, syncErr.Error(), m.nextAfterFailure(ctx, sku, ch)); err != nil {
			m.logger.Error("record failed channel sync", slog.String("sku", sku), slog.String("channel", string(ch)), slog.Any("error", err))
		}
		m.logger.Warn("channel sync failed", slog.String("sku", sku), slog.String("channel", string(ch)), slog.String("op", op), slog.Any("error", cause))
		result.Status = inventory.SyncFailed
		result.Error = syncErr.Error()
		return result, syncErr
	}

	since := plan.Since
	if !since.IsZero() {
		since = since.Add(-m.opts.PullOverlap)
	}
	pulled, err := adapter.PullSales(syncCtx, sku, since)
	if err != nil {
		return fail("pull", err)
	}
	events := make([]inventory.SaleEvent, 0, len(pulled))
	var pending int64
	for _, se := range pulled {
		if se.Reference == "" {
			m.logger.Warn("skipping channel event without reference", slog.String("sku", sku), slog.String("channel", string(ch)))
			continue
		}
		idemKey := eventKey(ch, sku, se.Reference)
		if err := m.idempotency.CheckAndInsert(ctx, idemKey, IdempotencyModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				continue
			}
			return fail("dedupe", err)
		}
		claimed = append(claimed, idemKey)
		events = append(events, se)
		if se.Type == inventory.MovementSale {
			pending += se.Quantity
		}
	}

	allocation, err := m.store.Allocation(ctx, sku, ch, pending)
	if err != nil {
		return fail("allocate", err)
	}
	if err := adapter.PushAllocation(syncCtx, sku, allocation); err != nil {
		return fail("push", err)
	}
	if err := syncCtx.Err(); err != nil {
		return fail("push", err)
	}

	summary, err := m.store.CompleteSync(ctx, sku, ch, events, allocation, m.clock.Now().Add(m.opts.Frequency))
	if err != nil {
		return fail("commit", err)
	}
	rejected := make([]string, 0, len(summary.Rejected))
	for _, ref := range summary.Rejected {
		rejected = append(rejected, eventKey(ch, sku, ref))
	}
	m.release(ctx, rejected)

	result.Status = inventory.SyncSynced
	if len(summary.Rejected) > 0 {
		result.Status = inventory.SyncPartial
	}
	result.Pushed = allocation
	result.Summary = summary
	m.logger.Info("channel sync completed",
		slog.String("sku", sku),
		slog.String("channel", string(ch)),
		slog.Int64("allocated", allocation),
		slog.Int("applied", len(summary.Applied)),
		slog.Int("rejected", len(summary.Rejected)),
	)
	return result, nil
}

var errSyncCancelled = errors.New("cancelled")

// nextAfterFailure backs off from the attempt count the failure is about to record.
func (m *Manager) nextAfterFailure(ctx context.Context, sku string, ch inventory.Channel) time.Time {
	now := m.clock.Now()
	failures := 1
	if rec, err := m.store.Get(ctx, sku); err == nil {
		if alloc, ok := rec.Allocation(ch); ok {
			failures = alloc.FailedSyncCount + 1
		}
	}
	if m.opts.Backoff == nil {
		return now.Add(m.opts.Frequency)
	}
	return m.opts.Backoff.Next(failures, now)
}

func (m *Manager) release(ctx context.Context, keys []string) {
	for _, key := range keys {
		if err := m.idempotency.Delete(ctx, key); err != nil {
			m.logger.Warn("release channel event key", slog.String("key", key), slog.Any("error", err))
		}
	}
}

// CancelSKU aborts every in-flight sync of sku.
func (m *Manager) CancelSKU(sku string) {
	prefix := sku + "|"
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, cancel := range m.inflight {
		if strings.HasPrefix(key, prefix) {
			cancel()
		}
	}
}

// CancelChannel aborts the in-flight sync of sku on ch, if any.
func (m *Manager) CancelChannel(sku string, ch inventory.Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cancel, ok := m.inflight[flightKey(sku, ch)]; ok {
		cancel()
	}
}

// Watchdog fails syncs left pending for more than twice the sync timeout.
func (m *Manager) Watchdog(ctx context.Context) (int, error) {
	cutoff := m.clock.Now().Add(-2 * m.opts.Timeout)
	n, err := m.store.ResetStuckSyncs(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("channelsync: watchdog: %w", err)
	}
	return n, nil
}

func flightKey(sku string, ch inventory.Channel) string {
	return sku + "|" + string(ch)
}

func eventKey(ch inventory.Channel, sku, ref string) string {
	return "channel:" + string(ch) + ":" + sku + ":" + ref
}
