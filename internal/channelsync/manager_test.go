package channelsync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stocksync/internal/inventory"
	"github.com/odyssey-erp/stocksync/internal/shared"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeAdapter struct {
	mu      sync.Mutex
	events  []inventory.SaleEvent
	pullErr error
	pushErr error
	pushed  []int64
	since   []time.Time
	pulls   int32
	block   chan struct{}
	// strict drops events that occurred at or before since, like a channel API.
	strict bool
	onPush func(a *fakeAdapter)
}

func (a *fakeAdapter) PullSales(ctx context.Context, _ string, since time.Time) ([]inventory.SaleEvent, error) {
	atomic.AddInt32(&a.pulls, 1)
	if a.block != nil {
		select {
		case <-a.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.since = append(a.since, since)
	if a.pullErr != nil {
		return nil, a.pullErr
	}
	out := make([]inventory.SaleEvent, 0, len(a.events))
	for _, se := range a.events {
		if a.strict && !se.OccurredAt.After(since) {
			continue
		}
		out = append(out, se)
	}
	return out, nil
}

func (a *fakeAdapter) PushAllocation(_ context.Context, _ string, qty int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pushErr != nil {
		return a.pushErr
	}
	a.pushed = append(a.pushed, qty)
	if a.onPush != nil {
		a.onPush(a)
	}
	return nil
}

type fixedBackoff time.Duration

func (b fixedBackoff) Next(failures int, now time.Time) time.Time {
	return now.Add(time.Duration(failures) * time.Duration(b))
}

type harness struct {
	svc     *inventory.Service
	manager *Manager
	adapter *fakeAdapter
	clock   *fakeClock
}

func newHarness(t *testing.T, timeout time.Duration) harness {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	svc := inventory.NewService(inventory.ServiceDeps{
		Repo:        inventory.NewMemoryRepository(),
		Idempotency: shared.NewMemoryIdempotencyStore(),
		Clock:       clock,
	}, inventory.NewLedger(inventory.DefaultAlertSettings()))
	adapter := &fakeAdapter{}
	registry := NewRegistry()
	require.NoError(t, registry.Register(inventory.ChannelShopify, adapter))
	manager := NewManager(svc, registry, shared.NewMemoryIdempotencyStore(), clock, nil, Options{
		Frequency: 10 * time.Minute,
		Timeout:   timeout,
		Backoff:   fixedBackoff(time.Minute),
	})
	svc.SetSyncCanceller(manager)

	_, err := svc.CreateRecord(context.Background(), inventory.CreateInput{
		SKU:       "SKU-1",
		ProductID: "P-1",
		Warehouses: []inventory.WarehouseInput{
			{WarehouseID: "W1", Available: 10, ReorderPoint: 2},
			{WarehouseID: "W2", Available: 5, ReorderPoint: 2},
		},
		Channels: []inventory.ChannelInput{{Channel: inventory.ChannelShopify, Enabled: true, WarehouseID: "W1"}},
	})
	require.NoError(t, err)
	return harness{svc: svc, manager: manager, adapter: adapter, clock: clock}
}

func allocation(t *testing.T, svc *inventory.Service) inventory.ChannelAllocation {
	t.Helper()
	rec, err := svc.Get(context.Background(), "SKU-1")
	require.NoError(t, err)
	alloc, ok := rec.Allocation(inventory.ChannelShopify)
	require.True(t, ok)
	return alloc
}

func TestSyncBooksSalesAndPushesNetAllocation(t *testing.T) {
	h := newHarness(t, time.Second)
	h.adapter.events = []inventory.SaleEvent{
		{Reference: "o-1", Type: inventory.MovementSale, Quantity: 3},
		{Reference: "o-2", Type: inventory.MovementSale, Quantity: 2, WarehouseID: "W2"},
		{Reference: "r-1", Type: inventory.MovementReturn, Quantity: 1},
		{Type: inventory.MovementSale, Quantity: 4},
	}

	res, err := h.manager.Sync(context.Background(), "SKU-1", inventory.ChannelShopify)
	require.NoError(t, err)
	assert.Equal(t, inventory.SyncSynced, res.Status)
	assert.Equal(t, int64(10), res.Pushed, "15 available minus 5 pending sales")
	assert.Equal(t, []string{"o-1", "o-2", "r-1"}, res.Summary.Applied)
	assert.Equal(t, []int64{10}, h.adapter.pushed)

	rec, err := h.svc.Get(context.Background(), "SKU-1")
	require.NoError(t, err)
	w1, _ := rec.Warehouse("W1")
	w2, _ := rec.Warehouse("W2")
	assert.Equal(t, int64(8), w1.Quantities.Available)
	assert.Equal(t, int64(3), w2.Quantities.Available)

	alloc := allocation(t, h.svc)
	assert.Equal(t, int64(5), alloc.Sold)
	assert.Equal(t, int64(1), alloc.Returned)
	assert.Equal(t, h.clock.Now(), alloc.LastSync)
	assert.Equal(t, h.clock.Now().Add(10*time.Minute), alloc.NextSyncAt)

	h.clock.Advance(time.Minute)
	res, err = h.manager.Sync(context.Background(), "SKU-1", inventory.ChannelShopify)
	require.NoError(t, err)
	assert.Empty(t, res.Summary.Applied, "events already booked are filtered out")
	assert.Equal(t, int64(11), res.Pushed)
	assert.Equal(t, h.clock.Now().Add(-time.Minute-defaultPullOverlap), h.adapter.since[1])
}

func TestSyncPullsSaleRecordedDuringPreviousSync(t *testing.T) {
	h := newHarness(t, time.Second)
	h.adapter.strict = true
	start := h.clock.Now()
	h.adapter.onPush = func(a *fakeAdapter) {
		a.events = append(a.events, inventory.SaleEvent{
			Reference: "o-late", Type: inventory.MovementSale, Quantity: 3, OccurredAt: start.Add(10 * time.Second),
		})
		a.onPush = nil
		h.clock.Advance(30 * time.Second)
	}

	res, err := h.manager.Sync(context.Background(), "SKU-1", inventory.ChannelShopify)
	require.NoError(t, err)
	assert.Empty(t, res.Summary.Applied)
	assert.Equal(t, start, allocation(t, h.svc).PulledThrough)

	for i := 0; i < 3; i++ {
		h.clock.Advance(time.Minute)
		_, err = h.manager.Sync(context.Background(), "SKU-1", inventory.ChannelShopify)
		require.NoError(t, err)
	}
	alloc := allocation(t, h.svc)
	assert.Equal(t, int64(3), alloc.Sold, "booked exactly once")
	rec, err := h.svc.Get(context.Background(), "SKU-1")
	require.NoError(t, err)
	assert.Equal(t, int64(12), rec.GlobalStock.TotalAvailable)
}

func TestSyncFailureLeavesStockUntouched(t *testing.T) {
	h := newHarness(t, time.Second)
	h.adapter.events = []inventory.SaleEvent{{Reference: "o-1", Type: inventory.MovementSale, Quantity: 3}}
	h.adapter.pushErr = errors.New("503 from storefront")
	before, err := h.svc.Get(context.Background(), "SKU-1")
	require.NoError(t, err)

	res, err := h.manager.Sync(context.Background(), "SKU-1", inventory.ChannelShopify)
	var syncErr *inventory.ChannelSyncError
	require.ErrorAs(t, err, &syncErr)
	assert.Equal(t, "push", syncErr.Op)
	assert.Equal(t, inventory.SyncFailed, res.Status)

	after, err := h.svc.Get(context.Background(), "SKU-1")
	require.NoError(t, err)
	assert.Equal(t, before.GlobalStock, after.GlobalStock)
	alloc := allocation(t, h.svc)
	assert.Equal(t, 1, alloc.FailedSyncCount)
	assert.Equal(t, h.clock.Now().Add(time.Minute), alloc.NextSyncAt)
	assert.Contains(t, alloc.SyncError, "503")

	h.adapter.pushErr = nil
	res, err = h.manager.Sync(context.Background(), "SKU-1", inventory.ChannelShopify)
	require.NoError(t, err)
	assert.Equal(t, []string{"o-1"}, res.Summary.Applied, "keys of a failed sync are released")
	assert.Equal(t, 0, allocation(t, h.svc).FailedSyncCount)
}

func TestSyncPartialOnOversell(t *testing.T) {
	h := newHarness(t, time.Second)
	h.adapter.events = []inventory.SaleEvent{
		{Reference: "o-big", Type: inventory.MovementSale, Quantity: 40, WarehouseID: "W2"},
	}
	res, err := h.manager.Sync(context.Background(), "SKU-1", inventory.ChannelShopify)
	require.NoError(t, err)
	assert.Equal(t, inventory.SyncPartial, res.Status)
	assert.Equal(t, []string{"o-big"}, res.Summary.Rejected)
	assert.Equal(t, int64(0), res.Pushed)

	rec, err := h.svc.Get(context.Background(), "SKU-1")
	require.NoError(t, err)
	var oversell int
	for _, a := range rec.ActiveAlerts() {
		if a.Type == inventory.AlertOversell {
			oversell++
		}
	}
	assert.Equal(t, 1, oversell)
}

func TestSyncWithoutAdapterIsValidationError(t *testing.T) {
	h := newHarness(t, time.Second)
	_, err := h.manager.Sync(context.Background(), "SKU-1", inventory.ChannelEbay)
	require.ErrorIs(t, err, ErrNoAdapter)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestConcurrentSyncsShareOneRun(t *testing.T) {
	h := newHarness(t, time.Second)
	h.adapter.block = make(chan struct{})

	var wg sync.WaitGroup
	results := make([]inventory.SyncResult, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := h.manager.Sync(context.Background(), "SKU-1", inventory.ChannelShopify)
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(h.adapter.block)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&h.adapter.pulls))
	for _, res := range results {
		assert.Equal(t, inventory.SyncSynced, res.Status)
	}
}

func TestArchiveCancelsInflightSync(t *testing.T) {
	h := newHarness(t, 5*time.Second)
	h.adapter.block = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := h.manager.Sync(context.Background(), "SKU-1", inventory.ChannelShopify)
		done <- err
	}()
	require.Eventually(t, func() bool { return atomic.LoadInt32(&h.adapter.pulls) == 1 }, time.Second, 5*time.Millisecond)

	_, err := h.svc.Archive(context.Background(), "SKU-1")
	require.NoError(t, err)

	select {
	case err := <-done:
		var syncErr *inventory.ChannelSyncError
		require.ErrorAs(t, err, &syncErr)
		assert.ErrorIs(t, err, errSyncCancelled)
	case <-time.After(2 * time.Second):
		t.Fatal("sync was not cancelled")
	}
	alloc := allocation(t, h.svc)
	assert.Equal(t, inventory.SyncFailed, alloc.SyncStatus)
	assert.Contains(t, alloc.SyncError, "cancelled")
}

func TestSyncTimeoutFails(t *testing.T) {
	h := newHarness(t, 20*time.Millisecond)
	h.adapter.block = make(chan struct{})
	defer close(h.adapter.block)

	_, err := h.manager.Sync(context.Background(), "SKU-1", inventory.ChannelShopify)
	var syncErr *inventory.ChannelSyncError
	require.ErrorAs(t, err, &syncErr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, inventory.SyncFailed, allocation(t, h.svc).SyncStatus)
}

func TestWatchdogResetsStuckSync(t *testing.T) {
	h := newHarness(t, time.Second)
	_, err := h.svc.BeginSync(context.Background(), "SKU-1", inventory.ChannelShopify)
	require.NoError(t, err)

	n, err := h.manager.Watchdog(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	h.clock.Advance(3 * time.Second)
	n, err = h.manager.Watchdog(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, inventory.SyncFailed, allocation(t, h.svc).SyncStatus)
}
