package scheduler

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

type staticSource []inventory.SyncTarget

func (s staticSource) DueSyncs(context.Context, time.Time) ([]inventory.SyncTarget, error) {
	return s, nil
}

type countingRunner struct {
	mu        sync.Mutex
	active    int32
	peak      int32
	calls     []inventory.SyncTarget
	fail      map[string]error
	watchdogs int32
}

func (r *countingRunner) Sync(_ context.Context, sku string, ch inventory.Channel) (inventory.SyncResult, error) {
	n := atomic.AddInt32(&r.active, 1)
	defer atomic.AddInt32(&r.active, -1)
	for {
		peak := atomic.LoadInt32(&r.peak)
		if n <= peak || atomic.CompareAndSwapInt32(&r.peak, peak, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)
	r.mu.Lock()
	r.calls = append(r.calls, inventory.SyncTarget{SKU: sku, Channel: ch})
	err := r.fail[sku]
	r.mu.Unlock()
	if err != nil {
		return inventory.SyncResult{SKU: sku, Channel: ch, Status: inventory.SyncFailed}, err
	}
	return inventory.SyncResult{SKU: sku, Channel: ch, Status: inventory.SyncSynced}, nil
}

func (r *countingRunner) Watchdog(context.Context) (int, error) {
	atomic.AddInt32(&r.watchdogs, 1)
	return 0, nil
}

func TestTickBoundsConcurrencyAndCountsOutcomes(t *testing.T) {
	var due staticSource
	for _, sku := range []string{"A", "B", "C", "D", "E", "F"} {
		due = append(due, inventory.SyncTarget{SKU: sku, Channel: inventory.ChannelAmazon})
	}
	runner := &countingRunner{fail: map[string]error{
		"B": &inventory.ChannelSyncError{Channel: inventory.ChannelAmazon, Op: "push", Err: errors.New("boom")},
		"C": shared.ErrNotFound,
	}}
	s := New(due, runner, nil, nil, Config{Workers: 2})

	report, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{Due: 6, Synced: 4, Failed: 2}, report)
	assert.Len(t, runner.calls, 6)
	assert.LessOrEqual(t, atomic.LoadInt32(&runner.peak), int32(2))
}

func TestRunStopsOnCancel(t *testing.T) {
	runner := &countingRunner{}
	s := New(staticSource{{SKU: "A", Channel: inventory.ChannelEbay}}, runner, nil, nil, Config{Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	require.Eventually(t, func() bool { return atomic.LoadInt32(&runner.watchdogs) >= 2 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestExponentialBackoff(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	b := ExponentialBackoff{Base: time.Minute, Max: 10 * time.Minute}
	assert.Equal(t, now.Add(time.Minute), b.Next(1, now))
	assert.Equal(t, now.Add(2*time.Minute), b.Next(2, now))
	assert.Equal(t, now.Add(8*time.Minute), b.Next(4, now))
	assert.Equal(t, now.Add(10*time.Minute), b.Next(5, now))
	assert.Equal(t, now.Add(10*time.Minute), b.Next(60, now))

	unbounded := ExponentialBackoff{Base: time.Hour}
	assert.Equal(t, now.Add(24*time.Hour), unbounded.Next(200, now))
}
