package adapters

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stocksync/internal/inventory"
)

func TestHTTPAdapterPushAndPull(t *testing.T) {
	since := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	var pushed allocationPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		switch {
		case r.Method == http.MethodPut && r.URL.Path == "/skus/SKU 1/allocation":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&pushed))
			w.WriteHeader(http.StatusNoContent)
		case r.Method == http.MethodGet && r.URL.Path == "/skus/SKU 1/sales":
			require.Equal(t, since.Format(time.RFC3339Nano), r.URL.Query().Get("since"))
			_ = json.NewEncoder(w).Encode(salesResponse{Events: []inventory.SaleEvent{
				{Reference: "o-1", Type: inventory.MovementSale, Quantity: 2, OccurredAt: since.Add(time.Minute)},
			}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	a := NewHTTPAdapter(inventory.ChannelAmazon, srv.URL+"/", "secret", time.Second)
	require.NoError(t, a.PushAllocation(context.Background(), "SKU 1", 7))
	require.Equal(t, allocationPayload{Channel: inventory.ChannelAmazon, Quantity: 7}, pushed)

	events, err := a.PullSales(context.Background(), "SKU 1", since)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "o-1", events[0].Reference)
}

func TestHTTPAdapterStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "throttled", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	a := NewHTTPAdapter(inventory.ChannelEbay, srv.URL, "", time.Second)
	err := a.PushAllocation(context.Background(), "SKU-1", 1)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusTooManyRequests, statusErr.Code)
	require.Equal(t, "throttled", statusErr.Body)

	_, err = a.PullSales(context.Background(), "SKU-1", time.Time{})
	require.ErrorAs(t, err, &statusErr)
}

func TestHTTPAdapterHonoursContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	a := NewHTTPAdapter(inventory.ChannelShopify, srv.URL, "", time.Second)
	_, err := a.PullSales(ctx, "SKU-1", time.Time{})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
