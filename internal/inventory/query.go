package inventory

import (
	"context"
	"sort"
	"time"

	"github.com/odyssey-erp/stocksync/internal/shared"
)

// StockListing is one warehouse row of the low-stock and out-of-stock listings.
type StockListing struct {
	SKU          string          `json:"sku"`
	ProductID    string          `json:"productId"`
	WarehouseID  string          `json:"warehouseId"`
	Available    int64           `json:"available"`
	OnOrder      int64           `json:"onOrder"`
	ReorderPoint int64           `json:"reorderPoint"`
	Status       WarehouseStatus `json:"status"`
	LastUpdated  time.Time       `json:"lastUpdated"`
}

// PendingReorder is a reorder awaiting fulfilment together with its SKU.
type PendingReorder struct {
	SKU string `json:"sku"`
	ReorderOrder
}

// Page wraps a listing with pagination metadata.
type Page[T any] struct {
	Items      []T               `json:"items"`
	Pagination shared.Pagination `json:"pagination"`
}

// Analytics aggregates counts across all active records.
type Analytics struct {
	TotalSKUs         int                       `json:"totalSkus"`
	TotalWarehouses   int                       `json:"totalWarehouses"`
	Stock             GlobalStock               `json:"stock"`
	OnOrder           int64                     `json:"onOrder"`
	ByStatus          map[string]int            `json:"byStatus"`
	ActiveAlerts      map[string]int            `json:"activeAlerts"`
	PendingReorders   int                       `json:"pendingReorders"`
	OverdueReorders   int                       `json:"overdueReorders"`
	ChannelSyncStatus map[string]map[string]int `json:"channelSyncStatus"`
	GeneratedAt       time.Time                 `json:"generatedAt"`
}

// ListByStatus lists warehouses currently in the given status across active records.
func (s *Service) ListByStatus(ctx context.Context, status WarehouseStatus, page, perPage int) (Page[StockListing], error) {
	recs, err := s.repo.List(ctx, ListFilter{WarehouseStatus: status})
	if err != nil {
		return Page[StockListing]{}, err
	}
	rows := []StockListing{}
	for _, rec := range recs {
		for _, w := range rec.Warehouses {
			if w.Status != status {
				continue
			}
			rows = append(rows, StockListing{
				SKU:          rec.SKU,
				ProductID:    rec.ProductID,
				WarehouseID:  w.WarehouseID,
				Available:    w.Quantities.Available,
				OnOrder:      w.Quantities.OnOrder,
				ReorderPoint: w.ReorderPoint,
				Status:       w.Status,
				LastUpdated:  w.LastUpdated,
			})
		}
	}
	return paginate(rows, page, perPage), nil
}

// ListLowStock lists warehouses in low-stock status.
func (s *Service) ListLowStock(ctx context.Context, page, perPage int) (Page[StockListing], error) {
	return s.ListByStatus(ctx, StatusLowStock, page, perPage)
}

// ListOutOfStock lists warehouses in out-of-stock status.
func (s *Service) ListOutOfStock(ctx context.Context, page, perPage int) (Page[StockListing], error) {
	return s.ListByStatus(ctx, StatusOutOfStock, page, perPage)
}

// PendingReorders lists reorders that are not delivered or cancelled, oldest first.
func (s *Service) PendingReorders(ctx context.Context, page, perPage int) (Page[PendingReorder], error) {
	recs, err := s.repo.List(ctx, ListFilter{})
	if err != nil {
		return Page[PendingReorder]{}, err
	}
	rows := []PendingReorder{}
	for _, rec := range recs {
		for _, o := range rec.OpenReorders() {
			rows = append(rows, PendingReorder{SKU: rec.SKU, ReorderOrder: o})
		}
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].CreatedAt.Before(rows[j].CreatedAt) })
	return paginate(rows, page, perPage), nil
}

// Analytics returns aggregate counts, served from the cache when available.
func (s *Service) Analytics(ctx context.Context) (Analytics, error) {
	if s.cache == nil {
		return s.computeAnalytics(ctx)
	}
	key, err := s.cache.BuildKey(ctx, "inventory", "analytics")
	if err != nil {
		return Analytics{}, err
	}
	var out Analytics
	err = s.cache.FetchJSON(ctx, key, &out, func(ctx context.Context) (any, error) {
		return s.computeAnalytics(ctx)
	})
	return out, err
}

func (s *Service) computeAnalytics(ctx context.Context) (Analytics, error) {
	recs, err := s.repo.List(ctx, ListFilter{})
	if err != nil {
		return Analytics{}, err
	}
	out := Analytics{
		ByStatus:          map[string]int{},
		ActiveAlerts:      map[string]int{},
		ChannelSyncStatus: map[string]map[string]int{},
		GeneratedAt:       s.clock.Now(),
	}
	all := []WarehouseStock{}
	for _, rec := range recs {
		out.TotalSKUs++
		for _, w := range rec.Warehouses {
			out.TotalWarehouses++
			out.ByStatus[string(w.Status)]++
			out.OnOrder += w.Quantities.OnOrder
			all = append(all, w)
		}
		for _, a := range rec.ActiveAlerts() {
			out.ActiveAlerts[string(a.Type)]++
		}
		for _, o := range rec.OpenReorders() {
			out.PendingReorders++
			if o.Overdue {
				out.OverdueReorders++
			}
		}
		for _, alloc := range rec.ChannelAllocations {
			if !alloc.Enabled {
				continue
			}
			byStatus, ok := out.ChannelSyncStatus[string(alloc.Channel)]
			if !ok {
				byStatus = map[string]int{}
				out.ChannelSyncStatus[string(alloc.Channel)] = byStatus
			}
			byStatus[string(alloc.SyncStatus)]++
		}
	}
	out.Stock = computeGlobal(all)
	return out, nil
}

func paginate[T any](rows []T, page, perPage int) Page[T] {
	p := shared.NewPagination(page, perPage, len(rows))
	start, end := p.Bounds()
	return Page[T]{Items: rows[start:end], Pagination: p}
}
