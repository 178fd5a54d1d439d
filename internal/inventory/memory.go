package inventory

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepository keeps records in process memory. It backs STORE_BACKEND=memory
// and the package tests; it honours the same version CAS as PostgresRepository.
type MemoryRepository struct {
	mu        sync.RWMutex
	records   map[string]InventoryRecord
	movements map[string][]Movement
}

// NewMemoryRepository constructs an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		records:   make(map[string]InventoryRecord),
		movements: make(map[string][]Movement),
	}
}

func (r *MemoryRepository) Get(_ context.Context, sku string) (InventoryRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[sku]
	if !ok {
		return InventoryRecord{}, ErrRecordNotFound
	}
	return rec.clone(), nil
}

func (r *MemoryRepository) List(_ context.Context, filter ListFilter) ([]InventoryRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []InventoryRecord{}
	for _, rec := range r.records {
		if filter.matches(rec) {
			out = append(out, rec.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out, nil
}

func (r *MemoryRepository) Create(_ context.Context, rec InventoryRecord, movements []Movement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[rec.SKU]; ok {
		return ErrRecordExists
	}
	rec = rec.clone()
	rec.Version = 1
	r.records[rec.SKU] = rec
	r.movements[rec.SKU] = append([]Movement(nil), movements...)
	return nil
}

func (r *MemoryRepository) Save(_ context.Context, rec InventoryRecord, expected int64, movements []Movement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.records[rec.SKU]
	if !ok {
		return ErrRecordNotFound
	}
	if current.Version != expected {
		return ErrVersionConflict
	}
	rec = rec.clone()
	rec.Version = expected + 1
	r.records[rec.SKU] = rec
	r.movements[rec.SKU] = append(r.movements[rec.SKU], movements...)
	return nil
}

func (r *MemoryRepository) ListMovements(_ context.Context, sku, warehouseID string) ([]Movement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.records[sku]; !ok {
		return nil, ErrRecordNotFound
	}
	out := []Movement{}
	for _, mv := range r.movements[sku] {
		if warehouseID == "" || mv.Touches(warehouseID) {
			out = append(out, mv)
		}
	}
	return out, nil
}
