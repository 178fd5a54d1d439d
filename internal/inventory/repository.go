package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/stocksync/internal/platform/db"
)

// RepositoryPort abstracts record persistence and the movement log.
type RepositoryPort interface {
	Get(ctx context.Context, sku string) (InventoryRecord, error)
	List(ctx context.Context, filter ListFilter) ([]InventoryRecord, error)
	Create(ctx context.Context, rec InventoryRecord, movements []Movement) error
	// Save replaces the record when its stored version equals expected and
	// appends movements in the same transaction.
	Save(ctx context.Context, rec InventoryRecord, expected int64, movements []Movement) error
	ListMovements(ctx context.Context, sku, warehouseID string) ([]Movement, error)
}

// ListFilter narrows record listings.
type ListFilter struct {
	WarehouseStatus WarehouseStatus
	IncludeArchived bool
}

func (f ListFilter) matches(rec InventoryRecord) bool {
	if rec.Archived && !f.IncludeArchived {
		return false
	}
	if f.WarehouseStatus == "" {
		return true
	}
	for _, w := range rec.Warehouses {
		if w.Status == f.WarehouseStatus {
			return true
		}
	}
	return false
}

// PostgresRepository persists one JSONB document per SKU guarded by a version
// column, plus an append-only movement table.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository constructs the repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) Get(ctx context.Context, sku string) (InventoryRecord, error) {
	var (
		doc     []byte
		version int64
	)
	err := r.pool.QueryRow(ctx, `SELECT doc, version FROM inventory_records WHERE sku=$1`, sku).Scan(&doc, &version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return InventoryRecord{}, ErrRecordNotFound
		}
		return InventoryRecord{}, err
	}
	return decodeRecord(doc, version)
}

func (r *PostgresRepository) List(ctx context.Context, filter ListFilter) ([]InventoryRecord, error) {
	var statusDoc []byte
	if filter.WarehouseStatus != "" {
		statusDoc = []byte(fmt.Sprintf(`[{"status":%q}]`, filter.WarehouseStatus))
	}
	rows, err := r.pool.Query(ctx, `SELECT doc, version FROM inventory_records
WHERE ($1 OR NOT archived) AND ($2::jsonb IS NULL OR doc->'warehouses' @> $2::jsonb)
ORDER BY sku ASC`, filter.IncludeArchived, statusDoc)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	records := []InventoryRecord{}
	for rows.Next() {
		var (
			doc     []byte
			version int64
		)
		if err := rows.Scan(&doc, &version); err != nil {
			return nil, err
		}
		rec, err := decodeRecord(doc, version)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *PostgresRepository) Create(ctx context.Context, rec InventoryRecord, movements []Movement) error {
	rec.Version = 1
	doc, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO inventory_records (sku, doc, version, archived, updated_at) VALUES ($1,$2,1,$3,$4)`,
			rec.SKU, doc, rec.Archived, rec.UpdatedAt)
		if err != nil {
			if db.IsUniqueViolation(err) {
				return ErrRecordExists
			}
			return err
		}
		return insertMovements(ctx, tx, movements)
	})
}

func (r *PostgresRepository) Save(ctx context.Context, rec InventoryRecord, expected int64, movements []Movement) error {
	rec.Version = expected + 1
	doc, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE inventory_records SET doc=$1, version=version+1, archived=$2, updated_at=$3
WHERE sku=$4 AND version=$5`, doc, rec.Archived, rec.UpdatedAt, rec.SKU, expected)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM inventory_records WHERE sku=$1)`, rec.SKU).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return ErrRecordNotFound
			}
			return ErrVersionConflict
		}
		return insertMovements(ctx, tx, movements)
	})
}

func (r *PostgresRepository) ListMovements(ctx context.Context, sku, warehouseID string) ([]Movement, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, sku, seq, mv_type, quantity, field, delta, from_warehouse, to_warehouse, channel, reference, actor, note, occurred_at
FROM inventory_movements
WHERE sku=$1 AND ($2 = '' OR from_warehouse=$2 OR to_warehouse=$2)
ORDER BY seq ASC`, sku, warehouseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	movements := []Movement{}
	for rows.Next() {
		var mv Movement
		if err := rows.Scan(&mv.ID, &mv.SKU, &mv.Seq, &mv.Type, &mv.Quantity, &mv.Field, &mv.Delta,
			&mv.FromWarehouse, &mv.ToWarehouse, &mv.Channel, &mv.Reference, &mv.Actor, &mv.Note, &mv.Timestamp); err != nil {
			return nil, err
		}
		movements = append(movements, mv)
	}
	return movements, rows.Err()
}

func insertMovements(ctx context.Context, tx pgx.Tx, movements []Movement) error {
	if len(movements) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, mv := range movements {
		batch.Queue(`INSERT INTO inventory_movements (id, sku, seq, mv_type, quantity, field, delta, from_warehouse, to_warehouse, channel, reference, actor, note, occurred_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
			mv.ID, mv.SKU, mv.Seq, string(mv.Type), mv.Quantity, string(mv.Field), mv.Delta,
			mv.FromWarehouse, mv.ToWarehouse, string(mv.Channel), mv.Reference, mv.Actor, mv.Note, mv.Timestamp)
	}
	return tx.SendBatch(ctx, batch).Close()
}

func decodeRecord(doc []byte, version int64) (InventoryRecord, error) {
	var rec InventoryRecord
	if err := json.Unmarshal(doc, &rec); err != nil {
		return InventoryRecord{}, fmt.Errorf("inventory: decode record: %w", err)
	}
	rec.Version = version
	return rec, nil
}
