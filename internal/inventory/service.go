package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/stocksync/internal/shared"
)

// ErrDuplicateReference rejects a client movement whose reference was already applied.
var ErrDuplicateReference = fmt.Errorf("inventory: movement reference already applied: %w", shared.ErrConflict)

// errUnchanged lets a mutation report that nothing needs to be written.
var errUnchanged = errors.New("inventory: unchanged")

const maxCASAttempts = 5

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort receives domain counters.
type MetricsPort interface {
	ObserveMovement(movementType, outcome string)
	ObserveAlert(alertType, severity string)
	ObserveReorder(warehouseID string)
	ObserveSync(channel, outcome string)
	ObserveAuditMismatch(sku, warehouseID string)
}

// CachePort is the versioned JSON cache used for analytics.
type CachePort interface {
	BuildKey(ctx context.Context, parts ...string) (string, error)
	FetchJSON(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error
	Bump(ctx context.Context) error
}

// SyncCanceller aborts in-flight channel syncs.
type SyncCanceller interface {
	CancelSKU(sku string)
	CancelChannel(sku string, ch Channel)
}

// ServiceDeps groups the collaborators of Service. Only Repo is required.
type ServiceDeps struct {
	Repo        RepositoryPort
	Locker      Locker
	Idempotency shared.Idempotency
	Audit       AuditPort
	Publisher   EventPublisher
	Metrics     MetricsPort
	Cache       CachePort
	Clock       shared.Clock
	Logger      *slog.Logger
}

// Service serialises mutations per (sku, warehouse), persists them with a
// version check and fans committed events out to publishers.
type Service struct {
	repo      RepositoryPort
	locker    Locker
	idem      shared.Idempotency
	audit     AuditPort
	publisher EventPublisher
	metrics   MetricsPort
	cache     CachePort
	clock     shared.Clock
	logger    *slog.Logger
	ledger    Ledger
	canceller SyncCanceller
}

// NewService builds Service.
func NewService(deps ServiceDeps, ledger Ledger) *Service {
	s := &Service{
		repo:      deps.Repo,
		locker:    deps.Locker,
		idem:      deps.Idempotency,
		audit:     deps.Audit,
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
		cache:     deps.Cache,
		clock:     deps.Clock,
		logger:    deps.Logger,
		ledger:    ledger,
	}
	if s.locker == nil {
		s.locker = NewLocalLocker()
	}
	if s.clock == nil {
		s.clock = shared.SystemClock{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// SetSyncCanceller wires the channel sync manager so archive and channel
// disable can abort running syncs.
func (s *Service) SetSyncCanceller(c SyncCanceller) {
	s.canceller = c
}

// Clock exposes the service clock to collaborators that stamp sync times.
func (s *Service) Clock() shared.Clock {
	return s.clock
}

// Settings returns the active alert settings.
func (s *Service) Settings() AlertSettings {
	return s.ledger.Alerts
}

// Get returns the latest committed record.
func (s *Service) Get(ctx context.Context, sku string) (InventoryRecord, error) {
	return s.repo.Get(ctx, sku)
}

// CreateRecord stores a new SKU with its opening stock.
func (s *Service) CreateRecord(ctx context.Context, in CreateInput) (InventoryRecord, error) {
	if in.Actor == "" {
		in.Actor = shared.ActorFromContext(ctx)
	}
	now := s.clock.Now()
	change, err := s.ledger.NewRecord(in, now)
	if err != nil {
		return InventoryRecord{}, err
	}
	change.Record.Version = 1
	if err := s.repo.Create(ctx, change.Record, change.Movements); err != nil {
		return InventoryRecord{}, err
	}
	change.committed = true
	s.afterCommit(ctx, change, "inventory.create", in.Actor)
	if s.cache != nil {
		if err := s.cache.Bump(ctx); err != nil {
			s.logger.Warn("analytics cache bump failed", slog.Any("error", err))
		}
	}
	return change.Record, nil
}

// ApplyMovement applies one stock movement and returns the resulting state of
// the warehouse. A movement carrying a client reference is applied at most once.
func (s *Service) ApplyMovement(ctx context.Context, sku, warehouseID string, mv Movement) (WarehouseStock, error) {
	mv = mv.Normalize(warehouseID)
	if mv.Actor == "" {
		mv.Actor = shared.ActorFromContext(ctx)
	}
	if mv.Type == MovementAdjustment && mv.Quantity == 0 {
		mv.Quantity = abs(mv.Delta)
	}
	if !mv.Type.Valid() {
		return WarehouseStock{}, invalid("type", fmt.Sprintf("unknown movement type %q", mv.Type))
	}
	idemKey := ""
	if mv.Reference != "" && s.idem != nil {
		idemKey = fmt.Sprintf("movement:%s:%s", sku, mv.Reference)
		if err := s.idem.CheckAndInsert(ctx, idemKey, "inventory"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return WarehouseStock{}, ErrDuplicateReference
			}
			return WarehouseStock{}, err
		}
	}
	change, err := s.mutate(ctx, sku, s.stockKeys(sku, mv.Warehouses()), func(rec InventoryRecord, now time.Time) (Change, error) {
		return s.ledger.Apply(rec, mv, now)
	})
	if err != nil {
		s.observeRejected(mv.Type, err)
		if idemKey != "" {
			if delErr := s.idem.Delete(ctx, idemKey); delErr != nil {
				s.logger.Warn("release idempotency key", slog.String("key", idemKey), slog.Any("error", delErr))
			}
		}
		return WarehouseStock{}, err
	}
	s.afterCommit(ctx, change, "inventory.movement."+string(mv.Type), mv.Actor)
	target := warehouseID
	if target == "" {
		target = mv.target()
	}
	ws, _ := change.Record.Warehouse(target)
	return ws, nil
}

// Transfer moves available stock between two warehouses of one SKU as a single
// movement under both warehouse locks.
func (s *Service) Transfer(ctx context.Context, sku, from, to string, quantity int64, reference string) (InventoryRecord, error) {
	mv := Movement{
		Type:          MovementTransfer,
		Quantity:      quantity,
		FromWarehouse: from,
		ToWarehouse:   to,
		Reference:     reference,
	}
	if _, err := s.ApplyMovement(ctx, sku, from, mv); err != nil {
		return InventoryRecord{}, err
	}
	return s.repo.Get(ctx, sku)
}

// ConfigureWarehouse adds a warehouse or updates its replenishment settings.
func (s *Service) ConfigureWarehouse(ctx context.Context, sku string, in WarehouseInput) (InventoryRecord, error) {
	change, err := s.mutate(ctx, sku, s.stockKeys(sku, []string{in.WarehouseID}), func(rec InventoryRecord, now time.Time) (Change, error) {
		return s.ledger.ConfigureWarehouse(rec, in, now)
	})
	if err != nil {
		return InventoryRecord{}, err
	}
	s.afterCommit(ctx, change, "inventory.warehouse.configure", shared.ActorFromContext(ctx))
	return change.Record, nil
}

// ConfigureChannel adds or updates a channel allocation. Disabling a channel
// cancels a sync that is in flight for it.
func (s *Service) ConfigureChannel(ctx context.Context, sku string, in ChannelInput) (InventoryRecord, error) {
	change, err := s.mutate(ctx, sku, []string{shared.ChannelLockKey(sku, string(in.Channel))}, func(rec InventoryRecord, now time.Time) (Change, error) {
		return s.ledger.ConfigureChannel(rec, in, now)
	})
	if err != nil {
		return InventoryRecord{}, err
	}
	if !in.Enabled && s.canceller != nil {
		s.canceller.CancelChannel(sku, in.Channel)
	}
	s.afterCommit(ctx, change, "inventory.channel.configure", shared.ActorFromContext(ctx))
	return change.Record, nil
}

// Archive soft-deletes a SKU and cancels its in-flight syncs.
func (s *Service) Archive(ctx context.Context, sku string) (InventoryRecord, error) {
	change, err := s.mutate(ctx, sku, nil, func(rec InventoryRecord, now time.Time) (Change, error) {
		if rec.Archived {
			return Change{Record: rec}, errUnchanged
		}
		return s.ledger.Archive(rec, now), nil
	})
	if err != nil {
		return InventoryRecord{}, err
	}
	if s.canceller != nil {
		s.canceller.CancelSKU(sku)
	}
	s.afterCommit(ctx, change, "inventory.archive", shared.ActorFromContext(ctx))
	if s.cache != nil {
		if err := s.cache.Bump(ctx); err != nil {
			s.logger.Warn("analytics cache bump failed", slog.Any("error", err))
		}
	}
	return change.Record, nil
}

// ActiveAlerts lists unresolved alerts for a SKU.
func (s *Service) ActiveAlerts(ctx context.Context, sku string) ([]Alert, error) {
	rec, err := s.repo.Get(ctx, sku)
	if err != nil {
		return nil, err
	}
	return rec.ActiveAlerts(), nil
}

// Acknowledge resolves an alert.
func (s *Service) Acknowledge(ctx context.Context, sku, alertID string) (Alert, error) {
	change, err := s.mutate(ctx, sku, nil, func(rec InventoryRecord, now time.Time) (Change, error) {
		change, err := s.ledger.Acknowledge(rec, alertID, now)
		if err == nil && len(change.Events) == 0 {
			return change, errUnchanged
		}
		return change, err
	})
	if err != nil {
		return Alert{}, err
	}
	s.afterCommit(ctx, change, "inventory.alert.acknowledge", shared.ActorFromContext(ctx))
	for _, a := range change.Record.Alerts {
		if a.ID == alertID {
			return a, nil
		}
	}
	return Alert{}, ErrAlertNotFound
}

// TransitionReorder advances a reorder through its lifecycle.
func (s *Service) TransitionReorder(ctx context.Context, sku, reorderID string, to ReorderStatus) (ReorderOrder, error) {
	change, err := s.mutate(ctx, sku, nil, func(rec InventoryRecord, now time.Time) (Change, error) {
		return s.ledger.Transition(rec, reorderID, to, now)
	})
	if err != nil {
		return ReorderOrder{}, err
	}
	s.afterCommit(ctx, change, "inventory.reorder."+string(to), shared.ActorFromContext(ctx))
	return findReorder(change.Record, reorderID)
}

// ReceiveReorder books a delivery. The shortfall is non-nil when fewer units
// arrived than were ordered.
func (s *Service) ReceiveReorder(ctx context.Context, sku, reorderID string, received int64) (ReorderOrder, *DeliveryShortfall, error) {
	actor := shared.ActorFromContext(ctx)
	var shortfall *DeliveryShortfall
	rec, err := s.repo.Get(ctx, sku)
	if err != nil {
		return ReorderOrder{}, nil, err
	}
	order, err := findReorder(rec, reorderID)
	if err != nil {
		return ReorderOrder{}, nil, err
	}
	change, err := s.mutate(ctx, sku, s.stockKeys(sku, []string{order.WarehouseID}), func(rec InventoryRecord, now time.Time) (Change, error) {
		change, sf, err := s.ledger.Receive(rec, reorderID, received, actor, now)
		shortfall = sf
		return change, err
	})
	if err != nil {
		return ReorderOrder{}, nil, err
	}
	s.afterCommit(ctx, change, "inventory.reorder.receive", actor)
	order, err = findReorder(change.Record, reorderID)
	return order, shortfall, err
}

// ListMovements returns the movement log of a SKU, optionally for one warehouse.
func (s *Service) ListMovements(ctx context.Context, sku, warehouseID string) ([]Movement, error) {
	if _, err := s.repo.Get(ctx, sku); err != nil {
		return nil, err
	}
	return s.repo.ListMovements(ctx, sku, warehouseID)
}

// ReplayAndVerify folds the movement log of one warehouse and compares it to
// the stored quantities.
func (s *Service) ReplayAndVerify(ctx context.Context, sku, warehouseID string) (AuditResult, error) {
	rec, err := s.repo.Get(ctx, sku)
	if err != nil {
		return AuditResult{}, err
	}
	movements, err := s.repo.ListMovements(ctx, sku, warehouseID)
	if err != nil {
		return AuditResult{}, err
	}
	res, err := Verify(rec, warehouseID, movements)
	if err != nil {
		return AuditResult{}, err
	}
	if !res.Match {
		s.logger.Error("ledger replay mismatch",
			slog.String("sku", sku),
			slog.String("warehouse_id", warehouseID),
			slog.Any("stored", res.Stored),
			slog.Any("replayed", res.Replayed))
		if s.metrics != nil {
			s.metrics.ObserveAuditMismatch(sku, warehouseID)
		}
	}
	return res, nil
}

// AuditAll verifies every warehouse of every active record. Individual failures
// are logged and do not stop the scan.
func (s *Service) AuditAll(ctx context.Context) ([]AuditResult, error) {
	recs, err := s.repo.List(ctx, ListFilter{})
	if err != nil {
		return nil, err
	}
	out := make([]AuditResult, 0, len(recs))
	for _, rec := range recs {
		for _, w := range rec.Warehouses {
			if err := ctx.Err(); err != nil {
				return out, err
			}
			res, err := s.ReplayAndVerify(ctx, rec.SKU, w.WarehouseID)
			if err != nil {
				s.logger.Warn("ledger audit failed", slog.String("sku", rec.SKU), slog.String("warehouse_id", w.WarehouseID), slog.Any("error", err))
				continue
			}
			out = append(out, res)
		}
	}
	return out, nil
}

// FlagOverdueReorders marks overdue reorders across all active records and
// returns how many were flagged.
func (s *Service) FlagOverdueReorders(ctx context.Context) (int, error) {
	recs, err := s.repo.List(ctx, ListFilter{})
	if err != nil {
		return 0, err
	}
	flagged := 0
	for _, rec := range recs {
		if len(rec.OpenReorders()) == 0 {
			continue
		}
		change, err := s.mutate(ctx, rec.SKU, nil, func(rec InventoryRecord, now time.Time) (Change, error) {
			change := s.ledger.FlagOverdue(rec, now)
			if len(change.Events) == 0 {
				return change, errUnchanged
			}
			return change, nil
		})
		if err != nil {
			s.logger.Warn("overdue reorder scan failed", slog.String("sku", rec.SKU), slog.Any("error", err))
			continue
		}
		for _, evt := range change.Events {
			if evt.Kind == EventReorderUpdated {
				flagged++
			}
		}
		s.afterCommit(ctx, change, "inventory.reorder.overdue", "system")
	}
	return flagged, nil
}

func findReorder(rec InventoryRecord, id string) (ReorderOrder, error) {
	if i := reorderIndex(rec, id); i >= 0 {
		return rec.ReorderHistory[i], nil
	}
	return ReorderOrder{}, ErrReorderNotFound
}

type mutation func(rec InventoryRecord, now time.Time) (Change, error)

// mutate runs fn against the latest record under the given locks and saves the
// result with a version check, retrying when another writer won the race.
func (s *Service) mutate(ctx context.Context, sku string, keys []string, fn mutation) (Change, error) {
	if len(keys) > 0 {
		unlock, err := s.locker.Lock(ctx, keys...)
		if err != nil {
			return Change{}, fmt.Errorf("inventory: lock %s: %w", sku, err)
		}
		defer unlock()
	}
	for attempt := 1; ; attempt++ {
		rec, err := s.repo.Get(ctx, sku)
		if err != nil {
			return Change{}, err
		}
		change, err := fn(rec, s.clock.Now())
		if errors.Is(err, errUnchanged) {
			return Change{Record: rec}, nil
		}
		if err != nil {
			return Change{}, err
		}
		change.Record.Version = rec.Version + 1
		err = s.repo.Save(ctx, change.Record, rec.Version, change.Movements)
		if err == nil {
			change.committed = true
			return change, nil
		}
		if !errors.Is(err, ErrVersionConflict) || attempt >= maxCASAttempts {
			return Change{}, err
		}
		s.logger.Debug("retrying after version conflict", slog.String("sku", sku), slog.Int("attempt", attempt))
	}
}

// stockKeys lists the lock keys of the warehouses a mutation touches.
func (s *Service) stockKeys(sku string, warehouses []string) []string {
	keys := make([]string, 0, len(warehouses))
	for _, w := range warehouses {
		if w != "" {
			keys = append(keys, shared.StockLockKey(sku, w))
		}
	}
	return keys
}

// afterCommit fans events out. The change is already durable, so failures
// here are logged and never returned.
func (s *Service) afterCommit(ctx context.Context, change Change, action, actor string) {
	if !change.committed {
		return
	}
	s.observe(change.Events)
	if s.publisher != nil && len(change.Events) > 0 {
		if err := s.publisher.Publish(ctx, change.Events); err != nil {
			s.logger.Error("publish inventory events", slog.String("sku", change.Record.SKU), slog.Int("events", len(change.Events)), slog.Any("error", err))
		}
	}
	if s.audit != nil && action != "" {
		meta := map[string]any{"version": change.Record.Version, "movements": len(change.Movements), "events": len(change.Events)}
		if err := s.audit.Record(ctx, shared.AuditLog{
			Actor:    actor,
			Action:   action,
			Entity:   "inventory_record",
			EntityID: change.Record.SKU,
			Meta:     meta,
			At:       s.clock.Now(),
		}); err != nil {
			s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
		}
	}
}

func (s *Service) observe(events []Event) {
	if s.metrics == nil {
		return
	}
	for _, evt := range events {
		switch evt.Kind {
		case EventMovementApplied:
			s.metrics.ObserveMovement(string(evt.Movement.Type), "applied")
		case EventAlertRaised:
			s.metrics.ObserveAlert(string(evt.Alert.Type), string(evt.Alert.Severity))
		case EventReorderCreated:
			s.metrics.ObserveReorder(evt.Reorder.WarehouseID)
		case EventSyncCompleted:
			s.metrics.ObserveSync(string(evt.Channel), "synced")
		case EventSyncFailed:
			s.metrics.ObserveSync(string(evt.Channel), "failed")
		}
	}
}

func (s *Service) observeRejected(t MovementType, err error) {
	if s.metrics == nil {
		return
	}
	reason := "error"
	var ve *ValidationError
	switch {
	case errors.Is(err, ErrInsufficientStock):
		reason = "insufficient_stock"
	case errors.As(err, &ve):
		reason = "validation"
	case errors.Is(err, ErrArchived):
		reason = "archived"
	case errors.Is(err, ErrRecordNotFound):
		reason = "not_found"
	}
	s.metrics.ObserveMovement(string(t), reason)
}
