package inventory

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/stocksync/internal/platform/httpx"
)

// Syncer forces an immediate channel sync.
type Syncer interface {
	SyncNow(ctx context.Context, sku string, ch Channel) (SyncResult, error)
}

// Handler wires HTTP endpoints for inventory module.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	syncer    Syncer
	validator *validator.Validate
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service, syncer Syncer) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, syncer: syncer, validator: validator.New()}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleCreate)
	r.Get("/low-stock", h.handleLowStock)
	r.Get("/out-of-stock", h.handleOutOfStock)
	r.Get("/pending-reorders", h.handlePendingReorders)
	r.Get("/analytics", h.handleAnalytics)

	r.Route("/{sku}", func(r chi.Router) {
		r.Get("/", h.handleGet)
		r.Delete("/", h.handleArchive)
		r.Get("/movements", h.handleMovements)
		r.Post("/transfers", h.handleTransfer)
		r.Put("/warehouse/{warehouseId}", h.handleMovement)
		r.Put("/warehouse/{warehouseId}/settings", h.handleWarehouseSettings)
		r.Get("/warehouse/{warehouseId}/audit", h.handleAudit)
		r.Put("/channels/{channel}", h.handleChannel)
		r.Post("/sync/{channel}", h.handleSync)
		r.Get("/alerts", h.handleAlerts)
		r.Put("/alerts/{alertId}/acknowledge", h.handleAcknowledge)
		r.Put("/reorders/{reorderId}/status", h.handleReorderStatus)
		r.Post("/reorders/{reorderId}/receive", h.handleReceive)
	})
}

type movementRequest struct {
	Type        MovementType `json:"type" validate:"required"`
	Quantity    int64        `json:"quantity" validate:"gte=0"`
	Field       StockField   `json:"field"`
	Delta       int64        `json:"delta"`
	ToWarehouse string       `json:"toWarehouse"`
	Channel     Channel      `json:"channel"`
	Reference   string       `json:"reference" validate:"max=128"`
	Note        string       `json:"note" validate:"max=512"`
}

type transferRequest struct {
	FromWarehouse string `json:"fromWarehouse" validate:"required"`
	ToWarehouse   string `json:"toWarehouse" validate:"required,nefield=FromWarehouse"`
	Quantity      int64  `json:"quantity" validate:"gt=0"`
	Reference     string `json:"reference" validate:"max=128"`
}

type reorderStatusRequest struct {
	Status ReorderStatus `json:"status" validate:"required"`
}

type receiveRequest struct {
	QuantityReceived int64 `json:"quantityReceived" validate:"gte=0"`
}

type receiveResponse struct {
	Reorder   ReorderOrder       `json:"reorder"`
	Shortfall *DeliveryShortfall `json:"shortfall,omitempty"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var in CreateInput
	if !h.decode(w, r, &in) {
		return
	}
	rec, err := h.service.CreateRecord(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, rec)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.Get(r.Context(), chi.URLParam(r, "sku"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) handleArchive(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.Archive(r.Context(), chi.URLParam(r, "sku"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) handleMovement(w http.ResponseWriter, r *http.Request) {
	var req movementRequest
	if !h.decode(w, r, &req) {
		return
	}
	mv := Movement{
		Type:      req.Type,
		Quantity:  req.Quantity,
		Field:     req.Field,
		Delta:     req.Delta,
		Channel:   req.Channel,
		Reference: req.Reference,
		Note:      req.Note,
	}
	if req.Type == MovementTransfer {
		mv.ToWarehouse = req.ToWarehouse
	}
	ws, err := h.service.ApplyMovement(r.Context(), chi.URLParam(r, "sku"), chi.URLParam(r, "warehouseId"), mv)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ws)
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !h.decode(w, r, &req) {
		return
	}
	rec, err := h.service.Transfer(r.Context(), chi.URLParam(r, "sku"), req.FromWarehouse, req.ToWarehouse, req.Quantity, req.Reference)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) handleWarehouseSettings(w http.ResponseWriter, r *http.Request) {
	var in WarehouseInput
	in.WarehouseID = chi.URLParam(r, "warehouseId")
	if !h.decode(w, r, &in) {
		return
	}
	in.WarehouseID = chi.URLParam(r, "warehouseId")
	rec, err := h.service.ConfigureWarehouse(r.Context(), chi.URLParam(r, "sku"), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) handleAudit(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.ReplayAndVerify(r.Context(), chi.URLParam(r, "sku"), chi.URLParam(r, "warehouseId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) handleMovements(w http.ResponseWriter, r *http.Request) {
	movements, err := h.service.ListMovements(r.Context(), chi.URLParam(r, "sku"), r.URL.Query().Get("warehouseId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": movements})
}

func (h *Handler) handleChannel(w http.ResponseWriter, r *http.Request) {
	var in ChannelInput
	in.Channel = Channel(chi.URLParam(r, "channel"))
	if !h.decode(w, r, &in) {
		return
	}
	in.Channel = Channel(chi.URLParam(r, "channel"))
	rec, err := h.service.ConfigureChannel(r.Context(), chi.URLParam(r, "sku"), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) handleSync(w http.ResponseWriter, r *http.Request) {
	if h.syncer == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Sync Unavailable", "channel sync is not configured")
		return
	}
	ch := Channel(chi.URLParam(r, "channel"))
	if !ch.Valid() {
		httpx.ValidationProblem(w, map[string]string{"channel": "unknown channel"})
		return
	}
	res, err := h.syncer.SyncNow(r.Context(), chi.URLParam(r, "sku"), ch)
	if err != nil {
		var syncErr *ChannelSyncError
		if errors.As(err, &syncErr) {
			httpx.JSON(w, http.StatusBadGateway, res)
			return
		}
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) handleAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.service.ActiveAlerts(r.Context(), chi.URLParam(r, "sku"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": alerts})
}

func (h *Handler) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	alert, err := h.service.Acknowledge(r.Context(), chi.URLParam(r, "sku"), chi.URLParam(r, "alertId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, alert)
}

func (h *Handler) handleReorderStatus(w http.ResponseWriter, r *http.Request) {
	var req reorderStatusRequest
	if !h.decode(w, r, &req) {
		return
	}
	order, err := h.service.TransitionReorder(r.Context(), chi.URLParam(r, "sku"), chi.URLParam(r, "reorderId"), req.Status)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) handleReceive(w http.ResponseWriter, r *http.Request) {
	var req receiveRequest
	if !h.decode(w, r, &req) {
		return
	}
	order, shortfall, err := h.service.ReceiveReorder(r.Context(), chi.URLParam(r, "sku"), chi.URLParam(r, "reorderId"), req.QuantityReceived)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, receiveResponse{Reorder: order, Shortfall: shortfall})
}

func (h *Handler) handleLowStock(w http.ResponseWriter, r *http.Request) {
	page, perPage := pageParams(r)
	out, err := h.service.ListLowStock(r.Context(), page, perPage)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleOutOfStock(w http.ResponseWriter, r *http.Request) {
	page, perPage := pageParams(r)
	out, err := h.service.ListOutOfStock(r.Context(), page, perPage)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handlePendingReorders(w http.ResponseWriter, r *http.Request) {
	page, perPage := pageParams(r)
	out, err := h.service.PendingReorders(r.Context(), page, perPage)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.Analytics(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

// decode reads and validates a JSON body, writing the problem response itself
// when the body is unusable.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Body", err.Error())
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fieldErr := range verrs {
				fields[fieldErr.Field()] = fieldErr.Error()
			}
			httpx.ValidationProblem(w, fields)
			return false
		}
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var stockErr *InsufficientStockError
	switch {
	case errors.As(err, &stockErr):
		h.logger.Info("movement rejected", slog.String("path", r.URL.Path), slog.String("reason", err.Error()))
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrLockTimeout):
		httpx.Problem(w, http.StatusServiceUnavailable, "Busy", "timed out waiting for the stock record")
		return
	default:
		h.logger.Warn("inventory request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func pageParams(r *http.Request) (int, int) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("perPage"))
	return page, perPage
}
