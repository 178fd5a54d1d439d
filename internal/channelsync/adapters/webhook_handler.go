package adapters

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/stocksync/internal/inventory"
	"github.com/odyssey-erp/stocksync/internal/platform/httpx"
)

// WebhookHandler receives storefront events and exposes published allocations.
type WebhookHandler struct {
	logger    *slog.Logger
	adapters  map[inventory.Channel]*WebhookAdapter
	token     string
	validator *validator.Validate
}

// NewWebhookHandler constructs the handler. An empty token disables the bearer check.
func NewWebhookHandler(logger *slog.Logger, token string, adapters ...*WebhookAdapter) *WebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	byChannel := make(map[inventory.Channel]*WebhookAdapter, len(adapters))
	for _, a := range adapters {
		byChannel[a.Channel()] = a
	}
	return &WebhookHandler{logger: logger, adapters: byChannel, token: token, validator: validator.New()}
}

// MountRoutes registers webhook routes.
func (h *WebhookHandler) MountRoutes(r chi.Router) {
	r.Post("/{channel}/webhook", h.handleWebhook)
	r.Get("/{channel}/allocations/{sku}", h.handleAllocation)
}

type webhookEvent struct {
	Reference   string    `json:"reference" validate:"required,max=128"`
	Type        string    `json:"type" validate:"required,oneof=sale return"`
	Quantity    int64     `json:"quantity" validate:"gt=0"`
	WarehouseID string    `json:"warehouseId"`
	OccurredAt  time.Time `json:"occurredAt"`
}

type webhookRequest struct {
	SKU    string         `json:"sku" validate:"required"`
	Events []webhookEvent `json:"events" validate:"required,min=1,dive"`
}

func (h *WebhookHandler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	adapter, ok := h.adapter(w, r)
	if !ok {
		return
	}
	var req webhookRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fieldErr := range verrs {
				fields[fieldErr.Namespace()] = fieldErr.Error()
			}
			httpx.ValidationProblem(w, fields)
			return
		}
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	events := make([]inventory.SaleEvent, 0, len(req.Events))
	for _, e := range req.Events {
		events = append(events, inventory.SaleEvent{
			Reference:   e.Reference,
			Type:        inventory.MovementType(e.Type),
			Quantity:    e.Quantity,
			WarehouseID: e.WarehouseID,
			OccurredAt:  e.OccurredAt,
		})
	}
	if err := adapter.Ingest(r.Context(), req.SKU, events); err != nil {
		h.logger.Error("webhook ingest failed", slog.String("channel", string(adapter.Channel())), slog.String("sku", req.SKU), slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Unavailable", "events could not be buffered")
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]int{"accepted": len(events)})
}

func (h *WebhookHandler) handleAllocation(w http.ResponseWriter, r *http.Request) {
	adapter, ok := h.adapter(w, r)
	if !ok {
		return
	}
	sku := chi.URLParam(r, "sku")
	qty, found, err := adapter.Allocation(r.Context(), sku)
	if err != nil {
		h.logger.Error("read allocation failed", slog.String("sku", sku), slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Unavailable", "")
		return
	}
	if !found {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "no allocation published for "+sku)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"sku": sku, "channel": adapter.Channel(), "quantity": qty})
}

func (h *WebhookHandler) adapter(w http.ResponseWriter, r *http.Request) (*WebhookAdapter, bool) {
	if h.token != "" {
		got := r.Header.Get("Authorization")
		if subtle.ConstantTimeCompare([]byte(got), []byte("Bearer "+h.token)) != 1 {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
			return nil, false
		}
	}
	adapter, ok := h.adapters[inventory.Channel(chi.URLParam(r, "channel"))]
	if !ok {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "channel does not accept webhooks")
		return nil, false
	}
	return adapter, true
}
