package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/stocksync/internal/inventory"
	jobmetrics "github.com/odyssey-erp/stocksync/internal/jobs"
)

var _ inventory.MetricsPort = (*Metrics)(nil)

func scrape(t *testing.T, metrics *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	return rr.Body.String()
}

func TestMetricsHandlerExposesJobMetrics(t *testing.T) {
	metrics := NewMetrics()
	jobs := jobmetrics.NewMetrics(metrics.Registerer())
	_ = jobs.Track("inventory:sync_tick").End(nil)

	body := scrape(t, metrics)
	if !strings.Contains(body, "stocksync_jobs_total") {
		t.Fatalf("expected body to contain stocksync_jobs_total, got: %s", body)
	}
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx)
	req = req.WithContext(ctx)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected status %d, got %d", http.StatusTeapot, rr.Code)
	}

	metricsBody := scrape(t, metrics)
	if !strings.Contains(metricsBody, "http_requests_total{code=\"418\",route=\"/test\"} 1") {
		t.Fatalf("expected metrics to record request, got: %s", metricsBody)
	}
	if !strings.Contains(metricsBody, "http_request_duration_seconds_bucket{route=\"/test\"") {
		t.Fatalf("expected duration histogram to be present, got: %s", metricsBody)
	}
}

func TestInventoryMetrics(t *testing.T) {
	metrics := NewMetrics()
	metrics.ObserveMovement("sale", "applied")
	metrics.ObserveMovement("sale", "insufficient_stock")
	metrics.ObserveAlert("low-stock", "warning")
	metrics.ObserveReorder("W1")
	metrics.ObserveSync("amazon", "failed")
	metrics.ObserveAuditMismatch("WH-001", "W1")

	body := scrape(t, metrics)
	for _, want := range []string{
		`stocksync_inventory_movements_total{outcome="insufficient_stock",type="sale"} 1`,
		`stocksync_inventory_alerts_total{severity="warning",type="low-stock"} 1`,
		`stocksync_inventory_reorders_total{warehouse="W1"} 1`,
		`stocksync_channel_syncs_total{channel="amazon",outcome="failed"} 1`,
		`stocksync_ledger_audit_mismatches_total{warehouse="W1"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %s in: %s", want, body)
		}
	}

	var nilMetrics *Metrics
	nilMetrics.ObserveMovement("sale", "applied")
}
