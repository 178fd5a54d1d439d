package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics mengumpulkan metrik Prometheus untuk aplikasi: HTTP dan domain inventori.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	movements     *prometheus.CounterVec
	alerts        *prometheus.CounterVec
	reorders      *prometheus.CounterVec
	syncs         *prometheus.CounterVec
	auditMismatch *prometheus.CounterVec
}

// NewMetrics menginisialisasi registry dan metrik dasar.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stocksync_http_requests_total",
		Help: "Jumlah permintaan HTTP berdasarkan route dan status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stocksync_http_request_duration_seconds",
		Help:    "Durasi permintaan HTTP per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	movements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stocksync_inventory_movements_total",
		Help: "Pergerakan stok berdasarkan tipe dan hasil (applied atau alasan penolakan).",
	}, []string{"type", "outcome"})
	alerts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stocksync_inventory_alerts_total",
		Help: "Alert yang dinaikkan berdasarkan tipe dan severity.",
	}, []string{"type", "severity"})
	reorders := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stocksync_inventory_reorders_total",
		Help: "Reorder otomatis yang dibuat per gudang.",
	}, []string{"warehouse"})
	syncs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stocksync_channel_syncs_total",
		Help: "Hasil sinkronisasi kanal penjualan.",
	}, []string{"channel", "outcome"})
	mismatch := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stocksync_ledger_audit_mismatches_total",
		Help: "Selisih antara stok tersimpan dan replay log pergerakan.",
	}, []string{"warehouse"})
	registry.MustRegister(requests, duration, movements, alerts, reorders, syncs, mismatch)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		movements:       movements,
		alerts:          alerts,
		reorders:        reorders,
		syncs:           syncs,
		auditMismatch:   mismatch,
	}
}

// Handler mengembalikan http.Handler untuk endpoint /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware mencatat metrik untuk setiap permintaan HTTP.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer mengekspos registry untuk pendaftaran metrik khusus.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// ObserveMovement mencatat satu pergerakan stok.
func (m *Metrics) ObserveMovement(movementType, outcome string) {
	if m == nil {
		return
	}
	m.movements.WithLabelValues(movementType, outcome).Inc()
}

// ObserveAlert mencatat alert yang baru dinaikkan.
func (m *Metrics) ObserveAlert(alertType, severity string) {
	if m == nil {
		return
	}
	m.alerts.WithLabelValues(alertType, severity).Inc()
}

// ObserveReorder mencatat reorder otomatis.
func (m *Metrics) ObserveReorder(warehouseID string) {
	if m == nil {
		return
	}
	m.reorders.WithLabelValues(warehouseID).Inc()
}

// ObserveSync mencatat hasil sinkronisasi kanal.
func (m *Metrics) ObserveSync(channel, outcome string) {
	if m == nil {
		return
	}
	m.syncs.WithLabelValues(channel, outcome).Inc()
}

// ObserveAuditMismatch mencatat selisih audit per gudang. SKU hanya ada di log.
func (m *Metrics) ObserveAuditMismatch(_ string, warehouseID string) {
	if m == nil {
		return
	}
	m.auditMismatch.WithLabelValues(warehouseID).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
