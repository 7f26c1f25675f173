// Package metrics exposes Prometheus collectors for the harvester.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels shared by the counters.
const (
	OutcomeOK     = "ok"
	OutcomeEmpty  = "empty"
	OutcomeError  = "error"
	OutcomeFailed = "failed"
)

var (
	apiPagesTotal              *prometheus.CounterVec
	sectionsTotal              *prometheus.CounterVec
	assetsTotal                *prometheus.CounterVec
	assetBytesTotal            *prometheus.CounterVec
	productsTotal              *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		apiPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_api_pages_total",
				Help: "Product listing API pages requested, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		sectionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_sections_total",
				Help: "Detail page sections extracted, labeled by section and status.",
			},
			[]string{"section", "status"},
		)

		assetsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_assets_total",
				Help: "Asset downloads, labeled by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		)

		assetBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_asset_bytes_total",
				Help: "Bytes of asset content stored, labeled by kind.",
			},
			[]string{"kind"},
		)

		productsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_products_total",
				Help: "Canonical records emitted, labeled by schema validation result.",
			},
			[]string{"validated"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_http_requests_total",
				Help: "Requests served by the metrics listener, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_http_request_duration_seconds",
				Help:    "Latency of requests served by the metrics listener.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveAPIPage counts one listing API page.
func ObserveAPIPage(outcome string) {
	Init()
	apiPagesTotal.WithLabelValues(outcome).Inc()
}

// ObserveSection counts one section extraction.
func ObserveSection(section, status string) {
	Init()
	sectionsTotal.WithLabelValues(section, status).Inc()
}

// ObserveAsset counts one asset download and the bytes stored for it.
func ObserveAsset(kind, outcome string, size int) {
	Init()
	assetsTotal.WithLabelValues(kind, outcome).Inc()
	if size > 0 {
		assetBytesTotal.WithLabelValues(kind).Add(float64(size))
	}
}

// ObserveProduct counts one emitted canonical record.
func ObserveProduct(validated bool) {
	Init()
	productsTotal.WithLabelValues(strconv.FormatBool(validated)).Inc()
}

// ObserveHTTPRequest records one request served by the metrics listener.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
