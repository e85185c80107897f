// Package system provides system-level services for monitoring and maintenance.
package system

import (
	"context"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"norelock.dev/syncroom/backend/internal/utils"
)

// collectInterval is how often the collector samples process and engine
// gauges.
const collectInterval = 15 * time.Second

// ConnectionStats reports live WebSocket connections.
type ConnectionStats interface {
	ClientCount() int
}

// StreamStats reports rooms with live stream subscriptions.
type StreamStats interface {
	RoomCount() int
}

// MetricsService owns the HTTP metrics and the sampled process and engine
// gauges. Stream and command counters are registered by the packages that
// increment them; everything is served from the same registry.
type MetricsService struct {
	logger *utils.Logger

	// HTTP metrics
	httpRequestsTotal      *prometheus.CounterVec
	httpRequestDuration    *prometheus.HistogramVec
	httpRequestsInProgress prometheus.Gauge

	// Sampled gauges
	wsConnectionsActive prometheus.Gauge
	roomsStreaming      prometheus.Gauge
	systemMemoryUsage   prometheus.Gauge
	systemGoroutines    prometheus.Gauge
}

// NewMetricsService creates a new metrics service.
func NewMetricsService(logger *utils.Logger) *MetricsService {
	m := &MetricsService{
		logger: logger.Named("metrics_service"),
	}

	m.initHTTPMetrics()
	m.initGauges()

	return m
}

// Handler returns an HTTP handler for exposing metrics.
func (m *MetricsService) Handler() http.Handler {
	return promhttp.Handler()
}

// initHTTPMetrics initializes HTTP-related metrics.
func (m *MetricsService) initHTTPMetrics() {
	m.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncroom_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	m.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "syncroom_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	m.httpRequestsInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "syncroom_http_requests_in_progress",
			Help: "Number of HTTP requests currently in progress",
		},
	)
}

// initGauges initializes the sampled process and engine gauges.
func (m *MetricsService) initGauges() {
	m.wsConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "syncroom_ws_connections_active",
			Help: "Number of active WebSocket connections",
		},
	)

	m.roomsStreaming = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "syncroom_rooms_streaming",
			Help: "Number of rooms with live stream subscriptions",
		},
	)

	m.systemMemoryUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "syncroom_system_memory_usage_bytes",
			Help: "Memory usage in bytes",
		},
	)

	m.systemGoroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "syncroom_system_goroutines",
			Help: "Number of goroutines",
		},
	)
}

// StartCollector samples process and engine gauges until the context is
// cancelled.
func (m *MetricsService) StartCollector(ctx context.Context, connections ConnectionStats, streams StreamStats) {
	m.logger.Info("Starting metrics collector")

	go func() {
		ticker := time.NewTicker(collectInterval)
		defer ticker.Stop()

		for {
			m.collect(connections, streams)
			select {
			case <-ctx.Done():
				m.logger.Info("Stopping metrics collector")
				return
			case <-ticker.C:
			}
		}
	}()
}

func (m *MetricsService) collect(connections ConnectionStats, streams StreamStats) {
	if connections != nil {
		m.wsConnectionsActive.Set(float64(connections.ClientCount()))
	}
	if streams != nil {
		m.roomsStreaming.Set(float64(streams.RoomCount()))
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	m.systemMemoryUsage.Set(float64(memStats.Alloc))
	m.systemGoroutines.Set(float64(runtime.NumGoroutine()))
}

// ObserveHTTPRequest records metrics for a completed HTTP request.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// IncHTTPRequestsInProgress increments the in-flight request gauge.
func (m *MetricsService) IncHTTPRequestsInProgress() {
	m.httpRequestsInProgress.Inc()
}

// DecHTTPRequestsInProgress decrements the in-flight request gauge.
func (m *MetricsService) DecHTTPRequestsInProgress() {
	m.httpRequestsInProgress.Dec()
}
