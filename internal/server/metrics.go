package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "defectscan_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "defectscan_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Detection metrics
	detectionRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "defectscan_detection_requests_total",
			Help: "Total number of detection requests",
		},
		[]string{"source", "version", "status"}, // source: upload, websocket
	)

	detectionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "defectscan_detection_duration_seconds",
			Help:    "Tiled detection duration in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 25, 50, 100},
		},
		[]string{"version"},
	)

	defectsDetected = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "defectscan_defects_per_image",
			Help:    "Number of merged defects per image",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
		},
		[]string{"version"},
	)

	tilesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "defectscan_tiles_processed_total",
			Help: "Total number of tiles run through a model",
		},
		[]string{"version"},
	)

	// Rate limiting metrics
	rateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "defectscan_rate_limit_hits_total",
			Help: "Total number of rate limit hits",
		},
		[]string{"type"}, // type: minute, hour, requests, data
	)

	// File upload metrics
	uploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "defectscan_upload_size_bytes",
			Help:    "Size of uploaded files in bytes",
			Buckets: []float64{1024, 10 * 1024, 100 * 1024, 1024 * 1024, 10 * 1024 * 1024, 50 * 1024 * 1024, 100 * 1024 * 1024},
		},
	)

	// Auth metrics
	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "defectscan_auth_attempts_total",
			Help: "Total number of register and login attempts",
		},
		[]string{"action", "status"},
	)

	// WebSocket metrics
	websocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "defectscan_websocket_active_connections",
			Help: "Number of active WebSocket connections",
		},
	)

	websocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "defectscan_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"}, // direction: sent, received
	)
)

// observeDetection records the outcome of one detection run.
func observeDetection(source, version string, seconds float64, tiles, defects int, err error) {
	if err != nil {
		detectionRequestsTotal.WithLabelValues(source, version, "error").Inc()
		return
	}
	detectionRequestsTotal.WithLabelValues(source, version, "success").Inc()
	detectionDuration.WithLabelValues(version).Observe(seconds)
	defectsDetected.WithLabelValues(version).Observe(float64(defects))
	tilesProcessed.WithLabelValues(version).Add(float64(tiles))
}
