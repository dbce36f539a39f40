// Package metrics provides Prometheus metrics for the gallery server.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "steamshots_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "steamshots_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Gallery walk metrics
	listingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "steamshots_listing_duration_seconds",
			Help:    "Time to walk the userdata tree and build a listing",
			Buckets: prometheus.DefBuckets,
		},
	)

	listingImages = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "steamshots_listing_images",
			Help: "Number of images found by the most recent listing",
		},
	)

	walkErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "steamshots_walk_errors_total",
			Help: "Errors met while walking the userdata tree",
		},
		[]string{"kind"},
	)

	// Image serving metrics
	imageRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "steamshots_image_requests_total",
			Help: "Image requests by outcome",
		},
		[]string{"outcome"},
	)

	thumbnailsGeneratedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "steamshots_thumbnails_generated_total",
			Help: "Thumbnails rendered in memory because Steam's copy was missing",
		},
	)

	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "steamshots_auth_attempts_total",
			Help: "Total authentication attempts",
		},
		[]string{"result"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordListing records a completed listing.
func RecordListing(images int, duration time.Duration) {
	listingImages.Set(float64(images))
	listingDuration.Observe(duration.Seconds())
}

// RecordWalkError counts a degraded entry ("metadata", "readdir", "symlink").
func RecordWalkError(kind string) {
	walkErrorsTotal.WithLabelValues(kind).Inc()
}

// RecordImageRequest counts an image request outcome
// ("served", "invalid", "not_found", "error", "thumbnail").
func RecordImageRequest(outcome string) {
	imageRequestsTotal.WithLabelValues(outcome).Inc()
}

func RecordThumbnailGenerated() {
	thumbnailsGeneratedTotal.Inc()
}

// RecordAuthAttempt records an authentication attempt.
func RecordAuthAttempt(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	authAttemptsTotal.WithLabelValues(result).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware records request metrics. Paths are collapsed to their route so
// per-image URLs do not explode label cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		RecordHTTPRequest(r.Method, Route(r.URL.Path), rw.statusCode, time.Since(start))
	})
}

// Route maps a request path to a low-cardinality label.
func Route(p string) string {
	switch {
	case p == "/":
		return "/"
	case strings.HasPrefix(p, "/image/"):
		return "/image"
	case strings.HasPrefix(p, "/dav/") || p == "/dav":
		return "/dav"
	case p == "/api/images", p == "/healthz", p == "/metrics":
		return p
	default:
		return "other"
	}
}
