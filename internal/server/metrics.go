package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	requestDuration *prometheus.HistogramVec
	inFlight        prometheus.Gauge
	uploads         *prometheus.CounterVec
	uploadBytes     prometheus.Histogram
	generations     *prometheus.CounterVec
	generatedBytes  prometheus.Counter
}

// newMetrics registers the server's collectors on reg. Each server owns its
// registry so several can run in one process.
func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "buildfy_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "buildfy_http_requests_in_flight",
			Help: "Current number of HTTP requests being served",
		}),
		uploads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "buildfy_uploads_total",
			Help: "Screenshot uploads by result",
		}, []string{"result"}),
		uploadBytes: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "buildfy_upload_size_bytes",
			Help:    "Size of accepted screenshots in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
		}),
		generations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "buildfy_generations_total",
			Help: "Code generation streams by model and result",
		}, []string{"model", "result"}),
		generatedBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "buildfy_generated_bytes_total",
			Help: "Bytes of generated code streamed to clients",
		}),
	}
}

func (m *metrics) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.inFlight.Inc()
		defer m.inFlight.Dec()

		mw := &metricsWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(mw, r)

		// Route patterns keep label cardinality bounded.
		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if pattern := rc.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		m.requestDuration.WithLabelValues(r.Method, path, strconv.Itoa(mw.statusCode)).
			Observe(time.Since(start).Seconds())
	})
}

type metricsWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (mw *metricsWriter) WriteHeader(statusCode int) {
	if !mw.written {
		mw.statusCode = statusCode
		mw.written = true
	}
	mw.ResponseWriter.WriteHeader(statusCode)
}

func (mw *metricsWriter) Write(b []byte) (int, error) {
	if !mw.written {
		mw.WriteHeader(http.StatusOK)
	}
	return mw.ResponseWriter.Write(b)
}

func (mw *metricsWriter) Flush() {
	if f, ok := mw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the wrapped writer to http.ResponseController.
func (mw *metricsWriter) Unwrap() http.ResponseWriter {
	return mw.ResponseWriter
}
