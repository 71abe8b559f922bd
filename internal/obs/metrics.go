package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	readyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "xrent_ready",
		Help: "Readiness of the service (1 ready, 0 not ready).",
	})

	rentalOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xrent_rental_operations_total",
			Help: "Rental state machine operations by outcome.",
		},
		[]string{"op", "result"},
	)
)

// Init registers metrics in the default registry.
func Init() {
	prometheus.MustRegister(httpInFlight, httpRequestsTotal, httpRequestDuration, readyGauge, rentalOpsTotal)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady flips the readiness gauge.
func SetReady(ready bool) {
	if ready {
		readyGauge.Set(1)
		return
	}
	readyGauge.Set(0)
}

// ObserveRentalOp counts one state machine operation outcome.
func ObserveRentalOp(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	rentalOpsTotal.WithLabelValues(op, result).Inc()
}

// Instrument wraps a handler with RPS/latency/in-flight measurements.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses resource identifiers so metric labels stay bounded.
func CanonicalPath(path string) string {
	if idx := strings.IndexByte(path, '?'); idx >= 0 {
		path = path[:idx]
	}
	if path == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	rewrite := func(prefix string, action string) (string, bool) {
		if len(parts) < 3 || parts[0] != "v1" || parts[1] != prefix {
			return "", false
		}
		out := "/v1/" + prefix + "/:id"
		if len(parts) == 3 {
			return out, true
		}
		if len(parts) == 4 && parts[3] == action {
			return out + "/" + action, true
		}
		return "", false
	}
	switch {
	case len(parts) >= 2 && parts[0] == "v1" && parts[1] == "accounts":
		if len(parts) == 3 {
			return "/v1/accounts/:id"
		}
		if len(parts) == 4 && parts[3] == "balance" {
			return "/v1/accounts/:id/balance"
		}
	case len(parts) >= 2 && parts[0] == "v1" && parts[1] == "listings":
		if out, ok := rewrite("listings", "rent"); ok {
			return out
		}
		if out, ok := rewrite("listings", "cancel"); ok {
			return out
		}
	case len(parts) >= 2 && parts[0] == "v1" && parts[1] == "rentals":
		if out, ok := rewrite("rentals", "return"); ok {
			return out
		}
		if out, ok := rewrite("rentals", "emergency-return"); ok {
			return out
		}
	case len(parts) >= 3 && parts[0] == "v1" && parts[1] == "users":
		if len(parts) == 4 && (parts[3] == "listings" || parts[3] == "rentals") {
			return "/v1/users/:id/" + parts[3]
		}
	}
	return path
}

// statusWriter records the response code for labelling.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
