package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lockshop/storefront/internal/cache"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "storefront",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "storefront",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "storefront",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	purchases = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "storefront",
			Subsystem: "purchase",
			Name:      "orders_total",
			Help:      "Total number of purchase attempts.",
		},
		[]string{"status"},
	)

	purchaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "storefront",
			Subsystem: "purchase",
			Name:      "order_duration_seconds",
			Help:      "Duration of purchase processing.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"status"},
	)

	balanceUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "storefront",
			Subsystem: "balance",
			Name:      "updates_total",
			Help:      "Total number of balance update attempts.",
		},
		[]string{"kind", "status"},
	)

	lockTimeouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "storefront",
			Subsystem: "locks",
			Name:      "timeouts_total",
			Help:      "Total number of per-key lock acquisitions that timed out.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		purchases,
		purchaseDuration,
		balanceUpdates,
		lockTimeouts,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordPurchase records the outcome of one purchase attempt.
func RecordPurchase(status string, duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	purchases.WithLabelValues(status).Inc()
	purchaseDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordBalanceUpdate records the outcome of one balance update attempt.
func RecordBalanceUpdate(kind, status string) {
	if kind == "" {
		kind = "unknown"
	}
	balanceUpdates.WithLabelValues(kind, status).Inc()
}

// RecordLockTimeout counts a lock acquisition that hit its deadline.
func RecordLockTimeout() {
	lockTimeouts.Inc()
}

// RegisterCacheStats exposes the cache's counters as gauges. Call once at
// startup.
func RegisterCacheStats(c *cache.Cache) {
	Registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "storefront", Subsystem: "cache", Name: "entries",
			Help: "Current number of cache entries.",
		}, func() float64 { return float64(c.Stats().Size) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "storefront", Subsystem: "cache", Name: "hits_total",
			Help: "Total cache hits.",
		}, func() float64 { return float64(c.Stats().Hits) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "storefront", Subsystem: "cache", Name: "misses_total",
			Help: "Total cache misses.",
		}, func() float64 { return float64(c.Stats().Misses) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "storefront", Subsystem: "cache", Name: "evictions_total",
			Help: "Total cache evictions, including expired entries.",
		}, func() float64 { return float64(c.Stats().Evictions) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "storefront", Subsystem: "cache", Name: "cleanups_total",
			Help: "Total high-water eviction passes.",
		}, func() float64 { return float64(c.Stats().Cleanups) }),
	)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "accounts":
		if len(parts) == 1 {
			return "/accounts"
		}
		if len(parts) == 2 {
			return "/accounts/:handle"
		}
		return "/accounts/:handle/" + parts[2]
	case "products":
		if len(parts) == 1 {
			return "/products"
		}
		if len(parts) == 2 {
			return "/products/:code"
		}
		return "/products/:code/" + parts[2]
	case "identities":
		return "/identities/:key"
	default:
		return "/" + parts[0]
	}
}
