package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Общие HTTP-метрики
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
)

// Доменные метрики портала.
var (
	transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_transitions_total",
			Help: "Request lifecycle transitions by kind, action and outcome.",
		},
		[]string{"kind", "action", "outcome"},
	)

	catalogLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_catalog_lookups_total",
			Help: "Reference name lookups by kind and result (hit, miss, fallback).",
		},
		[]string{"kind", "result"},
	)

	backendRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_backend_requests_total",
			Help: "Calls made to the remote catalog API.",
		},
		[]string{"op", "status"},
	)

	backendDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "portal_backend_request_duration_seconds",
			Help:    "Latency of remote catalog API calls.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	credentialIssuance = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_credential_issuance_total",
			Help: "Credential issuance attempts after membership acceptance.",
		},
		[]string{"result"},
	)

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "portal_ready",
		Help: "1 when the last readiness check passed.",
	})

	refreshRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_refresh_runs_total",
			Help: "Scheduled reference and request refreshes by job and result.",
		},
		[]string{"job", "result"},
	)

	storeRecords = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "portal_store_records",
			Help: "Requests currently held in the local store.",
		},
		[]string{"kind"},
	)
)

var initOnce sync.Once

// Init registers all collectors in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			transitionsTotal, catalogLookups, backendRequests, backendDuration,
			credentialIssuance, ready, refreshRuns, storeRecords,
		)
	})
}

// Хэндлер Prometheus.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveTransition counts a transition attempt.
func ObserveTransition(kind, action, outcome string) {
	transitionsTotal.WithLabelValues(kind, action, outcome).Inc()
}

// ObserveCatalogLookup counts a reference name lookup.
func ObserveCatalogLookup(kind, result string) {
	catalogLookups.WithLabelValues(kind, result).Inc()
}

// ObserveBackendCall records one remote API call. status is the HTTP code or "error".
func ObserveBackendCall(op, status string, d time.Duration) {
	backendRequests.WithLabelValues(op, status).Inc()
	backendDuration.WithLabelValues(op).Observe(d.Seconds())
}

// ObserveCredentialIssuance counts issuance results ("sent", "failed").
func ObserveCredentialIssuance(result string) {
	credentialIssuance.WithLabelValues(result).Inc()
}

// SetReady records the outcome of the latest readiness probe.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
		return
	}
	ready.Set(0)
}

// ObserveRefresh counts one scheduled refresh job.
func ObserveRefresh(job, result string) {
	refreshRuns.WithLabelValues(job, result).Inc()
}

// SetStoreSize publishes the size of a request collection.
func SetStoreSize(kind string, n int) {
	storeRecords.WithLabelValues(kind).Set(float64(n))
}

// Обёртка для измерения RPS/latency/в полёте.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// collections whose next path segment is an identifier
var idCollections = map[string]bool{
	"/v1/requests/creation":    true,
	"/v1/requests/access":      true,
	"/v1/memberships":          true,
	"/v1/reference/structures": true,
	"/v1/reference/secteurs":   true,
	"/v1/reference/services":   true,
}

// CanonicalPath collapses identifiers so metric label cardinality stays bounded.
func CanonicalPath(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" {
		return "/"
	}
	segs := strings.Split(strings.Trim(raw, "/"), "/")
	for i := 1; i < len(segs); i++ {
		prefix := "/" + strings.Join(segs[:i], "/")
		if !idCollections[prefix] {
			continue
		}
		if prefix == "/v1/reference/services" && segs[i] == "tree" {
			break
		}
		segs[i] = ":id"
		break
	}
	return "/" + strings.Join(segs, "/")
}

// statusWriter: локальная копия, чтобы знать код ответа.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE working behind the instrumentation wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
