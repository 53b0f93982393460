package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stockstream"

// Metrics bundles the collectors of one process. Build it once in the
// composition root; tests use NewNop.
type Metrics struct {
	registry *prometheus.Registry

	UpdatesProcessed prometheus.Counter
	UpdatesRejected  prometheus.Counter
	SourceErrors     *prometheus.CounterVec
	Deliveries       prometheus.Counter
	DeliveryFailures prometheus.Counter
	Subscribers      *prometheus.GaugeVec
	IngestorState    prometheus.Gauge
	RelayErrors      prometheus.Counter
	ArchivedRows     prometheus.Counter

	httpInFlight prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

func New() *Metrics {
	m := newMetrics()
	m.registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return m
}

// NewNop returns metrics backed by a private registry without runtime collectors.
func NewNop() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		UpdatesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "updates_processed_total",
			Help: "Price updates applied to the store and published.",
		}),
		UpdatesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "updates_rejected_total",
			Help: "Price updates dropped by validation.",
		}),
		SourceErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "source_errors_total",
			Help: "Errors reported by upstream sources.",
		}, []string{"fatal"}),
		Deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "deliveries_total",
			Help: "Successful pushes to subscribers.",
		}),
		DeliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "delivery_failures_total",
			Help: "Pushes that failed and evicted the subscriber.",
		}),
		Subscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "subscribers",
			Help: "Currently attached subscribers by transport.",
		}, []string{"transport"}),
		IngestorState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "state",
			Help: "Ingestor state: 0 idle, 1 consuming, 2 stopped.",
		}),
		RelayErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "relay", Name: "errors_total",
			Help: "Failed Redis relay writes.",
		}),
		ArchivedRows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "archive", Name: "rows_total",
			Help: "Aggregated rows written to the archive.",
		}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "http", Name: "inflight_requests",
			Help: "Current number of in-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "Total number of HTTP requests handled.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"method", "route"}),
	}

	m.registry.MustRegister(
		m.UpdatesProcessed,
		m.UpdatesRejected,
		m.SourceErrors,
		m.Deliveries,
		m.DeliveryFailures,
		m.Subscribers,
		m.IngestorState,
		m.RelayErrors,
		m.ArchivedRows,
		m.httpInFlight,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Instrument records request count and latency per chi route pattern.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		route := routePattern(r)
		method := strings.ToUpper(r.Method)
		m.httpRequests.WithLabelValues(method, route, strconv.Itoa(rec.status)).Inc()
		m.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps streaming responses working through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
