package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "funding_layer",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "funding_layer",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "funding_layer",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	investments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "funding_layer",
			Subsystem: "projects",
			Name:      "investments_total",
			Help:      "Total number of investment operations.",
		},
		[]string{"outcome"},
	)

	payoutBatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "funding_layer",
			Subsystem: "projects",
			Name:      "payout_batches_total",
			Help:      "Total number of revenue payout batches processed.",
		},
		[]string{"outcome"},
	)

	offerSettlements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "funding_layer",
			Subsystem: "offers",
			Name:      "settlements_total",
			Help:      "Total number of sell offer settlement attempts.",
		},
		[]string{"outcome"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		investments,
		payoutBatches,
		offerSettlements,
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

// RecordInvestment counts an investment attempt by outcome.
func RecordInvestment(outcome string) {
	investments.WithLabelValues(outcome).Inc()
}

// RecordPayoutBatch counts one processed payout batch by outcome.
func RecordPayoutBatch(outcome string) {
	payoutBatches.WithLabelValues(outcome).Inc()
}

// RecordOfferSettlement counts a settlement attempt by outcome.
func RecordOfferSettlement(outcome string) {
	offerSettlements.WithLabelValues(outcome).Inc()
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

// canonicalPath collapses entity addresses so metric cardinality stays
// bounded.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "registry", "ledger":
		if len(parts) <= 2 {
			return "/" + strings.Join(parts, "/")
		}
		return "/" + parts[0] + "/" + parts[1] + "/:address"
	case "organizations", "projects", "offers":
		if len(parts) == 1 {
			return "/" + parts[0]
		}
		if len(parts) == 2 {
			return "/" + parts[0] + "/:address"
		}
		return "/" + parts[0] + "/:address/" + parts[2]
	default:
		return "/" + parts[0]
	}
}
