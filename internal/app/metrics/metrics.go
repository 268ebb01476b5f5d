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
			Namespace: "progress_engine",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "progress_engine",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "progress_engine",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	actionsRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "progress_engine",
			Subsystem: "engine",
			Name:      "actions_total",
			Help:      "Total number of actions recorded, by source and result.",
		},
		[]string{"source", "result"},
	)

	duplicateEvents = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "progress_engine",
			Subsystem: "ledger",
			Name:      "duplicate_events_total",
			Help:      "Total number of appends deduplicated into no-ops.",
		},
	)

	levelUps = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "progress_engine",
			Subsystem: "levels",
			Name:      "level_ups_total",
			Help:      "Total number of level-up transitions credited.",
		},
	)

	questTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "progress_engine",
			Subsystem: "quests",
			Name:      "transitions_total",
			Help:      "Total number of quest instance state transitions.",
		},
		[]string{"to"},
	)

	reconcileDivergences = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "progress_engine",
			Subsystem: "reconcile",
			Name:      "divergences_total",
			Help:      "Total number of aggregate divergences found during recomputation.",
		},
		[]string{"aggregate"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		actionsRecorded,
		duplicateEvents,
		levelUps,
		questTransitions,
		reconcileDivergences,
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

// RecordAction counts one recordAction dispatch.
func RecordAction(source, result string) {
	if source == "" {
		source = "unknown"
	}
	actionsRecorded.WithLabelValues(source, result).Inc()
}

// RecordDuplicateEvent counts a deduplicated append.
func RecordDuplicateEvent() {
	duplicateEvents.Inc()
}

// RecordLevelUp counts one credited level transition.
func RecordLevelUp() {
	levelUps.Inc()
}

// RecordQuestTransition counts a quest state transition.
func RecordQuestTransition(to string) {
	questTransitions.WithLabelValues(to).Inc()
}

// RecordDivergence counts a reconciliation divergence per aggregate kind.
func RecordDivergence(aggregate string) {
	reconcileDivergences.WithLabelValues(aggregate).Inc()
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

// canonicalPath collapses per-user path segments so label cardinality stays
// bounded.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] != "users" {
		return "/" + parts[0]
	}
	if len(parts) == 1 {
		return "/users"
	}
	if len(parts) == 2 {
		return "/users/:user"
	}
	return "/users/:user/" + parts[2]
}
