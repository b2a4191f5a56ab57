package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the bridge-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "motion_bridge",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "motion_bridge",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "motion_bridge",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	gatewayPolls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "motion_bridge",
			Subsystem: "gateway",
			Name:      "polls_total",
			Help:      "Total number of gateway update polls.",
		},
		[]string{"entry_id", "result"},
	)

	gatewayPollDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "motion_bridge",
			Subsystem: "gateway",
			Name:      "poll_duration_seconds",
			Help:      "Duration of gateway update polls.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
		[]string{"entry_id"},
	)

	multicastPushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "motion_bridge",
			Subsystem: "multicast",
			Name:      "pushes_total",
			Help:      "Total number of multicast push reports routed to a gateway.",
		},
		[]string{"entry_id"},
	)

	serviceCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "motion_bridge",
			Subsystem: "services",
			Name:      "calls_total",
			Help:      "Total number of service calls by outcome.",
		},
		[]string{"service", "result"},
	)

	dispatcherDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "motion_bridge",
			Subsystem: "dispatcher",
			Name:      "deliveries_total",
			Help:      "Total number of payloads dispatched per signal.",
		},
		[]string{"signal"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		gatewayPolls,
		gatewayPollDuration,
		multicastPushes,
		serviceCalls,
		dispatcherDeliveries,
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

// RecordGatewayPoll records one poll attempt for an entry.
func RecordGatewayPoll(entryID string, duration time.Duration, err error) {
	if entryID == "" {
		entryID = "unknown"
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	gatewayPolls.WithLabelValues(entryID, result).Inc()
	if duration > 0 {
		gatewayPollDuration.WithLabelValues(entryID).Observe(duration.Seconds())
	}
}

// RecordMulticastPush records one routed push report.
func RecordMulticastPush(entryID string) {
	if entryID == "" {
		entryID = "unknown"
	}
	multicastPushes.WithLabelValues(entryID).Inc()
}

// RecordServiceCall records a service call outcome.
func RecordServiceCall(service, result string) {
	serviceCalls.WithLabelValues(service, result).Inc()
}

// RecordDispatch records one dispatcher delivery.
func RecordDispatch(signal string) {
	dispatcherDeliveries.WithLabelValues(signal).Inc()
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

// Hijack keeps websocket upgrades working through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
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
	case "entries":
		if len(parts) == 1 {
			return "/entries"
		}
		if len(parts) == 2 {
			return "/entries/:entry"
		}
		return "/entries/:entry/" + parts[2]
	case "devices":
		if len(parts) == 1 {
			return "/devices"
		}
		return "/devices/:device"
	case "services":
		return "/services/:service"
	default:
		return "/" + parts[0]
	}
}
