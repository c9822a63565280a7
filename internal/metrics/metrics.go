package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gymkaana"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	lookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entry_lookups_total",
			Help:      "Entry token lookups by result.",
		},
		[]string{"result"},
	)

	decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entry_decisions_total",
			Help:      "Entry decisions by decision and result.",
		},
		[]string{"decision", "result"},
	)

	scannerSessions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scanner_sessions_total",
			Help:      "Camera capture sessions by how they ended.",
		},
		[]string{"outcome"},
	)

	scannerActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scanner_active",
			Help:      "1 while a camera capture session is open.",
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, lookups, decisions, scannerSessions, scannerActive)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

// IncLookup counts a lookup with result ok, not_found, expired, throttled or error.
func IncLookup(result string) {
	lookups.WithLabelValues(result).Inc()
}

// IncDecision counts a confirm call.
func IncDecision(decision, result string) {
	decisions.WithLabelValues(decision, result).Inc()
}

// ScannerOpened marks a capture session as open.
func ScannerOpened() {
	scannerActive.Set(1)
}

// ScannerClosed marks the capture session closed with outcome decoded, stopped or failed.
func ScannerClosed(outcome string) {
	scannerActive.Set(0)
	scannerSessions.WithLabelValues(outcome).Inc()
}
