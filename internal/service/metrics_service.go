package service

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the API.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	paymentsInitiated prometheus.Counter
	paymentsCompleted prometheus.Counter
	paymentsFailed    prometheus.Counter
	callbacksIgnored  prometheus.Counter

	conflictChecks    prometheus.Counter
	conflictsDetected *prometheus.CounterVec
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	paymentsInitiated := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "payments_initiated_total",
		Help: "STK push payment initiations",
	})
	paymentsCompleted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "payments_completed_total",
		Help: "Payments reaching the COMPLETED state",
	})
	paymentsFailed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "payments_failed_total",
		Help: "Payments reaching the FAILED state",
	})
	callbacksIgnored := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "payment_callbacks_ignored_total",
		Help: "Provider callbacks acknowledged without side effects",
	})

	conflictChecks := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "timetable_conflict_checks_total",
		Help: "Conflict checks performed against candidate slots",
	})
	conflictsDetected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "timetable_conflicts_detected_total",
		Help: "Conflicts detected per dimension",
	}, []string{"dimension"})

	registry.MustRegister(requestDuration, requestTotal,
		paymentsInitiated, paymentsCompleted, paymentsFailed, callbacksIgnored,
		conflictChecks, conflictsDetected)

	return &MetricsService{
		registry:          registry,
		handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:   requestDuration,
		requestTotal:      requestTotal,
		paymentsInitiated: paymentsInitiated,
		paymentsCompleted: paymentsCompleted,
		paymentsFailed:    paymentsFailed,
		callbacksIgnored:  callbacksIgnored,
		conflictChecks:    conflictChecks,
		conflictsDetected: conflictsDetected,
	}
}

// Handler exposes the Prometheus scrape endpoint.
func (s *MetricsService) Handler() http.Handler {
	return s.handler
}

// ObserveHTTPRequest records a completed HTTP request.
func (s *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	labels := []string{method, path, strconv.Itoa(status)}
	s.requestDuration.WithLabelValues(labels...).Observe(duration.Seconds())
	s.requestTotal.WithLabelValues(labels...).Inc()
}

// PaymentInitiated counts a new STK push.
func (s *MetricsService) PaymentInitiated() { s.paymentsInitiated.Inc() }

// PaymentCompleted counts a terminal success transition.
func (s *MetricsService) PaymentCompleted() { s.paymentsCompleted.Inc() }

// PaymentFailed counts a terminal failure transition.
func (s *MetricsService) PaymentFailed() { s.paymentsFailed.Inc() }

// CallbackIgnored counts a duplicate or unknown provider callback.
func (s *MetricsService) CallbackIgnored() { s.callbacksIgnored.Inc() }

// ConflictCheck counts a conflict scan over a candidate slot.
func (s *MetricsService) ConflictCheck() { s.conflictChecks.Inc() }

// ConflictDetected counts a detected conflict by dimension.
func (s *MetricsService) ConflictDetected(dimension string) {
	s.conflictsDetected.WithLabelValues(dimension).Inc()
}
