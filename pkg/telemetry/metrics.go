package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for Stratus.
type Metrics struct {
	config MetricsConfig

	// Order metrics
	ordersAdmitted  *prometheus.CounterVec
	ordersCompleted *prometheus.CounterVec
	orderDuration   *prometheus.HistogramVec

	// Callback metrics
	callbacksReceived *prometheus.CounterVec

	// Power-state metrics
	powerActions *prometheus.CounterVec

	// Provider metrics
	providerCalls    *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec
	providerErrors   *prometheus.CounterVec

	// Error metrics
	errorsByKind *prometheus.CounterVec

	// Config request metrics
	configRequests *prometheus.CounterVec

	// Long-poll metrics
	longPollDuration prometheus.Histogram

	// System metrics
	activeOrders prometheus.Gauge

	registry *prometheus.Registry
}

// Callback outcomes recorded by RecordCallback.
const (
	CallbackApplied   = "applied"
	CallbackDuplicate = "duplicate"
	CallbackRejected  = "rejected"
)

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	// Create a new registry
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		// Order metrics
		ordersAdmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "orders_admitted_total",
				Help:      "Total number of orders admitted to the ledger",
			},
			[]string{"type"},
		),
		ordersCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "orders_completed_total",
				Help:      "Total number of orders reaching a terminal status",
			},
			[]string{"type", "status"},
		),
		orderDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "order_duration_seconds",
				Help:      "Time from order admission to terminal status in seconds",
				Buckets:   buckets,
			},
			[]string{"type", "status"},
		),

		// Callback metrics
		callbacksReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "callbacks_received_total",
				Help:      "Total number of deployment result callbacks received",
			},
			[]string{"scenario", "outcome"},
		),

		// Power-state metrics
		powerActions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "power_actions_total",
				Help:      "Total number of runtime power-state actions",
			},
			[]string{"csp", "action", "status"},
		),

		// Provider metrics
		providerCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_calls_total",
				Help:      "Total number of provider plugin calls",
			},
			[]string{"provider", "operation"},
		),
		providerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_call_duration_seconds",
				Help:      "Duration of provider plugin calls in seconds",
				Buckets:   buckets,
			},
			[]string{"provider", "operation"},
		),
		providerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_errors_total",
				Help:      "Total number of provider plugin errors",
			},
			[]string{"provider", "operation"},
		),

		// Error metrics
		errorsByKind: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_kind_total",
				Help:      "Total number of errors by error kind",
			},
			[]string{"kind"},
		),

		// Config request metrics
		configRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_requests_total",
				Help:      "Total number of per-group configuration requests",
			},
			[]string{"status"},
		),

		// Long-poll metrics
		longPollDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "long_poll_duration_seconds",
				Help:      "Time long-poll status requests spend waiting in seconds",
				Buckets:   buckets,
			},
		),

		// System metrics
		activeOrders: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_orders",
				Help:      "Current number of orders not yet in a terminal status",
			},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.ordersAdmitted,
		m.ordersCompleted,
		m.orderDuration,
		m.callbacksReceived,
		m.powerActions,
		m.providerCalls,
		m.providerDuration,
		m.providerErrors,
		m.errorsByKind,
		m.configRequests,
		m.longPollDuration,
		m.activeOrders,
	)

	return m, nil
}

// Order Metrics

// RecordOrderAdmitted increments the counter for admitted orders.
func (m *Metrics) RecordOrderAdmitted(orderType string) {
	if m.ordersAdmitted == nil {
		return
	}
	m.ordersAdmitted.WithLabelValues(orderType).Inc()
	m.activeOrders.Inc()
}

// RecordOrderCompleted records an order reaching a terminal status.
func (m *Metrics) RecordOrderCompleted(orderType, status string, duration time.Duration) {
	if m.ordersCompleted == nil {
		return
	}
	m.ordersCompleted.WithLabelValues(orderType, status).Inc()
	m.orderDuration.WithLabelValues(orderType, status).Observe(duration.Seconds())
	m.activeOrders.Dec()
}

// Callback Metrics

// RecordCallback records a deployment result callback and its outcome.
func (m *Metrics) RecordCallback(scenario, outcome string) {
	if m.callbacksReceived == nil {
		return
	}
	m.callbacksReceived.WithLabelValues(scenario, outcome).Inc()
}

// Power-State Metrics

// RecordPowerAction records a completed power-state action.
func (m *Metrics) RecordPowerAction(csp, action, status string) {
	if m.powerActions == nil {
		return
	}
	m.powerActions.WithLabelValues(csp, action, status).Inc()
}

// Provider Metrics

// RecordProviderCall records a provider call with its duration.
func (m *Metrics) RecordProviderCall(provider, operation string, duration time.Duration) {
	if m.providerCalls == nil {
		return
	}
	m.providerCalls.WithLabelValues(provider, operation).Inc()
	m.providerDuration.WithLabelValues(provider, operation).Observe(duration.Seconds())
}

// RecordProviderError records a provider error.
func (m *Metrics) RecordProviderError(provider, operation string) {
	if m.providerErrors == nil {
		return
	}
	m.providerErrors.WithLabelValues(provider, operation).Inc()
}

// Error Metrics

// RecordErrorKind records an error by its classification kind.
func (m *Metrics) RecordErrorKind(kind string) {
	if m.errorsByKind == nil {
		return
	}
	m.errorsByKind.WithLabelValues(kind).Inc()
}

// Config Request Metrics

// RecordConfigRequest records a per-group configuration request outcome.
func (m *Metrics) RecordConfigRequest(status string) {
	if m.configRequests == nil {
		return
	}
	m.configRequests.WithLabelValues(status).Inc()
}

// Long-Poll Metrics

// ObserveLongPoll records how long a status long-poll waited.
func (m *Metrics) ObserveLongPoll(duration time.Duration) {
	if m.longPollDuration == nil {
		return
	}
	m.longPollDuration.Observe(duration.Seconds())
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration is a helper to time an operation and record it.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// Log error but don't fail the application
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
