package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors. It is passed to every component that records metrics;
// all Record methods are no-ops on a nil *Metrics so components can run without it.
type Metrics struct {
	// Ingestion
	transactionsObserved *prometheus.CounterVec
	transactionsDropped  *prometheus.CounterVec
	attacksDetected      *prometheus.CounterVec
	ingestMode           *prometheus.GaugeVec
	windowSize           prometheus.Gauge
	subscriberDrops      *prometheus.CounterVec

	// Chain data gateway
	gatewayCallsTotal   *prometheus.CounterVec
	gatewayCallDuration *prometheus.HistogramVec

	// Relay
	relayCallsTotal   *prometheus.CounterVec
	relayCallDuration *prometheus.HistogramVec

	// Opportunity feed
	feedMessagesTotal   *prometheus.CounterVec
	feedReconnects      prometheus.Counter
	opportunitiesTotal  prometheus.Counter
	feedConnectionState prometheus.Gauge

	// Notifications
	notificationsTotal *prometheus.CounterVec

	// HTTP
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		transactionsObserved: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mevguard_transactions_observed_total",
				Help: "Pending transactions passed to the detector, by ingestion source",
			},
			[]string{"source"},
		),
		transactionsDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mevguard_transactions_skipped_total",
				Help: "Pending transactions not analysed, by reason",
			},
			[]string{"reason"},
		),
		attacksDetected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mevguard_attacks_detected_total",
				Help: "Attack records created, by attack type",
			},
			[]string{"type"},
		),
		ingestMode: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mevguard_ingest_mode",
				Help: "1 for the currently active ingestion mode, 0 otherwise",
			},
			[]string{"mode"},
		),
		windowSize: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "mevguard_window_size",
				Help: "Number of transactions in the sliding detection window",
			},
		),
		subscriberDrops: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mevguard_subscriber_drops_total",
				Help: "Events dropped because a subscriber buffer was full",
			},
			[]string{"component"},
		),

		gatewayCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mevguard_gateway_calls_total",
				Help: "Chain data provider calls by method and status",
			},
			[]string{"method", "status"},
		),
		gatewayCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mevguard_gateway_call_duration_seconds",
				Help:    "Duration of chain data provider calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method"},
		),

		relayCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mevguard_relay_calls_total",
				Help: "Relay JSON-RPC calls by method and status",
			},
			[]string{"method", "status"},
		),
		relayCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mevguard_relay_call_duration_seconds",
				Help:    "Duration of relay JSON-RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method"},
		),

		feedMessagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mevguard_feed_messages_total",
				Help: "Bundle feed messages by parse status",
			},
			[]string{"status"},
		),
		feedReconnects: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mevguard_feed_reconnects_total",
				Help: "Bundle feed reconnect attempts",
			},
		),
		opportunitiesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mevguard_opportunities_total",
				Help: "Backrun opportunities derived from the bundle feed",
			},
		),
		feedConnectionState: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "mevguard_feed_connected",
				Help: "1 while the bundle feed connection is open",
			},
		),

		notificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mevguard_notifications_total",
				Help: "Notification dispatches by kind and status",
			},
			[]string{"kind", "status"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mevguard_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"handler", "method", "status_code"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mevguard_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status_code"},
		),
	}
}

// Ingestion metric helpers

func (m *Metrics) RecordTransactionObserved(source string) {
	if m == nil {
		return
	}
	m.transactionsObserved.WithLabelValues(source).Inc()
}

func (m *Metrics) RecordTransactionSkipped(reason string) {
	if m == nil {
		return
	}
	m.transactionsDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordAttack(attackType string) {
	if m == nil {
		return
	}
	m.attacksDetected.WithLabelValues(attackType).Inc()
}

// RecordIngestMode sets the gauge of active to 1 and every other known mode to 0.
func (m *Metrics) RecordIngestMode(active string, modes ...string) {
	if m == nil {
		return
	}
	for _, mode := range modes {
		m.ingestMode.WithLabelValues(mode).Set(0)
	}
	m.ingestMode.WithLabelValues(active).Set(1)
}

func (m *Metrics) RecordWindowSize(n int) {
	if m == nil {
		return
	}
	m.windowSize.Set(float64(n))
}

func (m *Metrics) RecordSubscriberDrop(component string) {
	if m == nil {
		return
	}
	m.subscriberDrops.WithLabelValues(component).Inc()
}

// Gateway metric helpers

func (m *Metrics) RecordGatewayCall(method string, err error, duration float64) {
	if m == nil {
		return
	}
	m.gatewayCallsTotal.WithLabelValues(method, statusFromErr(err)).Inc()
	m.gatewayCallDuration.WithLabelValues(method).Observe(duration)
}

// Relay metric helpers

func (m *Metrics) RecordRelayCall(method string, err error, duration float64) {
	if m == nil {
		return
	}
	m.relayCallsTotal.WithLabelValues(method, statusFromErr(err)).Inc()
	m.relayCallDuration.WithLabelValues(method).Observe(duration)
}

// Feed metric helpers

func (m *Metrics) RecordFeedMessage(status string) {
	if m == nil {
		return
	}
	m.feedMessagesTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordFeedReconnect() {
	if m == nil {
		return
	}
	m.feedReconnects.Inc()
}

func (m *Metrics) RecordOpportunity() {
	if m == nil {
		return
	}
	m.opportunitiesTotal.Inc()
}

func (m *Metrics) RecordFeedConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.feedConnectionState.Set(1)
	} else {
		m.feedConnectionState.Set(0)
	}
}

// RecordNotification records one notifier call, kind being "attack" or "opportunity".
func (m *Metrics) RecordNotification(kind string, err error) {
	if m == nil {
		return
	}
	m.notificationsTotal.WithLabelValues(kind, statusFromErr(err)).Inc()
}

// HTTP metric helpers

func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	if m == nil {
		return
	}
	code := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, code).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, code).Inc()
}

func statusFromErr(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func statusCodeToString(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}
