package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores Prometheus collectors for the routing and retry flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDuration   *prometheus.HistogramVec
	inboundWebhooksTotal  *prometheus.CounterVec
	messagesSentTotal     prometheus.Counter
	messagesFailedTotal   *prometheus.CounterVec
	retriesScheduledTotal prometheus.Counter
	sendDuration          prometheus.Histogram
	agentDuration         prometheus.Histogram
	sendsInFlight         prometheus.Gauge
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sms_router",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "sms_router",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		inboundWebhooksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sms_router",
				Name:      "inbound_webhooks_total",
				Help:      "Total number of inbound carrier webhooks by processing outcome.",
			},
			[]string{"outcome"},
		),
		messagesSentTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "sms_router",
				Name:      "messages_sent_total",
				Help:      "Total number of outbound messages accepted by the carrier.",
			},
		),
		messagesFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sms_router",
				Name:      "messages_failed_total",
				Help:      "Total number of outbound messages that ended in failed state.",
			},
			[]string{"reason"},
		),
		retriesScheduledTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "sms_router",
				Name:      "retries_scheduled_total",
				Help:      "Total number of messages scheduled for backoff retry.",
			},
		),
		sendDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "sms_router",
				Name:      "carrier_send_duration_seconds",
				Help:      "Carrier send duration in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
		agentDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "sms_router",
				Name:      "agent_reply_duration_seconds",
				Help:      "Agent reply duration in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
			},
		),
		sendsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "sms_router",
				Name:      "sends_in_flight",
				Help:      "Current number of in-flight carrier sends.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.inboundWebhooksTotal,
		m.messagesSentTotal,
		m.messagesFailedTotal,
		m.retriesScheduledTotal,
		m.sendDuration,
		m.agentDuration,
		m.sendsInFlight,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncInboundWebhook(outcome string) {
	if m == nil {
		return
	}
	label := strings.TrimSpace(strings.ToLower(outcome))
	if label == "" {
		label = "unknown"
	}
	m.inboundWebhooksTotal.WithLabelValues(label).Inc()
}

func (m *Metrics) IncMessageSent() {
	if m == nil {
		return
	}
	m.messagesSentTotal.Inc()
}

func (m *Metrics) IncMessageFailed(reason string) {
	if m == nil {
		return
	}
	label := strings.TrimSpace(strings.ToLower(reason))
	if label == "" {
		label = "unknown"
	}
	m.messagesFailedTotal.WithLabelValues(label).Inc()
}

func (m *Metrics) IncRetryScheduled() {
	if m == nil {
		return
	}
	m.retriesScheduledTotal.Inc()
}

func (m *Metrics) ObserveSendDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.sendDuration.Observe(nonNegativeSeconds(duration))
}

func (m *Metrics) ObserveAgentDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.agentDuration.Observe(nonNegativeSeconds(duration))
}

func (m *Metrics) IncSendsInFlight() {
	if m == nil {
		return
	}
	m.sendsInFlight.Inc()
}

func (m *Metrics) DecSendsInFlight() {
	if m == nil {
		return
	}
	m.sendsInFlight.Dec()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func nonNegativeSeconds(duration time.Duration) float64 {
	seconds := duration.Seconds()
	if seconds < 0 {
		return 0
	}
	return seconds
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}
