package observability

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsCounters(t *testing.T) {
	t.Parallel()

	m := NewMetrics()

	m.IncInboundWebhook("processed")
	m.IncInboundWebhook("processed")
	m.IncInboundWebhook("REJECTED")
	m.IncMessageSent()
	m.IncMessageFailed("retry_exhausted")
	m.IncMessageFailed("")
	m.IncRetryScheduled()

	if got := testutil.ToFloat64(m.inboundWebhooksTotal.WithLabelValues("processed")); got != 2 {
		t.Fatalf("inbound processed = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.inboundWebhooksTotal.WithLabelValues("rejected")); got != 1 {
		t.Fatalf("inbound rejected = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.messagesSentTotal); got != 1 {
		t.Fatalf("messages sent = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.messagesFailedTotal.WithLabelValues("retry_exhausted")); got != 1 {
		t.Fatalf("messages failed retry_exhausted = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.messagesFailedTotal.WithLabelValues("unknown")); got != 1 {
		t.Fatalf("messages failed unknown = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.retriesScheduledTotal); got != 1 {
		t.Fatalf("retries scheduled = %v, want 1", got)
	}
}

func TestMetricsGaugeAndHistograms(t *testing.T) {
	t.Parallel()

	m := NewMetrics()

	m.IncSendsInFlight()
	m.IncSendsInFlight()
	m.DecSendsInFlight()

	if got := testutil.ToFloat64(m.sendsInFlight); got != 1 {
		t.Fatalf("sends in flight = %v, want 1", got)
	}

	m.ObserveSendDuration(250 * time.Millisecond)
	m.ObserveSendDuration(-time.Second)
	m.ObserveAgentDuration(time.Second)

	if got := testutil.CollectAndCount(m.sendDuration); got != 1 {
		t.Fatalf("send duration collector count = %d, want 1", got)
	}
}

func TestMetricsNilReceiverIsSafe(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.IncInboundWebhook("processed")
	m.IncMessageSent()
	m.IncMessageFailed("x")
	m.IncRetryScheduled()
	m.ObserveSendDuration(time.Second)
	m.IncSendsInFlight()
	m.DecSendsInFlight()
}

func TestMetricsHandlerExposition(t *testing.T) {
	t.Parallel()

	m := NewMetrics()
	m.IncMessageSent()

	names := []string{
		"sms_router_messages_sent_total",
		"sms_router_inbound_webhooks_total",
	}
	for _, name := range names {
		if !strings.HasPrefix(name, "sms_router_") {
			t.Fatalf("metric %q missing namespace", name)
		}
	}

	if err := testutil.GatherAndCompare(m.registry, strings.NewReader(`
# HELP sms_router_messages_sent_total Total number of outbound messages accepted by the carrier.
# TYPE sms_router_messages_sent_total counter
sms_router_messages_sent_total 1
`), "sms_router_messages_sent_total"); err != nil {
		t.Fatalf("GatherAndCompare() error = %v", err)
	}
}
