package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "actorctl",
			Subsystem: "bridge",
			Name:      "requests_total",
			Help:      "Total HTTP bridge requests.",
		},
		[]string{"actor", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "actorctl",
			Subsystem: "bridge",
			Name:      "request_duration_seconds",
			Help:      "HTTP bridge request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"actor", "method", "path", "status"},
	)
	mailboxMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "actorctl",
			Subsystem: "mailbox",
			Name:      "messages_total",
			Help:      "Mailbox messages processed, by kind and outcome.",
		},
		[]string{"actor", "kind", "outcome"},
	)
	mailboxDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "actorctl",
			Subsystem: "mailbox",
			Name:      "message_duration_seconds",
			Help:      "Sandbox invocation duration per mailbox message.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"actor", "kind", "outcome"},
	)
	mailboxDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "actorctl",
			Subsystem: "mailbox",
			Name:      "depth",
			Help:      "Messages currently queued in the mailbox.",
		},
		[]string{"actor"},
	)
	chainEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "actorctl",
			Subsystem: "chain",
			Name:      "events_total",
			Help:      "Chain events emitted, by event type.",
		},
		[]string{"type"},
	)
	outboundDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "actorctl",
			Subsystem: "outbound",
			Name:      "deliveries_total",
			Help:      "Outbound send deliveries, by success.",
		},
		[]string{"success"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			mailboxMessages, mailboxDuration, mailboxDepth,
			chainEvents, outboundDeliveries,
		)
	})
}

func RecordHTTPRequest(actor, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(actor, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(actor, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordMessage(actor, kind string, err error, duration time.Duration) {
	RegisterMetrics()
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	mailboxMessages.WithLabelValues(actor, kind, outcome).Inc()
	mailboxDuration.WithLabelValues(actor, kind, outcome).Observe(duration.Seconds())
}

func SetMailboxDepth(actor string, depth int) {
	RegisterMetrics()
	mailboxDepth.WithLabelValues(actor).Set(float64(depth))
}

func RecordChainEvent(eventType string) {
	RegisterMetrics()
	chainEvents.WithLabelValues(eventType).Inc()
}

func RecordDelivery(success bool) {
	RegisterMetrics()
	outboundDeliveries.WithLabelValues(strconv.FormatBool(success)).Inc()
}
