package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	inboundEventsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "inbound_events_total",
			Help:      "Total inbound provider webhooks received.",
		},
		[]string{"event"}, // "sms", "call", "voice_status", "sms_status"
	)

	outboundCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "outbound_total",
			Help:      "Total outbound forwards handed to the carrier.",
		},
		[]string{"kind"}, // "sms", "call", "sms_reply"
	)

	outOfResourceCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "out_of_resource_total",
			Help:      "Total inbound events rejected for exhausted quota.",
		},
		[]string{"resource"}, // "texts", "seconds"
	)

	globalBlockedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "global_blocked_total",
			Help:      "Total inbound events dropped because the relay number is disabled.",
		},
		[]string{"kind"}, // "calls", "texts"
	)

	contactBlockedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "contact_blocked_total",
			Help:      "Total inbound events dropped by a per-contact block.",
		},
		[]string{"kind"},
	)

	invalidSignatureCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "invalid_signature_total",
			Help:      "Total webhook requests with a missing or invalid signature.",
		},
	)

	limitExceededCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "limit_exceeded_total",
			Help:      "Total completed calls that drove remaining seconds negative.",
		},
	)
)

// IncInvalidSignature records a failed webhook authentication. Exposed for
// the HTTP adapter, which authenticates before the engine is involved.
func IncInvalidSignature() {
	invalidSignatureCounter.Inc()
}
