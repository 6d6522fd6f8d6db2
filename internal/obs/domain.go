package obs

import "github.com/prometheus/client_golang/prometheus"

// Verification-flow metrics. Registered together with the HTTP metrics in
// Init.
var (
	checksCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verification_checks_created_total",
			Help: "Checks requested from the provider, by kind.",
		},
		[]string{"kind"},
	)

	checksProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verification_checks_processed_total",
			Help: "Checks that reached their terminal state, by kind and trigger.",
		},
		[]string{"kind", "trigger"},
	)

	providerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verification_provider_requests_total",
			Help: "Outbound provider calls, by operation and result.",
		},
		[]string{"op", "result"},
	)

	webhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verification_webhook_events_total",
			Help: "Provider webhook deliveries, by handling result.",
		},
		[]string{"result"},
	)

	streamSubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "verification_stream_subscribers",
		Help: "Currently connected live-update subscribers.",
	})
)

func registerDomainMetrics() {
	prometheus.MustRegister(checksCreated, checksProcessed, providerRequests, webhookEvents, streamSubscribers)
}

// CheckCreated counts one check requested from the provider.
func CheckCreated(kind string) { checksCreated.WithLabelValues(kind).Inc() }

// CheckProcessed counts one terminal transition. Trigger is "poll" or "webhook".
func CheckProcessed(kind, trigger string) {
	checksProcessed.WithLabelValues(kind, trigger).Inc()
}

// ProviderRequest counts one outbound provider call. Result is "ok" or "error".
func ProviderRequest(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	providerRequests.WithLabelValues(op, result).Inc()
}

// WebhookEvent counts one delivery by handling result ("reconciled",
// "duplicate", "dropped", "ignored" or "rejected").
func WebhookEvent(result string) { webhookEvents.WithLabelValues(result).Inc() }

// StreamSubscriberAdd tracks subscriber connect/disconnect.
func StreamSubscriberAdd(delta float64) { streamSubscribers.Add(delta) }
