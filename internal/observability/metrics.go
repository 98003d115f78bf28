package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	APIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "campaign_api_requests_total", Help: "API requests"},
		[]string{"endpoint", "status"},
	)
	Executions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "campaign_executions_total", Help: "Campaign execution results"},
		[]string{"result"},
	)
	SendsScheduled = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "campaign_sends_scheduled_total", Help: "Send rows materialized by execution"},
	)
	Dispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "campaign_dispatch_total", Help: "Dispatcher send outcomes"},
		[]string{"channel", "result"},
	)
	ProviderSend = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "campaign_provider_send_total", Help: "Provider send outcomes"},
		[]string{"provider", "result", "http_status"},
	)
	ProviderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "campaign_provider_send_latency_seconds", Help: "Provider send latency"},
		[]string{"provider"},
	)
	WebhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "campaign_webhook_events_total", Help: "Provider delivery events"},
		[]string{"provider", "event"},
	)
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(APIRequests, Executions, SendsScheduled, Dispatches, ProviderSend, ProviderLatency, WebhookEvents)
}
