package metrics

import (
    "sync"

    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/collectors"
)

var (
    // Registry is the dedicated Prometheus registry for the engine
    Registry = prometheus.NewRegistry()
    // HTTPRequests counts requests by method, path, and status
    HTTPRequests = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
        []string{"method", "path", "status"},
    )
    // HTTPDuration records request durations in seconds
    HTTPDuration = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
        []string{"method", "path", "status"},
    )

    // ShipmentsCreated counts shipment creations by provider and outcome
    ShipmentsCreated = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "shipments_created_total", Help: "Shipment creation attempts by provider and outcome."},
        []string{"provider", "outcome"},
    )
    // ProviderCallDuration tracks courier/payment provider call latencies
    ProviderCallDuration = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "provider_call_duration_seconds", Help: "External provider call duration in seconds.", Buckets: prometheus.DefBuckets},
        []string{"provider", "op"},
    )
    // WebhookEvents counts inbound webhook events by source and outcome
    WebhookEvents = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "webhook_events_total", Help: "Inbound webhook events by source and outcome."},
        []string{"source", "outcome"},
    )
    // Transitions counts reconciliation transitions by entity and result
    Transitions = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "reconcile_transitions_total", Help: "Reconciliation transitions by entity and result."},
        []string{"entity", "result"},
    )
    // WebhookDeliveries counts outbound delivery outcomes by event type and status
    WebhookDeliveries = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Outbound webhook deliveries by event type and status."},
        []string{"event_type", "status"},
    )
)

// RegisterDefault registers collectors to the engine registry.
func RegisterDefault() {
    regOnce.Do(func() {
        Registry.MustRegister(HTTPRequests)
        Registry.MustRegister(HTTPDuration)
        Registry.MustRegister(ShipmentsCreated)
        Registry.MustRegister(ProviderCallDuration)
        Registry.MustRegister(WebhookEvents)
        Registry.MustRegister(Transitions)
        Registry.MustRegister(WebhookDeliveries)
        // Go/process collectors on our registry
        Registry.MustRegister(collectors.NewGoCollector())
        Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
    })
}

var regOnce sync.Once
