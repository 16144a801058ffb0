// Package metrics holds the Prometheus collectors for the service. They are
// registered on a package-local registry rather than the global default.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result label values.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

var (
	Registry = prometheus.NewRegistry()

	WebhookDeliveries = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_deliveries_total",
			Help: "Provider webhook deliveries, partitioned by classified tool and reported status.",
		},
		[]string{"tool", "status"},
	)
	WebhookOutputs = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_outputs_total",
			Help: "Output variations re-hosted from succeeded predictions, partitioned by result.",
		},
		[]string{"result"},
	)
	PollerCycles = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Name: "poller_cycles_total",
			Help: "Completed Hedra polling cycles.",
		},
	)
	PollerJobs = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "poller_jobs_total",
			Help: "Jobs checked by the Hedra poller, partitioned by result.",
		},
		[]string{"result"},
	)
	ProviderRequests = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_requests_total",
			Help: "Outbound provider API calls, partitioned by provider, operation and result.",
		},
		[]string{"provider", "op", "result"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// ObserveProviderRequest counts one provider call.
func ObserveProviderRequest(provider, op string, err error) {
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	ProviderRequests.WithLabelValues(provider, op, result).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
