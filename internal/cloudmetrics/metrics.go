package cloudmetrics

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	enhancements    *prometheus.CounterVec
	creditsConsumed *prometheus.CounterVec
	creditsGranted  *prometheus.CounterVec
	payments        *prometheus.CounterVec
	workspacesTotal prometheus.Gauge
	memoryUsage     prometheus.Gauge
}

func newMetrics(registry *prometheus.Registry) *metrics {
	m := &metrics{
		enhancements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "listinglens",
			Subsystem: "cloud",
			Name:      "enhancements_total",
			Help:      "Enhancement jobs completed, reported for usage accounting.",
		}, []string{"organization_id", "tool"}),
		creditsConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "listinglens",
			Subsystem: "cloud",
			Name:      "credits_consumed_total",
			Help:      "Credits deducted by completed enhancements.",
		}, []string{"organization_id"}),
		creditsGranted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "listinglens",
			Subsystem: "cloud",
			Name:      "credits_granted_total",
			Help:      "Credits added via purchases, bonuses and refunds.",
		}, []string{"organization_id", "source"}),
		payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "listinglens",
			Subsystem: "cloud",
			Name:      "payments_total",
			Help:      "Payment events accepted by the webhook adapter.",
		}, []string{"organization_id", "provider"}),
		workspacesTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "listinglens",
			Subsystem: "cloud",
			Name:      "workspaces_total",
			Help:      "Workspaces registered on this installation.",
		}),
		memoryUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "listinglens",
			Subsystem: "cloud",
			Name:      "memory_usage_bytes",
			Help:      "Memory obtained from the OS by this process.",
		}),
	}

	if registry != nil {
		registry.MustRegister(
			m.enhancements,
			m.creditsConsumed,
			m.creditsGranted,
			m.payments,
			m.workspacesTotal,
			m.memoryUsage,
		)
	}
	return m
}
