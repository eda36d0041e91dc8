package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments the serving shell exports.
type Metrics struct {
	CycleID         prometheus.Gauge
	LastBatchOrders prometheus.Gauge
	IngestedSamples prometheus.Counter
	VaRPct          prometheus.Gauge
	StressIntensity prometheus.Gauge
	ActiveAlerts    prometheus.Gauge
}

// NewMetrics registers the instrument set on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CycleID: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "bastion", Name: "cycle_id",
			Help: "Identifier of the last completed trading cycle.",
		}),
		LastBatchOrders: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "bastion", Name: "last_batch_orders",
			Help: "Orders produced by the last executed cycle.",
		}),
		IngestedSamples: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "bastion", Name: "ingested_samples_total",
			Help: "Market and sentiment samples accepted.",
		}),
		VaRPct: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "bastion", Name: "var_pct",
			Help: "Latest portfolio VaR as a loss fraction.",
		}),
		StressIntensity: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "bastion", Name: "stress_intensity",
			Help: "Latest detected market stress intensity.",
		}),
		ActiveAlerts: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "bastion", Name: "active_alerts",
			Help: "Alerts raised by the last cycle.",
		}),
	}
}
