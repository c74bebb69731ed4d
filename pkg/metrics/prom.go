package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics are owned by one job store. Register them with Collectors().
type Metrics struct {
	Pending   prometheus.Gauge
	Queued    prometheus.Counter
	Completed *prometheus.CounterVec
	Workers   prometheus.Gauge
	Persist   *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		Pending: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "gearbroker_pending_jobs", Help: "Jobs known to the broker and not yet complete"},
		),
		Queued: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "gearbroker_queued_jobs_total", Help: "Job submissions accepted"},
		),
		Completed: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "gearbroker_completed_jobs_total", Help: "Jobs finished, by result"},
			[]string{"result"},
		),
		Workers: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "gearbroker_workers", Help: "Connections registered as workers"},
		),
		Persist: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "gearbroker_persistence_errors_total", Help: "Failed persistence engine calls"},
			[]string{"op"},
		),
	}
}

func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.Pending, m.Queued, m.Completed, m.Workers, m.Persist}
}
