package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Collectors exposes sweep metrics for a Prometheus registry.
func (j *SweepJob) Collectors() []prometheus.Collector {
	counter := func(name, help string, value func(SweepMetrics) int64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "clockwatch",
			Subsystem: "sweep",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(value(j.GetMetrics())) })
	}

	return []prometheus.Collector{
		counter("runs_total", "Liveness sweeps executed.", func(m SweepMetrics) int64 { return m.TotalSweeps }),
		counter("failures_total", "Liveness sweeps that reported errors.", func(m SweepMetrics) int64 { return m.FailedSweeps }),
		counter("reconciliations_total", "Provider reconciliations run before a sweep.", func(m SweepMetrics) int64 { return m.Reconciliations }),
		counter("advanced_total", "Devices whose last-seen timestamp moved forward.", func(m SweepMetrics) int64 { return m.Advanced }),
		counter("provider_errors_total", "Provider lookups that failed during sweeps.", func(m SweepMetrics) int64 { return m.ProviderErrors }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "clockwatch",
			Subsystem: "sweep",
			Name:      "last_duration_seconds",
			Help:      "Duration of the most recent sweep.",
		}, func() float64 { return j.GetMetrics().LastSweepDuration.Seconds() }),
	}
}

// NewMetricsRegistry returns a registry carrying Go runtime and sweep metrics.
func NewMetricsRegistry(job *SweepJob) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if job != nil {
		reg.MustRegister(job.Collectors()...)
	}
	return reg
}
