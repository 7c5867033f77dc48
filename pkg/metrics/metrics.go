// Package metrics exposes slurmlet's prometheus instrumentation: gauges
// tracking current resource usage and queue depth, and counters for the
// scheduling events the daemon performs each tick.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	JobsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "slurmlet_jobs_total",
			Help: "Total number of jobs by status",
		},
		[]string{"status"},
	)

	CPUsUsed = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "slurmlet_cpus_used",
			Help: "Currently reserved CPUs",
		},
	)

	CPUsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "slurmlet_cpus_total",
			Help: "Total configured CPUs",
		},
	)

	MemUsedMB = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "slurmlet_mem_used_mb",
			Help: "Currently reserved memory in MB",
		},
	)

	MemTotalMB = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "slurmlet_mem_total_mb",
			Help: "Total configured memory in MB",
		},
	)

	UtilizationPercent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "slurmlet_utilization_percent",
			Help: "max(used_cpu/total, used_mem/total) * 100",
		},
	)

	JobsAdmittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "slurmlet_jobs_admitted_total",
			Help: "Total number of jobs admitted to RUNNING",
		},
	)

	JobsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slurmlet_jobs_completed_total",
			Help: "Total number of jobs reaped, by terminal status",
		},
		[]string{"status"},
	)

	ElasticScaleEventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "slurmlet_elastic_scale_events_total",
			Help: "Total number of elastic CPU scale deltas applied",
		},
	)

	SchedulingTickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "slurmlet_scheduling_tick_duration_seconds",
			Help:    "Time taken by one scheduler tick (reap + elastic + admit)",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		JobsTotal,
		CPUsUsed,
		CPUsTotal,
		MemUsedMB,
		MemTotalMB,
		UtilizationPercent,
		JobsAdmittedTotal,
		JobsCompletedTotal,
		ElasticScaleEventsTotal,
		SchedulingTickDuration,
	)
}

// Handler returns the HTTP handler promhttp serves /metrics from.
func Handler() http.Handler {
	return promhttp.Handler()
}
