// Package metrics holds the Prometheus collectors exported by pipekv.
//
// Collectors are registered on a private registry rather than the global
// default one so several servers (and tests) can coexist in one process.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	// Session metrics
	SessionsActive  prometheus.Gauge
	SessionsServing prometheus.Gauge
	ConnectsTotal   *prometheus.CounterVec
	Requests        *prometheus.CounterVec
	ProtocolFaults  *prometheus.CounterVec
	QueueDepth      prometheus.Gauge

	// Store metrics
	StoreOps *prometheus.CounterVec

	// Notification metrics
	Notifications *prometheus.CounterVec

	// Backup metrics
	BackupsOutstanding prometheus.Gauge
	Backups            *prometheus.CounterVec
	BackupDuration     prometheus.Histogram

	// Job metrics
	Jobs        *prometheus.CounterVec
	JobDuration prometheus.Histogram

	registry *prometheus.Registry
}

// New creates a metrics collector backed by its own registry. Go runtime and
// process collectors are included.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pipekv_sessions_active",
			Help: "Number of sessions held in the registry",
		}),
		SessionsServing: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pipekv_sessions_serving",
			Help: "Number of workers currently serving a session",
		}),
		ConnectsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipekv_connects_total",
				Help: "Connection attempts by outcome",
			},
			[]string{"result"},
		),
		Requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipekv_requests_total",
				Help: "Session requests by operation and status",
			},
			[]string{"op", "status"},
		),
		ProtocolFaults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipekv_protocol_faults_total",
				Help: "Malformed or unknown messages dropped",
			},
			[]string{"channel"},
		),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pipekv_connection_queue_depth",
			Help: "Pending sessions waiting for a worker",
		}),
		StoreOps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipekv_store_ops_total",
				Help: "Committed store mutations",
			},
			[]string{"op"},
		),
		Notifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipekv_notifications_total",
				Help: "Notification deliveries by result",
			},
			[]string{"result"},
		),
		BackupsOutstanding: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pipekv_backups_outstanding",
			Help: "Snapshots currently being written",
		}),
		Backups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipekv_backups_total",
				Help: "Snapshots by result",
			},
			[]string{"result"},
		),
		BackupDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pipekv_backup_duration_seconds",
			Help:    "Time spent writing a snapshot file",
			Buckets: prometheus.DefBuckets,
		}),
		Jobs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipekv_jobs_total",
				Help: "Batch job files processed by result",
			},
			[]string{"result"},
		),
		JobDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pipekv_job_duration_seconds",
			Help:    "Time spent executing a job file",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// KeyWritten counts a committed store write.
func (m *Metrics) KeyWritten(string, string) {
	m.StoreOps.WithLabelValues("write").Inc()
}

// KeyDeleted counts a committed store delete.
func (m *Metrics) KeyDeleted(string) {
	m.StoreOps.WithLabelValues("delete").Inc()
}
