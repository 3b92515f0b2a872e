package storage

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the engine's Prometheus collectors. Each DB owns its
// own set so multiple DBs (e.g. one per backend in a migration
// rehearsal) don't collide on registration.
type Metrics struct {
	Writes         *prometheus.CounterVec
	Reads          *prometheus.CounterVec
	QuotaRejected  prometheus.Counter
	Conflicts      prometheus.Counter
	BatchCommits   prometheus.Counter
	SessionLatency *prometheus.HistogramVec
}

// NewMetrics constructs an unregistered Metrics set; call Register to
// attach it to a prometheus.Registerer.
func NewMetrics() *Metrics {
	return &Metrics{
		Writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "syncstorage",
			Subsystem: "engine",
			Name:      "writes_total",
			Help:      "BSO writes performed, by operation.",
		}, []string{"op"}),
		Reads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "syncstorage",
			Subsystem: "engine",
			Name:      "reads_total",
			Help:      "BSO reads performed, by operation.",
		}, []string{"op"}),
		QuotaRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "syncstorage",
			Subsystem: "engine",
			Name:      "quota_rejected_total",
			Help:      "Writes rejected for exceeding the enforced quota.",
		}),
		Conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "syncstorage",
			Subsystem: "engine",
			Name:      "conflicts_total",
			Help:      "Writes rejected for violating timestamp monotonicity.",
		}),
		BatchCommits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "syncstorage",
			Subsystem: "engine",
			Name:      "batch_commits_total",
			Help:      "Batch commits completed.",
		}),
		SessionLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "syncstorage",
			Subsystem: "engine",
			Name:      "session_duration_seconds",
			Help:      "Time from Session.Begin to Commit/Rollback.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
	}
}

// Register attaches every collector in m to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.Writes, m.Reads, m.QuotaRejected, m.Conflicts, m.BatchCommits, m.SessionLatency,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
