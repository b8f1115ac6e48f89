package catalog

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 目录运行指标
type Metrics struct {
	registrations    prometheus.Counter
	hydrations       *prometheus.CounterVec
	hydrationSeconds prometheus.Histogram
}

// NewMetrics 创建并注册目录指标
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		registrations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "zkcircuits",
			Subsystem: "catalog",
			Name:      "registrations_total",
			Help:      "Number of circuit registrations accepted.",
		}),
		hydrations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zkcircuits",
			Subsystem: "catalog",
			Name:      "hydrations_total",
			Help:      "Number of circuit hydration attempts by result.",
		}, []string{"result"}),
		hydrationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "zkcircuits",
			Subsystem: "catalog",
			Name:      "hydration_duration_seconds",
			Help:      "Wall time spent in circuit trusted setup.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
	}
}

func (m *Metrics) observeHydration(result string, d time.Duration) {
	m.hydrations.WithLabelValues(result).Inc()
	m.hydrationSeconds.Observe(d.Seconds())
}
