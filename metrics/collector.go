package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Source is the engine state a Collector reads. *authcore.Engine
// satisfies it.
type Source interface {
	AuditDropped() uint64
}

// Collector reports polled engine state to Prometheus.
type Collector struct {
	auditDropped prometheus.CounterFunc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a collector over source. An empty namespace
// defaults to "authcore".
func NewCollector(namespace string, source Source) *Collector {
	if namespace == "" {
		namespace = "authcore"
	}
	return &Collector{
		auditDropped: prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_dropped_total",
			Help:      "Audit events dropped because the dispatcher buffer was full.",
		}, func() float64 {
			if source == nil {
				return 0
			}
			return float64(source.AuditDropped())
		}),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.auditDropped.Describe(ch)
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.auditDropped.Collect(ch)
}
