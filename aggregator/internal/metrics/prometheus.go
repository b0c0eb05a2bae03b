package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/williamhogman/aggregate-lb/aggregator/internal/aggregate"
)

const defaultNamespace = "aggregator"

// Collector implements aggregate.Stats backed by Prometheus.
type Collector struct {
	refreshes   *prometheus.CounterVec
	priorities  *prometheus.GaugeVec
	version     *prometheus.GaugeVec
	hostsChosen *prometheus.CounterVec
	noHost      *prometheus.CounterVec
}

var _ aggregate.Stats = (*Collector)(nil)

// NewCollector creates the collector and registers its metrics with reg.
// An empty namespace defaults to "aggregator".
func NewCollector(reg prometheus.Registerer, namespace string) (*Collector, error) {
	if namespace == "" {
		namespace = defaultNamespace
	}

	c := &Collector{
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregate",
			Name:      "refreshes_total",
			Help:      "Total priority contexts published by the aggregate cluster.",
		}, []string{"aggregate"}),
		priorities: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "aggregate",
			Name:      "priorities",
			Help:      "Number of linearized priorities in the latest context.",
		}, []string{"aggregate"}),
		version: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "aggregate",
			Name:      "context_version",
			Help:      "Version of the latest published priority context.",
		}, []string{"aggregate"}),
		hostsChosen: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregate",
			Name:      "hosts_chosen_total",
			Help:      "Total hosts chosen, by the member cluster that provided them.",
		}, []string{"aggregate", "member"}),
		noHost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregate",
			Name:      "no_host_total",
			Help:      "Total selections that returned no host.",
		}, []string{"aggregate"}),
	}

	for _, col := range []prometheus.Collector{c.refreshes, c.priorities, c.version, c.hostsChosen, c.noHost} {
		if err := reg.Register(col); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}
	return c, nil
}

func (c *Collector) ContextPublished(aggregate string, version uint64, priorities int) {
	c.refreshes.WithLabelValues(aggregate).Inc()
	c.priorities.WithLabelValues(aggregate).Set(float64(priorities))
	c.version.WithLabelValues(aggregate).Set(float64(version))
}

func (c *Collector) HostChosen(aggregate, member string) {
	c.hostsChosen.WithLabelValues(aggregate, member).Inc()
}

func (c *Collector) NoHost(aggregate string) {
	c.noHost.WithLabelValues(aggregate).Inc()
}
