package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/fx"

	"github.com/williamhogman/aggregate-lb/aggregator/internal/aggregate"
)

// ProvideRegistry creates the registry served on /metrics, with process and Go runtime metrics
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// ProvideCollector creates the aggregate stats collector on reg
func ProvideCollector(reg *prometheus.Registry) (aggregate.Stats, error) {
	c, err := NewCollector(reg, defaultNamespace)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Module provides the metrics registry and the aggregate stats to the fx container
var Module = fx.Options(
	fx.Provide(ProvideRegistry),
	fx.Provide(ProvideCollector),
)
