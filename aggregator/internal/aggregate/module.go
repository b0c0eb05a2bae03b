package aggregate

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/williamhogman/aggregate-lb/aggregator/internal/clustermanager"
	"github.com/williamhogman/aggregate-lb/aggregator/internal/config"
	"github.com/williamhogman/aggregate-lb/aggregator/internal/threadlocal"
)

// ClusterParams contains dependencies for the aggregate cluster
type ClusterParams struct {
	fx.In

	Config    *config.Config
	Manager   *clustermanager.Manager
	Instance  *threadlocal.Instance
	Stats     Stats `optional:"true"`
	Logger    *zap.Logger
	Lifecycle fx.Lifecycle
}

// ProvideCluster creates the aggregate cluster and initializes it on start
func ProvideCluster(p ClusterParams) (*Cluster, error) {
	c, err := NewCluster(Options{
		Name:    p.Config.Cluster.Name,
		Members: p.Config.Cluster.Members,
		Stats:   p.Stats,
	}, p.Manager, p.Instance, p.Logger)
	if err != nil {
		return nil, err
	}

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			c.Initialize(nil)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			c.Shutdown()
			return nil
		},
	})
	return c, nil
}

// Module provides the aggregate cluster to the fx container
var Module = fx.Options(
	fx.Provide(ProvideCluster),
)
