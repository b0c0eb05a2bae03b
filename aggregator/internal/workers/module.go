package workers

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/williamhogman/aggregate-lb/aggregator/internal/aggregate"
	"github.com/williamhogman/aggregate-lb/aggregator/internal/config"
	"github.com/williamhogman/aggregate-lb/aggregator/internal/threadlocal"
)

// ProvideInstance creates the worker dispatchers and runs them for the app's lifetime
func ProvideInstance(cfg *config.Config, logger *zap.Logger, lc fx.Lifecycle) *threadlocal.Instance {
	instance := threadlocal.NewInstance(cfg.Workers.Count)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("Starting workers", zap.Int("count", len(instance.Dispatchers())))
			instance.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Stopping workers")
			instance.Shutdown()
			return nil
		},
	})
	return instance
}

// ProvidePool creates the request-path worker pool
func ProvidePool(cfg *config.Config, instance *threadlocal.Instance, cluster *aggregate.Cluster, logger *zap.Logger) *Pool {
	return NewPool(instance, cluster, cfg.Workers.RequestTimeout, logger)
}

// Module provides the workers to the fx container
var Module = fx.Options(
	fx.Provide(ProvideInstance),
	fx.Provide(ProvidePool),
)
