package membersync

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/williamhogman/aggregate-lb/aggregator/internal/clustermanager"
	"github.com/williamhogman/aggregate-lb/aggregator/internal/config"
	"github.com/williamhogman/aggregate-lb/aggregator/internal/persistence"
	"github.com/williamhogman/aggregate-lb/aggregator/internal/upstream"
)

// SyncerParams contains dependencies for the syncer
type SyncerParams struct {
	fx.In

	Config  *config.Config
	Store   persistence.Store
	Manager *clustermanager.Manager
	Logger  *zap.Logger
}

// ProvideSyncer creates the store to cluster manager syncer
func ProvideSyncer(params SyncerParams) *Syncer {
	opts := upstream.Options{
		PanicThreshold: params.Config.LB.PanicThreshold,
		PanicDisabled:  params.Config.LB.PanicDisabled,
	}
	return NewSyncer(params.Store, params.Manager, opts, params.Config.LB.OverprovisioningFactor, params.Logger)
}

// RunSyncer keeps the cluster manager in sync with the store while the app runs
func RunSyncer(cfg *config.Config, syncer *Syncer, lc fx.Lifecycle) {
	if !cfg.Redis.Enabled {
		syncer.logger.Info("Redis member store disabled")
		return
	}

	var stop func()
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			var err error
			stop, err = syncer.Run(context.Background())
			return err
		},
		OnStop: func(ctx context.Context) error {
			if stop != nil {
				stop()
			}
			return nil
		},
	})
}

// Module provides the member syncer to the fx container
var Module = fx.Options(
	fx.Provide(ProvideSyncer),
	fx.Invoke(RunSyncer),
)
