package main

import (
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/williamhogman/aggregate-lb/aggregator/internal/aggregate"
	"github.com/williamhogman/aggregate-lb/aggregator/internal/clustermanager"
	"github.com/williamhogman/aggregate-lb/aggregator/internal/config"
	"github.com/williamhogman/aggregate-lb/aggregator/internal/k8ssource"
	"github.com/williamhogman/aggregate-lb/aggregator/internal/logging"
	"github.com/williamhogman/aggregate-lb/aggregator/internal/membersync"
	"github.com/williamhogman/aggregate-lb/aggregator/internal/metrics"
	"github.com/williamhogman/aggregate-lb/aggregator/internal/persistence"
	"github.com/williamhogman/aggregate-lb/aggregator/internal/transport"
	"github.com/williamhogman/aggregate-lb/aggregator/internal/workers"
	"github.com/williamhogman/aggregate-lb/aggregator/internal/xds"
)

var Everything = fx.Options(
	config.Module,
	logging.Module,
	metrics.Module,
	clustermanager.Module,
	workers.Module,
	aggregate.Module,
	xds.Module,
	persistence.Module,
	membersync.Module,
	k8ssource.Module,
	transport.Module,
)

func logConfig(cfg *config.Config, logger *zap.Logger) {
	logger.Info("Aggregator configuration", cfg.LogFields()...)
}

func main() {
	app := fx.New(
		Everything,
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.Named("fx")}
		}),
		fx.Invoke(logConfig),
	)
	app.Run()
}
