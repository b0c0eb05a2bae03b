package persistence

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/williamhogman/aggregate-lb/aggregator/internal/config"
)

// ProvideRedisClient creates a Redis client based on the configuration
func ProvideRedisClient(cfg *config.Config, lc fx.Lifecycle) (*redis.Client, error) {
	client, err := newRedisClient(cfg.Redis.URI)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})

	return client, nil
}

// ProvideStore creates the member cluster store
func ProvideStore(client *redis.Client, cfg *config.Config, logger *zap.Logger) (Store, error) {
	return NewRedisStore(client, cfg.Redis.KeyPrefix, logger)
}

// Module provides the persistence dependencies to the fx container
var Module = fx.Options(
	fx.Provide(ProvideRedisClient),
	fx.Provide(ProvideStore),
)
