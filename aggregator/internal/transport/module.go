package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/williamhogman/aggregate-lb/aggregator/internal/aggregate"
	"github.com/williamhogman/aggregate-lb/aggregator/internal/config"
	"github.com/williamhogman/aggregate-lb/aggregator/internal/workers"
)

// ServerParams contains the dependencies for the admin server
type ServerParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    *config.Config
	Pool      *workers.Pool
	Cluster   *aggregate.Cluster
	Registry  *prometheus.Registry
	Logger    *zap.Logger
}

// ProvideServer creates the admin HTTP server and registers it with the fx lifecycle
func ProvideServer(p ServerParams) *http.Server {
	logger := p.Logger.Named("server")
	admin := NewAdminServer(p.Pool, p.Cluster, logger)

	addr := fmt.Sprintf(":%d", p.Config.Server.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: NewHandler(admin, p.Registry),
	}

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			listener, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("failed to listen for admin server: %w", err)
			}

			logger.Info("Starting admin server with Connect API",
				zap.String("address", addr),
				zap.Int("port", p.Config.Server.Port))
			go func() {
				if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("Admin server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Stopping server")
			return server.Shutdown(ctx)
		},
	})

	return server
}

// Module provides the admin server to the fx container
var Module = fx.Options(
	fx.Provide(ProvideServer),
	fx.Invoke(func(*http.Server) {}),
)
