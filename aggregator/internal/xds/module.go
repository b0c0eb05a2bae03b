package xds

import (
	"go.uber.org/fx"

	"github.com/williamhogman/aggregate-lb/aggregator/internal/clustermanager"
)

func RunXDS(xds *Service) {
	// nothing needed here
}

func provideResolver(m *clustermanager.Manager) MemberResolver {
	return m
}

// Module exports XDS service and related components
var Module = fx.Options(
	fx.Provide(provideResolver),
	fx.Provide(New),
	fx.Invoke(RunXDS),
)
