package clustermanager

import (
	"go.uber.org/fx"
)

// Module provides the cluster registry to the fx container
var Module = fx.Options(
	fx.Provide(New),
)
