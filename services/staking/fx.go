package staking

import "go.uber.org/fx"

var Module = fx.Module("staking.service",
	fx.Provide(NewService),
)
