package authority

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("authority.service",
	fx.Provide(
		NewStaticRoleProvider,
		NewService,
	),
	fx.Invoke(func(lc fx.Lifecycle, svc *Service) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				return svc.SeedDefaults(ctx)
			},
		})
	}),
)
