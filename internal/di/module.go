// README: Composition root: every module of the API in one fx graph.
package di

import (
	"go.uber.org/fx"

	"nelo/internal/config"
	"nelo/internal/events"
	nelohttp "nelo/internal/http"
	"nelo/internal/infra"
	"nelo/internal/logger"
	"nelo/internal/modules/delivery"
	"nelo/internal/modules/dispatch"
	"nelo/internal/modules/driver"
	"nelo/internal/modules/location"
	"nelo/internal/modules/matching"
	"nelo/internal/modules/notify"
	"nelo/internal/modules/order"
	"nelo/internal/modules/pricing"
)

func Module(opts ...fx.Option) fx.Option {
	modules := []fx.Option{
		config.Module,
		logger.Module,
		infra.Module,
		events.Module,
		fx.Provide(
			pricing.NewStore,
			pricing.NewService,
			order.NewStore,
			order.NewService,
			driver.NewStore,
			driver.NewService,
			location.NewStore,
			location.NewService,
			matching.NewStore,
			matching.NewService,
			delivery.NewStore,
			delivery.NewService,
		),
		fx.Provide(func(s *location.Service) driver.PositionCache { return s }),
		fx.Provide(func(s *driver.Store) location.DriverPositions { return s }),
		dispatch.Module,
		notify.Module,
		nelohttp.Module,
	}
	modules = append(modules, opts...)
	return fx.Options(modules...)
}
