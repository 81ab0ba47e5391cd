package dispatch

import (
	"context"

	"go.uber.org/fx"

	"nelo/internal/events"
)

// Module provides the coordinator and reaper and attaches them to the bus and app lifecycle.
var Module = fx.Options(
	fx.Provide(
		NewCoordinator,
		NewReaper,
	),
	fx.Invoke(registerLifecycle),
)

type lifecycleParams struct {
	fx.In

	Lifecycle   fx.Lifecycle
	Bus         *events.Bus
	Coordinator *Coordinator
	Reaper      *Reaper
}

func registerLifecycle(p lifecycleParams) {
	var detach func()
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			detach = p.Coordinator.Register(p.Bus)
			p.Reaper.Start(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			p.Reaper.Stop()
			if detach != nil {
				detach()
			}
			return nil
		},
	})
}
