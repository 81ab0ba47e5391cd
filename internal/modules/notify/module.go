package notify

import (
	"context"
	"log/slog"

	firebase "firebase.google.com/go/v4"
	"go.uber.org/fx"

	"nelo/internal/events"
	"nelo/internal/infra"
)

// Module picks the FCM pusher when a Firebase app is available and registers the handlers.
var Module = fx.Options(
	fx.Provide(newPusher),
	fx.Invoke(registerLifecycle),
)

type pusherParams struct {
	fx.In

	App    *firebase.App `optional:"true"`
	Logger *slog.Logger
}

func newPusher(ctx context.Context, p pusherParams) (Pusher, error) {
	if p.App == nil {
		p.Logger.Info("push notifications log only")
		return NewLogPusher(p.Logger), nil
	}
	return infra.NewFCMPusher(ctx, p.App)
}

type lifecycleParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Bus       *events.Bus
	Pusher    Pusher
	Logger    *slog.Logger
}

func registerLifecycle(p lifecycleParams) {
	var detach func()
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			detach = Register(p.Bus, p.Pusher, p.Logger)
			return nil
		},
		OnStop: func(context.Context) error {
			if detach != nil {
				detach()
			}
			return nil
		},
	})
}
