package events

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"nelo/internal/config"
	"nelo/internal/infra"
)

// Module provides the shared bus and, when a broker URL is configured, forwards events to it.
var Module = fx.Options(
	fx.Provide(
		NewBus,
		func(b *Bus) Publisher { return b },
	),
	fx.Invoke(registerForwarder),
)

type forwarderParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    *config.Config
	Bus       *Bus
	Logger    *slog.Logger
}

func registerForwarder(p forwarderParams) {
	if p.Config.AMQP.URL == "" {
		p.Logger.Info("event broker disabled")
		return
	}
	var (
		mq     *infra.RabbitMQ
		detach func()
	)
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var err error
			mq, err = infra.NewRabbitMQ(p.Config.AMQP.URL, p.Config.AMQP.Exchange)
			if err != nil {
				return err
			}
			detach = NewForwarder(mq, p.Logger).Attach(p.Bus)
			return nil
		},
		OnStop: func(context.Context) error {
			if detach != nil {
				detach()
			}
			if mq != nil {
				return mq.Close()
			}
			return nil
		},
	})
}
