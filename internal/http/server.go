// README: API server: builds the router from module services and runs it under the fx lifecycle.
package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"

	"nelo/internal/config"
	"nelo/internal/infra"
	"nelo/internal/modules/delivery"
	"nelo/internal/modules/dispatch"
	"nelo/internal/modules/driver"
	"nelo/internal/modules/location"
	"nelo/internal/modules/order"
)

// Module provides the gin engine and the HTTP server and runs the server with the app.
var Module = fx.Options(
	fx.Provide(
		newRouter,
		newServer,
	),
	fx.Invoke(registerLifecycle),
)

type routerParams struct {
	fx.In

	Orders      *order.Service
	Deliveries  *delivery.Service
	Drivers     *driver.Service
	Location    *location.Service
	Coordinator *dispatch.Coordinator
	Verifier    infra.TokenVerifier
	Logger      *slog.Logger
}

func newRouter(p routerParams) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	return NewRouter(RouterDeps{
		Orders:     p.Orders,
		Deliveries: p.Deliveries,
		Drivers:    p.Drivers,
		Location:   p.Location,
		Dispatcher: p.Coordinator,
		Verifier:   p.Verifier,
		Logger:     p.Logger,
	})
}

func newServer(cfg *config.Config, router *gin.Engine) *http.Server {
	return &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: router,
	}
}

type lifecycleParams struct {
	fx.In

	Lifecycle  fx.Lifecycle
	Shutdowner fx.Shutdowner
	Logger     *slog.Logger
	Server     *http.Server
	Config     *config.Config
}

func registerLifecycle(p lifecycleParams) {
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			p.Logger.Info("starting nelo-api", slog.String("addr", p.Server.Addr))
			go func() {
				if err := p.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					p.Logger.Error("http server terminated", slog.String("error", err.Error()))
					_ = p.Shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx := ctx
			cancel := func() {}
			if _, ok := ctx.Deadline(); !ok {
				shutdownCtx, cancel = context.WithTimeout(ctx, p.Config.ShutdownTimeout)
			}
			defer cancel()

			if err := p.Server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			p.Logger.Info("nelo-api stopped")
			return nil
		},
	})
}
