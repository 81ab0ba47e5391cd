// README: HTTP router registration.
package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"nelo/internal/http/handlers"
	"nelo/internal/http/middleware"
	"nelo/internal/infra"
)

// RouterDeps are the services behind the API.
type RouterDeps struct {
	Orders     handlers.OrderService
	Deliveries handlers.DeliveryService
	Drivers    handlers.DriverService
	Location   handlers.LocationService
	Dispatcher handlers.Dispatcher
	Verifier   infra.TokenVerifier
	Logger     *slog.Logger
}

func NewRouter(deps RouterDeps) *gin.Engine {
	engine := gin.New()
	engine.Use(middleware.Recovery(deps.Logger))
	engine.Use(middleware.RequestLogger(deps.Logger))
	engine.Use(gzip.Gzip(gzip.DefaultCompression))

	engine.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	orderHandler := handlers.NewOrderHandler(deps.Orders)
	deliveryHandler := handlers.NewDeliveryHandler(deps.Deliveries, deps.Orders)
	driverHandler := handlers.NewDriverHandler(deps.Drivers, deps.Deliveries, deps.Location)
	locationHandler := handlers.NewLocationHandler(deps.Location)
	adminHandler := handlers.NewAdminHandler(deps.Dispatcher, deps.Drivers)

	api := engine.Group("/api")
	api.Use(middleware.Auth(deps.Verifier))

	api.POST("/orders", orderHandler.Create)
	api.GET("/orders", orderHandler.List)
	api.GET("/orders/ref/:reference", orderHandler.GetByReference)
	api.GET("/orders/:id", orderHandler.Get)
	api.GET("/orders/:id/history", orderHandler.History)
	api.POST("/orders/:id/cancel", orderHandler.Cancel)
	api.GET("/deliveries/:id/tracking", deliveryHandler.Tracking)
	api.GET("/drivers/nearby", locationHandler.Nearby)

	provider := api.Group("/provider", middleware.RequireRole(middleware.RoleProvider))
	provider.POST("/orders/:id/confirm", orderHandler.Confirm)
	provider.POST("/orders/:id/status", orderHandler.ProviderStatus)

	drv := api.Group("/driver", middleware.RequireRole(middleware.RoleDriver))
	drv.GET("/offers", driverHandler.Offers)
	drv.POST("/offers/:id/accept", driverHandler.AcceptOffer)
	drv.POST("/offers/:id/reject", driverHandler.RejectOffer)
	drv.GET("/deliveries", driverHandler.Deliveries)
	drv.POST("/deliveries/:id/status", driverHandler.UpdateDeliveryStatus)
	drv.POST("/deliveries/:id/confirm", driverHandler.ConfirmDelivery)
	drv.PUT("/location", driverHandler.UpdateLocation)
	drv.PUT("/online", driverHandler.SetOnline)

	admin := api.Group("/admin", middleware.RequireRole(middleware.RoleAdmin))
	admin.POST("/deliveries/:id/dispatch", adminHandler.Dispatch)
	admin.PUT("/drivers/:id/status", adminHandler.DriverStatus)
	admin.POST("/orders/:id/status", orderHandler.AdminStatus)

	return engine
}
