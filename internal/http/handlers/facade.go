package handlers

import (
	"context"

	"nelo/internal/modules/delivery"
	"nelo/internal/modules/driver"
	"nelo/internal/modules/location"
	"nelo/internal/modules/order"
	"nelo/internal/types"
)

// OrderService is the order functionality the HTTP layer exposes.
type OrderService interface {
	Create(ctx context.Context, cmd order.CreateCommand) (*order.Order, error)
	Get(ctx context.Context, id types.ID) (*order.Order, error)
	GetByReference(ctx context.Context, reference string) (*order.Order, error)
	ListByUser(ctx context.Context, userID types.ID, limit, offset int) ([]order.Order, error)
	History(ctx context.Context, orderID types.ID) ([]order.HistoryEntry, error)
	Transition(ctx context.Context, cmd order.TransitionCommand) (*order.Order, error)
	Confirm(ctx context.Context, orderID, providerID types.ID) (*order.Order, error)
	Cancel(ctx context.Context, orderID types.ID, actorType string, actorID types.ID, reason string) (*order.Order, error)
}

type DeliveryService interface {
	Get(ctx context.Context, id types.ID) (*delivery.Delivery, error)
	Tracking(ctx context.Context, id types.ID) (*delivery.Tracking, error)
	ActiveForDriver(ctx context.Context, driverID types.ID) ([]delivery.Delivery, error)
	PendingOffers(ctx context.Context, driverID types.ID) ([]delivery.Offer, error)
	AcceptOffer(ctx context.Context, offerID, driverID types.ID) (*delivery.Delivery, error)
	RejectOffer(ctx context.Context, offerID, driverID types.ID) error
	Transition(ctx context.Context, cmd delivery.TransitionCommand) (*delivery.Delivery, error)
	ConfirmDelivery(ctx context.Context, id, driverID types.ID, code, photoURL string) (*delivery.Delivery, error)
	RecordLocation(ctx context.Context, deliveryID, driverID types.ID, p types.Point, speed *float64) error
}

type DriverService interface {
	ByUser(ctx context.Context, userID types.ID) (*driver.Driver, error)
	UpdateStatus(ctx context.Context, id types.ID, status driver.Status) (*driver.Driver, error)
	SetOnline(ctx context.Context, id types.ID, online bool) (*driver.Driver, error)
}

type LocationService interface {
	UpdateDriver(ctx context.Context, driverID types.ID, p types.Point) error
	Nearby(ctx context.Context, p types.Point, radiusKm float64) ([]location.DriverPosition, error)
}

// Dispatcher runs driver matching for a delivery.
type Dispatcher interface {
	FindAndOfferDrivers(ctx context.Context, deliveryID types.ID) ([]delivery.Offer, error)
}
