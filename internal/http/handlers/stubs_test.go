package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"

	"github.com/gin-gonic/gin"

	"nelo/internal/apperr"
	"nelo/internal/http/handlers"
	"nelo/internal/http/middleware"
	"nelo/internal/infra"
	"nelo/internal/modules/delivery"
	"nelo/internal/modules/driver"
	"nelo/internal/modules/location"
	"nelo/internal/modules/order"
	"nelo/internal/types"
)

// stubTokenVerifier maps bearer tokens to identities.
type stubTokenVerifier map[string]*infra.FirebaseToken

func (s stubTokenVerifier) VerifyIDToken(_ context.Context, raw string) (*infra.FirebaseToken, error) {
	t, ok := s[raw]
	if !ok {
		return nil, apperr.ErrUnauthorizedActor
	}
	return t, nil
}

var verifier = stubTokenVerifier{
	"customer":  {UID: "usr-1", Claims: map[string]interface{}{}},
	"customer2": {UID: "usr-2", Claims: map[string]interface{}{}},
	"provider":  {UID: "acct-9", Claims: map[string]interface{}{"role": "provider", "provider_id": "prv-1"}},
	"driver":    {UID: "usr-drv", Claims: map[string]interface{}{"role": "driver"}},
	"admin":     {UID: "adm-1", Claims: map[string]interface{}{"role": "admin"}},
	// A driver account whose profile was never created.
	"ghost":     {UID: "usr-ghost", Claims: map[string]interface{}{"role": "driver"}},
}

type orderStub struct {
	CreateFn     func(context.Context, order.CreateCommand) (*order.Order, error)
	GetFn        func(context.Context, types.ID) (*order.Order, error)
	TransitionFn func(context.Context, order.TransitionCommand) (*order.Order, error)
	ListFn       func(context.Context, types.ID, int, int) ([]order.Order, error)
}

func (s *orderStub) Create(ctx context.Context, cmd order.CreateCommand) (*order.Order, error) {
	return s.CreateFn(ctx, cmd)
}

func (s *orderStub) Get(ctx context.Context, id types.ID) (*order.Order, error) {
	return s.GetFn(ctx, id)
}

func (s *orderStub) GetByReference(ctx context.Context, reference string) (*order.Order, error) {
	return s.GetFn(ctx, types.ID(reference))
}

func (s *orderStub) ListByUser(ctx context.Context, userID types.ID, limit, offset int) ([]order.Order, error) {
	return s.ListFn(ctx, userID, limit, offset)
}

func (s *orderStub) History(context.Context, types.ID) ([]order.HistoryEntry, error) {
	return []order.HistoryEntry{{ToStatus: order.StatusPending}}, nil
}

func (s *orderStub) Transition(ctx context.Context, cmd order.TransitionCommand) (*order.Order, error) {
	return s.TransitionFn(ctx, cmd)
}

func (s *orderStub) Confirm(ctx context.Context, orderID, providerID types.ID) (*order.Order, error) {
	return s.TransitionFn(ctx, order.TransitionCommand{OrderID: orderID, To: order.StatusConfirmed, ActorType: order.ActorProvider, ActorID: providerID})
}

func (s *orderStub) Cancel(ctx context.Context, orderID types.ID, actorType string, actorID types.ID, reason string) (*order.Order, error) {
	return s.TransitionFn(ctx, order.TransitionCommand{OrderID: orderID, To: order.StatusCancelled, ActorType: actorType, ActorID: actorID, Reason: reason})
}

type deliveryStub struct {
	AcceptFn     func(context.Context, types.ID, types.ID) (*delivery.Delivery, error)
	TrackingFn   func(context.Context, types.ID) (*delivery.Tracking, error)
	TransitionFn func(context.Context, delivery.TransitionCommand) (*delivery.Delivery, error)
	recorded     []types.ID
}

func (s *deliveryStub) Get(context.Context, types.ID) (*delivery.Delivery, error) {
	return nil, apperr.ErrNotFound
}

func (s *deliveryStub) Tracking(ctx context.Context, id types.ID) (*delivery.Tracking, error) {
	return s.TrackingFn(ctx, id)
}

func (s *deliveryStub) ActiveForDriver(context.Context, types.ID) ([]delivery.Delivery, error) {
	return nil, nil
}

func (s *deliveryStub) PendingOffers(_ context.Context, driverID types.ID) ([]delivery.Offer, error) {
	return []delivery.Offer{{ID: "off-1", DriverID: driverID, Status: delivery.OfferPending}}, nil
}

func (s *deliveryStub) AcceptOffer(ctx context.Context, offerID, driverID types.ID) (*delivery.Delivery, error) {
	return s.AcceptFn(ctx, offerID, driverID)
}

func (s *deliveryStub) RejectOffer(context.Context, types.ID, types.ID) error {
	return nil
}

func (s *deliveryStub) Transition(ctx context.Context, cmd delivery.TransitionCommand) (*delivery.Delivery, error) {
	return s.TransitionFn(ctx, cmd)
}

func (s *deliveryStub) ConfirmDelivery(_ context.Context, id, _ types.ID, code, _ string) (*delivery.Delivery, error) {
	if code != "482913" {
		return nil, apperr.ErrBadRequest
	}
	return &delivery.Delivery{ID: id, Status: delivery.StatusDelivered}, nil
}

func (s *deliveryStub) RecordLocation(_ context.Context, deliveryID, _ types.ID, _ types.Point, _ *float64) error {
	s.recorded = append(s.recorded, deliveryID)
	return nil
}

type driverStub struct {
	online *bool
}

func (s *driverStub) ByUser(_ context.Context, userID types.ID) (*driver.Driver, error) {
	if userID != "usr-drv" {
		return nil, apperr.ErrNotFound
	}
	return &driver.Driver{ID: "drv-1", UserID: userID, Status: driver.StatusActive}, nil
}

func (s *driverStub) UpdateStatus(_ context.Context, id types.ID, status driver.Status) (*driver.Driver, error) {
	if !status.Valid() {
		return nil, apperr.ErrBadRequest
	}
	return &driver.Driver{ID: id, Status: status}, nil
}

func (s *driverStub) SetOnline(_ context.Context, id types.ID, online bool) (*driver.Driver, error) {
	s.online = &online
	return &driver.Driver{ID: id, IsOnline: online}, nil
}

type locationStub struct {
	updated []types.Point
}

func (s *locationStub) UpdateDriver(_ context.Context, _ types.ID, p types.Point) error {
	if !p.Valid() {
		return apperr.ErrBadRequest
	}
	s.updated = append(s.updated, p)
	return nil
}

func (s *locationStub) Nearby(_ context.Context, p types.Point, radiusKm float64) ([]location.DriverPosition, error) {
	return []location.DriverPosition{{DriverID: "drv-1", Position: p, DistanceKm: radiusKm / 10}}, nil
}

type dispatcherStub struct {
	offers []delivery.Offer
	err    error
}

func (s *dispatcherStub) FindAndOfferDrivers(context.Context, types.ID) ([]delivery.Offer, error) {
	return s.offers, s.err
}

type env struct {
	engine     *gin.Engine
	orders     *orderStub
	deliveries *deliveryStub
	drivers    *driverStub
	location   *locationStub
	dispatcher *dispatcherStub
}

// newEnv wires every handler on its production path behind the auth middleware.
func newEnv() *env {
	gin.SetMode(gin.TestMode)
	e := &env{
		orders:     &orderStub{},
		deliveries: &deliveryStub{},
		drivers:    &driverStub{},
		location:   &locationStub{},
		dispatcher: &dispatcherStub{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := gin.New()
	r.Use(middleware.Recovery(logger))
	api := r.Group("/api", middleware.Auth(verifier))

	oh := handlers.NewOrderHandler(e.orders)
	dh := handlers.NewDeliveryHandler(e.deliveries, e.orders)
	drh := handlers.NewDriverHandler(e.drivers, e.deliveries, e.location)
	lh := handlers.NewLocationHandler(e.location)
	ah := handlers.NewAdminHandler(e.dispatcher, e.drivers)

	api.POST("/orders", oh.Create)
	api.GET("/orders", oh.List)
	api.GET("/orders/:id", oh.Get)
	api.POST("/orders/:id/cancel", oh.Cancel)
	api.GET("/deliveries/:id/tracking", dh.Tracking)
	api.GET("/drivers/nearby", lh.Nearby)
	api.POST("/provider/orders/:id/confirm", middleware.RequireRole(middleware.RoleProvider), oh.Confirm)
	api.POST("/provider/orders/:id/status", middleware.RequireRole(middleware.RoleProvider), oh.ProviderStatus)
	api.POST("/driver/offers/:id/accept", middleware.RequireRole(middleware.RoleDriver), drh.AcceptOffer)
	api.GET("/driver/offers", middleware.RequireRole(middleware.RoleDriver), drh.Offers)
	api.POST("/driver/deliveries/:id/status", middleware.RequireRole(middleware.RoleDriver), drh.UpdateDeliveryStatus)
	api.POST("/driver/deliveries/:id/confirm", middleware.RequireRole(middleware.RoleDriver), drh.ConfirmDelivery)
	api.PUT("/driver/location", middleware.RequireRole(middleware.RoleDriver), drh.UpdateLocation)
	api.PUT("/driver/online", middleware.RequireRole(middleware.RoleDriver), drh.SetOnline)
	api.POST("/admin/deliveries/:id/dispatch", middleware.RequireRole(middleware.RoleAdmin), ah.Dispatch)
	api.PUT("/admin/drivers/:id/status", middleware.RequireRole(middleware.RoleAdmin), ah.DriverStatus)
	e.engine = r
	return e
}

func (e *env) do(method, path string, body any, token string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	return w
}

func decode(w *httptest.ResponseRecorder) map[string]any {
	var out map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return out
}

