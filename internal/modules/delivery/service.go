// README: Delivery service: creation, driver-driven transitions, cancellation, tracking, and queries.
package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"nelo/internal/apperr"
	"nelo/internal/events"
	"nelo/internal/modules/driver"
	"nelo/internal/modules/location"
	"nelo/internal/modules/order"
	"nelo/internal/types"
)

const trackingPoints = 50

// Repository is the persistence the delivery flows need. Every method joins
// the transaction carried by ctx when called inside WithinTx.
type Repository interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error

	Create(ctx context.Context, d *Delivery) error
	Get(ctx context.Context, id types.ID) (*Delivery, error)
	GetForUpdate(ctx context.Context, id types.ID) (*Delivery, error)
	GetByOrder(ctx context.Context, orderID types.ID) (*Delivery, error)
	ListActiveByDriver(ctx context.Context, driverID types.ID) ([]Delivery, error)
	CountActiveByDriver(ctx context.Context, driverID types.ID) (int, error)
	Save(ctx context.Context, d *Delivery) error
	AppendHistory(ctx context.Context, h *HistoryEntry) error
	History(ctx context.Context, deliveryID types.ID) ([]HistoryEntry, error)

	InsertOffers(ctx context.Context, offers []Offer) error
	GetOffer(ctx context.Context, id types.ID) (*Offer, error)
	GetOfferForUpdate(ctx context.Context, id types.ID) (*Offer, error)
	ResolveOffer(ctx context.Context, id types.ID, to OfferStatus, at time.Time) (bool, error)
	RejectPendingOffers(ctx context.Context, deliveryID, keepID types.ID, at time.Time) (int64, error)
	PendingOffersForDriver(ctx context.Context, driverID types.ID, now time.Time) ([]Offer, error)
	HasPendingOffers(ctx context.Context, deliveryID types.ID, now time.Time) (bool, error)

	InsertEarning(ctx context.Context, e *Earning) error
}

// Drivers is the driver bookkeeping touched by delivery transitions.
type Drivers interface {
	Get(ctx context.Context, id types.ID) (*driver.Driver, error)
	GetForUpdate(ctx context.Context, id types.ID) (*driver.Driver, error)
	SetAvailable(ctx context.Context, id types.ID, available bool) error
	CompleteDelivery(ctx context.Context, id types.ID) error
}

// Tracks stores position reports made during a delivery.
type Tracks interface {
	AppendTrackPoint(ctx context.Context, tp *location.TrackPoint) error
	TrackPoints(ctx context.Context, deliveryID types.ID, limit int) ([]location.TrackPoint, error)
}

// Orders gates driver steps on the state of the order being delivered.
type Orders interface {
	ReadyForPickup(ctx context.Context, orderID types.ID) error
}

type Service struct {
	repo    Repository
	drivers Drivers
	tracks  Tracks
	orders  Orders
	events  events.Publisher
	logger  *slog.Logger
	now     func() time.Time
}

func NewService(store *Store, drivers *driver.Store, tracks *location.Store, orders *order.Service, publisher events.Publisher, logger *slog.Logger) *Service {
	return newService(store, drivers, tracks, orders, publisher, logger)
}

func newService(repo Repository, drivers Drivers, tracks Tracks, orders Orders, publisher events.Publisher, logger *slog.Logger) *Service {
	return &Service{
		repo:    repo,
		drivers: drivers,
		tracks:  tracks,
		orders:  orders,
		events:  publisher,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

type CreateCommand struct {
	OrderID     types.ID
	Pickup      Stop
	Dropoff     Stop
	DeliveryFee int64
	TipAmount   int64
}

type TransitionCommand struct {
	DeliveryID    types.ID
	DriverID      types.ID
	To            Status
	Location      *types.Point
	Notes         string
	FailureReason string
}

type Tracking struct {
	Delivery *Delivery             `json:"delivery"`
	Driver   *driver.Summary       `json:"driver,omitempty"`
	Points   []location.TrackPoint `json:"points"`
}

// Create opens the delivery for an order with frozen pickup and dropoff snapshots.
func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Delivery, error) {
	if cmd.OrderID == "" || !cmd.Pickup.Position.Valid() || !cmd.Dropoff.Position.Valid() {
		return nil, fmt.Errorf("%w: delivery needs an order and valid stops", apperr.ErrBadRequest)
	}
	now := s.now()
	d := &Delivery{
		ID:          types.NewID(),
		OrderID:     cmd.OrderID,
		Reference:   types.NewReference(types.DeliveryReferencePrefix),
		Status:      StatusPending,
		Pickup:      cmd.Pickup,
		Dropoff:     cmd.Dropoff,
		DistanceKm:  location.Round2(location.DistanceKm(cmd.Pickup.Position, cmd.Dropoff.Position)),
		DeliveryFee: cmd.DeliveryFee,
		TipAmount:   cmd.TipAmount,
		Code:        types.NewConfirmationCode(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := s.repo.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, d); err != nil {
			return err
		}
		return s.repo.AppendHistory(ctx, &HistoryEntry{
			DeliveryID: d.ID,
			ToStatus:   StatusPending,
			Notes:      "delivery created",
			CreatedAt:  now,
		})
	})
	if err != nil {
		return nil, err
	}
	s.events.Publish(ctx, events.DeliveryCreated, map[string]any{
		"delivery_id": string(d.ID),
		"order_id":    string(d.OrderID),
		"reference":   d.Reference,
		"distance_km": d.DistanceKm,
	})
	return d, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Delivery, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) GetByOrder(ctx context.Context, orderID types.ID) (*Delivery, error) {
	return s.repo.GetByOrder(ctx, orderID)
}

func (s *Service) History(ctx context.Context, id types.ID) ([]HistoryEntry, error) {
	return s.repo.History(ctx, id)
}

// ActiveForDriver lists the deliveries a driver is currently working.
func (s *Service) ActiveForDriver(ctx context.Context, driverID types.ID) ([]Delivery, error) {
	return s.repo.ListActiveByDriver(ctx, driverID)
}

// Transition advances a delivery on behalf of its driver.
func (s *Service) Transition(ctx context.Context, cmd TransitionCommand) (*Delivery, error) {
	var (
		d    *Delivery
		from Status
	)
	err := s.repo.WithinTx(ctx, func(ctx context.Context) error {
		cur, err := s.repo.GetForUpdate(ctx, cmd.DeliveryID)
		if err != nil {
			return err
		}
		from = cur.Status
		if err := s.apply(ctx, cur, cmd); err != nil {
			return err
		}
		d = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publishStatus(ctx, d, from, cmd.DriverID, cmd.DriverID)
	return d, nil
}

// ConfirmDelivery completes a delivery once the customer's code matches.
func (s *Service) ConfirmDelivery(ctx context.Context, id, driverID types.ID, code, photoURL string) (*Delivery, error) {
	var d *Delivery
	err := s.repo.WithinTx(ctx, func(ctx context.Context) error {
		cur, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !cur.OwnedBy(driverID) {
			return fmt.Errorf("delivery %s: %w", id, apperr.ErrUnauthorizedActor)
		}
		if code == "" || code != cur.Code {
			return fmt.Errorf("%w: confirmation code does not match", apperr.ErrBadRequest)
		}
		if photoURL != "" {
			cur.PhotoURL = &photoURL
		}
		if err := s.apply(ctx, cur, TransitionCommand{DeliveryID: id, DriverID: driverID, To: StatusDelivered, Notes: "confirmed with code"}); err != nil {
			return err
		}
		d = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publishStatus(ctx, d, StatusDelivering, driverID, driverID)
	return d, nil
}

// apply runs one driver transition against a locked delivery.
func (s *Service) apply(ctx context.Context, d *Delivery, cmd TransitionCommand) error {
	if !d.OwnedBy(cmd.DriverID) {
		return fmt.Errorf("delivery %s: %w", d.ID, apperr.ErrUnauthorizedActor)
	}
	if !CanTransition(d.Status, cmd.To) {
		return apperr.Transition("delivery", string(d.Status), string(cmd.To))
	}
	if cmd.Location != nil && !cmd.Location.Valid() {
		return fmt.Errorf("%w: invalid coordinates", apperr.ErrBadRequest)
	}
	if cmd.To == StatusPickedUp {
		if err := s.orders.ReadyForPickup(ctx, d.OrderID); err != nil {
			return err
		}
	}

	now := s.now()
	from := d.Status
	d.Status = cmd.To
	switch cmd.To {
	case StatusPickedUp:
		d.PickedUpAt = &now
	case StatusDelivered:
		d.DeliveredAt = &now
	case StatusFailed:
		d.FailedAt = &now
		d.DriverID = nil
		if cmd.FailureReason != "" {
			reason := cmd.FailureReason
			d.FailureReason = &reason
		}
	}
	if err := s.repo.Save(ctx, d); err != nil {
		return err
	}
	driverID := cmd.DriverID
	if err := s.repo.AppendHistory(ctx, &HistoryEntry{
		DeliveryID: d.ID,
		FromStatus: &from,
		ToStatus:   cmd.To,
		ChangedBy:  &driverID,
		Location:   cmd.Location,
		Notes:      cmd.Notes,
		CreatedAt:  now,
	}); err != nil {
		return err
	}

	switch cmd.To {
	case StatusDelivered:
		if err := s.drivers.CompleteDelivery(ctx, driverID); err != nil {
			return err
		}
		drv, err := s.releaseDriver(ctx, driverID)
		if err != nil {
			return err
		}
		return s.repo.InsertEarning(ctx, NewEarning(d, driverID, drv.CommissionRate, now))
	case StatusFailed:
		_, err := s.releaseDriver(ctx, driverID)
		return err
	}
	return nil
}

// releaseDriver makes the driver available again once the deliveries it
// still holds fit under its max_orders. The driver row is locked so a
// concurrent accept sees the same count.
func (s *Service) releaseDriver(ctx context.Context, driverID types.ID) (*driver.Driver, error) {
	drv, err := s.drivers.GetForUpdate(ctx, driverID)
	if err != nil {
		return nil, err
	}
	active, err := s.repo.CountActiveByDriver(ctx, driverID)
	if err != nil {
		return nil, err
	}
	if err := s.drivers.SetAvailable(ctx, driverID, active < drv.MaxOrders); err != nil {
		return nil, err
	}
	return drv, nil
}

// Cancel withdraws a delivery whose order was cancelled. Open offers are
// rejected, and a driver already on the way is released whatever leg it
// has reached. The released driver is kept in the history notes.
func (s *Service) Cancel(ctx context.Context, id types.ID, reason string) (*Delivery, error) {
	var (
		d        *Delivery
		from     Status
		released types.ID
	)
	err := s.repo.WithinTx(ctx, func(ctx context.Context) error {
		cur, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		from = cur.Status
		now := s.now()
		switch {
		case cur.Status.Dispatchable():
			if _, err := s.repo.RejectPendingOffers(ctx, cur.ID, "", now); err != nil {
				return err
			}
		case cur.Status.Active():
			released = *cur.DriverID
		default:
			return apperr.Transition("delivery", string(cur.Status), string(StatusCancelled))
		}
		cur.Status = StatusCancelled
		cur.CancelledAt = &now
		cur.DriverID = nil
		if err := s.repo.Save(ctx, cur); err != nil {
			return err
		}
		notes := reason
		if released != "" {
			notes = fmt.Sprintf("%s (driver %s released)", reason, released)
		}
		if err := s.repo.AppendHistory(ctx, &HistoryEntry{
			DeliveryID: cur.ID,
			FromStatus: &from,
			ToStatus:   StatusCancelled,
			Notes:      notes,
			CreatedAt:  now,
		}); err != nil {
			return err
		}
		if released != "" {
			if _, err := s.releaseDriver(ctx, released); err != nil {
				return err
			}
		}
		d = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publishStatus(ctx, d, from, "", released)
	return d, nil
}

// RecordLocation appends a position report made by the assigned driver.
func (s *Service) RecordLocation(ctx context.Context, deliveryID, driverID types.ID, p types.Point, speed *float64) error {
	if !p.Valid() {
		return fmt.Errorf("%w: invalid coordinates", apperr.ErrBadRequest)
	}
	d, err := s.repo.Get(ctx, deliveryID)
	if err != nil {
		return err
	}
	if !d.OwnedBy(driverID) {
		return fmt.Errorf("delivery %s: %w", deliveryID, apperr.ErrUnauthorizedActor)
	}
	return s.tracks.AppendTrackPoint(ctx, &location.TrackPoint{
		DeliveryID: deliveryID,
		DriverID:   driverID,
		Position:   p,
		Speed:      speed,
		RecordedAt: s.now(),
	})
}

// Tracking returns the delivery with its driver and the latest reported positions.
func (s *Service) Tracking(ctx context.Context, id types.ID) (*Tracking, error) {
	d, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	out := &Tracking{Delivery: d}
	if d.DriverID != nil {
		drv, err := s.drivers.Get(ctx, *d.DriverID)
		if err != nil {
			return nil, err
		}
		summary := drv.Summary()
		out.Driver = &summary
	}
	points, err := s.tracks.TrackPoints(ctx, id, trackingPoints)
	if err != nil {
		return nil, err
	}
	out.Points = points
	return out, nil
}

// publishStatus emits delivery.<status>. driverID names the driver that
// worked the delivery, which failed and cancelled rows no longer hold.
func (s *Service) publishStatus(ctx context.Context, d *Delivery, from Status, actor, driverID types.ID) {
	data := map[string]any{
		"delivery_id": string(d.ID),
		"order_id":    string(d.OrderID),
		"from":        string(from),
		"to":          string(d.Status),
	}
	if driverID != "" {
		data["driver_id"] = string(driverID)
	}
	if actor != "" {
		data["actor_id"] = string(actor)
	}
	if d.FailureReason != nil {
		data["failure_reason"] = *d.FailureReason
	}
	s.events.Publish(ctx, events.DeliveryStatus(string(d.Status)), data)
}
