// README: Dispatch coordinator: opens deliveries for new orders and fans offers out to nearby drivers.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"nelo/internal/apperr"
	"nelo/internal/config"
	"nelo/internal/modules/delivery"
	"nelo/internal/modules/driver"
	"nelo/internal/modules/matching"
	"nelo/internal/modules/order"
	"nelo/internal/types"
)

type Deliveries interface {
	Create(ctx context.Context, cmd delivery.CreateCommand) (*delivery.Delivery, error)
	Get(ctx context.Context, id types.ID) (*delivery.Delivery, error)
	GetByOrder(ctx context.Context, orderID types.ID) (*delivery.Delivery, error)
	CreateOffers(ctx context.Context, deliveryID types.ID, candidates []matching.Candidate, ttl time.Duration) ([]delivery.Offer, error)
	Cancel(ctx context.Context, id types.ID, reason string) (*delivery.Delivery, error)
	ExpireOffer(ctx context.Context, offerID types.ID) (*delivery.Offer, bool, error)
	HasOpenOffers(ctx context.Context, deliveryID types.ID) (bool, error)
}

type Orders interface {
	Get(ctx context.Context, id types.ID) (*order.Order, error)
	Transition(ctx context.Context, cmd order.TransitionCommand) (*order.Order, error)
}

type Drivers interface {
	FindAvailable(ctx context.Context, p types.Point, radiusKm float64, limit int) ([]driver.Nearby, error)
}

// Matcher scores candidates and keeps the dispatch bookkeeping.
type Matcher interface {
	Config() config.MatchingConfig
	Select(ctx context.Context, deliveryID types.ID, nearby []matching.Candidate, orderValue int64, requiredVehicle string) ([]matching.Candidate, error)
	Record(ctx context.Context, deliveryID types.ID, offers []matching.ScheduledOffer) error
	DueOffers(ctx context.Context, now time.Time, limit int) ([]types.ID, error)
	AckExpired(ctx context.Context, ids ...types.ID) error
	DispatchedAt(ctx context.Context, deliveryID types.ID) (time.Time, bool, error)
}

type Coordinator struct {
	deliveries Deliveries
	orders     Orders
	drivers    Drivers
	matcher    Matcher
	logger     *slog.Logger
}

func NewCoordinator(deliveries *delivery.Service, orders *order.Service, drivers *driver.Service, matcher *matching.Service, logger *slog.Logger) *Coordinator {
	return newCoordinator(deliveries, orders, drivers, matcher, logger)
}

func newCoordinator(deliveries Deliveries, orders Orders, drivers Drivers, matcher Matcher, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		deliveries: deliveries,
		orders:     orders,
		drivers:    drivers,
		matcher:    matcher,
		logger:     logger,
	}
}

// CreateDelivery opens the delivery for an order from its checkout snapshots.
func (c *Coordinator) CreateDelivery(ctx context.Context, orderID types.ID) (*delivery.Delivery, error) {
	o, err := c.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return c.deliveries.Create(ctx, delivery.CreateCommand{
		OrderID:     o.ID,
		Pickup:      delivery.Stop{Address: o.Provider.Address, Position: o.Provider.Position},
		Dropoff:     delivery.Stop{Address: o.Address.Address, Position: o.Address.Position},
		DeliveryFee: o.DeliveryFee,
		TipAmount:   o.TipAmount,
	})
}

// FindAndOfferDrivers offers the delivery to the best nearby drivers that
// have not seen it yet. No eligible driver yields an empty result.
func (c *Coordinator) FindAndOfferDrivers(ctx context.Context, deliveryID types.ID) ([]delivery.Offer, error) {
	d, err := c.deliveries.Get(ctx, deliveryID)
	if err != nil {
		return nil, err
	}
	if !d.Status.Dispatchable() {
		return nil, fmt.Errorf("delivery %s is %s: %w", d.ID, d.Status, apperr.ErrAlreadyResolved)
	}
	o, err := c.orders.Get(ctx, d.OrderID)
	if err != nil {
		return nil, err
	}

	cfg := c.matcher.Config()
	nearby, err := c.drivers.FindAvailable(ctx, d.Pickup.Position, cfg.RadiusKm, cfg.PoolSize)
	if err != nil {
		return nil, fmt.Errorf("find drivers for %s: %w", d.ID, err)
	}
	candidates := make([]matching.Candidate, len(nearby))
	for i, n := range nearby {
		candidates[i] = n.Candidate()
	}
	selected, err := c.matcher.Select(ctx, d.ID, candidates, o.Total, "")
	if err != nil {
		return nil, err
	}
	if len(selected) == 0 {
		c.logger.Info("no eligible drivers",
			slog.String("delivery_id", string(d.ID)),
			slog.Int("nearby", len(nearby)),
		)
		return []delivery.Offer{}, nil
	}

	offers, err := c.deliveries.CreateOffers(ctx, d.ID, selected, cfg.OfferTTL)
	if errors.Is(err, apperr.ErrNoEligibleDrivers) {
		return []delivery.Offer{}, nil
	}
	if err != nil {
		return nil, err
	}

	scheduled := make([]matching.ScheduledOffer, len(offers))
	for i, off := range offers {
		scheduled[i] = matching.ScheduledOffer{ID: off.ID, DriverID: off.DriverID, ExpiresAt: off.ExpiresAt}
	}
	if err := c.matcher.Record(ctx, d.ID, scheduled); err != nil {
		// The offers are committed and still expire at accept time.
		c.logger.Error("record dispatch failed",
			slog.String("delivery_id", string(d.ID)),
			slog.String("error", err.Error()),
		)
	}
	c.logger.Info("delivery offered",
		slog.String("delivery_id", string(d.ID)),
		slog.Int("offers", len(offers)),
	)
	return offers, nil
}
