// README: Event reactions that keep orders and deliveries in step.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"nelo/internal/events"
	"nelo/internal/modules/delivery"
	"nelo/internal/modules/order"
	"nelo/internal/types"
)

const deliveryFailedReason = "delivery failed"

// Subscriber is the part of the event bus the reactions register on.
type Subscriber interface {
	Subscribe(name string, h events.Handler) func()
}

// deliveryToOrder maps delivery progress onto the order flow.
var deliveryToOrder = map[delivery.Status]order.Status{
	delivery.StatusPickedUp:   order.StatusPickedUp,
	delivery.StatusDelivering: order.StatusDelivering,
	delivery.StatusDelivered:  order.StatusDelivered,
	delivery.StatusFailed:     order.StatusCancelled,
}

// Register subscribes the coordinator to the order and delivery events it reacts to.
// The returned func removes every subscription.
func (c *Coordinator) Register(bus Subscriber) func() {
	unsubs := []func(){
		bus.Subscribe(events.OrderCreated, c.onOrderCreated),
		bus.Subscribe(events.OrderStatus(string(order.StatusConfirmed)), c.onOrderConfirmed),
		bus.Subscribe(events.OrderStatus(string(order.StatusCancelled)), c.onOrderCancelled),
	}
	for status := range deliveryToOrder {
		unsubs = append(unsubs, bus.Subscribe(events.DeliveryStatus(string(status)), c.onDeliveryProgress))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

func (c *Coordinator) onOrderCreated(ctx context.Context, e events.Event) error {
	orderID := types.ID(e.String("order_id"))
	d, err := c.CreateDelivery(ctx, orderID)
	if err != nil {
		return fmt.Errorf("create delivery for order %s: %w", orderID, err)
	}
	c.logger.Info("delivery opened",
		slog.String("order_id", string(orderID)),
		slog.String("delivery_id", string(d.ID)),
	)
	return nil
}

func (c *Coordinator) onOrderConfirmed(ctx context.Context, e events.Event) error {
	orderID := types.ID(e.String("order_id"))
	d, err := c.deliveries.GetByOrder(ctx, orderID)
	if err != nil {
		return fmt.Errorf("delivery for order %s: %w", orderID, err)
	}
	if _, err := c.FindAndOfferDrivers(ctx, d.ID); err != nil {
		return fmt.Errorf("dispatch delivery %s: %w", d.ID, err)
	}
	return nil
}

func (c *Coordinator) onOrderCancelled(ctx context.Context, e events.Event) error {
	orderID := types.ID(e.String("order_id"))
	d, err := c.deliveries.GetByOrder(ctx, orderID)
	if err != nil {
		return fmt.Errorf("delivery for order %s: %w", orderID, err)
	}
	switch d.Status {
	case delivery.StatusDelivered, delivery.StatusFailed, delivery.StatusCancelled:
		return nil
	}
	reason := e.String("reason")
	if reason == "" {
		reason = "order cancelled"
	}
	if _, err := c.deliveries.Cancel(ctx, d.ID, reason); err != nil {
		return fmt.Errorf("cancel delivery %s: %w", d.ID, err)
	}
	return nil
}

func (c *Coordinator) onDeliveryProgress(ctx context.Context, e events.Event) error {
	to, ok := deliveryToOrder[delivery.Status(e.String("to"))]
	if !ok {
		return nil
	}
	cmd := order.TransitionCommand{
		OrderID:   types.ID(e.String("order_id")),
		To:        to,
		ActorType: order.ActorSystem,
	}
	if to == order.StatusCancelled {
		cmd.Reason = deliveryFailedReason
	}
	if _, err := c.orders.Transition(ctx, cmd); err != nil {
		return fmt.Errorf("order %s to %s: %w", cmd.OrderID, to, err)
	}
	return nil
}
