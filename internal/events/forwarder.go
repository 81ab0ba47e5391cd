package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// Broker publishes a message under a routing key. *infra.RabbitMQ implements it.
type Broker interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
}

// Forwarder mirrors every bus event onto the message broker, routed by event name.
type Forwarder struct {
	broker Broker
	logger *slog.Logger
}

func NewForwarder(broker Broker, logger *slog.Logger) *Forwarder {
	return &Forwarder{broker: broker, logger: logger}
}

func (f *Forwarder) Attach(bus *Bus) func() {
	return bus.SubscribeAll(f.forward)
}

func (f *Forwarder) forward(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", e.Name, err)
	}
	if err := f.broker.Publish(ctx, e.Name, body); err != nil {
		return fmt.Errorf("forward event %s: %w", e.Name, err)
	}
	f.logger.Debug("event forwarded", slog.String("event", e.Name), slog.String("event_id", e.ID))
	return nil
}
