// README: Push notifications for order, delivery, and offer events.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"nelo/internal/events"
)

// Pusher sends a notification to an FCM topic. *infra.FCMPusher implements it.
type Pusher interface {
	Push(ctx context.Context, topic, title, body string, data map[string]string) error
}

// Subscriber is the part of the event bus notifications register on.
type Subscriber interface {
	Subscribe(name string, h events.Handler) func()
}

func UserTopic(id string) string   { return "user_" + id }
func DriverTopic(id string) string { return "driver_" + id }
func OrderTopic(id string) string  { return "order_" + id }

// message is one push produced by an event.
type message struct {
	topic string
	title string
	body  string
}

type rule func(e events.Event) []message

var rules = map[string]rule{
	events.OrderCreated: func(e events.Event) []message {
		return []message{{
			topic: UserTopic(e.String("user_id")),
			title: "Commande créée",
			body:  fmt.Sprintf("Votre commande %s a été créée. Total: %v FCFA", e.String("reference"), e.Data["total"]),
		}}
	},
	events.OrderStatus("confirmed"): func(e events.Event) []message {
		return []message{{
			topic: UserTopic(e.String("user_id")),
			title: "Commande confirmée",
			body:  fmt.Sprintf("Votre commande %s a été confirmée.", e.String("reference")),
		}}
	},
	events.OrderStatus("ready"): func(e events.Event) []message {
		return []message{{
			topic: UserTopic(e.String("user_id")),
			title: "Commande prête",
			body:  fmt.Sprintf("Votre commande %s est prête. Un livreur va bientôt la récupérer.", e.String("reference")),
		}}
	},
	events.OrderStatus("cancelled"): func(e events.Event) []message {
		body := fmt.Sprintf("Votre commande %s a été annulée.", e.String("reference"))
		if reason := e.String("reason"); reason != "" {
			body += " Raison: " + reason
		}
		return []message{{topic: UserTopic(e.String("user_id")), title: "Commande annulée", body: body}}
	},
	events.OrderStatus("delivered"): func(e events.Event) []message {
		return []message{{
			topic: UserTopic(e.String("user_id")),
			title: "Commande livrée",
			body:  fmt.Sprintf("Votre commande %s a été livrée. Bon appétit!", e.String("reference")),
		}}
	},
	events.DeliveryOffersSent: func(e events.Event) []message {
		ids, _ := e.Data["driver_ids"].([]string)
		out := make([]message, 0, len(ids))
		for _, id := range ids {
			out = append(out, message{
				topic: DriverTopic(id),
				title: "Nouvelle course",
				body:  "Une course est disponible près de vous.",
			})
		}
		return out
	},
	events.DeliveryAssigned: func(e events.Event) []message {
		return []message{
			{
				topic: DriverTopic(e.String("driver_id")),
				title: "Course attribuée",
				body:  "La course est à vous. Rendez-vous au point de retrait.",
			},
			{
				topic: OrderTopic(e.String("order_id")),
				title: "Livreur assigné",
				body:  fmt.Sprintf("Un livreur arrive dans environ %v min.", e.Data["eta_minutes"]),
			},
		}
	},
	events.DeliveryStatus("picked_up"): func(e events.Event) []message {
		return []message{{topic: OrderTopic(e.String("order_id")), title: "Commande en route", body: "Votre commande est en route vers vous."}}
	},
	events.DeliveryStatus("delivering"): func(e events.Event) []message {
		return []message{{topic: OrderTopic(e.String("order_id")), title: "Livreur bientôt là", body: "Le livreur arrive avec votre commande."}}
	},
	events.DeliveryStatus("delivered"): func(e events.Event) []message {
		return []message{{topic: OrderTopic(e.String("order_id")), title: "Livraison terminée", body: "Votre commande a été livrée."}}
	},
	events.DeliveryStatus("failed"): func(e events.Event) []message {
		return []message{{topic: OrderTopic(e.String("order_id")), title: "Livraison échouée", body: "La livraison de votre commande a échoué."}}
	},
	events.DeliveryStatus("cancelled"): func(e events.Event) []message {
		id := e.String("driver_id")
		if id == "" {
			return nil
		}
		return []message{{topic: DriverTopic(id), title: "Course annulée", body: "La commande a été annulée. Vous êtes libéré de cette course."}}
	},
	events.DriverOfferExpired: func(e events.Event) []message {
		return []message{{
			topic: DriverTopic(e.String("driver_id")),
			title: "Offre expirée",
			body:  "L'offre de course a expiré. Restez disponible pour la prochaine!",
		}}
	},
}

// Register subscribes the notification handlers and returns a func removing them.
func Register(bus Subscriber, pusher Pusher, logger *slog.Logger) func() {
	unsubs := make([]func(), 0, len(rules))
	for name, r := range rules {
		unsubs = append(unsubs, bus.Subscribe(name, handler(r, pusher, logger)))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

func handler(r rule, pusher Pusher, logger *slog.Logger) events.Handler {
	return func(ctx context.Context, e events.Event) error {
		logger.Info("notification event", slog.String("event", e.Name), slog.String("event_id", e.ID))
		data := payload(e)
		var failed int
		for _, m := range r(e) {
			if err := pusher.Push(ctx, m.topic, m.title, m.body, data); err != nil {
				failed++
				logger.Warn("push failed",
					slog.String("event", e.Name),
					slog.String("topic", m.topic),
					slog.String("error", err.Error()),
				)
			}
		}
		if failed > 0 {
			return fmt.Errorf("%s: %d pushes failed", e.Name, failed)
		}
		return nil
	}
}

// payload flattens the string fields of an event for the FCM data map.
func payload(e events.Event) map[string]string {
	out := map[string]string{"event": e.Name}
	for k, v := range e.Data {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

// LogPusher logs notifications instead of sending them.
type LogPusher struct {
	logger *slog.Logger
}

func NewLogPusher(logger *slog.Logger) *LogPusher {
	return &LogPusher{logger: logger}
}

func (p *LogPusher) Push(_ context.Context, topic, title, body string, _ map[string]string) error {
	p.logger.Info("push notification",
		slog.String("topic", topic),
		slog.String("title", title),
		slog.String("body", body),
	)
	return nil
}
