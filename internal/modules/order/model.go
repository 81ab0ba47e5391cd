// README: Order aggregate, status definitions, and the order state flow.
package order

import (
	"time"

	"nelo/internal/modules/pricing"
	"nelo/internal/types"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusPreparing  Status = "preparing"
	StatusReady      Status = "ready"
	StatusPickedUp   Status = "picked_up"
	StatusDelivering Status = "delivering"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
	StatusRefunded   Status = "refunded"
)

// Actor types recorded on transitions.
const (
	ActorCustomer = "customer"
	ActorProvider = "provider"
	ActorDriver   = "driver"
	ActorAdmin    = "admin"
	ActorSystem   = "system"
)

// ProviderSnapshot is the pickup side frozen at checkout.
type ProviderSnapshot struct {
	Name     string      `json:"name"`
	Address  string      `json:"address"`
	Position types.Point `json:"position"`
}

// AddressSnapshot is the dropoff side frozen at checkout.
type AddressSnapshot struct {
	Label        string      `json:"label"`
	Address      string      `json:"address"`
	Position     types.Point `json:"position"`
	Instructions string      `json:"instructions,omitempty"`
}

type Order struct {
	ID                 types.ID         `json:"id"`
	Reference          string           `json:"reference"`
	UserID             types.ID         `json:"user_id"`
	ProviderID         types.ID         `json:"provider_id"`
	Status             Status           `json:"status"`
	StatusVersion      int              `json:"status_version"`
	Provider           ProviderSnapshot `json:"provider"`
	Address            AddressSnapshot  `json:"delivery_address"`
	Items              []pricing.Line   `json:"items"`
	Subtotal           int64            `json:"subtotal"`
	DeliveryFee        int64            `json:"delivery_fee"`
	ServiceFee         int64            `json:"service_fee"`
	DiscountAmount     int64            `json:"discount_amount"`
	TipAmount          int64            `json:"tip_amount"`
	Total              int64            `json:"total"`
	PaymentMethod      string           `json:"payment_method"`
	PaymentStatus      string           `json:"payment_status"`
	Notes              string           `json:"notes,omitempty"`
	CancellationReason *string          `json:"cancellation_reason,omitempty"`
	CancelledBy        *string          `json:"cancelled_by,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
	ConfirmedAt        *time.Time       `json:"confirmed_at,omitempty"`
	PreparingAt        *time.Time       `json:"preparing_at,omitempty"`
	ReadyAt            *time.Time       `json:"ready_at,omitempty"`
	PickedUpAt         *time.Time       `json:"picked_up_at,omitempty"`
	DeliveredAt        *time.Time       `json:"delivered_at,omitempty"`
	CancelledAt        *time.Time       `json:"cancelled_at,omitempty"`
	RefundedAt         *time.Time       `json:"refunded_at,omitempty"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

type HistoryEntry struct {
	ID         int64     `json:"id"`
	OrderID    types.ID  `json:"order_id"`
	FromStatus *Status   `json:"from_status,omitempty"`
	ToStatus   Status    `json:"to_status"`
	ChangedBy  *string   `json:"changed_by,omitempty"`
	Notes      string    `json:"notes,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// AllowedTransitions represents the order state flow as code.
// Cancellation is open from every state before delivered.
var AllowedTransitions = map[Status][]Status{
	StatusPending:    {StatusConfirmed, StatusCancelled},
	StatusConfirmed:  {StatusPreparing, StatusCancelled},
	StatusPreparing:  {StatusReady, StatusCancelled},
	StatusReady:      {StatusPickedUp, StatusCancelled},
	StatusPickedUp:   {StatusDelivering, StatusCancelled},
	StatusDelivering: {StatusDelivered, StatusCancelled},
	StatusDelivered:  {StatusRefunded},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

// stamp sets the phase timestamp for status.
func (o *Order) stamp(status Status, at time.Time) {
	switch status {
	case StatusConfirmed:
		o.ConfirmedAt = &at
	case StatusPreparing:
		o.PreparingAt = &at
	case StatusReady:
		o.ReadyAt = &at
	case StatusPickedUp:
		o.PickedUpAt = &at
	case StatusDelivered:
		o.DeliveredAt = &at
	case StatusCancelled:
		o.CancelledAt = &at
	case StatusRefunded:
		o.RefundedAt = &at
	}
}
