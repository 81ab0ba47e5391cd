// README: Delivery aggregate, offers, history, earnings, and the delivery state flow.
package delivery

import (
	"time"

	"nelo/internal/types"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusAssigned   Status = "assigned"
	StatusAccepted   Status = "accepted"
	StatusPickingUp  Status = "picking_up"
	StatusPickedUp   Status = "picked_up"
	StatusDelivering Status = "delivering"
	StatusDelivered  Status = "delivered"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Active reports whether a driver is working the delivery.
func (s Status) Active() bool {
	switch s {
	case StatusAccepted, StatusPickingUp, StatusPickedUp, StatusDelivering:
		return true
	}
	return false
}

// Dispatchable reports whether offers may still be sent or accepted.
func (s Status) Dispatchable() bool {
	return s == StatusPending || s == StatusAssigned
}

type OfferStatus string

const (
	OfferPending  OfferStatus = "pending"
	OfferAccepted OfferStatus = "accepted"
	OfferRejected OfferStatus = "rejected"
	OfferExpired  OfferStatus = "expired"
)

type Stop struct {
	Address  string      `json:"address"`
	Position types.Point `json:"position"`
}

type Delivery struct {
	ID             types.ID   `json:"id"`
	OrderID        types.ID   `json:"order_id"`
	Reference      string     `json:"reference"`
	Status         Status     `json:"status"`
	StatusVersion  int        `json:"status_version"`
	Pickup         Stop       `json:"pickup"`
	Dropoff        Stop       `json:"dropoff"`
	DistanceKm     float64    `json:"distance_km"`
	DeliveryFee    int64      `json:"delivery_fee"`
	TipAmount      int64      `json:"tip_amount"`
	DriverEarnings int64      `json:"driver_earnings"`
	CollectedCash  int64      `json:"collected_cash"`
	DriverID       *types.ID  `json:"driver_id,omitempty"`
	MatchingScore  *float64   `json:"matching_score,omitempty"`
	ETAMinutes     *int       `json:"eta_minutes,omitempty"`
	Code           string     `json:"-"`
	PhotoURL       *string    `json:"delivery_photo_url,omitempty"`
	FailureReason  *string    `json:"failure_reason,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	AssignedAt     *time.Time `json:"assigned_at,omitempty"`
	PickedUpAt     *time.Time `json:"picked_up_at,omitempty"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty"`
	FailedAt       *time.Time `json:"failed_at,omitempty"`
	CancelledAt    *time.Time `json:"cancelled_at,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// OwnedBy reports whether driverID is the assigned driver.
func (d *Delivery) OwnedBy(driverID types.ID) bool {
	return d.DriverID != nil && *d.DriverID == driverID
}

type Offer struct {
	ID                types.ID    `json:"id"`
	DeliveryID        types.ID    `json:"delivery_id"`
	DriverID          types.ID    `json:"driver_id"`
	MatchingScore     float64     `json:"matching_score"`
	DistanceKm        float64     `json:"distance_km"`
	EstimatedEarnings int64       `json:"estimated_earnings"`
	Status            OfferStatus `json:"status"`
	ExpiresAt         time.Time   `json:"expires_at"`
	RespondedAt       *time.Time  `json:"responded_at,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
}

type HistoryEntry struct {
	ID         int64        `json:"id"`
	DeliveryID types.ID     `json:"delivery_id"`
	FromStatus *Status      `json:"from_status,omitempty"`
	ToStatus   Status       `json:"to_status"`
	ChangedBy  *types.ID    `json:"changed_by,omitempty"`
	Location   *types.Point `json:"location,omitempty"`
	Notes      string       `json:"notes,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

type Earning struct {
	ID         int64     `json:"id"`
	DriverID   types.ID  `json:"driver_id"`
	DeliveryID types.ID  `json:"delivery_id"`
	Type       string    `json:"type"`
	Gross      int64     `json:"gross_amount"`
	Commission int64     `json:"commission"`
	Net        int64     `json:"net_amount"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

// AllowedTransitions covers the driver-driven part of the flow.
// pending -> assigned -> accepted happens through offers, cancelled through Cancel.
var AllowedTransitions = map[Status][]Status{
	StatusAccepted:   {StatusPickingUp},
	StatusPickingUp:  {StatusPickedUp},
	StatusPickedUp:   {StatusDelivering},
	StatusDelivering: {StatusDelivered, StatusFailed},
}

func CanTransition(from, to Status) bool {
	for _, s := range AllowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ETAMinutes estimates arrival from the accepting driver's distance to the
// pickup: five minutes per km plus ten for the pickup itself, truncated.
func ETAMinutes(driverToPickupKm float64) int {
	return int(driverToPickupKm*5 + 10)
}

// DriverShare is the fee left to the driver after commission.
func DriverShare(fee int64, commissionRate float64) int64 {
	return int64(float64(fee) * (1 - commissionRate))
}

// NewEarning settles a delivered delivery: the tip goes to the driver untouched.
func NewEarning(d *Delivery, driverID types.ID, commissionRate float64, at time.Time) *Earning {
	gross := d.DeliveryFee + d.TipAmount
	commission := int64(float64(d.DeliveryFee) * commissionRate)
	return &Earning{
		DriverID:   driverID,
		DeliveryID: d.ID,
		Type:       "delivery",
		Gross:      gross,
		Commission: commission,
		Net:        gross - commission,
		Status:     "pending",
		CreatedAt:  at,
	}
}
