// README: Driver record, status values, and the dispatch view of a nearby driver.
package driver

import (
	"time"

	"nelo/internal/modules/matching"
	"nelo/internal/types"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusRejected  Status = "rejected"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusSuspended, StatusRejected:
		return true
	}
	return false
}

const (
	VehicleBicycle    = "bicycle"
	VehicleMotorcycle = "motorcycle"
	VehicleTricycle   = "tricycle"
	VehicleCar        = "car"
	VehicleVan        = "van"
)

type Driver struct {
	ID                types.ID     `json:"id"`
	UserID            types.ID     `json:"user_id"`
	DisplayName       string       `json:"display_name"`
	Phone             string       `json:"phone"`
	VehicleType       string       `json:"vehicle_type"`
	VehiclePlate      string       `json:"vehicle_plate"`
	Status            Status       `json:"status"`
	IsOnline          bool         `json:"is_online"`
	IsAvailable       bool         `json:"is_available"`
	Location          *types.Point `json:"location,omitempty"`
	LocationUpdatedAt *time.Time   `json:"location_updated_at,omitempty"`
	MaxOrders         int          `json:"max_orders"`
	CompletionRate    float64      `json:"completion_rate"`
	AverageRating     *float64     `json:"average_rating,omitempty"`
	TotalDeliveries   int          `json:"total_deliveries"`
	CommissionRate    float64      `json:"commission_rate"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

// Summary is the driver data shown to customers tracking a delivery.
type Summary struct {
	ID           types.ID     `json:"id"`
	DisplayName  string       `json:"display_name"`
	Phone        string       `json:"phone"`
	VehicleType  string       `json:"vehicle_type"`
	VehiclePlate string       `json:"vehicle_plate"`
	Location     *types.Point `json:"location,omitempty"`
}

// CanTakeDelivery reports whether the driver may start one more delivery
// while already holding active ones.
func (d *Driver) CanTakeDelivery(active int) bool {
	return d.Status == StatusActive && d.IsOnline && active < d.MaxOrders
}

func (d *Driver) Summary() Summary {
	return Summary{
		ID:           d.ID,
		DisplayName:  d.DisplayName,
		Phone:        d.Phone,
		VehicleType:  d.VehicleType,
		VehiclePlate: d.VehiclePlate,
		Location:     d.Location,
	}
}

// Nearby is a dispatchable driver returned by the geo query.
type Nearby struct {
	Driver
	DistanceKm   float64
	ActiveOrders int
}

func (n Nearby) Candidate() matching.Candidate {
	return matching.Candidate{
		Profile: matching.Profile{
			DriverID:       n.ID,
			VehicleType:    n.VehicleType,
			MaxOrders:      n.MaxOrders,
			ActiveOrders:   n.ActiveOrders,
			AverageRating:  n.AverageRating,
			CompletionRate: n.CompletionRate,
			CommissionRate: n.CommissionRate,
		},
		DistanceKm: n.DistanceKm,
	}
}
