// README: Live driver positions and per-delivery location history.
package location

import (
	"time"

	"nelo/internal/types"
)

// TrackPoint is one persisted position report made while a delivery is underway.
type TrackPoint struct {
	ID         int64
	DeliveryID types.ID
	DriverID   types.ID
	Position   types.Point
	Speed      *float64
	RecordedAt time.Time
}

// DriverPosition is a cached position returned by the nearby lookup.
type DriverPosition struct {
	DriverID   types.ID
	Position   types.Point
	DistanceKm float64
}
