// README: Matching candidates, scoring weights, and dispatch sizing.
package matching

import (
	"nelo/internal/types"
)

// Profile is the driver data the score depends on.
type Profile struct {
	DriverID       types.ID
	VehicleType    string
	MaxOrders      int
	ActiveOrders   int
	AverageRating  *float64
	CompletionRate float64
	CommissionRate float64
}

// Candidate is a driver found near a pickup point.
type Candidate struct {
	Profile
	DistanceKm float64
	Score      float64
}

const (
	weightProximity    = 0.30
	weightAvailability = 0.25
	weightRating       = 0.20
	weightVehicle      = 0.15
	weightHistory      = 0.10

	// maxProximityKm is where the proximity sub-score reaches zero.
	maxProximityKm = 5.0
	// defaultRating stands in for drivers without ratings yet.
	defaultRating = 3.0
	// vehicleMismatchScore is the vehicle sub-score when the type differs from the requirement.
	vehicleMismatchScore = 0.5
)

const (
	// notifyInitialCount is the number of drivers offered a delivery per dispatch.
	notifyInitialCount = 5
	// selectPoolSize is how many nearby drivers are sampled before scoring.
	selectPoolSize = 10
)
