package matching

import (
	"math"
	"sort"
)

// Score rates a driver for a delivery on a 0..100 scale. orderValue is part
// of the contract but carries no weight yet.
func Score(p Profile, distanceKm float64, orderValue int64, requiredVehicle string) float64 {
	_ = orderValue

	proximity := clamp01(1 - distanceKm/maxProximityKm)

	availability := 0.0
	if p.MaxOrders > 0 {
		availability = clamp01(1 - float64(p.ActiveOrders)/float64(p.MaxOrders))
	}

	rating := defaultRating
	if p.AverageRating != nil {
		rating = *p.AverageRating
	}
	ratingScore := clamp01((rating - 1) / 4)

	vehicle := 1.0
	if requiredVehicle != "" && p.VehicleType != requiredVehicle {
		vehicle = vehicleMismatchScore
	}

	history := clamp01(p.CompletionRate / 100)

	total := weightProximity*proximity +
		weightAvailability*availability +
		weightRating*ratingScore +
		weightVehicle*vehicle +
		weightHistory*history

	return math.Round(total*100*100) / 100
}

// Rank scores every candidate and orders them best first. Ties go to the closer driver.
func Rank(candidates []Candidate, orderValue int64, requiredVehicle string) []Candidate {
	ranked := make([]Candidate, len(candidates))
	for i, c := range candidates {
		c.Score = Score(c.Profile, c.DistanceKm, orderValue, requiredVehicle)
		ranked[i] = c
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].DistanceKm < ranked[j].DistanceKm
	})
	return ranked
}

// Top returns at most n candidates from the head of a ranked slice.
func Top(ranked []Candidate, n int) []Candidate {
	if n < 0 {
		n = 0
	}
	if len(ranked) > n {
		return ranked[:n]
	}
	return ranked
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
