// README: Pure geographic helpers: projected planar distance and rounding.
package location

import (
	"math"

	"nelo/internal/types"
)

// mercatorRadiusM is the EPSG:3857 sphere radius. Distances are Euclidean in
// that projection, the same metric the driver geo query computes in PostGIS.
// This overstates ground distance by roughly 1/cos(lat), which is acceptable
// at city scale near the equator.
const mercatorRadiusM = 6378137.0

// DistanceKm returns the planar Web Mercator distance between a and b in kilometres.
func DistanceKm(a, b types.Point) float64 {
	ax, ay := project(a)
	bx, by := project(b)
	return math.Hypot(bx-ax, by-ay) / 1000
}

// Round2 rounds to two decimals, the precision distances are stored and offered with.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func project(p types.Point) (x, y float64) {
	x = mercatorRadiusM * degreesToRadians(p.Lng)
	y = mercatorRadiusM * math.Log(math.Tan(math.Pi/4+degreesToRadians(p.Lat)/2))
	return x, y
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// sortByDistance performs an insertion sort (fine for small N) on any slice
// where each element exposes a distance via the accessor function.
func sortByDistance[T any](items []T, dist func(T) float64) {
	for i := 1; i < len(items); i++ {
		key := items[i]
		j := i - 1
		for j >= 0 && dist(items[j]) > dist(key) {
			items[j+1] = items[j]
			j--
		}
		items[j+1] = key
	}
}
