// README: Location handlers for the customer map view.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"nelo/internal/types"
)

const (
	defaultNearbyRadiusKm = 5.0
	maxNearbyRadiusKm     = 20.0
)

type LocationHandler struct {
	location LocationService
}

func NewLocationHandler(svc LocationService) *LocationHandler {
	return &LocationHandler{location: svc}
}

type nearbyDriver struct {
	DriverID   types.ID    `json:"driver_id"`
	Position   types.Point `json:"position"`
	DistanceKm float64     `json:"distance_km"`
}

// Nearby lists online drivers around ?lat=&lng= within ?radius_km=.
func (h *LocationHandler) Nearby(c *gin.Context) {
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
	if errLat != nil || errLng != nil {
		writeError(c, http.StatusBadRequest, "lat and lng are required")
		return
	}
	radius := defaultNearbyRadiusKm
	if v := c.Query("radius_km"); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil || r <= 0 {
			writeError(c, http.StatusBadRequest, "invalid radius_km")
			return
		}
		radius = min(r, maxNearbyRadiusKm)
	}

	positions, err := h.location.Nearby(c.Request.Context(), types.Point{Lat: lat, Lng: lng}, radius)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	out := make([]nearbyDriver, len(positions))
	for i, p := range positions {
		out[i] = nearbyDriver{DriverID: p.DriverID, Position: p.Position, DistanceKm: p.DistanceKm}
	}
	writeJSON(c, http.StatusOK, gin.H{"drivers": out})
}
