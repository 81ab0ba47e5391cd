// README: Location service handles driver position updates and the nearby-driver lookup.
package location

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"nelo/internal/apperr"
	"nelo/internal/types"
)

const nearbyLimit = 50

// DriverPositions persists the authoritative driver location used by dispatch.
type DriverPositions interface {
	UpdateLocation(ctx context.Context, driverID types.ID, p types.Point, at time.Time) (online bool, err error)
}

type cache interface {
	SetGeo(ctx context.Context, driverID types.ID, pos types.Point) error
	RemoveDriver(ctx context.Context, driverID types.ID) error
	Nearby(ctx context.Context, p types.Point, radiusKm float64, limit int) ([]DriverPosition, error)
}

type Service struct {
	cache   cache
	drivers DriverPositions
	logger  *slog.Logger
}

func NewService(store *Store, drivers DriverPositions, logger *slog.Logger) *Service {
	return &Service{cache: store, drivers: drivers, logger: logger}
}

// UpdateDriver records a driver's position. Online drivers are mirrored into the live cache.
func (s *Service) UpdateDriver(ctx context.Context, driverID types.ID, p types.Point) error {
	if !p.Valid() {
		return fmt.Errorf("%w: invalid coordinates", apperr.ErrBadRequest)
	}
	online, err := s.drivers.UpdateLocation(ctx, driverID, p, time.Now().UTC())
	if err != nil {
		return err
	}
	if !online {
		return s.cache.RemoveDriver(ctx, driverID)
	}
	if err := s.cache.SetGeo(ctx, driverID, p); err != nil {
		// Postgres already holds the position; the cache only feeds the map view.
		s.logger.Warn("driver position cache update failed",
			slog.String("driver_id", string(driverID)),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// RemoveDriver takes a driver off the live map.
func (s *Service) RemoveDriver(ctx context.Context, driverID types.ID) error {
	return s.cache.RemoveDriver(ctx, driverID)
}

// Nearby lists cached driver positions around p, closest first.
func (s *Service) Nearby(ctx context.Context, p types.Point, radiusKm float64) ([]DriverPosition, error) {
	if !p.Valid() || radiusKm <= 0 {
		return nil, fmt.Errorf("%w: invalid search area", apperr.ErrBadRequest)
	}
	out, err := s.cache.Nearby(ctx, p, radiusKm, nearbyLimit)
	if err != nil {
		return nil, err
	}
	sortByDistance(out, func(d DriverPosition) float64 { return d.DistanceKm })
	return out, nil
}
