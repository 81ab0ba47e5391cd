// README: Location store backed by Redis GEO (live positions) and Postgres (delivery history).
package location

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"nelo/internal/infra"
	"nelo/internal/types"
)

const driverGeoKey = "drivers:positions"

type Store struct {
	db    *infra.DB
	redis *redis.Client
}

func NewStore(db *infra.DB, redis *redis.Client) *Store {
	return &Store{db: db, redis: redis}
}

func (s *Store) SetGeo(ctx context.Context, driverID types.ID, pos types.Point) error {
	return s.redis.GeoAdd(ctx, driverGeoKey, &redis.GeoLocation{
		Name:      string(driverID),
		Longitude: pos.Lng,
		Latitude:  pos.Lat,
	}).Err()
}

// RemoveDriver drops a driver from the live position set.
func (s *Store) RemoveDriver(ctx context.Context, driverID types.ID) error {
	return s.redis.ZRem(ctx, driverGeoKey, string(driverID)).Err()
}

func (s *Store) Nearby(ctx context.Context, p types.Point, radiusKm float64, limit int) ([]DriverPosition, error) {
	results, err := s.redis.GeoSearchLocation(ctx, driverGeoKey, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  p.Lng,
			Latitude:   p.Lat,
			Radius:     radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
			Count:      limit,
		},
		WithCoord: true,
		WithDist:  true,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("geo search: %w", err)
	}
	out := make([]DriverPosition, len(results))
	for i, r := range results {
		out[i] = DriverPosition{
			DriverID:   types.ID(r.Name),
			Position:   types.Point{Lat: r.Latitude, Lng: r.Longitude},
			DistanceKm: Round2(r.Dist),
		}
	}
	return out, nil
}

func (s *Store) AppendTrackPoint(ctx context.Context, tp *TrackPoint) error {
	row := s.db.Conn(ctx).QueryRow(ctx, `
		INSERT INTO delivery_location_history (delivery_id, driver_id, latitude, longitude, speed, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		string(tp.DeliveryID),
		string(tp.DriverID),
		tp.Position.Lat,
		tp.Position.Lng,
		tp.Speed,
		tp.RecordedAt,
	)
	return row.Scan(&tp.ID)
}

// TrackPoints returns the latest points for a delivery, newest first.
func (s *Store) TrackPoints(ctx context.Context, deliveryID types.ID, limit int) ([]TrackPoint, error) {
	rows, err := s.db.Conn(ctx).Query(ctx, `
		SELECT id, delivery_id, driver_id, latitude, longitude, speed, recorded_at
		FROM delivery_location_history
		WHERE delivery_id = $1
		ORDER BY recorded_at DESC
		LIMIT $2`, string(deliveryID), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TrackPoint
	for rows.Next() {
		var tp TrackPoint
		if err := rows.Scan(&tp.ID, &tp.DeliveryID, &tp.DriverID, &tp.Position.Lat, &tp.Position.Lng, &tp.Speed, &tp.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, tp)
	}
	return out, rows.Err()
}
