// README: Driver store backed by PostgreSQL/PostGIS.
package driver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"

	"nelo/internal/apperr"
	"nelo/internal/infra"
	"nelo/internal/types"
)

type Store struct {
	db *infra.DB
}

func NewStore(db *infra.DB) *Store {
	return &Store{db: db}
}

const driverColumns = `
	d.id, d.user_id, d.display_name, d.phone, d.vehicle_type, d.vehicle_plate,
	d.status, d.is_online, d.is_available,
	ST_Y(d.current_location), ST_X(d.current_location), d.location_updated_at,
	d.max_orders, d.completion_rate, d.average_rating, d.total_deliveries, d.commission_rate,
	d.created_at, d.updated_at`

// Distances are measured in EPSG:3857 so they agree with location.DistanceKm.
const findAvailableSQL = `
	WITH origin AS (
		SELECT ST_Transform(ST_SetSRID(ST_MakePoint($2, $1), 4326), 3857) AS geom
	)
	SELECT ` + driverColumns + `,
		ST_Distance(ST_Transform(d.current_location, 3857), origin.geom) / 1000.0 AS distance_km,
		(SELECT COUNT(*) FROM deliveries dl
		 WHERE dl.driver_id = d.id
		   AND dl.status IN ('accepted','picking_up','picked_up','delivering')) AS active_orders
	FROM drivers d, origin
	WHERE d.status = 'active'
	  AND d.is_online
	  AND d.is_available
	  AND d.current_location IS NOT NULL
	  AND ST_DWithin(ST_Transform(d.current_location, 3857), origin.geom, $3 * 1000.0)
	ORDER BY distance_km ASC
	LIMIT $4`

func (s *Store) Get(ctx context.Context, id types.ID) (*Driver, error) {
	row := s.db.Conn(ctx).QueryRow(ctx, `SELECT `+driverColumns+` FROM drivers d WHERE d.id = $1`, string(id))
	return scanDriver(row)
}

// GetForUpdate locks the driver row for the rest of the transaction.
func (s *Store) GetForUpdate(ctx context.Context, id types.ID) (*Driver, error) {
	row := s.db.Conn(ctx).QueryRow(ctx, `SELECT `+driverColumns+` FROM drivers d WHERE d.id = $1 FOR UPDATE`, string(id))
	return scanDriver(row)
}

func (s *Store) ByUser(ctx context.Context, userID types.ID) (*Driver, error) {
	row := s.db.Conn(ctx).QueryRow(ctx, `SELECT `+driverColumns+` FROM drivers d WHERE d.user_id = $1`, string(userID))
	return scanDriver(row)
}

// FindAvailableWithin lists dispatchable drivers within radiusKm of p, closest first.
func (s *Store) FindAvailableWithin(ctx context.Context, p types.Point, radiusKm float64, limit int) ([]Nearby, error) {
	rows, err := s.db.Conn(ctx).Query(ctx, findAvailableSQL, p.Lat, p.Lng, radiusKm, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Nearby
	for rows.Next() {
		var n Nearby
		var nulls scanNulls
		dest := append(driverDest(&n.Driver, &nulls), &n.DistanceKm, &n.ActiveOrders)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		n.Location = nulls.point()
		n.DistanceKm = math.Round(n.DistanceKm*100) / 100
		out = append(out, n)
	}
	return out, rows.Err()
}

// SetAvailable toggles availability. A driver can only be available while online.
func (s *Store) SetAvailable(ctx context.Context, id types.ID, available bool) error {
	tag, err := s.db.Conn(ctx).Exec(ctx, `
		UPDATE drivers
		SET is_available = ($2 AND is_online), updated_at = NOW()
		WHERE id = $1`, string(id), available,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("driver %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

// CompleteDelivery counts a finished delivery. Availability is left to the
// caller, which knows how many deliveries the driver still holds.
func (s *Store) CompleteDelivery(ctx context.Context, id types.ID) error {
	tag, err := s.db.Conn(ctx).Exec(ctx, `
		UPDATE drivers
		SET total_deliveries = total_deliveries + 1,
		    updated_at = NOW()
		WHERE id = $1`, string(id),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("driver %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

func (s *Store) UpdateStatus(ctx context.Context, id types.ID, status Status) error {
	tag, err := s.db.Conn(ctx).Exec(ctx, `
		UPDATE drivers
		SET status = $2,
		    is_online = CASE WHEN $2 = 'active' THEN is_online ELSE FALSE END,
		    is_available = CASE WHEN $2 = 'active' THEN is_online ELSE FALSE END,
		    updated_at = NOW()
		WHERE id = $1`, string(id), string(status),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("driver %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

func (s *Store) SetOnline(ctx context.Context, id types.ID, online bool) error {
	tag, err := s.db.Conn(ctx).Exec(ctx, `
		UPDATE drivers
		SET is_online = $2,
		    is_available = $2 AND (
		        SELECT COUNT(*) FROM deliveries dl
		        WHERE dl.driver_id = drivers.id
		          AND dl.status IN ('accepted','picking_up','picked_up','delivering')) < max_orders,
		    updated_at = NOW()
		WHERE id = $1`, string(id), online,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("driver %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

// UpdateLocation stores the driver position and reports whether the driver is online.
func (s *Store) UpdateLocation(ctx context.Context, id types.ID, p types.Point, at time.Time) (bool, error) {
	var online bool
	err := s.db.Conn(ctx).QueryRow(ctx, `
		UPDATE drivers
		SET current_location = ST_SetSRID(ST_MakePoint($2, $3), 4326),
		    location_updated_at = $4,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING is_online`, string(id), p.Lng, p.Lat, at,
	).Scan(&online)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("driver %s: %w", id, apperr.ErrNotFound)
	}
	return online, err
}

type scanNulls struct {
	lat, lng *float64
}

func driverDest(d *Driver, n *scanNulls) []any {
	return []any{
		&d.ID, &d.UserID, &d.DisplayName, &d.Phone, &d.VehicleType, &d.VehiclePlate,
		&d.Status, &d.IsOnline, &d.IsAvailable,
		&n.lat, &n.lng, &d.LocationUpdatedAt,
		&d.MaxOrders, &d.CompletionRate, &d.AverageRating, &d.TotalDeliveries, &d.CommissionRate,
		&d.CreatedAt, &d.UpdatedAt,
	}
}

func scanDriver(row pgx.Row) (*Driver, error) {
	var d Driver
	var n scanNulls
	err := row.Scan(driverDest(&d, &n)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	d.Location = n.point()
	return &d, nil
}

func (n *scanNulls) point() *types.Point {
	if n.lat == nil || n.lng == nil {
		return nil
	}
	return &types.Point{Lat: *n.lat, Lng: *n.lng}
}
