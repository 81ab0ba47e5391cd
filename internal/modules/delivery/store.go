// README: Delivery store backed by PostgreSQL: deliveries, offers, status history, and earnings.
package delivery

import (
	"context"
	"errors"
	"fmt"
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

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.db.WithinTx(ctx, fn)
}

const deliveryColumns = `
	id, order_id, reference, status, status_version,
	pickup_address, pickup_lat, pickup_lng, dropoff_address, dropoff_lat, dropoff_lng,
	distance_km, delivery_fee, tip_amount, driver_earnings, collected_cash,
	driver_id, matching_score, eta_minutes, delivery_code, delivery_photo_url, failure_reason,
	created_at, assigned_at, picked_up_at, delivered_at, failed_at, cancelled_at, updated_at`

const offerColumns = `
	id, delivery_id, driver_id, matching_score, distance_km, estimated_earnings,
	status, expires_at, responded_at, created_at`

func (s *Store) Create(ctx context.Context, d *Delivery) error {
	_, err := s.db.Conn(ctx).Exec(ctx, `
		INSERT INTO deliveries (
			id, order_id, reference, status, status_version,
			pickup_address, pickup_lat, pickup_lng, dropoff_address, dropoff_lat, dropoff_lng,
			distance_km, delivery_fee, tip_amount, delivery_code, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $16)`,
		string(d.ID), string(d.OrderID), d.Reference, string(d.Status), d.StatusVersion,
		d.Pickup.Address, d.Pickup.Position.Lat, d.Pickup.Position.Lng,
		d.Dropoff.Address, d.Dropoff.Position.Lat, d.Dropoff.Position.Lng,
		d.DistanceKm, d.DeliveryFee, d.TipAmount, d.Code, d.CreatedAt,
	)
	if infra.IsUniqueViolation(err) {
		return fmt.Errorf("delivery for order %s: %w", d.OrderID, apperr.ErrConflict)
	}
	return err
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Delivery, error) {
	return scanDelivery(s.db.Conn(ctx).QueryRow(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE id = $1`, string(id)))
}

// GetForUpdate locks the delivery row for the rest of the transaction.
func (s *Store) GetForUpdate(ctx context.Context, id types.ID) (*Delivery, error) {
	return scanDelivery(s.db.Conn(ctx).QueryRow(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE id = $1 FOR UPDATE`, string(id)))
}

func (s *Store) GetByOrder(ctx context.Context, orderID types.ID) (*Delivery, error) {
	return scanDelivery(s.db.Conn(ctx).QueryRow(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE order_id = $1`, string(orderID)))
}

func (s *Store) ListActiveByDriver(ctx context.Context, driverID types.ID) ([]Delivery, error) {
	rows, err := s.db.Conn(ctx).Query(ctx, `
		SELECT `+deliveryColumns+`
		FROM deliveries
		WHERE driver_id = $1
		  AND status IN ('accepted','picking_up','picked_up','delivering')
		ORDER BY assigned_at ASC`, string(driverID),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// CountActiveByDriver counts the deliveries the driver is working between accept and drop-off.
func (s *Store) CountActiveByDriver(ctx context.Context, driverID types.ID) (int, error) {
	var n int
	err := s.db.Conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*)
		FROM deliveries
		WHERE driver_id = $1
		  AND status IN ('accepted','picking_up','picked_up','delivering')`, string(driverID),
	).Scan(&n)
	return n, err
}

// Save writes the mutable delivery fields guarded by status_version.
func (s *Store) Save(ctx context.Context, d *Delivery) error {
	tag, err := s.db.Conn(ctx).Exec(ctx, `
		UPDATE deliveries
		SET status = $3,
		    status_version = status_version + 1,
		    driver_id = $4,
		    matching_score = $5,
		    eta_minutes = $6,
		    driver_earnings = $7,
		    collected_cash = $8,
		    delivery_photo_url = $9,
		    failure_reason = $10,
		    assigned_at = $11,
		    picked_up_at = $12,
		    delivered_at = $13,
		    failed_at = $14,
		    cancelled_at = $15,
		    updated_at = NOW()
		WHERE id = $1 AND status_version = $2`,
		string(d.ID), d.StatusVersion, string(d.Status),
		idPtr(d.DriverID), d.MatchingScore, d.ETAMinutes, d.DriverEarnings, d.CollectedCash,
		d.PhotoURL, d.FailureReason,
		d.AssignedAt, d.PickedUpAt, d.DeliveredAt, d.FailedAt, d.CancelledAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("delivery %s: %w", d.ID, apperr.ErrConflict)
	}
	d.StatusVersion++
	return nil
}

func (s *Store) AppendHistory(ctx context.Context, h *HistoryEntry) error {
	var lat, lng *float64
	if h.Location != nil {
		lat, lng = &h.Location.Lat, &h.Location.Lng
	}
	var from *string
	if h.FromStatus != nil {
		v := string(*h.FromStatus)
		from = &v
	}
	return s.db.Conn(ctx).QueryRow(ctx, `
		INSERT INTO delivery_status_history (delivery_id, from_status, to_status, changed_by, latitude, longitude, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		string(h.DeliveryID), from, string(h.ToStatus), idPtr(h.ChangedBy), lat, lng, h.Notes, h.CreatedAt,
	).Scan(&h.ID)
}

func (s *Store) History(ctx context.Context, deliveryID types.ID) ([]HistoryEntry, error) {
	rows, err := s.db.Conn(ctx).Query(ctx, `
		SELECT id, delivery_id, from_status, to_status, changed_by, latitude, longitude, notes, created_at
		FROM delivery_status_history
		WHERE delivery_id = $1
		ORDER BY created_at ASC, id ASC`, string(deliveryID),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		var lat, lng *float64
		if err := rows.Scan(&h.ID, &h.DeliveryID, &h.FromStatus, &h.ToStatus, &h.ChangedBy, &lat, &lng, &h.Notes, &h.CreatedAt); err != nil {
			return nil, err
		}
		if lat != nil && lng != nil {
			h.Location = &types.Point{Lat: *lat, Lng: *lng}
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *Store) InsertOffers(ctx context.Context, offers []Offer) error {
	for _, o := range offers {
		_, err := s.db.Conn(ctx).Exec(ctx, `
			INSERT INTO delivery_offers (`+offerColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			string(o.ID), string(o.DeliveryID), string(o.DriverID), o.MatchingScore, o.DistanceKm,
			o.EstimatedEarnings, string(o.Status), o.ExpiresAt, o.RespondedAt, o.CreatedAt,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) GetOffer(ctx context.Context, id types.ID) (*Offer, error) {
	return scanOffer(s.db.Conn(ctx).QueryRow(ctx, `SELECT `+offerColumns+` FROM delivery_offers WHERE id = $1`, string(id)))
}

func (s *Store) GetOfferForUpdate(ctx context.Context, id types.ID) (*Offer, error) {
	return scanOffer(s.db.Conn(ctx).QueryRow(ctx, `SELECT `+offerColumns+` FROM delivery_offers WHERE id = $1 FOR UPDATE`, string(id)))
}

// ResolveOffer moves a pending offer to a terminal status. It reports false when the offer was no longer pending.
func (s *Store) ResolveOffer(ctx context.Context, id types.ID, to OfferStatus, at time.Time) (bool, error) {
	tag, err := s.db.Conn(ctx).Exec(ctx, `
		UPDATE delivery_offers
		SET status = $2, responded_at = $3
		WHERE id = $1 AND status = 'pending'`, string(id), string(to), at,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// RejectPendingOffers closes every pending offer of a delivery except keepID.
func (s *Store) RejectPendingOffers(ctx context.Context, deliveryID, keepID types.ID, at time.Time) (int64, error) {
	tag, err := s.db.Conn(ctx).Exec(ctx, `
		UPDATE delivery_offers
		SET status = 'rejected', responded_at = $3
		WHERE delivery_id = $1 AND id <> $2 AND status = 'pending'`, string(deliveryID), string(keepID), at,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) PendingOffersForDriver(ctx context.Context, driverID types.ID, now time.Time) ([]Offer, error) {
	rows, err := s.db.Conn(ctx).Query(ctx, `
		SELECT `+offerColumns+`
		FROM delivery_offers
		WHERE driver_id = $1 AND status = 'pending' AND expires_at >= $2
		ORDER BY expires_at ASC`, string(driverID), now,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func (s *Store) HasPendingOffers(ctx context.Context, deliveryID types.ID, now time.Time) (bool, error) {
	var exists bool
	err := s.db.Conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM delivery_offers
			WHERE delivery_id = $1 AND status = 'pending' AND expires_at >= $2
		)`, string(deliveryID), now,
	).Scan(&exists)
	return exists, err
}

func (s *Store) InsertEarning(ctx context.Context, e *Earning) error {
	err := s.db.Conn(ctx).QueryRow(ctx, `
		INSERT INTO driver_earnings (driver_id, delivery_id, type, gross_amount, commission, net_amount, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		string(e.DriverID), string(e.DeliveryID), e.Type, e.Gross, e.Commission, e.Net, e.Status, e.CreatedAt,
	).Scan(&e.ID)
	if infra.IsUniqueViolation(err) {
		return fmt.Errorf("earning for delivery %s: %w", e.DeliveryID, apperr.ErrConflict)
	}
	return err
}

func scanDelivery(row pgx.Row) (*Delivery, error) {
	var d Delivery
	err := row.Scan(
		&d.ID, &d.OrderID, &d.Reference, &d.Status, &d.StatusVersion,
		&d.Pickup.Address, &d.Pickup.Position.Lat, &d.Pickup.Position.Lng,
		&d.Dropoff.Address, &d.Dropoff.Position.Lat, &d.Dropoff.Position.Lng,
		&d.DistanceKm, &d.DeliveryFee, &d.TipAmount, &d.DriverEarnings, &d.CollectedCash,
		&d.DriverID, &d.MatchingScore, &d.ETAMinutes, &d.Code, &d.PhotoURL, &d.FailureReason,
		&d.CreatedAt, &d.AssignedAt, &d.PickedUpAt, &d.DeliveredAt, &d.FailedAt, &d.CancelledAt, &d.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func scanOffer(row pgx.Row) (*Offer, error) {
	var o Offer
	err := row.Scan(
		&o.ID, &o.DeliveryID, &o.DriverID, &o.MatchingScore, &o.DistanceKm, &o.EstimatedEarnings,
		&o.Status, &o.ExpiresAt, &o.RespondedAt, &o.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func idPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}
