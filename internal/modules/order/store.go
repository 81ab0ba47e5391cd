// README: Order store backed by PostgreSQL.
package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"nelo/internal/apperr"
	"nelo/internal/infra"
	"nelo/internal/modules/pricing"
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

const orderColumns = `
	id, reference, user_id, provider_id, status, status_version,
	provider_name, provider_address, provider_lat, provider_lng,
	address_label, address_text, address_lat, address_lng, address_instructions,
	subtotal, delivery_fee, service_fee, discount_amount, tip_amount, total,
	payment_method, payment_status, notes, cancellation_reason, cancelled_by,
	created_at, confirmed_at, preparing_at, ready_at, picked_up_at, delivered_at,
	cancelled_at, refunded_at, updated_at`

func (s *Store) Create(ctx context.Context, o *Order) error {
	_, err := s.db.Conn(ctx).Exec(ctx, `
		INSERT INTO orders (
			id, reference, user_id, provider_id, status, status_version,
			provider_name, provider_address, provider_lat, provider_lng,
			address_label, address_text, address_lat, address_lng, address_instructions,
			subtotal, delivery_fee, service_fee, discount_amount, tip_amount, total,
			payment_method, payment_status, notes, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21,
			$22, $23, $24, $25, $25
		)`,
		string(o.ID), o.Reference, string(o.UserID), string(o.ProviderID), string(o.Status), o.StatusVersion,
		o.Provider.Name, o.Provider.Address, o.Provider.Position.Lat, o.Provider.Position.Lng,
		o.Address.Label, o.Address.Address, o.Address.Position.Lat, o.Address.Position.Lng, o.Address.Instructions,
		o.Subtotal, o.DeliveryFee, o.ServiceFee, o.DiscountAmount, o.TipAmount, o.Total,
		o.PaymentMethod, o.PaymentStatus, o.Notes, o.CreatedAt,
	)
	if infra.IsUniqueViolation(err) {
		return fmt.Errorf("order reference %s: %w", o.Reference, apperr.ErrConflict)
	}
	if err != nil {
		return err
	}
	for _, it := range o.Items {
		_, err := s.db.Conn(ctx).Exec(ctx, `
			INSERT INTO order_items (order_id, product_id, name, unit_price, quantity, options, total_price)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			string(o.ID), string(it.ProductID), it.Name, it.UnitPrice, it.Quantity, it.Options, it.TotalPrice,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Order, error) {
	o, err := scanOrder(s.db.Conn(ctx).QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, string(id)))
	if err != nil {
		return nil, err
	}
	return o, s.loadItems(ctx, o)
}

func (s *Store) GetByReference(ctx context.Context, reference string) (*Order, error) {
	o, err := scanOrder(s.db.Conn(ctx).QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE reference = $1`, reference))
	if err != nil {
		return nil, err
	}
	return o, s.loadItems(ctx, o)
}

// ListByUser returns a page of the user's orders, newest first. Items are not loaded.
func (s *Store) ListByUser(ctx context.Context, userID types.ID, limit, offset int) ([]Order, error) {
	rows, err := s.db.Conn(ctx).Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, string(userID), limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// UpdateStatus persists a transition if nobody moved the order since version was read.
func (s *Store) UpdateStatus(ctx context.Context, o *Order, version int) (bool, error) {
	tag, err := s.db.Conn(ctx).Exec(ctx, `
		UPDATE orders
		SET status = $3,
		    status_version = status_version + 1,
		    cancellation_reason = $4,
		    cancelled_by = $5,
		    confirmed_at = $6,
		    preparing_at = $7,
		    ready_at = $8,
		    picked_up_at = $9,
		    delivered_at = $10,
		    cancelled_at = $11,
		    refunded_at = $12,
		    updated_at = NOW()
		WHERE id = $1 AND status_version = $2`,
		string(o.ID), version, string(o.Status),
		o.CancellationReason, o.CancelledBy,
		o.ConfirmedAt, o.PreparingAt, o.ReadyAt, o.PickedUpAt, o.DeliveredAt, o.CancelledAt, o.RefundedAt,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}
	o.StatusVersion = version + 1
	return true, nil
}

func (s *Store) AppendHistory(ctx context.Context, h *HistoryEntry) error {
	var from *string
	if h.FromStatus != nil {
		v := string(*h.FromStatus)
		from = &v
	}
	return s.db.Conn(ctx).QueryRow(ctx, `
		INSERT INTO order_status_history (order_id, from_status, to_status, changed_by, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		string(h.OrderID), from, string(h.ToStatus), h.ChangedBy, h.Notes, h.CreatedAt,
	).Scan(&h.ID)
}

func (s *Store) History(ctx context.Context, orderID types.ID) ([]HistoryEntry, error) {
	rows, err := s.db.Conn(ctx).Query(ctx, `
		SELECT id, order_id, from_status, to_status, changed_by, notes, created_at
		FROM order_status_history
		WHERE order_id = $1
		ORDER BY created_at ASC, id ASC`, string(orderID),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		if err := rows.Scan(&h.ID, &h.OrderID, &h.FromStatus, &h.ToStatus, &h.ChangedBy, &h.Notes, &h.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *Store) loadItems(ctx context.Context, o *Order) error {
	rows, err := s.db.Conn(ctx).Query(ctx, `
		SELECT product_id, name, unit_price, quantity, options, total_price
		FROM order_items
		WHERE order_id = $1
		ORDER BY id ASC`, string(o.ID),
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var it pricing.Line
		if err := rows.Scan(&it.ProductID, &it.Name, &it.UnitPrice, &it.Quantity, &it.Options, &it.TotalPrice); err != nil {
			return err
		}
		o.Items = append(o.Items, it)
	}
	return rows.Err()
}

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(
		&o.ID, &o.Reference, &o.UserID, &o.ProviderID, &o.Status, &o.StatusVersion,
		&o.Provider.Name, &o.Provider.Address, &o.Provider.Position.Lat, &o.Provider.Position.Lng,
		&o.Address.Label, &o.Address.Address, &o.Address.Position.Lat, &o.Address.Position.Lng, &o.Address.Instructions,
		&o.Subtotal, &o.DeliveryFee, &o.ServiceFee, &o.DiscountAmount, &o.TipAmount, &o.Total,
		&o.PaymentMethod, &o.PaymentStatus, &o.Notes, &o.CancellationReason, &o.CancelledBy,
		&o.CreatedAt, &o.ConfirmedAt, &o.PreparingAt, &o.ReadyAt, &o.PickedUpAt, &o.DeliveredAt,
		&o.CancelledAt, &o.RefundedAt, &o.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}
