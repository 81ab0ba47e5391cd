// README: Catalog store backed by PostgreSQL (providers and their products).
package pricing

import (
	"context"
	"errors"

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

func (s *Store) GetProvider(ctx context.Context, id types.ID) (*Provider, error) {
	var p Provider
	err := s.db.Conn(ctx).QueryRow(ctx, `
		SELECT id, name, address, latitude, longitude, is_active, is_open, min_order_amount
		FROM providers
		WHERE id = $1`, string(id),
	).Scan(&p.ID, &p.Name, &p.Address, &p.Position.Lat, &p.Position.Lng, &p.IsActive, &p.IsOpen, &p.MinOrderAmount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Products loads the requested products that belong to providerID, keyed by id.
func (s *Store) Products(ctx context.Context, providerID types.ID, ids []types.ID) (map[types.ID]Product, error) {
	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = string(id)
	}
	rows, err := s.db.Conn(ctx).Query(ctx, `
		SELECT id, provider_id, name, price, is_available
		FROM products
		WHERE provider_id = $1 AND id = ANY($2)`, string(providerID), raw,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[types.ID]Product, len(ids))
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.ProviderID, &p.Name, &p.Price, &p.IsAvailable); err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}
