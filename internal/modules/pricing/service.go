// README: Pricing service validates carts against the catalog and computes checkout fees.
package pricing

import (
	"context"
	"fmt"

	"nelo/internal/apperr"
	"nelo/internal/config"
	"nelo/internal/types"
)

type catalogStore interface {
	GetProvider(ctx context.Context, id types.ID) (*Provider, error)
	Products(ctx context.Context, providerID types.ID, ids []types.ID) (map[types.ID]Product, error)
}

type Service struct {
	store catalogStore
	cfg   config.PricingConfig
}

func NewService(store *Store, cfg *config.Config) *Service {
	return &Service{store: store, cfg: cfg.Pricing}
}

// Quote prices a cart. The provider must be active and open, every product
// available, and the subtotal at least the provider's minimum order.
func (s *Service) Quote(ctx context.Context, providerID types.ID, items []ItemRequest) (*Quote, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: order has no items", apperr.ErrBadRequest)
	}
	provider, err := s.store.GetProvider(ctx, providerID)
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", providerID, err)
	}
	if !provider.IsActive || !provider.IsOpen {
		return nil, fmt.Errorf("%w: provider %s is not taking orders", apperr.ErrBadRequest, providerID)
	}

	ids := make([]types.ID, len(items))
	for i, it := range items {
		ids[i] = it.ProductID
	}
	products, err := s.store.Products(ctx, providerID, ids)
	if err != nil {
		return nil, err
	}

	q := &Quote{Provider: *provider, Lines: make([]Line, 0, len(items))}
	for _, it := range items {
		if it.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity must be positive", apperr.ErrBadRequest)
		}
		p, ok := products[it.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: product %s is not sold by this provider", apperr.ErrBadRequest, it.ProductID)
		}
		if !p.IsAvailable {
			return nil, fmt.Errorf("%w: product %s is unavailable", apperr.ErrBadRequest, p.Name)
		}
		line := Line{
			ProductID:  p.ID,
			Name:       p.Name,
			UnitPrice:  p.Price,
			Quantity:   it.Quantity,
			Options:    it.Options,
			TotalPrice: p.Price * int64(it.Quantity),
		}
		q.Lines = append(q.Lines, line)
		q.Subtotal += line.TotalPrice
	}
	if q.Subtotal < provider.MinOrderAmount {
		return nil, fmt.Errorf("%w: minimum order is %d", apperr.ErrBadRequest, provider.MinOrderAmount)
	}
	return q, nil
}

// Fees applies the flat delivery fee and the service fee with its floor. Discounts are not offered yet.
func (s *Service) Fees(subtotal int64) Fees {
	service := int64(float64(subtotal) * s.cfg.ServiceFeeRate)
	if service < s.cfg.MinServiceFee {
		service = s.cfg.MinServiceFee
	}
	return Fees{
		DeliveryFee: s.cfg.DeliveryFee,
		ServiceFee:  service,
	}
}
