// README: Matching service filters, scores, and selects candidates and tracks what was dispatched.
package matching

import (
	"context"
	"time"

	"nelo/internal/config"
	"nelo/internal/types"
)

// ScheduledOffer is the part of an offer the expiry queue needs.
type ScheduledOffer struct {
	ID        types.ID
	DriverID  types.ID
	ExpiresAt time.Time
}

type dispatchStore interface {
	RecordDispatch(ctx context.Context, deliveryID types.ID, offers []ScheduledOffer) error
	Notified(ctx context.Context, deliveryID types.ID) (map[types.ID]struct{}, error)
	DueOffers(ctx context.Context, now time.Time, limit int) ([]types.ID, error)
	AckExpired(ctx context.Context, ids ...types.ID) error
	GetDispatchedAt(ctx context.Context, deliveryID types.ID) (time.Time, bool, error)
}

type Service struct {
	store dispatchStore
	cfg   config.MatchingConfig
}

func NewService(store *Store, cfg *config.Config) *Service {
	return newService(store, cfg.Matching)
}

func newService(store dispatchStore, cfg config.MatchingConfig) *Service {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = selectPoolSize
	}
	if cfg.OfferCount <= 0 {
		cfg.OfferCount = notifyInitialCount
	}
	return &Service{store: store, cfg: cfg}
}

func (s *Service) Config() config.MatchingConfig {
	return s.cfg
}

// Select drops drivers already offered this delivery, keeps the closest
// pool, scores them, and returns the best OfferCount.
func (s *Service) Select(ctx context.Context, deliveryID types.ID, nearby []Candidate, orderValue int64, requiredVehicle string) ([]Candidate, error) {
	notified, err := s.store.Notified(ctx, deliveryID)
	if err != nil {
		return nil, err
	}
	pool := make([]Candidate, 0, len(nearby))
	for _, c := range nearby {
		if _, seen := notified[c.DriverID]; seen {
			continue
		}
		pool = append(pool, c)
		if len(pool) == s.cfg.PoolSize {
			break
		}
	}
	return Top(Rank(pool, orderValue, requiredVehicle), s.cfg.OfferCount), nil
}

// Record marks the offered drivers as notified and queues the offers for expiry.
func (s *Service) Record(ctx context.Context, deliveryID types.ID, offers []ScheduledOffer) error {
	return s.store.RecordDispatch(ctx, deliveryID, offers)
}

func (s *Service) DueOffers(ctx context.Context, now time.Time, limit int) ([]types.ID, error) {
	return s.store.DueOffers(ctx, now, limit)
}

func (s *Service) AckExpired(ctx context.Context, ids ...types.ID) error {
	return s.store.AckExpired(ctx, ids...)
}

// DispatchedAt returns when the delivery was first offered to drivers.
func (s *Service) DispatchedAt(ctx context.Context, deliveryID types.ID) (time.Time, bool, error) {
	return s.store.GetDispatchedAt(ctx, deliveryID)
}
