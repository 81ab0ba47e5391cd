// README: Driver service: admin status changes, online toggling, and the dispatch geo query.
package driver

import (
	"context"
	"fmt"
	"log/slog"

	"nelo/internal/apperr"
	"nelo/internal/types"
)

// PositionCache is the live map of driver positions.
type PositionCache interface {
	RemoveDriver(ctx context.Context, driverID types.ID) error
}

type driverStore interface {
	Get(ctx context.Context, id types.ID) (*Driver, error)
	ByUser(ctx context.Context, userID types.ID) (*Driver, error)
	FindAvailableWithin(ctx context.Context, p types.Point, radiusKm float64, limit int) ([]Nearby, error)
	UpdateStatus(ctx context.Context, id types.ID, status Status) error
	SetOnline(ctx context.Context, id types.ID, online bool) error
}

type Service struct {
	store  driverStore
	cache  PositionCache
	logger *slog.Logger
}

func NewService(store *Store, cache PositionCache, logger *slog.Logger) *Service {
	return &Service{store: store, cache: cache, logger: logger}
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Driver, error) {
	return s.store.Get(ctx, id)
}

// ByUser resolves the driver record owned by an authenticated user.
func (s *Service) ByUser(ctx context.Context, userID types.ID) (*Driver, error) {
	return s.store.ByUser(ctx, userID)
}

func (s *Service) FindAvailable(ctx context.Context, p types.Point, radiusKm float64, limit int) ([]Nearby, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("%w: invalid pickup point", apperr.ErrBadRequest)
	}
	return s.store.FindAvailableWithin(ctx, p, radiusKm, limit)
}

func (s *Service) UpdateStatus(ctx context.Context, id types.ID, status Status) (*Driver, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown driver status %q", apperr.ErrBadRequest, status)
	}
	if err := s.store.UpdateStatus(ctx, id, status); err != nil {
		return nil, err
	}
	if status != StatusActive {
		s.dropPosition(ctx, id)
	}
	return s.store.Get(ctx, id)
}

// SetOnline toggles whether an active driver receives offers.
func (s *Service) SetOnline(ctx context.Context, id types.ID, online bool) (*Driver, error) {
	d, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status != StatusActive {
		return nil, fmt.Errorf("%w: driver is %s", apperr.ErrBadRequest, d.Status)
	}
	if err := s.store.SetOnline(ctx, id, online); err != nil {
		return nil, err
	}
	if !online {
		s.dropPosition(ctx, id)
	}
	return s.store.Get(ctx, id)
}

func (s *Service) dropPosition(ctx context.Context, id types.ID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.RemoveDriver(ctx, id); err != nil {
		s.logger.Warn("driver position cache removal failed",
			slog.String("driver_id", string(id)),
			slog.String("error", err.Error()),
		)
	}
}
