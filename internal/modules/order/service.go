// README: Order service implements checkout, state transitions, and order queries.
package order

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"nelo/internal/apperr"
	"nelo/internal/events"
	"nelo/internal/modules/pricing"
	"nelo/internal/types"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Catalog validates carts and prices checkout.
type Catalog interface {
	Quote(ctx context.Context, providerID types.ID, items []pricing.ItemRequest) (*pricing.Quote, error)
	Fees(subtotal int64) pricing.Fees
}

type Repository interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id types.ID) (*Order, error)
	GetByReference(ctx context.Context, reference string) (*Order, error)
	ListByUser(ctx context.Context, userID types.ID, limit, offset int) ([]Order, error)
	UpdateStatus(ctx context.Context, o *Order, version int) (bool, error)
	AppendHistory(ctx context.Context, h *HistoryEntry) error
	History(ctx context.Context, orderID types.ID) ([]HistoryEntry, error)
}

type Service struct {
	repo    Repository
	catalog Catalog
	events  events.Publisher
	logger  *slog.Logger
	now     func() time.Time
}

func NewService(store *Store, catalog *pricing.Service, publisher events.Publisher, logger *slog.Logger) *Service {
	return newService(store, catalog, publisher, logger)
}

func newService(repo Repository, catalog Catalog, publisher events.Publisher, logger *slog.Logger) *Service {
	return &Service{
		repo:    repo,
		catalog: catalog,
		events:  publisher,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

type CreateCommand struct {
	UserID        types.ID
	ProviderID    types.ID
	Items         []pricing.ItemRequest
	Address       AddressSnapshot
	TipAmount     int64
	PaymentMethod string
	Notes         string
}

type TransitionCommand struct {
	OrderID   types.ID
	To        Status
	ActorType string
	ActorID   types.ID
	Reason    string
}

// Create checks out a cart. Prices and totals always come from the catalog.
func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Order, error) {
	if cmd.UserID == "" || cmd.ProviderID == "" {
		return nil, fmt.Errorf("%w: user and provider are required", apperr.ErrBadRequest)
	}
	if !cmd.Address.Position.Valid() {
		return nil, fmt.Errorf("%w: invalid delivery address", apperr.ErrBadRequest)
	}
	if cmd.TipAmount < 0 {
		return nil, fmt.Errorf("%w: tip cannot be negative", apperr.ErrBadRequest)
	}

	quote, err := s.catalog.Quote(ctx, cmd.ProviderID, cmd.Items)
	if err != nil {
		return nil, err
	}
	fees := s.catalog.Fees(quote.Subtotal)

	payment := cmd.PaymentMethod
	if payment == "" {
		payment = "cash"
	}
	now := s.now()
	o := &Order{
		ID:         types.NewID(),
		Reference:  types.NewReference(types.OrderReferencePrefix),
		UserID:     cmd.UserID,
		ProviderID: cmd.ProviderID,
		Status:     StatusPending,
		Provider: ProviderSnapshot{
			Name:     quote.Provider.Name,
			Address:  quote.Provider.Address,
			Position: quote.Provider.Position,
		},
		Address:        cmd.Address,
		Items:          quote.Lines,
		Subtotal:       quote.Subtotal,
		DeliveryFee:    fees.DeliveryFee,
		ServiceFee:     fees.ServiceFee,
		DiscountAmount: fees.Discount,
		TipAmount:      cmd.TipAmount,
		Total:          fees.Total(quote.Subtotal, cmd.TipAmount),
		PaymentMethod:  payment,
		PaymentStatus:  "pending",
		Notes:          cmd.Notes,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = s.repo.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, o); err != nil {
			return err
		}
		user := string(cmd.UserID)
		return s.repo.AppendHistory(ctx, &HistoryEntry{
			OrderID:   o.ID,
			ToStatus:  StatusPending,
			ChangedBy: &user,
			Notes:     "order placed",
			CreatedAt: now,
		})
	})
	if err != nil {
		return nil, err
	}

	s.events.Publish(ctx, events.OrderCreated, map[string]any{
		"order_id":    string(o.ID),
		"reference":   o.Reference,
		"user_id":     string(o.UserID),
		"provider_id": string(o.ProviderID),
		"total":       o.Total,
	})
	return o, nil
}

// Transition moves an order along its state flow. A concurrent change
// between read and write surfaces as ErrConflict.
func (s *Service) Transition(ctx context.Context, cmd TransitionCommand) (*Order, error) {
	var (
		o    *Order
		from Status
	)
	err := s.repo.WithinTx(ctx, func(ctx context.Context) error {
		cur, err := s.repo.Get(ctx, cmd.OrderID)
		if err != nil {
			return err
		}
		if err := authorize(cur, cmd); err != nil {
			return err
		}
		if !CanTransition(cur.Status, cmd.To) {
			return apperr.Transition("order", string(cur.Status), string(cmd.To))
		}

		version := cur.StatusVersion
		from = cur.Status
		now := s.now()
		cur.Status = cmd.To
		cur.stamp(cmd.To, now)
		if cmd.To == StatusCancelled {
			reason, by := cmd.Reason, cmd.ActorType
			cur.CancellationReason = &reason
			cur.CancelledBy = &by
		}

		ok, err := s.repo.UpdateStatus(ctx, cur, version)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("order %s: %w", cur.ID, apperr.ErrConflict)
		}

		var changedBy *string
		if cmd.ActorID != "" {
			v := string(cmd.ActorID)
			changedBy = &v
		}
		if err := s.repo.AppendHistory(ctx, &HistoryEntry{
			OrderID:    cur.ID,
			FromStatus: &from,
			ToStatus:   cmd.To,
			ChangedBy:  changedBy,
			Notes:      cmd.Reason,
			CreatedAt:  now,
		}); err != nil {
			return err
		}
		o = cur
		return nil
	})
	if err != nil {
		return nil, err
	}

	data := map[string]any{
		"order_id":    string(o.ID),
		"reference":   o.Reference,
		"user_id":     string(o.UserID),
		"provider_id": string(o.ProviderID),
		"from":        string(from),
		"to":          string(o.Status),
		"actor_type":  cmd.ActorType,
	}
	if cmd.Reason != "" {
		data["reason"] = cmd.Reason
	}
	s.events.Publish(ctx, events.OrderStatus(string(o.Status)), data)
	return o, nil
}

// Confirm accepts a pending order on behalf of its provider.
func (s *Service) Confirm(ctx context.Context, orderID, providerID types.ID) (*Order, error) {
	return s.Transition(ctx, TransitionCommand{
		OrderID:   orderID,
		To:        StatusConfirmed,
		ActorType: ActorProvider,
		ActorID:   providerID,
	})
}

func (s *Service) Cancel(ctx context.Context, orderID types.ID, actorType string, actorID types.ID, reason string) (*Order, error) {
	return s.Transition(ctx, TransitionCommand{
		OrderID:   orderID,
		To:        StatusCancelled,
		ActorType: actorType,
		ActorID:   actorID,
		Reason:    reason,
	})
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Order, error) {
	return s.repo.Get(ctx, id)
}

// ReadyForPickup fails unless the order is ready and waiting for its driver.
func (s *Service) ReadyForPickup(ctx context.Context, id types.ID) error {
	o, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if o.Status != StatusReady {
		return fmt.Errorf("order %s is %s, not ready for pickup: %w", id, o.Status, apperr.ErrInvalidTransition)
	}
	return nil
}

func (s *Service) GetByReference(ctx context.Context, reference string) (*Order, error) {
	return s.repo.GetByReference(ctx, reference)
}

func (s *Service) ListByUser(ctx context.Context, userID types.ID, limit, offset int) ([]Order, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListByUser(ctx, userID, limit, offset)
}

func (s *Service) History(ctx context.Context, orderID types.ID) ([]HistoryEntry, error) {
	return s.repo.History(ctx, orderID)
}

// authorize limits customers to cancelling their own orders and providers to their own orders.
func authorize(o *Order, cmd TransitionCommand) error {
	switch cmd.ActorType {
	case ActorCustomer:
		if o.UserID != cmd.ActorID || cmd.To != StatusCancelled {
			return fmt.Errorf("order %s: %w", o.ID, apperr.ErrUnauthorizedActor)
		}
	case ActorProvider:
		if o.ProviderID != cmd.ActorID {
			return fmt.Errorf("order %s: %w", o.ID, apperr.ErrUnauthorizedActor)
		}
	case ActorDriver, ActorAdmin, ActorSystem:
	default:
		return fmt.Errorf("%w: unknown actor type %q", apperr.ErrBadRequest, cmd.ActorType)
	}
	return nil
}
