// README: Offer lifecycle: fan-out to candidates, accept with single-winner exclusivity, reject, and expiry.
package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"nelo/internal/apperr"
	"nelo/internal/events"
	"nelo/internal/modules/matching"
	"nelo/internal/types"
)

// MaxOffersPerBatch bounds how many drivers are offered a delivery at once.
const MaxOffersPerBatch = 5

// CreateOffers offers the delivery to the best scored candidates. The first
// fan-out moves the delivery from pending to assigned.
func (s *Service) CreateOffers(ctx context.Context, deliveryID types.ID, candidates []matching.Candidate, ttl time.Duration) ([]Offer, error) {
	if len(candidates) == 0 {
		return nil, apperr.ErrNoEligibleDrivers
	}
	best := append([]matching.Candidate(nil), candidates...)
	sort.SliceStable(best, func(i, j int) bool { return best[i].Score > best[j].Score })
	best = matching.Top(best, MaxOffersPerBatch)

	var offers []Offer
	err := s.repo.WithinTx(ctx, func(ctx context.Context) error {
		d, err := s.repo.GetForUpdate(ctx, deliveryID)
		if err != nil {
			return err
		}
		if !d.Status.Dispatchable() {
			return fmt.Errorf("delivery %s is %s: %w", d.ID, d.Status, apperr.ErrAlreadyResolved)
		}

		now := s.now()
		offers = make([]Offer, 0, len(best))
		for _, c := range best {
			offers = append(offers, Offer{
				ID:                types.NewID(),
				DeliveryID:        d.ID,
				DriverID:          c.DriverID,
				MatchingScore:     c.Score,
				DistanceKm:        c.DistanceKm,
				EstimatedEarnings: DriverShare(d.DeliveryFee, c.CommissionRate),
				Status:            OfferPending,
				ExpiresAt:         now.Add(ttl),
				CreatedAt:         now,
			})
		}
		if err := s.repo.InsertOffers(ctx, offers); err != nil {
			return err
		}

		if d.Status == StatusPending {
			from := d.Status
			d.Status = StatusAssigned
			if err := s.repo.Save(ctx, d); err != nil {
				return err
			}
			return s.repo.AppendHistory(ctx, &HistoryEntry{
				DeliveryID: d.ID,
				FromStatus: &from,
				ToStatus:   StatusAssigned,
				Notes:      fmt.Sprintf("offered to %d drivers", len(offers)),
				CreatedAt:  now,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	driverIDs := make([]string, len(offers))
	for i, o := range offers {
		driverIDs[i] = string(o.DriverID)
	}
	s.events.Publish(ctx, events.DeliveryOffersSent, map[string]any{
		"delivery_id": string(deliveryID),
		"offer_count": len(offers),
		"driver_ids":  driverIDs,
	})
	return offers, nil
}

// AcceptOffer assigns the delivery to the accepting driver. At most one offer
// per delivery can win: the delivery row is locked before the offer, so a
// losing driver finds its offer already rejected. A driver that went offline
// or already works max_orders deliveries gets its offer rejected and
// ErrDriverUnavailable.
func (s *Service) AcceptOffer(ctx context.Context, offerID, driverID types.ID) (*Delivery, error) {
	var (
		d       *Delivery
		expired *Offer
		refused bool
	)
	err := s.repo.WithinTx(ctx, func(ctx context.Context) error {
		off, err := s.repo.GetOffer(ctx, offerID)
		if err != nil {
			return err
		}
		if off.DriverID != driverID {
			return fmt.Errorf("offer %s: %w", offerID, apperr.ErrNotFound)
		}
		cur, err := s.repo.GetForUpdate(ctx, off.DeliveryID)
		if err != nil {
			return err
		}
		if off, err = s.repo.GetOfferForUpdate(ctx, offerID); err != nil {
			return err
		}
		if off.Status != OfferPending {
			return fmt.Errorf("offer %s is %s: %w", offerID, off.Status, apperr.ErrAlreadyResolved)
		}

		now := s.now()
		if now.After(off.ExpiresAt) {
			// The expiry is committed; the caller still gets ErrOfferExpired.
			if _, err := s.repo.ResolveOffer(ctx, off.ID, OfferExpired, now); err != nil {
				return err
			}
			expired = off
			return nil
		}
		if cur.DriverID != nil || !cur.Status.Dispatchable() {
			return fmt.Errorf("delivery %s is %s: %w", cur.ID, cur.Status, apperr.ErrAlreadyResolved)
		}

		// Locked after the delivery, the same order releaseDriver follows.
		drv, err := s.drivers.GetForUpdate(ctx, driverID)
		if err != nil {
			return err
		}
		active, err := s.repo.CountActiveByDriver(ctx, driverID)
		if err != nil {
			return err
		}
		if !drv.CanTakeDelivery(active) {
			if _, err := s.repo.ResolveOffer(ctx, off.ID, OfferRejected, now); err != nil {
				return err
			}
			refused = true
			return nil
		}

		ok, err := s.repo.ResolveOffer(ctx, off.ID, OfferAccepted, now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("offer %s: %w", offerID, apperr.ErrAlreadyResolved)
		}
		if _, err := s.repo.RejectPendingOffers(ctx, cur.ID, off.ID, now); err != nil {
			return err
		}

		from := cur.Status
		eta := ETAMinutes(off.DistanceKm)
		score := off.MatchingScore
		cur.Status = StatusAccepted
		cur.DriverID = &driverID
		cur.AssignedAt = &now
		cur.MatchingScore = &score
		cur.ETAMinutes = &eta
		cur.DriverEarnings = off.EstimatedEarnings
		if err := s.repo.Save(ctx, cur); err != nil {
			return err
		}
		if err := s.repo.AppendHistory(ctx, &HistoryEntry{
			DeliveryID: cur.ID,
			FromStatus: &from,
			ToStatus:   StatusAccepted,
			ChangedBy:  &driverID,
			Notes:      "offer accepted",
			CreatedAt:  now,
		}); err != nil {
			return err
		}
		if err := s.drivers.SetAvailable(ctx, driverID, false); err != nil {
			return err
		}
		d = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expired != nil {
		s.publishExpired(ctx, expired)
		return nil, fmt.Errorf("offer %s: %w", offerID, apperr.ErrOfferExpired)
	}
	if refused {
		s.logger.Info("offer refused, driver at capacity or offline",
			slog.String("offer_id", string(offerID)),
			slog.String("driver_id", string(driverID)),
		)
		return nil, fmt.Errorf("driver %s: %w", driverID, apperr.ErrDriverUnavailable)
	}

	s.events.Publish(ctx, events.DeliveryAssigned, map[string]any{
		"delivery_id": string(d.ID),
		"order_id":    string(d.OrderID),
		"driver_id":   string(driverID),
		"offer_id":    string(offerID),
		"eta_minutes": *d.ETAMinutes,
	})
	return d, nil
}

// RejectOffer declines a pending offer. The delivery stays open to the other drivers.
func (s *Service) RejectOffer(ctx context.Context, offerID, driverID types.ID) error {
	return s.repo.WithinTx(ctx, func(ctx context.Context) error {
		off, err := s.repo.GetOfferForUpdate(ctx, offerID)
		if err != nil {
			return err
		}
		if off.DriverID != driverID {
			return fmt.Errorf("offer %s: %w", offerID, apperr.ErrNotFound)
		}
		if off.Status != OfferPending {
			return fmt.Errorf("offer %s is %s: %w", offerID, off.Status, apperr.ErrAlreadyResolved)
		}
		ok, err := s.repo.ResolveOffer(ctx, offerID, OfferRejected, s.now())
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("offer %s: %w", offerID, apperr.ErrAlreadyResolved)
		}
		return nil
	})
}

// ExpireOffer closes a pending offer whose deadline passed. It returns the
// offer and whether it was expired by this call.
func (s *Service) ExpireOffer(ctx context.Context, offerID types.ID) (*Offer, bool, error) {
	var (
		off     *Offer
		expired bool
	)
	err := s.repo.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		off, err = s.repo.GetOfferForUpdate(ctx, offerID)
		if err != nil {
			return err
		}
		now := s.now()
		if off.Status != OfferPending || !now.After(off.ExpiresAt) {
			return nil
		}
		expired, err = s.repo.ResolveOffer(ctx, offerID, OfferExpired, now)
		if expired {
			off.Status = OfferExpired
			off.RespondedAt = &now
		}
		return err
	})
	if err != nil {
		return nil, false, err
	}
	if expired {
		s.publishExpired(ctx, off)
	}
	return off, expired, nil
}

// PendingOffers lists the offers a driver can still answer.
func (s *Service) PendingOffers(ctx context.Context, driverID types.ID) ([]Offer, error) {
	return s.repo.PendingOffersForDriver(ctx, driverID, s.now())
}

// HasOpenOffers reports whether any driver can still accept the delivery.
func (s *Service) HasOpenOffers(ctx context.Context, deliveryID types.ID) (bool, error) {
	return s.repo.HasPendingOffers(ctx, deliveryID, s.now())
}

func (s *Service) publishExpired(ctx context.Context, off *Offer) {
	s.events.Publish(ctx, events.DriverOfferExpired, map[string]any{
		"offer_id":    string(off.ID),
		"delivery_id": string(off.DeliveryID),
		"driver_id":   string(off.DriverID),
	})
}
