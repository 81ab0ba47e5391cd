// README: Offer reaper: a ticker worker that expires offers whose deadline passed.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"nelo/internal/apperr"
	"nelo/internal/config"
	"nelo/internal/modules/delivery"
	"nelo/internal/types"
)

// Reaper drains the offer expiry queue. Expiry is also enforced when a
// driver accepts, so a late tick only delays the driver.offer_expired event.
type Reaper struct {
	coordinator *Coordinator
	interval    time.Duration
	batchSize   int
	redispatch  bool
	maxAge      time.Duration
	logger      *slog.Logger
	now         func() time.Time

	wg     sync.WaitGroup
	cancel context.CancelFunc
	mu     sync.Mutex
}

func NewReaper(coordinator *Coordinator, cfg *config.Config, logger *slog.Logger) *Reaper {
	return newReaper(coordinator, cfg.Reaper, logger)
}

func newReaper(coordinator *Coordinator, cfg config.ReaperConfig, logger *slog.Logger) *Reaper {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Reaper{
		coordinator: coordinator,
		interval:    cfg.Interval,
		batchSize:   cfg.BatchSize,
		redispatch:  cfg.Redispatch,
		maxAge:      cfg.MaxDispatchAge,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Start launches the ticker loop.
func (r *Reaper) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel

	r.wg.Add(1)
	go r.run(runCtx)
}

// Stop cancels the loop and waits for the current sweep to finish.
func (r *Reaper) Stop() {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.mu.Unlock()

	r.wg.Wait()
}

func (r *Reaper) run(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

// sweep expires one batch of due offers and returns how many it expired.
func (r *Reaper) sweep(ctx context.Context) int {
	c := r.coordinator
	ids, err := c.matcher.DueOffers(ctx, r.now(), r.batchSize)
	if err != nil {
		r.logger.Error("load due offers failed", slog.String("error", err.Error()))
		return 0
	}
	if len(ids) == 0 {
		return 0
	}

	var (
		expired  int
		done     = make([]types.ID, 0, len(ids))
		affected = make(map[types.ID]struct{})
	)
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		off, ok, err := c.deliveries.ExpireOffer(ctx, id)
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			done = append(done, id)
			continue
		case err != nil:
			r.logger.Error("expire offer failed",
				slog.String("offer_id", string(id)),
				slog.String("error", err.Error()),
			)
			continue
		}
		if off.Status == delivery.OfferPending {
			// Not due yet at row precision; picked up again next tick.
			continue
		}
		done = append(done, id)
		if ok {
			expired++
			affected[off.DeliveryID] = struct{}{}
		}
	}

	if len(done) > 0 {
		if err := c.matcher.AckExpired(ctx, done...); err != nil {
			r.logger.Error("ack expired offers failed", slog.String("error", err.Error()))
		}
	}
	if expired > 0 {
		r.logger.Info("offers expired", slog.Int("count", expired))
	}
	if r.redispatch {
		for deliveryID := range affected {
			r.redispatchIfIdle(ctx, deliveryID)
		}
	}
	return expired
}

func (r *Reaper) redispatchIfIdle(ctx context.Context, deliveryID types.ID) {
	c := r.coordinator
	open, err := c.deliveries.HasOpenOffers(ctx, deliveryID)
	if err != nil {
		r.logger.Error("check open offers failed",
			slog.String("delivery_id", string(deliveryID)),
			slog.String("error", err.Error()),
		)
		return
	}
	if open {
		return
	}
	var waiting time.Duration
	at, ok, err := c.matcher.DispatchedAt(ctx, deliveryID)
	if err != nil {
		r.logger.Error("load dispatch time failed",
			slog.String("delivery_id", string(deliveryID)),
			slog.String("error", err.Error()),
		)
	} else if ok {
		waiting = r.now().Sub(at)
	}
	if r.maxAge > 0 && waiting > r.maxAge {
		r.logger.Warn("delivery left unmatched",
			slog.String("delivery_id", string(deliveryID)),
			slog.Duration("waiting", waiting),
		)
		return
	}
	offers, err := c.FindAndOfferDrivers(ctx, deliveryID)
	if errors.Is(err, apperr.ErrAlreadyResolved) {
		return
	}
	if err != nil {
		r.logger.Error("redispatch failed",
			slog.String("delivery_id", string(deliveryID)),
			slog.String("error", err.Error()),
		)
		return
	}
	r.logger.Info("delivery redispatched",
		slog.String("delivery_id", string(deliveryID)),
		slog.Int("offers", len(offers)),
		slog.Duration("waiting", waiting),
	)
}
