package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"nelo/internal/config"
	"nelo/internal/modules/delivery"
	"nelo/internal/modules/driver"
	"nelo/internal/modules/matching"
	"nelo/internal/types"
)

func newTestReaper(h *harness, redispatch bool) *Reaper {
	r := newReaper(h.coord, config.ReaperConfig{Interval: 10 * time.Millisecond, BatchSize: 10, Redispatch: redispatch}, discardLogger())
	r.now = func() time.Time { return testNow }
	return r
}

func queueOffer(t *testing.T, h *harness, deliveryID types.ID, offerID, driverID types.ID, expiresAt time.Time) {
	t.Helper()
	h.deliveries.addOffer(delivery.Offer{ID: offerID, DeliveryID: deliveryID, DriverID: driverID, Status: delivery.OfferPending, ExpiresAt: expiresAt})
	if err := h.matcher.Record(context.Background(), deliveryID, []matching.ScheduledOffer{{ID: offerID, DriverID: driverID, ExpiresAt: expiresAt}}); err != nil {
		t.Fatalf("record: %v", err)
	}
}

func TestSweepExpiresDueOffers(t *testing.T) {
	h := newHarness(testOrder("ord-1"))
	h.deliveries.add(delivery.Delivery{ID: "del-1", OrderID: "ord-1", Status: delivery.StatusAssigned})
	queueOffer(t, h, "del-1", "off-a", "drv-a", testNow.Add(-time.Second))
	queueOffer(t, h, "del-1", "off-b", "drv-b", testNow.Add(-2*time.Second))
	queueOffer(t, h, "del-1", "off-c", "drv-c", testNow.Add(time.Minute))

	r := newTestReaper(h, false)
	if n := r.sweep(context.Background()); n != 2 {
		t.Fatalf("expected 2 expired offers, got %d", n)
	}
	if h.deliveries.offers["off-a"].Status != delivery.OfferExpired || h.deliveries.offers["off-c"].Status != delivery.OfferPending {
		t.Fatalf("unexpected offer states")
	}
	if _, queued := h.matcher.queue["off-c"]; !queued || len(h.matcher.queue) != 1 {
		t.Fatalf("only the future offer should stay queued, got %v", h.matcher.queue)
	}
	if h.drivers.calls != 0 {
		t.Fatalf("redispatch is disabled")
	}
}

func TestSweepAcksResolvedAndMissingOffers(t *testing.T) {
	h := newHarness(testOrder("ord-1"))
	h.deliveries.add(delivery.Delivery{ID: "del-1", OrderID: "ord-1", Status: delivery.StatusAccepted})
	queueOffer(t, h, "del-1", "off-a", "drv-a", testNow.Add(-time.Second))
	h.deliveries.offers["off-a"].Status = delivery.OfferAccepted
	if err := h.matcher.Record(context.Background(), "del-1", []matching.ScheduledOffer{{ID: "gone", ExpiresAt: testNow.Add(-time.Second)}}); err != nil {
		t.Fatalf("record: %v", err)
	}

	r := newTestReaper(h, true)
	if n := r.sweep(context.Background()); n != 0 {
		t.Fatalf("nothing should expire, got %d", n)
	}
	if len(h.matcher.queue) != 0 {
		t.Fatalf("resolved and missing offers must leave the queue, got %v", h.matcher.queue)
	}
}

func TestSweepKeepsQueueOnStoreError(t *testing.T) {
	h := newHarness(testOrder("ord-1"))
	queueOffer(t, h, "del-1", "off-a", "drv-a", testNow.Add(-time.Second))
	h.deliveries.expireErr = errors.New("db down")

	r := newTestReaper(h, false)
	r.sweep(context.Background())
	if _, queued := h.matcher.queue["off-a"]; !queued {
		t.Fatalf("failed expiry must be retried on the next tick")
	}
}

func TestSweepRedispatchesIdleDelivery(t *testing.T) {
	h := newHarness(testOrder("ord-1"))
	h.deliveries.add(delivery.Delivery{ID: "del-1", OrderID: "ord-1", Status: delivery.StatusAssigned})
	queueOffer(t, h, "del-1", "off-a", "drv-a", testNow.Add(-time.Second))
	h.drivers.nearby = []driver.Nearby{nearbyDriver("drv-a", 1), nearbyDriver("drv-b", 2)}

	r := newTestReaper(h, true)
	if n := r.sweep(context.Background()); n != 1 {
		t.Fatalf("expected 1 expired offer, got %d", n)
	}
	if len(h.deliveries.offered) != 1 {
		t.Fatalf("expected a redispatch, got %d fan-outs", len(h.deliveries.offered))
	}
	got := h.deliveries.offered[0]
	if len(got) != 1 || got[0].DriverID != "drv-b" {
		t.Fatalf("redispatch must skip the notified driver, got %+v", got)
	}
}

func TestSweepStopsRedispatchAfterMaxAge(t *testing.T) {
	h := newHarness(testOrder("ord-1"))
	h.deliveries.add(delivery.Delivery{ID: "del-1", OrderID: "ord-1", Status: delivery.StatusAssigned})
	queueOffer(t, h, "del-1", "off-a", "drv-a", testNow.Add(-time.Second))
	h.matcher.dispatchedAt["del-1"] = testNow.Add(-time.Hour)
	h.drivers.nearby = []driver.Nearby{nearbyDriver("drv-b", 1)}

	r := newReaper(h.coord, config.ReaperConfig{BatchSize: 10, Redispatch: true, MaxDispatchAge: 30 * time.Minute}, discardLogger())
	r.now = func() time.Time { return testNow }
	if n := r.sweep(context.Background()); n != 1 {
		t.Fatalf("expected 1 expired offer, got %d", n)
	}
	if h.matcher.ageLookups != 1 {
		t.Fatalf("expected the first dispatch time to be consulted once, got %d", h.matcher.ageLookups)
	}
	if h.drivers.calls != 0 || len(h.deliveries.offered) != 0 {
		t.Fatalf("delivery waiting past the max age must not be redispatched")
	}

	h.matcher.dispatchedAt["del-1"] = testNow.Add(-time.Minute)
	queueOffer(t, h, "del-1", "off-b", "drv-c", testNow.Add(-time.Second))
	r.sweep(context.Background())
	if len(h.deliveries.offered) != 1 {
		t.Fatalf("recently dispatched delivery should be redispatched, got %d fan-outs", len(h.deliveries.offered))
	}
}

func TestSweepNoRedispatchWhileOffersOpen(t *testing.T) {
	h := newHarness(testOrder("ord-1"))
	h.deliveries.add(delivery.Delivery{ID: "del-1", OrderID: "ord-1", Status: delivery.StatusAssigned})
	queueOffer(t, h, "del-1", "off-a", "drv-a", testNow.Add(-time.Second))
	queueOffer(t, h, "del-1", "off-b", "drv-b", testNow.Add(time.Minute))
	h.drivers.nearby = []driver.Nearby{nearbyDriver("drv-c", 1)}

	newTestReaper(h, true).sweep(context.Background())
	if h.drivers.calls != 0 {
		t.Fatalf("delivery with an open offer must not be redispatched")
	}
}

func TestReaperStartStop(t *testing.T) {
	h := newHarness(testOrder("ord-1"))
	h.deliveries.add(delivery.Delivery{ID: "del-1", OrderID: "ord-1", Status: delivery.StatusAssigned})
	queueOffer(t, h, "del-1", "off-a", "drv-a", testNow.Add(-time.Second))

	r := newTestReaper(h, false)
	r.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for {
		h.matcher.mu.Lock()
		remaining := len(h.matcher.queue)
		h.matcher.mu.Unlock()
		if remaining == 0 {
			break
		}
		if time.Now().After(deadline) {
			r.Stop()
			t.Fatal("reaper did not drain the queue")
		}
		time.Sleep(5 * time.Millisecond)
	}
	r.Stop()
	r.Stop()
}
