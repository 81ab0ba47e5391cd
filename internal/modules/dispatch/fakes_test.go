package dispatch

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"nelo/internal/apperr"
	"nelo/internal/config"
	"nelo/internal/modules/delivery"
	"nelo/internal/modules/driver"
	"nelo/internal/modules/matching"
	"nelo/internal/modules/order"
	"nelo/internal/types"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeDeliveries struct {
	mu         sync.Mutex
	deliveries map[types.ID]*delivery.Delivery
	offers     map[types.ID]*delivery.Offer
	created    []delivery.CreateCommand
	offered    [][]matching.Candidate
	cancelled  []string
	expireErr  error
}

func newFakeDeliveries() *fakeDeliveries {
	return &fakeDeliveries{
		deliveries: make(map[types.ID]*delivery.Delivery),
		offers:     make(map[types.ID]*delivery.Offer),
	}
}

func (f *fakeDeliveries) add(d delivery.Delivery) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deliveries[d.ID] = &d
}

func (f *fakeDeliveries) addOffer(o delivery.Offer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offers[o.ID] = &o
}

func (f *fakeDeliveries) Create(_ context.Context, cmd delivery.CreateCommand) (*delivery.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, cmd)
	d := &delivery.Delivery{
		ID:          types.ID("del-" + string(cmd.OrderID)),
		OrderID:     cmd.OrderID,
		Status:      delivery.StatusPending,
		Pickup:      cmd.Pickup,
		Dropoff:     cmd.Dropoff,
		DeliveryFee: cmd.DeliveryFee,
		TipAmount:   cmd.TipAmount,
	}
	f.deliveries[d.ID] = d
	return d, nil
}

func (f *fakeDeliveries) Get(_ context.Context, id types.ID) (*delivery.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.deliveries[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (f *fakeDeliveries) GetByOrder(_ context.Context, orderID types.ID) (*delivery.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.deliveries {
		if d.OrderID == orderID {
			cp := *d
			return &cp, nil
		}
	}
	return nil, apperr.ErrNotFound
}

func (f *fakeDeliveries) CreateOffers(_ context.Context, deliveryID types.ID, candidates []matching.Candidate, ttl time.Duration) ([]delivery.Offer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(candidates) == 0 {
		return nil, apperr.ErrNoEligibleDrivers
	}
	d := f.deliveries[deliveryID]
	if !d.Status.Dispatchable() {
		return nil, apperr.ErrAlreadyResolved
	}
	f.offered = append(f.offered, candidates)
	out := make([]delivery.Offer, len(candidates))
	for i, c := range candidates {
		o := delivery.Offer{
			ID:         types.ID("off-" + string(c.DriverID)),
			DeliveryID: deliveryID,
			DriverID:   c.DriverID,
			Status:     delivery.OfferPending,
			ExpiresAt:  testNow.Add(ttl),
		}
		f.offers[o.ID] = &o
		out[i] = o
	}
	d.Status = delivery.StatusAssigned
	return out, nil
}

func (f *fakeDeliveries) Cancel(_ context.Context, id types.ID, reason string) (*delivery.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.deliveries[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	if !d.Status.Dispatchable() && !d.Status.Active() {
		return nil, apperr.Transition("delivery", string(d.Status), string(delivery.StatusCancelled))
	}
	d.Status = delivery.StatusCancelled
	d.DriverID = nil
	f.cancelled = append(f.cancelled, reason)
	cp := *d
	return &cp, nil
}

func (f *fakeDeliveries) ExpireOffer(_ context.Context, offerID types.ID) (*delivery.Offer, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.expireErr != nil {
		return nil, false, f.expireErr
	}
	o, ok := f.offers[offerID]
	if !ok {
		return nil, false, apperr.ErrNotFound
	}
	if o.Status != delivery.OfferPending || !testNow.After(o.ExpiresAt) {
		cp := *o
		return &cp, false, nil
	}
	o.Status = delivery.OfferExpired
	cp := *o
	return &cp, true, nil
}

func (f *fakeDeliveries) HasOpenOffers(_ context.Context, deliveryID types.ID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.offers {
		if o.DeliveryID == deliveryID && o.Status == delivery.OfferPending && o.ExpiresAt.After(testNow) {
			return true, nil
		}
	}
	return false, nil
}

type fakeOrders struct {
	mu          sync.Mutex
	orders      map[types.ID]*order.Order
	transitions []order.TransitionCommand
	err         error
}

func newFakeOrders(os ...order.Order) *fakeOrders {
	f := &fakeOrders{orders: make(map[types.ID]*order.Order)}
	for i := range os {
		o := os[i]
		f.orders[o.ID] = &o
	}
	return f
}

func (f *fakeOrders) Get(_ context.Context, id types.ID) (*order.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (f *fakeOrders) Transition(_ context.Context, cmd order.TransitionCommand) (*order.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transitions = append(f.transitions, cmd)
	if f.err != nil {
		return nil, f.err
	}
	o, ok := f.orders[cmd.OrderID]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	o.Status = cmd.To
	cp := *o
	return &cp, nil
}

type fakeDrivers struct {
	nearby []driver.Nearby
	calls  int
	radius float64
	limit  int
}

func (f *fakeDrivers) FindAvailable(_ context.Context, _ types.Point, radiusKm float64, limit int) ([]driver.Nearby, error) {
	f.calls++
	f.radius, f.limit = radiusKm, limit
	if len(f.nearby) > limit {
		return f.nearby[:limit], nil
	}
	return f.nearby, nil
}

// fakeMatcher mirrors matching.Service on in-memory bookkeeping.
type fakeMatcher struct {
	mu           sync.Mutex
	cfg          config.MatchingConfig
	notified     map[types.ID]map[types.ID]struct{}
	queue        map[types.ID]time.Time
	dispatchedAt map[types.ID]time.Time
	acked        []types.ID
	recorded     int
	ageLookups   int
}

func newFakeMatcher() *fakeMatcher {
	return &fakeMatcher{
		cfg:          config.MatchingConfig{RadiusKm: 5, PoolSize: 10, OfferCount: 5, OfferTTL: time.Minute},
		notified:     make(map[types.ID]map[types.ID]struct{}),
		queue:        make(map[types.ID]time.Time),
		dispatchedAt: make(map[types.ID]time.Time),
	}
}

func (m *fakeMatcher) Config() config.MatchingConfig { return m.cfg }

func (m *fakeMatcher) Select(_ context.Context, deliveryID types.ID, nearby []matching.Candidate, orderValue int64, requiredVehicle string) ([]matching.Candidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var pool []matching.Candidate
	for _, c := range nearby {
		if _, seen := m.notified[deliveryID][c.DriverID]; !seen {
			pool = append(pool, c)
		}
	}
	return matching.Top(matching.Rank(pool, orderValue, requiredVehicle), m.cfg.OfferCount), nil
}

func (m *fakeMatcher) Record(_ context.Context, deliveryID types.ID, offers []matching.ScheduledOffer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recorded++
	if _, ok := m.dispatchedAt[deliveryID]; !ok {
		m.dispatchedAt[deliveryID] = testNow
	}
	if m.notified[deliveryID] == nil {
		m.notified[deliveryID] = make(map[types.ID]struct{})
	}
	for _, o := range offers {
		m.notified[deliveryID][o.DriverID] = struct{}{}
		m.queue[o.ID] = o.ExpiresAt
	}
	return nil
}

func (m *fakeMatcher) DueOffers(_ context.Context, now time.Time, limit int) ([]types.ID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.ID
	for id, at := range m.queue {
		if !at.After(now) && len(out) < limit {
			out = append(out, id)
		}
	}
	return out, nil
}

func (m *fakeMatcher) AckExpired(_ context.Context, ids ...types.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.queue, id)
	}
	m.acked = append(m.acked, ids...)
	return nil
}

func (m *fakeMatcher) DispatchedAt(_ context.Context, deliveryID types.ID) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ageLookups++
	at, ok := m.dispatchedAt[deliveryID]
	return at, ok, nil
}

func nearbyDriver(id string, distanceKm float64) driver.Nearby {
	return driver.Nearby{
		Driver: driver.Driver{
			ID:             types.ID(id),
			VehicleType:    driver.VehicleMotorcycle,
			MaxOrders:      2,
			CompletionRate: 100,
			CommissionRate: 0.10,
		},
		DistanceKm: distanceKm,
	}
}

func testOrder(id string) order.Order {
	return order.Order{
		ID:          types.ID(id),
		UserID:      "usr-1",
		ProviderID:  "prv-1",
		Status:      order.StatusPending,
		Provider:    order.ProviderSnapshot{Name: "Chez Tante", Address: "Cocody", Position: types.Point{Lat: 5.32, Lng: -4.01}},
		Address:     order.AddressSnapshot{Address: "Riviera 2", Position: types.Point{Lat: 5.30, Lng: -4.00}},
		DeliveryFee: 500,
		TipAmount:   200,
		Total:       2700,
	}
}

type harness struct {
	coord      *Coordinator
	deliveries *fakeDeliveries
	orders     *fakeOrders
	drivers    *fakeDrivers
	matcher    *fakeMatcher
}

func newHarness(orders ...order.Order) *harness {
	h := &harness{
		deliveries: newFakeDeliveries(),
		orders:     newFakeOrders(orders...),
		drivers:    &fakeDrivers{},
		matcher:    newFakeMatcher(),
	}
	h.coord = newCoordinator(h.deliveries, h.orders, h.drivers, h.matcher, discardLogger())
	return h
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
