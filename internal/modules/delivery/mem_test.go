package delivery

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"nelo/internal/apperr"
	"nelo/internal/events"
	"nelo/internal/modules/driver"
	"nelo/internal/modules/location"
	"nelo/internal/types"
)

// memRepo keeps deliveries, offers, drivers, and track points in memory.
// WithinTx serialises transactions and restores a snapshot when fn fails.
type memRepo struct {
	mu         sync.Mutex
	deliveries map[types.ID]Delivery
	offers     map[types.ID]Offer
	history    []HistoryEntry
	earnings   []Earning
	drivers    map[types.ID]driver.Driver
	points     []location.TrackPoint
	nextID     int64
}

type memSnapshot struct {
	deliveries map[types.ID]Delivery
	offers     map[types.ID]Offer
	history    []HistoryEntry
	earnings   []Earning
	drivers    map[types.ID]driver.Driver
}

func newMemRepo() *memRepo {
	return &memRepo{
		deliveries: make(map[types.ID]Delivery),
		offers:     make(map[types.ID]Offer),
		drivers:    make(map[types.ID]driver.Driver),
	}
}

func (m *memRepo) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := m.snapshot()
	if err := fn(ctx); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

func (m *memRepo) snapshot() memSnapshot {
	s := memSnapshot{
		deliveries: make(map[types.ID]Delivery, len(m.deliveries)),
		offers:     make(map[types.ID]Offer, len(m.offers)),
		history:    append([]HistoryEntry(nil), m.history...),
		earnings:   append([]Earning(nil), m.earnings...),
		drivers:    make(map[types.ID]driver.Driver, len(m.drivers)),
	}
	for k, v := range m.deliveries {
		s.deliveries[k] = v
	}
	for k, v := range m.offers {
		s.offers[k] = v
	}
	for k, v := range m.drivers {
		s.drivers[k] = v
	}
	return s
}

func (m *memRepo) restore(s memSnapshot) {
	m.deliveries = s.deliveries
	m.offers = s.offers
	m.history = s.history
	m.earnings = s.earnings
	m.drivers = s.drivers
}

func (m *memRepo) Create(_ context.Context, d *Delivery) error {
	for _, existing := range m.deliveries {
		if existing.OrderID == d.OrderID {
			return apperr.ErrConflict
		}
	}
	m.deliveries[d.ID] = *d
	return nil
}

func (m *memRepo) Get(_ context.Context, id types.ID) (*Delivery, error) {
	d, ok := m.deliveries[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return &d, nil
}

func (m *memRepo) GetForUpdate(ctx context.Context, id types.ID) (*Delivery, error) {
	return m.Get(ctx, id)
}

func (m *memRepo) GetByOrder(_ context.Context, orderID types.ID) (*Delivery, error) {
	for _, d := range m.deliveries {
		if d.OrderID == orderID {
			return &d, nil
		}
	}
	return nil, apperr.ErrNotFound
}

func (m *memRepo) ListActiveByDriver(_ context.Context, driverID types.ID) ([]Delivery, error) {
	var out []Delivery
	for _, d := range m.deliveries {
		if d.OwnedBy(driverID) && d.Status.Active() {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *memRepo) CountActiveByDriver(ctx context.Context, driverID types.ID) (int, error) {
	active, err := m.ListActiveByDriver(ctx, driverID)
	return len(active), err
}

func (m *memRepo) Save(_ context.Context, d *Delivery) error {
	stored, ok := m.deliveries[d.ID]
	if !ok {
		return apperr.ErrNotFound
	}
	if stored.StatusVersion != d.StatusVersion {
		return apperr.ErrConflict
	}
	d.StatusVersion++
	m.deliveries[d.ID] = *d
	return nil
}

func (m *memRepo) AppendHistory(_ context.Context, h *HistoryEntry) error {
	m.nextID++
	h.ID = m.nextID
	m.history = append(m.history, *h)
	return nil
}

func (m *memRepo) History(_ context.Context, deliveryID types.ID) ([]HistoryEntry, error) {
	var out []HistoryEntry
	for _, h := range m.history {
		if h.DeliveryID == deliveryID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (m *memRepo) InsertOffers(_ context.Context, offers []Offer) error {
	for _, o := range offers {
		m.offers[o.ID] = o
	}
	return nil
}

func (m *memRepo) GetOffer(_ context.Context, id types.ID) (*Offer, error) {
	o, ok := m.offers[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return &o, nil
}

func (m *memRepo) GetOfferForUpdate(ctx context.Context, id types.ID) (*Offer, error) {
	return m.GetOffer(ctx, id)
}

func (m *memRepo) ResolveOffer(_ context.Context, id types.ID, to OfferStatus, at time.Time) (bool, error) {
	o, ok := m.offers[id]
	if !ok || o.Status != OfferPending {
		return false, nil
	}
	o.Status = to
	o.RespondedAt = &at
	m.offers[id] = o
	return true, nil
}

func (m *memRepo) RejectPendingOffers(_ context.Context, deliveryID, keepID types.ID, at time.Time) (int64, error) {
	var n int64
	for id, o := range m.offers {
		if o.DeliveryID == deliveryID && id != keepID && o.Status == OfferPending {
			o.Status = OfferRejected
			o.RespondedAt = &at
			m.offers[id] = o
			n++
		}
	}
	return n, nil
}

func (m *memRepo) PendingOffersForDriver(_ context.Context, driverID types.ID, now time.Time) ([]Offer, error) {
	var out []Offer
	for _, o := range m.offers {
		if o.DriverID == driverID && o.Status == OfferPending && !now.After(o.ExpiresAt) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out, nil
}

func (m *memRepo) HasPendingOffers(_ context.Context, deliveryID types.ID, now time.Time) (bool, error) {
	for _, o := range m.offers {
		if o.DeliveryID == deliveryID && o.Status == OfferPending && !now.After(o.ExpiresAt) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memRepo) InsertEarning(_ context.Context, e *Earning) error {
	m.nextID++
	e.ID = m.nextID
	m.earnings = append(m.earnings, *e)
	return nil
}

// driver side

type memDrivers struct{ *memRepo }

func (m memDrivers) Get(_ context.Context, id types.ID) (*driver.Driver, error) {
	d, ok := m.drivers[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return &d, nil
}

func (m memDrivers) GetForUpdate(ctx context.Context, id types.ID) (*driver.Driver, error) {
	return m.Get(ctx, id)
}

func (m memDrivers) SetAvailable(_ context.Context, id types.ID, available bool) error {
	d, ok := m.drivers[id]
	if !ok {
		return apperr.ErrNotFound
	}
	d.IsAvailable = available && d.IsOnline
	m.drivers[id] = d
	return nil
}

func (m memDrivers) CompleteDelivery(_ context.Context, id types.ID) error {
	d, ok := m.drivers[id]
	if !ok {
		return apperr.ErrNotFound
	}
	d.TotalDeliveries++
	m.drivers[id] = d
	return nil
}

func (m *memRepo) AppendTrackPoint(_ context.Context, tp *location.TrackPoint) error {
	m.nextID++
	tp.ID = m.nextID
	m.points = append(m.points, *tp)
	return nil
}

func (m *memRepo) TrackPoints(_ context.Context, deliveryID types.ID, limit int) ([]location.TrackPoint, error) {
	var out []location.TrackPoint
	for i := len(m.points) - 1; i >= 0 && len(out) < limit; i-- {
		if m.points[i].DeliveryID == deliveryID {
			out = append(out, m.points[i])
		}
	}
	return out, nil
}

// memOrders holds the orders a driver may pick up; anything else is still being prepared.
type memOrders struct {
	notReady map[types.ID]bool
}

func (m *memOrders) ReadyForPickup(_ context.Context, orderID types.ID) error {
	if m.notReady[orderID] {
		return apperr.Transition("order", "preparing", "picked_up")
	}
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, name string, data map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events.Event{Name: name, Data: data})
}

func (p *recordingPublisher) named(name string) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Event
	for _, e := range p.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	repo   *memRepo
	orders *memOrders
	pub    *recordingPublisher
	svc    *Service
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := newMemRepo()
	pub := &recordingPublisher{}
	f := &fixture{
		repo:   repo,
		orders: &memOrders{notReady: make(map[types.ID]bool)},
		pub:    pub,
		now:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.svc = newService(repo, memDrivers{repo}, repo, f.orders, pub, slog.New(slog.NewTextHandler(io.Discard, nil)))
	f.svc.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) addDriver(id types.ID) {
	f.repo.drivers[id] = driver.Driver{
		ID:             id,
		DisplayName:    "Driver " + string(id),
		Status:         driver.StatusActive,
		IsOnline:       true,
		IsAvailable:    true,
		MaxOrders:      2,
		CompletionRate: 100,
		CommissionRate: 0.10,
	}
}

func (f *fixture) addDelivery(id types.ID, status Status, driverID *types.ID) {
	f.repo.deliveries[id] = Delivery{
		ID:          id,
		OrderID:     "ord-" + id,
		Reference:   "DEL-TEST0001",
		Status:      status,
		Pickup:      Stop{Address: "Marché de Cocody", Position: types.Point{Lat: 5.32, Lng: -4.01}},
		Dropoff:     Stop{Address: "Riviera 2", Position: types.Point{Lat: 5.30, Lng: -4.00}},
		DistanceKm:  2.5,
		DeliveryFee: 500,
		TipAmount:   200,
		DriverID:    driverID,
		Code:        "482913",
		CreatedAt:   f.now,
		UpdatedAt:   f.now,
	}
}

func (f *fixture) delivery(t *testing.T, id types.ID) Delivery {
	t.Helper()
	d, ok := f.repo.deliveries[id]
	if !ok {
		t.Fatalf("delivery %s missing", id)
	}
	return d
}
