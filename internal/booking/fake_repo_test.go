package booking

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/slot-booking/internal/events"
)

// fakeRepo is an in-memory Repository. Transactions are serialized and roll
// back to a snapshot on error, which is enough to model an isolated store.
type fakeRepo struct {
	txMu sync.Mutex

	mu        sync.Mutex
	providers map[uuid.UUID]Provider
	customers map[uuid.UUID]Customer
	slots     map[uuid.UUID]Slot
	bookings  map[uuid.UUID]Booking
	events    []EventLog

	// failOn makes the named method return the error.
	failOn   map[string]error
	lastList ListOptions
	txCount  int
}

type fakeState struct {
	providers map[uuid.UUID]Provider
	slots     map[uuid.UUID]Slot
	bookings  map[uuid.UUID]Booking
	events    []EventLog
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		providers: map[uuid.UUID]Provider{},
		customers: map[uuid.UUID]Customer{},
		slots:     map[uuid.UUID]Slot{},
		bookings:  map[uuid.UUID]Booking{},
		failOn:    map[string]error{},
	}
}

// The add helpers lock like every other method since tests call them while
// claims are running.

func (r *fakeRepo) addProvider() uuid.UUID {
	return r.putProvider(Provider{Name: "provider", ServiceType: "plumber", IsActive: true})
}

func (r *fakeRepo) putProvider(p Provider) uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	p.ID = uuid.New()
	r.providers[p.ID] = p
	return p.ID
}

func (r *fakeRepo) addCustomer() uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := uuid.New()
	r.customers[id] = Customer{ID: id, Name: "customer"}
	return id
}

func (r *fakeRepo) addSlot(providerID uuid.UUID, date time.Time, start, end string, price int64) uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := uuid.New()
	r.slots[id] = Slot{
		ID:              id,
		ProviderID:      providerID,
		Date:            date,
		StartTime:       start,
		EndTime:         end,
		DurationMinutes: 60,
		Price:           price,
		IsAvailable:     true,
	}
	return id
}

func (r *fakeRepo) slot(id uuid.UUID) Slot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.slots[id]
}

func (r *fakeRepo) provider(id uuid.UUID) Provider {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.providers[id]
}

func (r *fakeRepo) customerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.customers)
}

func (r *fakeRepo) booking(id uuid.UUID) Booking {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bookings[id]
}

func (r *fakeRepo) bookingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bookings)
}

func (r *fakeRepo) eventTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.EventType)
	}
	return out
}

func (r *fakeRepo) fail(method string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failOn[method]
}

func (r *fakeRepo) snapshot() fakeState {
	s := fakeState{
		providers: make(map[uuid.UUID]Provider, len(r.providers)),
		slots:     make(map[uuid.UUID]Slot, len(r.slots)),
		bookings:  make(map[uuid.UUID]Booking, len(r.bookings)),
		events:    append([]EventLog(nil), r.events...),
	}
	for k, v := range r.providers {
		s.providers[k] = v
	}
	for k, v := range r.slots {
		s.slots[k] = v
	}
	for k, v := range r.bookings {
		s.bookings[k] = v
	}
	return s
}

type fakeTxKey struct{}

func (r *fakeRepo) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(fakeTxKey{}) != nil {
		return fn(ctx)
	}

	r.txMu.Lock()
	defer r.txMu.Unlock()

	if err := r.fail("WithTx"); err != nil {
		return err
	}

	r.mu.Lock()
	snap := r.snapshot()
	r.txCount++
	r.mu.Unlock()

	if err := fn(context.WithValue(ctx, fakeTxKey{}, true)); err != nil {
		r.mu.Lock()
		r.providers, r.slots, r.bookings, r.events = snap.providers, snap.slots, snap.bookings, snap.events
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *fakeRepo) GetProviderByID(_ context.Context, id uuid.UUID) (*Provider, error) {
	if err := r.fail("GetProviderByID"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.providers[id]
	if !ok {
		return nil, ErrProviderNotFound
	}
	return &p, nil
}

func (r *fakeRepo) ListProviders(_ context.Context, f ProviderFilter) ([]Provider, error) {
	if err := r.fail("ListProviders"); err != nil {
		return nil, err
	}
	f = f.Normalize()
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []Provider{}
	for _, p := range r.providers {
		switch {
		case !p.IsActive,
			f.ServiceType != "" && p.ServiceType != f.ServiceType,
			!containsFold(p.City, f.City),
			!containsFold(p.Area, f.Area),
			p.Rating < f.MinRating,
			f.MaxHourlyRate > 0 && p.HourlyRate > f.MaxHourlyRate:
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Rating != out[j].Rating {
			return out[i].Rating > out[j].Rating
		}
		return out[i].TotalBookings > out[j].TotalBookings
	})
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

func (r *fakeRepo) ListServiceTypes(_ context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := map[string]bool{}
	out := []string{}
	for _, p := range r.providers {
		if p.IsActive && p.ServiceType != "" && !seen[p.ServiceType] {
			seen[p.ServiceType] = true
			out = append(out, p.ServiceType)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r *fakeRepo) IncrementProviderBookings(_ context.Context, providerID uuid.UUID, at time.Time) error {
	if err := r.fail("IncrementProviderBookings"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.providers[providerID]
	if !ok {
		return ErrProviderNotFound
	}
	p.TotalBookings++
	p.UpdatedAt = at
	r.providers[providerID] = p
	return nil
}

func (r *fakeRepo) GetCustomerByID(_ context.Context, id uuid.UUID) (*Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.customers[id]
	if !ok {
		return nil, ErrCustomerNotFound
	}
	return &c, nil
}

func (r *fakeRepo) UpsertCustomerByEmail(_ context.Context, c Customer) (*Customer, error) {
	if err := r.fail("UpsertCustomerByEmail"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, existing := range r.customers {
		if existing.Email != nil && c.Email != nil && *existing.Email == *c.Email {
			existing.Name, existing.Phone, existing.UpdatedAt = c.Name, c.Phone, c.UpdatedAt
			r.customers[id] = existing
			return &existing, nil
		}
	}
	r.customers[c.ID] = c
	return &c, nil
}

func (r *fakeRepo) GetSlotByID(_ context.Context, id uuid.UUID) (*Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	return &s, nil
}

func (r *fakeRepo) GetSlotForUpdate(ctx context.Context, id uuid.UUID) (*Slot, error) {
	return r.GetSlotByID(ctx, id)
}

func (r *fakeRepo) MarkSlotBooked(_ context.Context, slotID, bookingID uuid.UUID, at time.Time) error {
	if err := r.fail("MarkSlotBooked"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[slotID]
	if !ok || !s.Claimable() {
		return ErrSlotUnavailable
	}
	s.IsAvailable, s.IsBooked, s.BookingID, s.UpdatedAt = false, true, &bookingID, at
	r.slots[slotID] = s
	return nil
}

func (r *fakeRepo) ReleaseSlot(_ context.Context, slotID, bookingID uuid.UUID, at time.Time) error {
	if err := r.fail("ReleaseSlot"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[slotID]
	if !ok || s.BookingID == nil || *s.BookingID != bookingID {
		return ErrSlotNotFound
	}
	s.IsAvailable, s.IsBooked, s.BookingID, s.UpdatedAt = true, false, nil, at
	r.slots[slotID] = s
	return nil
}

func (r *fakeRepo) ListAvailableSlots(_ context.Context, providerID uuid.UUID, date time.Time) ([]Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []Slot{}
	for _, s := range r.slots {
		if s.ProviderID == providerID && s.Date.Equal(date) && s.Claimable() {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime < out[j].StartTime })
	return out, nil
}

func (r *fakeRepo) CreateBooking(_ context.Context, b Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.bookings {
		if existing.SlotID == b.SlotID && existing.Status != StatusCancelled {
			return ErrSlotUnavailable
		}
	}
	r.bookings[b.ID] = b
	return nil
}

func (r *fakeRepo) GetBookingByID(_ context.Context, id uuid.UUID) (*Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok {
		return nil, ErrBookingNotFound
	}
	return &b, nil
}

func (r *fakeRepo) GetBookingForUpdate(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return r.GetBookingByID(ctx, id)
}

func (r *fakeRepo) MarkBookingCancelled(_ context.Context, id uuid.UUID, reason *string, at time.Time) (*Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok || b.Status.Terminal() {
		return nil, ErrInvalidStatusTransition
	}
	b.Status, b.PaymentStatus, b.CancellationReason = StatusCancelled, PaymentRefunded, reason
	b.CancelledAt, b.UpdatedAt = &at, at
	r.bookings[id] = b
	return &b, nil
}

func (r *fakeRepo) UpdateBookingStatus(_ context.Context, id uuid.UUID, from, to Status, at time.Time) (*Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok || b.Status != from {
		return nil, ErrInvalidStatusTransition
	}
	b.Status, b.UpdatedAt = to, at
	if to == StatusCompleted {
		b.CompletedAt = &at
	}
	r.bookings[id] = b
	return &b, nil
}

func (r *fakeRepo) ListBookingsByCustomer(_ context.Context, customerID uuid.UUID, opts ListOptions) ([]Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastList = opts
	out := []Booking{}
	for _, b := range r.bookings {
		if b.CustomerID == customerID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if opts.Offset >= len(out) {
		return []Booking{}, nil
	}
	out = out[opts.Offset:]
	if len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (r *fakeRepo) FindConfirmedThrough(_ context.Context, date time.Time) ([]Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []Booking{}
	for _, b := range r.bookings {
		if b.Status == StatusConfirmed && !b.ServiceDate.After(date) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (r *fakeRepo) InsertEvent(_ context.Context, ev EventLog) error {
	if err := r.fail("InsertEvent"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *fakePublisher) Publish(_ context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

var errBoom = errors.New("boom")
