package booking

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/hackgods/slot-booking/internal/clock"
	"github.com/hackgods/slot-booking/internal/lock"
	"github.com/hackgods/slot-booking/internal/logger"
	"github.com/hackgods/slot-booking/internal/testutil"
)

type mongoFixture struct {
	t    *testing.T
	repo *MongoRepository
}

func (m mongoFixture) reset(ctx context.Context) {
	m.t.Helper()
	for _, c := range []interface {
		Drop(context.Context) error
	}{m.repo.providers, m.repo.customers, m.repo.slots, m.repo.bookings, m.repo.eventLogs} {
		if err := c.Drop(ctx); err != nil {
			m.t.Fatalf("drop collection: %v", err)
		}
	}
	if err := m.repo.EnsureIndexes(ctx); err != nil {
		m.t.Fatalf("ensure indexes: %v", err)
	}
}

func (m mongoFixture) insertProvider(ctx context.Context, d providerDoc) uuid.UUID {
	m.t.Helper()
	id := uuid.New()
	d.ID = id.String()
	if d.Name == "" {
		d.Name = "Dr. Who"
	}
	d.CreatedAt, d.UpdatedAt = time.Now().UTC(), time.Now().UTC()
	if _, err := m.repo.providers.InsertOne(ctx, d); err != nil {
		m.t.Fatalf("insert provider: %v", err)
	}
	return id
}

func (m mongoFixture) insertCustomer(ctx context.Context, name string) uuid.UUID {
	m.t.Helper()
	id := uuid.New()
	now := time.Now().UTC()
	if _, err := m.repo.customers.InsertOne(ctx, customerDoc{ID: id.String(), Name: name, CreatedAt: now, UpdatedAt: now}); err != nil {
		m.t.Fatalf("insert customer: %v", err)
	}
	return id
}

func (m mongoFixture) insertSlot(ctx context.Context, providerID uuid.UUID, date time.Time, start, end string, price int64) uuid.UUID {
	m.t.Helper()
	id := uuid.New()
	now := time.Now().UTC()
	_, err := m.repo.slots.InsertOne(ctx, slotDoc{
		ID:              id.String(),
		ProviderID:      providerID.String(),
		Date:            date,
		StartTime:       start,
		EndTime:         end,
		DurationMinutes: 60,
		Price:           price,
		IsAvailable:     true,
		CreatedAt:       now,
		UpdatedAt:       now,
	})
	if err != nil {
		m.t.Fatalf("insert slot: %v", err)
	}
	return id
}

func (m mongoFixture) slotVersion(ctx context.Context, id uuid.UUID) int64 {
	m.t.Helper()
	var d slotDoc
	if err := m.repo.slots.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&d); err != nil {
		m.t.Fatalf("load slot: %v", err)
	}
	return d.Version
}

func TestMongoRepository(t *testing.T) {
	client, database := testutil.NewTestMongo(t)
	repo := NewMongoRepository(client, database)

	date := time.Date(2030, 6, 1, 0, 0, 0, 0, time.UTC)

	t.Run("GetSlotForUpdate bumps the version and reports ErrSlotNotFound", func(t *testing.T) {
		ctx := context.Background()
		m := mongoFixture{t: t, repo: repo}
		m.reset(ctx)
		providerID := m.insertProvider(ctx, providerDoc{IsActive: true})
		slotID := m.insertSlot(ctx, providerID, date, "10:00", "11:00", 500)

		err := repo.WithTx(ctx, func(txCtx context.Context) error {
			s, err := repo.GetSlotForUpdate(txCtx, slotID)
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if s.ProviderID != providerID || s.Price != 500 || s.StartTime != "10:00" || !s.Date.Equal(date) || !s.Claimable() {
				t.Fatalf("unexpected slot: %+v", s)
			}

			if _, err := repo.GetSlotForUpdate(txCtx, uuid.New()); !errors.Is(err, ErrSlotNotFound) {
				t.Fatalf("expected ErrSlotNotFound, got %v", err)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("tx failed: %v", err)
		}
		if v := m.slotVersion(ctx, slotID); v != 1 {
			t.Fatalf("expected version 1 after one locked read, got %d", v)
		}
	})

	t.Run("claim and cancel through the service", func(t *testing.T) {
		ctx := context.Background()
		m := mongoFixture{t: t, repo: repo}
		m.reset(ctx)
		providerID := m.insertProvider(ctx, providerDoc{IsActive: true})
		customerID := m.insertCustomer(ctx, "Amy")
		slotID := m.insertSlot(ctx, providerID, date, "10:00", "11:00", 500)

		now := time.Date(2030, 5, 20, 9, 30, 0, 0, time.UTC)
		svc := NewService(repo, lock.NewMemoryManager(nil), nil, clock.NewFixed(now), logger.Discard(), Options{})

		b, err := svc.BookSlot(ctx, BookSlotInput{SlotID: slotID, CustomerID: customerID, Notes: "hi"})
		if err != nil {
			t.Fatalf("book: %v", err)
		}
		if b.TotalAmount != 500 || b.Status != StatusConfirmed {
			t.Fatalf("unexpected booking: %+v", b)
		}

		stored, err := repo.GetBookingByID(ctx, b.ID)
		if err != nil || stored.SlotID != slotID || stored.Notes != "hi" {
			t.Fatalf("unexpected stored booking: %+v err=%v", stored, err)
		}

		s, _ := repo.GetSlotByID(ctx, slotID)
		if !s.IsBooked || s.BookingID == nil || *s.BookingID != b.ID || !s.Consistent() {
			t.Fatalf("expected slot booked by %s, got %+v", b.ID, s)
		}
		p, _ := repo.GetProviderByID(ctx, providerID)
		if p.TotalBookings != 1 || !p.UpdatedAt.Equal(now) {
			t.Fatalf("expected one booking stamped %s, got %d at %s", now, p.TotalBookings, p.UpdatedAt)
		}

		if _, err := svc.ClaimSlot(ctx, slotID, customerID, ""); !errors.Is(err, ErrSlotUnavailable) {
			t.Fatalf("expected ErrSlotUnavailable, got %v", err)
		}

		cancelled, err := svc.CancelBooking(ctx, b.ID, "sick")
		if err != nil {
			t.Fatalf("cancel: %v", err)
		}
		if cancelled.PaymentStatus != PaymentRefunded || cancelled.CancelledAt == nil {
			t.Fatalf("unexpected cancelled booking: %+v", cancelled)
		}
		s, _ = repo.GetSlotByID(ctx, slotID)
		if !s.Claimable() || !s.Consistent() {
			t.Fatalf("expected slot reopened, got %+v", s)
		}

		if _, err := svc.CancelBooking(ctx, b.ID, ""); !errors.Is(err, ErrAlreadyCancelled) {
			t.Fatalf("expected ErrAlreadyCancelled, got %v", err)
		}

		again, err := svc.BookSlot(ctx, BookSlotInput{SlotID: slotID, CustomerID: customerID})
		if err != nil {
			t.Fatalf("rebook: %v", err)
		}

		list, err := svc.ListCustomerBookings(ctx, customerID, ListOptions{})
		if err != nil || len(list) != 2 {
			t.Fatalf("expected two bookings, got %+v err=%v", list, err)
		}

		var audits []eventLogDoc
		cur, err := repo.eventLogs.Find(ctx, bson.M{})
		if err != nil {
			t.Fatalf("find events: %v", err)
		}
		if err := cur.All(ctx, &audits); err != nil {
			t.Fatalf("decode events: %v", err)
		}
		if len(audits) != 3 {
			t.Fatalf("expected 3 audit documents, got %d", len(audits))
		}
		for _, ev := range audits {
			if !ev.CreatedAt.Equal(now) {
				t.Fatalf("expected audit stamped %s, got %s", now, ev.CreatedAt)
			}
		}
		n, err := repo.eventLogs.CountDocuments(ctx, bson.M{"booking_id": again.ID.String()})
		if err != nil || n != 1 {
			t.Fatalf("expected one audit for the rebooking, got %d err=%v", n, err)
		}
	})

	t.Run("partial unique index rejects a second live booking", func(t *testing.T) {
		ctx := context.Background()
		m := mongoFixture{t: t, repo: repo}
		m.reset(ctx)
		providerID := m.insertProvider(ctx, providerDoc{IsActive: true})
		customerID := m.insertCustomer(ctx, "Amy")
		slotID := m.insertSlot(ctx, providerID, date, "10:00", "11:00", 500)

		mk := func() Booking {
			return Booking{
				ID: uuid.New(), CustomerID: customerID, ProviderID: providerID, SlotID: slotID,
				Status: StatusConfirmed, PaymentStatus: PaymentPending, TotalAmount: 500,
				ServiceDate: date, StartTime: "10:00", EndTime: "11:00", DurationMinutes: 60,
				CreatedAt: time.Now().UTC(),
			}
		}
		first := mk()
		if err := repo.CreateBooking(ctx, first); err != nil {
			t.Fatalf("first insert: %v", err)
		}
		if err := repo.CreateBooking(ctx, mk()); !errors.Is(err, ErrSlotUnavailable) {
			t.Fatalf("expected ErrSlotUnavailable, got %v", err)
		}

		if _, err := repo.MarkBookingCancelled(ctx, first.ID, nil, time.Now().UTC()); err != nil {
			t.Fatalf("cancel: %v", err)
		}
		if err := repo.CreateBooking(ctx, mk()); err != nil {
			t.Fatalf("expected a cancelled booking to free the slot, got %v", err)
		}
	})

	t.Run("concurrent claims without lease produce one booking", func(t *testing.T) {
		ctx := context.Background()
		m := mongoFixture{t: t, repo: repo}
		m.reset(ctx)
		providerID := m.insertProvider(ctx, providerDoc{IsActive: true})
		slotID := m.insertSlot(ctx, providerID, date, "10:00", "11:00", 500)

		customers := make([]uuid.UUID, 6)
		for i := range customers {
			customers[i] = m.insertCustomer(ctx, "c")
		}

		svc := NewService(repo, lock.NewMemoryManager(nil), nil, nil, logger.Discard(), Options{})

		var wg sync.WaitGroup
		var created atomic.Int32
		for _, c := range customers {
			wg.Add(1)
			go func(c uuid.UUID) {
				defer wg.Done()
				_, err := svc.ClaimSlot(ctx, slotID, c, "")
				if err == nil {
					created.Add(1)
				} else if !errors.Is(err, ErrSlotUnavailable) {
					t.Errorf("expected conflict, got %v", err)
				}
			}(c)
		}
		wg.Wait()

		if created.Load() != 1 {
			t.Fatalf("expected exactly one booking, got %d", created.Load())
		}
		n, err := repo.bookings.CountDocuments(ctx, bson.M{"slot_id": slotID.String()})
		if err != nil || n != 1 {
			t.Fatalf("expected one stored booking, got %d err=%v", n, err)
		}
		s, _ := repo.GetSlotByID(ctx, slotID)
		if !s.Consistent() || !s.IsBooked {
			t.Fatalf("expected consistent booked slot, got %+v", s)
		}
	})

	t.Run("ReleaseSlot only frees the holding booking", func(t *testing.T) {
		ctx := context.Background()
		m := mongoFixture{t: t, repo: repo}
		m.reset(ctx)
		providerID := m.insertProvider(ctx, providerDoc{IsActive: true})
		slotID := m.insertSlot(ctx, providerID, date, "10:00", "11:00", 500)

		holder := uuid.New()
		at := time.Date(2030, 5, 20, 9, 0, 0, 0, time.UTC)
		if err := repo.MarkSlotBooked(ctx, slotID, holder, at); err != nil {
			t.Fatalf("mark booked: %v", err)
		}
		if err := repo.MarkSlotBooked(ctx, slotID, uuid.New(), at); !errors.Is(err, ErrSlotUnavailable) {
			t.Fatalf("expected ErrSlotUnavailable, got %v", err)
		}

		if err := repo.ReleaseSlot(ctx, slotID, uuid.New(), at); !errors.Is(err, ErrSlotNotFound) {
			t.Fatalf("expected ErrSlotNotFound for another booking, got %v", err)
		}
		if s, _ := repo.GetSlotByID(ctx, slotID); !s.IsBooked || *s.BookingID != holder {
			t.Fatalf("expected slot still held by %s, got %+v", holder, s)
		}

		released := at.Add(time.Hour)
		if err := repo.ReleaseSlot(ctx, slotID, holder, released); err != nil {
			t.Fatalf("release: %v", err)
		}
		s, _ := repo.GetSlotByID(ctx, slotID)
		if !s.Claimable() || !s.Consistent() || !s.UpdatedAt.Equal(released) {
			t.Fatalf("expected reopened slot updated at %s, got %+v", released, s)
		}
	})

	t.Run("UpsertCustomerByEmail keeps one customer per email", func(t *testing.T) {
		ctx := context.Background()
		m := mongoFixture{t: t, repo: repo}
		m.reset(ctx)

		email, phone := "amy@example.com", "+16502530000"
		at := time.Date(2030, 5, 20, 9, 0, 0, 0, time.UTC)
		first, err := repo.UpsertCustomerByEmail(ctx, Customer{ID: uuid.New(), Name: "Amy", Email: &email, Phone: &phone, CreatedAt: at, UpdatedAt: at})
		if err != nil {
			t.Fatalf("insert: %v", err)
		}

		newPhone := "+918123456789"
		later := at.Add(time.Hour)
		second, err := repo.UpsertCustomerByEmail(ctx, Customer{ID: uuid.New(), Name: "Amelia", Email: &email, Phone: &newPhone, CreatedAt: later, UpdatedAt: later})
		if err != nil {
			t.Fatalf("update: %v", err)
		}
		if second.ID != first.ID || second.Name != "Amelia" || *second.Phone != newPhone {
			t.Fatalf("expected refreshed customer %s, got %+v", first.ID, second)
		}
		if !second.CreatedAt.Equal(at) || !second.UpdatedAt.Equal(later) {
			t.Fatalf("unexpected timestamps: created %s updated %s", second.CreatedAt, second.UpdatedAt)
		}
		if n, _ := repo.customers.CountDocuments(ctx, bson.M{}); n != 1 {
			t.Fatalf("expected one customer, got %d", n)
		}
	})

	t.Run("ListProviders filters and ranks active providers", func(t *testing.T) {
		ctx := context.Background()
		m := mongoFixture{t: t, repo: repo}
		m.reset(ctx)

		top := m.insertProvider(ctx, providerDoc{ServiceType: "plumber", City: "Bengaluru", Rating: 4.8, HourlyRate: 50000, IsActive: true})
		busy := m.insertProvider(ctx, providerDoc{ServiceType: "plumber", City: "bengaluru", Rating: 4.2, HourlyRate: 40000, IsActive: true, TotalBookings: 90})
		m.insertProvider(ctx, providerDoc{ServiceType: "painter", City: "Mumbai", Rating: 3.9, IsActive: true})
		m.insertProvider(ctx, providerDoc{ServiceType: "electrician", City: "Bengaluru", Rating: 5, IsActive: false})

		list, err := repo.ListProviders(ctx, ProviderFilter{City: "BENGAL"})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(list) != 2 || list[0].ID != top || list[1].ID != busy {
			t.Fatalf("expected [%s %s], got %+v", top, busy, list)
		}

		list, err = repo.ListProviders(ctx, ProviderFilter{ServiceType: "plumber", MaxHourlyRate: 45000})
		if err != nil || len(list) != 1 || list[0].ID != busy {
			t.Fatalf("expected only %s, got %+v err=%v", busy, list, err)
		}

		list, err = repo.ListProviders(ctx, ProviderFilter{MinRating: 4.5})
		if err != nil || len(list) != 1 || list[0].ID != top {
			t.Fatalf("expected only %s, got %+v err=%v", top, list, err)
		}

		types, err := repo.ListServiceTypes(ctx)
		if err != nil || len(types) != 2 || types[0] != "painter" || types[1] != "plumber" {
			t.Fatalf("unexpected service types %v err=%v", types, err)
		}
	})

	t.Run("UpdateBookingStatus and FindConfirmedThrough", func(t *testing.T) {
		ctx := context.Background()
		m := mongoFixture{t: t, repo: repo}
		m.reset(ctx)
		providerID := m.insertProvider(ctx, providerDoc{IsActive: true})
		customerID := m.insertCustomer(ctx, "Amy")
		slotID := m.insertSlot(ctx, providerID, date, "10:00", "11:00", 500)

		svc := NewService(repo, lock.NewMemoryManager(nil), nil, nil, logger.Discard(), Options{})
		b, err := svc.ClaimSlot(ctx, slotID, customerID, "")
		if err != nil {
			t.Fatalf("claim: %v", err)
		}

		due, err := repo.FindConfirmedThrough(ctx, date.Add(-24*time.Hour))
		if err != nil || len(due) != 0 {
			t.Fatalf("expected nothing due before the service date, got %d err=%v", len(due), err)
		}
		due, err = repo.FindConfirmedThrough(ctx, date)
		if err != nil || len(due) != 1 {
			t.Fatalf("expected one due booking, got %d err=%v", len(due), err)
		}

		done, err := repo.UpdateBookingStatus(ctx, b.ID, StatusConfirmed, StatusCompleted, time.Now().UTC())
		if err != nil || done.Status != StatusCompleted || done.CompletedAt == nil {
			t.Fatalf("expected completed booking, got %+v err=%v", done, err)
		}
		if _, err := repo.UpdateBookingStatus(ctx, b.ID, StatusConfirmed, StatusCompleted, time.Now().UTC()); !errors.Is(err, ErrInvalidStatusTransition) {
			t.Fatalf("expected ErrInvalidStatusTransition, got %v", err)
		}
	})
}
