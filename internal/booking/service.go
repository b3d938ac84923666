package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/slot-booking/internal/clock"
	"github.com/hackgods/slot-booking/internal/events"
	"github.com/hackgods/slot-booking/internal/lock"
	"github.com/hackgods/slot-booking/internal/logger"
	"github.com/hackgods/slot-booking/internal/sanitizer"
)

// SlotLockKey is the lease key guarding claims on one slot.
func SlotLockKey(slotID uuid.UUID) string {
	return "lock:slot:" + slotID.String()
}

type Options struct {
	// Lock bounds how long BookSlot waits for a slot lease and how long the
	// lease lives.
	Lock lock.AcquireOptions
	// Location interprets slot dates and HH:MM times. Defaults to UTC.
	Location *time.Location
}

type Service struct {
	repo      Repository
	locks     lock.Manager
	publisher events.Publisher
	clock     clock.Clock
	log       *logger.Logger
	opts      Options
}

func NewService(repo Repository, locks lock.Manager, publisher events.Publisher, clk clock.Clock, log *logger.Logger, opts Options) *Service {
	if clk == nil {
		clk = clock.NewSystem()
	}
	if log == nil {
		log = logger.Discard()
	}
	if publisher == nil {
		publisher = events.NewLogPublisher(log)
	}
	if opts.Lock.TTL <= 0 {
		opts.Lock = lock.DefaultAcquireOptions
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Service{
		repo:      repo,
		locks:     locks,
		publisher: publisher,
		clock:     clk,
		log:       log,
		opts:      opts,
	}
}

// BookSlotInput names the customer either by CustomerID or, for guests, by
// Customer. CustomerID wins when both are set.
type BookSlotInput struct {
	SlotID     uuid.UUID
	CustomerID uuid.UUID
	Customer   *CustomerInfo
	Notes      string
}

// BookSlot is the full claim flow: resolve the customer, take the slot
// lease, run the claim transaction, and give the lease back whatever
// happened. It returns ErrSlotBusy when the lease stays taken for the whole
// retry budget.
func (s *Service) BookSlot(ctx context.Context, in BookSlotInput) (*Booking, error) {
	customerID := in.CustomerID
	if customerID == uuid.Nil && in.Customer != nil {
		c, err := s.UpsertCustomer(ctx, *in.Customer)
		if err != nil {
			return nil, err
		}
		customerID = c.ID
	}

	key := SlotLockKey(in.SlotID)

	var created *Booking
	err := lock.WithLock(ctx, s.locks, key, s.opts.Lock, s.releaseFailed, func(lockCtx context.Context) error {
		b, err := s.claim(lockCtx, in.SlotID, customerID, in.Notes)
		if err != nil {
			return err
		}
		created = b
		return nil
	})
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			s.log.WarnContext(ctx, "slot busy", "slot_id", in.SlotID, "lock_key", key)
			return nil, ErrSlotBusy
		}
		return nil, s.classify(ctx, "book slot", in.SlotID, err)
	}

	s.publish(ctx, events.TypeBookingCreated, created, "")
	return created, nil
}

// ClaimSlot converts an open slot into a confirmed booking in one
// transaction. The caller must already hold the slot's lease.
func (s *Service) ClaimSlot(ctx context.Context, slotID, customerID uuid.UUID, notes string) (*Booking, error) {
	b, err := s.claim(ctx, slotID, customerID, notes)
	if err != nil {
		return nil, s.classify(ctx, "claim slot", slotID, err)
	}
	s.publish(ctx, events.TypeBookingCreated, b, "")
	return b, nil
}

func (s *Service) claim(ctx context.Context, slotID, customerID uuid.UUID, notes string) (*Booking, error) {
	var created *Booking

	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		// The lease only serializes callers that use it; this read is what
		// actually decides who gets the slot.
		slot, err := s.repo.GetSlotForUpdate(txCtx, slotID)
		if err != nil {
			return err
		}
		if !slot.Claimable() {
			return ErrSlotUnavailable
		}

		if _, err := s.repo.GetProviderByID(txCtx, slot.ProviderID); err != nil {
			return err
		}
		if _, err := s.repo.GetCustomerByID(txCtx, customerID); err != nil {
			return err
		}

		now := s.clock.Now()
		b := Booking{
			ID:              uuid.New(),
			CustomerID:      customerID,
			ProviderID:      slot.ProviderID,
			SlotID:          slot.ID,
			Status:          StatusConfirmed,
			PaymentStatus:   PaymentPending,
			TotalAmount:     slot.Price,
			ServiceDate:     slot.Date,
			StartTime:       slot.StartTime,
			EndTime:         slot.EndTime,
			DurationMinutes: slot.DurationMinutes,
			Notes:           notes,
			CreatedAt:       now,
			UpdatedAt:       now,
		}

		if err := s.repo.CreateBooking(txCtx, b); err != nil {
			return err
		}
		if err := s.repo.MarkSlotBooked(txCtx, slot.ID, b.ID, now); err != nil {
			return err
		}
		if err := s.repo.IncrementProviderBookings(txCtx, slot.ProviderID, now); err != nil {
			return err
		}
		if err := s.audit(txCtx, EventBookingCreated, b, map[string]any{
			"customer_id":  customerID,
			"total_amount": b.TotalAmount,
		}); err != nil {
			return err
		}

		created = &b
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "booking created",
		"booking_id", created.ID,
		"slot_id", slotID,
		"customer_id", customerID,
	)
	return created, nil
}

// CancelBooking cancels a confirmed or pending booking, marks it refunded and
// reopens its slot in the same transaction.
func (s *Service) CancelBooking(ctx context.Context, id uuid.UUID, reason string) (*Booking, error) {
	var cancelled *Booking

	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		b, err := s.repo.GetBookingForUpdate(txCtx, id)
		if err != nil {
			return err
		}

		switch b.Status {
		case StatusCancelled:
			return ErrAlreadyCancelled
		case StatusCompleted:
			return ErrCannotCancelCompleted
		}

		var why *string
		if reason != "" {
			why = &reason
		}

		now := s.clock.Now()
		updated, err := s.repo.MarkBookingCancelled(txCtx, id, why, now)
		if err != nil {
			return err
		}
		if err := s.repo.ReleaseSlot(txCtx, b.SlotID, b.ID, now); err != nil {
			return err
		}
		if err := s.audit(txCtx, EventBookingCancelled, *updated, map[string]any{
			"reason": reason,
		}); err != nil {
			return err
		}

		cancelled = updated
		return nil
	})
	if err != nil {
		return nil, s.classify(ctx, "cancel booking", id, err)
	}

	s.log.InfoContext(ctx, "booking cancelled", "booking_id", id, "slot_id", cancelled.SlotID)
	s.publish(ctx, events.TypeBookingCancelled, cancelled, reason)
	return cancelled, nil
}

func (s *Service) GetBooking(ctx context.Context, id uuid.UUID) (*Booking, error) {
	b, err := s.repo.GetBookingByID(ctx, id)
	if err != nil {
		return nil, s.classify(ctx, "get booking", id, err)
	}
	return b, nil
}

// ListCustomerBookings returns a customer's bookings, newest first.
func (s *Service) ListCustomerBookings(ctx context.Context, customerID uuid.UUID, opts ListOptions) ([]Booking, error) {
	list, err := s.repo.ListBookingsByCustomer(ctx, customerID, opts.Normalize())
	if err != nil {
		return nil, s.classify(ctx, "list customer bookings", customerID, err)
	}
	return list, nil
}

// UpsertCustomer registers a guest customer by email, or refreshes the name
// and phone of the customer already using that email. Contact details are
// normalized first; ErrInvalidCustomerInfo reports what cannot be.
func (s *Service) UpsertCustomer(ctx context.Context, info CustomerInfo) (*Customer, error) {
	name := sanitizer.CollapseSpaces(info.Name)
	email := sanitizer.NormalizeEmail(info.Email)
	phone := sanitizer.NormalizePhone(info.Phone)
	if name == "" || email == "" || phone == "" {
		return nil, ErrInvalidCustomerInfo
	}

	now := s.clock.Now()
	c, err := s.repo.UpsertCustomerByEmail(ctx, Customer{
		ID:        uuid.New(),
		Name:      name,
		Email:     &email,
		Phone:     &phone,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return nil, s.classify(ctx, "upsert customer", uuid.Nil, err)
	}
	return c, nil
}

// ListProviders returns up to 50 active providers matching f, best rated
// first.
func (s *Service) ListProviders(ctx context.Context, f ProviderFilter) ([]Provider, error) {
	list, err := s.repo.ListProviders(ctx, f.Normalize())
	if err != nil {
		return nil, s.classify(ctx, "list providers", uuid.Nil, err)
	}
	return list, nil
}

func (s *Service) GetProvider(ctx context.Context, id uuid.UUID) (*Provider, error) {
	p, err := s.repo.GetProviderByID(ctx, id)
	if err != nil {
		return nil, s.classify(ctx, "get provider", id, err)
	}
	return p, nil
}

func (s *Service) ListServiceTypes(ctx context.Context) ([]string, error) {
	types, err := s.repo.ListServiceTypes(ctx)
	if err != nil {
		return nil, s.classify(ctx, "list service types", uuid.Nil, err)
	}
	return types, nil
}

// ListAvailableSlots returns the claimable slots of a provider on date,
// ordered by start time.
func (s *Service) ListAvailableSlots(ctx context.Context, providerID uuid.UUID, date time.Time) ([]Slot, error) {
	y, m, d := date.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)

	slots, err := s.repo.ListAvailableSlots(ctx, providerID, day)
	if err != nil {
		return nil, s.classify(ctx, "list available slots", providerID, err)
	}
	return slots, nil
}

// SlotLockStatus reports whether a claim currently holds the slot's lease.
// The answer may be stale by the time the caller reads it.
func (s *Service) SlotLockStatus(ctx context.Context, slotID uuid.UUID) (LockStatus, error) {
	if _, err := s.repo.GetSlotByID(ctx, slotID); err != nil {
		return LockStatus{}, s.classify(ctx, "slot lock status", slotID, err)
	}

	key := SlotLockKey(slotID)
	status := LockStatus{SlotID: slotID, Key: key}

	lease, err := s.locks.Info(ctx, key)
	if err != nil {
		return LockStatus{}, s.classify(ctx, "slot lock status", slotID, err)
	}
	if lease != nil {
		exp := lease.ExpiresAt
		status.Locked = true
		status.ExpiresAt = &exp
	}
	return status, nil
}

// CompleteDueBookings moves confirmed bookings whose service window has ended
// to completed. Their slots stay consumed. It returns how many bookings were
// completed.
func (s *Service) CompleteDueBookings(ctx context.Context) (int, error) {
	now := s.clock.Now()

	due, err := s.repo.FindConfirmedThrough(ctx, now.In(s.opts.Location))
	if err != nil {
		return 0, s.classify(ctx, "find due bookings", uuid.Nil, err)
	}

	completed := 0
	for _, b := range due {
		end, err := b.EndsAt(s.opts.Location)
		if err != nil {
			s.log.ErrorContext(ctx, "skip booking with bad end time", "booking_id", b.ID, "error", err)
			continue
		}
		if end.After(now) {
			continue
		}

		var updated *Booking
		err = s.repo.WithTx(ctx, func(txCtx context.Context) error {
			u, err := s.repo.UpdateBookingStatus(txCtx, b.ID, StatusConfirmed, StatusCompleted, now)
			if err != nil {
				return err
			}
			updated = u
			return s.audit(txCtx, EventBookingCompleted, *u, nil)
		})
		if errors.Is(err, ErrInvalidStatusTransition) {
			// cancelled since it was listed
			continue
		}
		if err != nil {
			s.log.ErrorContext(ctx, "failed to complete booking", "booking_id", b.ID, "error", err)
			continue
		}

		completed++
		s.publish(ctx, events.TypeBookingCompleted, updated, "")
	}

	if completed > 0 {
		s.log.InfoContext(ctx, "bookings completed", "count", completed)
	}
	return completed, nil
}

func (s *Service) audit(ctx context.Context, eventType string, b Booking, extra map[string]any) error {
	payload := map[string]any{
		"status":         b.Status,
		"payment_status": b.PaymentStatus,
	}
	for k, v := range extra {
		payload[k] = v
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	bookingID, slotID := b.ID, b.SlotID
	return s.repo.InsertEvent(ctx, EventLog{
		EventType: eventType,
		BookingID: &bookingID,
		SlotID:    &slotID,
		Payload:   data,
		CreatedAt: s.clock.Now(),
	})
}

func (s *Service) publish(ctx context.Context, eventType string, b *Booking, reason string) {
	ev := events.Event{
		ID:          uuid.New(),
		Type:        eventType,
		BookingID:   b.ID,
		SlotID:      b.SlotID,
		CustomerID:  b.CustomerID,
		ProviderID:  b.ProviderID,
		Status:      string(b.Status),
		TotalAmount: b.TotalAmount,
		Reason:      reason,
		OccurredAt:  s.clock.Now(),
	}

	// The booking is already committed; a caller hanging up must not drop the event.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := s.publisher.Publish(pubCtx, ev); err != nil {
		s.log.ErrorContext(ctx, "failed to publish booking event",
			"event_type", eventType,
			"booking_id", b.ID,
			"error", err,
		)
	}
}

func (s *Service) releaseFailed(key string, err error) {
	s.log.Error("failed to release slot lease", "lock_key", key, "error", err)
}

// classify passes domain errors through and marks everything else as a
// storage failure.
func (s *Service) classify(ctx context.Context, op string, id uuid.UUID, err error) error {
	if domainErr(err) {
		if KindOf(err) == KindConflict {
			s.log.WarnContext(ctx, op+" conflict", "id", id, "error", err)
		}
		return err
	}
	s.log.ErrorContext(ctx, op+" failed", "id", id, "error", err)
	if errors.Is(err, ErrStorage) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}
