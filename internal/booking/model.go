package booking

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
)

const (
	EventBookingCreated   = "booking_created"
	EventBookingCancelled = "booking_cancelled"
	EventBookingCompleted = "booking_completed"
)

// TimeLayout is the wall-clock format of slot and booking start/end times.
const TimeLayout = "15:04"

type Provider struct {
	ID            uuid.UUID
	Name          string
	ServiceType   string
	City          string
	Area          string
	Rating        float64
	HourlyRate    int64
	IsActive      bool
	TotalBookings int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Customer struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	Phone     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CustomerInfo identifies a customer by email for bookings made without an
// account. Booking with it creates the customer or refreshes their details.
type CustomerInfo struct {
	Name  string
	Email string
	Phone string
}

// Slot is one bookable window of a provider's time. IsBooked, BookingID != nil
// and !IsAvailable always agree.
type Slot struct {
	ID              uuid.UUID
	ProviderID      uuid.UUID
	Date            time.Time
	StartTime       string
	EndTime         string
	DurationMinutes int
	Price           int64
	IsAvailable     bool
	IsBooked        bool
	BookingID       *uuid.UUID
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Claimable reports whether a claim transaction may take the slot.
func (s Slot) Claimable() bool {
	return s.IsAvailable && !s.IsBooked
}

// Consistent reports whether the booked flags agree with each other.
func (s Slot) Consistent() bool {
	return s.IsBooked == (s.BookingID != nil) && s.IsBooked == !s.IsAvailable
}

type Booking struct {
	ID                 uuid.UUID
	CustomerID         uuid.UUID
	ProviderID         uuid.UUID
	SlotID             uuid.UUID
	Status             Status
	PaymentStatus      PaymentStatus
	TotalAmount        int64
	ServiceDate        time.Time
	StartTime          string
	EndTime            string
	DurationMinutes    int
	Notes              string
	CancellationReason *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	CancelledAt        *time.Time
	CompletedAt        *time.Time
}

// EndsAt combines the service date with the end time in loc.
func (b Booking) EndsAt(loc *time.Location) (time.Time, error) {
	return combine(b.ServiceDate, b.EndTime, loc)
}

type EventLog struct {
	ID        int64
	EventType string
	BookingID *uuid.UUID
	SlotID    *uuid.UUID
	Payload   []byte
	CreatedAt time.Time
}

// ListOptions pages through a customer's bookings.
type ListOptions struct {
	Limit  int
	Offset int
}

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// Normalize applies the default page size and clamps out-of-range values.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = defaultListLimit
	}
	if o.Limit > maxListLimit {
		o.Limit = maxListLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}

// ProviderFilter narrows provider discovery. Zero fields do not filter.
// City and Area match case-insensitive substrings.
type ProviderFilter struct {
	ServiceType   string
	City          string
	Area          string
	MinRating     float64
	MaxHourlyRate int64
	Limit         int
}

const maxProviderLimit = 50

// Normalize caps Limit at the discovery page size.
func (f ProviderFilter) Normalize() ProviderFilter {
	if f.Limit <= 0 || f.Limit > maxProviderLimit {
		f.Limit = maxProviderLimit
	}
	if f.MinRating < 0 {
		f.MinRating = 0
	}
	if f.MaxHourlyRate < 0 {
		f.MaxHourlyRate = 0
	}
	return f
}

// LockStatus is a read-only view of the lease guarding a slot.
type LockStatus struct {
	SlotID    uuid.UUID  `json:"slot_id"`
	Key       string     `json:"lock_key"`
	Locked    bool       `json:"locked"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func combine(date time.Time, clock string, loc *time.Location) (time.Time, error) {
	t, err := time.Parse(TimeLayout, clock)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", clock, err)
	}
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := date.Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), 0, 0, loc), nil
}
