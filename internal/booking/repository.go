package booking

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository contains all storage interactions needed by the service.
//
// Methods called with the context handed to WithTx's fn run inside that
// transaction. Not-found lookups return the package sentinels; every other
// failure is returned as is and classified by the service.
type Repository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	GetProviderByID(ctx context.Context, id uuid.UUID) (*Provider, error)
	// ListProviders returns active providers matching f, best rated first
	// and then by booking count.
	ListProviders(ctx context.Context, f ProviderFilter) ([]Provider, error)
	// ListServiceTypes returns the distinct service types offered by active
	// providers, sorted.
	ListServiceTypes(ctx context.Context) ([]string, error)
	IncrementProviderBookings(ctx context.Context, providerID uuid.UUID, at time.Time) error

	GetCustomerByID(ctx context.Context, id uuid.UUID) (*Customer, error)
	// UpsertCustomerByEmail creates c, or refreshes the name and phone of the
	// customer already registered under c.Email, and returns the stored row.
	UpsertCustomerByEmail(ctx context.Context, c Customer) (*Customer, error)

	GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error)
	// GetSlotForUpdate reads the slot and, inside a transaction, keeps other
	// writers off it until commit.
	GetSlotForUpdate(ctx context.Context, id uuid.UUID) (*Slot, error)
	// MarkSlotBooked flips an open slot to booked. It returns
	// ErrSlotUnavailable when the slot is no longer open.
	MarkSlotBooked(ctx context.Context, slotID, bookingID uuid.UUID, at time.Time) error
	// ReleaseSlot reopens a slot held by bookingID.
	ReleaseSlot(ctx context.Context, slotID, bookingID uuid.UUID, at time.Time) error
	ListAvailableSlots(ctx context.Context, providerID uuid.UUID, date time.Time) ([]Slot, error)

	// CreateBooking returns ErrSlotUnavailable when another live booking
	// already references the slot.
	CreateBooking(ctx context.Context, b Booking) error
	GetBookingByID(ctx context.Context, id uuid.UUID) (*Booking, error)
	GetBookingForUpdate(ctx context.Context, id uuid.UUID) (*Booking, error)
	MarkBookingCancelled(ctx context.Context, id uuid.UUID, reason *string, at time.Time) (*Booking, error)
	// UpdateBookingStatus moves a booking from one status to another. It
	// returns ErrInvalidStatusTransition when the booking is not in from.
	UpdateBookingStatus(ctx context.Context, id uuid.UUID, from, to Status, at time.Time) (*Booking, error)
	ListBookingsByCustomer(ctx context.Context, customerID uuid.UUID, opts ListOptions) ([]Booking, error)
	// FindConfirmedThrough returns confirmed bookings whose service date is on
	// or before date.
	FindConfirmedThrough(ctx context.Context, date time.Time) ([]Booking, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}
