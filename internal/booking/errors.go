package booking

import (
	"errors"
)

var (
	ErrSlotBusy = errors.New("slot is being booked by another request, please retry")

	ErrSlotNotFound     = errors.New("slot not found")
	ErrBookingNotFound  = errors.New("booking not found")
	ErrProviderNotFound = errors.New("provider not found")
	ErrCustomerNotFound = errors.New("customer not found")

	ErrSlotUnavailable = errors.New("slot no longer available")

	ErrAlreadyCancelled        = errors.New("booking is already cancelled")
	ErrCannotCancelCompleted   = errors.New("cannot cancel a completed booking")
	ErrInvalidStatusTransition = errors.New("invalid status transition")

	ErrInvalidCustomerInfo = errors.New("customer info needs a name, a valid email and a valid phone number")

	ErrStorage = errors.New("storage failure")
)

// ErrorKind groups coordinator errors by how a caller should react to them.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindBusy
	KindNotFound
	KindConflict
	KindInvalidState
	KindInvalidInput
	KindStorage
)

func (k ErrorKind) String() string {
	switch k {
	case KindBusy:
		return "busy"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindInvalidState:
		return "invalid_state"
	case KindInvalidInput:
		return "invalid_input"
	case KindStorage:
		return "storage"
	default:
		return "unknown"
	}
}

// KindOf classifies err. Domain sentinels take precedence over ErrStorage so
// a wrapped not-found stays a not-found.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrSlotBusy):
		return KindBusy
	case errors.Is(err, ErrSlotNotFound),
		errors.Is(err, ErrBookingNotFound),
		errors.Is(err, ErrProviderNotFound),
		errors.Is(err, ErrCustomerNotFound):
		return KindNotFound
	case errors.Is(err, ErrSlotUnavailable):
		return KindConflict
	case errors.Is(err, ErrAlreadyCancelled),
		errors.Is(err, ErrCannotCancelCompleted),
		errors.Is(err, ErrInvalidStatusTransition):
		return KindInvalidState
	case errors.Is(err, ErrInvalidCustomerInfo):
		return KindInvalidInput
	case errors.Is(err, ErrStorage):
		return KindStorage
	default:
		return KindUnknown
	}
}

// domainErr reports whether err is one of the package sentinels that must
// reach the caller unwrapped by ErrStorage.
func domainErr(err error) bool {
	k := KindOf(err)
	return k != KindUnknown && k != KindStorage
}
