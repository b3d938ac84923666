package booking

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestKindOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, KindUnknown},
		{"busy", ErrSlotBusy, KindBusy},
		{"slot not found", ErrSlotNotFound, KindNotFound},
		{"wrapped booking not found", fmt.Errorf("load: %w", ErrBookingNotFound), KindNotFound},
		{"provider not found", ErrProviderNotFound, KindNotFound},
		{"customer not found", ErrCustomerNotFound, KindNotFound},
		{"conflict", ErrSlotUnavailable, KindConflict},
		{"already cancelled", ErrAlreadyCancelled, KindInvalidState},
		{"completed", ErrCannotCancelCompleted, KindInvalidState},
		{"transition", ErrInvalidStatusTransition, KindInvalidState},
		{"customer info", fmt.Errorf("book slot: %w", ErrInvalidCustomerInfo), KindInvalidInput},
		{"storage", fmt.Errorf("%w: commit: %w", ErrStorage, errors.New("conn reset")), KindStorage},
		{"unclassified", errors.New("whatever"), KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Fatalf("KindOf(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestService_classifyWrapsInfrastructureErrors(t *testing.T) {
	t.Parallel()

	svc := NewService(newFakeRepo(), nil, nil, nil, nil, Options{})

	err := svc.classify(context.Background(), "claim slot", uuid.Nil, context.DeadlineExceeded)
	if !errors.Is(err, ErrStorage) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected storage error keeping its cause, got %v", err)
	}

	if err := svc.classify(context.Background(), "claim slot", uuid.Nil, ErrSlotUnavailable); err != ErrSlotUnavailable {
		t.Fatalf("expected domain error unchanged, got %v", err)
	}
}

func TestBooking_EndsAt(t *testing.T) {
	t.Parallel()

	b := Booking{ServiceDate: time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC), EndTime: "17:30"}
	end, err := b.EndsAt(time.UTC)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if want := time.Date(2025, 3, 12, 17, 30, 0, 0, time.UTC); !end.Equal(want) {
		t.Fatalf("expected %s, got %s", want, end)
	}

	b.EndTime = "5pm"
	if _, err := b.EndsAt(time.UTC); err == nil {
		t.Fatal("expected parse error")
	}
}
