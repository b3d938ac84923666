// Package events publishes booking lifecycle notifications after the
// corresponding storage transaction has committed. Publishing is best effort:
// the booking state in storage is authoritative and a lost event never
// rolls anything back.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/slot-booking/internal/logger"
)

const (
	TypeBookingCreated   = "booking.created"
	TypeBookingCancelled = "booking.cancelled"
	TypeBookingCompleted = "booking.completed"
)

type Event struct {
	ID          uuid.UUID `json:"id"`
	Type        string    `json:"type"`
	BookingID   uuid.UUID `json:"booking_id"`
	SlotID      uuid.UUID `json:"slot_id"`
	CustomerID  uuid.UUID `json:"customer_id"`
	ProviderID  uuid.UUID `json:"provider_id"`
	Status      string    `json:"status"`
	TotalAmount int64     `json:"total_amount"`
	Reason      string    `json:"reason,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Key partitions events so every event for one slot keeps its order.
func (e Event) Key() string {
	return e.SlotID.String()
}

func (e Event) encode() ([]byte, error) {
	if e.ID == uuid.Nil {
		return nil, fmt.Errorf("event %s has no id", e.Type)
	}
	return json.Marshal(e)
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// LogPublisher writes events to the structured log. It is the default when no
// broker is configured.
type LogPublisher struct {
	log *logger.Logger
}

func NewLogPublisher(log *logger.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(ctx context.Context, ev Event) error {
	p.log.InfoContext(ctx, "booking event",
		"event_id", ev.ID,
		"event_type", ev.Type,
		"booking_id", ev.BookingID,
		"slot_id", ev.SlotID,
		"status", ev.Status,
	)
	return nil
}

func (p *LogPublisher) Close() error { return nil }
