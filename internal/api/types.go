package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/slot-booking/internal/booking"
)

const dateLayout = "2006-01-02"

// CreateBookingRequest names the customer by customer_id or, for a guest,
// by customer_info. customer_id wins when both are sent.
type CreateBookingRequest struct {
	SlotID       string               `json:"slot_id" validate:"required,uuid"`
	CustomerID   string               `json:"customer_id" validate:"required_without=CustomerInfo,omitempty,uuid"`
	CustomerInfo *CustomerInfoRequest `json:"customer_info" validate:"required_without=CustomerID,omitempty"`
	Notes        string               `json:"notes" validate:"max=500"`
}

type CustomerInfoRequest struct {
	Name  string `json:"name" validate:"required,max=200"`
	Email string `json:"email" validate:"required,email,max=254"`
	Phone string `json:"phone" validate:"required,phone"`
}

type CancelBookingRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type availableSlotsQuery struct {
	ProviderID string `json:"provider_id" validate:"required,uuid"`
	Date       string `json:"date" validate:"required,datetime=2006-01-02"`
}

type providersQuery struct {
	ServiceType string `json:"service_type" validate:"omitempty,max=50"`
	City        string `json:"city" validate:"omitempty,max=100"`
	Area        string `json:"area" validate:"omitempty,max=100"`
	MinRating   string `json:"min_rating" validate:"omitempty,numeric"`
	MaxPrice    string `json:"max_price" validate:"omitempty,number"`
}

type ProviderResponse struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	ServiceType   string    `json:"service_type"`
	City          string    `json:"city,omitempty"`
	Area          string    `json:"area,omitempty"`
	Rating        float64   `json:"rating"`
	HourlyRate    int64     `json:"hourly_rate"`
	TotalBookings int       `json:"total_bookings"`
	IsActive      bool      `json:"is_active"`
}

func newProviderResponse(p *booking.Provider) ProviderResponse {
	return ProviderResponse{
		ID:            p.ID,
		Name:          p.Name,
		ServiceType:   p.ServiceType,
		City:          p.City,
		Area:          p.Area,
		Rating:        p.Rating,
		HourlyRate:    p.HourlyRate,
		TotalBookings: p.TotalBookings,
		IsActive:      p.IsActive,
	}
}

type ServiceTypeResponse struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// newServiceTypeResponse labels "car_washer" as "Car Washer".
func newServiceTypeResponse(value string) ServiceTypeResponse {
	words := strings.Fields(strings.ReplaceAll(value, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return ServiceTypeResponse{Value: value, Label: strings.Join(words, " ")}
}

type BookingResponse struct {
	ID                 uuid.UUID  `json:"id"`
	CustomerID         uuid.UUID  `json:"customer_id"`
	ProviderID         uuid.UUID  `json:"provider_id"`
	SlotID             uuid.UUID  `json:"slot_id"`
	Status             string     `json:"status"`
	PaymentStatus      string     `json:"payment_status"`
	TotalAmount        int64      `json:"total_amount"`
	ServiceDate        string     `json:"service_date"`
	StartTime          string     `json:"start_time"`
	EndTime            string     `json:"end_time"`
	DurationMinutes    int        `json:"duration_minutes"`
	Notes              string     `json:"notes,omitempty"`
	CancellationReason *string    `json:"cancellation_reason,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
}

func newBookingResponse(b *booking.Booking) BookingResponse {
	return BookingResponse{
		ID:                 b.ID,
		CustomerID:         b.CustomerID,
		ProviderID:         b.ProviderID,
		SlotID:             b.SlotID,
		Status:             string(b.Status),
		PaymentStatus:      string(b.PaymentStatus),
		TotalAmount:        b.TotalAmount,
		ServiceDate:        b.ServiceDate.Format(dateLayout),
		StartTime:          b.StartTime,
		EndTime:            b.EndTime,
		DurationMinutes:    b.DurationMinutes,
		Notes:              b.Notes,
		CancellationReason: b.CancellationReason,
		CreatedAt:          b.CreatedAt,
		CancelledAt:        b.CancelledAt,
		CompletedAt:        b.CompletedAt,
	}
}

type SlotResponse struct {
	ID              uuid.UUID `json:"id"`
	ProviderID      uuid.UUID `json:"provider_id"`
	Date            string    `json:"date"`
	StartTime       string    `json:"start_time"`
	EndTime         string    `json:"end_time"`
	DurationMinutes int       `json:"duration_minutes"`
	Price           int64     `json:"price"`
}

func newSlotResponse(s booking.Slot) SlotResponse {
	return SlotResponse{
		ID:              s.ID,
		ProviderID:      s.ProviderID,
		Date:            s.Date.Format(dateLayout),
		StartTime:       s.StartTime,
		EndTime:         s.EndTime,
		DurationMinutes: s.DurationMinutes,
		Price:           s.Price,
	}
}

type ListResponse[T any] struct {
	Items  []T `json:"items"`
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

type ErrorResponse struct {
	Error   string       `json:"error"`
	Details string       `json:"details,omitempty"`
	Fields  []FieldError `json:"fields,omitempty"`
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
