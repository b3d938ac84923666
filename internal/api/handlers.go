package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/slot-booking/internal/booking"
	"github.com/hackgods/slot-booking/internal/logger"
)

// BookingService is the part of booking.Service the HTTP layer needs.
type BookingService interface {
	BookSlot(ctx context.Context, in booking.BookSlotInput) (*booking.Booking, error)
	CancelBooking(ctx context.Context, id uuid.UUID, reason string) (*booking.Booking, error)
	GetBooking(ctx context.Context, id uuid.UUID) (*booking.Booking, error)
	ListCustomerBookings(ctx context.Context, customerID uuid.UUID, opts booking.ListOptions) ([]booking.Booking, error)
	ListAvailableSlots(ctx context.Context, providerID uuid.UUID, date time.Time) ([]booking.Slot, error)
	SlotLockStatus(ctx context.Context, slotID uuid.UUID) (booking.LockStatus, error)
	ListProviders(ctx context.Context, f booking.ProviderFilter) ([]booking.Provider, error)
	GetProvider(ctx context.Context, id uuid.UUID) (*booking.Provider, error)
	ListServiceTypes(ctx context.Context) ([]string, error)
}

type handlers struct {
	svc      BookingService
	validate *requestValidator
	log      *logger.Logger
}

func (h *handlers) createBooking(w http.ResponseWriter, r *http.Request) {
	var req CreateBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	if !h.validate.check(w, req) {
		return
	}

	in := booking.BookSlotInput{
		SlotID: uuid.MustParse(req.SlotID),
		Notes:  req.Notes,
	}
	if req.CustomerID != "" {
		in.CustomerID = uuid.MustParse(req.CustomerID)
	} else {
		in.Customer = &booking.CustomerInfo{
			Name:  req.CustomerInfo.Name,
			Email: req.CustomerInfo.Email,
			Phone: req.CustomerInfo.Phone,
		}
	}

	b, err := h.svc.BookSlot(r.Context(), in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, newBookingResponse(b))
}

func (h *handlers) getBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id", "invalid_booking_id")
	if !ok {
		return
	}

	b, err := h.svc.GetBooking(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, newBookingResponse(b))
}

func (h *handlers) cancelBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id", "invalid_booking_id")
	if !ok {
		return
	}

	var req CancelBookingRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
	}
	if !h.validate.check(w, req) {
		return
	}

	b, err := h.svc.CancelBooking(r.Context(), id, req.Reason)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, newBookingResponse(b))
}

func (h *handlers) listCustomerBookings(w http.ResponseWriter, r *http.Request) {
	customerID, ok := pathUUID(w, r, "id", "invalid_customer_id")
	if !ok {
		return
	}

	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be an integer")
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_offset", "offset must be an integer")
		return
	}

	opts := booking.ListOptions{Limit: limit, Offset: offset}.Normalize()
	list, err := h.svc.ListCustomerBookings(r.Context(), customerID, opts)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	items := make([]BookingResponse, 0, len(list))
	for i := range list {
		items = append(items, newBookingResponse(&list[i]))
	}
	writeJSON(w, http.StatusOK, ListResponse[BookingResponse]{Items: items, Limit: opts.Limit, Offset: opts.Offset})
}

func (h *handlers) listProviders(w http.ResponseWriter, r *http.Request) {
	q := providersQuery{
		ServiceType: r.URL.Query().Get("service_type"),
		City:        r.URL.Query().Get("city"),
		Area:        r.URL.Query().Get("area"),
		MinRating:   r.URL.Query().Get("min_rating"),
		MaxPrice:    r.URL.Query().Get("max_price"),
	}
	if !h.validate.check(w, q) {
		return
	}

	f := booking.ProviderFilter{ServiceType: q.ServiceType, City: q.City, Area: q.Area}
	var err error
	if q.MinRating != "" {
		if f.MinRating, err = strconv.ParseFloat(q.MinRating, 64); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_min_rating", "min_rating is out of range")
			return
		}
	}
	if q.MaxPrice != "" {
		if f.MaxHourlyRate, err = strconv.ParseInt(q.MaxPrice, 10, 64); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_max_price", "max_price is out of range")
			return
		}
	}

	list, err := h.svc.ListProviders(r.Context(), f)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	items := make([]ProviderResponse, 0, len(list))
	for i := range list {
		items = append(items, newProviderResponse(&list[i]))
	}
	writeJSON(w, http.StatusOK, ListResponse[ProviderResponse]{Items: items})
}

func (h *handlers) getProvider(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id", "invalid_provider_id")
	if !ok {
		return
	}

	p, err := h.svc.GetProvider(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, newProviderResponse(p))
}

func (h *handlers) listServiceTypes(w http.ResponseWriter, r *http.Request) {
	types, err := h.svc.ListServiceTypes(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	items := make([]ServiceTypeResponse, 0, len(types))
	for _, t := range types {
		items = append(items, newServiceTypeResponse(t))
	}
	writeJSON(w, http.StatusOK, ListResponse[ServiceTypeResponse]{Items: items})
}

func (h *handlers) listAvailableSlots(w http.ResponseWriter, r *http.Request) {
	q := availableSlotsQuery{
		ProviderID: r.URL.Query().Get("provider_id"),
		Date:       r.URL.Query().Get("date"),
	}
	if !h.validate.check(w, q) {
		return
	}

	date, _ := time.Parse(dateLayout, q.Date)
	slots, err := h.svc.ListAvailableSlots(r.Context(), uuid.MustParse(q.ProviderID), date)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	items := make([]SlotResponse, 0, len(slots))
	for _, s := range slots {
		items = append(items, newSlotResponse(s))
	}
	writeJSON(w, http.StatusOK, ListResponse[SlotResponse]{Items: items})
}

func (h *handlers) slotLockStatus(w http.ResponseWriter, r *http.Request) {
	slotID, ok := pathUUID(w, r, "id", "invalid_slot_id")
	if !ok {
		return
	}

	status, err := h.svc.SlotLockStatus(r.Context(), slotID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, status)
}

// writeServiceError maps coordinator error kinds to HTTP responses. Busy and
// Conflict are both 409 but carry different codes; only Busy is worth an
// immediate retry.
func (h *handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch booking.KindOf(err) {
	case booking.KindBusy:
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusConflict, "slot_busy", err.Error())
	case booking.KindConflict:
		writeError(w, http.StatusConflict, "slot_unavailable", err.Error())
	case booking.KindNotFound:
		writeError(w, http.StatusNotFound, notFoundCode(err), err.Error())
	case booking.KindInvalidState:
		writeError(w, http.StatusConflict, invalidStateCode(err), err.Error())
	case booking.KindInvalidInput:
		writeError(w, http.StatusUnprocessableEntity, "invalid_customer_info", err.Error())
	default:
		h.log.ErrorContext(r.Context(), "request failed",
			"request_id", GetRequestID(r.Context()),
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func notFoundCode(err error) string {
	switch {
	case errors.Is(err, booking.ErrSlotNotFound):
		return "slot_not_found"
	case errors.Is(err, booking.ErrBookingNotFound):
		return "booking_not_found"
	case errors.Is(err, booking.ErrProviderNotFound):
		return "provider_not_found"
	case errors.Is(err, booking.ErrCustomerNotFound):
		return "customer_not_found"
	default:
		return "not_found"
	}
}

func invalidStateCode(err error) string {
	switch {
	case errors.Is(err, booking.ErrAlreadyCancelled):
		return "already_cancelled"
	case errors.Is(err, booking.ErrCannotCancelCompleted):
		return "cannot_cancel_completed"
	default:
		return "invalid_status_transition"
	}
}

func pathUUID(w http.ResponseWriter, r *http.Request, param, code string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		writeError(w, http.StatusBadRequest, code, param+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
