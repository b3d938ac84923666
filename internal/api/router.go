package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hackgods/slot-booking/internal/logger"
)

type RouterConfig struct {
	Service        BookingService
	Checks         []DependencyCheck
	Idempotency    *IdempotencyCache
	Logger         *logger.Logger
	RequestTimeout time.Duration
	Env            string
	Version        string
}

func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = logger.Discard()
	}
	if cfg.Idempotency == nil {
		cfg.Idempotency = NewIdempotencyCache(0, 10*time.Minute)
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(middleware.Recoverer)

	health := NewHealthHandler(cfg.Checks, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	h := &handlers{
		svc:      cfg.Service,
		validate: newRequestValidator(),
		log:      cfg.Logger,
	}

	r.Group(func(r chi.Router) {
		r.Use(TimeoutMiddleware(cfg.RequestTimeout))

		r.Get("/providers", h.listProviders)
		r.Get("/providers/types", h.listServiceTypes)
		r.Get("/providers/{id}", h.getProvider)

		r.Get("/slots", h.listAvailableSlots)
		r.Get("/slots/{id}/lock", h.slotLockStatus)

		r.With(cfg.Idempotency.Middleware).Post("/bookings", h.createBooking)
		r.Get("/bookings/{id}", h.getBooking)
		r.Patch("/bookings/{id}/cancel", h.cancelBooking)

		r.Get("/customers/{id}/bookings", h.listCustomerBookings)
	})

	return r
}
