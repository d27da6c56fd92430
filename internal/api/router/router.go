package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/courseloop/platform/internal/availability"
	"github.com/courseloop/platform/internal/booking"
	"github.com/courseloop/platform/internal/payments"
	"github.com/courseloop/platform/internal/reschedule"
	"github.com/courseloop/platform/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger              *logging.Logger
	AvailabilityHandler *availability.Handler
	BookingHandler      *booking.Handler
	RescheduleHandler   *reschedule.Handler
	StripeWebhook       *payments.StripeWebhookHandler
	MetricsHandler      http.Handler
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if cfg.Logger != nil {
		r.Use(requestLogger(cfg.Logger))
	}

	// Public endpoints (webhooks, health checks)
	r.Group(func(public chi.Router) {
		public.Get("/health", healthCheck)
		if cfg.StripeWebhook != nil {
			public.Post("/webhooks/stripe", cfg.StripeWebhook.Handle)
		}
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	// Student-scoped API routes
	r.Group(func(student chi.Router) {
		student.Use(requireStudentID)

		if cfg.AvailabilityHandler != nil {
			student.Get("/courses/{courseID}/availability", cfg.AvailabilityHandler.ListSlots)
		}
		if cfg.BookingHandler != nil {
			student.Post("/bookings", cfg.BookingHandler.CreateBooking)
			student.Post("/payments/confirm", cfg.BookingHandler.ConfirmPayment)
		}
		if cfg.RescheduleHandler != nil {
			student.Route("/appointments/{id}", func(r chi.Router) {
				r.Post("/reschedule", cfg.RescheduleHandler.Reschedule)
				r.Post("/cancel", cfg.RescheduleHandler.Cancel)
			})
		}
	})

	return r
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
