package booking

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/courseloop/platform/internal/appointments"
	"github.com/courseloop/platform/internal/availability"
	"github.com/courseloop/platform/internal/observability/metrics"
	"github.com/courseloop/platform/internal/payments"
	"github.com/courseloop/platform/internal/students"
	"github.com/courseloop/platform/pkg/logging"
)

// paymentConfirmer reconciles a gateway reference. Satisfied by
// *payments.Reconciler.
type paymentConfirmer interface {
	Confirm(ctx context.Context, gatewayRef string, studentID uuid.UUID, succeeded bool) (*payments.Result, error)
}

// Handler serves checkout and payment confirmation.
type Handler struct {
	service    *Service
	gateway    payments.Gateway
	reconciler paymentConfirmer
	metrics    *metrics.BookingMetrics
	logger     *logging.Logger
}

func NewHandler(service *Service, gateway payments.Gateway, reconciler paymentConfirmer, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{service: service, gateway: gateway, reconciler: reconciler, logger: logger}
}

// WithMetrics attaches booking metrics.
func (h *Handler) WithMetrics(m *metrics.BookingMetrics) *Handler {
	h.metrics = m
	return h
}

type slotPayload struct {
	Start           string `json:"start"`
	DurationMinutes int    `json:"duration_minutes"`
}

type checkoutPayload struct {
	CourseID           string        `json:"course_id"`
	Slots              []slotPayload `json:"slots"`
	ExpectedTotalCents *int64        `json:"expected_total_cents,omitempty"`
}

type checkoutResponse struct {
	AppointmentIDs []string `json:"appointment_ids"`
	GatewayRef     string   `json:"gateway_ref"`
	CheckoutURL    string   `json:"checkout_url"`
	TotalCents     int64    `json:"total_cents"`
}

// CreateBooking handles POST /bookings.
func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	studentID, ok := students.StudentIDFromContext(r.Context())
	if !ok {
		http.Error(w, "missing student context", http.StatusBadRequest)
		return
	}

	var payload checkoutPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	courseID, err := uuid.Parse(payload.CourseID)
	if err != nil {
		http.Error(w, "invalid course_id", http.StatusBadRequest)
		return
	}
	slots := make([]appointments.Slot, 0, len(payload.Slots))
	for _, s := range payload.Slots {
		start, err := time.Parse(time.RFC3339, s.Start)
		if err != nil {
			http.Error(w, "invalid slot start", http.StatusBadRequest)
			return
		}
		slots = append(slots, appointments.Slot{Start: start, DurationMinutes: s.DurationMinutes})
	}

	result, err := h.service.Checkout(r.Context(), CheckoutRequest{
		StudentID:          studentID,
		CourseID:           courseID,
		Slots:              slots,
		ExpectedTotalCents: payload.ExpectedTotalCents,
	})
	if err != nil {
		h.writeCheckoutError(w, err)
		return
	}

	ids := make([]string, len(result.AppointmentIDs))
	for i, id := range result.AppointmentIDs {
		ids[i] = id.String()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(checkoutResponse{
		AppointmentIDs: ids,
		GatewayRef:     result.GatewayRef,
		CheckoutURL:    result.ClientHandle,
		TotalCents:     result.TotalCents,
	})
}

func (h *Handler) writeCheckoutError(w http.ResponseWriter, err error) {
	var pce *PriceChangedError
	if errors.As(err, &pce) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]any{
			"error":          "price changed",
			"expected_cents": pce.ExpectedCents,
			"actual_cents":   pce.ActualCents,
		})
		return
	}
	var ge *GatewayError
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, availability.ErrInvalidDuration):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrNotBookable), errors.Is(err, availability.ErrSlotUnavailable):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, appointments.ErrSlotConflict):
		http.Error(w, "slot no longer available", http.StatusConflict)
	case errors.As(err, &ge):
		h.logger.Error("checkout gateway failure", "error", err)
		http.Error(w, "payment gateway unavailable, holds retained", http.StatusBadGateway)
	default:
		h.logger.Error("checkout failed", "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
	}
}

type confirmPayload struct {
	GatewayRef string `json:"gateway_ref"`
}

type confirmResponse struct {
	Status         string   `json:"status"`
	AppointmentIDs []string `json:"appointment_ids,omitempty"`
}

// ConfirmPayment handles POST /payments/confirm: the client-return path.
// The gateway is consulted for the charge outcome, then the reconciler
// applies it. Safe to call repeatedly; the webhook may have won already.
func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	studentID, ok := students.StudentIDFromContext(r.Context())
	if !ok {
		http.Error(w, "missing student context", http.StatusBadRequest)
		return
	}

	var payload confirmPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.GatewayRef == "" {
		http.Error(w, "gateway_ref is required", http.StatusBadRequest)
		return
	}

	status, err := h.gateway.RetrievePaymentStatus(r.Context(), payload.GatewayRef)
	if err != nil {
		h.logger.Error("gateway status lookup failed", "error", err, "gateway_ref", payload.GatewayRef)
		http.Error(w, "payment gateway unavailable", http.StatusBadGateway)
		return
	}

	result, err := h.reconciler.Confirm(r.Context(), payload.GatewayRef, studentID, status.Succeeded)
	if err != nil {
		if errors.Is(err, appointments.ErrNotFound) {
			h.metrics.ObserveConfirmation("not_found")
			http.Error(w, "no appointments for reference", http.StatusNotFound)
			return
		}
		h.metrics.ObserveConfirmation("error")
		h.logger.Error("confirmation failed", "error", err, "gateway_ref", payload.GatewayRef)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	resp := confirmResponse{}
	switch {
	case result.Declined:
		resp.Status = "declined"
		h.metrics.ObserveConfirmation("declined")
	case result.AlreadyDone:
		resp.Status = "already_confirmed"
		h.metrics.ObserveConfirmation("already_confirmed")
	default:
		resp.Status = "confirmed"
		h.metrics.ObserveConfirmation("confirmed")
		for _, appt := range result.Confirmed {
			resp.AppointmentIDs = append(resp.AppointmentIDs, appt.ID.String())
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
