package reschedule

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/courseloop/platform/internal/appointments"
	"github.com/courseloop/platform/internal/availability"
	"github.com/courseloop/platform/internal/students"
	"github.com/courseloop/platform/pkg/logging"
)

// Handler serves reschedule and cancellation requests.
type Handler struct {
	engine *Engine
	logger *logging.Logger
}

func NewHandler(engine *Engine, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{engine: engine, logger: logger}
}

type reschedulePayload struct {
	NewStart string `json:"new_start"`
	Reason   string `json:"reason"`
}

type cancelPayload struct {
	Reason string `json:"reason"`
}

type appointmentResponse struct {
	ID              string `json:"id"`
	CourseID        string `json:"course_id"`
	ScheduledAt     string `json:"scheduled_at"`
	DurationMinutes int    `json:"duration_minutes"`
	Status          string `json:"status"`
	AmountCents     int64  `json:"amount_cents"`
}

func toResponse(appt *appointments.Appointment) appointmentResponse {
	return appointmentResponse{
		ID:              appt.ID.String(),
		CourseID:        appt.CourseID.String(),
		ScheduledAt:     appt.ScheduledAt.UTC().Format(time.RFC3339),
		DurationMinutes: appt.DurationMinutes,
		Status:          string(appt.Status),
		AmountCents:     appt.AmountCents,
	}
}

// Reschedule handles POST /appointments/{id}/reschedule.
func (h *Handler) Reschedule(w http.ResponseWriter, r *http.Request) {
	studentID, ok := students.StudentIDFromContext(r.Context())
	if !ok {
		http.Error(w, "missing student context", http.StatusBadRequest)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid appointment id", http.StatusBadRequest)
		return
	}

	var payload reschedulePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	newStart, err := time.Parse(time.RFC3339, payload.NewStart)
	if err != nil {
		http.Error(w, "invalid new_start timestamp", http.StatusBadRequest)
		return
	}

	updated, err := h.engine.Reschedule(r.Context(), id, studentID, newStart, payload.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toResponse(updated))
}

// Cancel handles POST /appointments/{id}/cancel.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	studentID, ok := students.StudentIDFromContext(r.Context())
	if !ok {
		http.Error(w, "missing student context", http.StatusBadRequest)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid appointment id", http.StatusBadRequest)
		return
	}

	var payload cancelPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	cancelled, err := h.engine.Cancel(r.Context(), id, studentID, payload.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toResponse(cancelled))
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, availability.ErrInvalidDuration):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, appointments.ErrNotFound):
		http.Error(w, "appointment not found", http.StatusNotFound)
	case errors.Is(err, ErrPolicyViolation), errors.Is(err, availability.ErrSlotUnavailable):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, appointments.ErrSlotConflict):
		http.Error(w, "target slot no longer available", http.StatusConflict)
	default:
		h.logger.Error("reschedule request failed", "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
	}
}
