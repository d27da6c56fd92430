package reschedule

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/courseloop/platform/internal/appointments"
	"github.com/courseloop/platform/internal/observability/metrics"
	"github.com/courseloop/platform/pkg/logging"
)

var rescheduleTracer = otel.Tracer("courseloop.internal.reschedule")

var (
	// ErrValidation is returned for malformed requests (missing or too-short
	// reason).
	ErrValidation = errors.New("reschedule: invalid request")
	// ErrPolicyViolation is returned when the move or cancel is forbidden:
	// inside the lead-time cutoff, or the appointment is no longer open.
	ErrPolicyViolation = errors.New("reschedule: policy violation")
)

// apptStore is the slice of the appointments repository the engine needs.
type apptStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*appointments.Appointment, error)
	Reschedule(ctx context.Context, id uuid.UUID, newStart time.Time, auditNote string) (*appointments.Appointment, error)
	Cancel(ctx context.Context, id uuid.UUID, reason string) (*appointments.Appointment, error)
}

// slotChecker validates the target slot, excluding the appointment being
// moved from its own conflict check. Satisfied by *availability.Calculator.
type slotChecker interface {
	CheckSlot(ctx context.Context, courseID uuid.UUID, slot appointments.Slot, exclude uuid.UUID) error
}

// Engine applies the reschedule and cancellation policy. The lead-time
// cutoff is evaluated against the appointment's current start: once inside
// the window the session is locked in, wherever it was meant to move.
type Engine struct {
	repo      apptStore
	checker   slotChecker
	leadTime  time.Duration
	minReason int
	now       func() time.Time
	metrics   *metrics.BookingMetrics
	logger    *logging.Logger
}

func NewEngine(repo apptStore, checker slotChecker, leadTime time.Duration, minReason int, logger *logging.Logger) *Engine {
	if repo == nil {
		panic("reschedule: appointment repository required")
	}
	if checker == nil {
		panic("reschedule: slot checker required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Engine{
		repo:      repo,
		checker:   checker,
		leadTime:  leadTime,
		minReason: minReason,
		now:       time.Now,
		logger:    logger,
	}
}

// WithClock overrides the time source (for tests).
func (e *Engine) WithClock(now func() time.Time) *Engine {
	if now != nil {
		e.now = now
	}
	return e
}

// WithMetrics attaches booking metrics.
func (e *Engine) WithMetrics(m *metrics.BookingMetrics) *Engine {
	e.metrics = m
	return e
}

// Reschedule moves an open appointment owned by the student to a new start.
// Duration, amount, and payment linkage never change; the move is recorded
// in the appointment's notes.
func (e *Engine) Reschedule(ctx context.Context, id, studentID uuid.UUID, newStart time.Time, reason string) (*appointments.Appointment, error) {
	ctx, span := rescheduleTracer.Start(ctx, "reschedule.move")
	defer span.End()
	span.SetAttributes(
		attribute.String("courseloop.appointment_id", id.String()),
		attribute.String("courseloop.student_id", studentID.String()),
	)

	reason = strings.TrimSpace(reason)
	if len(reason) < e.minReason {
		e.metrics.ObserveReschedule("reschedule", "validation_failed")
		return nil, fmt.Errorf("%w: reason must be at least %d characters", ErrValidation, e.minReason)
	}

	appt, err := e.load(ctx, id, studentID)
	if err != nil {
		e.metrics.ObserveReschedule("reschedule", "not_found")
		return nil, err
	}

	if !appt.Status.Open() {
		e.metrics.ObserveReschedule("reschedule", "policy_violation")
		return nil, fmt.Errorf("%w: appointment is %s", ErrPolicyViolation, appt.Status)
	}

	// The cutoff applies to the slot being vacated, not the target.
	if !e.now().UTC().Before(appt.ScheduledAt.Add(-e.leadTime)) {
		e.metrics.ObserveReschedule("reschedule", "policy_violation")
		return nil, fmt.Errorf("%w: within %s of the scheduled start", ErrPolicyViolation, e.leadTime)
	}

	target := appointments.Slot{Start: newStart.UTC(), DurationMinutes: appt.DurationMinutes}
	if err := e.checker.CheckSlot(ctx, appt.CourseID, target, appt.ID); err != nil {
		e.metrics.ObserveReschedule("reschedule", "target_rejected")
		return nil, err
	}

	auditNote := fmt.Sprintf("rescheduled from %s to %s: %s",
		appt.ScheduledAt.UTC().Format(time.RFC3339),
		newStart.UTC().Format(time.RFC3339),
		reason,
	)
	updated, err := e.repo.Reschedule(ctx, id, newStart, auditNote)
	if err != nil {
		e.metrics.ObserveReschedule("reschedule", "conflict")
		return nil, err
	}

	e.logger.Info("appointment rescheduled",
		"appointment_id", id,
		"student_id", studentID,
		"from", appt.ScheduledAt,
		"to", updated.ScheduledAt,
	)
	e.metrics.ObserveReschedule("reschedule", "ok")
	return updated, nil
}

// Cancel marks an appointment cancelled. Cancelling an already-cancelled
// appointment is a benign no-op; a completed one cannot be cancelled.
func (e *Engine) Cancel(ctx context.Context, id, studentID uuid.UUID, reason string) (*appointments.Appointment, error) {
	ctx, span := rescheduleTracer.Start(ctx, "reschedule.cancel")
	defer span.End()
	span.SetAttributes(attribute.String("courseloop.appointment_id", id.String()))

	reason = strings.TrimSpace(reason)
	if len(reason) < e.minReason {
		e.metrics.ObserveReschedule("cancel", "validation_failed")
		return nil, fmt.Errorf("%w: reason must be at least %d characters", ErrValidation, e.minReason)
	}

	appt, err := e.load(ctx, id, studentID)
	if err != nil {
		e.metrics.ObserveReschedule("cancel", "not_found")
		return nil, err
	}

	switch appt.Status {
	case appointments.StatusCancelled:
		e.metrics.ObserveReschedule("cancel", "noop")
		return appt, nil
	case appointments.StatusCompleted:
		e.metrics.ObserveReschedule("cancel", "policy_violation")
		return nil, fmt.Errorf("%w: completed sessions cannot be cancelled", ErrPolicyViolation)
	}

	cancelled, err := e.repo.Cancel(ctx, id, "cancelled: "+reason)
	if err != nil {
		if errors.Is(err, appointments.ErrNotFound) {
			// Lost a race with another cancel; treat it as done.
			e.metrics.ObserveReschedule("cancel", "noop")
			appt.Status = appointments.StatusCancelled
			return appt, nil
		}
		e.metrics.ObserveReschedule("cancel", "error")
		return nil, err
	}

	e.logger.Info("appointment cancelled", "appointment_id", id, "student_id", studentID)
	e.metrics.ObserveReschedule("cancel", "ok")
	return cancelled, nil
}

// load fetches the appointment and verifies ownership. A foreign
// appointment reads as not found so requesters cannot probe other students'
// bookings.
func (e *Engine) load(ctx context.Context, id, studentID uuid.UUID) (*appointments.Appointment, error) {
	appt, err := e.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.StudentID != studentID {
		return nil, fmt.Errorf("appointment %s: %w", id, appointments.ErrNotFound)
	}
	return appt, nil
}
