package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/courseloop/platform/internal/appointments"
	"github.com/courseloop/platform/internal/events"
	"github.com/courseloop/platform/pkg/logging"
)

var reconcilerTracer = otel.Tracer("courseloop.internal.payments.reconciler")

// appointmentConfirmer is the slice of the appointments repository the
// reconciler needs.
type appointmentConfirmer interface {
	ConfirmByPaymentRef(ctx context.Context, ref string, studentID uuid.UUID) ([]appointments.Appointment, error)
	FindByPaymentRef(ctx context.Context, ref string, studentID uuid.UUID) ([]appointments.Appointment, error)
}

// outboxWriter enqueues events for asynchronous delivery.
type outboxWriter interface {
	Insert(ctx context.Context, studentID string, eventType string, payload any) (uuid.UUID, error)
}

// Result reports what a confirmation attempt did.
type Result struct {
	// Confirmed holds the rows this call transitioned to CONFIRMED. Empty
	// when the reference was already reconciled or the payment declined.
	Confirmed []appointments.Appointment
	// AlreadyDone means the reference was reconciled by an earlier call.
	AlreadyDone bool
	// Declined means the gateway reported failure; holds stay PENDING.
	Declined bool
}

// Reconciler applies a gateway payment outcome to the appointment rows that
// share its reference. Safe to call any number of times per reference: only
// the first successful call changes state or emits events.
type Reconciler struct {
	repo   appointmentConfirmer
	outbox outboxWriter
	logger *logging.Logger
}

func NewReconciler(repo appointmentConfirmer, outbox outboxWriter, logger *logging.Logger) *Reconciler {
	if repo == nil {
		panic("payments: appointment repository required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Reconciler{repo: repo, outbox: outbox, logger: logger}
}

// Confirm reconciles one gateway reference for the owning student. A failed
// payment is a no-op: the holds stay PENDING so the student can retry with a
// new payment against the same rows.
func (r *Reconciler) Confirm(ctx context.Context, gatewayRef string, studentID uuid.UUID, succeeded bool) (*Result, error) {
	ctx, span := reconcilerTracer.Start(ctx, "payments.confirm")
	defer span.End()
	span.SetAttributes(
		attribute.String("courseloop.gateway_ref", gatewayRef),
		attribute.String("courseloop.student_id", studentID.String()),
		attribute.Bool("courseloop.succeeded", succeeded),
	)

	if gatewayRef == "" {
		return nil, fmt.Errorf("payments: gateway reference required")
	}

	if !succeeded {
		r.logger.Info("payment declined, holds remain pending", "gateway_ref", gatewayRef, "student_id", studentID)
		return &Result{Declined: true}, nil
	}

	confirmed, err := r.repo.ConfirmByPaymentRef(ctx, gatewayRef, studentID)
	if err != nil {
		return nil, fmt.Errorf("payments: confirm rows: %w", err)
	}

	if len(confirmed) == 0 {
		// Nothing transitioned: either a repeat confirmation or a reference
		// we have never seen for this student.
		existing, err := r.repo.FindByPaymentRef(ctx, gatewayRef, studentID)
		if err != nil {
			return nil, fmt.Errorf("payments: lookup reference: %w", err)
		}
		if len(existing) == 0 {
			return nil, fmt.Errorf("payments: reference %s: %w", gatewayRef, appointments.ErrNotFound)
		}
		r.logger.Info("payment already reconciled", "gateway_ref", gatewayRef, "rows", len(existing))
		return &Result{AlreadyDone: true}, nil
	}

	r.logger.Info("payment confirmed", "gateway_ref", gatewayRef, "student_id", studentID, "rows", len(confirmed))

	// Notification events ride the outbox; a failed enqueue never rolls back
	// the confirmation.
	if r.outbox != nil {
		now := time.Now().UTC()
		for i := range confirmed {
			appt := &confirmed[i]
			payload := events.AppointmentConfirmedV1{
				EventID:         events.NewEventID(),
				AppointmentID:   appt.ID.String(),
				StudentID:       appt.StudentID.String(),
				CourseID:        appt.CourseID.String(),
				ScheduledAt:     appt.ScheduledAt,
				DurationMinutes: appt.DurationMinutes,
				AmountCents:     appt.AmountCents,
				GatewayRef:      gatewayRef,
				OccurredAt:      now,
			}
			if _, err := r.outbox.Insert(ctx, payload.StudentID, events.TypeAppointmentConfirmed, payload); err != nil {
				r.logger.Error("failed to enqueue confirmation event", "error", err, "appointment_id", appt.ID)
			}
		}
	}

	return &Result{Confirmed: confirmed}, nil
}
