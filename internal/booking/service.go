package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/courseloop/platform/internal/appointments"
	"github.com/courseloop/platform/internal/availability"
	"github.com/courseloop/platform/internal/observability/metrics"
	"github.com/courseloop/platform/internal/payments"
	"github.com/courseloop/platform/internal/rates"
	"github.com/courseloop/platform/pkg/logging"
)

var bookingTracer = otel.Tracer("courseloop.internal.booking")

// slotChecker validates a single slot against time policies and existing
// appointments. Satisfied by *availability.Calculator.
type slotChecker interface {
	CheckSlot(ctx context.Context, courseID uuid.UUID, slot appointments.Slot, exclude uuid.UUID) error
}

// holdStore is the slice of the appointments repository checkout needs.
type holdStore interface {
	HoldSlots(ctx context.Context, studentID, courseID uuid.UUID, holds []appointments.Hold) ([]appointments.Appointment, error)
	AttachPaymentRef(ctx context.Context, ids []uuid.UUID, ref string) error
}

// CheckoutRequest is a batch purchase of one or more slots for one course.
type CheckoutRequest struct {
	StudentID uuid.UUID
	CourseID  uuid.UUID
	Slots     []appointments.Slot
	// ExpectedTotalCents, when set, is the total the client displayed.
	// Checkout fails with PriceChangedError if the live total differs.
	ExpectedTotalCents *int64
}

// CheckoutResult reports the created holds and the gateway handle the
// student needs to pay. One reference spans the whole batch.
type CheckoutResult struct {
	AppointmentIDs []uuid.UUID
	GatewayRef     string
	ClientHandle   string
	TotalCents     int64
}

// Service orchestrates checkout: validate, reprice, hold, create intent.
type Service struct {
	repo    holdStore
	checker slotChecker
	rates   rates.Provider
	quotes  *rates.QuoteStore
	gateway payments.Gateway
	metrics *metrics.BookingMetrics
	logger  *logging.Logger
}

func NewService(repo holdStore, checker slotChecker, rateProvider rates.Provider, gateway payments.Gateway, logger *logging.Logger) *Service {
	if repo == nil {
		panic("booking: appointment repository required")
	}
	if checker == nil {
		panic("booking: slot checker required")
	}
	if rateProvider == nil {
		panic("booking: rate provider required")
	}
	if gateway == nil {
		panic("booking: payment gateway required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		repo:    repo,
		checker: checker,
		rates:   rateProvider,
		gateway: gateway,
		logger:  logger,
	}
}

// WithQuoteStore attaches the advisory quote cache.
func (s *Service) WithQuoteStore(quotes *rates.QuoteStore) *Service {
	s.quotes = quotes
	return s
}

// WithMetrics attaches booking metrics.
func (s *Service) WithMetrics(m *metrics.BookingMetrics) *Service {
	s.metrics = m
	return s
}

// Checkout validates and prices the requested slots, holds them atomically,
// and opens one payment intent covering the batch. Any failure before the
// hold leaves the database untouched; a gateway failure after the hold
// leaves the rows PENDING and is reported as a retryable GatewayError.
func (s *Service) Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	ctx, span := bookingTracer.Start(ctx, "booking.checkout")
	defer span.End()
	span.SetAttributes(
		attribute.String("courseloop.student_id", req.StudentID.String()),
		attribute.String("courseloop.course_id", req.CourseID.String()),
		attribute.Int("courseloop.slot_count", len(req.Slots)),
	)

	if err := validateRequest(req); err != nil {
		s.metrics.ObserveCheckout("validation_failed")
		return nil, err
	}

	rate, err := s.rates.HourlyRate(ctx, req.CourseID)
	if err != nil {
		if errors.Is(err, rates.ErrNoRate) {
			s.metrics.ObserveCheckout("not_bookable")
			return nil, fmt.Errorf("%w: course %s has no hourly rate", ErrNotBookable, req.CourseID)
		}
		s.metrics.ObserveCheckout("error")
		return nil, err
	}

	// Pre-check every slot so obviously doomed requests fail before the
	// serializable transaction. The hold re-verifies under isolation.
	var totalCents int64
	holds := make([]appointments.Hold, 0, len(req.Slots))
	for _, slot := range req.Slots {
		if err := s.checker.CheckSlot(ctx, req.CourseID, slot, uuid.Nil); err != nil {
			s.metrics.ObserveCheckout(checkOutcome(err))
			return nil, err
		}
		price := availability.PriceCents(rate, slot.DurationMinutes)
		if quoted, ok := s.quotes.Get(ctx, req.CourseID, slot.Start, slot.DurationMinutes); ok && quoted != price {
			s.metrics.ObserveCheckout("price_changed")
			return nil, &PriceChangedError{ExpectedCents: quoted, ActualCents: price}
		}
		holds = append(holds, appointments.Hold{Slot: slot, AmountCents: price})
		totalCents += price
	}

	if req.ExpectedTotalCents != nil && *req.ExpectedTotalCents != totalCents {
		s.metrics.ObserveCheckout("price_changed")
		return nil, &PriceChangedError{ExpectedCents: *req.ExpectedTotalCents, ActualCents: totalCents}
	}

	holdStart := time.Now()
	created, err := s.repo.HoldSlots(ctx, req.StudentID, req.CourseID, holds)
	s.metrics.ObserveHoldLatency(time.Since(holdStart).Seconds())
	if err != nil {
		s.metrics.ObserveCheckout(checkOutcome(err))
		return nil, err
	}

	ids := make([]uuid.UUID, len(created))
	for i := range created {
		ids[i] = created[i].ID
	}

	intent, err := s.gateway.CreatePaymentIntent(ctx, payments.IntentRequest{
		AmountCents:    totalCents,
		StudentID:      req.StudentID,
		AppointmentIDs: ids,
		Description:    fmt.Sprintf("%d course session(s)", len(ids)),
	})
	if err != nil {
		s.logger.Error("payment intent failed, holds remain pending",
			"error", err, "student_id", req.StudentID, "appointment_ids", ids)
		s.metrics.ObserveCheckout("gateway_failed")
		return nil, &GatewayError{AppointmentIDs: ids, Err: err}
	}

	if err := s.repo.AttachPaymentRef(ctx, ids, intent.Reference); err != nil {
		s.logger.Error("failed to attach payment reference",
			"error", err, "gateway_ref", intent.Reference, "appointment_ids", ids)
		s.metrics.ObserveCheckout("gateway_failed")
		return nil, &GatewayError{AppointmentIDs: ids, Err: err}
	}

	s.logger.Info("checkout completed",
		"student_id", req.StudentID,
		"course_id", req.CourseID,
		"gateway_ref", intent.Reference,
		"slots", len(ids),
		"total_cents", totalCents,
	)
	s.metrics.ObserveCheckout("ok")

	return &CheckoutResult{
		AppointmentIDs: ids,
		GatewayRef:     intent.Reference,
		ClientHandle:   intent.ClientHandle,
		TotalCents:     totalCents,
	}, nil
}

func validateRequest(req CheckoutRequest) error {
	if req.StudentID == uuid.Nil || req.CourseID == uuid.Nil {
		return fmt.Errorf("%w: student and course ids required", ErrValidation)
	}
	if len(req.Slots) == 0 {
		return fmt.Errorf("%w: at least one slot required", ErrValidation)
	}
	for _, slot := range req.Slots {
		if !appointments.IsValidDuration(slot.DurationMinutes) {
			return fmt.Errorf("%w: unsupported duration %d", ErrValidation, slot.DurationMinutes)
		}
	}
	// Slots within one batch must not collide with each other.
	for i := 0; i < len(req.Slots); i++ {
		for j := i + 1; j < len(req.Slots); j++ {
			if req.Slots[i].Overlaps(req.Slots[j]) {
				return fmt.Errorf("%w: requested slots overlap each other", ErrValidation)
			}
		}
	}
	return nil
}

func checkOutcome(err error) string {
	switch {
	case errors.Is(err, appointments.ErrSlotConflict):
		return "conflict"
	case errors.Is(err, availability.ErrSlotUnavailable):
		return "unavailable"
	case errors.Is(err, availability.ErrInvalidDuration):
		return "validation_failed"
	default:
		return "error"
	}
}
