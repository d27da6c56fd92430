package booking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/courseloop/platform/internal/appointments"
	"github.com/courseloop/platform/internal/availability"
	"github.com/courseloop/platform/internal/payments"
	"github.com/courseloop/platform/internal/rates"
)

type stubHoldStore struct {
	holdErr    error
	attachErr  error
	holdCalls  int
	attachRef  string
	attachedTo []uuid.UUID
	created    []appointments.Appointment
}

func (s *stubHoldStore) HoldSlots(ctx context.Context, studentID, courseID uuid.UUID, holds []appointments.Hold) ([]appointments.Appointment, error) {
	s.holdCalls++
	if s.holdErr != nil {
		return nil, s.holdErr
	}
	s.created = s.created[:0]
	for _, h := range holds {
		s.created = append(s.created, appointments.Appointment{
			ID:              uuid.New(),
			StudentID:       studentID,
			CourseID:        courseID,
			ScheduledAt:     h.Slot.Start,
			DurationMinutes: h.Slot.DurationMinutes,
			Status:          appointments.StatusPending,
			AmountCents:     h.AmountCents,
		})
	}
	return s.created, nil
}

func (s *stubHoldStore) AttachPaymentRef(ctx context.Context, ids []uuid.UUID, ref string) error {
	if s.attachErr != nil {
		return s.attachErr
	}
	s.attachRef = ref
	s.attachedTo = append([]uuid.UUID(nil), ids...)
	return nil
}

type stubChecker struct {
	errs map[time.Time]error
}

func (s *stubChecker) CheckSlot(ctx context.Context, courseID uuid.UUID, slot appointments.Slot, exclude uuid.UUID) error {
	if s.errs == nil {
		return nil
	}
	return s.errs[slot.Start]
}

type stubGateway struct {
	calls  int
	lastIn payments.IntentRequest
	err    error
}

func (s *stubGateway) CreatePaymentIntent(ctx context.Context, req payments.IntentRequest) (*payments.Intent, error) {
	s.calls++
	s.lastIn = req
	if s.err != nil {
		return nil, s.err
	}
	return &payments.Intent{Reference: "cs_test_1", ClientHandle: "https://checkout.example/cs_test_1"}, nil
}

func (s *stubGateway) RetrievePaymentStatus(ctx context.Context, reference string) (*payments.PaymentStatus, error) {
	return &payments.PaymentStatus{Succeeded: true}, nil
}

func twoSlots() []appointments.Slot {
	day := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	return []appointments.Slot{
		{Start: day.Add(10 * time.Hour), DurationMinutes: 60},
		{Start: day.Add(14 * time.Hour), DurationMinutes: 60},
	}
}

func newTestService(repo *stubHoldStore, checker *stubChecker, gw *stubGateway, rate int64, courseID uuid.UUID) *Service {
	provider := rates.StaticProvider{}
	if rate > 0 {
		provider[courseID] = rate
	}
	return NewService(repo, checker, provider, gw, nil)
}

func TestCheckoutTwoSlotsOneReference(t *testing.T) {
	courseID := uuid.New()
	repo := &stubHoldStore{}
	gw := &stubGateway{}
	svc := newTestService(repo, &stubChecker{}, gw, 6000, courseID)

	result, err := svc.Checkout(context.Background(), CheckoutRequest{
		StudentID: uuid.New(),
		CourseID:  courseID,
		Slots:     twoSlots(),
	})
	if err != nil {
		t.Fatalf("Checkout returned error: %v", err)
	}
	if result.TotalCents != 12000 {
		t.Fatalf("expected total 12000, got %d", result.TotalCents)
	}
	if len(result.AppointmentIDs) != 2 {
		t.Fatalf("expected 2 appointment ids, got %d", len(result.AppointmentIDs))
	}
	if result.GatewayRef != "cs_test_1" {
		t.Fatalf("unexpected gateway ref %s", result.GatewayRef)
	}
	if gw.calls != 1 {
		t.Fatalf("expected exactly one payment intent for the batch, got %d", gw.calls)
	}
	if gw.lastIn.AmountCents != 12000 {
		t.Fatalf("expected intent for the batch total, got %d", gw.lastIn.AmountCents)
	}
	if repo.attachRef != "cs_test_1" || len(repo.attachedTo) != 2 {
		t.Fatalf("expected reference attached to both rows, got ref=%q ids=%d", repo.attachRef, len(repo.attachedTo))
	}
}

func TestCheckoutValidation(t *testing.T) {
	courseID := uuid.New()
	day := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		slots []appointments.Slot
	}{
		{"no slots", nil},
		{"bad duration", []appointments.Slot{{Start: day.Add(10 * time.Hour), DurationMinutes: 45}}},
		{"overlapping batch", []appointments.Slot{
			{Start: day.Add(10 * time.Hour), DurationMinutes: 120},
			{Start: day.Add(11 * time.Hour), DurationMinutes: 60},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &stubHoldStore{}
			svc := newTestService(repo, &stubChecker{}, &stubGateway{}, 6000, courseID)
			_, err := svc.Checkout(context.Background(), CheckoutRequest{
				StudentID: uuid.New(),
				CourseID:  courseID,
				Slots:     tt.slots,
			})
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
			if repo.holdCalls != 0 {
				t.Fatal("invalid request must not reach the repository")
			}
		})
	}
}

func TestCheckoutCourseWithoutRate(t *testing.T) {
	svc := newTestService(&stubHoldStore{}, &stubChecker{}, &stubGateway{}, 0, uuid.New())

	_, err := svc.Checkout(context.Background(), CheckoutRequest{
		StudentID: uuid.New(),
		CourseID:  uuid.New(),
		Slots:     twoSlots()[:1],
	})
	if !errors.Is(err, ErrNotBookable) {
		t.Fatalf("expected ErrNotBookable, got %v", err)
	}
}

func TestCheckoutConflictAbortsBeforeGateway(t *testing.T) {
	courseID := uuid.New()
	repo := &stubHoldStore{holdErr: appointments.ErrSlotConflict}
	gw := &stubGateway{}
	svc := newTestService(repo, &stubChecker{}, gw, 6000, courseID)

	_, err := svc.Checkout(context.Background(), CheckoutRequest{
		StudentID: uuid.New(),
		CourseID:  courseID,
		Slots:     twoSlots(),
	})
	if !errors.Is(err, appointments.ErrSlotConflict) {
		t.Fatalf("expected ErrSlotConflict, got %v", err)
	}
	if gw.calls != 0 {
		t.Fatal("gateway must never be called when the hold fails")
	}
}

func TestCheckoutUnavailableSlotRejected(t *testing.T) {
	courseID := uuid.New()
	slots := twoSlots()
	checker := &stubChecker{errs: map[time.Time]error{
		slots[1].Start: availability.ErrSlotUnavailable,
	}}
	repo := &stubHoldStore{}
	svc := newTestService(repo, checker, &stubGateway{}, 6000, courseID)

	_, err := svc.Checkout(context.Background(), CheckoutRequest{
		StudentID: uuid.New(),
		CourseID:  courseID,
		Slots:     slots,
	})
	if !errors.Is(err, availability.ErrSlotUnavailable) {
		t.Fatalf("expected ErrSlotUnavailable, got %v", err)
	}
	if repo.holdCalls != 0 {
		t.Fatal("no holds may be created when any slot fails the policy check")
	}
}

func TestCheckoutExpectedTotalMismatch(t *testing.T) {
	courseID := uuid.New()
	repo := &stubHoldStore{}
	svc := newTestService(repo, &stubChecker{}, &stubGateway{}, 6000, courseID)

	expected := int64(10000) // stale price
	_, err := svc.Checkout(context.Background(), CheckoutRequest{
		StudentID:          uuid.New(),
		CourseID:           courseID,
		Slots:              twoSlots(),
		ExpectedTotalCents: &expected,
	})
	if !errors.Is(err, ErrPriceChanged) {
		t.Fatalf("expected ErrPriceChanged, got %v", err)
	}
	var pce *PriceChangedError
	if !errors.As(err, &pce) {
		t.Fatalf("expected PriceChangedError, got %T", err)
	}
	if pce.ExpectedCents != 10000 || pce.ActualCents != 12000 {
		t.Fatalf("unexpected cents in error: %+v", pce)
	}
	if repo.holdCalls != 0 {
		t.Fatal("price mismatch must not create holds")
	}
}

func TestCheckoutGatewayFailureLeavesHoldsPending(t *testing.T) {
	courseID := uuid.New()
	repo := &stubHoldStore{}
	gw := &stubGateway{err: errors.New("stripe 502")}
	svc := newTestService(repo, &stubChecker{}, gw, 6000, courseID)

	_, err := svc.Checkout(context.Background(), CheckoutRequest{
		StudentID: uuid.New(),
		CourseID:  courseID,
		Slots:     twoSlots(),
	})
	var ge *GatewayError
	if !errors.As(err, &ge) {
		t.Fatalf("expected GatewayError, got %v", err)
	}
	if len(ge.AppointmentIDs) != 2 {
		t.Fatalf("expected held ids in the error, got %d", len(ge.AppointmentIDs))
	}
	if repo.attachRef != "" {
		t.Fatal("no reference may be attached when the intent fails")
	}
}
