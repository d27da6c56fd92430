package payments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/courseloop/platform/internal/appointments"
	"github.com/courseloop/platform/internal/events"
)

type stubConfirmRepo struct {
	confirmed  []appointments.Appointment
	confirmErr error
	existing   []appointments.Appointment
	findErr    error

	confirmCalls int
}

func (s *stubConfirmRepo) ConfirmByPaymentRef(ctx context.Context, ref string, studentID uuid.UUID) ([]appointments.Appointment, error) {
	s.confirmCalls++
	return s.confirmed, s.confirmErr
}

func (s *stubConfirmRepo) FindByPaymentRef(ctx context.Context, ref string, studentID uuid.UUID) ([]appointments.Appointment, error) {
	return s.existing, s.findErr
}

type stubOutbox struct {
	inserted []string
	err      error
}

func (s *stubOutbox) Insert(ctx context.Context, studentID string, eventType string, payload any) (uuid.UUID, error) {
	if s.err != nil {
		return uuid.Nil, s.err
	}
	s.inserted = append(s.inserted, eventType)
	return uuid.New(), nil
}

func confirmedAppointments(studentID uuid.UUID, n int) []appointments.Appointment {
	out := make([]appointments.Appointment, n)
	base := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	for i := range out {
		out[i] = appointments.Appointment{
			ID:              uuid.New(),
			StudentID:       studentID,
			CourseID:        uuid.New(),
			ScheduledAt:     base.Add(time.Duration(i) * 2 * time.Hour),
			DurationMinutes: 60,
			Status:          appointments.StatusConfirmed,
			AmountCents:     6000,
			PaymentRef:      "cs_test_1",
		}
	}
	return out
}

func TestConfirmTransitionsAllRowsAndEnqueuesEvents(t *testing.T) {
	studentID := uuid.New()
	repo := &stubConfirmRepo{confirmed: confirmedAppointments(studentID, 2)}
	outbox := &stubOutbox{}
	rec := NewReconciler(repo, outbox, nil)

	result, err := rec.Confirm(context.Background(), "cs_test_1", studentID, true)
	if err != nil {
		t.Fatalf("Confirm returned error: %v", err)
	}
	if len(result.Confirmed) != 2 {
		t.Fatalf("expected 2 confirmed rows, got %d", len(result.Confirmed))
	}
	if result.AlreadyDone || result.Declined {
		t.Fatalf("unexpected flags: %+v", result)
	}
	if len(outbox.inserted) != 2 {
		t.Fatalf("expected one event per confirmed row, got %d", len(outbox.inserted))
	}
	for _, typ := range outbox.inserted {
		if typ != events.TypeAppointmentConfirmed {
			t.Fatalf("unexpected event type %s", typ)
		}
	}
}

func TestConfirmRepeatIsIdempotent(t *testing.T) {
	studentID := uuid.New()
	repo := &stubConfirmRepo{existing: confirmedAppointments(studentID, 2)}
	outbox := &stubOutbox{}
	rec := NewReconciler(repo, outbox, nil)

	result, err := rec.Confirm(context.Background(), "cs_test_1", studentID, true)
	if err != nil {
		t.Fatalf("Confirm returned error: %v", err)
	}
	if !result.AlreadyDone {
		t.Fatal("expected AlreadyDone for a repeat confirmation")
	}
	if len(outbox.inserted) != 0 {
		t.Fatal("repeat confirmation must not emit events")
	}
}

func TestConfirmUnknownReference(t *testing.T) {
	rec := NewReconciler(&stubConfirmRepo{}, &stubOutbox{}, nil)

	_, err := rec.Confirm(context.Background(), "cs_unknown", uuid.New(), true)
	if !errors.Is(err, appointments.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConfirmDeclinedLeavesHoldsPending(t *testing.T) {
	repo := &stubConfirmRepo{}
	outbox := &stubOutbox{}
	rec := NewReconciler(repo, outbox, nil)

	result, err := rec.Confirm(context.Background(), "cs_test_1", uuid.New(), false)
	if err != nil {
		t.Fatalf("Confirm returned error: %v", err)
	}
	if !result.Declined {
		t.Fatal("expected Declined result")
	}
	if repo.confirmCalls != 0 {
		t.Fatal("declined payment must not touch the repository")
	}
	if len(outbox.inserted) != 0 {
		t.Fatal("declined payment must not emit events")
	}
}

func TestConfirmOutboxFailureDoesNotFailConfirmation(t *testing.T) {
	studentID := uuid.New()
	repo := &stubConfirmRepo{confirmed: confirmedAppointments(studentID, 1)}
	rec := NewReconciler(repo, &stubOutbox{err: errors.New("outbox down")}, nil)

	result, err := rec.Confirm(context.Background(), "cs_test_1", studentID, true)
	if err != nil {
		t.Fatalf("expected confirmation to survive outbox failure, got %v", err)
	}
	if len(result.Confirmed) != 1 {
		t.Fatalf("expected 1 confirmed row, got %d", len(result.Confirmed))
	}
}
