package appointments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
)

func TestHoldSlotsCreatesPendingRows(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	repo := NewRepositoryWithDB(mock)

	studentID := uuid.New()
	courseID := uuid.New()
	now := time.Now().UTC()
	first := Slot{Start: now.Add(24 * time.Hour).Truncate(time.Hour), DurationMinutes: 60}
	second := Slot{Start: first.Start.Add(2 * time.Hour), DurationMinutes: 60}

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.Serializable})
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(courseID, uuid.Nil, first.Start, first.End()).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(courseID, uuid.Nil, second.Start, second.End()).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery("INSERT INTO appointments").
		WithArgs(pgxmock.AnyArg(), studentID, courseID, first.Start, 60, "pending", int64(6000)).
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	mock.ExpectQuery("INSERT INTO appointments").
		WithArgs(pgxmock.AnyArg(), studentID, courseID, second.Start, 60, "pending", int64(6000)).
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	mock.ExpectCommit()

	created, err := repo.HoldSlots(context.Background(), studentID, courseID, []Hold{
		{Slot: first, AmountCents: 6000},
		{Slot: second, AmountCents: 6000},
	})
	if err != nil {
		t.Fatalf("HoldSlots returned error: %v", err)
	}
	if len(created) != 2 {
		t.Fatalf("expected 2 holds, got %d", len(created))
	}
	for _, appt := range created {
		if appt.Status != StatusPending {
			t.Fatalf("expected pending status, got %s", appt.Status)
		}
		if appt.AmountCents != 6000 {
			t.Fatalf("expected amount 6000, got %d", appt.AmountCents)
		}
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestHoldSlotsConflictAbortsBatch(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	repo := NewRepositoryWithDB(mock)

	courseID := uuid.New()
	slot := Slot{Start: time.Now().Add(24 * time.Hour).UTC().Truncate(time.Hour), DurationMinutes: 90}

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.Serializable})
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(courseID, uuid.Nil, slot.Start, slot.End()).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	_, err = repo.HoldSlots(context.Background(), uuid.New(), courseID, []Hold{{Slot: slot, AmountCents: 9000}})
	if !errors.Is(err, ErrSlotConflict) {
		t.Fatalf("expected ErrSlotConflict, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestConfirmByPaymentRefAlreadyConfirmedIsEmpty(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	repo := NewRepositoryWithDB(mock)
	studentID := uuid.New()

	mock.ExpectQuery("UPDATE appointments").
		WithArgs("pi_123", studentID).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "student_id", "course_id", "scheduled_at", "duration_minutes",
			"status", "amount_cents", "coalesce", "notes", "created_at", "updated_at",
		}))

	confirmed, err := repo.ConfirmByPaymentRef(context.Background(), "pi_123", studentID)
	if err != nil {
		t.Fatalf("ConfirmByPaymentRef returned error: %v", err)
	}
	if len(confirmed) != 0 {
		t.Fatalf("expected no rows on repeat confirmation, got %d", len(confirmed))
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAttachPaymentRefRowCountMismatch(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	repo := NewRepositoryWithDB(mock)
	ids := []uuid.UUID{uuid.New(), uuid.New()}

	mock.ExpectExec("UPDATE appointments").
		WithArgs("pi_789", ids).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	if err := repo.AttachPaymentRef(context.Background(), ids, "pi_789"); err == nil {
		t.Fatal("expected error when fewer rows updated than ids supplied")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRescheduleChecksTargetExcludingSelf(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	repo := NewRepositoryWithDB(mock)

	id := uuid.New()
	studentID := uuid.New()
	courseID := uuid.New()
	now := time.Now().UTC().Truncate(time.Second)
	oldStart := now.Add(48 * time.Hour)
	newStart := now.Add(72 * time.Hour)
	cols := []string{
		"id", "student_id", "course_id", "scheduled_at", "duration_minutes",
		"status", "amount_cents", "coalesce", "notes", "created_at", "updated_at",
	}

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.Serializable})
	mock.ExpectQuery("SELECT id, student_id").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(cols).AddRow(
			id, studentID, courseID, oldStart, 60, "confirmed", int64(6000), "pi_1", "", now, now,
		))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(courseID, id, newStart, newStart.Add(time.Hour)).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery("UPDATE appointments").
		WithArgs(id, newStart, "moved by student").
		WillReturnRows(pgxmock.NewRows(cols).AddRow(
			id, studentID, courseID, newStart, 60, "confirmed", int64(6000), "pi_1", "moved by student", now, now,
		))
	mock.ExpectCommit()

	updated, err := repo.Reschedule(context.Background(), id, newStart, "moved by student")
	if err != nil {
		t.Fatalf("Reschedule returned error: %v", err)
	}
	if !updated.ScheduledAt.Equal(newStart) {
		t.Fatalf("expected new start %s, got %s", newStart, updated.ScheduledAt)
	}
	if updated.AmountCents != 6000 || updated.PaymentRef != "pi_1" {
		t.Fatal("reschedule must not change amount or payment linkage")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSlotOverlap(t *testing.T) {
	base := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	a := Slot{Start: base, DurationMinutes: 60}
	b := Slot{Start: base.Add(30 * time.Minute), DurationMinutes: 60}
	c := Slot{Start: base.Add(60 * time.Minute), DurationMinutes: 60}

	if !a.Overlaps(b) {
		t.Fatal("expected [10:00,11:00) to overlap [10:30,11:30)")
	}
	if a.Overlaps(c) {
		t.Fatal("adjacent slots must not overlap")
	}
}
