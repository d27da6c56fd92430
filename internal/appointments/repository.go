package appointments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound is returned when no appointment matches the lookup.
	ErrNotFound = errors.New("appointments: not found")
	// ErrSlotConflict is returned when a requested interval is already
	// occupied by an open appointment, or when a concurrent writer won the
	// same range. Callers surface it as "slot no longer available".
	ErrSlotConflict = errors.New("appointments: slot conflict")
)

// maxTxAttempts bounds the serialization-failure retry loop.
const maxTxAttempts = 3

// DB is the subset of pgxpool.Pool the repository needs. pgxmock satisfies
// it for tests.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// Repository provides persistence for appointments. All check-then-write
// sequences run inside serializable transactions so that two concurrent
// requests targeting overlapping slots for the same course cannot both
// commit.
type Repository struct {
	db DB
}

// NewRepository creates a repository backed by pgx pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		panic("appointments: pgx pool required")
	}
	return &Repository{db: pool}
}

// NewRepositoryWithDB allows injecting mocks for tests.
func NewRepositoryWithDB(db DB) *Repository {
	if db == nil {
		panic("appointments: db required")
	}
	return &Repository{db: db}
}

const appointmentColumns = `id, student_id, course_id, scheduled_at, duration_minutes, status, amount_cents, COALESCE(payment_ref, ''), notes, created_at, updated_at`

// HoldSlots reserves every requested slot as a PENDING row in one atomic
// transaction. Either all holds are created or none are; a conflict on any
// slot aborts the whole batch with ErrSlotConflict.
func (r *Repository) HoldSlots(ctx context.Context, studentID, courseID uuid.UUID, holds []Hold) ([]Appointment, error) {
	if len(holds) == 0 {
		return nil, fmt.Errorf("appointments: no holds requested")
	}

	var created []Appointment
	err := r.withSerializableRetry(ctx, func(tx pgx.Tx) error {
		created = created[:0]
		for _, h := range holds {
			taken, err := slotTaken(ctx, tx, courseID, h.Slot, uuid.Nil)
			if err != nil {
				return err
			}
			if taken {
				return fmt.Errorf("%w: %s", ErrSlotConflict, h.Slot.Start.UTC().Format(time.RFC3339))
			}
		}
		for _, h := range holds {
			appt := Appointment{
				ID:              uuid.New(),
				StudentID:       studentID,
				CourseID:        courseID,
				ScheduledAt:     h.Slot.Start.UTC(),
				DurationMinutes: h.Slot.DurationMinutes,
				Status:          StatusPending,
				AmountCents:     h.AmountCents,
			}
			query := `
				INSERT INTO appointments (id, student_id, course_id, scheduled_at, duration_minutes, status, amount_cents, notes)
				VALUES ($1, $2, $3, $4, $5, $6, $7, '')
				RETURNING created_at, updated_at
			`
			if err := tx.QueryRow(ctx, query,
				appt.ID,
				appt.StudentID,
				appt.CourseID,
				appt.ScheduledAt,
				appt.DurationMinutes,
				string(appt.Status),
				appt.AmountCents,
			).Scan(&appt.CreatedAt, &appt.UpdatedAt); err != nil {
				return fmt.Errorf("appointments: insert hold: %w", err)
			}
			created = append(created, appt)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// AttachPaymentRef stamps the gateway reference onto every created hold.
// One reference may cover many rows (batch checkout).
func (r *Repository) AttachPaymentRef(ctx context.Context, ids []uuid.UUID, ref string) error {
	if len(ids) == 0 || ref == "" {
		return fmt.Errorf("appointments: payment ref attach requires ids and ref")
	}
	query := `
		UPDATE appointments
		SET payment_ref = $1, updated_at = now()
		WHERE id = ANY($2)
	`
	ct, err := r.db.Exec(ctx, query, ref, ids)
	if err != nil {
		return fmt.Errorf("appointments: attach payment ref: %w", err)
	}
	if int(ct.RowsAffected()) != len(ids) {
		return fmt.Errorf("appointments: attach payment ref touched %d of %d rows", ct.RowsAffected(), len(ids))
	}
	return nil
}

// GetByID fetches a single appointment.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE id = $1`
	appt, err := scanAppointment(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("appointments: load by id: %w", err)
	}
	return appt, nil
}

// ListOpenForCourse returns pending and confirmed appointments for the
// course whose intervals may intersect [from, to). Used by the availability
// calculator; pending holds occupy their slots until reclaimed.
func (r *Repository) ListOpenForCourse(ctx context.Context, courseID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	query := `
		SELECT ` + appointmentColumns + `
		FROM appointments
		WHERE course_id = $1
		  AND status IN ('pending', 'confirmed')
		  AND scheduled_at < $3
		  AND scheduled_at + make_interval(mins => duration_minutes) > $2
		ORDER BY scheduled_at
	`
	rows, err := r.db.Query(ctx, query, courseID, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("appointments: list open for course: %w", err)
	}
	defer rows.Close()
	return scanAppointments(rows)
}

// FindByPaymentRef returns all appointments linked to the gateway reference
// and owned by the student. The owner check defends against cross-account
// replay of a confirmation.
func (r *Repository) FindByPaymentRef(ctx context.Context, ref string, studentID uuid.UUID) ([]Appointment, error) {
	query := `
		SELECT ` + appointmentColumns + `
		FROM appointments
		WHERE payment_ref = $1 AND student_id = $2
		ORDER BY scheduled_at
	`
	rows, err := r.db.Query(ctx, query, ref, studentID)
	if err != nil {
		return nil, fmt.Errorf("appointments: find by payment ref: %w", err)
	}
	defer rows.Close()
	return scanAppointments(rows)
}

// ConfirmByPaymentRef transitions every matching PENDING row to CONFIRMED in
// a single update and returns the rows it changed. A second call with the
// same reference changes nothing and returns an empty slice, which is how
// the reconciler stays idempotent.
func (r *Repository) ConfirmByPaymentRef(ctx context.Context, ref string, studentID uuid.UUID) ([]Appointment, error) {
	query := `
		UPDATE appointments
		SET status = 'confirmed', updated_at = now()
		WHERE payment_ref = $1 AND student_id = $2 AND status = 'pending'
		RETURNING ` + appointmentColumns
	rows, err := r.db.Query(ctx, query, ref, studentID)
	if err != nil {
		return nil, fmt.Errorf("appointments: confirm by payment ref: %w", err)
	}
	defer rows.Close()
	return scanAppointments(rows)
}

// Reschedule moves an appointment to a new start, same duration, after
// re-verifying inside the transaction that the target interval is free.
// The appointment's own row is excluded from its conflict check. Amount and
// payment linkage are never touched.
func (r *Repository) Reschedule(ctx context.Context, id uuid.UUID, newStart time.Time, auditNote string) (*Appointment, error) {
	var updated *Appointment
	err := r.withSerializableRetry(ctx, func(tx pgx.Tx) error {
		current, err := scanAppointment(tx.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("appointments: load for reschedule: %w", err)
		}

		target := Slot{Start: newStart.UTC(), DurationMinutes: current.DurationMinutes}
		taken, err := slotTaken(ctx, tx, current.CourseID, target, id)
		if err != nil {
			return err
		}
		if taken {
			return fmt.Errorf("%w: %s", ErrSlotConflict, target.Start.Format(time.RFC3339))
		}

		query := `
			UPDATE appointments
			SET scheduled_at = $2,
			    notes = CASE WHEN notes = '' THEN $3 ELSE notes || E'\n' || $3 END,
			    updated_at = now()
			WHERE id = $1
			RETURNING ` + appointmentColumns
		updated, err = scanAppointment(tx.QueryRow(ctx, query, id, newStart.UTC(), auditNote))
		if err != nil {
			return fmt.Errorf("appointments: reschedule update: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Cancel marks an open appointment cancelled. Returns ErrNotFound if no open
// row exists; callers decide whether an already-cancelled row is benign.
func (r *Repository) Cancel(ctx context.Context, id uuid.UUID, reason string) (*Appointment, error) {
	query := `
		UPDATE appointments
		SET status = 'cancelled',
		    notes = CASE WHEN notes = '' THEN $2 ELSE notes || E'\n' || $2 END,
		    updated_at = now()
		WHERE id = $1 AND status IN ('pending', 'confirmed')
		RETURNING ` + appointmentColumns
	appt, err := scanAppointment(r.db.QueryRow(ctx, query, id, reason))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("appointments: cancel: %w", err)
	}
	return appt, nil
}

// slotTaken checks the half-open interval against open appointments for the
// course. exclude skips the row being moved during a reschedule.
func slotTaken(ctx context.Context, tx pgx.Tx, courseID uuid.UUID, slot Slot, exclude uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE course_id = $1
			  AND id <> $2
			  AND status IN ('pending', 'confirmed')
			  AND scheduled_at < $4
			  AND scheduled_at + make_interval(mins => duration_minutes) > $3
		)
	`
	var taken bool
	if err := tx.QueryRow(ctx, query, courseID, exclude, slot.Start.UTC(), slot.End().UTC()).Scan(&taken); err != nil {
		return false, fmt.Errorf("appointments: overlap check: %w", err)
	}
	return taken, nil
}

// withSerializableRetry runs fn inside a serializable transaction, retrying
// a bounded number of times on SQLSTATE 40001. Exhausted retries surface as
// a slot conflict: the only writers contending on these rows are competing
// bookings for the same range.
func (r *Repository) withSerializableRetry(ctx context.Context, fn func(pgx.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
		if err != nil {
			return fmt.Errorf("appointments: begin tx: %w", err)
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback(ctx)
			if isSerializationFailure(err) {
				lastErr = err
				continue
			}
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			if isSerializationFailure(err) {
				lastErr = err
				continue
			}
			return fmt.Errorf("appointments: commit: %w", err)
		}
		return nil
	}
	return fmt.Errorf("%w: serialization contention: %v", ErrSlotConflict, lastErr)
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40001"
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var appt Appointment
	var status string
	if err := row.Scan(
		&appt.ID,
		&appt.StudentID,
		&appt.CourseID,
		&appt.ScheduledAt,
		&appt.DurationMinutes,
		&status,
		&appt.AmountCents,
		&appt.PaymentRef,
		&appt.Notes,
		&appt.CreatedAt,
		&appt.UpdatedAt,
	); err != nil {
		return nil, err
	}
	appt.Status = Status(status)
	return &appt, nil
}

func scanAppointments(rows pgx.Rows) ([]Appointment, error) {
	var out []Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("appointments: scan row: %w", err)
		}
		out = append(out, *appt)
	}
	return out, rows.Err()
}
