package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/courseloop/platform/internal/events"
	"github.com/courseloop/platform/pkg/logging"
)

// ErrStudentUnknown is returned when a student id has no contact record.
var ErrStudentUnknown = errors.New("notify: unknown student")

// StudentDirectory resolves a student id to a deliverable contact.
type StudentDirectory interface {
	Contact(ctx context.Context, studentID string) (email, name string, err error)
}

// PostgresDirectory reads student contacts from the students table.
type PostgresDirectory struct {
	pool *pgxpool.Pool
}

func NewPostgresDirectory(pool *pgxpool.Pool) *PostgresDirectory {
	if pool == nil {
		panic("notify: pgx pool required")
	}
	return &PostgresDirectory{pool: pool}
}

func (d *PostgresDirectory) Contact(ctx context.Context, studentID string) (string, string, error) {
	query := `SELECT email, full_name FROM students WHERE id = $1`
	var email, name string
	if err := d.pool.QueryRow(ctx, query, studentID).Scan(&email, &name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", "", fmt.Errorf("%w: %s", ErrStudentUnknown, studentID)
		}
		return "", "", fmt.Errorf("notify: lookup student: %w", err)
	}
	return email, name, nil
}

// ConfirmationNotifier turns confirmed-appointment events into emails. It
// implements events.DeliveryHandler.
type ConfirmationNotifier struct {
	directory StudentDirectory
	sender    EmailSender
	logger    *logging.Logger
}

func NewConfirmationNotifier(directory StudentDirectory, sender EmailSender, logger *logging.Logger) *ConfirmationNotifier {
	if directory == nil {
		panic("notify: student directory required")
	}
	if sender == nil {
		panic("notify: email sender required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &ConfirmationNotifier{directory: directory, sender: sender, logger: logger}
}

// Handle delivers one outbox entry. Unknown event types and unknown students
// are logged and dropped so a bad entry cannot wedge the queue; transport
// failures propagate so the deliverer retries.
func (n *ConfirmationNotifier) Handle(ctx context.Context, entry events.OutboxEntry) error {
	if entry.Type != events.TypeAppointmentConfirmed {
		n.logger.Warn("skipping outbox entry of unknown type", "type", entry.Type, "event_id", entry.ID)
		return nil
	}

	var payload events.AppointmentConfirmedV1
	if err := json.Unmarshal(entry.Payload, &payload); err != nil {
		n.logger.Error("malformed outbox payload, dropping", "error", err, "event_id", entry.ID)
		return nil
	}

	email, name, err := n.directory.Contact(ctx, payload.StudentID)
	if err != nil {
		if errors.Is(err, ErrStudentUnknown) {
			n.logger.Warn("no contact for student, dropping confirmation", "student_id", payload.StudentID, "event_id", entry.ID)
			return nil
		}
		return err
	}

	msg := EmailMessage{
		To:      email,
		ToName:  name,
		Subject: "Your session is confirmed",
		Body: fmt.Sprintf(
			"Hi %s,\n\nYour %d-minute session on %s is confirmed. Amount paid: $%d.%02d (ref %s).\n\nSee you there!",
			name,
			payload.DurationMinutes,
			payload.ScheduledAt.UTC().Format(time.RFC1123),
			payload.AmountCents/100, payload.AmountCents%100,
			payload.GatewayRef,
		),
	}
	if err := n.sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("notify: send confirmation: %w", err)
	}
	return nil
}
