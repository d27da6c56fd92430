package events

import (
	"time"

	"github.com/google/uuid"
)

// TypeAppointmentConfirmed is the outbox event type emitted once per newly
// confirmed appointment.
const TypeAppointmentConfirmed = "appointment_confirmed.v1"

// AppointmentConfirmedV1 is the payload handed to the notifier when a
// payment reconciliation confirms an appointment.
type AppointmentConfirmedV1 struct {
	EventID         string    `json:"event_id"`
	AppointmentID   string    `json:"appointment_id"`
	StudentID       string    `json:"student_id"`
	CourseID        string    `json:"course_id"`
	ScheduledAt     time.Time `json:"scheduled_at"`
	DurationMinutes int       `json:"duration_minutes"`
	AmountCents     int64     `json:"amount_cents"`
	GatewayRef      string    `json:"gateway_ref"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// NewEventID returns a fresh event identifier.
func NewEventID() string {
	return uuid.NewString()
}
