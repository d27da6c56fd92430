package appointments

import (
	"time"

	"github.com/google/uuid"
)

// Status tracks the appointment lifecycle.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Open reports whether the appointment still occupies its slot for
// availability purposes. Pending holds count until reclaimed.
func (s Status) Open() bool {
	return s == StatusPending || s == StatusConfirmed
}

// Durations bookable for a one-on-one session, in minutes.
var ValidDurations = []int{60, 90, 120}

// IsValidDuration reports whether minutes is a bookable session length.
func IsValidDuration(minutes int) bool {
	for _, d := range ValidDurations {
		if minutes == d {
			return true
		}
	}
	return false
}

// Appointment is the central scheduling entity. Times are stored in UTC;
// display conversion is a UI concern.
type Appointment struct {
	ID              uuid.UUID
	StudentID       uuid.UUID
	CourseID        uuid.UUID
	ScheduledAt     time.Time
	DurationMinutes int
	Status          Status
	AmountCents     int64
	PaymentRef      string // empty until a gateway intent exists
	Notes           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// End returns the exclusive end of the appointment interval.
func (a *Appointment) End() time.Time {
	return a.ScheduledAt.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

// Slot is a requested (start, duration) interval for a single course.
type Slot struct {
	Start           time.Time
	DurationMinutes int
}

// End returns the exclusive end of the slot interval.
func (s Slot) End() time.Time {
	return s.Start.Add(time.Duration(s.DurationMinutes) * time.Minute)
}

// Overlaps reports whether the two half-open intervals intersect.
func (s Slot) Overlaps(o Slot) bool {
	return s.Start.Before(o.End()) && o.Start.Before(s.End())
}

// Hold pairs a slot with the price captured for it at booking time.
type Hold struct {
	Slot        Slot
	AmountCents int64
}
