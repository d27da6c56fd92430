package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/courseloop/platform/internal/appointments"
	"github.com/courseloop/platform/internal/rates"
	"github.com/courseloop/platform/pkg/logging"
)

var (
	// ErrInvalidDuration is returned for session lengths outside the fixed set.
	ErrInvalidDuration = errors.New("availability: unsupported duration")
	// ErrSlotUnavailable is returned by CheckSlot when a target interval is
	// in the past, inside the lead time, or outside business hours.
	ErrSlotUnavailable = errors.New("availability: slot unavailable")
)

// AppointmentSource is the read-only view of the appointment store the
// calculator needs.
type AppointmentSource interface {
	ListOpenForCourse(ctx context.Context, courseID uuid.UUID, from, to time.Time) ([]appointments.Appointment, error)
}

// Hours is the daily working window, in whole hours of the canonical time
// zone (UTC). Slots must start at or after Open and end at or before Close.
type Hours struct {
	Open  int
	Close int
}

// Slot is a derived candidate interval. Never persisted, never cached.
type Slot struct {
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Available  bool      `json:"available"`
	PriceCents int64     `json:"price_cents"`
}

// Calculator derives bookable slots from business hours and existing open
// appointments. Read-only; every call recomputes from the store.
type Calculator struct {
	source   AppointmentSource
	rates    rates.Provider
	hours    Hours
	leadTime time.Duration
	now      func() time.Time
	logger   *logging.Logger
}

// NewCalculator constructs a calculator.
func NewCalculator(source AppointmentSource, rateProvider rates.Provider, hours Hours, leadTime time.Duration, logger *logging.Logger) *Calculator {
	if source == nil {
		panic("availability: appointment source required")
	}
	if rateProvider == nil {
		panic("availability: rate provider required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Calculator{
		source:   source,
		rates:    rateProvider,
		hours:    hours,
		leadTime: leadTime,
		now:      time.Now,
		logger:   logger,
	}
}

// WithClock overrides the time source (for tests).
func (c *Calculator) WithClock(now func() time.Time) *Calculator {
	if now != nil {
		c.now = now
	}
	return c
}

// PriceCents computes the session price from an hourly rate, rounding half
// up to the cent.
func PriceCents(hourlyRateCents int64, minutes int) int64 {
	return (hourlyRateCents*int64(minutes) + 30) / 60
}

// Slots enumerates candidate slots for the course between from and to, slot
// starts aligned to the requested duration within the daily working window.
// A course without a configured hourly rate yields an empty list: not
// bookable, not an error.
func (c *Calculator) Slots(ctx context.Context, courseID uuid.UUID, from, to time.Time, durationMinutes int) ([]Slot, error) {
	if !appointments.IsValidDuration(durationMinutes) {
		return nil, fmt.Errorf("%w: %d minutes", ErrInvalidDuration, durationMinutes)
	}
	if !from.Before(to) {
		return nil, nil
	}

	rate, err := c.rates.HourlyRate(ctx, courseID)
	if err != nil {
		if errors.Is(err, rates.ErrNoRate) {
			c.logger.Debug("course has no hourly rate, not bookable", "course_id", courseID)
			return nil, nil
		}
		return nil, err
	}
	price := PriceCents(rate, durationMinutes)

	existing, err := c.source.ListOpenForCourse(ctx, courseID, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}

	duration := time.Duration(durationMinutes) * time.Minute
	cutoff := c.now().UTC().Add(c.leadTime)

	var slots []Slot
	day := from.UTC().Truncate(24 * time.Hour)
	for ; day.Before(to.UTC()); day = day.AddDate(0, 0, 1) {
		dayOpen := day.Add(time.Duration(c.hours.Open) * time.Hour)
		dayClose := day.Add(time.Duration(c.hours.Close) * time.Hour)
		for start := dayOpen; !start.Add(duration).After(dayClose); start = start.Add(duration) {
			end := start.Add(duration)
			if end.Before(from.UTC()) || !start.Before(to.UTC()) {
				continue
			}
			candidate := appointments.Slot{Start: start, DurationMinutes: durationMinutes}
			available := !start.Before(cutoff) && !overlapsAny(candidate, existing, uuid.Nil)
			slots = append(slots, Slot{
				Start:      start,
				End:        end,
				Available:  available,
				PriceCents: price,
			})
		}
	}
	return slots, nil
}

// CheckSlot validates a single target interval against the time policies and
// the store. exclude skips one appointment in the conflict check so a
// reschedule does not collide with itself. Conflicts with other open
// appointments surface as appointments.ErrSlotConflict.
func (c *Calculator) CheckSlot(ctx context.Context, courseID uuid.UUID, slot appointments.Slot, exclude uuid.UUID) error {
	if !appointments.IsValidDuration(slot.DurationMinutes) {
		return fmt.Errorf("%w: %d minutes", ErrInvalidDuration, slot.DurationMinutes)
	}

	now := c.now().UTC()
	start := slot.Start.UTC()
	if start.Before(now) {
		return fmt.Errorf("%w: start is in the past", ErrSlotUnavailable)
	}
	if start.Before(now.Add(c.leadTime)) {
		return fmt.Errorf("%w: start is inside the %s lead time", ErrSlotUnavailable, c.leadTime)
	}
	if !c.withinHours(slot) {
		return fmt.Errorf("%w: outside business hours", ErrSlotUnavailable)
	}

	existing, err := c.source.ListOpenForCourse(ctx, courseID, start, slot.End().UTC())
	if err != nil {
		return err
	}
	if overlapsAny(slot, existing, exclude) {
		return fmt.Errorf("%w: %s", appointments.ErrSlotConflict, start.Format(time.RFC3339))
	}
	return nil
}

func (c *Calculator) withinHours(slot appointments.Slot) bool {
	start := slot.Start.UTC()
	day := start.Truncate(24 * time.Hour)
	dayOpen := day.Add(time.Duration(c.hours.Open) * time.Hour)
	dayClose := day.Add(time.Duration(c.hours.Close) * time.Hour)
	return !start.Before(dayOpen) && !slot.End().UTC().After(dayClose)
}

func overlapsAny(slot appointments.Slot, existing []appointments.Appointment, exclude uuid.UUID) bool {
	for i := range existing {
		appt := &existing[i]
		if appt.ID == exclude {
			continue
		}
		if !appt.Status.Open() {
			continue
		}
		held := appointments.Slot{Start: appt.ScheduledAt, DurationMinutes: appt.DurationMinutes}
		if slot.Overlaps(held) {
			return true
		}
	}
	return false
}
