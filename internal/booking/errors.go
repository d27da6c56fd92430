package booking

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrValidation is returned for structurally invalid checkout requests:
	// no slots, bad durations, overlapping slots within the batch.
	ErrValidation = errors.New("booking: invalid request")
	// ErrNotBookable is returned when the course has no configured hourly
	// rate and therefore cannot be purchased.
	ErrNotBookable = errors.New("booking: course not bookable")
	// ErrPriceChanged is wrapped by PriceChangedError; match with errors.Is.
	ErrPriceChanged = errors.New("booking: price changed")
)

// PriceChangedError reports a mismatch between what the student saw and the
// current price. No rows are created when it is returned.
type PriceChangedError struct {
	ExpectedCents int64
	ActualCents   int64
}

func (e *PriceChangedError) Error() string {
	return fmt.Sprintf("booking: price changed: expected %d cents, now %d cents", e.ExpectedCents, e.ActualCents)
}

func (e *PriceChangedError) Unwrap() error { return ErrPriceChanged }

// GatewayError means the holds were created but the payment intent could
// not be. The rows stay PENDING; the caller can retry confirmation against
// them once the gateway recovers.
type GatewayError struct {
	AppointmentIDs []uuid.UUID
	Err            error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("booking: payment intent failed, %d holds remain pending: %v", len(e.AppointmentIDs), e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }
