package payments

import (
	"context"

	"github.com/google/uuid"
)

// IntentRequest describes a single gateway charge covering one or more
// appointment holds. One reference spans the whole batch.
type IntentRequest struct {
	AmountCents    int64
	Currency       string
	StudentID      uuid.UUID
	AppointmentIDs []uuid.UUID
	Description    string
}

// Intent is the gateway's answer: Reference ties the charge back to our
// rows, ClientHandle is what the caller needs to complete payment (a
// checkout URL for Stripe).
type Intent struct {
	Reference    string
	ClientHandle string
}

// PaymentStatus is the gateway's view of a charge, used when reconciling
// through the polling endpoint rather than a webhook.
type PaymentStatus struct {
	Succeeded   bool
	AmountCents int64
	Metadata    map[string]string
}

// Gateway abstracts the payment provider.
type Gateway interface {
	CreatePaymentIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	RetrievePaymentStatus(ctx context.Context, reference string) (*PaymentStatus, error)
}
