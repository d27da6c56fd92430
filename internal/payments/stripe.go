package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/courseloop/platform/pkg/logging"
)

var stripeTracer = otel.Tracer("courseloop.internal.payments.stripe")

// StripeGateway creates Stripe Checkout Sessions for session payments. The
// session id doubles as the payment reference stamped onto appointment rows.
type StripeGateway struct {
	secretKey  string
	successURL string
	cancelURL  string
	currency   string
	baseURL    string
	apiVersion string
	httpClient *http.Client
	logger     *logging.Logger
	dryRun     bool
}

// NewStripeGateway creates a new Stripe gateway client.
func NewStripeGateway(secretKey, successURL, cancelURL, currency string, logger *logging.Logger) *StripeGateway {
	if logger == nil {
		logger = logging.Default()
	}
	if currency == "" {
		currency = "usd"
	}
	return &StripeGateway{
		secretKey:  secretKey,
		successURL: successURL,
		cancelURL:  cancelURL,
		currency:   currency,
		baseURL:    "https://api.stripe.com",
		apiVersion: "2024-12-18.acacia",
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// WithBaseURL overrides the Stripe API base URL (for testing).
func (s *StripeGateway) WithBaseURL(baseURL string) *StripeGateway {
	if baseURL != "" {
		s.baseURL = strings.TrimRight(baseURL, "/")
	}
	return s
}

// WithDryRun enables dry-run mode (returns fake references without calling Stripe).
func (s *StripeGateway) WithDryRun(enabled bool) *StripeGateway {
	s.dryRun = enabled
	return s
}

// CreatePaymentIntent creates a checkout session covering the whole batch of
// appointment holds.
func (s *StripeGateway) CreatePaymentIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	ctx, span := stripeTracer.Start(ctx, "stripe.create_checkout_session")
	defer span.End()
	span.SetAttributes(
		attribute.String("courseloop.student_id", req.StudentID.String()),
		attribute.Int("courseloop.appointment_count", len(req.AppointmentIDs)),
		attribute.Int64("courseloop.amount_cents", req.AmountCents),
	)

	if s.dryRun {
		fakeID := "cs_dryrun_" + uuid.New().String()[:8]
		s.logger.Info("stripe dry run: skipping checkout session creation",
			"student_id", req.StudentID, "amount_cents", req.AmountCents)
		return &Intent{
			Reference:    fakeID,
			ClientHandle: fmt.Sprintf("https://checkout.stripe.com/dry-run/%s", fakeID),
		}, nil
	}

	description := req.Description
	if strings.TrimSpace(description) == "" {
		description = "Course session"
	}

	ids := make([]string, len(req.AppointmentIDs))
	for i, id := range req.AppointmentIDs {
		ids[i] = id.String()
	}

	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("line_items[0][price_data][currency]", s.currency)
	form.Set("line_items[0][price_data][unit_amount]", fmt.Sprintf("%d", req.AmountCents))
	form.Set("line_items[0][price_data][product_data][name]", description)
	form.Set("line_items[0][quantity]", "1")

	if s.successURL != "" {
		form.Set("success_url", s.successURL)
	}
	if s.cancelURL != "" {
		form.Set("cancel_url", s.cancelURL)
	}

	// Metadata for webhook reconciliation.
	form.Set("metadata[student_id]", req.StudentID.String())
	form.Set("metadata[appointment_ids]", strings.Join(ids, ","))

	apiURL := s.baseURL + "/v1/checkout/sessions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("payments: stripe request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+s.secretKey)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Stripe-Version", s.apiVersion)

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("payments: stripe http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("payments: stripe api status %d: %s", resp.StatusCode, string(body))
	}

	var parsed stripeCheckoutSession
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("payments: stripe decode: %w", err)
	}
	if parsed.ID == "" || parsed.URL == "" {
		return nil, fmt.Errorf("payments: stripe response missing session id or url")
	}

	return &Intent{Reference: parsed.ID, ClientHandle: parsed.URL}, nil
}

// RetrievePaymentStatus fetches the checkout session and reports whether it
// was paid. Used by the confirmation endpoint when the client returns from
// checkout before the webhook lands.
func (s *StripeGateway) RetrievePaymentStatus(ctx context.Context, reference string) (*PaymentStatus, error) {
	ctx, span := stripeTracer.Start(ctx, "stripe.retrieve_checkout_session")
	defer span.End()
	span.SetAttributes(attribute.String("courseloop.gateway_ref", reference))

	if s.dryRun {
		return &PaymentStatus{Succeeded: true, Metadata: map[string]string{}}, nil
	}

	apiURL := s.baseURL + "/v1/checkout/sessions/" + url.PathEscape(reference)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("payments: stripe request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+s.secretKey)
	httpReq.Header.Set("Stripe-Version", s.apiVersion)

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("payments: stripe http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("payments: stripe api status %d: %s", resp.StatusCode, string(body))
	}

	var parsed stripeCheckoutSession
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("payments: stripe decode: %w", err)
	}

	return &PaymentStatus{
		Succeeded:   parsed.PaymentStatus == "paid",
		AmountCents: parsed.AmountTotal,
		Metadata:    parsed.Metadata,
	}, nil
}

// stripeCheckoutSession is the subset of Stripe's Checkout Session we need.
type stripeCheckoutSession struct {
	ID            string            `json:"id"`
	URL           string            `json:"url"`
	PaymentStatus string            `json:"payment_status"`
	AmountTotal   int64             `json:"amount_total"`
	Metadata      map[string]string `json:"metadata"`
}
