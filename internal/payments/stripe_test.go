package payments

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestCreatePaymentIntentSendsBatchMetadata(t *testing.T) {
	studentID := uuid.New()
	ids := []uuid.UUID{uuid.New(), uuid.New()}

	var gotForm map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/checkout/sessions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk_test" {
			t.Errorf("unexpected authorization header %q", auth)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("failed to parse form: %v", err)
		}
		gotForm = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": "cs_test_99", "url": "https://checkout.stripe.com/c/pay/cs_test_99"}`))
	}))
	defer srv.Close()

	gw := NewStripeGateway("sk_test", "https://app.example.com/ok", "https://app.example.com/cancel", "usd", nil).
		WithBaseURL(srv.URL)

	intent, err := gw.CreatePaymentIntent(context.Background(), IntentRequest{
		AmountCents:    12000,
		Currency:       "usd",
		StudentID:      studentID,
		AppointmentIDs: ids,
		Description:    "2 course sessions",
	})
	if err != nil {
		t.Fatalf("CreatePaymentIntent returned error: %v", err)
	}
	if intent.Reference != "cs_test_99" {
		t.Fatalf("expected session id reference, got %s", intent.Reference)
	}
	if intent.ClientHandle == "" {
		t.Fatal("expected a checkout url")
	}

	if got := gotForm["line_items[0][price_data][unit_amount]"]; len(got) != 1 || got[0] != "12000" {
		t.Errorf("unexpected unit_amount: %v", got)
	}
	if got := gotForm["metadata[student_id]"]; len(got) != 1 || got[0] != studentID.String() {
		t.Errorf("unexpected student_id metadata: %v", got)
	}
	wantIDs := ids[0].String() + "," + ids[1].String()
	if got := gotForm["metadata[appointment_ids]"]; len(got) != 1 || got[0] != wantIDs {
		t.Errorf("unexpected appointment_ids metadata: %v", got)
	}
}

func TestCreatePaymentIntentAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte(`{"error": {"message": "card declined"}}`))
	}))
	defer srv.Close()

	gw := NewStripeGateway("sk_test", "", "", "usd", nil).WithBaseURL(srv.URL)
	_, err := gw.CreatePaymentIntent(context.Background(), IntentRequest{
		AmountCents:    6000,
		StudentID:      uuid.New(),
		AppointmentIDs: []uuid.UUID{uuid.New()},
	})
	if err == nil {
		t.Fatal("expected error for gateway rejection")
	}
	if !strings.Contains(err.Error(), "402") {
		t.Fatalf("expected status in error, got %v", err)
	}
}

func TestRetrievePaymentStatusPaid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		if !strings.HasSuffix(r.URL.Path, "/cs_test_99") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": "cs_test_99", "payment_status": "paid", "amount_total": 12000, "metadata": {"student_id": "abc"}}`))
	}))
	defer srv.Close()

	gw := NewStripeGateway("sk_test", "", "", "usd", nil).WithBaseURL(srv.URL)
	status, err := gw.RetrievePaymentStatus(context.Background(), "cs_test_99")
	if err != nil {
		t.Fatalf("RetrievePaymentStatus returned error: %v", err)
	}
	if !status.Succeeded {
		t.Fatal("expected paid session to report success")
	}
	if status.AmountCents != 12000 {
		t.Fatalf("unexpected amount: %d", status.AmountCents)
	}
}

func TestRetrievePaymentStatusUnpaid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": "cs_test_99", "payment_status": "unpaid", "amount_total": 12000}`))
	}))
	defer srv.Close()

	gw := NewStripeGateway("sk_test", "", "", "usd", nil).WithBaseURL(srv.URL)
	status, err := gw.RetrievePaymentStatus(context.Background(), "cs_test_99")
	if err != nil {
		t.Fatalf("RetrievePaymentStatus returned error: %v", err)
	}
	if status.Succeeded {
		t.Fatal("unpaid session must not report success")
	}
}

func TestDryRunSkipsGateway(t *testing.T) {
	gw := NewStripeGateway("sk_test", "", "", "usd", nil).WithDryRun(true)

	intent, err := gw.CreatePaymentIntent(context.Background(), IntentRequest{
		AmountCents:    6000,
		StudentID:      uuid.New(),
		AppointmentIDs: []uuid.UUID{uuid.New()},
	})
	if err != nil {
		t.Fatalf("dry run returned error: %v", err)
	}
	if !strings.HasPrefix(intent.Reference, "cs_dryrun_") {
		t.Fatalf("expected dry-run reference, got %s", intent.Reference)
	}
}
