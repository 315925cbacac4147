package razorpay

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kevin07696/subscription-service/internal/adapters/gateway"
	"github.com/kevin07696/subscription-service/internal/domain"
	"github.com/kevin07696/subscription-service/internal/domain/models"
	"github.com/kevin07696/subscription-service/internal/domain/ports"
)

const testWebhookSecret = "rzp_whsec"

type recorded struct {
	method string
	path   string
	user   string
	body   map[string]interface{}
}

func newTestAdapter(t *testing.T, status int, response string) (*Adapter, *recorded) {
	t.Helper()
	rec := &recorded{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.method = r.Method
		rec.path = r.URL.Path
		rec.user, _, _ = r.BasicAuth()
		raw, _ := io.ReadAll(r.Body)
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &rec.body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, response)
	}))
	t.Cleanup(srv.Close)

	a, err := NewAdapter(Config{
		KeyID:         "rzp_test_key",
		KeySecret:     "rzp_test_secret",
		WebhookSecret: testWebhookSecret,
		BaseURL:       srv.URL + "/",
	}, srv.Client(), zap.NewNop())
	require.NoError(t, err)
	return a, rec
}

func TestConfig_Validate(t *testing.T) {
	assert.Error(t, Config{KeyID: "k", WebhookSecret: "w"}.Validate())
	assert.Error(t, Config{KeyID: "k", KeySecret: "s"}.Validate())
	assert.NoError(t, Config{KeyID: "k", KeySecret: "s", WebhookSecret: "w"}.Validate())
}

func TestCreateSubscription(t *testing.T) {
	a, rec := newTestAdapter(t, http.StatusOK,
		`{"id":"sub_Rz1","customer_id":"cust_1","status":"created","short_url":"https://rzp.io/i/abc"}`)

	res, err := a.CreateSubscription(context.Background(), ports.CreateRecurringRequest{
		TenantID:       "tenant_1",
		SubscriptionID: "local-1",
		PlanID:         "pro-annual",
		PriceRef:       "plan_Rz_pro",
		Cycle:          models.BillingCycleAnnual,
		Email:          "owner@tenant.test",
	})
	require.NoError(t, err)
	assert.Equal(t, "sub_Rz1", res.GatewaySubscriptionID)
	assert.Equal(t, "https://rzp.io/i/abc", res.CheckoutURL)
	assert.Equal(t, "created", res.RemoteStatus)

	assert.Equal(t, http.MethodPost, rec.method)
	assert.Equal(t, "/v1/subscriptions", rec.path)
	assert.Equal(t, "rzp_test_key", rec.user)
	assert.Equal(t, "plan_Rz_pro", rec.body["plan_id"])
	assert.Equal(t, float64(10), rec.body["total_count"])
	notes := rec.body["notes"].(map[string]interface{})
	assert.Equal(t, "local-1", notes[models.MetaSubscriptionID])
}

func TestCreateSubscription_RequiresPlan(t *testing.T) {
	a, _ := newTestAdapter(t, http.StatusOK, `{}`)
	_, err := a.CreateSubscription(context.Background(), ports.CreateRecurringRequest{PlanID: "starter-monthly"})
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeValidationFailed))
}

func TestCancelAndStatus(t *testing.T) {
	a, rec := newTestAdapter(t, http.StatusOK, `{"id":"sub_Rz1","status":"active","current_end":1748736000}`)

	require.NoError(t, a.CancelSubscription(context.Background(), "sub_Rz1"))
	assert.Equal(t, "/v1/subscriptions/sub_Rz1/cancel", rec.path)
	assert.Equal(t, float64(0), rec.body["cancel_at_cycle_end"])

	status, err := a.GetStatus(context.Background(), "sub_Rz1")
	require.NoError(t, err)
	assert.Equal(t, http.MethodGet, rec.method)
	assert.Equal(t, "active", status.Status)
	require.NotNil(t, status.CurrentPeriodEnd)
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), *status.CurrentPeriodEnd)
}

func TestChargeOneTime_IssuesPaymentLink(t *testing.T) {
	a, rec := newTestAdapter(t, http.StatusOK, `{"id":"plink_1","status":"created","short_url":"https://rzp.io/l/x"}`)

	res, err := a.ChargeOneTime(context.Background(), ports.OneTimeChargeRequest{
		Amount:   decimal.RequireFromString("1490.50"),
		Currency: "inr",
		Metadata: map[string]string{models.MetaPurpose: models.PurposeReactivation},
	})
	require.NoError(t, err)
	assert.Equal(t, "plink_1", res.TransactionID)
	assert.Equal(t, "https://rzp.io/l/x", res.CheckoutURL)
	assert.False(t, res.Confirmed)
	assert.Equal(t, float64(149050), rec.body["amount"])
	assert.Equal(t, "INR", rec.body["currency"])
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		expected domain.ErrorCode
	}{
		{"bank decline", 400, `{"error":{"code":"BAD_REQUEST_ERROR","source":"bank","reason":"payment_failed"}}`, domain.ErrorCodeGatewayDeclined},
		{"bad request", 400, `{"error":{"code":"BAD_REQUEST_ERROR","description":"plan_id is invalid"}}`, domain.ErrorCodeValidationFailed},
		{"server error", 502, `{"error":{"code":"SERVER_ERROR"}}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, _ := newTestAdapter(t, tt.status, tt.body)
			_, err := a.GetStatus(context.Background(), "sub_1")
			require.Error(t, err)
			assert.Equal(t, tt.expected, domain.GetErrorCode(err))
		})
	}
}

func signed(t *testing.T, body string) http.Header {
	t.Helper()
	h := http.Header{}
	h.Set(SignatureHeader, gateway.SignHMACSHA256(testWebhookSecret, []byte(body)))
	return h
}

func TestVerifyWebhook_RejectsBadSignature(t *testing.T) {
	a, _ := newTestAdapter(t, http.StatusOK, `{}`)
	body := `{"event":"subscription.charged"}`

	h := http.Header{}
	h.Set(SignatureHeader, gateway.SignHMACSHA256("other-secret", []byte(body)))
	_, err := a.VerifyWebhook(context.Background(), []byte(body), h)
	assert.ErrorIs(t, err, domain.ErrSignatureInvalid)

	_, err = a.VerifyWebhook(context.Background(), []byte(body), http.Header{})
	assert.ErrorIs(t, err, domain.ErrSignatureInvalid)
}

func TestVerifyWebhook_SubscriptionCharged(t *testing.T) {
	a, _ := newTestAdapter(t, http.StatusOK, `{}`)
	body := `{"event":"subscription.charged","created_at":1746057600,"payload":{
		"subscription":{"entity":{"id":"sub_Rz1","status":"active","current_start":1746057600,"current_end":1748736000}},
		"payment":{"entity":{"id":"pay_1","amount":4900,"currency":"INR","status":"captured"}}}}`
	h := signed(t, body)
	h.Set(EventIDHeader, "evt_rz_1")

	ev, err := a.VerifyWebhook(context.Background(), []byte(body), h)
	require.NoError(t, err)
	assert.Equal(t, "evt_rz_1", ev.ID)
	assert.Equal(t, models.EventChargeSucceeded, ev.Kind)
	assert.Equal(t, "sub_Rz1", ev.GatewaySubscriptionID)
	assert.Equal(t, "pay_1", ev.ChargeID)
	assert.True(t, ev.Amount.Equal(decimal.NewFromInt(49)))
	require.NotNil(t, ev.PeriodEnd)
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), *ev.PeriodEnd)
}

func TestVerifyWebhook_Kinds(t *testing.T) {
	a, _ := newTestAdapter(t, http.StatusOK, `{}`)

	tests := []struct {
		name string
		body string
		kind models.EventKind
	}{
		{"pending is a failed charge", `{"event":"subscription.pending","payload":{"subscription":{"entity":{"id":"sub_1","status":"pending"}},
			"payment":{"entity":{"id":"pay_2","error_description":"card expired"}}}}`, models.EventChargeFailed},
		{"halted", `{"event":"subscription.halted","payload":{"subscription":{"entity":{"id":"sub_1","status":"halted"}}}}`, models.EventSubscriptionUpdated},
		{"cancelled", `{"event":"subscription.cancelled","payload":{"subscription":{"entity":{"id":"sub_1","status":"cancelled"}}}}`, models.EventSubscriptionCancelled},
		{"payment link paid", `{"event":"payment_link.paid","payload":{"payment_link":{"entity":{"id":"plink_1","amount":100,"currency":"INR",
			"notes":{"purpose":"upgrade","subscription_id":"local-1"}}}}}`, models.EventChargeSucceeded},
		{"untagged payment link", `{"event":"payment_link.paid","payload":{"payment_link":{"entity":{"id":"plink_2"}}}}`, models.EventIgnored},
		{"order event", `{"event":"order.paid","payload":{}}`, models.EventIgnored},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := a.VerifyWebhook(context.Background(), []byte(tt.body), signed(t, tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.kind, ev.Kind)
			assert.NotEmpty(t, ev.ID)
		})
	}
}

func TestVerifyWebhook_PendingCarriesReason(t *testing.T) {
	a, _ := newTestAdapter(t, http.StatusOK, `{}`)
	body := `{"event":"subscription.pending","payload":{"subscription":{"entity":{"id":"sub_1","status":"pending"}},
		"payment":{"entity":{"id":"pay_2","error_description":"card expired"}}}}`

	ev, err := a.VerifyWebhook(context.Background(), []byte(body), signed(t, body))
	require.NoError(t, err)
	assert.Equal(t, "card expired", ev.FailureReason)
	assert.Equal(t, "subscription.pending:pay_2", ev.ID)
}
