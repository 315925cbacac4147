package paypal

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kevin07696/subscription-service/internal/domain"
	"github.com/kevin07696/subscription-service/internal/domain/models"
	"github.com/kevin07696/subscription-service/internal/domain/ports"
)

type fakePayPal struct {
	mu           sync.Mutex
	tokenCalls   atomic.Int32
	bodies       map[string]map[string]interface{}
	handlers     map[string]http.HandlerFunc
	verifyStatus string
}

func newFakePayPal(t *testing.T) (*fakePayPal, *Adapter) {
	t.Helper()
	f := &fakePayPal{
		bodies:       map[string]map[string]interface{}{},
		handlers:     map[string]http.HandlerFunc{},
		verifyStatus: "SUCCESS",
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/oauth2/token" {
			user, pass, _ := r.BasicAuth()
			if user != "client" || pass != "secret" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			f.tokenCalls.Add(1)
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"access_token":"A21AA","token_type":"Bearer","expires_in":32400}`)
			return
		}
		if r.Header.Get("Authorization") != "Bearer A21AA" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		key := r.Method + " " + r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		var body map[string]interface{}
		_ = json.Unmarshal(raw, &body)

		f.mu.Lock()
		f.bodies[key] = body
		h, ok := f.handlers[key]
		status := f.verifyStatus
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if key == "POST /v1/notifications/verify-webhook-signature" {
			_, _ = io.WriteString(w, `{"verification_status":"`+status+`"}`)
			return
		}
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"name":"RESOURCE_NOT_FOUND","message":"not found"}`)
			return
		}
		h(w, r)
	}))
	t.Cleanup(srv.Close)

	a, err := NewAdapter(Config{
		ClientID:     "client",
		ClientSecret: "secret",
		WebhookID:    "WH-1",
		BaseURL:      srv.URL,
		BrandName:    "Acme",
	}, srv.Client(), zap.NewNop())
	require.NoError(t, err)
	return f, a
}

func (f *fakePayPal) on(method, path string, status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[method+" "+path] = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

func (f *fakePayPal) body(method, path string) map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bodies[method+" "+path]
}

func TestConfig_Validate(t *testing.T) {
	assert.Error(t, Config{ClientID: "c", WebhookID: "w"}.Validate())
	assert.Error(t, Config{ClientID: "c", ClientSecret: "s"}.Validate())
	assert.NoError(t, Config{ClientID: "c", ClientSecret: "s", WebhookID: "w"}.Validate())
}

func TestCreateSubscription(t *testing.T) {
	f, a := newFakePayPal(t)
	f.on("POST", "/v1/billing/subscriptions", http.StatusCreated, `{"id":"I-BW452GLLEP1G","status":"APPROVAL_PENDING",
		"links":[{"href":"https://www.paypal.com/webapps/billing/subscriptions?ba_token=BA-1","rel":"approve"},
		{"href":"https://api-m.paypal.com/v1/billing/subscriptions/I-BW452GLLEP1G","rel":"self"}]}`)

	res, err := a.CreateSubscription(context.Background(), ports.CreateRecurringRequest{
		TenantID:       "tenant_1",
		SubscriptionID: "local-1",
		PlanID:         "starter-monthly",
		PriceRef:       "P-5ML4271244454362WXNWU5NQ",
		Email:          "owner@tenant.test",
	})
	require.NoError(t, err)
	assert.Equal(t, "I-BW452GLLEP1G", res.GatewaySubscriptionID)
	assert.Equal(t, "APPROVAL_PENDING", res.RemoteStatus)
	assert.Contains(t, res.CheckoutURL, "ba_token=BA-1")

	body := f.body("POST", "/v1/billing/subscriptions")
	assert.Equal(t, "P-5ML4271244454362WXNWU5NQ", body["plan_id"])
	meta := decodeCustomID(body["custom_id"].(string))
	assert.Equal(t, "local-1", meta[models.MetaSubscriptionID])
	assert.Equal(t, "starter-monthly", meta[models.MetaPlanID])
	ac := body["application_context"].(map[string]interface{})
	assert.Equal(t, "Acme", ac["brand_name"])

	// second call reuses the cached token
	_, err = a.CreateSubscription(context.Background(), ports.CreateRecurringRequest{PriceRef: "P-1"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.tokenCalls.Load())
}

func TestCancelSubscription(t *testing.T) {
	f, a := newFakePayPal(t)
	f.on("POST", "/v1/billing/subscriptions/I-1/cancel", http.StatusNoContent, ``)
	f.on("POST", "/v1/billing/subscriptions/I-2/cancel", http.StatusUnprocessableEntity,
		`{"name":"UNPROCESSABLE_ENTITY","details":[{"issue":"SUBSCRIPTION_STATUS_INVALID"}]}`)

	require.NoError(t, a.CancelSubscription(context.Background(), "I-1"))
	require.NoError(t, a.CancelSubscription(context.Background(), "I-2"))
	assert.Error(t, a.CancelSubscription(context.Background(), "I-missing"))
}

func TestGetStatus(t *testing.T) {
	f, a := newFakePayPal(t)
	f.on("GET", "/v1/billing/subscriptions/I-1", http.StatusOK,
		`{"id":"I-1","status":"SUSPENDED","billing_info":{"next_billing_time":"2025-06-01T10:00:00Z"}}`)

	status, err := a.GetStatus(context.Background(), "I-1")
	require.NoError(t, err)
	assert.Equal(t, "SUSPENDED", status.Status)
	require.NotNil(t, status.CurrentPeriodEnd)
	assert.Equal(t, time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC), *status.CurrentPeriodEnd)
}

func TestChargeOneTime(t *testing.T) {
	f, a := newFakePayPal(t)
	f.on("POST", "/v2/checkout/orders", http.StatusCreated, `{"id":"5O190127TN364715T","status":"PAYER_ACTION_REQUIRED",
		"links":[{"href":"https://www.paypal.com/checkoutnow?token=5O190127TN364715T","rel":"payer-action"}]}`)

	res, err := a.ChargeOneTime(context.Background(), ports.OneTimeChargeRequest{
		Amount:      decimal.RequireFromString("67.7"),
		Currency:    "usd",
		Description: "Upgrade to Growth",
		Metadata: map[string]string{
			models.MetaPurpose:        models.PurposeUpgrade,
			models.MetaSubscriptionID: "local-1",
			models.MetaTargetPlanID:   "growth-monthly",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "5O190127TN364715T", res.TransactionID)
	assert.False(t, res.Confirmed)
	assert.Contains(t, res.CheckoutURL, "checkoutnow")

	units := f.body("POST", "/v2/checkout/orders")["purchase_units"].([]interface{})
	unit := units[0].(map[string]interface{})
	amount := unit["amount"].(map[string]interface{})
	assert.Equal(t, "67.70", amount["value"])
	assert.Equal(t, "USD", amount["currency_code"])
	assert.Equal(t, models.PurposeUpgrade, decodeCustomID(unit["custom_id"].(string))[models.MetaPurpose])
}

func TestErrorClassification(t *testing.T) {
	f, a := newFakePayPal(t)
	f.on("POST", "/v2/checkout/orders", http.StatusUnprocessableEntity,
		`{"name":"UNPROCESSABLE_ENTITY","debug_id":"dbg","details":[{"issue":"INSTRUMENT_DECLINED"}]}`)
	f.on("POST", "/v1/billing/subscriptions", http.StatusBadRequest,
		`{"name":"INVALID_REQUEST","details":[{"issue":"INVALID_PARAMETER_SYNTAX"}]}`)

	_, err := a.ChargeOneTime(context.Background(), ports.OneTimeChargeRequest{Amount: decimal.NewFromInt(1), Currency: "USD"})
	assert.ErrorIs(t, err, domain.ErrGatewayDeclined)

	_, err = a.CreateSubscription(context.Background(), ports.CreateRecurringRequest{PriceRef: "P-bad"})
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeValidationFailed))
}

func TestEncodeCustomID_RespectsLimit(t *testing.T) {
	meta := map[string]string{
		models.MetaPurpose:        models.PurposeUpgrade,
		models.MetaSubscriptionID: "6f1c1d3a-4c55-4f0e-9c11-1d2b3a4c5d6e",
		models.MetaTargetPlanID:   strings.Repeat("x", 120),
	}
	encoded := encodeCustomID(meta, models.MetaPurpose, models.MetaSubscriptionID, models.MetaTargetPlanID)
	assert.LessOrEqual(t, len(encoded), maxCustomIDLen)

	decoded := decodeCustomID(encoded)
	assert.Equal(t, models.PurposeUpgrade, decoded[models.MetaPurpose])
	assert.Equal(t, meta[models.MetaSubscriptionID], decoded[models.MetaSubscriptionID])
	assert.NotContains(t, decoded, models.MetaTargetPlanID)
}

func transmissionHeaders() http.Header {
	h := http.Header{}
	h.Set(HeaderAuthAlgo, "SHA256withRSA")
	h.Set(HeaderCertURL, "https://api-m.paypal.com/v1/notifications/certs/CERT-1")
	h.Set(HeaderTransmissionID, "69cd13f0-d67a-11e5-baa3-778b53f4ae55")
	h.Set(HeaderTransmissionSig, "lmI95Jx3Y9nhR5SJWlHVIWpg==")
	h.Set(HeaderTransmissionTime, "2025-05-01T00:00:00Z")
	return h
}

func TestVerifyWebhook_Signature(t *testing.T) {
	f, a := newFakePayPal(t)
	payload := []byte(`{"id":"WH-EVT-1","event_type":"BILLING.SUBSCRIPTION.CREATED","resource":{"id":"I-1"}}`)

	_, err := a.VerifyWebhook(context.Background(), payload, http.Header{})
	assert.ErrorIs(t, err, domain.ErrSignatureInvalid)

	f.mu.Lock()
	f.verifyStatus = "FAILURE"
	f.mu.Unlock()
	_, err = a.VerifyWebhook(context.Background(), payload, transmissionHeaders())
	assert.ErrorIs(t, err, domain.ErrSignatureInvalid)

	body := f.body("POST", "/v1/notifications/verify-webhook-signature")
	assert.Equal(t, "WH-1", body["webhook_id"])
	assert.Equal(t, "WH-EVT-1", body["webhook_event"].(map[string]interface{})["id"])
}

func TestVerifyWebhook_Events(t *testing.T) {
	f, a := newFakePayPal(t)
	f.on("POST", "/v2/checkout/orders/ORDER-1/capture", http.StatusCreated, `{"id":"ORDER-1","status":"COMPLETED"}`)

	tests := []struct {
		name    string
		payload string
		check   func(t *testing.T, ev *models.GatewayEvent)
	}{
		{
			name: "recurring sale completed",
			payload: `{"id":"WH-1","event_type":"PAYMENT.SALE.COMPLETED","create_time":"2025-05-01T00:00:05Z","resource":{
				"id":"SALE-1","state":"completed","billing_agreement_id":"I-1","custom":"subscription_id=local-1",
				"amount":{"total":"49.00","currency":"USD"}}}`,
			check: func(t *testing.T, ev *models.GatewayEvent) {
				assert.Equal(t, models.EventChargeSucceeded, ev.Kind)
				assert.Equal(t, "I-1", ev.GatewaySubscriptionID)
				assert.Equal(t, "SALE-1", ev.ChargeID)
				assert.Equal(t, "local-1", ev.LocalSubscriptionID())
				assert.True(t, ev.Amount.Equal(decimal.NewFromInt(49)))
				assert.Equal(t, time.Date(2025, 5, 1, 0, 0, 5, 0, time.UTC), ev.OccurredAt)
			},
		},
		{
			name: "capture of an upgrade order",
			payload: `{"id":"WH-2","event_type":"PAYMENT.CAPTURE.COMPLETED","resource":{
				"id":"CAP-1","status":"COMPLETED","custom_id":"purpose=upgrade&subscription_id=local-1",
				"amount":{"value":"67.74","currency_code":"USD"},
				"supplementary_data":{"related_ids":{"order_id":"ORDER-1"}}}}`,
			check: func(t *testing.T, ev *models.GatewayEvent) {
				assert.Equal(t, models.EventChargeSucceeded, ev.Kind)
				assert.Equal(t, "ORDER-1", ev.ChargeID)
				assert.Equal(t, models.PurposeUpgrade, ev.Metadata[models.MetaPurpose])
			},
		},
		{
			name: "approved order is captured",
			payload: `{"id":"WH-3","event_type":"CHECKOUT.ORDER.APPROVED","resource":{
				"id":"ORDER-1","status":"APPROVED","purchase_units":[{"custom_id":"purpose=reactivation&subscription_id=local-1"}]}}`,
			check: func(t *testing.T, ev *models.GatewayEvent) {
				assert.Equal(t, models.EventIgnored, ev.Kind)
				assert.NotNil(t, f.body("POST", "/v2/checkout/orders/ORDER-1/capture"))
			},
		},
		{
			name: "subscription payment failed",
			payload: `{"id":"WH-4","event_type":"BILLING.SUBSCRIPTION.PAYMENT.FAILED","resource":{
				"id":"I-1","status":"ACTIVE","billing_info":{"last_failed_payment":{"reason_code":"PAYMENT_DENIED"}}}}`,
			check: func(t *testing.T, ev *models.GatewayEvent) {
				assert.Equal(t, models.EventChargeFailed, ev.Kind)
				assert.Equal(t, "PAYMENT_DENIED", ev.FailureReason)
			},
		},
		{
			name:    "subscription suspended",
			payload: `{"id":"WH-5","event_type":"BILLING.SUBSCRIPTION.SUSPENDED","resource":{"id":"I-1","status":"SUSPENDED"}}`,
			check: func(t *testing.T, ev *models.GatewayEvent) {
				assert.Equal(t, models.EventSubscriptionUpdated, ev.Kind)
				assert.Equal(t, "SUSPENDED", ev.RemoteStatus)
			},
		},
		{
			name:    "subscription cancelled",
			payload: `{"id":"WH-6","event_type":"BILLING.SUBSCRIPTION.CANCELLED","resource":{"id":"I-1","status":"CANCELLED"}}`,
			check: func(t *testing.T, ev *models.GatewayEvent) {
				assert.Equal(t, models.EventSubscriptionCancelled, ev.Kind)
			},
		},
		{
			name:    "created is informational",
			payload: `{"id":"WH-7","event_type":"BILLING.SUBSCRIPTION.CREATED","resource":{"id":"I-1","status":"APPROVAL_PENDING"}}`,
			check: func(t *testing.T, ev *models.GatewayEvent) {
				assert.Equal(t, models.EventIgnored, ev.Kind)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := a.VerifyWebhook(context.Background(), []byte(tt.payload), transmissionHeaders())
			require.NoError(t, err)
			tt.check(t, ev)
		})
	}
}
