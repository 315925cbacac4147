package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"

	"github.com/kevin07696/subscription-service/internal/domain"
	"github.com/kevin07696/subscription-service/internal/domain/models"
	"github.com/kevin07696/subscription-service/internal/domain/ports"
)

const testWebhookSecret = "whsec_test"

// fakeStripe records form posts and answers with canned JSON per path
type fakeStripe struct {
	mu        sync.Mutex
	forms     map[string]url.Values
	responses map[string]func(w http.ResponseWriter)
}

func newFakeStripe(t *testing.T) (*fakeStripe, *Adapter) {
	t.Helper()
	f := &fakeStripe{forms: map[string]url.Values{}, responses: map[string]func(w http.ResponseWriter){}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		form, _ := url.ParseQuery(string(body))
		key := r.Method + " " + r.URL.Path

		f.mu.Lock()
		f.forms[key] = form
		respond, ok := f.responses[key]
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error":{"type":"invalid_request_error","code":"resource_missing","message":"No such object"}}`)
			return
		}
		respond(w)
	}))
	t.Cleanup(srv.Close)

	a, err := NewAdapter(Config{APIKey: "sk_test_123", WebhookSecret: testWebhookSecret, BackendURL: srv.URL}, zap.NewNop())
	require.NoError(t, err)
	return f, a
}

func (f *fakeStripe) on(method, path string, status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[method+" "+path] = func(w http.ResponseWriter) {
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

func (f *fakeStripe) form(method, path string) url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.forms[method+" "+path]
}

func TestNewAdapter_RequiresCredentials(t *testing.T) {
	_, err := NewAdapter(Config{WebhookSecret: "whsec"}, zap.NewNop())
	assert.Error(t, err)
	_, err = NewAdapter(Config{APIKey: "sk"}, zap.NewNop())
	assert.Error(t, err)
}

func TestCreateSubscription(t *testing.T) {
	t.Run("with stored payment method", func(t *testing.T) {
		f, a := newFakeStripe(t)
		f.on("POST", "/v1/customers", 200, `{"id":"cus_1","object":"customer"}`)
		f.on("POST", "/v1/subscriptions", 200, `{"id":"sub_1","object":"subscription","status":"active","customer":"cus_1"}`)

		res, err := a.CreateSubscription(context.Background(), ports.CreateRecurringRequest{
			TenantID:       "tenant_1",
			SubscriptionID: "local-1",
			PlanID:         "growth-monthly",
			PriceRef:       "price_growth",
			Email:          "ops@tenant.test",
			PaymentMethod:  "pm_card_visa",
		})
		require.NoError(t, err)
		assert.Equal(t, "sub_1", res.GatewaySubscriptionID)
		assert.Equal(t, "cus_1", res.GatewayCustomerID)
		assert.Equal(t, "active", res.RemoteStatus)
		assert.Empty(t, res.CheckoutURL)

		cust := f.form("POST", "/v1/customers")
		assert.Equal(t, "ops@tenant.test", cust.Get("email"))
		assert.Equal(t, "pm_card_visa", cust.Get("invoice_settings[default_payment_method]"))
		assert.Equal(t, "tenant_1", cust.Get("metadata[tenant_id]"))

		sub := f.form("POST", "/v1/subscriptions")
		assert.Equal(t, "cus_1", sub.Get("customer"))
		assert.Equal(t, "price_growth", sub.Get("items[0][price]"))
		assert.Equal(t, "local-1", sub.Get("metadata[subscription_id]"))
		assert.Equal(t, "growth-monthly", sub.Get("metadata[plan_id]"))
		assert.Equal(t, "error_if_incomplete", sub.Get("payment_behavior"))
	})

	t.Run("without payment method returns hosted invoice", func(t *testing.T) {
		f, a := newFakeStripe(t)
		f.on("POST", "/v1/customers", 200, `{"id":"cus_2"}`)
		f.on("POST", "/v1/subscriptions", 200, `{"id":"sub_2","status":"incomplete",
			"latest_invoice":{"id":"in_1","hosted_invoice_url":"https://invoice.stripe.test/in_1"}}`)

		res, err := a.CreateSubscription(context.Background(), ports.CreateRecurringRequest{PriceRef: "price_starter"})
		require.NoError(t, err)
		assert.Equal(t, "incomplete", res.RemoteStatus)
		assert.Equal(t, "https://invoice.stripe.test/in_1", res.CheckoutURL)
		assert.Equal(t, "default_incomplete", f.form("POST", "/v1/subscriptions").Get("payment_behavior"))
	})

	t.Run("missing price is a validation error", func(t *testing.T) {
		_, a := newFakeStripe(t)
		_, err := a.CreateSubscription(context.Background(), ports.CreateRecurringRequest{PlanID: "pro-monthly"})
		assert.True(t, domain.IsDomainError(err, domain.ErrorCodeValidationFailed))
	})

	t.Run("card error is a decline", func(t *testing.T) {
		f, a := newFakeStripe(t)
		f.on("POST", "/v1/customers", 200, `{"id":"cus_3"}`)
		f.on("POST", "/v1/subscriptions", 402, `{"error":{"type":"card_error","code":"card_declined","decline_code":"insufficient_funds","message":"Your card has insufficient funds."}}`)

		_, err := a.CreateSubscription(context.Background(), ports.CreateRecurringRequest{PriceRef: "price_x", PaymentMethod: "pm_x"})
		assert.ErrorIs(t, err, domain.ErrGatewayDeclined)
	})
}

func TestGetStatus(t *testing.T) {
	f, a := newFakeStripe(t)
	f.on("GET", "/v1/subscriptions/sub_1", 200, `{"id":"sub_1","status":"past_due",
		"items":{"object":"list","data":[{"id":"si_1","current_period_start":1746057600,"current_period_end":1748736000}]}}`)

	status, err := a.GetStatus(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.Equal(t, "past_due", status.Status)
	require.NotNil(t, status.CurrentPeriodEnd)
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), *status.CurrentPeriodEnd)

	_, err = a.GetStatus(context.Background(), "sub_missing")
	require.Error(t, err)
	assert.False(t, domain.IsDomainError(err, domain.ErrorCodeGatewayDeclined))
}

func TestCancelSubscription(t *testing.T) {
	f, a := newFakeStripe(t)
	f.on("DELETE", "/v1/subscriptions/sub_1", 200, `{"id":"sub_1","status":"canceled"}`)

	require.NoError(t, a.CancelSubscription(context.Background(), "sub_1"))
	// already gone on the provider side
	require.NoError(t, a.CancelSubscription(context.Background(), "sub_gone"))
}

func TestChargeOneTime(t *testing.T) {
	f, a := newFakeStripe(t)
	f.on("POST", "/v1/payment_intents", 200, `{"id":"pi_1","status":"succeeded","amount":6774,"currency":"usd"}`)

	res, err := a.ChargeOneTime(context.Background(), ports.OneTimeChargeRequest{
		Amount:        decimal.RequireFromString("67.74"),
		Currency:      "USD",
		CustomerRef:   "cus_1",
		PaymentMethod: "pm_card_visa",
		Description:   "Upgrade to Growth",
		Metadata:      map[string]string{models.MetaSubscriptionID: "local-1", models.MetaPurpose: models.PurposeUpgrade},
	})
	require.NoError(t, err)
	assert.Equal(t, "pi_1", res.TransactionID)
	assert.True(t, res.Confirmed)

	form := f.form("POST", "/v1/payment_intents")
	assert.Equal(t, "6774", form.Get("amount"))
	assert.Equal(t, "usd", form.Get("currency"))
	assert.Equal(t, "true", form.Get("confirm"))
	assert.Equal(t, "upgrade", form.Get("metadata[purpose]"))
}

func signedEvent(t *testing.T, id, eventType string, object interface{}) ([]byte, http.Header) {
	t.Helper()
	obj, err := json.Marshal(object)
	require.NoError(t, err)
	payload := []byte(fmt.Sprintf(`{"id":%q,"object":"event","type":%q,"created":1746057600,"api_version":"2020-08-27","data":{"object":%s}}`,
		id, eventType, obj))

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: testWebhookSecret})
	headers := http.Header{}
	headers.Set(SignatureHeader, signed.Header)
	return payload, headers
}

func TestVerifyWebhook_RejectsBadSignature(t *testing.T) {
	_, a := newFakeStripe(t)
	payload, headers := signedEvent(t, "evt_1", "invoice.paid", map[string]interface{}{"id": "in_1"})

	_, err := a.VerifyWebhook(context.Background(), append(payload, ' '), headers)
	assert.ErrorIs(t, err, domain.ErrSignatureInvalid)

	_, err = a.VerifyWebhook(context.Background(), payload, http.Header{})
	assert.ErrorIs(t, err, domain.ErrSignatureInvalid)
}

func TestVerifyWebhook_Events(t *testing.T) {
	_, a := newFakeStripe(t)

	t.Run("invoice paid", func(t *testing.T) {
		payload, headers := signedEvent(t, "evt_paid", "invoice.paid", map[string]interface{}{
			"id": "in_1", "currency": "usd", "amount_paid": 4900, "billing_reason": "subscription_cycle",
			"parent": map[string]interface{}{"subscription_details": map[string]interface{}{
				"subscription": "sub_1", "metadata": map[string]string{"subscription_id": "local-1"},
			}},
			"lines": map[string]interface{}{"data": []interface{}{
				map[string]interface{}{"period": map[string]int64{"start": 1746057600, "end": 1748736000}},
			}},
		})

		ev, err := a.VerifyWebhook(context.Background(), payload, headers)
		require.NoError(t, err)
		assert.Equal(t, models.EventChargeSucceeded, ev.Kind)
		assert.Equal(t, "evt_paid", ev.ID)
		assert.Equal(t, "sub_1", ev.GatewaySubscriptionID)
		assert.Equal(t, "local-1", ev.LocalSubscriptionID())
		assert.Equal(t, "in_1", ev.ChargeID)
		assert.Equal(t, "USD", ev.Currency)
		assert.True(t, ev.Amount.Equal(decimal.NewFromInt(49)))
		require.NotNil(t, ev.PeriodEnd)
		assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), *ev.PeriodEnd)
	})

	t.Run("legacy invoice shape", func(t *testing.T) {
		payload, headers := signedEvent(t, "evt_failed", "invoice.payment_failed", map[string]interface{}{
			"id": "in_2", "currency": "usd", "amount_due": 4900, "subscription": "sub_1",
		})

		ev, err := a.VerifyWebhook(context.Background(), payload, headers)
		require.NoError(t, err)
		assert.Equal(t, models.EventChargeFailed, ev.Kind)
		assert.Equal(t, "sub_1", ev.GatewaySubscriptionID)
		assert.Equal(t, "invoice payment failed", ev.FailureReason)
	})

	t.Run("one-time charge carries purpose", func(t *testing.T) {
		payload, headers := signedEvent(t, "evt_pi", "payment_intent.succeeded", map[string]interface{}{
			"id": "pi_1", "currency": "usd", "amount": 6774, "amount_received": 6774,
			"metadata": map[string]string{"subscription_id": "local-1", "purpose": "upgrade"},
		})

		ev, err := a.VerifyWebhook(context.Background(), payload, headers)
		require.NoError(t, err)
		assert.Equal(t, models.EventChargeSucceeded, ev.Kind)
		assert.Equal(t, "pi_1", ev.ChargeID)
		assert.Equal(t, models.PurposeUpgrade, ev.Metadata[models.MetaPurpose])
		assert.True(t, ev.Amount.Equal(decimal.RequireFromString("67.74")))
	})

	t.Run("invoice payment intent is ignored", func(t *testing.T) {
		payload, headers := signedEvent(t, "evt_pi2", "payment_intent.succeeded", map[string]interface{}{
			"id": "pi_2", "currency": "usd", "amount_received": 4900,
		})

		ev, err := a.VerifyWebhook(context.Background(), payload, headers)
		require.NoError(t, err)
		assert.Equal(t, models.EventIgnored, ev.Kind)
	})

	t.Run("subscription deleted", func(t *testing.T) {
		payload, headers := signedEvent(t, "evt_del", "customer.subscription.deleted", map[string]interface{}{
			"id": "sub_1", "status": "canceled",
		})

		ev, err := a.VerifyWebhook(context.Background(), payload, headers)
		require.NoError(t, err)
		assert.Equal(t, models.EventSubscriptionCancelled, ev.Kind)
		assert.Equal(t, "canceled", ev.RemoteStatus)
	})

	t.Run("unrelated type", func(t *testing.T) {
		payload, headers := signedEvent(t, "evt_cust", "customer.created", map[string]interface{}{"id": "cus_1"})

		ev, err := a.VerifyWebhook(context.Background(), payload, headers)
		require.NoError(t, err)
		assert.Equal(t, models.EventIgnored, ev.Kind)
	})
}
