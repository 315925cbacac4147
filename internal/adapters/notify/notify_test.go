package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kevin07696/subscription-service/internal/adapters/gateway"
	"github.com/kevin07696/subscription-service/internal/domain/models"
	"github.com/kevin07696/subscription-service/test/mocks"
)

func testNotification(kind models.NotificationKind) models.Notification {
	due := time.Date(2026, 6, 8, 0, 0, 0, 0, time.UTC)
	return models.Notification{
		OccurredAt: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		DueDate:    &due,
		Subscription: &models.Subscription{
			ID:            "sub-1",
			TenantID:      "tenant-1",
			PlanID:        "growth-monthly",
			CustomerEmail: "owner@tenant.test",
			Currency:      "USD",
			Status:        models.SubscriptionStatusPastDue,
		},
		Amount:   decimal.RequireFromString("149"),
		Kind:     kind,
		PlanName: "Growth",
	}
}

func TestCompose_CoversEveryKind(t *testing.T) {
	kinds := []models.NotificationKind{
		models.NotifySubscriptionActivated, models.NotifyPaymentSucceeded, models.NotifyPaymentFailed,
		models.NotifyRenewalFailed, models.NotifyGracePeriodStarted, models.NotifySubscriptionSuspended,
		models.NotifyRenewalReminder, models.NotifySubscriptionCancelled, models.NotifySubscriptionExpired,
		models.NotifySubscriptionReactivated, models.NotifyPlanUpgraded, models.NotifyPlanDowngraded,
		models.NotifyDowngradeScheduled,
	}
	for _, kind := range kinds {
		msg := compose(testNotification(kind))
		assert.NotEqual(t, "Subscription update", msg.Subject, kind)
		assert.NotEmpty(t, msg.Lines, kind)
	}
}

func TestCompose_GracePeriodMentionsDeadline(t *testing.T) {
	msg := compose(testNotification(models.NotifyGracePeriodStarted))
	assert.Contains(t, strings.Join(msg.Lines, " "), "June 8, 2026")
}

func TestRenderHTML_EscapesContent(t *testing.T) {
	html, err := renderHTML(message{Subject: "s", Heading: "<b>x</b>", Lines: []string{"a & b"}}, "help@acme.test")
	require.NoError(t, err)
	assert.Contains(t, html, "&lt;b&gt;x&lt;/b&gt;")
	assert.Contains(t, html, "a &amp; b")
	assert.Contains(t, html, "help@acme.test")
}

func TestEmailConfig_Validate(t *testing.T) {
	assert.ErrorIs(t, EmailConfig{SenderEmail: "a@b.c"}.Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, EmailConfig{ServerToken: "t", SenderEmail: "nope"}.Validate(), ErrInvalidConfig)
	assert.NoError(t, EmailConfig{ServerToken: "t", SenderEmail: "billing@acme.test"}.Validate())
}

func TestEmailNotifier_Sends(t *testing.T) {
	var got map[string]interface{}
	var token string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token = r.Header.Get("X-Postmark-Server-Token")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"To":"owner@tenant.test","MessageID":"msg-1","ErrorCode":0,"Message":"OK"}`)
	}))
	defer srv.Close()

	n, err := NewEmailNotifier(EmailConfig{
		ServerToken:  "server-token",
		SenderEmail:  "billing@acme.test",
		SupportEmail: "help@acme.test",
		BaseURL:      srv.URL,
	}, srv.Client(), zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, n.Notify(context.Background(), testNotification(models.NotifyPaymentFailed)))
	assert.Equal(t, "server-token", token)
	assert.Equal(t, "owner@tenant.test", got["To"])
	assert.Equal(t, "Payment failed", got["Subject"])
	assert.Equal(t, "payment_failed", got["Tag"])
	assert.Contains(t, got["HtmlBody"], "149.00 USD")
}

func TestEmailNotifier_ProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = io.WriteString(w, `{"ErrorCode":406,"Message":"Inactive recipient"}`)
	}))
	defer srv.Close()

	n, err := NewEmailNotifier(EmailConfig{ServerToken: "t", SenderEmail: "billing@acme.test", BaseURL: srv.URL}, srv.Client(), zap.NewNop())
	require.NoError(t, err)

	assert.Error(t, n.Notify(context.Background(), testNotification(models.NotifyPaymentSucceeded)))
}

func TestEmailNotifier_SkipsWithoutRecipient(t *testing.T) {
	n, err := NewEmailNotifier(EmailConfig{ServerToken: "t", SenderEmail: "billing@acme.test", BaseURL: "http://127.0.0.1:1"}, nil, zap.NewNop())
	require.NoError(t, err)

	notification := testNotification(models.NotifyRenewalReminder)
	notification.Subscription.CustomerEmail = ""
	assert.NoError(t, n.Notify(context.Background(), notification))
}

func noSleep(context.Context, time.Duration) error { return nil }

func TestWebhookNotifier_SignsPayload(t *testing.T) {
	client := mocks.NewMockHTTPClient(func(req *http.Request) (*http.Response, error) {
		return mocks.StatusResponse(http.StatusOK), nil
	})
	w := NewWebhookNotifier(WebhookConfig{URL: "https://tenant.test/hooks", Secret: "whsec"}, client, zap.NewNop())

	require.NoError(t, w.Notify(context.Background(), testNotification(models.NotifyGracePeriodStarted)))
	require.Len(t, client.Calls, 1)

	req := client.Calls[0]
	body := client.Bodies[0]
	assert.Equal(t, "subscription.grace_period_started", req.Header.Get(HeaderEventType))
	assert.True(t, gateway.VerifyHMACSHA256("whsec", body, req.Header.Get(HeaderSignature)))

	var event WebhookEvent
	require.NoError(t, json.Unmarshal(body, &event))
	assert.Equal(t, req.Header.Get(HeaderEventID), event.ID)
	assert.Equal(t, "sub-1", event.Data.SubscriptionID)
	assert.Equal(t, "past_due", event.Data.Status)
	require.NotNil(t, event.Data.Amount)
	assert.True(t, event.Data.Amount.Equal(decimal.NewFromInt(149)))
}

func TestWebhookNotifier_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	client := mocks.NewMockHTTPClient(func(req *http.Request) (*http.Response, error) {
		switch calls.Add(1) {
		case 1:
			return nil, errors.New("connection reset")
		case 2:
			return mocks.StatusResponse(http.StatusServiceUnavailable), nil
		default:
			return mocks.StatusResponse(http.StatusNoContent), nil
		}
	})
	w := NewWebhookNotifier(WebhookConfig{URL: "https://tenant.test/hooks", Secret: "s", MaxAttempts: 4}, client, zap.NewNop())
	w.sleep = noSleep

	require.NoError(t, w.Notify(context.Background(), testNotification(models.NotifyRenewalFailed)))
	assert.Equal(t, int32(3), calls.Load())
}

func TestWebhookNotifier_ClientErrorIsFinal(t *testing.T) {
	client := mocks.NewMockHTTPClient(func(req *http.Request) (*http.Response, error) {
		return mocks.StatusResponse(http.StatusGone), nil
	})
	w := NewWebhookNotifier(WebhookConfig{URL: "https://tenant.test/hooks", Secret: "s"}, client, zap.NewNop())
	w.sleep = noSleep

	err := w.Notify(context.Background(), testNotification(models.NotifySubscriptionExpired))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 410")
	assert.Equal(t, 1, client.CallCount())
}

func TestWebhookNotifier_GivesUpAfterMaxAttempts(t *testing.T) {
	client := mocks.NewMockHTTPClient(func(req *http.Request) (*http.Response, error) {
		return mocks.StatusResponse(http.StatusBadGateway), nil
	})
	w := NewWebhookNotifier(WebhookConfig{URL: "https://tenant.test/hooks", Secret: "s", MaxAttempts: 3}, client, zap.NewNop())
	w.sleep = noSleep

	assert.Error(t, w.Notify(context.Background(), testNotification(models.NotifyPaymentFailed)))
	assert.Equal(t, 3, client.CallCount())
}

func TestMultiNotifier_DeliversToAll(t *testing.T) {
	first := mocks.NewMockNotifier()
	second := mocks.NewMockNotifier()
	first.SetError(errors.New("smtp down"))

	m := NewMultiNotifier(first, second)
	err := m.Notify(context.Background(), testNotification(models.NotifyPlanUpgraded))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp down")
	assert.Equal(t, 1, second.Count(models.NotifyPlanUpgraded))
	assert.Equal(t, 2, m.Len())
	assert.NoError(t, NewMultiNotifier().Notify(context.Background(), testNotification(models.NotifyPlanUpgraded)))
}
