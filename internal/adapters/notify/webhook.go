package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kevin07696/subscription-service/internal/adapters/gateway"
	"github.com/kevin07696/subscription-service/internal/domain/models"
	"github.com/kevin07696/subscription-service/internal/domain/ports"
	"github.com/kevin07696/subscription-service/pkg/encoding"
	"github.com/kevin07696/subscription-service/pkg/resilience"
)

// Outbound delivery headers
const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderEventType = "X-Webhook-Event-Type"
	HeaderTimestamp = "X-Webhook-Timestamp"
	HeaderEventID   = "X-Webhook-ID"
)

// WebhookConfig points lifecycle webhooks at the tenant's endpoint
type WebhookConfig struct {
	URL         string
	Secret      string
	MaxAttempts int
}

// WebhookEvent is the JSON body delivered to the endpoint
type WebhookEvent struct {
	Timestamp time.Time   `json:"timestamp"`
	Data      WebhookData `json:"data"`
	ID        string      `json:"id"`
	EventType string      `json:"event_type"`
}

// WebhookData describes the subscription the event is about
type WebhookData struct {
	DueDate        *time.Time       `json:"due_date,omitempty"`
	Amount         *decimal.Decimal `json:"amount,omitempty"`
	SubscriptionID string           `json:"subscription_id"`
	TenantID       string           `json:"tenant_id"`
	PlanID         string           `json:"plan_id"`
	Status         string           `json:"status"`
	Currency       string           `json:"currency,omitempty"`
	InvoiceNumber  string           `json:"invoice_number,omitempty"`
	Reason         string           `json:"reason,omitempty"`
	Attempt        int              `json:"attempt,omitempty"`
	DaysLeft       int              `json:"days_left,omitempty"`
}

// WebhookNotifier posts HMAC-SHA256 signed lifecycle events. Network errors,
// 429 and 5xx responses are retried with backoff; other 4xx are final.
type WebhookNotifier struct {
	config     WebhookConfig
	httpClient ports.HTTPClient
	backoff    resilience.BackoffStrategy
	logger     *zap.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

var _ ports.Notifier = (*WebhookNotifier)(nil)

// NewWebhookNotifier creates an outbound webhook notifier
func NewWebhookNotifier(cfg WebhookConfig, httpClient ports.HTTPClient, logger *zap.Logger) *WebhookNotifier {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 4
	}
	return &WebhookNotifier{
		config:     cfg,
		httpClient: httpClient,
		backoff:    resilience.WebhookBackoff(),
		logger:     logger,
		sleep:      resilience.Sleep,
	}
}

// Notify delivers the event, retrying transient failures
func (w *WebhookNotifier) Notify(ctx context.Context, n models.Notification) error {
	event := newWebhookEvent(n)
	payload, err := encoding.EncodeJSON(event)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	signature := gateway.SignHMACSHA256(w.config.Secret, payload)

	var lastErr error
	for attempt := 0; attempt < w.config.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := w.sleep(ctx, w.backoff.NextDelay(attempt-1)); err != nil {
				return fmt.Errorf("webhook delivery interrupted: %w", lastErr)
			}
		}

		retry, err := w.deliver(ctx, event, payload, signature)
		if err == nil {
			w.logger.Info("Webhook delivered successfully",
				zap.String("event_id", event.ID),
				zap.String("event_type", event.EventType),
				zap.Int("attempt", attempt+1),
			)
			return nil
		}
		lastErr = err
		if !retry {
			break
		}

		w.logger.Warn("Webhook delivery failed, retrying",
			zap.String("event_id", event.ID),
			zap.String("event_type", event.EventType),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}

	return fmt.Errorf("webhook delivery failed: %w", lastErr)
}

func (w *WebhookNotifier) deliver(ctx context.Context, event WebhookEvent, payload []byte, signature string) (retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.config.URL, bytes.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderSignature, signature)
	req.Header.Set(HeaderEventType, event.EventType)
	req.Header.Set(HeaderTimestamp, event.Timestamp.Format(time.RFC3339))
	req.Header.Set(HeaderEventID, event.ID)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return ctx.Err() == nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return false, nil
	}

	retry = resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
	return retry, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
}

func newWebhookEvent(n models.Notification) WebhookEvent {
	occurred := n.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}

	data := WebhookData{
		DueDate:  n.DueDate,
		Reason:   n.Reason,
		Attempt:  n.Attempt,
		DaysLeft: n.DaysLeft,
	}
	if !n.Amount.IsZero() {
		amount := n.Amount
		data.Amount = &amount
	}
	if s := n.Subscription; s != nil {
		data.SubscriptionID = s.ID
		data.TenantID = s.TenantID
		data.PlanID = s.PlanID
		data.Status = string(s.Status)
		data.Currency = s.Currency
	}
	if n.Invoice != nil {
		data.InvoiceNumber = n.Invoice.Number
	}

	return WebhookEvent{
		ID:        uuid.New().String(),
		EventType: "subscription." + string(n.Kind),
		Timestamp: occurred,
		Data:      data,
	}
}
