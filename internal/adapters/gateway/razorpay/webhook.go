package razorpay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kevin07696/subscription-service/internal/adapters/gateway"
	"github.com/kevin07696/subscription-service/internal/domain"
	"github.com/kevin07696/subscription-service/internal/domain/models"
)

// Webhook headers
const (
	SignatureHeader = "X-Razorpay-Signature"
	EventIDHeader   = "X-Razorpay-Event-Id"
)

type webhookEnvelope struct {
	Event   string `json:"event"`
	Payload struct {
		Subscription *struct {
			Entity subscriptionEntity `json:"entity"`
		} `json:"subscription"`
		Payment *struct {
			Entity paymentEntity `json:"entity"`
		} `json:"payment"`
		PaymentLink *struct {
			Entity struct {
				Notes    map[string]string `json:"notes"`
				ID       string            `json:"id"`
				Status   string            `json:"status"`
				Currency string            `json:"currency"`
				Amount   int64             `json:"amount"`
			} `json:"entity"`
		} `json:"payment_link"`
	} `json:"payload"`
	CreatedAt int64 `json:"created_at"`
}

type paymentEntity struct {
	Notes            map[string]string `json:"notes"`
	ID               string            `json:"id"`
	Status           string            `json:"status"`
	Currency         string            `json:"currency"`
	ErrorDescription string            `json:"error_description"`
	Amount           int64             `json:"amount"`
}

// VerifyWebhook checks the hex HMAC-SHA256 of the raw body before decoding it
func (a *Adapter) VerifyWebhook(ctx context.Context, payload []byte, headers http.Header) (*models.GatewayEvent, error) {
	if !gateway.VerifyHMACSHA256(a.config.WebhookSecret, payload, headers.Get(SignatureHeader)) {
		return nil, domain.ErrSignatureInvalid
	}

	var env webhookEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, domain.WrapError(domain.ErrorCodeValidationFailed, "malformed razorpay event", err)
	}

	out := &models.GatewayEvent{
		ID:         headers.Get(EventIDHeader),
		Type:       env.Event,
		Provider:   models.ProviderRazorpay,
		OccurredAt: time.Unix(env.CreatedAt, 0).UTC(),
		Kind:       models.EventIgnored,
	}
	decode(&env, out)

	if out.ID == "" {
		// redeliveries of one event share the payment id
		out.ID = fmt.Sprintf("%s:%s", env.Event, out.ChargeID)
	}

	a.logger.Debug("Razorpay event verified",
		zap.String("event_id", out.ID),
		zap.String("type", out.Type),
		zap.String("kind", string(out.Kind)),
	)
	return out, nil
}

func decode(env *webhookEnvelope, out *models.GatewayEvent) {
	p := env.Payload

	if strings.HasPrefix(env.Event, "payment_link.") {
		if p.PaymentLink == nil || p.PaymentLink.Entity.Notes[models.MetaPurpose] == "" {
			return
		}
		link := p.PaymentLink.Entity
		out.Metadata = link.Notes
		out.ChargeID = link.ID
		out.Currency = strings.ToUpper(link.Currency)
		out.Amount = gateway.FromMinorUnits(link.Amount, link.Currency)

		switch env.Event {
		case "payment_link.paid":
			out.Kind = models.EventChargeSucceeded
			if p.Payment != nil {
				out.Amount = gateway.FromMinorUnits(p.Payment.Entity.Amount, p.Payment.Entity.Currency)
			}
		case "payment_link.cancelled", "payment_link.expired":
			out.Kind = models.EventChargeFailed
			out.FailureReason = "payment link " + strings.TrimPrefix(env.Event, "payment_link.")
		}
		return
	}

	if p.Subscription == nil {
		return
	}
	sub := p.Subscription.Entity
	out.GatewaySubscriptionID = sub.ID
	out.Metadata = sub.Notes
	out.RemoteStatus = sub.Status
	out.PeriodStart = unixPtr(sub.CurrentStart)
	out.PeriodEnd = unixPtr(sub.CurrentEnd)
	if p.Payment != nil {
		out.ChargeID = p.Payment.Entity.ID
		out.Currency = strings.ToUpper(p.Payment.Entity.Currency)
		out.Amount = gateway.FromMinorUnits(p.Payment.Entity.Amount, p.Payment.Entity.Currency)
	}

	switch env.Event {
	case "subscription.charged":
		out.Kind = models.EventChargeSucceeded
	case "subscription.pending":
		// a renewal charge failed and Razorpay will retry it
		out.Kind = models.EventChargeFailed
		out.FailureReason = "subscription charge failed"
		if p.Payment != nil && p.Payment.Entity.ErrorDescription != "" {
			out.FailureReason = p.Payment.Entity.ErrorDescription
		}
	case "subscription.cancelled":
		out.Kind = models.EventSubscriptionCancelled
	case "subscription.activated", "subscription.authenticated", "subscription.halted",
		"subscription.paused", "subscription.resumed", "subscription.completed", "subscription.updated":
		out.Kind = models.EventSubscriptionUpdated
	}
}
