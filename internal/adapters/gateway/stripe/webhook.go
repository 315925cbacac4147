package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	stripego "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"

	"github.com/kevin07696/subscription-service/internal/adapters/gateway"
	"github.com/kevin07696/subscription-service/internal/domain"
	"github.com/kevin07696/subscription-service/internal/domain/models"
)

// SignatureHeader carries Stripe's timestamped HMAC
const SignatureHeader = "Stripe-Signature"

// Only the fields the reconciliation needs are decoded; Stripe moves fields
// between API versions and the raw payload keeps both shapes readable.
type invoiceObject struct {
	ID           string `json:"id"`
	Subscription string `json:"subscription"`
	Parent       *struct {
		SubscriptionDetails *struct {
			Subscription string            `json:"subscription"`
			Metadata     map[string]string `json:"metadata"`
		} `json:"subscription_details"`
	} `json:"parent"`
	SubscriptionDetails *struct {
		Metadata map[string]string `json:"metadata"`
	} `json:"subscription_details"`
	Currency      string `json:"currency"`
	BillingReason string `json:"billing_reason"`
	Lines         struct {
		Data []struct {
			Period struct {
				Start int64 `json:"start"`
				End   int64 `json:"end"`
			} `json:"period"`
		} `json:"data"`
	} `json:"lines"`
	LastFinalizationError *struct {
		Message string `json:"message"`
	} `json:"last_finalization_error"`
	AmountPaid int64 `json:"amount_paid"`
	AmountDue  int64 `json:"amount_due"`
}

func (inv *invoiceObject) subscriptionRef() (string, map[string]string) {
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
		return inv.Parent.SubscriptionDetails.Subscription, inv.Parent.SubscriptionDetails.Metadata
	}
	var meta map[string]string
	if inv.SubscriptionDetails != nil {
		meta = inv.SubscriptionDetails.Metadata
	}
	return inv.Subscription, meta
}

type paymentIntentObject struct {
	Metadata         map[string]string `json:"metadata"`
	LastPaymentError *struct {
		Message string `json:"message"`
	} `json:"last_payment_error"`
	ID             string `json:"id"`
	Currency       string `json:"currency"`
	Amount         int64  `json:"amount"`
	AmountReceived int64  `json:"amount_received"`
}

type subscriptionObject struct {
	Metadata           map[string]string `json:"metadata"`
	ID                 string            `json:"id"`
	Status             string            `json:"status"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	Items              struct {
		Data []struct {
			CurrentPeriodStart int64 `json:"current_period_start"`
			CurrentPeriodEnd   int64 `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
}

func (s *subscriptionObject) period() (start, end int64) {
	if len(s.Items.Data) > 0 && s.Items.Data[0].CurrentPeriodEnd > 0 {
		return s.Items.Data[0].CurrentPeriodStart, s.Items.Data[0].CurrentPeriodEnd
	}
	return s.CurrentPeriodStart, s.CurrentPeriodEnd
}

// VerifyWebhook checks the Stripe-Signature header before decoding anything
func (a *Adapter) VerifyWebhook(ctx context.Context, payload []byte, headers http.Header) (*models.GatewayEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, headers.Get(SignatureHeader), a.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, domain.WrapError(domain.ErrorCodeSignatureInvalid, domain.ErrSignatureInvalid.Message, err)
	}

	out := &models.GatewayEvent{
		ID:         event.ID,
		Type:       string(event.Type),
		Provider:   models.ProviderStripe,
		OccurredAt: time.Unix(event.Created, 0).UTC(),
		Kind:       models.EventIgnored,
	}

	if err := a.decode(event, out); err != nil {
		return nil, domain.WrapError(domain.ErrorCodeValidationFailed, "malformed stripe event", err).
			WithDetail("event_id", event.ID)
	}

	a.logger.Debug("Stripe event verified",
		zap.String("event_id", out.ID),
		zap.String("type", out.Type),
		zap.String("kind", string(out.Kind)),
	)
	return out, nil
}

func (a *Adapter) decode(event stripego.Event, out *models.GatewayEvent) error {
	if event.Data == nil {
		return fmt.Errorf("event %s has no data", event.ID)
	}
	raw := event.Data.Raw

	switch event.Type {
	case "invoice.paid", "invoice.payment_failed":
		var inv invoiceObject
		if err := json.Unmarshal(raw, &inv); err != nil {
			return err
		}
		subID, meta := inv.subscriptionRef()
		if subID == "" {
			return nil // not a subscription invoice
		}
		out.GatewaySubscriptionID = subID
		out.Metadata = meta
		out.ChargeID = inv.ID
		out.Currency = upper(inv.Currency)
		if len(inv.Lines.Data) > 0 {
			out.PeriodStart = unixPtr(inv.Lines.Data[0].Period.Start)
			out.PeriodEnd = unixPtr(inv.Lines.Data[0].Period.End)
		}
		if event.Type == "invoice.paid" {
			out.Kind = models.EventChargeSucceeded
			out.Amount = gateway.FromMinorUnits(inv.AmountPaid, inv.Currency)
		} else {
			out.Kind = models.EventChargeFailed
			out.Amount = gateway.FromMinorUnits(inv.AmountDue, inv.Currency)
			out.FailureReason = "invoice payment failed"
			if inv.LastFinalizationError != nil && inv.LastFinalizationError.Message != "" {
				out.FailureReason = inv.LastFinalizationError.Message
			}
		}

	case "payment_intent.succeeded", "payment_intent.payment_failed":
		var pi paymentIntentObject
		if err := json.Unmarshal(raw, &pi); err != nil {
			return err
		}
		// invoice payment intents are reported through invoice.* events
		if pi.Metadata[models.MetaPurpose] == "" {
			return nil
		}
		out.Metadata = pi.Metadata
		out.ChargeID = pi.ID
		out.Currency = upper(pi.Currency)
		if event.Type == "payment_intent.succeeded" {
			out.Kind = models.EventChargeSucceeded
			out.Amount = gateway.FromMinorUnits(pi.AmountReceived, pi.Currency)
		} else {
			out.Kind = models.EventChargeFailed
			out.Amount = gateway.FromMinorUnits(pi.Amount, pi.Currency)
			out.FailureReason = "payment failed"
			if pi.LastPaymentError != nil && pi.LastPaymentError.Message != "" {
				out.FailureReason = pi.LastPaymentError.Message
			}
		}

	case "customer.subscription.updated", "customer.subscription.deleted":
		var sub subscriptionObject
		if err := json.Unmarshal(raw, &sub); err != nil {
			return err
		}
		out.GatewaySubscriptionID = sub.ID
		out.Metadata = sub.Metadata
		out.RemoteStatus = sub.Status
		start, end := sub.period()
		out.PeriodStart = unixPtr(start)
		out.PeriodEnd = unixPtr(end)
		if event.Type == "customer.subscription.deleted" {
			out.Kind = models.EventSubscriptionCancelled
		} else {
			out.Kind = models.EventSubscriptionUpdated
		}
	}
	return nil
}
