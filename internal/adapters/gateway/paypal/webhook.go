package paypal

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kevin07696/subscription-service/internal/domain"
	"github.com/kevin07696/subscription-service/internal/domain/models"
)

// Transmission headers PayPal signs each delivery with
const (
	HeaderAuthAlgo         = "Paypal-Auth-Algo"
	HeaderCertURL          = "Paypal-Cert-Url"
	HeaderTransmissionID   = "Paypal-Transmission-Id"
	HeaderTransmissionSig  = "Paypal-Transmission-Sig"
	HeaderTransmissionTime = "Paypal-Transmission-Time"
)

type webhookEvent struct {
	ID           string          `json:"id"`
	EventType    string          `json:"event_type"`
	CreateTime   string          `json:"create_time"`
	ResourceType string          `json:"resource_type"`
	Resource     json.RawMessage `json:"resource"`
}

// sale and capture resources share the fields read here
type paymentResource struct {
	ID                 string `json:"id"`
	State              string `json:"state"`
	Status             string `json:"status"`
	BillingAgreementID string `json:"billing_agreement_id"`
	Custom             string `json:"custom"`
	CustomID           string `json:"custom_id"`
	Amount             struct {
		Total        string `json:"total"`
		Currency     string `json:"currency"`
		Value        string `json:"value"`
		CurrencyCode string `json:"currency_code"`
	} `json:"amount"`
	SupplementaryData struct {
		RelatedIDs struct {
			OrderID string `json:"order_id"`
		} `json:"related_ids"`
	} `json:"supplementary_data"`
}

func (p *paymentResource) money() (decimal.Decimal, string) {
	value, currency := p.Amount.Value, p.Amount.CurrencyCode
	if value == "" {
		value, currency = p.Amount.Total, p.Amount.Currency
	}
	amount, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, strings.ToUpper(currency)
	}
	return amount, strings.ToUpper(currency)
}

type orderEventResource struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	PurchaseUnits []struct {
		CustomID string `json:"custom_id"`
	} `json:"purchase_units"`
}

// VerifyWebhook asks PayPal to verify the transmission signature against the
// configured webhook id, then decodes the event
func (a *Adapter) VerifyWebhook(ctx context.Context, payload []byte, headers http.Header) (*models.GatewayEvent, error) {
	if err := a.verifySignature(ctx, payload, headers); err != nil {
		return nil, err
	}

	var ev webhookEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, domain.WrapError(domain.ErrorCodeValidationFailed, "malformed paypal event", err)
	}

	out := &models.GatewayEvent{
		ID:       ev.ID,
		Type:     ev.EventType,
		Provider: models.ProviderPayPal,
		Kind:     models.EventIgnored,
	}
	if ts, err := parseTime(ev.CreateTime); err == nil {
		out.OccurredAt = ts
	}

	if err := a.decode(ctx, &ev, out); err != nil {
		return nil, err
	}

	a.logger.Debug("PayPal event verified",
		zap.String("event_id", out.ID),
		zap.String("type", out.Type),
		zap.String("kind", string(out.Kind)),
	)
	return out, nil
}

func (a *Adapter) verifySignature(ctx context.Context, payload []byte, headers http.Header) error {
	required := []string{HeaderAuthAlgo, HeaderCertURL, HeaderTransmissionID, HeaderTransmissionSig, HeaderTransmissionTime}
	for _, h := range required {
		if headers.Get(h) == "" {
			return domain.ErrSignatureInvalid
		}
	}
	if !json.Valid(payload) {
		return domain.ErrSignatureInvalid
	}

	body := map[string]interface{}{
		"auth_algo":         headers.Get(HeaderAuthAlgo),
		"cert_url":          headers.Get(HeaderCertURL),
		"transmission_id":   headers.Get(HeaderTransmissionID),
		"transmission_sig":  headers.Get(HeaderTransmissionSig),
		"transmission_time": headers.Get(HeaderTransmissionTime),
		"webhook_id":        a.config.WebhookID,
		"webhook_event":     json.RawMessage(payload),
	}

	var result struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := a.call(ctx, http.MethodPost, "/v1/notifications/verify-webhook-signature", body, &result); err != nil {
		return domain.WrapError(domain.ErrorCodeSignatureInvalid, "paypal signature verification unavailable", err)
	}
	if result.VerificationStatus != "SUCCESS" {
		return domain.ErrSignatureInvalid
	}
	return nil
}

func (a *Adapter) decode(ctx context.Context, ev *webhookEvent, out *models.GatewayEvent) error {
	switch {
	case ev.EventType == "PAYMENT.SALE.COMPLETED" || ev.EventType == "PAYMENT.SALE.DENIED":
		var sale paymentResource
		if err := json.Unmarshal(ev.Resource, &sale); err != nil {
			return malformed(ev, err)
		}
		if sale.BillingAgreementID == "" {
			return nil
		}
		out.GatewaySubscriptionID = sale.BillingAgreementID
		out.Metadata = decodeCustomID(sale.Custom)
		out.ChargeID = sale.ID
		out.Amount, out.Currency = sale.money()
		if ev.EventType == "PAYMENT.SALE.COMPLETED" {
			out.Kind = models.EventChargeSucceeded
		} else {
			out.Kind = models.EventChargeFailed
			out.FailureReason = "payment sale denied"
		}

	case ev.EventType == "PAYMENT.CAPTURE.COMPLETED" || ev.EventType == "PAYMENT.CAPTURE.DENIED":
		var capture paymentResource
		if err := json.Unmarshal(ev.Resource, &capture); err != nil {
			return malformed(ev, err)
		}
		meta := decodeCustomID(capture.CustomID)
		if meta[models.MetaPurpose] == "" {
			return nil
		}
		out.Metadata = meta
		// the order id is what ChargeOneTime handed out
		out.ChargeID = capture.SupplementaryData.RelatedIDs.OrderID
		if out.ChargeID == "" {
			out.ChargeID = capture.ID
		}
		out.Amount, out.Currency = capture.money()
		if ev.EventType == "PAYMENT.CAPTURE.COMPLETED" {
			out.Kind = models.EventChargeSucceeded
		} else {
			out.Kind = models.EventChargeFailed
			out.FailureReason = "payment capture denied"
		}

	case ev.EventType == "CHECKOUT.ORDER.APPROVED":
		var order orderEventResource
		if err := json.Unmarshal(ev.Resource, &order); err != nil {
			return malformed(ev, err)
		}
		if len(order.PurchaseUnits) == 0 || decodeCustomID(order.PurchaseUnits[0].CustomID)[models.MetaPurpose] == "" {
			return nil
		}
		// approval alone moves no money; PAYMENT.CAPTURE.COMPLETED settles the charge
		if err := a.captureOrder(ctx, order.ID); err != nil {
			a.logger.Error("Failed to capture approved PayPal order",
				zap.String("order_id", order.ID), zap.Error(err))
			return err
		}

	case ev.EventType == "BILLING.SUBSCRIPTION.PAYMENT.FAILED":
		var sub subscriptionResource
		if err := json.Unmarshal(ev.Resource, &sub); err != nil {
			return malformed(ev, err)
		}
		out.GatewaySubscriptionID = sub.ID
		out.Metadata = decodeCustomID(sub.CustomID)
		out.Kind = models.EventChargeFailed
		out.FailureReason = "subscription payment failed"
		if sub.BillingInfo != nil && sub.BillingInfo.LastFailedPayment != nil {
			out.FailureReason = sub.BillingInfo.LastFailedPayment.ReasonCode
		}

	case strings.HasPrefix(ev.EventType, "BILLING.SUBSCRIPTION."):
		var sub subscriptionResource
		if err := json.Unmarshal(ev.Resource, &sub); err != nil {
			return malformed(ev, err)
		}
		out.GatewaySubscriptionID = sub.ID
		out.Metadata = decodeCustomID(sub.CustomID)
		out.RemoteStatus = sub.Status
		out.PeriodEnd = sub.nextBilling()
		switch ev.EventType {
		case "BILLING.SUBSCRIPTION.CANCELLED":
			out.Kind = models.EventSubscriptionCancelled
		case "BILLING.SUBSCRIPTION.ACTIVATED", "BILLING.SUBSCRIPTION.UPDATED", "BILLING.SUBSCRIPTION.SUSPENDED",
			"BILLING.SUBSCRIPTION.RE-ACTIVATED", "BILLING.SUBSCRIPTION.EXPIRED":
			out.Kind = models.EventSubscriptionUpdated
		}
	}
	return nil
}

func malformed(ev *webhookEvent, err error) error {
	return domain.WrapError(domain.ErrorCodeValidationFailed, "malformed paypal event", err).
		WithDetail("event_id", ev.ID)
}
