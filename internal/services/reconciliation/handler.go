// Package reconciliation applies verified gateway notifications to local
// subscription state.
package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/kevin07696/subscription-service/internal/domain"
	"github.com/kevin07696/subscription-service/internal/domain/models"
	"github.com/kevin07696/subscription-service/internal/domain/ports"
	serviceports "github.com/kevin07696/subscription-service/internal/services/ports"
	"github.com/kevin07696/subscription-service/pkg/observability"
)

// Webhook outcomes recorded in metrics
const (
	resultApplied   = "applied"
	resultDuplicate = "duplicate"
	resultIgnored   = "ignored"
	resultUnmatched = "unmatched"
	resultRejected  = "rejected"
	resultFailed    = "failed"
)

// Handler verifies inbound notifications and routes them to the lifecycle
type Handler struct {
	gateways  ports.GatewayResolver
	subs      ports.SubscriptionRepository
	lifecycle serviceports.SubscriptionLifecycle
	logger    ports.Logger
}

var _ serviceports.WebhookReconciler = (*Handler)(nil)

// NewHandler creates a new reconciliation handler
func NewHandler(
	gateways ports.GatewayResolver,
	subs ports.SubscriptionRepository,
	lifecycle serviceports.SubscriptionLifecycle,
	logger ports.Logger,
) *Handler {
	return &Handler{
		gateways:  gateways,
		subs:      subs,
		lifecycle: lifecycle,
		logger:    logger,
	}
}

// HandleWebhook verifies the raw payload with the provider's adapter before
// anything in it is trusted, then applies the event. Events that cannot be
// matched to a subscription are acknowledged without error so the provider
// stops redelivering them.
func (h *Handler) HandleWebhook(ctx context.Context, provider models.Provider, payload []byte, headers http.Header) (*serviceports.WebhookResult, error) {
	gw, err := h.gateways.Gateway(provider)
	if err != nil {
		return nil, err
	}

	event, err := gw.VerifyWebhook(ctx, payload, headers)
	if err != nil {
		return nil, h.verificationError(provider, err)
	}
	if event.Provider == "" {
		event.Provider = provider
	}

	result := &serviceports.WebhookResult{
		EventID: event.ID,
		Kind:    event.Kind,
	}

	if event.Kind == models.EventIgnored || event.Kind == "" {
		observability.RecordWebhookEvent(string(provider), string(event.Kind), resultIgnored)
		h.logger.Debug("webhook event ignored",
			ports.String("provider", string(provider)),
			ports.String("event_id", event.ID),
			ports.String("type", event.Type))
		return result, nil
	}

	subscriptionID, err := h.correlate(ctx, event)
	if err != nil {
		observability.RecordWebhookEvent(string(provider), string(event.Kind), resultFailed)
		return nil, err
	}
	if subscriptionID == "" {
		observability.RecordWebhookEvent(string(provider), string(event.Kind), resultUnmatched)
		h.logger.Warn("webhook event matches no subscription",
			ports.String("provider", string(provider)),
			ports.String("event_id", event.ID),
			ports.String("type", event.Type),
			ports.String("gateway_subscription_id", event.GatewaySubscriptionID))
		return result, nil
	}
	result.SubscriptionID = subscriptionID

	if err := h.apply(ctx, subscriptionID, event, result); err != nil {
		observability.RecordWebhookEvent(string(provider), string(event.Kind), resultFailed)
		h.logger.Error("failed to apply webhook event",
			ports.String("provider", string(provider)),
			ports.String("event_id", event.ID),
			ports.String("subscription_id", subscriptionID),
			ports.Err(err))
		return nil, err
	}

	outcome := resultApplied
	if result.Duplicate {
		outcome = resultDuplicate
	}
	observability.RecordWebhookEvent(string(provider), string(event.Kind), outcome)
	h.logger.Info("webhook event processed",
		ports.String("provider", string(provider)),
		ports.String("event_id", event.ID),
		ports.String("kind", string(event.Kind)),
		ports.String("subscription_id", subscriptionID),
		ports.Bool("duplicate", result.Duplicate))

	return result, nil
}

// verificationError keeps the adapter's verdict on forged or malformed
// payloads. Anything else means verification could not run, which the
// provider must see as retryable.
func (h *Handler) verificationError(provider models.Provider, err error) error {
	switch domain.GetErrorCode(err) {
	case domain.ErrorCodeSignatureInvalid, domain.ErrorCodeValidationFailed:
		observability.RecordWebhookEvent(string(provider), "unknown", resultRejected)
		h.logger.Warn("webhook rejected",
			ports.String("provider", string(provider)),
			ports.Err(err))
		return err
	}

	observability.RecordWebhookEvent(string(provider), "unknown", resultFailed)
	h.logger.Error("webhook verification unavailable",
		ports.String("provider", string(provider)),
		ports.Err(err))
	if domain.IsGatewayError(err) {
		return err
	}
	return domain.WrapError(domain.ErrorCodeGatewayError, "webhook verification unavailable", err)
}

// correlate finds the local subscription an event belongs to. One-time charges
// carry the local id in their metadata; recurring events only carry the
// provider's subscription id.
func (h *Handler) correlate(ctx context.Context, event *models.GatewayEvent) (string, error) {
	if id := event.LocalSubscriptionID(); id != "" {
		return id, nil
	}
	if event.GatewaySubscriptionID == "" {
		return "", nil
	}

	sub, err := h.subs.GetByGatewayID(ctx, nil, event.Provider, event.GatewaySubscriptionID)
	if err != nil {
		if errors.Is(err, domain.ErrSubscriptionNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("correlate %s: %w", event.GatewaySubscriptionID, err)
	}
	return sub.ID, nil
}

func (h *Handler) apply(ctx context.Context, subscriptionID string, event *models.GatewayEvent, result *serviceports.WebhookResult) error {
	switch event.Kind {
	case models.EventChargeSucceeded:
		outcome, err := h.lifecycle.ApplyChargeSucceeded(ctx, subscriptionID, chargeFromEvent(event))
		if err != nil {
			return err
		}
		result.Duplicate = outcome.Duplicate
		result.Applied = !outcome.Duplicate

	case models.EventChargeFailed:
		outcome, err := h.lifecycle.ApplyChargeFailed(ctx, subscriptionID, chargeFromEvent(event))
		if err != nil {
			return err
		}
		result.Applied = outcome.Transitioned || outcome.UpgradeAbandoned

	case models.EventSubscriptionUpdated:
		status := h.remoteStatus(event)
		before, err := h.subs.GetByID(ctx, nil, subscriptionID)
		if err != nil {
			return err
		}
		after, err := h.lifecycle.ApplyRemoteStatus(ctx, subscriptionID, status, event.PeriodEnd)
		if err != nil {
			return err
		}
		result.Applied = after.Status != before.Status || !after.CurrentPeriodEnd.Equal(before.CurrentPeriodEnd)

	case models.EventSubscriptionCancelled:
		after, err := h.lifecycle.ApplyRemoteStatus(ctx, subscriptionID, models.SubscriptionStatusCancelled, nil)
		if err != nil {
			return err
		}
		result.Applied = after.Status == models.SubscriptionStatusCancelled

	default:
		h.logger.Warn("unsupported webhook event kind",
			ports.String("kind", string(event.Kind)),
			ports.String("event_id", event.ID))
	}
	return nil
}

// remoteStatus resolves the canonical status of a subscription_updated event.
// Unknown provider statuses only refresh the period.
func (h *Handler) remoteStatus(event *models.GatewayEvent) models.SubscriptionStatus {
	if event.Status != "" {
		return event.Status
	}
	if event.RemoteStatus == "" {
		return ""
	}
	status, ok := domain.MapRemoteStatus(event.Provider, event.RemoteStatus)
	if !ok {
		h.logger.Warn("unmapped remote status",
			ports.String("provider", string(event.Provider)),
			ports.String("remote_status", event.RemoteStatus),
			ports.String("event_id", event.ID))
		return ""
	}
	return status
}

func chargeFromEvent(event *models.GatewayEvent) serviceports.ChargeConfirmation {
	chargeID := event.ChargeID
	if chargeID == "" {
		chargeID = event.ID
	}
	return serviceports.ChargeConfirmation{
		PeriodStart:   event.PeriodStart,
		PeriodEnd:     event.PeriodEnd,
		Amount:        event.Amount,
		Provider:      event.Provider,
		ChargeID:      chargeID,
		Currency:      event.Currency,
		EventID:       event.ID,
		Purpose:       event.Metadata[models.MetaPurpose],
		Source:        serviceports.SourceWebhook,
		FailureReason: event.FailureReason,
	}
}
