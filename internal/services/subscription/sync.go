package subscription

import (
	"context"

	"github.com/kevin07696/subscription-service/internal/domain"
	"github.com/kevin07696/subscription-service/internal/domain/models"
	"github.com/kevin07696/subscription-service/internal/domain/ports"
)

// SyncStatus pulls the provider's view of the subscription and applies it.
// Remote statuses without a canonical mapping only refresh the period end.
func (s *Service) SyncStatus(ctx context.Context, subscriptionID, tenantID string) (*models.Subscription, error) {
	sub, err := s.GetSubscription(ctx, subscriptionID, tenantID)
	if err != nil {
		return nil, err
	}
	if sub.GatewaySubscriptionID == "" {
		return nil, domain.NewValidationError("subscription has no gateway subscription to sync").
			WithDetail("subscription_id", sub.ID)
	}

	gw, err := s.gateway(sub.Provider)
	if err != nil {
		return nil, err
	}

	remote, err := gw.GetStatus(ctx, sub.GatewaySubscriptionID)
	if err != nil {
		return nil, gatewayError(err)
	}

	status, ok := domain.MapRemoteStatus(sub.Provider, remote.Status)
	if !ok {
		s.logger.Warn("unmapped remote status",
			ports.String("subscription_id", sub.ID),
			ports.String("provider", string(sub.Provider)),
			ports.String("remote_status", remote.Status))
		status = ""
	}

	return s.ApplyRemoteStatus(ctx, sub.ID, status, remote.CurrentPeriodEnd)
}
