package subscription

import (
	"context"

	"github.com/kevin07696/subscription-service/internal/domain/models"
	"github.com/kevin07696/subscription-service/internal/domain/ports"
	"github.com/kevin07696/subscription-service/pkg/observability"
)

// notify hands a notification to the sink. Failures are logged and never
// affect the billing transition that produced them.
func (s *Service) notify(ctx context.Context, n models.Notification) {
	if s.notifier == nil {
		return
	}
	if n.OccurredAt.IsZero() {
		n.OccurredAt = s.clock.Now()
	}

	subscriptionID := ""
	if n.Subscription != nil {
		subscriptionID = n.Subscription.ID
	}

	if err := s.notifier.Notify(ctx, n); err != nil {
		observability.RecordNotification(string(n.Kind), "failed")
		s.logger.Warn("notification delivery failed",
			ports.String("kind", string(n.Kind)),
			ports.String("subscription_id", subscriptionID),
			ports.Err(err))
		return
	}

	observability.RecordNotification(string(n.Kind), "sent")
	s.logger.Debug("notification sent",
		ports.String("kind", string(n.Kind)),
		ports.String("subscription_id", subscriptionID))
}

// statusNotification picks the message for a remote-driven status change
func statusNotification(from, to models.SubscriptionStatus) (models.NotificationKind, bool) {
	switch to {
	case models.SubscriptionStatusActive:
		if from == models.SubscriptionStatusPending {
			return models.NotifySubscriptionActivated, true
		}
		if from == models.SubscriptionStatusSuspended {
			return models.NotifySubscriptionReactivated, true
		}
	case models.SubscriptionStatusPastDue:
		return models.NotifyPaymentFailed, true
	case models.SubscriptionStatusSuspended:
		return models.NotifySubscriptionSuspended, true
	case models.SubscriptionStatusCancelled:
		return models.NotifySubscriptionCancelled, true
	case models.SubscriptionStatusExpired:
		return models.NotifySubscriptionExpired, true
	case models.SubscriptionStatusPaymentFailed:
		return models.NotifyPaymentFailed, true
	}
	return "", false
}
