package subscription

import (
	"context"
	"fmt"
	"time"

	"github.com/kevin07696/subscription-service/internal/domain"
	"github.com/kevin07696/subscription-service/internal/domain/models"
	"github.com/kevin07696/subscription-service/internal/domain/ports"
	serviceports "github.com/kevin07696/subscription-service/internal/services/ports"
)

// CancelSubscription cancels now or at the end of the current period.
// Immediate cancellation calls the gateway best-effort: a failed remote
// cancel is logged and local cancellation still proceeds.
func (s *Service) CancelSubscription(ctx context.Context, req serviceports.CancelSubscriptionRequest) (*models.Subscription, error) {
	current, err := s.GetSubscription(ctx, req.SubscriptionID, req.TenantID)
	if err != nil {
		return nil, err
	}
	if current.Status.IsTerminal() {
		return nil, domain.NewInvalidTransition(fmt.Sprintf("subscription is already %s", current.Status)).
			WithDetail("subscription_id", current.ID)
	}

	if !req.Immediate {
		return s.scheduleCancellation(ctx, req)
	}

	s.cancelRemote(ctx, current)

	sub, err := s.apply(ctx, req.SubscriptionID, func(ctx context.Context, tx ports.DBTX, sub *models.Subscription, fx *effects) error {
		if err := checkTenant(sub, req.TenantID); err != nil {
			return err
		}
		s.markCancelled(sub, req.Reason, fx)
		if err := s.transition(sub, models.SubscriptionStatusCancelled, fx); err != nil {
			return err
		}
		return s.save(ctx, tx, sub)
	})
	if err != nil {
		s.logger.Error("cancel subscription failed",
			ports.String("subscription_id", req.SubscriptionID),
			ports.Err(err))
		return nil, err
	}

	s.logger.Info("subscription cancelled",
		ports.String("subscription_id", sub.ID),
		ports.String("reason", req.Reason))

	return sub, nil
}

func (s *Service) scheduleCancellation(ctx context.Context, req serviceports.CancelSubscriptionRequest) (*models.Subscription, error) {
	sub, err := s.apply(ctx, req.SubscriptionID, func(ctx context.Context, tx ports.DBTX, sub *models.Subscription, fx *effects) error {
		if err := checkTenant(sub, req.TenantID); err != nil {
			return err
		}
		if sub.Status != models.SubscriptionStatusActive && sub.Status != models.SubscriptionStatusPastDue {
			return domain.NewInvalidTransition(fmt.Sprintf("a %s subscription cannot be cancelled at period end; cancel it immediately", sub.Status)).
				WithDetail("subscription_id", sub.ID)
		}
		if sub.CancelAtPeriodEnd() {
			return nil
		}

		sub.Cancellation = &models.Cancellation{
			RequestedAt: s.clock.Now(),
			Reason:      req.Reason,
			AtPeriodEnd: true,
		}
		// no further renewal attempts or reminders for this subscription
		sub.AutoRenew = false

		due := sub.CurrentPeriodEnd
		fx.notify(models.Notification{
			Kind:    models.NotifySubscriptionCancelled,
			Reason:  req.Reason,
			DueDate: &due,
		})
		return s.save(ctx, tx, sub)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("subscription cancellation scheduled",
		ports.String("subscription_id", sub.ID),
		ports.String("effective", sub.CurrentPeriodEnd.Format(time.RFC3339)))

	return sub, nil
}

// markCancelled records an immediate cancellation and queues its notification.
// The caller performs the state transition.
func (s *Service) markCancelled(sub *models.Subscription, reason string, fx *effects) {
	now := s.clock.Now()
	sub.Cancellation = &models.Cancellation{
		RequestedAt: now,
		Reason:      reason,
		Immediate:   true,
	}
	sub.PlanChange = nil
	sub.AutoRenew = false
	if now.Before(sub.EndDate) && !now.Before(sub.StartDate) {
		sub.EndDate = now
	}

	fx.notify(models.Notification{
		Kind:   models.NotifySubscriptionCancelled,
		Reason: reason,
	})
}

// cancelRemote stops the provider-side recurring charge. Errors are logged only.
func (s *Service) cancelRemote(ctx context.Context, sub *models.Subscription) {
	if sub.GatewaySubscriptionID == "" {
		return
	}

	gw, err := s.gateway(sub.Provider)
	if err == nil {
		err = gw.CancelSubscription(ctx, sub.GatewaySubscriptionID)
	}
	if err != nil {
		s.logger.Warn("gateway cancellation failed, continuing with local cancellation",
			ports.String("subscription_id", sub.ID),
			ports.String("gateway_subscription_id", sub.GatewaySubscriptionID),
			ports.Err(err))
	}
}
