package subscription

import (
	"context"
	"fmt"
	"strings"

	"github.com/kevin07696/subscription-service/internal/domain"
	"github.com/kevin07696/subscription-service/internal/domain/models"
	"github.com/kevin07696/subscription-service/internal/domain/ports"
	serviceports "github.com/kevin07696/subscription-service/internal/services/ports"
	"github.com/kevin07696/subscription-service/pkg/observability"
)

// UpgradePlan moves an active subscription to a more expensive plan. A zero
// prorated amount swaps the plan at once; otherwise a pending upgrade is
// recorded and a one-time charge requested. The swap happens only when that
// charge is confirmed.
func (s *Service) UpgradePlan(ctx context.Context, req serviceports.PlanChangeRequest) (*models.Subscription, error) {
	if req.TargetPlanID == "" {
		return nil, domain.NewValidationError("target_plan_id is required")
	}

	var target *models.Plan
	sub, err := s.apply(ctx, req.SubscriptionID, func(ctx context.Context, tx ports.DBTX, sub *models.Subscription, fx *effects) error {
		if err := checkTenant(sub, req.TenantID); err != nil {
			return err
		}
		if sub.Status != models.SubscriptionStatusActive {
			return domain.NewInvalidTransition(fmt.Sprintf("only active subscriptions can be upgraded (status %s)", sub.Status)).
				WithDetail("subscription_id", sub.ID)
		}
		if u, ok := sub.PendingUpgrade(); ok && u.InProgress() {
			return domain.NewInvalidTransition("an upgrade is already awaiting payment").
				WithDetail("target_plan_id", u.TargetPlanID)
		}

		current, err := s.plan(ctx, tx, sub.PlanID)
		if err != nil {
			return err
		}
		target, err = s.plan(ctx, tx, req.TargetPlanID)
		if err != nil {
			return err
		}
		if !target.Active {
			return domain.NewValidationError(fmt.Sprintf("plan %s is not available", target.ID))
		}
		if !target.Price.GreaterThan(current.Price) {
			return domain.NewInvalidTransition(fmt.Sprintf(
				"upgrade requires a more expensive plan: %s costs %s, current plan %s costs %s",
				target.Name, target.Price.StringFixed(2), current.Name, current.Price.StringFixed(2))).
				WithDetail("current_plan_id", current.ID).
				WithDetail("target_plan_id", target.ID)
		}

		now := s.clock.Now()
		amount := s.proration.Calculate(current.Price, target.Price, sub.CurrentPeriodStart, sub.CurrentPeriodEnd, now)
		observability.RecordProration(amount)

		if amount.IsZero() {
			swapPlan(sub, target)
			fx.notify(models.Notification{Kind: models.NotifyPlanUpgraded, PlanName: target.Name})
			return s.save(ctx, tx, sub)
		}

		// replaces a scheduled downgrade, if any
		sub.PlanChange = &models.PendingUpgrade{
			TargetPlanID:   target.ID,
			ProratedAmount: amount,
			InitiatedAt:    now,
			Status:         models.UpgradeStatusPendingPayment,
		}
		return s.save(ctx, tx, sub)
	})
	if err != nil {
		return nil, err
	}

	upgrade, ok := sub.PendingUpgrade()
	if !ok {
		s.logger.Info("plan upgraded without charge",
			ports.String("subscription_id", sub.ID),
			ports.String("plan_id", sub.PlanID))
		return sub, nil
	}

	s.logger.Info("upgrade pending payment",
		ports.String("subscription_id", sub.ID),
		ports.String("target_plan_id", upgrade.TargetPlanID),
		ports.Money("prorated_amount", upgrade.ProratedAmount))

	return s.chargeUpgrade(ctx, sub, target, upgrade)
}

// chargeUpgrade requests the prorated charge outside the lock and records the outcome
func (s *Service) chargeUpgrade(ctx context.Context, sub *models.Subscription, target *models.Plan, upgrade *models.PendingUpgrade) (*models.Subscription, error) {
	gw, err := s.gateway(sub.Provider)
	if err != nil {
		s.abandonUpgrade(ctx, sub.ID, upgrade.TargetPlanID, err.Error())
		return nil, err
	}

	result, err := gw.ChargeOneTime(ctx, ports.OneTimeChargeRequest{
		Amount:        upgrade.ProratedAmount,
		Currency:      sub.Currency,
		CustomerRef:   sub.GatewayCustomerID,
		Email:         sub.CustomerEmail,
		PaymentMethod: sub.PaymentMethodToken,
		Description:   fmt.Sprintf("Prorated upgrade to %s", target.Name),
		Metadata:      chargeMetadata(sub, models.PurposeUpgrade, target.ID),
	})
	if err != nil {
		gwErr := gatewayError(err)
		s.abandonUpgrade(ctx, sub.ID, upgrade.TargetPlanID, gwErr.Error())
		return nil, gwErr
	}

	if result.Confirmed {
		outcome, err := s.ApplyChargeSucceeded(ctx, sub.ID, serviceports.ChargeConfirmation{
			Provider: sub.Provider,
			ChargeID: result.TransactionID,
			Amount:   upgrade.ProratedAmount,
			Currency: sub.Currency,
			Purpose:  models.PurposeUpgrade,
			Source:   serviceports.SourceSynchronous,
		})
		if err != nil {
			return nil, err
		}
		return outcome.Subscription, nil
	}

	return s.apply(ctx, sub.ID, func(ctx context.Context, tx ports.DBTX, cur *models.Subscription, fx *effects) error {
		u, ok := cur.PendingUpgrade()
		if !ok || !u.InProgress() || u.TargetPlanID != upgrade.TargetPlanID {
			// settled concurrently by a webhook
			return nil
		}
		u.ChargeID = result.TransactionID
		if result.CheckoutURL != "" {
			cur.CheckoutURL = result.CheckoutURL
		}
		return s.save(ctx, tx, cur)
	})
}

// abandonUpgrade clears a pending upgrade whose charge failed
func (s *Service) abandonUpgrade(ctx context.Context, subscriptionID, targetPlanID, reason string) {
	_, err := s.apply(ctx, subscriptionID, func(ctx context.Context, tx ports.DBTX, sub *models.Subscription, fx *effects) error {
		u, ok := sub.PendingUpgrade()
		if !ok || !u.InProgress() || u.TargetPlanID != targetPlanID {
			return nil
		}
		sub.PlanChange = nil
		fx.notify(models.Notification{
			Kind:   models.NotifyPaymentFailed,
			Amount: u.ProratedAmount,
			Reason: reason,
		})
		return s.save(ctx, tx, sub)
	})
	if err != nil {
		s.logger.Error("failed to clear abandoned upgrade",
			ports.String("subscription_id", subscriptionID),
			ports.Err(err))
		return
	}

	s.logger.Warn("upgrade charge failed, staying on current plan",
		ports.String("subscription_id", subscriptionID),
		ports.String("target_plan_id", targetPlanID),
		ports.String("reason", reason))
}

// ConfirmUpgrade applies a pending upgrade whose charge was confirmed out of band
func (s *Service) ConfirmUpgrade(ctx context.Context, req serviceports.ConfirmUpgradeRequest) (*models.Subscription, error) {
	sub, err := s.GetSubscription(ctx, req.SubscriptionID, req.TenantID)
	if err != nil {
		return nil, err
	}

	upgrade, ok := sub.PendingUpgrade()
	if !ok || !upgrade.InProgress() {
		return nil, domain.NewInvalidTransition("no upgrade is awaiting payment").
			WithDetail("subscription_id", sub.ID)
	}

	chargeID := req.TransactionID
	if chargeID == "" {
		chargeID = upgrade.ChargeID
	}
	if chargeID == "" {
		return nil, domain.NewValidationError("transaction_id is required")
	}
	if upgrade.ChargeID != "" && chargeID != upgrade.ChargeID {
		return nil, domain.NewValidationError("transaction_id does not match the pending upgrade charge").
			WithDetail("expected", upgrade.ChargeID)
	}

	outcome, err := s.ApplyChargeSucceeded(ctx, sub.ID, serviceports.ChargeConfirmation{
		Provider: sub.Provider,
		ChargeID: chargeID,
		Amount:   upgrade.ProratedAmount,
		Currency: sub.Currency,
		Purpose:  models.PurposeUpgrade,
		Source:   serviceports.SourceManual,
	})
	if err != nil {
		return nil, err
	}
	return outcome.Subscription, nil
}

// DowngradePlan schedules a move to a cheaper plan at the end of the current
// period. Current usage must fit every limit of the target plan.
func (s *Service) DowngradePlan(ctx context.Context, req serviceports.PlanChangeRequest) (*models.Subscription, error) {
	if req.TargetPlanID == "" {
		return nil, domain.NewValidationError("target_plan_id is required")
	}

	sub, err := s.apply(ctx, req.SubscriptionID, func(ctx context.Context, tx ports.DBTX, sub *models.Subscription, fx *effects) error {
		if err := checkTenant(sub, req.TenantID); err != nil {
			return err
		}
		if sub.Status != models.SubscriptionStatusActive {
			return domain.NewInvalidTransition(fmt.Sprintf("only active subscriptions can be downgraded (status %s)", sub.Status)).
				WithDetail("subscription_id", sub.ID)
		}
		if u, ok := sub.PendingUpgrade(); ok && u.InProgress() {
			return domain.NewInvalidTransition("an upgrade is awaiting payment; confirm or abandon it first").
				WithDetail("target_plan_id", u.TargetPlanID)
		}

		current, err := s.plan(ctx, tx, sub.PlanID)
		if err != nil {
			return err
		}
		target, err := s.plan(ctx, tx, req.TargetPlanID)
		if err != nil {
			return err
		}
		if !target.Active {
			return domain.NewValidationError(fmt.Sprintf("plan %s is not available", target.ID))
		}
		if !target.Price.LessThan(current.Price) {
			return domain.NewInvalidTransition(fmt.Sprintf(
				"downgrade requires a cheaper plan: %s costs %s, current plan %s costs %s",
				target.Name, target.Price.StringFixed(2), current.Name, current.Price.StringFixed(2))).
				WithDetail("current_plan_id", current.ID).
				WithDetail("target_plan_id", target.ID)
		}

		if err := s.checkUsage(ctx, sub.TenantID, target); err != nil {
			return err
		}

		sub.PlanChange = &models.ScheduledDowngrade{
			TargetPlanID:  target.ID,
			EffectiveDate: sub.CurrentPeriodEnd,
		}

		due := sub.CurrentPeriodEnd
		fx.notify(models.Notification{
			Kind:     models.NotifyDowngradeScheduled,
			PlanName: target.Name,
			Amount:   target.Price,
			DueDate:  &due,
		})
		return s.save(ctx, tx, sub)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("downgrade scheduled",
		ports.String("subscription_id", sub.ID),
		ports.String("target_plan_id", req.TargetPlanID))

	return sub, nil
}

// checkUsage rejects a downgrade when any resource exceeds the target's caps,
// listing every violated dimension in one error
func (s *Service) checkUsage(ctx context.Context, tenantID string, target *models.Plan) error {
	if s.usage == nil {
		return nil
	}

	usage, err := s.usage.Usage(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("load tenant usage: %w", err)
	}

	violations := usage.Violations(target.Limits)
	if len(violations) == 0 {
		return nil
	}

	items := make([]string, 0, len(violations))
	for _, v := range violations {
		items = append(items, fmt.Sprintf("%s (%d used, limit %d)", v.Resource.Label(), v.Used, v.Limit))
	}

	return domain.NewDomainError(domain.ErrorCodeQuotaExceeded,
		fmt.Sprintf("current usage exceeds the %s plan limits: %s", target.Name, strings.Join(items, ", "))).
		WithDetail("target_plan_id", target.ID).
		WithDetail("violations", violations)
}

// swapPlan moves the subscription onto plan and its entitlements
func swapPlan(sub *models.Subscription, plan *models.Plan) {
	sub.PlanID = plan.ID
	sub.Entitlements = plan.Limits
	sub.PlanChange = nil
}
