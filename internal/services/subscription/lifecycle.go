package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kevin07696/subscription-service/internal/domain"
	"github.com/kevin07696/subscription-service/internal/domain/models"
	"github.com/kevin07696/subscription-service/internal/domain/ports"
	"github.com/kevin07696/subscription-service/internal/services/invoice"
	serviceports "github.com/kevin07696/subscription-service/internal/services/ports"
	"github.com/kevin07696/subscription-service/pkg/timeutil"
	"github.com/shopspring/decimal"
)

// ApplyChargeSucceeded records a confirmed charge. A charge id that was
// already invoiced is reported as a duplicate and changes nothing.
func (s *Service) ApplyChargeSucceeded(ctx context.Context, subscriptionID string, charge serviceports.ChargeConfirmation) (*serviceports.ChargeOutcome, error) {
	if charge.ChargeID == "" {
		return nil, domain.NewValidationError("charge id is required")
	}

	outcome := &serviceports.ChargeOutcome{}
	late := false

	sub, err := s.apply(ctx, subscriptionID, func(ctx context.Context, tx ports.DBTX, sub *models.Subscription, fx *effects) error {
		existing, err := s.invoices.GetByProviderCharge(ctx, tx, sub.Provider, charge.ChargeID)
		switch {
		case err == nil && existing != nil:
			outcome.Duplicate = true
			outcome.Invoice = existing
			return nil
		case err != nil && !errors.Is(err, domain.ErrInvoiceNotFound):
			return fmt.Errorf("look up charge %s: %w", charge.ChargeID, err)
		}

		now := s.clock.Now()
		plan, err := s.plan(ctx, tx, sub.PlanID)
		if err != nil {
			return err
		}

		if sub.Status.IsTerminal() {
			late = true
			inv, err := s.invoiceCharge(ctx, tx, sub, plan, charge, invoice.SourceRenewal, plan.Price, sub.CurrentPeriodStart, sub.CurrentPeriodEnd, fx)
			outcome.Invoice = inv
			return err
		}

		if u, ok := sub.PendingUpgrade(); ok && upgradeCorrelates(u, charge) {
			return s.completeUpgrade(ctx, tx, sub, u, charge, now, fx, outcome)
		}

		switch charge.Purpose {
		case models.PurposeUpgrade:
			// the upgrade was abandoned or already settled; keep the money on record
			late = true
			inv, err := s.invoiceCharge(ctx, tx, sub, plan, charge, invoice.SourceUpgrade, charge.Amount, now, sub.CurrentPeriodEnd, fx)
			outcome.Invoice = inv
			return err
		case models.PurposeReactivation:
			if sub.Status != models.SubscriptionStatusSuspended {
				late = true
				inv, err := s.invoiceCharge(ctx, tx, sub, plan, charge, invoice.SourceReactivation, plan.Price, sub.CurrentPeriodStart, sub.CurrentPeriodEnd, fx)
				outcome.Invoice = inv
				return err
			}
			return s.completeReactivation(ctx, tx, sub, plan, charge, now, fx, outcome)
		}

		source := invoice.SourceRenewal
		switch sub.Status {
		case models.SubscriptionStatusPending:
			source = invoice.SourceInitial
			if err := s.transition(sub, models.SubscriptionStatusActive, fx); err != nil {
				return err
			}
			if charge.PeriodStart != nil && charge.PeriodEnd != nil && charge.PeriodEnd.After(*charge.PeriodStart) {
				setPeriod(sub, *charge.PeriodStart, *charge.PeriodEnd)
			} else {
				sub.StartPeriod(now, plan.BillingCycle)
			}
			sub.StartDate = sub.CurrentPeriodStart
			sub.CheckoutURL = ""
			outcome.Activated = true
			fx.notify(models.Notification{
				Kind:     models.NotifySubscriptionActivated,
				PlanName: plan.Name,
				Amount:   plan.Price,
			})

		case models.SubscriptionStatusPastDue, models.SubscriptionStatusSuspended:
			sub.ResetRenewal()
			if err := s.transition(sub, models.SubscriptionStatusActive, fx); err != nil {
				return err
			}
			if plan, err = s.applyDueDowngrade(ctx, tx, sub, plan, now, fx); err != nil {
				return err
			}
			advancePeriod(sub, plan.BillingCycle, charge, now)

		case models.SubscriptionStatusActive:
			sub.ResetRenewal()
			opening, err := s.paysOpeningPeriod(ctx, tx, sub, charge, now)
			if err != nil {
				return err
			}
			if opening {
				// activated at creation; this charge pays for the first period
				source = invoice.SourceInitial
				break
			}
			if plan, err = s.applyDueDowngrade(ctx, tx, sub, plan, now, fx); err != nil {
				return err
			}
			advancePeriod(sub, plan.BillingCycle, charge, now)

		case models.SubscriptionStatusPaymentFailed:
			// no edge back to active; the tenant must subscribe again
			late = true
			source = invoice.SourceInitial
		}

		inv, err := s.invoiceCharge(ctx, tx, sub, plan, charge, source, plan.Price, sub.CurrentPeriodStart, sub.CurrentPeriodEnd, fx)
		if err != nil {
			return err
		}
		outcome.Invoice = inv
		fx.notify(models.Notification{
			Kind:     models.NotifyPaymentSucceeded,
			PlanName: plan.Name,
			Amount:   inv.Total,
			Invoice:  inv,
		})

		return s.save(ctx, tx, sub)
	})
	if err != nil {
		s.logger.Error("failed to apply charge",
			ports.String("subscription_id", subscriptionID),
			ports.String("charge_id", charge.ChargeID),
			ports.Err(err))
		return nil, err
	}
	outcome.Subscription = sub

	switch {
	case outcome.Duplicate:
		s.logger.Info("charge already recorded",
			ports.String("subscription_id", sub.ID),
			ports.String("charge_id", charge.ChargeID))
	case late:
		s.logger.Warn("charge recorded without a state change",
			ports.String("subscription_id", sub.ID),
			ports.String("status", string(sub.Status)),
			ports.String("charge_id", charge.ChargeID),
			ports.String("purpose", charge.Purpose))
	default:
		s.logger.Info("charge applied",
			ports.String("subscription_id", sub.ID),
			ports.String("charge_id", charge.ChargeID),
			ports.String("source", charge.Source),
			ports.String("status", string(sub.Status)),
			ports.Bool("upgrade_completed", outcome.UpgradeCompleted))
	}

	return outcome, nil
}

// upgradeCorrelates reports whether a charge pays for the in-flight upgrade
func upgradeCorrelates(u *models.PendingUpgrade, charge serviceports.ChargeConfirmation) bool {
	if !u.InProgress() {
		return false
	}
	return charge.Purpose == models.PurposeUpgrade ||
		(u.ChargeID != "" && u.ChargeID == charge.ChargeID) ||
		charge.Source == serviceports.SourceManual
}

func (s *Service) completeUpgrade(
	ctx context.Context,
	tx ports.DBTX,
	sub *models.Subscription,
	u *models.PendingUpgrade,
	charge serviceports.ChargeConfirmation,
	now time.Time,
	fx *effects,
	outcome *serviceports.ChargeOutcome,
) error {
	target, err := s.plan(ctx, tx, u.TargetPlanID)
	if err != nil {
		return err
	}

	amount := u.ProratedAmount
	swapPlan(sub, target)
	outcome.UpgradeCompleted = true

	start := now
	if start.Before(sub.CurrentPeriodStart) {
		start = sub.CurrentPeriodStart
	}
	inv, err := s.invoiceCharge(ctx, tx, sub, target, charge, invoice.SourceUpgrade, amount, start, sub.CurrentPeriodEnd, fx)
	if err != nil {
		return err
	}
	outcome.Invoice = inv

	fx.notify(models.Notification{
		Kind:     models.NotifyPlanUpgraded,
		PlanName: target.Name,
		Amount:   amount,
	})
	fx.notify(models.Notification{
		Kind:     models.NotifyPaymentSucceeded,
		PlanName: target.Name,
		Amount:   inv.Total,
		Invoice:  inv,
	})

	return s.save(ctx, tx, sub)
}

func (s *Service) completeReactivation(
	ctx context.Context,
	tx ports.DBTX,
	sub *models.Subscription,
	plan *models.Plan,
	charge serviceports.ChargeConfirmation,
	now time.Time,
	fx *effects,
	outcome *serviceports.ChargeOutcome,
) error {
	sub.ResetRenewal()
	if err := s.transition(sub, models.SubscriptionStatusActive, fx); err != nil {
		return err
	}
	sub.StartPeriod(now, plan.BillingCycle)
	sub.CheckoutURL = ""
	outcome.Activated = true

	inv, err := s.invoiceCharge(ctx, tx, sub, plan, charge, invoice.SourceReactivation, plan.Price, sub.CurrentPeriodStart, sub.CurrentPeriodEnd, fx)
	if err != nil {
		return err
	}
	outcome.Invoice = inv

	fx.notify(models.Notification{
		Kind:     models.NotifySubscriptionReactivated,
		PlanName: plan.Name,
		Amount:   plan.Price,
	})
	fx.notify(models.Notification{
		Kind:     models.NotifyPaymentSucceeded,
		PlanName: plan.Name,
		Amount:   inv.Total,
		Invoice:  inv,
	})

	return s.save(ctx, tx, sub)
}

// invoiceCharge records the invoice for a charge and queues its document
// paysOpeningPeriod reports whether charge settles the period a subscription
// was activated into: nothing is invoiced yet and the charge does not reach
// past the current period.
func (s *Service) paysOpeningPeriod(ctx context.Context, tx ports.DBTX, sub *models.Subscription, charge serviceports.ChargeConfirmation, now time.Time) (bool, error) {
	if !sub.CurrentPeriodEnd.After(now) {
		return false, nil
	}
	if charge.PeriodEnd != nil && charge.PeriodEnd.After(sub.CurrentPeriodEnd) {
		return false, nil
	}
	invoices, err := s.invoices.ListBySubscription(ctx, tx, sub.ID)
	if err != nil {
		return false, fmt.Errorf("list invoices: %w", err)
	}
	return len(invoices) == 0, nil
}

func (s *Service) invoiceCharge(
	ctx context.Context,
	tx ports.DBTX,
	sub *models.Subscription,
	plan *models.Plan,
	charge serviceports.ChargeConfirmation,
	source invoice.Source,
	amount decimal.Decimal,
	periodStart, periodEnd time.Time,
	fx *effects,
) (*models.Invoice, error) {
	md := map[string]string{}
	if charge.Source != "" {
		md["confirmed_by"] = charge.Source
	}
	if charge.EventID != "" {
		md["event_id"] = charge.EventID
	}
	if !charge.Amount.IsZero() && !charge.Amount.Equal(amount) {
		md["reported_amount"] = charge.Amount.StringFixed(2)
	}

	inv, err := s.recorder.Record(ctx, tx, invoice.RecordRequest{
		Subscription: sub,
		Plan:         plan,
		Amount:       amount,
		Currency:     charge.Currency,
		ChargeID:     charge.ChargeID,
		Source:       source,
		PeriodStart:  periodStart,
		PeriodEnd:    periodEnd,
		Metadata:     md,
	})
	if err != nil {
		return nil, err
	}
	fx.documents = append(fx.documents, inv)
	return inv, nil
}

// ApplyChargeFailed records a failed charge. A failed upgrade charge abandons
// the upgrade; a failed recurring charge marks the subscription past due.
func (s *Service) ApplyChargeFailed(ctx context.Context, subscriptionID string, charge serviceports.ChargeConfirmation) (*serviceports.ChargeFailureOutcome, error) {
	outcome := &serviceports.ChargeFailureOutcome{}

	sub, err := s.apply(ctx, subscriptionID, func(ctx context.Context, tx ports.DBTX, sub *models.Subscription, fx *effects) error {
		outcome.FromStatus = sub.Status

		if u, ok := sub.PendingUpgrade(); ok && u.InProgress() &&
			(charge.Purpose == models.PurposeUpgrade || (u.ChargeID != "" && u.ChargeID == charge.ChargeID)) {
			sub.PlanChange = nil
			outcome.UpgradeAbandoned = true
			fx.notify(models.Notification{
				Kind:   models.NotifyPaymentFailed,
				Amount: u.ProratedAmount,
				Reason: charge.FailureReason,
			})
			return s.save(ctx, tx, sub)
		}

		switch charge.Purpose {
		case models.PurposeUpgrade:
			return nil
		case models.PurposeReactivation:
			fx.notify(models.Notification{
				Kind:   models.NotifyPaymentFailed,
				Amount: charge.Amount,
				Reason: charge.FailureReason,
			})
			return nil
		}

		var to models.SubscriptionStatus
		switch sub.Status {
		case models.SubscriptionStatusPending:
			to = models.SubscriptionStatusPaymentFailed
		case models.SubscriptionStatusActive:
			to = models.SubscriptionStatusPastDue
		default:
			return nil
		}

		if err := s.transition(sub, to, fx); err != nil {
			return err
		}
		outcome.Transitioned = true
		fx.notify(models.Notification{
			Kind:   models.NotifyPaymentFailed,
			Amount: charge.Amount,
			Reason: charge.FailureReason,
		})
		return s.save(ctx, tx, sub)
	})
	if err != nil {
		return nil, err
	}
	outcome.Subscription = sub

	s.logger.Warn("charge failed",
		ports.String("subscription_id", sub.ID),
		ports.String("charge_id", charge.ChargeID),
		ports.String("reason", charge.FailureReason),
		ports.String("from", string(outcome.FromStatus)),
		ports.String("status", string(sub.Status)),
		ports.Bool("upgrade_abandoned", outcome.UpgradeAbandoned))

	return outcome, nil
}

// ApplyRemoteStatus reconciles the local state with the provider's. Moves
// the lifecycle graph does not allow are logged and skipped; a later remote
// period end is always adopted. An empty status only refreshes the period.
func (s *Service) ApplyRemoteStatus(ctx context.Context, subscriptionID string, status models.SubscriptionStatus, periodEnd *time.Time) (*models.Subscription, error) {
	return s.apply(ctx, subscriptionID, func(ctx context.Context, tx ports.DBTX, sub *models.Subscription, fx *effects) error {
		if sub.Status.IsTerminal() {
			return nil
		}

		changed := false
		if periodEnd != nil && periodEnd.After(sub.CurrentPeriodEnd) {
			setPeriod(sub, sub.CurrentPeriodEnd, *periodEnd)
			changed = true
		}

		from := sub.Status
		if status != "" && status != from {
			if !domain.CanTransition(from, status) {
				s.logger.Warn("ignoring remote status change",
					ports.String("subscription_id", sub.ID),
					ports.String("from", string(from)),
					ports.String("to", string(status)))
			} else {
				if err := s.transition(sub, status, fx); err != nil {
					return err
				}
				switch status {
				case models.SubscriptionStatusActive:
					if from == models.SubscriptionStatusPastDue || from == models.SubscriptionStatusSuspended {
						sub.ResetRenewal()
					}
				case models.SubscriptionStatusCancelled:
					if sub.Cancellation == nil {
						sub.Cancellation = &models.Cancellation{
							RequestedAt: s.clock.Now(),
							Reason:      "cancelled by provider",
							Immediate:   true,
						}
					}
					sub.PlanChange = nil
					sub.AutoRenew = false
				}
				if kind, ok := statusNotification(from, status); ok {
					fx.notify(models.Notification{Kind: kind})
				}
				changed = true
			}
		}

		if !changed {
			return nil
		}
		return s.save(ctx, tx, sub)
	})
}

// renewalDue reports whether a renewal attempt may run now
func (s *Service) renewalDue(sub *models.Subscription, now time.Time) bool {
	if sub.Status != models.SubscriptionStatusActive && sub.Status != models.SubscriptionStatusPastDue {
		return false
	}
	if !sub.AutoRenew || sub.CancelAtPeriodEnd() {
		return false
	}
	if sub.LastRenewalAttemptAt != nil && now.Sub(*sub.LastRenewalAttemptAt) < s.cfg.MinRetrySpacing {
		return false
	}
	return !sub.CurrentPeriodEnd.After(now.Add(s.cfg.RenewalLookahead))
}

// ApplyRenewalResult applies the remote verdict on a due renewal. Failures
// count toward the retry budget; exhausting it opens the grace period once.
func (s *Service) ApplyRenewalResult(ctx context.Context, subscriptionID string, result serviceports.RenewalResult) (*serviceports.RenewalOutcome, error) {
	outcome := &serviceports.RenewalOutcome{}

	sub, err := s.apply(ctx, subscriptionID, func(ctx context.Context, tx ports.DBTX, sub *models.Subscription, fx *effects) error {
		now := s.clock.Now()
		if !s.renewalDue(sub, now) {
			outcome.Skipped = true
			return nil
		}
		attempted := now
		sub.LastRenewalAttemptAt = &attempted

		plan, err := s.plan(ctx, tx, sub.PlanID)
		if err != nil {
			return err
		}

		if result.Success {
			sub.ResetRenewal()
			if sub.Status == models.SubscriptionStatusPastDue {
				if err := s.transition(sub, models.SubscriptionStatusActive, fx); err != nil {
					return err
				}
			}
			if plan, err = s.applyDueDowngrade(ctx, tx, sub, plan, now, fx); err != nil {
				return err
			}

			oldEnd := sub.CurrentPeriodEnd
			if result.RemotePeriodEnd != nil && result.RemotePeriodEnd.After(oldEnd) {
				setPeriod(sub, oldEnd, *result.RemotePeriodEnd)
			} else {
				sub.StartPeriod(oldEnd, plan.BillingCycle)
			}
			outcome.Renewed = true
			return s.save(ctx, tx, sub)
		}

		sub.RenewalAttempts++
		outcome.Attempt = sub.RenewalAttempts
		if sub.Status == models.SubscriptionStatusActive {
			if err := s.transition(sub, models.SubscriptionStatusPastDue, fx); err != nil {
				return err
			}
		}

		switch {
		case sub.RenewalAttempts >= s.cfg.MaxRenewalAttempts && sub.GracePeriodEnd == nil:
			grace := now.Add(s.cfg.GracePeriod)
			sub.GracePeriodEnd = &grace
			outcome.EnteredGrace = true
			fx.notify(models.Notification{
				Kind:        models.NotifyGracePeriodStarted,
				PlanName:    plan.Name,
				Amount:      plan.Price,
				DueDate:     &grace,
				Reason:      result.Reason,
				Attempt:     sub.RenewalAttempts,
				MaxAttempts: s.cfg.MaxRenewalAttempts,
			})
		case sub.RenewalAttempts < s.cfg.MaxRenewalAttempts:
			fx.notify(models.Notification{
				Kind:        models.NotifyRenewalFailed,
				PlanName:    plan.Name,
				Amount:      plan.Price,
				Reason:      result.Reason,
				Attempt:     sub.RenewalAttempts,
				MaxAttempts: s.cfg.MaxRenewalAttempts,
			})
		}

		return s.save(ctx, tx, sub)
	})
	if err != nil {
		return nil, err
	}
	outcome.Subscription = sub

	switch {
	case outcome.Skipped:
	case outcome.Renewed:
		s.logger.Info("subscription renewed",
			ports.String("subscription_id", sub.ID),
			ports.Time("period_end", sub.CurrentPeriodEnd))
	default:
		s.logger.Warn("renewal failed",
			ports.String("subscription_id", sub.ID),
			ports.Int("attempt", outcome.Attempt),
			ports.String("reason", result.Reason),
			ports.Bool("entered_grace", outcome.EnteredGrace))
	}

	return outcome, nil
}

// ExpireGracePeriod suspends a past-due subscription whose grace period has ended
func (s *Service) ExpireGracePeriod(ctx context.Context, subscriptionID string) (*models.Subscription, bool, error) {
	suspended := false

	sub, err := s.apply(ctx, subscriptionID, func(ctx context.Context, tx ports.DBTX, sub *models.Subscription, fx *effects) error {
		if sub.Status != models.SubscriptionStatusPastDue || sub.GracePeriodEnd == nil {
			return nil
		}
		if !s.clock.Now().After(*sub.GracePeriodEnd) {
			return nil
		}

		if err := s.transition(sub, models.SubscriptionStatusSuspended, fx); err != nil {
			return err
		}
		suspended = true
		fx.notify(models.Notification{
			Kind:   models.NotifySubscriptionSuspended,
			Reason: "grace period ended without payment",
		})
		return s.save(ctx, tx, sub)
	})
	if err != nil {
		return nil, false, err
	}

	return sub, suspended, nil
}

// RollOverPeriod settles what is due at a lapsed period boundary: deferred
// cancellations, scheduled downgrades and non-renewing expiry. A downgrade
// opens the cheaper plan's first period in the same transaction; otherwise
// opening the next period is left to the renewal check.
func (s *Service) RollOverPeriod(ctx context.Context, subscriptionID string) (*models.Subscription, serviceports.RolloverAction, error) {
	action := serviceports.RolloverNone

	sub, err := s.apply(ctx, subscriptionID, func(ctx context.Context, tx ports.DBTX, sub *models.Subscription, fx *effects) error {
		now := s.clock.Now()
		if sub.CurrentPeriodEnd.After(now) {
			return nil
		}
		renewing := sub.Status == models.SubscriptionStatusActive || sub.Status == models.SubscriptionStatusPastDue

		switch {
		case renewing && sub.CancelAtPeriodEnd():
			if err := s.transition(sub, models.SubscriptionStatusCancelled, fx); err != nil {
				return err
			}
			sub.PlanChange = nil
			sub.EndDate = sub.CurrentPeriodEnd
			action = serviceports.RolloverCancelled
			fx.notify(models.Notification{
				Kind:   models.NotifySubscriptionCancelled,
				Reason: sub.Cancellation.Reason,
			})

		case renewing && hasDowngrade(sub):
			plan, err := s.plan(ctx, tx, sub.PlanID)
			if err != nil {
				return err
			}
			next, err := s.applyDueDowngrade(ctx, tx, sub, plan, now, fx)
			if err != nil {
				return err
			}
			if next.ID == plan.ID {
				return nil
			}
			sub.StartPeriod(sub.CurrentPeriodEnd, next.BillingCycle)
			action = serviceports.RolloverDowngraded

		case sub.Status == models.SubscriptionStatusActive && !sub.AutoRenew:
			if err := s.transition(sub, models.SubscriptionStatusExpired, fx); err != nil {
				return err
			}
			sub.EndDate = sub.CurrentPeriodEnd
			action = serviceports.RolloverExpired
			fx.notify(models.Notification{Kind: models.NotifySubscriptionExpired})

		default:
			return nil
		}

		return s.save(ctx, tx, sub)
	})
	if err != nil {
		return nil, "", err
	}

	if action != serviceports.RolloverNone {
		s.logger.Info("period rolled over",
			ports.String("subscription_id", sub.ID),
			ports.String("action", string(action)),
			ports.String("plan_id", sub.PlanID))
	}

	return sub, action, nil
}

func hasDowngrade(sub *models.Subscription) bool {
	_, ok := sub.ScheduledDowngrade()
	return ok
}

// applyDueDowngrade swaps to the scheduled cheaper plan once its effective
// date has passed and returns the plan now in force
func (s *Service) applyDueDowngrade(ctx context.Context, tx ports.DBTX, sub *models.Subscription, current *models.Plan, now time.Time, fx *effects) (*models.Plan, error) {
	d, ok := sub.ScheduledDowngrade()
	if !ok || d.EffectiveDate.After(now) {
		return current, nil
	}

	target, err := s.plan(ctx, tx, d.TargetPlanID)
	if err != nil {
		return nil, err
	}

	swapPlan(sub, target)
	fx.resetQuota = true
	fx.notify(models.Notification{
		Kind:     models.NotifyPlanDowngraded,
		PlanName: target.Name,
		Amount:   target.Price,
	})
	return target, nil
}

// SendRenewalReminder queues the reminder for a threshold once per period.
// Sending a threshold also marks every larger one so a late scan does not
// send stale reminders.
func (s *Service) SendRenewalReminder(ctx context.Context, subscriptionID string, daysBefore int) (bool, error) {
	sent := false

	_, err := s.apply(ctx, subscriptionID, func(ctx context.Context, tx ports.DBTX, sub *models.Subscription, fx *effects) error {
		if sub.Status != models.SubscriptionStatusActive || !sub.AutoRenew || sub.CancelAtPeriodEnd() {
			return nil
		}
		if sub.RemindersSent.Has(daysBefore) {
			return nil
		}

		now := s.clock.Now()
		daysLeft := timeutil.CeilDays(now, sub.CurrentPeriodEnd)
		if daysLeft <= 0 {
			return nil
		}

		plan, err := s.plan(ctx, tx, sub.PlanID)
		if err != nil {
			return err
		}

		sub.RemindersSent = sub.RemindersSent.With(daysBefore)
		for _, t := range s.cfg.ReminderThresholds {
			if t > daysBefore {
				sub.RemindersSent = sub.RemindersSent.With(t)
			}
		}

		due := sub.CurrentPeriodEnd
		fx.notify(models.Notification{
			Kind:     models.NotifyRenewalReminder,
			PlanName: plan.Name,
			Amount:   plan.Price,
			DueDate:  &due,
			DaysLeft: daysLeft,
		})
		sent = true
		return s.save(ctx, tx, sub)
	})
	if err != nil {
		return false, err
	}

	return sent, nil
}

// setPeriod adopts an explicit period and clears per-period bookkeeping
func setPeriod(sub *models.Subscription, start, end time.Time) {
	sub.CurrentPeriodStart = start
	sub.CurrentPeriodEnd = end
	sub.EndDate = end
	sub.RemindersSent = nil
}

// advancePeriod opens the period a recurring charge paid for. A later period
// reported with the charge wins; otherwise the period advances one cycle only
// once it has lapsed, so a repeated confirmation never extends it twice.
func advancePeriod(sub *models.Subscription, cycle models.BillingCycle, charge serviceports.ChargeConfirmation, now time.Time) {
	if charge.PeriodEnd != nil && charge.PeriodEnd.After(sub.CurrentPeriodEnd) {
		start := sub.CurrentPeriodEnd
		if charge.PeriodStart != nil && charge.PeriodStart.Before(*charge.PeriodEnd) {
			start = *charge.PeriodStart
		}
		setPeriod(sub, start, *charge.PeriodEnd)
		return
	}
	if sub.CurrentPeriodEnd.After(now) {
		return
	}

	from := sub.CurrentPeriodEnd
	if !cycle.AddTo(from).After(now) {
		// lapsed for more than a cycle; restart from today
		from = now
	}
	sub.StartPeriod(from, cycle)
}
