package subscription

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/kevin07696/subscription-service/internal/domain"
	"github.com/kevin07696/subscription-service/internal/domain/models"
	"github.com/kevin07696/subscription-service/internal/domain/ports"
	serviceports "github.com/kevin07696/subscription-service/internal/services/ports"
)

// CreateSubscription creates a pending subscription, supersedes any prior
// non-terminal subscription of the tenant, and starts the recurring charge
// with the provider. With a stored payment method an active remote status
// activates the subscription at once; otherwise activation waits for the
// gateway's confirmation.
func (s *Service) CreateSubscription(ctx context.Context, req serviceports.CreateSubscriptionRequest) (*models.Subscription, error) {
	if err := validateCreate(req); err != nil {
		return nil, err
	}

	plan, err := s.plan(ctx, nil, req.PlanID)
	if err != nil {
		return nil, err
	}
	if !plan.Active {
		return nil, domain.NewValidationError(fmt.Sprintf("plan %s is not available", plan.ID))
	}

	gw, err := s.gateway(req.Provider)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	autoRenew := true
	if req.AutoRenew != nil {
		autoRenew = *req.AutoRenew
	}

	sub := &models.Subscription{
		ID:                 uuid.New().String(),
		TenantID:           req.TenantID,
		PlanID:             plan.ID,
		CustomerEmail:      req.Email,
		Currency:           plan.Currency,
		Provider:           req.Provider,
		PaymentMethodToken: req.PaymentMethod,
		Status:             models.SubscriptionStatusPending,
		Entitlements:       plan.Limits,
		AutoRenew:          autoRenew,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	sub.StartPeriod(now, plan.BillingCycle)

	superseded, err := s.insertPending(ctx, sub)
	if err != nil {
		s.logger.Error("create subscription failed",
			ports.String("tenant_id", req.TenantID),
			ports.String("plan_id", req.PlanID),
			ports.Err(err))
		return nil, err
	}
	for _, old := range superseded {
		s.cancelRemote(ctx, old)
	}

	result, err := gw.CreateSubscription(ctx, ports.CreateRecurringRequest{
		TenantID:       sub.TenantID,
		SubscriptionID: sub.ID,
		PlanID:         plan.ID,
		PriceRef:       plan.PriceRef(req.Provider),
		Amount:         plan.Price,
		Currency:       plan.Currency,
		Cycle:          plan.BillingCycle,
		Email:          req.Email,
		PaymentMethod:  req.PaymentMethod,
	})
	if err != nil {
		return nil, s.failCreation(ctx, sub.ID, plan, gatewayError(err))
	}

	updated, err := s.apply(ctx, sub.ID, func(ctx context.Context, tx ports.DBTX, cur *models.Subscription, fx *effects) error {
		if cur.Status.IsTerminal() {
			return domain.NewInvalidTransition("subscription was superseded before the gateway confirmed it").
				WithDetail("subscription_id", cur.ID)
		}

		cur.GatewaySubscriptionID = result.GatewaySubscriptionID
		cur.GatewayCustomerID = result.GatewayCustomerID
		cur.CheckoutURL = result.CheckoutURL

		remote, _ := domain.MapRemoteStatus(req.Provider, result.RemoteStatus)
		if req.PaymentMethod != "" && remote == models.SubscriptionStatusActive && cur.Status == models.SubscriptionStatusPending {
			if err := s.transition(cur, models.SubscriptionStatusActive, fx); err != nil {
				return err
			}
			fx.notify(models.Notification{
				Kind:     models.NotifySubscriptionActivated,
				PlanName: plan.Name,
				Amount:   plan.Price,
			})
		}

		return s.save(ctx, tx, cur)
	})
	if err != nil {
		if domain.IsDomainError(err, domain.ErrorCodeInvalidTransition) {
			orphan := sub.Clone()
			orphan.GatewaySubscriptionID = result.GatewaySubscriptionID
			s.cancelRemote(ctx, orphan)
		}
		s.logger.Error("failed to store gateway linkage",
			ports.String("subscription_id", sub.ID),
			ports.String("gateway_subscription_id", result.GatewaySubscriptionID),
			ports.Err(err))
		return nil, err
	}

	s.logger.Info("subscription created",
		ports.String("subscription_id", updated.ID),
		ports.String("tenant_id", updated.TenantID),
		ports.String("plan_id", updated.PlanID),
		ports.String("provider", string(updated.Provider)),
		ports.String("status", string(updated.Status)),
		ports.Time("period_end", updated.CurrentPeriodEnd))

	return updated, nil
}

func validateCreate(req serviceports.CreateSubscriptionRequest) error {
	var missing []string
	if req.TenantID == "" {
		missing = append(missing, "tenant_id")
	}
	if req.PlanID == "" {
		missing = append(missing, "plan_id")
	}
	if req.Email == "" {
		missing = append(missing, "email")
	}
	if len(missing) > 0 {
		return domain.NewValidationError("missing required fields: " + strings.Join(missing, ", "))
	}
	if !req.Provider.IsValid() {
		return domain.NewValidationError(fmt.Sprintf("unsupported provider %q", req.Provider))
	}
	return nil
}

// insertPending cancels the tenant's non-terminal subscriptions and inserts
// sub, all under the tenant lock so concurrent creates cannot both survive.
func (s *Service) insertPending(ctx context.Context, sub *models.Subscription) ([]*models.Subscription, error) {
	unlock, err := s.lock(ctx, tenantLockKey(sub.TenantID))
	if err != nil {
		return nil, fmt.Errorf("lock tenant %s: %w", sub.TenantID, err)
	}
	defer unlock()

	existing, err := s.subs.ListByTenant(ctx, nil, sub.TenantID)
	if err != nil {
		return nil, fmt.Errorf("list tenant subscriptions: %w", err)
	}

	var superseded []*models.Subscription
	for _, old := range existing {
		if old.Status.IsTerminal() {
			continue
		}

		reason := fmt.Sprintf("superseded by subscription %s", sub.ID)
		cancelled, err := s.apply(ctx, old.ID, func(ctx context.Context, tx ports.DBTX, cur *models.Subscription, fx *effects) error {
			if cur.Status.IsTerminal() {
				return nil
			}
			s.markCancelled(cur, reason, fx)
			if err := s.transition(cur, models.SubscriptionStatusCancelled, fx); err != nil {
				return err
			}
			return s.save(ctx, tx, cur)
		})
		if err != nil {
			return nil, fmt.Errorf("supersede subscription %s: %w", old.ID, err)
		}
		superseded = append(superseded, cancelled)
	}

	err = s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		dbtx := ports.Executor(tx)
		if err := s.subs.Create(ctx, dbtx, sub); err != nil {
			return fmt.Errorf("create subscription: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return superseded, nil
}

// failCreation records a declined initial charge and returns the gateway error
func (s *Service) failCreation(ctx context.Context, subscriptionID string, plan *models.Plan, gwErr error) error {
	_, err := s.apply(ctx, subscriptionID, func(ctx context.Context, tx ports.DBTX, cur *models.Subscription, fx *effects) error {
		if cur.Status != models.SubscriptionStatusPending {
			return nil
		}
		if err := s.transition(cur, models.SubscriptionStatusPaymentFailed, fx); err != nil {
			return err
		}
		fx.notify(models.Notification{
			Kind:     models.NotifyPaymentFailed,
			PlanName: plan.Name,
			Amount:   plan.Price,
			Reason:   gwErr.Error(),
		})
		return s.save(ctx, tx, cur)
	})
	if err != nil {
		s.logger.Error("failed to record declined initial charge",
			ports.String("subscription_id", subscriptionID),
			ports.Err(err))
	}

	s.logger.Warn("gateway rejected subscription",
		ports.String("subscription_id", subscriptionID),
		ports.String("plan_id", plan.ID),
		ports.Err(gwErr))
	return gwErr
}
