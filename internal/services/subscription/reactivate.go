package subscription

import (
	"context"
	"fmt"

	"github.com/kevin07696/subscription-service/internal/domain"
	"github.com/kevin07696/subscription-service/internal/domain/models"
	"github.com/kevin07696/subscription-service/internal/domain/ports"
	serviceports "github.com/kevin07696/subscription-service/internal/services/ports"
)

// ReactivateSubscription charges the outstanding balance of a suspended
// subscription. A synchronously confirmed charge reactivates it at once;
// otherwise it stays suspended until the gateway confirms the payment.
func (s *Service) ReactivateSubscription(ctx context.Context, req serviceports.ReactivateSubscriptionRequest) (*models.Subscription, error) {
	sub, err := s.GetSubscription(ctx, req.SubscriptionID, req.TenantID)
	if err != nil {
		return nil, err
	}
	if sub.Status != models.SubscriptionStatusSuspended {
		return nil, domain.NewInvalidTransition(fmt.Sprintf("only suspended subscriptions can be reactivated (status %s)", sub.Status)).
			WithDetail("subscription_id", sub.ID)
	}

	plan, err := s.plan(ctx, nil, sub.PlanID)
	if err != nil {
		return nil, err
	}

	gw, err := s.gateway(sub.Provider)
	if err != nil {
		return nil, err
	}

	method := req.PaymentMethod
	if method == "" {
		method = sub.PaymentMethodToken
	}

	result, err := gw.ChargeOneTime(ctx, ports.OneTimeChargeRequest{
		Amount:        plan.Price,
		Currency:      sub.Currency,
		CustomerRef:   sub.GatewayCustomerID,
		Email:         sub.CustomerEmail,
		PaymentMethod: method,
		Description:   fmt.Sprintf("%s outstanding balance", plan.Name),
		Metadata:      chargeMetadata(sub, models.PurposeReactivation, ""),
	})
	if err != nil {
		gwErr := gatewayError(err)
		s.logger.Warn("reactivation charge failed",
			ports.String("subscription_id", sub.ID),
			ports.Err(gwErr))
		return nil, gwErr
	}

	if result.Confirmed {
		outcome, err := s.ApplyChargeSucceeded(ctx, sub.ID, serviceports.ChargeConfirmation{
			Provider: sub.Provider,
			ChargeID: result.TransactionID,
			Amount:   plan.Price,
			Currency: sub.Currency,
			Purpose:  models.PurposeReactivation,
			Source:   serviceports.SourceSynchronous,
		})
		if err != nil {
			return nil, err
		}
		if req.PaymentMethod == "" || outcome.Subscription.PaymentMethodToken == req.PaymentMethod {
			return outcome.Subscription, nil
		}
		return s.storePaymentMethod(ctx, sub.ID, req.PaymentMethod, "")
	}

	s.logger.Info("reactivation awaiting payment confirmation",
		ports.String("subscription_id", sub.ID),
		ports.String("charge_id", result.TransactionID))

	return s.storePaymentMethod(ctx, sub.ID, req.PaymentMethod, result.CheckoutURL)
}

// storePaymentMethod saves a new payment token and checkout link when given
func (s *Service) storePaymentMethod(ctx context.Context, subscriptionID, token, checkoutURL string) (*models.Subscription, error) {
	return s.apply(ctx, subscriptionID, func(ctx context.Context, tx ports.DBTX, sub *models.Subscription, fx *effects) error {
		if token == "" && checkoutURL == "" {
			return nil
		}
		if token != "" {
			sub.PaymentMethodToken = token
		}
		if checkoutURL != "" {
			sub.CheckoutURL = checkoutURL
		}
		return s.save(ctx, tx, sub)
	})
}
