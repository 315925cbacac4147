package subscription

import (
	"context"
	"fmt"
	"strings"

	"github.com/kevin07696/subscription-service/internal/domain"
	"github.com/kevin07696/subscription-service/internal/domain/models"
	"github.com/kevin07696/subscription-service/internal/domain/ports"
	serviceports "github.com/kevin07696/subscription-service/internal/services/ports"
)

// ApplyCoupon records a discount code on the subscription. The discount is
// informational here; charge amounts are left to the provider.
func (s *Service) ApplyCoupon(ctx context.Context, req serviceports.ApplyCouponRequest) (*models.Subscription, error) {
	code := strings.ToUpper(strings.TrimSpace(req.Code))
	if code == "" {
		return nil, domain.NewValidationError("coupon code is required")
	}

	coupon, ok := s.cfg.Coupons[code]
	if !ok {
		return nil, domain.NewValidationError("invalid coupon code").WithDetail("code", code)
	}

	sub, err := s.apply(ctx, req.SubscriptionID, func(ctx context.Context, tx ports.DBTX, sub *models.Subscription, fx *effects) error {
		if err := checkTenant(sub, req.TenantID); err != nil {
			return err
		}
		if sub.Status.IsTerminal() {
			return domain.NewInvalidTransition(fmt.Sprintf("cannot apply a coupon to a %s subscription", sub.Status)).
				WithDetail("subscription_id", sub.ID)
		}

		sub.Discount = &models.Discount{
			AppliedAt: s.clock.Now(),
			Code:      code,
			Type:      coupon.Type,
			Value:     coupon.Value,
		}
		return s.save(ctx, tx, sub)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("coupon applied",
		ports.String("subscription_id", sub.ID),
		ports.String("code", code))

	return sub, nil
}
