package subscription

import (
	"context"
	"fmt"
	"slices"

	"github.com/kevin07696/subscription-service/internal/domain"
	"github.com/kevin07696/subscription-service/internal/domain/models"
	"github.com/kevin07696/subscription-service/internal/domain/ports"
	serviceports "github.com/kevin07696/subscription-service/internal/services/ports"
)

var errUsageUntracked = domain.NewDomainError(domain.ErrorCodeInternalError, "usage tracking is not configured")

// ReportUsage stores the tenant's counters and checks them against the live
// subscription's caps. Each exceeded resource is warned about once until the
// warnings are reset by a plan change.
func (s *Service) ReportUsage(ctx context.Context, req serviceports.ReportUsageRequest) (*serviceports.UsageReport, error) {
	if req.TenantID == "" {
		return nil, domain.NewValidationError("tenant_id is required")
	}
	if len(req.Usage) == 0 {
		return nil, domain.NewValidationError("usage must name at least one resource")
	}
	for res, n := range req.Usage {
		if !slices.Contains(models.Resources, res) {
			return nil, domain.NewValidationError(fmt.Sprintf("unknown resource %q", res))
		}
		if n < 0 {
			return nil, domain.NewValidationError(fmt.Sprintf("%s usage cannot be negative", res.Label()))
		}
	}

	if s.usage == nil {
		return nil, errUsageUntracked
	}
	if err := s.usage.ReportUsage(ctx, req.TenantID, req.Usage); err != nil {
		return nil, fmt.Errorf("store tenant usage: %w", err)
	}

	report, err := s.GetUsage(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}

	for _, v := range report.Violations {
		first, err := s.usage.RecordQuotaWarning(ctx, req.TenantID, v.Resource)
		if err != nil {
			s.logger.Warn("failed to record quota warning",
				ports.String("tenant_id", req.TenantID),
				ports.String("resource", string(v.Resource)),
				ports.Err(err))
			continue
		}
		if !first {
			continue
		}
		report.NewWarnings = append(report.NewWarnings, v.Resource)
		s.logger.Warn("tenant exceeds plan quota",
			ports.String("tenant_id", req.TenantID),
			ports.String("subscription_id", report.SubscriptionID),
			ports.String("resource", string(v.Resource)),
			ports.Int("used", int(v.Used)),
			ports.Int("limit", int(v.Limit)))
	}
	return report, nil
}

// GetUsage returns the tenant's last reported counters. Violations are only
// computed while the tenant has a live subscription.
func (s *Service) GetUsage(ctx context.Context, tenantID string) (*serviceports.UsageReport, error) {
	if tenantID == "" {
		return nil, domain.NewValidationError("tenant_id is required")
	}
	if s.usage == nil {
		return nil, errUsageUntracked
	}

	usage, err := s.usage.Usage(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load tenant usage: %w", err)
	}
	report := &serviceports.UsageReport{
		TenantID:   tenantID,
		Usage:      usage,
		Violations: []models.QuotaViolation{},
	}

	subs, err := s.subs.ListByTenant(ctx, nil, tenantID)
	if err != nil {
		return nil, err
	}
	for _, sub := range subs {
		if sub.Status.IsTerminal() {
			continue
		}
		limits := sub.Entitlements
		report.SubscriptionID = sub.ID
		report.Limits = &limits
		if v := usage.Violations(limits); v != nil {
			report.Violations = v
		}
		break
	}
	return report, nil
}
