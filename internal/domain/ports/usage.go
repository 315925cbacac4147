package ports

import (
	"context"

	"github.com/kevin07696/subscription-service/internal/domain/models"
)

// UsageTracker stores tenant resource consumption and quota-warning state.
// The product side reports counters; billing only reads them.
type UsageTracker interface {
	// Usage returns the tenant's last reported counters; unknown tenants have none
	Usage(ctx context.Context, tenantID string) (models.Usage, error)

	// ReportUsage overwrites the counters named in usage and leaves the others
	ReportUsage(ctx context.Context, tenantID string, usage models.Usage) error

	// RecordQuotaWarning marks resource as warned, returning false when it
	// already was since the last reset
	RecordQuotaWarning(ctx context.Context, tenantID string, resource models.Resource) (bool, error)

	// ResetQuotaWarnings clears every warning of the tenant
	ResetQuotaWarnings(ctx context.Context, tenantID string) error
}
