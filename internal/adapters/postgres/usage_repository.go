package postgres

import (
	"context"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kevin07696/subscription-service/internal/domain/models"
	"github.com/kevin07696/subscription-service/internal/domain/ports"
)

// UsageRepository implements ports.UsageTracker on the tenant_usage table.
// Warning state lives beside each counter in warned_at.
type UsageRepository struct {
	pool *pgxpool.Pool
}

var _ ports.UsageTracker = (*UsageRepository)(nil)

// NewUsageRepository creates a usage repository
func NewUsageRepository(db *DBExecutor) *UsageRepository {
	return &UsageRepository{pool: db.GetDB()}
}

// Usage returns the tenant's counters
func (r *UsageRepository) Usage(ctx context.Context, tenantID string) (models.Usage, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT resource, quantity FROM tenant_usage WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("query usage: %w", err)
	}
	defer rows.Close()

	usage := models.Usage{}
	for rows.Next() {
		var (
			resource string
			quantity int64
		)
		if err := rows.Scan(&resource, &quantity); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		usage[models.Resource(resource)] = quantity
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate usage: %w", err)
	}
	return usage, nil
}

// ReportUsage upserts every reported counter in one statement
func (r *UsageRepository) ReportUsage(ctx context.Context, tenantID string, usage models.Usage) error {
	if len(usage) == 0 {
		return nil
	}

	resources := make([]string, 0, len(usage))
	for res := range usage {
		resources = append(resources, string(res))
	}
	sort.Strings(resources)
	quantities := make([]int64, len(resources))
	for i, res := range resources {
		quantities[i] = usage[models.Resource(res)]
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO tenant_usage (tenant_id, resource, quantity, reported_at)
		SELECT $1, u.resource, u.quantity, NOW()
		FROM unnest($2::text[], $3::bigint[]) AS u(resource, quantity)
		ON CONFLICT (tenant_id, resource) DO UPDATE
		SET quantity = EXCLUDED.quantity, reported_at = EXCLUDED.reported_at`,
		tenantID, resources, quantities)
	if err != nil {
		return fmt.Errorf("report usage: %w", err)
	}
	return nil
}

// RecordQuotaWarning sets warned_at unless it is already set. A resource
// never reported has no row and cannot be warned.
func (r *UsageRepository) RecordQuotaWarning(ctx context.Context, tenantID string, resource models.Resource) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE tenant_usage SET warned_at = NOW()
		WHERE tenant_id = $1 AND resource = $2 AND warned_at IS NULL`,
		tenantID, string(resource))
	if err != nil {
		return false, fmt.Errorf("record quota warning: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ResetQuotaWarnings clears warned_at on all of the tenant's counters
func (r *UsageRepository) ResetQuotaWarnings(ctx context.Context, tenantID string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE tenant_usage SET warned_at = NULL WHERE tenant_id = $1 AND warned_at IS NOT NULL`, tenantID)
	if err != nil {
		return fmt.Errorf("reset quota warnings: %w", err)
	}
	return nil
}
