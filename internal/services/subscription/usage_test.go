package subscription

import (
	"context"
	"testing"

	"github.com/kevin07696/subscription-service/internal/domain"
	"github.com/kevin07696/subscription-service/internal/domain/models"
	serviceports "github.com/kevin07696/subscription-service/internal/services/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportUsage_WarnsOncePerResourceUntilReset(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sub := env.activeSubscription(t, "starter-monthly")

	report, err := env.svc.ReportUsage(ctx, serviceports.ReportUsageRequest{
		TenantID: testTenant,
		Usage:    models.Usage{models.ResourceUsers: 6, models.ResourceContacts: 200},
	})
	require.NoError(t, err)
	assert.Equal(t, sub.ID, report.SubscriptionID)
	require.NotNil(t, report.Limits)
	require.Len(t, report.Violations, 1)
	assert.Equal(t, models.ResourceUsers, report.Violations[0].Resource)
	assert.Equal(t, []models.Resource{models.ResourceUsers}, report.NewWarnings)
	assert.True(t, env.logger.HasMessage("tenant exceeds plan quota"))

	// a partial report keeps the other counters and does not warn again
	report, err = env.svc.ReportUsage(ctx, serviceports.ReportUsageRequest{
		TenantID: testTenant,
		Usage:    models.Usage{models.ResourceContacts: 300},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(6), report.Usage[models.ResourceUsers])
	assert.Equal(t, int64(300), report.Usage[models.ResourceContacts])
	assert.Len(t, report.Violations, 1)
	assert.Empty(t, report.NewWarnings)

	require.NoError(t, env.usage.ResetQuotaWarnings(ctx, testTenant))
	report, err = env.svc.ReportUsage(ctx, serviceports.ReportUsageRequest{
		TenantID: testTenant,
		Usage:    models.Usage{models.ResourceUsers: 7},
	})
	require.NoError(t, err)
	assert.Equal(t, []models.Resource{models.ResourceUsers}, report.NewWarnings)
}

func TestReportUsage_FeedsDowngradeCheck(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sub := env.activeSubscription(t, "growth-monthly")

	_, err := env.svc.ReportUsage(ctx, serviceports.ReportUsageRequest{
		TenantID: testTenant,
		Usage:    models.Usage{models.ResourceUsers: 6},
	})
	require.NoError(t, err)

	_, err = env.svc.DowngradePlan(ctx, serviceports.PlanChangeRequest{
		SubscriptionID: sub.ID,
		TenantID:       testTenant,
		TargetPlanID:   "starter-monthly",
	})
	require.Error(t, err)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeQuotaExceeded))
	assert.Contains(t, err.Error(), "Users")
}

func TestReportUsage_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  serviceports.ReportUsageRequest
	}{
		{"missing tenant", serviceports.ReportUsageRequest{Usage: models.Usage{models.ResourceUsers: 1}}},
		{"empty usage", serviceports.ReportUsageRequest{TenantID: testTenant}},
		{"unknown resource", serviceports.ReportUsageRequest{TenantID: testTenant, Usage: models.Usage{"seats": 1}}},
		{"negative counter", serviceports.ReportUsageRequest{TenantID: testTenant, Usage: models.Usage{models.ResourceFlows: -1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.ReportUsage(ctx, tt.req)
			require.Error(t, err)
			assert.True(t, domain.IsDomainError(err, domain.ErrorCodeValidationFailed))
		})
	}
}

func TestGetUsage_WithoutLiveSubscription(t *testing.T) {
	env := newTestEnv(t)
	env.usage.Set(testTenant, models.Usage{models.ResourceUsers: 50})

	report, err := env.svc.GetUsage(context.Background(), testTenant)
	require.NoError(t, err)
	assert.Empty(t, report.SubscriptionID)
	assert.Nil(t, report.Limits)
	assert.Empty(t, report.Violations)
	assert.Equal(t, int64(50), report.Usage[models.ResourceUsers])
}
