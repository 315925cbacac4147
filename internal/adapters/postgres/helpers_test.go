package postgres

import (
	"testing"
	"time"

	"github.com/kevin07696/subscription-service/internal/domain/models"
	"github.com/kevin07696/subscription-service/internal/domain/ports"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanChangeEncoding(t *testing.T) {
	at := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)

	t.Run("nil stays NULL", func(t *testing.T) {
		raw, err := encodePlanChange(nil)
		require.NoError(t, err)
		assert.Nil(t, raw)

		pc, err := decodePlanChange(nil)
		require.NoError(t, err)
		assert.Nil(t, pc)
	})

	t.Run("upgrade", func(t *testing.T) {
		up := &models.PendingUpgrade{
			InitiatedAt:    at,
			ProratedAmount: decimal.RequireFromString("67.74"),
			TargetPlanID:   "growth-monthly",
			ChargeID:       "pi_1",
			Status:         models.UpgradeStatusPendingPayment,
		}
		raw, err := encodePlanChange(up)
		require.NoError(t, err)
		assert.Contains(t, string(raw), `"kind":"upgrade"`)

		pc, err := decodePlanChange(raw)
		require.NoError(t, err)
		got, ok := pc.(*models.PendingUpgrade)
		require.True(t, ok)
		assert.Equal(t, "growth-monthly", got.TargetPlanID)
		assert.True(t, got.ProratedAmount.Equal(up.ProratedAmount))
		assert.True(t, got.InProgress())
	})

	t.Run("downgrade", func(t *testing.T) {
		raw, err := encodePlanChange(&models.ScheduledDowngrade{EffectiveDate: at, TargetPlanID: "starter-monthly"})
		require.NoError(t, err)

		pc, err := decodePlanChange(raw)
		require.NoError(t, err)
		got, ok := pc.(*models.ScheduledDowngrade)
		require.True(t, ok)
		assert.True(t, got.EffectiveDate.Equal(at))
	})

	t.Run("unknown kind", func(t *testing.T) {
		_, err := decodePlanChange([]byte(`{"kind":"sidegrade"}`))
		assert.Error(t, err)
	})
}

func TestNumericRoundTrip(t *testing.T) {
	for _, s := range []string{"0", "49.00", "44.10", "1490.99"} {
		n, err := decimalToNumeric(decimal.RequireFromString(s))
		require.NoError(t, err)
		d, err := pgNumericToDecimal(n)
		require.NoError(t, err)
		assert.True(t, d.Equal(decimal.RequireFromString(s)), s)
	}
}

func TestReminderArrays(t *testing.T) {
	assert.Nil(t, remindersFromArray(nil))
	assert.Equal(t, models.ReminderSet{1, 7}, remindersFromArray(remindersToArray(models.ReminderSet{1, 7})))
}

func TestBuildListQuery(t *testing.T) {
	until := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	autoRenew := true

	query, args := buildListQuery(ports.SubscriptionFilter{
		Statuses:       []models.SubscriptionStatus{models.SubscriptionStatusActive, models.SubscriptionStatusPastDue},
		PeriodEndUntil: &until,
		AutoRenew:      &autoRenew,
		Limit:          50,
	})

	assert.Contains(t, query, "status = ANY($1)")
	assert.Contains(t, query, "current_period_end <= $2")
	assert.Contains(t, query, "auto_renew = $3")
	assert.Contains(t, query, "ORDER BY current_period_end ASC, id ASC LIMIT $4")
	assert.NotContains(t, query, "grace_period_end <")
	require.Len(t, args, 4)
	assert.Equal(t, []string{"active", "past_due"}, args[0])
	assert.Equal(t, 50, args[3])

	query, args = buildListQuery(ports.SubscriptionFilter{})
	assert.NotContains(t, query, "WHERE")
	assert.Empty(t, args)
}

func TestBuildListQuery_SchedulerPredicates(t *testing.T) {
	retryBy := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	cursor := &ports.ListCursor{PeriodEnd: retryBy, ID: "6f1c2f8e-1111-4d3a-9a51-7d7e3d5b2c10"}

	query, args := buildListQuery(ports.SubscriptionFilter{
		LastAttemptBy:            &retryBy,
		ExcludeCancelAtPeriodEnd: true,
		After:                    cursor,
		Limit:                    2,
	})
	assert.Contains(t, query, "(last_renewal_attempt_at IS NULL OR last_renewal_attempt_at <= $1)")
	assert.Contains(t, query, "NOT COALESCE((cancellation->>'at_period_end')::boolean, false)")
	assert.Contains(t, query, "(current_period_end, id) > ($2, $3::uuid)")
	assert.Contains(t, query, "LIMIT $4")
	require.Len(t, args, 4)
	assert.Equal(t, cursor.ID, args[2])

	query, _ = buildListQuery(ports.SubscriptionFilter{RolloverDue: true})
	assert.Contains(t, query, "plan_change->>'kind' = 'downgrade'")
	assert.Contains(t, query, "(NOT auto_renew AND status = 'active')")
}
