package subscription

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kevin07696/subscription-service/internal/adapters/lock"
	"github.com/kevin07696/subscription-service/internal/adapters/memory"
	"github.com/kevin07696/subscription-service/internal/domain"
	"github.com/kevin07696/subscription-service/internal/domain/models"
	"github.com/kevin07696/subscription-service/internal/services/invoice"
	serviceports "github.com/kevin07696/subscription-service/internal/services/ports"
	"github.com/kevin07696/subscription-service/test/mocks"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTenant = "tenant_1"

var t0 = time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)

type testEnv struct {
	svc      *Service
	subs     *memory.SubscriptionRepository
	invoices *memory.InvoiceRepository
	usage    *memory.UsageTracker
	stripe   *mocks.MockGateway
	notifier *mocks.MockNotifier
	clock    *mocks.MockClock
	logger   *mocks.MockLogger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := memory.NewStore()
	subs := memory.NewSubscriptionRepository(store)
	plans := memory.NewPlanRepository(store)
	invoices := memory.NewInvoiceRepository(store)
	usage := memory.NewUsageTracker()
	clock := mocks.NewMockClock(t0)
	logger := mocks.NewMockLogger()
	notifier := mocks.NewMockNotifier()
	stripe := mocks.NewMockGateway(models.ProviderStripe)

	for _, p := range models.DefaultPlans("USD", t0) {
		require.NoError(t, plans.Upsert(context.Background(), nil, p))
	}

	svc := NewService(Deps{
		DB:            store,
		Subscriptions: subs,
		Plans:         plans,
		Invoices:      invoices,
		Gateways:      mocks.MockResolver{models.ProviderStripe: stripe},
		Locker:        lock.NewMemoryLocker(),
		Notifier:      notifier,
		Usage:         usage,
		Recorder:      invoice.NewRecorder(invoices, nil, decimal.Zero, clock, logger),
		Clock:         clock,
		Logger:        logger,
	}, DefaultConfig())

	return &testEnv{
		svc:      svc,
		subs:     subs,
		invoices: invoices,
		usage:    usage,
		stripe:   stripe,
		notifier: notifier,
		clock:    clock,
		logger:   logger,
	}
}

// activeSubscription creates a subscription activated through a stored payment method
func (e *testEnv) activeSubscription(t *testing.T, planID string) *models.Subscription {
	t.Helper()
	sub, err := e.svc.CreateSubscription(context.Background(), serviceports.CreateSubscriptionRequest{
		TenantID:      testTenant,
		PlanID:        planID,
		Provider:      models.ProviderStripe,
		Email:         "owner@example.com",
		PaymentMethod: "pm_card_visa",
	})
	require.NoError(t, err)
	require.Equal(t, models.SubscriptionStatusActive, sub.Status)
	return sub
}

func (e *testEnv) reload(t *testing.T, id string) *models.Subscription {
	t.Helper()
	sub, err := e.subs.GetByID(context.Background(), nil, id)
	require.NoError(t, err)
	return sub
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCreateSubscription_ActivatesWithPaymentMethod(t *testing.T) {
	env := newTestEnv(t)

	sub := env.activeSubscription(t, "starter-monthly")

	assert.Equal(t, "stripe_sub_1", sub.GatewaySubscriptionID)
	assert.Equal(t, t0, sub.CurrentPeriodStart)
	assert.Equal(t, time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC), sub.CurrentPeriodEnd)
	assert.True(t, sub.AutoRenew)
	assert.Equal(t, int64(5), sub.Entitlements.MaxUsers)
	assert.Equal(t, 1, env.notifier.Count(models.NotifySubscriptionActivated))

	require.NotNil(t, env.stripe.LastCreateReq)
	assert.Equal(t, sub.ID, env.stripe.LastCreateReq.SubscriptionID)
	assert.True(t, env.stripe.LastCreateReq.Amount.Equal(dec("49")))
}

func TestCreateSubscription_FirstChargeAfterActivationIsInitial(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sub := env.activeSubscription(t, "starter-monthly")
	env.clock.Advance(time.Minute)

	outcome, err := env.svc.ApplyChargeSucceeded(ctx, sub.ID, serviceports.ChargeConfirmation{
		ChargeID: "in_first",
		Amount:   dec("49"),
		Source:   serviceports.SourceWebhook,
	})
	require.NoError(t, err)
	assert.False(t, outcome.Activated)
	assert.Equal(t, "initial", outcome.Invoice.Metadata["source"])
	assert.Equal(t, t0, outcome.Invoice.PeriodStart)
	assert.Equal(t, sub.CurrentPeriodEnd, outcome.Subscription.CurrentPeriodEnd)

	// a later charge inside the same period is not the opening one
	next, err := env.svc.ApplyChargeSucceeded(ctx, sub.ID, serviceports.ChargeConfirmation{
		ChargeID: "in_second",
		Amount:   dec("49"),
		Source:   serviceports.SourceWebhook,
	})
	require.NoError(t, err)
	assert.Equal(t, "renewal", next.Invoice.Metadata["source"])
}

func TestCreateSubscription_WithoutPaymentMethodWaitsForCharge(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sub, err := env.svc.CreateSubscription(ctx, serviceports.CreateSubscriptionRequest{
		TenantID: testTenant,
		PlanID:   "starter-monthly",
		Provider: models.ProviderStripe,
		Email:    "owner@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusPending, sub.Status)
	assert.Equal(t, 0, env.notifier.Count(models.NotifySubscriptionActivated))

	env.clock.Advance(2 * time.Hour)
	charge := serviceports.ChargeConfirmation{
		ChargeID: "in_first",
		Amount:   dec("49"),
		Currency: "usd",
		Source:   serviceports.SourceWebhook,
	}

	outcome, err := env.svc.ApplyChargeSucceeded(ctx, sub.ID, charge)
	require.NoError(t, err)
	assert.True(t, outcome.Activated)
	assert.False(t, outcome.Duplicate)
	assert.Equal(t, models.SubscriptionStatusActive, outcome.Subscription.Status)
	assert.Equal(t, t0.Add(2*time.Hour), outcome.Subscription.StartDate)
	require.NotNil(t, outcome.Invoice)
	assert.Equal(t, "initial", outcome.Invoice.Metadata["source"])
	assert.True(t, outcome.Invoice.Total.Equal(dec("49")))

	// the same charge delivered again changes nothing
	again, err := env.svc.ApplyChargeSucceeded(ctx, sub.ID, charge)
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, outcome.Invoice.ID, again.Invoice.ID)

	invoices, err := env.svc.ListInvoices(ctx, sub.ID, testTenant)
	require.NoError(t, err)
	assert.Len(t, invoices, 1)
	assert.Equal(t, 1, env.notifier.Count(models.NotifySubscriptionActivated))
	assert.Equal(t, 1, env.notifier.Count(models.NotifyPaymentSucceeded))
}

func TestCreateSubscription_GatewayRejection(t *testing.T) {
	env := newTestEnv(t)
	env.stripe.SetCreateResponse(nil, errors.New("card_declined"))

	_, err := env.svc.CreateSubscription(context.Background(), serviceports.CreateSubscriptionRequest{
		TenantID:      testTenant,
		PlanID:        "starter-monthly",
		Provider:      models.ProviderStripe,
		Email:         "owner@example.com",
		PaymentMethod: "pm_card_declined",
	})
	require.Error(t, err)
	assert.True(t, domain.IsGatewayError(err))

	subs, err := env.svc.ListTenantSubscriptions(context.Background(), testTenant)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, models.SubscriptionStatusPaymentFailed, subs[0].Status)
	assert.Equal(t, 1, env.notifier.Count(models.NotifyPaymentFailed))
}

func TestCreateSubscription_SupersedesPriorSubscription(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first := env.activeSubscription(t, "starter-monthly")
	env.clock.Advance(time.Hour)
	second := env.activeSubscription(t, "growth-monthly")

	old := env.reload(t, first.ID)
	assert.Equal(t, models.SubscriptionStatusCancelled, old.Status)
	require.NotNil(t, old.Cancellation)
	assert.Contains(t, old.Cancellation.Reason, second.ID)
	assert.Equal(t, first.GatewaySubscriptionID, env.stripe.LastCancelID)

	subs, err := env.svc.ListTenantSubscriptions(ctx, testTenant)
	require.NoError(t, err)
	live := 0
	for _, s := range subs {
		if !s.Status.IsTerminal() {
			live++
		}
	}
	assert.Equal(t, 1, live)
}

func TestCreateSubscription_Validation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		req  serviceports.CreateSubscriptionRequest
		code domain.ErrorCode
	}{
		{
			name: "missing tenant",
			req:  serviceports.CreateSubscriptionRequest{PlanID: "starter-monthly", Email: "a@b.c", Provider: models.ProviderStripe},
			code: domain.ErrorCodeValidationFailed,
		},
		{
			name: "unsupported provider",
			req:  serviceports.CreateSubscriptionRequest{TenantID: testTenant, PlanID: "starter-monthly", Email: "a@b.c", Provider: "bitcoin"},
			code: domain.ErrorCodeValidationFailed,
		},
		{
			name: "unknown plan",
			req:  serviceports.CreateSubscriptionRequest{TenantID: testTenant, PlanID: "platinum", Email: "a@b.c", Provider: models.ProviderStripe},
			code: domain.ErrorCodeNotFound,
		},
		{
			name: "provider without adapter",
			req:  serviceports.CreateSubscriptionRequest{TenantID: testTenant, PlanID: "starter-monthly", Email: "a@b.c", Provider: models.ProviderPayPal},
			code: domain.ErrorCodeValidationFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.CreateSubscription(context.Background(), tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.code, domain.GetErrorCode(err))
		})
	}
	assert.Equal(t, 0, env.stripe.CreateCalls)
}

func TestCreateSubscription_NotificationFailureIsSwallowed(t *testing.T) {
	env := newTestEnv(t)
	env.notifier.SetError(errors.New("smtp unavailable"))

	sub := env.activeSubscription(t, "starter-monthly")

	assert.Equal(t, models.SubscriptionStatusActive, env.reload(t, sub.ID).Status)
	assert.True(t, env.logger.HasMessage("notification delivery failed"))
}

func TestCancelSubscription_ImmediateIsBestEffortRemotely(t *testing.T) {
	env := newTestEnv(t)
	sub := env.activeSubscription(t, "starter-monthly")
	env.stripe.SetCancelError(errors.New("gateway unavailable"))
	env.clock.Advance(5 * 24 * time.Hour)

	cancelled, err := env.svc.CancelSubscription(context.Background(), serviceports.CancelSubscriptionRequest{
		SubscriptionID: sub.ID,
		TenantID:       testTenant,
		Reason:         "switching vendors",
		Immediate:      true,
	})
	require.NoError(t, err)

	assert.Equal(t, models.SubscriptionStatusCancelled, cancelled.Status)
	assert.Equal(t, env.clock.Now(), cancelled.EndDate)
	assert.False(t, cancelled.AutoRenew)
	assert.Equal(t, 1, env.stripe.CancelCalls)
	assert.True(t, env.logger.HasMessage("gateway cancellation failed, continuing with local cancellation"))
	assert.Equal(t, 1, env.notifier.Count(models.NotifySubscriptionCancelled))

	_, err = env.svc.CancelSubscription(context.Background(), serviceports.CancelSubscriptionRequest{
		SubscriptionID: sub.ID,
		Immediate:      true,
	})
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeInvalidTransition))
}

func TestCancelSubscription_AtPeriodEnd(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sub := env.activeSubscription(t, "starter-monthly")

	scheduled, err := env.svc.CancelSubscription(ctx, serviceports.CancelSubscriptionRequest{
		SubscriptionID: sub.ID,
		TenantID:       testTenant,
		Reason:         "budget",
	})
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusActive, scheduled.Status)
	assert.True(t, scheduled.CancelAtPeriodEnd())
	assert.False(t, scheduled.AutoRenew)
	assert.Equal(t, 0, env.stripe.CancelCalls)

	env.clock.Set(sub.CurrentPeriodEnd.Add(-time.Hour))
	renewal, err := env.svc.ApplyRenewalResult(ctx, sub.ID, serviceports.RenewalResult{Success: true})
	require.NoError(t, err)
	assert.True(t, renewal.Skipped)

	env.clock.Set(sub.CurrentPeriodEnd.Add(time.Minute))
	rolled, action, err := env.svc.RollOverPeriod(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, serviceports.RolloverCancelled, action)
	assert.Equal(t, models.SubscriptionStatusCancelled, rolled.Status)
	assert.Equal(t, sub.CurrentPeriodEnd, rolled.EndDate)
}

func TestCancelSubscription_TenantGuard(t *testing.T) {
	env := newTestEnv(t)
	sub := env.activeSubscription(t, "starter-monthly")

	_, err := env.svc.CancelSubscription(context.Background(), serviceports.CancelSubscriptionRequest{
		SubscriptionID: sub.ID,
		TenantID:       "tenant_other",
		Immediate:      true,
	})
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodePermissionDenied))
	assert.Equal(t, 0, env.stripe.CancelCalls)
	assert.Equal(t, models.SubscriptionStatusActive, env.reload(t, sub.ID).Status)
}

func TestApplyCoupon(t *testing.T) {
	env := newTestEnv(t)
	sub := env.activeSubscription(t, "starter-monthly")

	updated, err := env.svc.ApplyCoupon(context.Background(), serviceports.ApplyCouponRequest{
		SubscriptionID: sub.ID,
		TenantID:       testTenant,
		Code:           " welcome10 ",
	})
	require.NoError(t, err)
	require.NotNil(t, updated.Discount)
	assert.Equal(t, "WELCOME10", updated.Discount.Code)
	assert.Equal(t, models.DiscountPercentage, updated.Discount.Type)
	assert.True(t, updated.Discount.Value.Equal(dec("10")))

	_, err = env.svc.ApplyCoupon(context.Background(), serviceports.ApplyCouponRequest{
		SubscriptionID: sub.ID,
		Code:           "BOGUS",
	})
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeValidationFailed))
}

func TestParseCoupons(t *testing.T) {
	coupons, err := ParseCoupons([]string{"spring:percentage:15", "FIVE:fixed:5"})
	require.NoError(t, err)
	assert.Equal(t, models.DiscountPercentage, coupons["SPRING"].Type)
	assert.True(t, coupons["FIVE"].Value.Equal(dec("5")))

	for _, bad := range []string{"NOPE", "X:gift:5", "X:percentage:150", "X:fixed:-1"} {
		_, err := ParseCoupons([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestGetSubscription_Guards(t *testing.T) {
	env := newTestEnv(t)
	sub := env.activeSubscription(t, "starter-monthly")

	_, err := env.svc.GetSubscription(context.Background(), "", testTenant)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeValidationFailed))

	_, err = env.svc.GetSubscription(context.Background(), "missing", testTenant)
	assert.True(t, errors.Is(err, domain.ErrSubscriptionNotFound))

	_, err = env.svc.GetSubscription(context.Background(), sub.ID, "tenant_other")
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodePermissionDenied))

	got, err := env.svc.GetSubscription(context.Background(), sub.ID, "")
	require.NoError(t, err)
	assert.Equal(t, sub.ID, got.ID)
}

func TestListPlans(t *testing.T) {
	env := newTestEnv(t)

	plans, err := env.svc.ListPlans(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, plans)
	assert.Equal(t, "starter-monthly", plans[0].ID)
}
