package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kevin07696/subscription-service/internal/adapters/memory"
	"github.com/kevin07696/subscription-service/internal/config"
	"github.com/kevin07696/subscription-service/internal/domain/models"
	"github.com/kevin07696/subscription-service/internal/services/ports"
	"github.com/kevin07696/subscription-service/pkg/resilience"
	"github.com/kevin07696/subscription-service/pkg/shutdown"
)

func TestSeedPlans_KeepsExistingPlans(t *testing.T) {
	ctx := context.Background()
	plans := memory.NewPlanRepository(memory.NewStore())

	defaults := models.DefaultPlans("USD", time.Now().UTC())
	require.NotEmpty(t, defaults)

	existing := *defaults[0]
	existing.ProviderPriceIDs = map[models.Provider]string{models.ProviderStripe: "price_live_1"}
	require.NoError(t, plans.Upsert(ctx, nil, &existing))

	require.NoError(t, seedPlans(ctx, plans, "USD", zap.NewNop()))
	require.NoError(t, seedPlans(ctx, plans, "USD", zap.NewNop()))

	active, err := plans.ListActive(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, active, len(defaults))

	got, err := plans.GetByID(ctx, nil, existing.ID)
	require.NoError(t, err)
	assert.Equal(t, "price_live_1", got.ProviderPriceIDs[models.ProviderStripe])
}

func TestInitNotifier_NoChannels(t *testing.T) {
	notifier, err := initNotifier(&config.Config{}, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, notifier)
}

func TestInitNotifier_WebhookOnly(t *testing.T) {
	cfg := &config.Config{}
	cfg.Notifications.WebhookURL = "https://hooks.example.com/billing"
	cfg.Notifications.WebhookSecret = "whsec"

	notifier, err := initNotifier(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.NotNil(t, notifier)
}

func TestInitLocker_WithoutRedis(t *testing.T) {
	sm := shutdown.NewManager(zap.NewNop(), time.Second)

	locker, pinger, err := initLocker(context.Background(), &config.Config{}, zap.NewNop(), sm)
	require.NoError(t, err)
	assert.NotNil(t, locker)
	assert.Nil(t, pinger)
}

func TestInitGateways_RequiresOne(t *testing.T) {
	_, err := initGateways(&config.Config{}, resilience.TestTimeoutConfig(), zap.NewNop())
	assert.Error(t, err)
}

func TestInitStorage_Memory(t *testing.T) {
	cfg := &config.Config{}
	cfg.Database.Driver = config.DriverMemory
	cfg.Database.SeedPlans = true
	cfg.Billing.Currency = "USD"

	sm := shutdown.NewManager(zap.NewNop(), time.Second)
	s, err := initStorage(context.Background(), context.Background(), cfg, zap.NewNop(), sm)
	require.NoError(t, err)
	assert.NotNil(t, s.usage)
	assert.Nil(t, s.pinger)

	active, err := s.plans.ListActive(context.Background(), nil)
	require.NoError(t, err)
	assert.NotEmpty(t, active)
}

type idleScheduler struct{}

func (idleScheduler) RunRenewals(context.Context) ports.JobResult {
	return ports.JobResult{Job: ports.JobRenewals}
}

func (idleScheduler) RunReminders(context.Context) ports.JobResult {
	return ports.JobResult{Job: ports.JobReminders}
}

func (idleScheduler) RunGraceExpiry(context.Context) ports.JobResult {
	return ports.JobResult{Job: ports.JobGraceExpiry}
}

func (idleScheduler) RunRollover(context.Context) ports.JobResult {
	return ports.JobResult{Job: ports.JobRollover}
}

func (idleScheduler) RunAll(context.Context) []ports.JobResult { return nil }

func TestRouter_CronRequiresSecret(t *testing.T) {
	cfg := &config.Config{}
	cfg.RateLimit.APIRequestsPerSecond = 10
	cfg.RateLimit.APIBurst = 10
	cfg.RateLimit.WebhookRequestsPerSecond = 10
	cfg.RateLimit.WebhookBurst = 10

	router, stop := newRouter(cfg, routerDeps{scheduler: idleScheduler{}, timeouts: resilience.TestTimeoutConfig()}, zap.NewNop())
	defer stop()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/cron/renewals", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cron/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/unknown", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
