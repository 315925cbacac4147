package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kevin07696/subscription-service/internal/adapters/database"
	"github.com/kevin07696/subscription-service/internal/adapters/gateway"
	"github.com/kevin07696/subscription-service/internal/adapters/gateway/paypal"
	"github.com/kevin07696/subscription-service/internal/adapters/gateway/razorpay"
	"github.com/kevin07696/subscription-service/internal/adapters/gateway/stripe"
	"github.com/kevin07696/subscription-service/internal/adapters/lock"
	"github.com/kevin07696/subscription-service/internal/adapters/memory"
	"github.com/kevin07696/subscription-service/internal/adapters/notify"
	"github.com/kevin07696/subscription-service/internal/adapters/postgres"
	"github.com/kevin07696/subscription-service/internal/adapters/storage"
	"github.com/kevin07696/subscription-service/internal/config"
	"github.com/kevin07696/subscription-service/internal/domain"
	"github.com/kevin07696/subscription-service/internal/domain/models"
	"github.com/kevin07696/subscription-service/internal/domain/ports"
	pkghttp "github.com/kevin07696/subscription-service/pkg/http"
	"github.com/kevin07696/subscription-service/pkg/observability"
	"github.com/kevin07696/subscription-service/pkg/resilience"
	"github.com/kevin07696/subscription-service/pkg/shutdown"
)

// stores groups the persistence ports of one storage driver
type stores struct {
	db       ports.TransactionManager
	subs     ports.SubscriptionRepository
	plans    ports.PlanRepository
	invoices ports.InvoiceRepository
	usage    ports.UsageTracker
	pinger   observability.Pinger
}

// initStorage opens the configured driver, migrates and seeds it. runCtx
// outlives startup and bounds the pool monitor.
func initStorage(startCtx, runCtx context.Context, cfg *config.Config, logger *zap.Logger, sm *shutdown.Manager) (*stores, error) {
	var s *stores

	switch cfg.Database.Driver {
	case config.DriverMemory:
		logger.Warn("Using in-memory storage - data is lost on restart")
		store := memory.NewStore()
		s = &stores{
			db:       store,
			subs:     memory.NewSubscriptionRepository(store),
			plans:    memory.NewPlanRepository(store),
			invoices: memory.NewInvoiceRepository(store),
			usage:    memory.NewUsageTracker(),
		}

	default:
		adapter, err := database.NewPostgreSQLAdapter(startCtx, &database.PostgreSQLConfig{
			DatabaseURL:     cfg.Database.URL,
			MaxConns:        cfg.Database.MaxConns,
			MinConns:        cfg.Database.MinConns,
			MaxConnLifetime: cfg.Database.MaxConnLifetime,
			MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("init database: %w", err)
		}
		sm.RegisterNoErr("database", adapter.Close)

		if cfg.Database.AutoMigrate {
			if err := database.Migrate(startCtx, adapter.Pool(), logger); err != nil {
				return nil, fmt.Errorf("migrate database: %w", err)
			}
		}
		adapter.StartPoolMonitoring(runCtx, time.Minute)

		db := postgres.NewDBExecutor(adapter.Pool())
		s = &stores{
			db:       db,
			subs:     postgres.NewSubscriptionRepository(db),
			plans:    postgres.NewPlanRepository(db),
			invoices: postgres.NewInvoiceRepository(db),
			usage:    postgres.NewUsageRepository(db),
			pinger:   adapter,
		}
	}

	if cfg.Database.SeedPlans {
		if err := seedPlans(startCtx, s.plans, cfg.Billing.Currency, logger); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// seedPlans inserts the default catalogue without touching plans that
// already exist, so provider price ids set by operators survive restarts
func seedPlans(ctx context.Context, plans ports.PlanRepository, currency string, logger *zap.Logger) error {
	seeded := 0
	for _, plan := range models.DefaultPlans(currency, time.Now().UTC()) {
		_, err := plans.GetByID(ctx, nil, plan.ID)
		if err == nil {
			continue
		}
		if !domain.IsNotFoundError(err) {
			return fmt.Errorf("seed plans: %w", err)
		}
		if err := plans.Upsert(ctx, nil, plan); err != nil {
			return fmt.Errorf("seed plans: %w", err)
		}
		seeded++
	}
	if seeded > 0 {
		logger.Info("Seeded default plans", zap.Int("count", seeded))
	}
	return nil
}

// initLocker returns the Redis locker when REDIS_URL is set, otherwise a
// process-local one. The pinger is nil without Redis.
func initLocker(ctx context.Context, cfg *config.Config, logger *zap.Logger, sm *shutdown.Manager) (ports.Locker, observability.Pinger, error) {
	if cfg.Redis.URL == "" {
		logger.Info("REDIS_URL not set, using in-process subscription locks")
		return lock.NewMemoryLocker(), nil, nil
	}

	client, err := lock.Connect(ctx, cfg.Redis.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("init redis: %w", err)
	}
	sm.RegisterCloser("redis", client)

	locker := lock.NewRedisLocker(client, lock.RedisConfig{
		Prefix: cfg.Redis.LockPrefix,
		TTL:    cfg.Redis.LockTTL,
	}, logger)

	pinger := observability.PingFunc(func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
	return locker, pinger, nil
}

// initGateways builds every configured provider behind the guarded wrapper
func initGateways(cfg *config.Config, timeouts *resilience.TimeoutConfig, logger *zap.Logger) (*gateway.Registry, error) {
	g := cfg.Gateways
	breaker := gateway.DefaultCircuitBreakerConfig()
	breaker.MaxFailures = g.BreakerMaxFailures
	breaker.Timeout = g.BreakerTimeout

	httpClient := pkghttp.NewHTTPClient(pkghttp.GatewayClientConfig(), timeouts.GatewayCall)
	registry := gateway.NewRegistry()

	if g.Stripe.Enabled() {
		adapter, err := stripe.NewAdapter(stripe.Config{
			APIKey:        g.Stripe.APIKey,
			WebhookSecret: g.Stripe.WebhookSecret,
			BackendURL:    g.Stripe.BackendURL,
			HTTPClient:    httpClient,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("init stripe: %w", err)
		}
		registry.Register(gateway.NewGuarded(adapter, breaker, timeouts, logger))
	}

	if g.Razorpay.Enabled() {
		adapter, err := razorpay.NewAdapter(razorpay.Config{
			KeyID:         g.Razorpay.KeyID,
			KeySecret:     g.Razorpay.KeySecret,
			WebhookSecret: g.Razorpay.WebhookSecret,
			BaseURL:       g.Razorpay.BaseURL,
		}, httpClient, logger)
		if err != nil {
			return nil, fmt.Errorf("init razorpay: %w", err)
		}
		registry.Register(gateway.NewGuarded(adapter, breaker, timeouts, logger))
	}

	if g.PayPal.Enabled() {
		adapter, err := paypal.NewAdapter(paypal.Config{
			ClientID:     g.PayPal.ClientID,
			ClientSecret: g.PayPal.ClientSecret,
			WebhookID:    g.PayPal.WebhookID,
			BaseURL:      g.PayPal.BaseURL,
			BrandName:    g.PayPal.BrandName,
			ReturnURL:    g.PayPal.ReturnURL,
			CancelURL:    g.PayPal.CancelURL,
		}, httpClient, logger)
		if err != nil {
			return nil, fmt.Errorf("init paypal: %w", err)
		}
		registry.Register(gateway.NewGuarded(adapter, breaker, timeouts, logger))
	}

	providers := registry.Providers()
	if len(providers) == 0 {
		return nil, errors.New("no payment gateway configured")
	}
	names := make([]string, len(providers))
	for i, p := range providers {
		names[i] = string(p)
	}
	logger.Info("Payment gateways registered", zap.Strings("providers", names))
	return registry, nil
}

// initNotifier fans out to every configured channel. It returns nil when
// none is configured; the state machine then skips notifications.
func initNotifier(cfg *config.Config, logger *zap.Logger) (ports.Notifier, error) {
	n := cfg.Notifications
	var channels []ports.Notifier

	if n.EmailEnabled() {
		email, err := notify.NewEmailNotifier(notify.EmailConfig{
			ServerToken:  n.PostmarkServerToken,
			AccountToken: n.PostmarkAccountToken,
			SenderEmail:  n.SenderEmail,
			SupportEmail: n.SupportEmail,
			BaseURL:      n.PostmarkBaseURL,
		}, pkghttp.NewHTTPClient(pkghttp.DefaultClientConfig(), 15*time.Second), logger)
		if err != nil {
			return nil, fmt.Errorf("init email notifier: %w", err)
		}
		channels = append(channels, email)
	}

	if n.WebhookEnabled() {
		channels = append(channels, notify.NewWebhookNotifier(notify.WebhookConfig{
			URL:         n.WebhookURL,
			Secret:      n.WebhookSecret,
			MaxAttempts: n.WebhookMaxAttempts,
		}, pkghttp.NewHTTPClient(pkghttp.WebhookClientConfig(), 10*time.Second), logger))
	}

	if len(channels) == 0 {
		logger.Warn("No notification channel configured, lifecycle notifications are dropped")
		return nil, nil
	}
	return notify.NewMultiNotifier(channels...), nil
}

// initRenderer stores rendered invoices in S3 or on local disk
func initRenderer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (ports.InvoiceRenderer, error) {
	st := cfg.Storage

	var store ports.DocumentStore
	switch st.Backend {
	case config.DocumentsS3:
		s3Store, err := storage.NewS3DocumentStore(ctx, storage.S3Config{
			Bucket:         st.S3Bucket,
			Region:         st.S3Region,
			Prefix:         st.S3Prefix,
			AccessKeyID:    st.S3AccessKeyID,
			SecretKey:      st.S3SecretKey,
			Endpoint:       st.S3Endpoint,
			ForcePathStyle: st.S3ForcePathStyle,
		}, pkghttp.NewHTTPClient(pkghttp.DefaultClientConfig(), 30*time.Second))
		if err != nil {
			return nil, fmt.Errorf("init s3 document store: %w", err)
		}
		store = s3Store
		logger.Info("Invoice documents stored in S3", zap.String("bucket", st.S3Bucket))

	default:
		local, err := storage.NewLocalDocumentStore(st.LocalPath, st.PublicBaseURL)
		if err != nil {
			return nil, fmt.Errorf("init local document store: %w", err)
		}
		store = local
		logger.Info("Invoice documents stored on local disk", zap.String("path", st.LocalPath))
	}

	return storage.NewHTMLInvoiceRenderer(store, st.IssuerName), nil
}
