package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kevin07696/subscription-service/internal/config"
	"github.com/kevin07696/subscription-service/internal/services/invoice"
	"github.com/kevin07696/subscription-service/internal/services/proration"
	"github.com/kevin07696/subscription-service/internal/services/reconciliation"
	"github.com/kevin07696/subscription-service/internal/services/renewal"
	"github.com/kevin07696/subscription-service/internal/services/subscription"
	"github.com/kevin07696/subscription-service/pkg/observability"
	"github.com/kevin07696/subscription-service/pkg/resilience"
	"github.com/kevin07696/subscription-service/pkg/security"
	"github.com/kevin07696/subscription-service/pkg/shutdown"
	"github.com/kevin07696/subscription-service/pkg/timeutil"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "subscription-service: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := security.NewLogger(cfg.Logger.Level, cfg.Server.IsProduction())
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting subscription service",
		zap.String("version", version),
		zap.String("environment", cfg.Server.Environment),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancelStart := context.WithTimeout(ctx, 30*time.Second)
	defer cancelStart()

	if err := resolveSecrets(startCtx, cfg, logger); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	shutdownMgr := shutdown.NewManager(logger, cfg.Server.ShutdownTimeout)
	defer func() {
		if err := shutdownMgr.Shutdown(); err != nil {
			logger.Error("Shutdown finished with errors", zap.Error(err))
		}
	}()

	timeouts := resilience.DefaultTimeoutConfig()
	if err := timeouts.Validate(); err != nil {
		return fmt.Errorf("invalid timeouts: %w", err)
	}
	appLogger := security.NewZapLogger(logger)
	clock := timeutil.SystemClock{}

	store, err := initStorage(startCtx, ctx, cfg, logger, shutdownMgr)
	if err != nil {
		return err
	}

	locker, redisPinger, err := initLocker(startCtx, cfg, logger, shutdownMgr)
	if err != nil {
		return err
	}

	gateways, err := initGateways(cfg, timeouts, logger)
	if err != nil {
		return err
	}

	notifier, err := initNotifier(cfg, logger)
	if err != nil {
		return err
	}

	renderer, err := initRenderer(startCtx, cfg, logger)
	if err != nil {
		return err
	}

	coupons := subscription.DefaultCoupons()
	if len(cfg.Billing.Coupons) > 0 {
		if coupons, err = subscription.ParseCoupons(cfg.Billing.Coupons); err != nil {
			return fmt.Errorf("invalid COUPONS: %w", err)
		}
	}

	recorder := invoice.NewRecorder(store.invoices, renderer, cfg.Billing.TaxRate, clock, appLogger)

	subscriptionSvc := subscription.NewService(subscription.Deps{
		DB:            store.db,
		Subscriptions: store.subs,
		Plans:         store.plans,
		Invoices:      store.invoices,
		Gateways:      gateways,
		Locker:        locker,
		Notifier:      notifier,
		Usage:         store.usage,
		Proration:     proration.NewCalculator(),
		Recorder:      recorder,
		Clock:         clock,
		Timeouts:      timeouts,
		Logger:        appLogger,
	}, subscription.Config{
		Coupons:            coupons,
		ReminderThresholds: cfg.Billing.ReminderThresholds,
		MaxRenewalAttempts: cfg.Billing.MaxRenewalAttempts,
		GracePeriod:        cfg.Billing.GracePeriod,
		MinRetrySpacing:    cfg.Billing.MinRetrySpacing,
		RenewalLookahead:   cfg.Billing.RenewalLookahead,
	})

	scheduler := renewal.NewScheduler(store.subs, subscriptionSvc, gateways, timeouts, clock, appLogger, renewal.Config{
		ReminderThresholds: cfg.Billing.ReminderThresholds,
		Lookahead:          cfg.Billing.RenewalLookahead,
		MinRetrySpacing:    cfg.Billing.MinRetrySpacing,
		BatchSize:          cfg.Billing.BatchSize,
		Concurrency:        cfg.Billing.Concurrency,
	})

	reconciler := reconciliation.NewHandler(gateways, store.subs, subscriptionSvc, appLogger)

	router, stopLimiters := newRouter(cfg, routerDeps{
		subscriptions: subscriptionSvc,
		reconciler:    reconciler,
		scheduler:     scheduler,
		timeouts:      timeouts,
	}, logger)
	shutdownMgr.RegisterNoErr("rate_limiters", stopLimiters)

	healthChecker := observability.NewHealthChecker(map[string]observability.Pinger{
		"storage": store.pinger,
		"redis":   redisPinger,
	})
	metricsServer := observability.StartMetricsServer(strconv.Itoa(cfg.Server.MetricsPort), healthChecker, logger)
	shutdownMgr.Register("metrics_server", func(ctx context.Context) error {
		return observability.ShutdownMetricsServer(ctx, metricsServer)
	})

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      timeouts.HTTPHandler + 5*time.Second,
		IdleTimeout:       120 * time.Second,
	}
	shutdownMgr.RegisterHTTPServer("http_server", httpServer)
	// registered last so it runs first
	shutdownMgr.RegisterNoErr("readiness", healthChecker.SetDraining)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening",
			zap.String("address", httpServer.Addr),
			zap.Int("metrics_port", cfg.Server.MetricsPort),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if cfg.Billing.SchedulerEnabled {
		runner := renewal.NewRunner(scheduler, cfg.Billing.SchedulerInterval, cfg.Billing.SchedulerOnStart, timeouts, appLogger)
		g.Go(func() error {
			return runner.Run(gctx)
		})
	} else {
		logger.Info("In-process scheduler disabled; jobs run only through /cron")
	}

	// Shutdown starts when a signal arrives or a server fails
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		return shutdownMgr.Shutdown()
	})

	return g.Wait()
}
