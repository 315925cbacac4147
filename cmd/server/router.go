package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kevin07696/subscription-service/internal/config"
	cronHandler "github.com/kevin07696/subscription-service/internal/handlers/cron"
	subscriptionHandler "github.com/kevin07696/subscription-service/internal/handlers/subscription"
	webhookHandler "github.com/kevin07696/subscription-service/internal/handlers/webhook"
	"github.com/kevin07696/subscription-service/internal/services/ports"
	"github.com/kevin07696/subscription-service/pkg/middleware"
	"github.com/kevin07696/subscription-service/pkg/observability"
	"github.com/kevin07696/subscription-service/pkg/resilience"
)

type routerDeps struct {
	subscriptions ports.SubscriptionService
	reconciler    ports.WebhookReconciler
	scheduler     ports.RenewalScheduler
	timeouts      *resilience.TimeoutConfig
}

// newRouter mounts the command API, webhook ingress and cron endpoints. The
// returned func stops the rate limiters' cleanup loops.
func newRouter(cfg *config.Config, deps routerDeps, logger *zap.Logger) (http.Handler, func()) {
	apiLimiter := middleware.NewRateLimiter(cfg.RateLimit.APIRequestsPerSecond, cfg.RateLimit.APIBurst, logger)
	webhookLimiter := middleware.NewRateLimiter(cfg.RateLimit.WebhookRequestsPerSecond, cfg.RateLimit.WebhookBurst, logger)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.RequestLogger(logger))
	r.Use(observability.HTTPMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(apiLimiter.Middleware)
		r.Use(middleware.HandlerTimeout(deps.timeouts, logger))
		r.Mount("/", subscriptionHandler.NewHandler(deps.subscriptions, logger).Routes())
	})

	r.Route("/webhooks", func(r chi.Router) {
		r.Use(webhookLimiter.Middleware)
		r.Use(middleware.HandlerTimeout(deps.timeouts, logger))
		r.Mount("/", webhookHandler.NewHandler(deps.reconciler, logger).Routes())
	})

	// Jobs carry their own, longer cron deadline
	if cfg.Cron.Secret == "" {
		logger.Warn("CRON_SECRET not set, job endpoints reject every request")
	}
	r.Mount("/cron", cronHandler.NewJobHandler(deps.scheduler, deps.timeouts, logger, cfg.Cron.Secret).Routes())

	return r, func() {
		apiLimiter.Shutdown()
		webhookLimiter.Shutdown()
	}
}
