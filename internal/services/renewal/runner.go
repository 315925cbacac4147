package renewal

import (
	"context"
	"time"

	"github.com/kevin07696/subscription-service/internal/domain/ports"
	serviceports "github.com/kevin07696/subscription-service/internal/services/ports"
	"github.com/kevin07696/subscription-service/pkg/resilience"
)

// Runner triggers every job on a fixed interval in-process
type Runner struct {
	scheduler  serviceports.RenewalScheduler
	timeouts   *resilience.TimeoutConfig
	logger     ports.Logger
	interval   time.Duration
	runOnStart bool
}

// NewRunner creates a runner. A non-positive interval defaults to a day.
func NewRunner(scheduler serviceports.RenewalScheduler, interval time.Duration, runOnStart bool, timeouts *resilience.TimeoutConfig, logger ports.Logger) *Runner {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	if timeouts == nil {
		timeouts = resilience.DefaultTimeoutConfig()
	}
	return &Runner{
		scheduler:  scheduler,
		timeouts:   timeouts,
		logger:     logger,
		interval:   interval,
		runOnStart: runOnStart,
	}
}

// Run blocks until ctx is cancelled
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("scheduler started",
		ports.String("interval", r.interval.String()),
		ports.Bool("run_on_start", r.runOnStart))

	if r.runOnStart {
		r.tick(ctx)
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	cronCtx, cancel := r.timeouts.CronContext(ctx)
	defer cancel()

	for _, res := range r.scheduler.RunAll(cronCtx) {
		if len(res.Errors) > 0 {
			r.logger.Warn("scheduler job finished with errors",
				ports.String("job", res.Job),
				ports.Int("failed", res.Failed),
				ports.Int("errors", len(res.Errors)))
		}
	}
}
