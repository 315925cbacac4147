// Package renewal drives the time-based subscription transitions: renewal
// checks, reminders, grace-period expiry and period rollover.
package renewal

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kevin07696/subscription-service/internal/domain"
	"github.com/kevin07696/subscription-service/internal/domain/models"
	"github.com/kevin07696/subscription-service/internal/domain/ports"
	serviceports "github.com/kevin07696/subscription-service/internal/services/ports"
	"github.com/kevin07696/subscription-service/pkg/observability"
	"github.com/kevin07696/subscription-service/pkg/resilience"
	"github.com/kevin07696/subscription-service/pkg/timeutil"
)

// Config controls batch sizes and the scan windows of each job
type Config struct {
	ReminderThresholds []int // days before period end
	Lookahead          time.Duration
	MinRetrySpacing    time.Duration
	BatchSize          int
	Concurrency        int
}

// DefaultConfig mirrors the lifecycle's default policy
func DefaultConfig() Config {
	return Config{
		ReminderThresholds: []int{7, 3, 1},
		Lookahead:          timeutil.Day,
		MinRetrySpacing:    23 * time.Hour,
		BatchSize:          500,
		Concurrency:        8,
	}
}

// Scheduler runs the lifecycle jobs. Each job is idempotent per run; the
// state machine re-checks every precondition under the subscription lock, so
// the scans here only narrow down candidates.
type Scheduler struct {
	subs      ports.SubscriptionRepository
	lifecycle serviceports.SubscriptionLifecycle
	gateways  ports.GatewayResolver
	timeouts  *resilience.TimeoutConfig
	clock     timeutil.Clock
	logger    ports.Logger
	cfg       Config
}

var _ serviceports.RenewalScheduler = (*Scheduler)(nil)

// NewScheduler creates a new scheduler
func NewScheduler(
	subs ports.SubscriptionRepository,
	lifecycle serviceports.SubscriptionLifecycle,
	gateways ports.GatewayResolver,
	timeouts *resilience.TimeoutConfig,
	clock timeutil.Clock,
	logger ports.Logger,
	cfg Config,
) *Scheduler {
	if timeouts == nil {
		timeouts = resilience.DefaultTimeoutConfig()
	}
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	thresholds := append([]int(nil), cfg.ReminderThresholds...)
	sort.Ints(thresholds)
	cfg.ReminderThresholds = thresholds

	return &Scheduler{
		subs:      subs,
		lifecycle: lifecycle,
		gateways:  gateways,
		timeouts:  timeouts,
		clock:     clock,
		logger:    logger,
		cfg:       cfg,
	}
}

// itemResult is how one subscription fared in a job
type itemResult int

const (
	itemSucceeded itemResult = iota
	itemSkipped
	itemFailed
)

var errDeclined = errors.New("renewal declined")

// RunAll runs every job in dependency order: lapsed periods are settled
// before renewals are checked, and grace expiry before reminders.
func (s *Scheduler) RunAll(ctx context.Context) []serviceports.JobResult {
	return []serviceports.JobResult{
		s.RunRollover(ctx),
		s.RunRenewals(ctx),
		s.RunGraceExpiry(ctx),
		s.RunReminders(ctx),
	}
}

// RunRenewals checks every auto-renewing subscription whose period ends
// within the lookahead window. A remote status of active renews it; any
// other status counts as a failed attempt.
func (s *Scheduler) RunRenewals(ctx context.Context) serviceports.JobResult {
	now := s.clock.Now()
	until := now.Add(s.cfg.Lookahead)
	retryBy := now.Add(-s.cfg.MinRetrySpacing)
	autoRenew := true

	return s.run(ctx, serviceports.JobRenewals, ports.SubscriptionFilter{
		Statuses:                 []models.SubscriptionStatus{models.SubscriptionStatusActive, models.SubscriptionStatusPastDue},
		PeriodEndUntil:           &until,
		AutoRenew:                &autoRenew,
		LastAttemptBy:            &retryBy,
		ExcludeCancelAtPeriodEnd: true,
	}, func(ctx context.Context, sub *models.Subscription) (itemResult, error) {
		result, err := s.checkRemote(ctx, sub)
		if err != nil {
			return itemFailed, err
		}

		outcome, err := s.lifecycle.ApplyRenewalResult(ctx, sub.ID, result)
		if err != nil {
			return itemFailed, err
		}
		switch {
		case outcome.Skipped:
			return itemSkipped, nil
		case outcome.Renewed:
			return itemSucceeded, nil
		default:
			return itemFailed, errDeclined
		}
	})
}

// checkRemote asks the provider whether the subscription's current cycle was paid
func (s *Scheduler) checkRemote(ctx context.Context, sub *models.Subscription) (serviceports.RenewalResult, error) {
	if sub.GatewaySubscriptionID == "" {
		return serviceports.RenewalResult{Reason: "no recurring agreement with the provider"}, nil
	}

	gw, err := s.gateways.Gateway(sub.Provider)
	if err != nil {
		return serviceports.RenewalResult{}, err
	}

	callCtx, cancel := s.timeouts.GatewayContext(ctx)
	defer cancel()

	remote, err := gw.GetStatus(callCtx, sub.GatewaySubscriptionID)
	if err != nil {
		// an unreachable provider is not a failed payment; the next run retries
		return serviceports.RenewalResult{}, fmt.Errorf("fetch remote status: %w", err)
	}

	status, ok := domain.MapRemoteStatus(sub.Provider, remote.Status)
	if ok && status == models.SubscriptionStatusActive {
		return serviceports.RenewalResult{
			Success:         true,
			RemoteStatus:    remote.Status,
			RemotePeriodEnd: remote.CurrentPeriodEnd,
		}, nil
	}

	return serviceports.RenewalResult{
		RemoteStatus: remote.Status,
		Reason:       fmt.Sprintf("provider reports %s", remote.Status),
	}, nil
}

// RunReminders sends the renewal notice for the smallest threshold not yet
// passed. A subscription 5 days from renewal gets the 7-day notice if it
// was missed; once sent, the next notice is due at 3 days.
func (s *Scheduler) RunReminders(ctx context.Context) serviceports.JobResult {
	if len(s.cfg.ReminderThresholds) == 0 {
		return serviceports.JobResult{Job: serviceports.JobReminders}
	}

	now := s.clock.Now()
	largest := s.cfg.ReminderThresholds[len(s.cfg.ReminderThresholds)-1]
	until := now.Add(time.Duration(largest) * timeutil.Day)
	autoRenew := true

	return s.run(ctx, serviceports.JobReminders, ports.SubscriptionFilter{
		Statuses:       []models.SubscriptionStatus{models.SubscriptionStatusActive},
		PeriodEndUntil: &until,
		AutoRenew:      &autoRenew,
	}, func(ctx context.Context, sub *models.Subscription) (itemResult, error) {
		daysLeft := timeutil.CeilDays(now, sub.CurrentPeriodEnd)
		threshold, ok := s.thresholdFor(daysLeft)
		if !ok || sub.RemindersSent.Has(threshold) {
			return itemSkipped, nil
		}

		sent, err := s.lifecycle.SendRenewalReminder(ctx, sub.ID, threshold)
		if err != nil {
			return itemFailed, err
		}
		if !sent {
			return itemSkipped, nil
		}
		return itemSucceeded, nil
	})
}

// thresholdFor returns the smallest threshold at or above daysLeft
func (s *Scheduler) thresholdFor(daysLeft int) (int, bool) {
	if daysLeft <= 0 {
		return 0, false
	}
	for _, t := range s.cfg.ReminderThresholds {
		if daysLeft <= t {
			return t, true
		}
	}
	return 0, false
}

// RunGraceExpiry suspends past-due subscriptions whose grace period has ended
func (s *Scheduler) RunGraceExpiry(ctx context.Context) serviceports.JobResult {
	now := s.clock.Now()

	return s.run(ctx, serviceports.JobGraceExpiry, ports.SubscriptionFilter{
		Statuses:       []models.SubscriptionStatus{models.SubscriptionStatusPastDue},
		GraceEndBefore: &now,
	}, func(ctx context.Context, sub *models.Subscription) (itemResult, error) {
		_, suspended, err := s.lifecycle.ExpireGracePeriod(ctx, sub.ID)
		if err != nil {
			return itemFailed, err
		}
		if !suspended {
			return itemSkipped, nil
		}
		return itemSucceeded, nil
	})
}

// RunRollover settles subscriptions whose period has lapsed
func (s *Scheduler) RunRollover(ctx context.Context) serviceports.JobResult {
	now := s.clock.Now()

	return s.run(ctx, serviceports.JobRollover, ports.SubscriptionFilter{
		Statuses:       []models.SubscriptionStatus{models.SubscriptionStatusActive, models.SubscriptionStatusPastDue},
		PeriodEndUntil: &now,
		RolloverDue:    true,
	}, func(ctx context.Context, sub *models.Subscription) (itemResult, error) {
		_, action, err := s.lifecycle.RollOverPeriod(ctx, sub.ID)
		if err != nil {
			return itemFailed, err
		}
		if action == serviceports.RolloverNone {
			return itemSkipped, nil
		}
		return itemSucceeded, nil
	})
}

// run pages through the job's candidates in (current_period_end, id) order
// and processes each page with bounded concurrency. A failure on one
// subscription never stops the others.
func (s *Scheduler) run(
	ctx context.Context,
	job string,
	filter ports.SubscriptionFilter,
	process func(ctx context.Context, sub *models.Subscription) (itemResult, error),
) serviceports.JobResult {
	result := serviceports.JobResult{Job: job}
	started := time.Now()
	scanFailures := 0

	filter.Limit = s.cfg.BatchSize
	for pages := 0; ; pages++ {
		if err := ctx.Err(); err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("%s: stopped after %d pages: %w", job, pages, err))
			break
		}

		candidates, err := s.subs.List(ctx, nil, filter)
		if err != nil {
			s.logger.Error("scheduler scan failed",
				ports.String("job", job),
				ports.Int("page", pages+1),
				ports.Err(err))
			result.Errors = append(result.Errors, fmt.Errorf("%s: list candidates: %w", job, err))
			scanFailures++
			break
		}

		s.processPage(ctx, job, candidates, process, &result)

		if len(candidates) < s.cfg.BatchSize {
			break
		}
		filter.After = ports.CursorAfter(candidates[len(candidates)-1])
	}

	observability.RecordSchedulerJob(job, result.Succeeded, result.Skipped, result.Failed+scanFailures)
	s.logger.Info("scheduler job completed",
		ports.String("job", job),
		ports.Int("processed", result.Processed),
		ports.Int("succeeded", result.Succeeded),
		ports.Int("skipped", result.Skipped),
		ports.Int("failed", result.Failed),
		ports.Int("errors", len(result.Errors)),
		ports.Duration("duration", time.Since(started)))

	return result
}

func (s *Scheduler) processPage(
	ctx context.Context,
	job string,
	candidates []*models.Subscription,
	process func(ctx context.Context, sub *models.Subscription) (itemResult, error),
	result *serviceports.JobResult,
) {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)

	for _, sub := range candidates {
		sub := sub
		g.Go(func() error {
			outcome, err := s.processOne(gctx, job, sub, process)

			mu.Lock()
			defer mu.Unlock()
			result.Processed++
			switch outcome {
			case itemSucceeded:
				result.Succeeded++
			case itemSkipped:
				result.Skipped++
			case itemFailed:
				result.Failed++
				if err != nil && !errors.Is(err, errDeclined) {
					result.Errors = append(result.Errors, fmt.Errorf("%s: subscription %s: %w", job, sub.ID, err))
				}
			}
			return nil
		})
	}
	_ = g.Wait()
}

// processOne isolates a single subscription, including panics in collaborators
func (s *Scheduler) processOne(
	ctx context.Context,
	job string,
	sub *models.Subscription,
	process func(ctx context.Context, sub *models.Subscription) (itemResult, error),
) (outcome itemResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome = itemFailed
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil && !errors.Is(err, errDeclined) {
			s.logger.Error("scheduler item failed",
				ports.String("job", job),
				ports.String("subscription_id", sub.ID),
				ports.Err(err))
		}
	}()

	if ctx.Err() != nil {
		return itemFailed, ctx.Err()
	}
	return process(ctx, sub)
}
