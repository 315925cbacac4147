package subscription

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/kevin07696/subscription-service/internal/domain"
	"github.com/kevin07696/subscription-service/internal/domain/models"
	"github.com/kevin07696/subscription-service/internal/domain/ports"
	"github.com/kevin07696/subscription-service/internal/services/invoice"
	serviceports "github.com/kevin07696/subscription-service/internal/services/ports"
	"github.com/kevin07696/subscription-service/internal/services/proration"
	"github.com/kevin07696/subscription-service/pkg/observability"
	"github.com/kevin07696/subscription-service/pkg/resilience"
	"github.com/kevin07696/subscription-service/pkg/timeutil"
	"github.com/shopspring/decimal"
)

// Coupon is the discount a code resolves to
type Coupon struct {
	Value decimal.Decimal
	Type  models.DiscountType
}

// Config holds the lifecycle policy
type Config struct {
	Coupons            map[string]Coupon
	ReminderThresholds []int // days before period end
	MaxRenewalAttempts int
	GracePeriod        time.Duration
	MinRetrySpacing    time.Duration // minimum gap between renewal attempts
	RenewalLookahead   time.Duration
}

// DefaultConfig returns the standard retry, grace and reminder policy
func DefaultConfig() Config {
	return Config{
		Coupons:            DefaultCoupons(),
		ReminderThresholds: []int{7, 3, 1},
		MaxRenewalAttempts: 3,
		GracePeriod:        7 * timeutil.Day,
		MinRetrySpacing:    23 * time.Hour,
		RenewalLookahead:   timeutil.Day,
	}
}

// DefaultCoupons is the fixed set of accepted discount codes
func DefaultCoupons() map[string]Coupon {
	return map[string]Coupon{
		"WELCOME10": {Type: models.DiscountPercentage, Value: decimal.NewFromInt(10)},
		"SAVE20":    {Type: models.DiscountPercentage, Value: decimal.NewFromInt(20)},
		"ANNUAL25":  {Type: models.DiscountPercentage, Value: decimal.NewFromInt(25)},
		"FLAT10":    {Type: models.DiscountFixed, Value: decimal.NewFromInt(10)},
	}
}

// ParseCoupons parses CODE:percentage:10 or CODE:fixed:5 entries
func ParseCoupons(entries []string) (map[string]Coupon, error) {
	out := make(map[string]Coupon, len(entries))
	for _, entry := range entries {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid coupon %q: expected CODE:TYPE:VALUE", entry)
		}

		typ := models.DiscountType(strings.ToLower(parts[1]))
		if typ != models.DiscountPercentage && typ != models.DiscountFixed {
			return nil, fmt.Errorf("invalid coupon %q: unknown type %q", entry, parts[1])
		}

		value, err := decimal.NewFromString(parts[2])
		if err != nil || !value.IsPositive() {
			return nil, fmt.Errorf("invalid coupon %q: value must be a positive number", entry)
		}
		if typ == models.DiscountPercentage && value.GreaterThan(decimal.NewFromInt(100)) {
			return nil, fmt.Errorf("invalid coupon %q: percentage above 100", entry)
		}

		out[strings.ToUpper(parts[0])] = Coupon{Type: typ, Value: value}
	}
	return out, nil
}

// Deps are the collaborators of the state machine
type Deps struct {
	DB            ports.TransactionManager
	Subscriptions ports.SubscriptionRepository
	Plans         ports.PlanRepository
	Invoices      ports.InvoiceRepository
	Gateways      ports.GatewayResolver
	Locker        ports.Locker
	Notifier      ports.Notifier
	Usage         ports.UsageTracker
	Proration     *proration.Calculator
	Recorder      *invoice.Recorder
	Clock         timeutil.Clock
	Timeouts      *resilience.TimeoutConfig
	Logger        ports.Logger
}

// Service is the subscription state machine. It is the single writer of
// subscription state: every mutation runs under the per-subscription lock
// inside one transaction, and gateway calls happen outside the lock.
type Service struct {
	db        ports.TransactionManager
	subs      ports.SubscriptionRepository
	plans     ports.PlanRepository
	invoices  ports.InvoiceRepository
	gateways  ports.GatewayResolver
	locker    ports.Locker
	notifier  ports.Notifier
	usage     ports.UsageTracker
	proration *proration.Calculator
	recorder  *invoice.Recorder
	clock     timeutil.Clock
	timeouts  *resilience.TimeoutConfig
	logger    ports.Logger
	cfg       Config
}

var (
	_ serviceports.SubscriptionService   = (*Service)(nil)
	_ serviceports.SubscriptionLifecycle = (*Service)(nil)
)

// NewService creates a new subscription state machine
func NewService(deps Deps, cfg Config) *Service {
	if deps.Clock == nil {
		deps.Clock = timeutil.SystemClock{}
	}
	if deps.Timeouts == nil {
		deps.Timeouts = resilience.DefaultTimeoutConfig()
	}
	if deps.Proration == nil {
		deps.Proration = proration.NewCalculator()
	}
	if deps.Recorder == nil {
		deps.Recorder = invoice.NewRecorder(deps.Invoices, nil, decimal.Zero, deps.Clock, deps.Logger)
	}

	thresholds := append([]int(nil), cfg.ReminderThresholds...)
	sort.Sort(sort.Reverse(sort.IntSlice(thresholds)))
	cfg.ReminderThresholds = thresholds
	if cfg.Coupons == nil {
		cfg.Coupons = map[string]Coupon{}
	}

	return &Service{
		db:        deps.DB,
		subs:      deps.Subscriptions,
		plans:     deps.Plans,
		invoices:  deps.Invoices,
		gateways:  deps.Gateways,
		locker:    deps.Locker,
		notifier:  deps.Notifier,
		usage:     deps.Usage,
		proration: deps.Proration,
		recorder:  deps.Recorder,
		clock:     deps.Clock,
		timeouts:  deps.Timeouts,
		logger:    deps.Logger,
		cfg:       cfg,
	}
}

// Config returns the active lifecycle policy
func (s *Service) Config() Config {
	return s.cfg
}

type transitionRecord struct {
	from models.SubscriptionStatus
	to   models.SubscriptionStatus
}

// effects are collected inside a transaction and dispatched after commit
type effects struct {
	transitions   []transitionRecord
	notifications []models.Notification
	documents     []*models.Invoice
	resetQuota    bool
}

func (fx *effects) notify(n models.Notification) {
	fx.notifications = append(fx.notifications, n)
}

type mutation func(ctx context.Context, tx ports.DBTX, sub *models.Subscription, fx *effects) error

func lockKey(subscriptionID string) string {
	return "subscription:" + subscriptionID
}

func tenantLockKey(tenantID string) string {
	return "tenant:" + tenantID
}

// lock waits at most the lock budget for key
func (s *Service) lock(ctx context.Context, key string) (func(), error) {
	lockCtx, cancel := s.timeouts.LockContext(ctx)
	defer cancel()
	return s.locker.Lock(lockCtx, key)
}

// apply runs fn against the locked, freshly loaded subscription in one
// transaction. Side effects run after commit and outside the lock.
func (s *Service) apply(ctx context.Context, subscriptionID string, fn mutation) (*models.Subscription, error) {
	unlock, err := s.lock(ctx, lockKey(subscriptionID))
	if err != nil {
		return nil, fmt.Errorf("lock subscription %s: %w", subscriptionID, err)
	}

	fx := &effects{}
	var result *models.Subscription

	err = s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		dbtx := ports.Executor(tx)

		sub, err := s.subs.GetByID(ctx, dbtx, subscriptionID)
		if err != nil {
			return err
		}
		if err := fn(ctx, dbtx, sub, fx); err != nil {
			return err
		}
		result = sub.Clone()
		return nil
	})
	unlock()

	if err != nil {
		return nil, err
	}

	s.dispatch(ctx, result, fx)
	return result, nil
}

func (s *Service) dispatch(ctx context.Context, sub *models.Subscription, fx *effects) {
	for _, t := range fx.transitions {
		observability.RecordTransition(string(t.from), string(t.to))
		s.logger.Info("subscription state changed",
			ports.String("subscription_id", sub.ID),
			ports.String("tenant_id", sub.TenantID),
			ports.String("from", string(t.from)),
			ports.String("to", string(t.to)))
	}

	// detached so a finished request does not drop notifications
	ctx, cancel := s.timeouts.SideEffectContext(ctx)
	defer cancel()

	for _, inv := range fx.documents {
		s.recorder.AttachDocument(ctx, inv)
	}

	if fx.resetQuota && s.usage != nil {
		if err := s.usage.ResetQuotaWarnings(ctx, sub.TenantID); err != nil {
			s.logger.Warn("failed to reset quota warnings",
				ports.String("tenant_id", sub.TenantID),
				ports.Err(err))
		}
	}

	for _, n := range fx.notifications {
		if n.Subscription == nil {
			n.Subscription = sub
		}
		s.notify(ctx, n)
	}
}

func (s *Service) transition(sub *models.Subscription, to models.SubscriptionStatus, fx *effects) error {
	from := sub.Status
	if err := domain.Transition(sub, to); err != nil {
		return err
	}
	fx.transitions = append(fx.transitions, transitionRecord{from: from, to: to})
	return nil
}

func (s *Service) save(ctx context.Context, tx ports.DBTX, sub *models.Subscription) error {
	sub.UpdatedAt = s.clock.Now()
	if err := s.subs.Update(ctx, tx, sub); err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	return nil
}

func (s *Service) gateway(provider models.Provider) (ports.PaymentGateway, error) {
	gw, err := s.gateways.Gateway(provider)
	if err != nil {
		return nil, fmt.Errorf("resolve %s gateway: %w", provider, err)
	}
	return gw, nil
}

func (s *Service) plan(ctx context.Context, tx ports.DBTX, planID string) (*models.Plan, error) {
	plan, err := s.plans.GetByID(ctx, tx, planID)
	if err != nil {
		return nil, fmt.Errorf("get plan %s: %w", planID, err)
	}
	return plan, nil
}

func checkTenant(sub *models.Subscription, tenantID string) error {
	if tenantID != "" && sub.TenantID != tenantID {
		return domain.NewPermissionDenied("subscription belongs to another tenant").
			WithDetail("subscription_id", sub.ID)
	}
	return nil
}

// gatewayError makes sure a provider failure carries a GATEWAY_* code
func gatewayError(err error) error {
	if domain.IsGatewayError(err) {
		return err
	}
	return domain.WrapError(domain.ErrorCodeGatewayError, "payment gateway call failed", err)
}

func chargeMetadata(sub *models.Subscription, purpose, targetPlanID string) map[string]string {
	md := map[string]string{
		models.MetaSubscriptionID: sub.ID,
		models.MetaTenantID:       sub.TenantID,
		models.MetaPurpose:        purpose,
	}
	if targetPlanID != "" {
		md[models.MetaTargetPlanID] = targetPlanID
	}
	return md
}

// GetSubscription returns a subscription visible to the tenant
func (s *Service) GetSubscription(ctx context.Context, subscriptionID, tenantID string) (*models.Subscription, error) {
	if subscriptionID == "" {
		return nil, domain.NewValidationError("subscription_id is required")
	}

	sub, err := s.subs.GetByID(ctx, nil, subscriptionID)
	if err != nil {
		return nil, err
	}
	if err := checkTenant(sub, tenantID); err != nil {
		return nil, err
	}
	return sub, nil
}

// ListTenantSubscriptions lists every subscription of a tenant, newest first
func (s *Service) ListTenantSubscriptions(ctx context.Context, tenantID string) ([]*models.Subscription, error) {
	if tenantID == "" {
		return nil, domain.NewValidationError("tenant_id is required")
	}
	return s.subs.ListByTenant(ctx, nil, tenantID)
}

// ListInvoices lists the invoices of a subscription, newest first
func (s *Service) ListInvoices(ctx context.Context, subscriptionID, tenantID string) ([]*models.Invoice, error) {
	sub, err := s.GetSubscription(ctx, subscriptionID, tenantID)
	if err != nil {
		return nil, err
	}
	return s.invoices.ListBySubscription(ctx, nil, sub.ID)
}

// ListPlans lists the active plan catalogue
func (s *Service) ListPlans(ctx context.Context) ([]*models.Plan, error) {
	return s.plans.ListActive(ctx, nil)
}
