package ports

import (
	"context"
	"time"

	"github.com/kevin07696/subscription-service/internal/domain/models"
	"github.com/shopspring/decimal"
)

// CreateSubscriptionRequest contains parameters for creating a subscription
type CreateSubscriptionRequest struct {
	TenantID      string
	PlanID        string
	Provider      models.Provider
	Email         string
	PaymentMethod string // optional; without it activation waits for gateway confirmation
	AutoRenew     *bool  // defaults to true
}

// PlanChangeRequest targets a new plan for an existing subscription
type PlanChangeRequest struct {
	SubscriptionID string
	TenantID       string
	TargetPlanID   string
}

// CancelSubscriptionRequest contains parameters for canceling a subscription
type CancelSubscriptionRequest struct {
	SubscriptionID string
	TenantID       string
	Reason         string
	Immediate      bool
}

// ReactivateSubscriptionRequest pays the outstanding balance of a suspended subscription
type ReactivateSubscriptionRequest struct {
	SubscriptionID string
	TenantID       string
	PaymentMethod  string
}

// ApplyCouponRequest records a discount code on a subscription
type ApplyCouponRequest struct {
	SubscriptionID string
	TenantID       string
	Code           string
}

// ConfirmUpgradeRequest applies a pending upgrade whose charge was confirmed out of band
type ConfirmUpgradeRequest struct {
	SubscriptionID string
	TenantID       string
	TransactionID  string
}

// ReportUsageRequest carries the counters the product side measured for a tenant
type ReportUsageRequest struct {
	TenantID string
	Usage    models.Usage
}

// UsageReport is a tenant's consumption against the caps of its live subscription
type UsageReport struct {
	TenantID       string                  `json:"tenant_id"`
	SubscriptionID string                  `json:"subscription_id,omitempty"`
	Usage          models.Usage            `json:"usage"`
	Limits         *models.FeatureLimits   `json:"limits,omitempty"`
	Violations     []models.QuotaViolation `json:"violations"`
	NewWarnings    []models.Resource       `json:"new_warnings,omitempty"`
}

// SubscriptionService is the command surface consumed by the API layer.
// An empty TenantID skips the tenant guard (internal callers).
type SubscriptionService interface {
	CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) (*models.Subscription, error)
	UpgradePlan(ctx context.Context, req PlanChangeRequest) (*models.Subscription, error)
	DowngradePlan(ctx context.Context, req PlanChangeRequest) (*models.Subscription, error)
	CancelSubscription(ctx context.Context, req CancelSubscriptionRequest) (*models.Subscription, error)
	ReactivateSubscription(ctx context.Context, req ReactivateSubscriptionRequest) (*models.Subscription, error)
	ApplyCoupon(ctx context.Context, req ApplyCouponRequest) (*models.Subscription, error)
	ConfirmUpgrade(ctx context.Context, req ConfirmUpgradeRequest) (*models.Subscription, error)
	SyncStatus(ctx context.Context, subscriptionID, tenantID string) (*models.Subscription, error)

	GetSubscription(ctx context.Context, subscriptionID, tenantID string) (*models.Subscription, error)
	ListTenantSubscriptions(ctx context.Context, tenantID string) ([]*models.Subscription, error)
	ListInvoices(ctx context.Context, subscriptionID, tenantID string) ([]*models.Invoice, error)
	ListPlans(ctx context.Context) ([]*models.Plan, error)

	ReportUsage(ctx context.Context, req ReportUsageRequest) (*UsageReport, error)
	GetUsage(ctx context.Context, tenantID string) (*UsageReport, error)
}

// Confirmation sources
const (
	SourceWebhook     = "webhook"
	SourceManual      = "manual"
	SourceSynchronous = "synchronous" // confirmed in the gateway's direct response
)

// ChargeConfirmation is a successful or failed charge reported for a subscription
type ChargeConfirmation struct {
	PeriodStart   *time.Time
	PeriodEnd     *time.Time
	Amount        decimal.Decimal // as reported by the provider
	Provider      models.Provider
	ChargeID      string
	Currency      string
	EventID       string
	Purpose       string
	Source        string
	FailureReason string
}

// ChargeOutcome describes what a confirmed charge changed
type ChargeOutcome struct {
	Subscription     *models.Subscription
	Invoice          *models.Invoice
	Duplicate        bool
	Activated        bool
	UpgradeCompleted bool
}

// ChargeFailureOutcome describes what a failed charge changed
type ChargeFailureOutcome struct {
	Subscription     *models.Subscription
	FromStatus       models.SubscriptionStatus
	UpgradeAbandoned bool
	Transitioned     bool
}

// RenewalResult is the remote verdict gathered outside the lock
type RenewalResult struct {
	RemotePeriodEnd *time.Time
	RemoteStatus    string
	Reason          string
	Success         bool
}

// RenewalOutcome describes what a renewal attempt changed
type RenewalOutcome struct {
	Subscription *models.Subscription
	Attempt      int
	Skipped      bool
	Renewed      bool
	EnteredGrace bool
}

// RolloverAction is what happened at a lapsed period boundary
type RolloverAction string

const (
	RolloverNone       RolloverAction = "none"
	RolloverCancelled  RolloverAction = "cancelled"
	RolloverDowngraded RolloverAction = "downgraded"
	RolloverExpired    RolloverAction = "expired"
)

// SubscriptionLifecycle are the transitions driven by gateway notifications and
// the scheduler. Every method serializes on the subscription.
type SubscriptionLifecycle interface {
	ApplyChargeSucceeded(ctx context.Context, subscriptionID string, charge ChargeConfirmation) (*ChargeOutcome, error)
	ApplyChargeFailed(ctx context.Context, subscriptionID string, charge ChargeConfirmation) (*ChargeFailureOutcome, error)
	ApplyRemoteStatus(ctx context.Context, subscriptionID string, status models.SubscriptionStatus, periodEnd *time.Time) (*models.Subscription, error)
	ApplyRenewalResult(ctx context.Context, subscriptionID string, result RenewalResult) (*RenewalOutcome, error)
	ExpireGracePeriod(ctx context.Context, subscriptionID string) (*models.Subscription, bool, error)
	RollOverPeriod(ctx context.Context, subscriptionID string) (*models.Subscription, RolloverAction, error)
	SendRenewalReminder(ctx context.Context, subscriptionID string, daysBefore int) (bool, error)
}
