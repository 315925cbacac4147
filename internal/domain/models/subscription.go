package models

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// SubscriptionStatus represents the lifecycle state of a subscription
type SubscriptionStatus string

const (
	SubscriptionStatusPending       SubscriptionStatus = "pending"
	SubscriptionStatusActive        SubscriptionStatus = "active"
	SubscriptionStatusPastDue       SubscriptionStatus = "past_due"
	SubscriptionStatusSuspended     SubscriptionStatus = "suspended"
	SubscriptionStatusCancelled     SubscriptionStatus = "cancelled"
	SubscriptionStatusExpired       SubscriptionStatus = "expired"
	SubscriptionStatusPaymentFailed SubscriptionStatus = "payment_failed"
)

// IsTerminal reports whether no further transitions are possible
func (s SubscriptionStatus) IsTerminal() bool {
	return s == SubscriptionStatusCancelled || s == SubscriptionStatusExpired
}

// Provider identifies the external payment gateway bound to a subscription
type Provider string

const (
	ProviderStripe   Provider = "stripe"
	ProviderPayPal   Provider = "paypal"
	ProviderRazorpay Provider = "razorpay"
)

// IsValid reports whether the provider is supported
func (p Provider) IsValid() bool {
	switch p {
	case ProviderStripe, ProviderPayPal, ProviderRazorpay:
		return true
	}
	return false
}

// UpgradeStatus tracks the one-time charge behind a pending upgrade
type UpgradeStatus string

const (
	UpgradeStatusPendingPayment UpgradeStatus = "pending_payment"
	UpgradeStatusCompleted      UpgradeStatus = "completed"
)

// PlanChange is a plan change in flight. It is either a *PendingUpgrade or a
// *ScheduledDowngrade, never both.
type PlanChange interface {
	planChange()
	TargetPlan() string
}

// PendingUpgrade is an upgrade waiting for its prorated charge to be confirmed
type PendingUpgrade struct {
	InitiatedAt    time.Time       `json:"initiated_at"`
	ProratedAmount decimal.Decimal `json:"prorated_amount"`
	TargetPlanID   string          `json:"target_plan_id"`
	ChargeID       string          `json:"charge_id,omitempty"`
	Status         UpgradeStatus   `json:"status"`
}

func (*PendingUpgrade) planChange() {}

// TargetPlan implements PlanChange
func (u *PendingUpgrade) TargetPlan() string { return u.TargetPlanID }

// InProgress reports whether the upgrade still awaits payment
func (u *PendingUpgrade) InProgress() bool {
	return u != nil && u.Status == UpgradeStatusPendingPayment
}

// ScheduledDowngrade is a downgrade applied when the current period ends
type ScheduledDowngrade struct {
	EffectiveDate time.Time `json:"effective_date"`
	TargetPlanID  string    `json:"target_plan_id"`
}

func (*ScheduledDowngrade) planChange() {}

// TargetPlan implements PlanChange
func (d *ScheduledDowngrade) TargetPlan() string { return d.TargetPlanID }

// Cancellation records a cancellation request
type Cancellation struct {
	RequestedAt time.Time `json:"requested_at"`
	Reason      string    `json:"reason"`
	Immediate   bool      `json:"immediate"`
	AtPeriodEnd bool      `json:"at_period_end"`
}

// DiscountType distinguishes coupon kinds
type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

// Discount is a coupon recorded on a subscription
type Discount struct {
	AppliedAt time.Time       `json:"applied_at"`
	Value     decimal.Decimal `json:"value"`
	Code      string          `json:"code"`
	Type      DiscountType    `json:"type"`
}

// ReminderSet holds the renewal-reminder thresholds (days before period end)
// already sent for the current period
type ReminderSet []int

// Has reports whether the threshold was already sent
func (r ReminderSet) Has(days int) bool {
	return slices.Contains(r, days)
}

// With returns the set including days
func (r ReminderSet) With(days int) ReminderSet {
	if r.Has(days) {
		return r
	}
	out := append(slices.Clone(r), days)
	slices.Sort(out)
	return out
}

// Subscription is a tenant's billing relationship
type Subscription struct {
	StartDate             time.Time          `json:"start_date"`
	EndDate               time.Time          `json:"end_date"`
	CurrentPeriodStart    time.Time          `json:"current_period_start"`
	CurrentPeriodEnd      time.Time          `json:"current_period_end"`
	CreatedAt             time.Time          `json:"created_at"`
	UpdatedAt             time.Time          `json:"updated_at"`
	LastRenewalAttemptAt  *time.Time         `json:"last_renewal_attempt_at,omitempty"`
	GracePeriodEnd        *time.Time         `json:"grace_period_end,omitempty"`
	PlanChange            PlanChange         `json:"-"`
	Cancellation          *Cancellation      `json:"cancellation,omitempty"`
	Discount              *Discount          `json:"discount,omitempty"`
	ID                    string             `json:"id"`
	TenantID              string             `json:"tenant_id"`
	PlanID                string             `json:"plan_id"`
	CustomerEmail         string             `json:"customer_email"`
	Currency              string             `json:"currency"`
	Provider              Provider           `json:"provider"`
	GatewaySubscriptionID string             `json:"gateway_subscription_id,omitempty"`
	GatewayCustomerID     string             `json:"gateway_customer_id,omitempty"`
	PaymentMethodToken    string             `json:"-"`
	CheckoutURL           string             `json:"checkout_url,omitempty"`
	Status                SubscriptionStatus `json:"status"`
	RemindersSent         ReminderSet        `json:"reminders_sent,omitempty"`
	Entitlements          FeatureLimits      `json:"entitlements"`
	RenewalAttempts       int                `json:"renewal_attempts"`
	AutoRenew             bool               `json:"auto_renew"`
}

// PendingUpgrade returns the in-flight upgrade, if any
func (s *Subscription) PendingUpgrade() (*PendingUpgrade, bool) {
	u, ok := s.PlanChange.(*PendingUpgrade)
	return u, ok
}

// ScheduledDowngrade returns the scheduled downgrade, if any
func (s *Subscription) ScheduledDowngrade() (*ScheduledDowngrade, bool) {
	d, ok := s.PlanChange.(*ScheduledDowngrade)
	return d, ok
}

// CancelAtPeriodEnd reports whether a deferred cancellation is recorded
func (s *Subscription) CancelAtPeriodEnd() bool {
	return s.Cancellation != nil && s.Cancellation.AtPeriodEnd
}

// IsActive returns true if the subscription is currently active
func (s *Subscription) IsActive() bool {
	return s.Status == SubscriptionStatusActive
}

// PeriodDays is the length of the current period in whole days (calendar months vary)
func (s *Subscription) PeriodDays() int {
	span := s.CurrentPeriodEnd.Sub(s.CurrentPeriodStart)
	days := int(span / (24 * time.Hour))
	if span%(24*time.Hour) != 0 {
		days++
	}
	return days
}

// StartPeriod sets a fresh billing period [from, cycle.AddTo(from)) and clears per-period bookkeeping
func (s *Subscription) StartPeriod(from time.Time, cycle BillingCycle) {
	s.CurrentPeriodStart = from
	s.CurrentPeriodEnd = cycle.AddTo(from)
	s.EndDate = s.CurrentPeriodEnd
	if s.StartDate.IsZero() || s.StartDate.After(from) {
		s.StartDate = from
	}
	s.RemindersSent = nil
}

// ResetRenewal clears the failure bookkeeping after a successful payment
func (s *Subscription) ResetRenewal() {
	s.RenewalAttempts = 0
	s.GracePeriodEnd = nil
}

// Clone returns a deep copy
func (s *Subscription) Clone() *Subscription {
	if s == nil {
		return nil
	}
	c := *s
	if s.LastRenewalAttemptAt != nil {
		t := *s.LastRenewalAttemptAt
		c.LastRenewalAttemptAt = &t
	}
	if s.GracePeriodEnd != nil {
		t := *s.GracePeriodEnd
		c.GracePeriodEnd = &t
	}
	switch pc := s.PlanChange.(type) {
	case *PendingUpgrade:
		u := *pc
		c.PlanChange = &u
	case *ScheduledDowngrade:
		d := *pc
		c.PlanChange = &d
	}
	if s.Cancellation != nil {
		cn := *s.Cancellation
		c.Cancellation = &cn
	}
	if s.Discount != nil {
		d := *s.Discount
		c.Discount = &d
	}
	c.RemindersSent = slices.Clone(s.RemindersSent)
	return &c
}
