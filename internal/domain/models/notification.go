package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// NotificationKind names a lifecycle message sent to the tenant
type NotificationKind string

const (
	NotifySubscriptionActivated   NotificationKind = "subscription_activated"
	NotifyPaymentSucceeded        NotificationKind = "payment_succeeded"
	NotifyPaymentFailed           NotificationKind = "payment_failed"
	NotifyRenewalFailed           NotificationKind = "renewal_failed"
	NotifyGracePeriodStarted      NotificationKind = "grace_period_started"
	NotifySubscriptionSuspended   NotificationKind = "subscription_suspended"
	NotifyRenewalReminder         NotificationKind = "renewal_reminder"
	NotifySubscriptionCancelled   NotificationKind = "subscription_cancelled"
	NotifySubscriptionExpired     NotificationKind = "subscription_expired"
	NotifySubscriptionReactivated NotificationKind = "subscription_reactivated"
	NotifyPlanUpgraded            NotificationKind = "plan_upgraded"
	NotifyPlanDowngraded          NotificationKind = "plan_downgraded"
	NotifyDowngradeScheduled      NotificationKind = "downgrade_scheduled"
)

// Notification is handed to the notification sink; delivery is its concern
type Notification struct {
	OccurredAt   time.Time        `json:"occurred_at"`
	DueDate      *time.Time       `json:"due_date,omitempty"`
	Subscription *Subscription    `json:"subscription"`
	Invoice      *Invoice         `json:"invoice,omitempty"`
	Amount       decimal.Decimal  `json:"amount"`
	Kind         NotificationKind `json:"kind"`
	PlanName     string           `json:"plan_name,omitempty"`
	Reason       string           `json:"reason,omitempty"`
	Attempt      int              `json:"attempt,omitempty"`
	MaxAttempts  int              `json:"max_attempts,omitempty"`
	DaysLeft     int              `json:"days_left,omitempty"`
}
