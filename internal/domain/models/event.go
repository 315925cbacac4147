package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventKind is the normalized meaning of an inbound gateway notification
type EventKind string

const (
	EventChargeSucceeded       EventKind = "charge_succeeded"
	EventChargeFailed          EventKind = "charge_failed"
	EventSubscriptionUpdated   EventKind = "subscription_updated"
	EventSubscriptionCancelled EventKind = "subscription_cancelled"
	EventIgnored               EventKind = "ignored"
)

// Metadata keys attached to one-time charges so their notifications can be
// correlated back to a subscription
const (
	MetaSubscriptionID = "subscription_id"
	MetaTenantID       = "tenant_id"
	MetaPurpose        = "purpose"
	MetaTargetPlanID   = "target_plan_id"
	MetaPlanID         = "plan_id"

	PurposeUpgrade      = "upgrade"
	PurposeReactivation = "reactivation"
)

// GatewayEvent is a verified, provider-neutral webhook notification
type GatewayEvent struct {
	OccurredAt            time.Time          `json:"occurred_at"`
	PeriodStart           *time.Time         `json:"period_start,omitempty"`
	PeriodEnd             *time.Time         `json:"period_end,omitempty"`
	Metadata              map[string]string  `json:"metadata,omitempty"`
	Amount                decimal.Decimal    `json:"amount"`
	ID                    string             `json:"id"`
	Type                  string             `json:"type"`
	GatewaySubscriptionID string             `json:"gateway_subscription_id,omitempty"`
	ChargeID              string             `json:"charge_id,omitempty"`
	Currency              string             `json:"currency,omitempty"`
	RemoteStatus          string             `json:"remote_status,omitempty"`
	FailureReason         string             `json:"failure_reason,omitempty"`
	Provider              Provider           `json:"provider"`
	Kind                  EventKind          `json:"kind"`
	Status                SubscriptionStatus `json:"status,omitempty"`
}

// LocalSubscriptionID returns the subscription id carried in charge metadata
func (e *GatewayEvent) LocalSubscriptionID() string {
	if e.Metadata == nil {
		return ""
	}
	return e.Metadata[MetaSubscriptionID]
}
