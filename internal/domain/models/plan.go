package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BillingCycle is the recurrence of a plan's charge
type BillingCycle string

const (
	BillingCycleMonthly   BillingCycle = "monthly"
	BillingCycleQuarterly BillingCycle = "quarterly"
	BillingCycleAnnual    BillingCycle = "annual"
)

// IsValid reports whether the cycle is one of the supported values
func (c BillingCycle) IsValid() bool {
	switch c {
	case BillingCycleMonthly, BillingCycleQuarterly, BillingCycleAnnual:
		return true
	}
	return false
}

// AddTo advances t by one cycle using calendar arithmetic (Jan 31 + 1 month normalizes like time.AddDate).
func (c BillingCycle) AddTo(t time.Time) time.Time {
	switch c {
	case BillingCycleQuarterly:
		return t.AddDate(0, 3, 0)
	case BillingCycleAnnual:
		return t.AddDate(1, 0, 0)
	default:
		return t.AddDate(0, 1, 0)
	}
}

// Unlimited marks a resource cap that is never enforced
const Unlimited int64 = -1

// Resource is a countable quota dimension
type Resource string

const (
	ResourceContacts      Resource = "contacts"
	ResourceUsers         Resource = "users"
	ResourceCampaigns     Resource = "campaigns"
	ResourceConversations Resource = "conversations"
	ResourceFlows         Resource = "flows"
	ResourceAutomations   Resource = "automations"
	ResourceConnections   Resource = "connections"
)

// Resources lists every quota dimension in the order violations are reported
var Resources = []Resource{
	ResourceContacts,
	ResourceUsers,
	ResourceCampaigns,
	ResourceConversations,
	ResourceFlows,
	ResourceAutomations,
	ResourceConnections,
}

// Label returns the human-readable name used in quota messages
func (r Resource) Label() string {
	switch r {
	case ResourceContacts:
		return "Contacts"
	case ResourceUsers:
		return "Users"
	case ResourceCampaigns:
		return "Campaigns"
	case ResourceConversations:
		return "Conversations"
	case ResourceFlows:
		return "Flows"
	case ResourceAutomations:
		return "Automations"
	case ResourceConnections:
		return "Connections"
	default:
		return string(r)
	}
}

// FeatureFlags are the boolean capabilities bundled with a plan
type FeatureFlags struct {
	APIAccess       bool `json:"api_access"`
	CustomBranding  bool `json:"custom_branding"`
	AdvancedReports bool `json:"advanced_reports"`
	PrioritySupport bool `json:"priority_support"`
	Webhooks        bool `json:"webhooks"`
}

// FeatureLimits is the quota bundle of a plan. Negative caps are unlimited.
type FeatureLimits struct {
	MaxContacts      int64        `json:"max_contacts"`
	MaxUsers         int64        `json:"max_users"`
	MaxCampaigns     int64        `json:"max_campaigns"`
	MaxConversations int64        `json:"max_conversations"`
	MaxFlows         int64        `json:"max_flows"`
	MaxAutomations   int64        `json:"max_automations"`
	MaxConnections   int64        `json:"max_connections"`
	Features         FeatureFlags `json:"features"`
}

// Limit returns the cap for a resource
func (l FeatureLimits) Limit(r Resource) int64 {
	switch r {
	case ResourceContacts:
		return l.MaxContacts
	case ResourceUsers:
		return l.MaxUsers
	case ResourceCampaigns:
		return l.MaxCampaigns
	case ResourceConversations:
		return l.MaxConversations
	case ResourceFlows:
		return l.MaxFlows
	case ResourceAutomations:
		return l.MaxAutomations
	case ResourceConnections:
		return l.MaxConnections
	default:
		return Unlimited
	}
}

// Plan is a catalogue entry
type Plan struct {
	CreatedAt        time.Time           `json:"created_at"`
	ProviderPriceIDs map[Provider]string `json:"provider_price_ids,omitempty"`
	Price            decimal.Decimal     `json:"price"`
	ID               string              `json:"id"`
	Name             string              `json:"name"`
	Currency         string              `json:"currency"`
	BillingCycle     BillingCycle        `json:"billing_cycle"`
	Limits           FeatureLimits       `json:"limits"`
	SortOrder        int                 `json:"sort_order"`
	Active           bool                `json:"active"`
}

// PriceRef returns the provider-side price/plan identifier, if configured
func (p *Plan) PriceRef(provider Provider) string {
	if p.ProviderPriceIDs == nil {
		return ""
	}
	return p.ProviderPriceIDs[provider]
}

// Usage is a tenant's current consumption per resource
type Usage map[Resource]int64

// QuotaViolation is one resource whose usage exceeds a target cap
type QuotaViolation struct {
	Resource Resource `json:"resource"`
	Used     int64    `json:"used"`
	Limit    int64    `json:"limit"`
}

// Violations lists every resource whose usage exceeds the given limits, in Resources order
func (u Usage) Violations(limits FeatureLimits) []QuotaViolation {
	var out []QuotaViolation
	for _, r := range Resources {
		limit := limits.Limit(r)
		if limit < 0 {
			continue
		}
		if used := u[r]; used > limit {
			out = append(out, QuotaViolation{Resource: r, Used: used, Limit: limit})
		}
	}
	return out
}
