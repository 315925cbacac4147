package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultPlans is the catalogue seeded at startup when the plan table is empty
func DefaultPlans(currency string, now time.Time) []*Plan {
	starter := FeatureLimits{
		MaxContacts:      1000,
		MaxUsers:         5,
		MaxCampaigns:     10,
		MaxConversations: 500,
		MaxFlows:         5,
		MaxAutomations:   5,
		MaxConnections:   2,
	}
	growth := FeatureLimits{
		MaxContacts:      10000,
		MaxUsers:         20,
		MaxCampaigns:     100,
		MaxConversations: 5000,
		MaxFlows:         25,
		MaxAutomations:   25,
		MaxConnections:   5,
		Features: FeatureFlags{
			APIAccess:       true,
			AdvancedReports: true,
			Webhooks:        true,
		},
	}
	pro := FeatureLimits{
		MaxContacts:      Unlimited,
		MaxUsers:         100,
		MaxCampaigns:     Unlimited,
		MaxConversations: Unlimited,
		MaxFlows:         Unlimited,
		MaxAutomations:   Unlimited,
		MaxConnections:   20,
		Features: FeatureFlags{
			APIAccess:       true,
			CustomBranding:  true,
			AdvancedReports: true,
			PrioritySupport: true,
			Webhooks:        true,
		},
	}

	plan := func(id, name, price string, cycle BillingCycle, limits FeatureLimits, order int) *Plan {
		return &Plan{
			ID:           id,
			Name:         name,
			Price:        decimal.RequireFromString(price),
			Currency:     currency,
			BillingCycle: cycle,
			Limits:       limits,
			SortOrder:    order,
			Active:       true,
			CreatedAt:    now,
		}
	}

	return []*Plan{
		plan("starter-monthly", "Starter", "49", BillingCycleMonthly, starter, 10),
		plan("growth-monthly", "Growth", "149", BillingCycleMonthly, growth, 20),
		plan("pro-monthly", "Pro", "299", BillingCycleMonthly, pro, 30),
		plan("starter-annual", "Starter Annual", "490", BillingCycleAnnual, starter, 40),
		plan("growth-annual", "Growth Annual", "1490", BillingCycleAnnual, growth, 50),
		plan("pro-annual", "Pro Annual", "2990", BillingCycleAnnual, pro, 60),
	}
}
