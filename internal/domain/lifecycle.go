package domain

import (
	"fmt"

	"github.com/kevin07696/subscription-service/internal/domain/models"
)

// transitions is the complete lifecycle graph. Terminal states have no outgoing edges.
var transitions = map[models.SubscriptionStatus][]models.SubscriptionStatus{
	models.SubscriptionStatusPending: {
		models.SubscriptionStatusActive,
		models.SubscriptionStatusPaymentFailed,
		models.SubscriptionStatusCancelled,
	},
	models.SubscriptionStatusActive: {
		models.SubscriptionStatusPastDue,
		models.SubscriptionStatusCancelled,
		models.SubscriptionStatusExpired,
	},
	models.SubscriptionStatusPastDue: {
		models.SubscriptionStatusActive,
		models.SubscriptionStatusSuspended,
		models.SubscriptionStatusCancelled,
	},
	models.SubscriptionStatusSuspended: {
		models.SubscriptionStatusActive,
		models.SubscriptionStatusCancelled,
	},
	// superseded by a newer subscription for the same tenant
	models.SubscriptionStatusPaymentFailed: {
		models.SubscriptionStatusCancelled,
	},
}

// CanTransition reports whether from -> to is an edge of the lifecycle graph
func CanTransition(from, to models.SubscriptionStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition moves the subscription to the target state or returns INVALID_TRANSITION
func Transition(sub *models.Subscription, to models.SubscriptionStatus) error {
	if !CanTransition(sub.Status, to) {
		return NewInvalidTransition(fmt.Sprintf("cannot move subscription from %s to %s", sub.Status, to)).
			WithDetail("subscription_id", sub.ID).
			WithDetail("from", string(sub.Status)).
			WithDetail("to", string(to))
	}
	sub.Status = to
	if to != models.SubscriptionStatusPastDue {
		sub.GracePeriodEnd = nil
	}
	return nil
}

// MapRemoteStatus translates a provider's subscription status vocabulary into a canonical state
func MapRemoteStatus(provider models.Provider, status string) (models.SubscriptionStatus, bool) {
	var m map[string]models.SubscriptionStatus
	switch provider {
	case models.ProviderStripe:
		m = stripeStatuses
	case models.ProviderRazorpay:
		m = razorpayStatuses
	case models.ProviderPayPal:
		m = paypalStatuses
	}
	s, ok := m[status]
	return s, ok
}

var stripeStatuses = map[string]models.SubscriptionStatus{
	"active":             models.SubscriptionStatusActive,
	"trialing":           models.SubscriptionStatusActive,
	"past_due":           models.SubscriptionStatusPastDue,
	"unpaid":             models.SubscriptionStatusSuspended,
	"paused":             models.SubscriptionStatusSuspended,
	"canceled":           models.SubscriptionStatusCancelled,
	"incomplete":         models.SubscriptionStatusPending,
	"incomplete_expired": models.SubscriptionStatusExpired,
}

var razorpayStatuses = map[string]models.SubscriptionStatus{
	"created":       models.SubscriptionStatusPending,
	"authenticated": models.SubscriptionStatusPending,
	"active":        models.SubscriptionStatusActive,
	"pending":       models.SubscriptionStatusPastDue,
	"halted":        models.SubscriptionStatusSuspended,
	"paused":        models.SubscriptionStatusSuspended,
	"cancelled":     models.SubscriptionStatusCancelled,
	"completed":     models.SubscriptionStatusExpired,
	"expired":       models.SubscriptionStatusExpired,
}

var paypalStatuses = map[string]models.SubscriptionStatus{
	"APPROVAL_PENDING": models.SubscriptionStatusPending,
	"APPROVED":         models.SubscriptionStatusPending,
	"ACTIVE":           models.SubscriptionStatusActive,
	"SUSPENDED":        models.SubscriptionStatusSuspended,
	"CANCELLED":        models.SubscriptionStatusCancelled,
	"EXPIRED":          models.SubscriptionStatusExpired,
}
