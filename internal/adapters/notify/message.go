// Package notify delivers lifecycle notifications by e-mail and signed
// outbound webhooks.
package notify

import (
	"fmt"
	"strings"

	"github.com/kevin07696/subscription-service/internal/domain/models"
)

// message is the rendered, channel-neutral content of a notification
type message struct {
	Subject string
	Heading string
	Lines   []string
}

func money(n models.Notification) string {
	currency := ""
	if n.Subscription != nil {
		currency = n.Subscription.Currency
	}
	if n.Invoice != nil {
		currency = n.Invoice.Currency
	}
	return strings.TrimSpace(n.Amount.StringFixed(2) + " " + currency)
}

func planLabel(n models.Notification) string {
	if n.PlanName != "" {
		return n.PlanName
	}
	if n.Subscription != nil {
		return n.Subscription.PlanID
	}
	return "your plan"
}

func compose(n models.Notification) message {
	plan := planLabel(n)

	switch n.Kind {
	case models.NotifySubscriptionActivated:
		return message{
			Subject: "Your subscription is active",
			Heading: "Welcome aboard",
			Lines:   []string{fmt.Sprintf("Your %s subscription is now active.", plan)},
		}
	case models.NotifyPaymentSucceeded:
		lines := []string{fmt.Sprintf("We received your payment of %s for %s.", money(n), plan)}
		if n.Invoice != nil {
			lines = append(lines, fmt.Sprintf("Invoice %s is attached to your account.", n.Invoice.Number))
		}
		return message{Subject: "Payment received", Heading: "Thank you for your payment", Lines: lines}
	case models.NotifyPaymentFailed:
		lines := []string{fmt.Sprintf("We could not collect %s for %s.", money(n), plan)}
		if n.Reason != "" {
			lines = append(lines, "Reason: "+n.Reason)
		}
		return message{Subject: "Payment failed", Heading: "Your payment did not go through", Lines: lines}
	case models.NotifyRenewalFailed:
		return message{
			Subject: "Renewal attempt failed",
			Heading: "We could not renew your subscription",
			Lines: []string{
				fmt.Sprintf("Renewal attempt %d of %d for %s failed.", n.Attempt, n.MaxAttempts, plan),
				"We will retry automatically. Please check your payment method.",
			},
		}
	case models.NotifyGracePeriodStarted:
		lines := []string{fmt.Sprintf("All renewal attempts for %s have failed.", plan)}
		if n.DueDate != nil {
			lines = append(lines, fmt.Sprintf("Update your payment method before %s to keep access.", n.DueDate.Format("January 2, 2006")))
		}
		return message{Subject: "Action required: grace period started", Heading: "Your subscription is in a grace period", Lines: lines}
	case models.NotifySubscriptionSuspended:
		return message{
			Subject: "Your subscription is suspended",
			Heading: "Access suspended",
			Lines:   []string{fmt.Sprintf("Your %s subscription was suspended after the grace period ended. Reactivate it at any time.", plan)},
		}
	case models.NotifyRenewalReminder:
		lines := []string{fmt.Sprintf("Your %s subscription renews in %d day(s).", plan, n.DaysLeft)}
		if !n.Amount.IsZero() {
			lines = append(lines, fmt.Sprintf("You will be charged %s.", money(n)))
		}
		return message{Subject: fmt.Sprintf("Your subscription renews in %d day(s)", n.DaysLeft), Heading: "Upcoming renewal", Lines: lines}
	case models.NotifySubscriptionCancelled:
		lines := []string{fmt.Sprintf("Your %s subscription has been cancelled.", plan)}
		if n.DueDate != nil {
			lines = append(lines, fmt.Sprintf("You keep access until %s.", n.DueDate.Format("January 2, 2006")))
		}
		return message{Subject: "Subscription cancelled", Heading: "We are sorry to see you go", Lines: lines}
	case models.NotifySubscriptionExpired:
		return message{
			Subject: "Your subscription has expired",
			Heading: "Subscription expired",
			Lines:   []string{fmt.Sprintf("Your %s subscription reached the end of its period and was not renewed.", plan)},
		}
	case models.NotifySubscriptionReactivated:
		return message{
			Subject: "Your subscription is active again",
			Heading: "Welcome back",
			Lines:   []string{fmt.Sprintf("Your %s subscription has been reactivated.", plan)},
		}
	case models.NotifyPlanUpgraded:
		return message{
			Subject: "Plan upgraded",
			Heading: "Your plan has been upgraded",
			Lines:   []string{fmt.Sprintf("You are now on %s. A prorated charge of %s was applied.", plan, money(n))},
		}
	case models.NotifyPlanDowngraded:
		return message{
			Subject: "Plan changed",
			Heading: "Your plan has changed",
			Lines:   []string{fmt.Sprintf("You are now on %s.", plan)},
		}
	case models.NotifyDowngradeScheduled:
		lines := []string{fmt.Sprintf("Your plan will change to %s at the end of the current period.", plan)}
		if n.DueDate != nil {
			lines[0] = fmt.Sprintf("Your plan will change to %s on %s.", plan, n.DueDate.Format("January 2, 2006"))
		}
		return message{Subject: "Plan change scheduled", Heading: "Plan change scheduled", Lines: lines}
	default:
		return message{
			Subject: "Subscription update",
			Heading: "Subscription update",
			Lines:   []string{fmt.Sprintf("There is an update on your %s subscription.", plan)},
		}
	}
}
