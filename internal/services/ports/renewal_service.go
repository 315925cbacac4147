package ports

import (
	"context"
	"net/http"

	"github.com/kevin07696/subscription-service/internal/domain/models"
)

// Job names
const (
	JobRenewals    = "renewals"
	JobReminders   = "reminders"
	JobGraceExpiry = "grace_expiry"
	JobRollover    = "rollover"
)

// JobResult summarizes one scheduler job run
type JobResult struct {
	Job       string
	Errors    []error
	Processed int
	Succeeded int
	Skipped   int
	Failed    int
}

// RenewalScheduler runs the time-driven lifecycle jobs
type RenewalScheduler interface {
	RunRenewals(ctx context.Context) JobResult
	RunReminders(ctx context.Context) JobResult
	RunGraceExpiry(ctx context.Context) JobResult
	RunRollover(ctx context.Context) JobResult
	RunAll(ctx context.Context) []JobResult
}

// WebhookResult reports how an inbound notification was applied
type WebhookResult struct {
	EventID        string
	SubscriptionID string
	Kind           models.EventKind
	Duplicate      bool
	Applied        bool
}

// WebhookReconciler consumes inbound gateway notifications
type WebhookReconciler interface {
	HandleWebhook(ctx context.Context, provider models.Provider, payload []byte, headers http.Header) (*WebhookResult, error)
}
