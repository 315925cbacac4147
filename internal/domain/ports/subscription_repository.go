package ports

import (
	"context"
	"time"

	"github.com/kevin07696/subscription-service/internal/domain/models"
)

// SubscriptionFilter selects subscriptions for scheduler scans
type SubscriptionFilter struct {
	Statuses       []models.SubscriptionStatus
	PeriodEndUntil *time.Time // current_period_end <= value
	GraceEndBefore *time.Time // grace_period_end < value
	AutoRenew      *bool

	// LastAttemptBy keeps rows never attempted or last attempted at or before value
	LastAttemptBy *time.Time
	// ExcludeCancelAtPeriodEnd drops rows carrying a deferred cancellation
	ExcludeCancelAtPeriodEnd bool
	// RolloverDue keeps rows whose lapse needs settling: a deferred
	// cancellation, a scheduled downgrade, or an active row not auto-renewing
	RolloverDue bool

	// After resumes a scan past the last row of the previous page
	After *ListCursor
	Limit int
}

// ListCursor is a keyset position in the (current_period_end, id) order
type ListCursor struct {
	PeriodEnd time.Time
	ID        string
}

// CursorAfter returns the position just past sub
func CursorAfter(sub *models.Subscription) *ListCursor {
	return &ListCursor{PeriodEnd: sub.CurrentPeriodEnd, ID: sub.ID}
}

// SubscriptionRepository defines the interface for subscription persistence.
// A nil tx runs against the connection pool.
type SubscriptionRepository interface {
	// Create inserts a new subscription
	Create(ctx context.Context, tx DBTX, sub *models.Subscription) error

	// GetByID retrieves a subscription; inside a transaction the row is locked for update
	GetByID(ctx context.Context, tx DBTX, id string) (*models.Subscription, error)

	// GetByGatewayID finds the subscription linked to a provider-side subscription id
	GetByGatewayID(ctx context.Context, tx DBTX, provider models.Provider, gatewaySubscriptionID string) (*models.Subscription, error)

	// Update persists every mutable field
	Update(ctx context.Context, tx DBTX, sub *models.Subscription) error

	// ListByTenant lists a tenant's subscriptions, newest first
	ListByTenant(ctx context.Context, tx DBTX, tenantID string) ([]*models.Subscription, error)

	// List returns subscriptions matching the filter ordered by
	// current_period_end, then id
	List(ctx context.Context, tx DBTX, filter SubscriptionFilter) ([]*models.Subscription, error)
}
