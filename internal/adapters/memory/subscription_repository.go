package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"github.com/kevin07696/subscription-service/internal/domain"
	"github.com/kevin07696/subscription-service/internal/domain/models"
	"github.com/kevin07696/subscription-service/internal/domain/ports"
)

// SubscriptionRepository implements ports.SubscriptionRepository over a Store
type SubscriptionRepository struct {
	store *Store
}

var _ ports.SubscriptionRepository = (*SubscriptionRepository)(nil)

// NewSubscriptionRepository creates a subscription repository
func NewSubscriptionRepository(store *Store) *SubscriptionRepository {
	return &SubscriptionRepository{store: store}
}

// Create inserts a new subscription
func (r *SubscriptionRepository) Create(ctx context.Context, tx ports.DBTX, sub *models.Subscription) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, exists := r.store.subscriptions[sub.ID]; exists {
		return fmt.Errorf("create subscription: id %s already exists", sub.ID)
	}
	r.store.subscriptions[sub.ID] = sub.Clone()
	return nil
}

// GetByID returns a copy of the subscription
func (r *SubscriptionRepository) GetByID(ctx context.Context, tx ports.DBTX, id string) (*models.Subscription, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	sub, ok := r.store.subscriptions[id]
	if !ok {
		return nil, fmt.Errorf("get subscription %s: %w", id, domain.ErrSubscriptionNotFound)
	}
	return sub.Clone(), nil
}

// GetByGatewayID finds the subscription linked to a provider-side id
func (r *SubscriptionRepository) GetByGatewayID(ctx context.Context, tx ports.DBTX, provider models.Provider, gatewaySubscriptionID string) (*models.Subscription, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	for _, sub := range r.store.subscriptions {
		if sub.Provider == provider && sub.GatewaySubscriptionID != "" && sub.GatewaySubscriptionID == gatewaySubscriptionID {
			return sub.Clone(), nil
		}
	}
	return nil, fmt.Errorf("get subscription by gateway id %s: %w", gatewaySubscriptionID, domain.ErrSubscriptionNotFound)
}

// Update replaces the stored subscription
func (r *SubscriptionRepository) Update(ctx context.Context, tx ports.DBTX, sub *models.Subscription) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.store.subscriptions[sub.ID]; !ok {
		return fmt.Errorf("update subscription %s: %w", sub.ID, domain.ErrSubscriptionNotFound)
	}
	r.store.subscriptions[sub.ID] = sub.Clone()
	return nil
}

// ListByTenant lists a tenant's subscriptions, newest first
func (r *SubscriptionRepository) ListByTenant(ctx context.Context, tx ports.DBTX, tenantID string) ([]*models.Subscription, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var out []*models.Subscription
	for _, sub := range r.store.subscriptions {
		if sub.TenantID == tenantID {
			out = append(out, sub.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// List returns subscriptions matching the filter ordered by period end
func (r *SubscriptionRepository) List(ctx context.Context, tx ports.DBTX, filter ports.SubscriptionFilter) ([]*models.Subscription, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var out []*models.Subscription
	for _, sub := range r.store.subscriptions {
		if matches(sub, filter) {
			out = append(out, sub.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CurrentPeriodEnd.Equal(out[j].CurrentPeriodEnd) {
			return out[i].ID < out[j].ID
		}
		return out[i].CurrentPeriodEnd.Before(out[j].CurrentPeriodEnd)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func matches(sub *models.Subscription, f ports.SubscriptionFilter) bool {
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, sub.Status) {
		return false
	}
	if f.PeriodEndUntil != nil && sub.CurrentPeriodEnd.After(*f.PeriodEndUntil) {
		return false
	}
	if f.GraceEndBefore != nil && (sub.GracePeriodEnd == nil || !sub.GracePeriodEnd.Before(*f.GraceEndBefore)) {
		return false
	}
	if f.AutoRenew != nil && sub.AutoRenew != *f.AutoRenew {
		return false
	}
	if f.LastAttemptBy != nil && sub.LastRenewalAttemptAt != nil && sub.LastRenewalAttemptAt.After(*f.LastAttemptBy) {
		return false
	}
	if f.ExcludeCancelAtPeriodEnd && sub.CancelAtPeriodEnd() {
		return false
	}
	if f.RolloverDue && !rolloverDue(sub) {
		return false
	}
	if f.After != nil && !afterCursor(sub, f.After) {
		return false
	}
	return true
}

func rolloverDue(sub *models.Subscription) bool {
	if sub.CancelAtPeriodEnd() {
		return true
	}
	if _, ok := sub.ScheduledDowngrade(); ok {
		return true
	}
	return !sub.AutoRenew && sub.Status == models.SubscriptionStatusActive
}

func afterCursor(sub *models.Subscription, c *ports.ListCursor) bool {
	if sub.CurrentPeriodEnd.Equal(c.PeriodEnd) {
		return sub.ID > c.ID
	}
	return sub.CurrentPeriodEnd.After(c.PeriodEnd)
}
