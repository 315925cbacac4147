package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/kevin07696/subscription-service/internal/domain"
	"github.com/kevin07696/subscription-service/internal/domain/models"
	"github.com/kevin07696/subscription-service/internal/domain/ports"
)

// PlanRepository implements ports.PlanRepository over a Store
type PlanRepository struct {
	store *Store
}

var _ ports.PlanRepository = (*PlanRepository)(nil)

// NewPlanRepository creates a plan repository
func NewPlanRepository(store *Store) *PlanRepository {
	return &PlanRepository{store: store}
}

// GetByID returns a plan, active or not
func (r *PlanRepository) GetByID(ctx context.Context, tx ports.DBTX, id string) (*models.Plan, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	p, ok := r.store.plans[id]
	if !ok {
		return nil, fmt.Errorf("get plan %s: %w", id, domain.ErrPlanNotFound)
	}
	cp := *p
	return &cp, nil
}

// ListActive lists active plans by sort order
func (r *PlanRepository) ListActive(ctx context.Context, tx ports.DBTX) ([]*models.Plan, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var out []*models.Plan
	for _, p := range r.store.plans {
		if p.Active {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder == out[j].SortOrder {
			return out[i].ID < out[j].ID
		}
		return out[i].SortOrder < out[j].SortOrder
	})
	return out, nil
}

// Upsert inserts or replaces a plan
func (r *PlanRepository) Upsert(ctx context.Context, tx ports.DBTX, plan *models.Plan) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	cp := *plan
	r.store.plans[plan.ID] = &cp
	return nil
}
