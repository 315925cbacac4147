package ports

import (
	"context"

	"github.com/kevin07696/subscription-service/internal/domain/models"
)

// PlanRepository reads and maintains the plan catalogue
type PlanRepository interface {
	GetByID(ctx context.Context, tx DBTX, id string) (*models.Plan, error)
	ListActive(ctx context.Context, tx DBTX) ([]*models.Plan, error)
	Upsert(ctx context.Context, tx DBTX, plan *models.Plan) error
}
