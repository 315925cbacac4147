package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kevin07696/subscription-service/internal/domain"
	"github.com/kevin07696/subscription-service/internal/domain/models"
	"github.com/kevin07696/subscription-service/internal/domain/ports"
)

const planColumns = `id, name, price, currency, billing_cycle, limits, provider_price_ids, sort_order, active, created_at`

// PlanRepository implements ports.PlanRepository
type PlanRepository struct {
	pool *pgxpool.Pool
}

var _ ports.PlanRepository = (*PlanRepository)(nil)

// NewPlanRepository creates a plan repository
func NewPlanRepository(db *DBExecutor) *PlanRepository {
	return &PlanRepository{pool: db.GetDB()}
}

// GetByID returns a plan, active or not
func (r *PlanRepository) GetByID(ctx context.Context, tx ports.DBTX, id string) (*models.Plan, error) {
	plan, err := scanPlan(conn(r.pool, tx).QueryRow(ctx,
		`SELECT `+planColumns+` FROM plans WHERE id = $1`, id))
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("get plan %s: %w", id, domain.ErrPlanNotFound)
		}
		return nil, fmt.Errorf("get plan %s: %w", id, err)
	}
	return plan, nil
}

// ListActive lists active plans by sort order
func (r *PlanRepository) ListActive(ctx context.Context, tx ports.DBTX) ([]*models.Plan, error) {
	rows, err := conn(r.pool, tx).Query(ctx,
		`SELECT `+planColumns+` FROM plans WHERE active ORDER BY sort_order ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	var out []*models.Plan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, plan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate plans: %w", err)
	}
	return out, nil
}

// Upsert inserts or replaces a plan
func (r *PlanRepository) Upsert(ctx context.Context, tx ports.DBTX, plan *models.Plan) error {
	price, err := decimalToNumeric(plan.Price)
	if err != nil {
		return err
	}
	limits, err := json.Marshal(plan.Limits)
	if err != nil {
		return fmt.Errorf("marshal limits: %w", err)
	}
	priceIDs := plan.ProviderPriceIDs
	if priceIDs == nil {
		priceIDs = map[models.Provider]string{}
	}
	priceIDsJSON, err := json.Marshal(priceIDs)
	if err != nil {
		return fmt.Errorf("marshal provider price ids: %w", err)
	}

	createdAt := plan.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = conn(r.pool, tx).Exec(ctx, `
		INSERT INTO plans (id, name, price, currency, billing_cycle, limits, provider_price_ids, sort_order, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			price = EXCLUDED.price,
			currency = EXCLUDED.currency,
			billing_cycle = EXCLUDED.billing_cycle,
			limits = EXCLUDED.limits,
			provider_price_ids = EXCLUDED.provider_price_ids,
			sort_order = EXCLUDED.sort_order,
			active = EXCLUDED.active,
			updated_at = NOW()`,
		plan.ID, plan.Name, price, plan.Currency, string(plan.BillingCycle),
		limits, priceIDsJSON, int32(plan.SortOrder), plan.Active, createdAt,
	)
	if err != nil {
		return fmt.Errorf("upsert plan %s: %w", plan.ID, err)
	}
	return nil
}

func scanPlan(row pgx.Row) (*models.Plan, error) {
	var (
		plan      models.Plan
		price     pgtype.Numeric
		cycle     string
		limits    []byte
		priceIDs  []byte
		sortOrder int32
	)
	if err := row.Scan(&plan.ID, &plan.Name, &price, &plan.Currency, &cycle,
		&limits, &priceIDs, &sortOrder, &plan.Active, &plan.CreatedAt); err != nil {
		return nil, err
	}

	var err error
	if plan.Price, err = pgNumericToDecimal(price); err != nil {
		return nil, fmt.Errorf("convert price of plan %s: %w", plan.ID, err)
	}
	plan.BillingCycle = models.BillingCycle(cycle)
	plan.SortOrder = int(sortOrder)
	if err := json.Unmarshal(limits, &plan.Limits); err != nil {
		return nil, fmt.Errorf("unmarshal limits of plan %s: %w", plan.ID, err)
	}
	if err := json.Unmarshal(priceIDs, &plan.ProviderPriceIDs); err != nil {
		return nil, fmt.Errorf("unmarshal price ids of plan %s: %w", plan.ID, err)
	}
	if len(plan.ProviderPriceIDs) == 0 {
		plan.ProviderPriceIDs = nil
	}
	return &plan, nil
}
