package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kevin07696/subscription-service/internal/domain"
	"github.com/kevin07696/subscription-service/internal/domain/models"
	"github.com/kevin07696/subscription-service/internal/domain/ports"
)

const subscriptionColumns = `id::text, tenant_id, plan_id, status, provider,
	gateway_subscription_id, gateway_customer_id, payment_method_token, checkout_url,
	customer_email, currency, start_date, end_date, current_period_start, current_period_end,
	auto_renew, renewal_attempts, last_renewal_attempt_at, grace_period_end, reminders_sent,
	plan_change, cancellation, discount, entitlements, created_at, updated_at`

// SubscriptionRepository implements ports.SubscriptionRepository with raw SQL
type SubscriptionRepository struct {
	pool *pgxpool.Pool
}

var _ ports.SubscriptionRepository = (*SubscriptionRepository)(nil)

// NewSubscriptionRepository creates a new subscription repository
func NewSubscriptionRepository(db *DBExecutor) *SubscriptionRepository {
	return &SubscriptionRepository{pool: db.GetDB()}
}

// subscriptionRow holds the encoded column values shared by Create and Update
type subscriptionRow struct {
	reminders    []int32
	planChange   []byte
	cancellation []byte
	discount     []byte
	entitlements []byte
}

func encodeSubscription(sub *models.Subscription) (*subscriptionRow, error) {
	var (
		row subscriptionRow
		err error
	)
	row.reminders = remindersToArray(sub.RemindersSent)
	if row.planChange, err = encodePlanChange(sub.PlanChange); err != nil {
		return nil, fmt.Errorf("marshal plan change: %w", err)
	}
	if row.cancellation, err = jsonOrNull(sub.Cancellation); err != nil {
		return nil, fmt.Errorf("marshal cancellation: %w", err)
	}
	if row.discount, err = jsonOrNull(sub.Discount); err != nil {
		return nil, fmt.Errorf("marshal discount: %w", err)
	}
	if row.entitlements, err = json.Marshal(sub.Entitlements); err != nil {
		return nil, fmt.Errorf("marshal entitlements: %w", err)
	}
	return &row, nil
}

// Create inserts a new subscription
func (r *SubscriptionRepository) Create(ctx context.Context, tx ports.DBTX, sub *models.Subscription) error {
	subID, err := uuid.Parse(sub.ID)
	if err != nil {
		return fmt.Errorf("invalid subscription ID: %w", err)
	}

	row, err := encodeSubscription(sub)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	if sub.UpdatedAt.IsZero() {
		sub.UpdatedAt = now
	}

	_, err = conn(r.pool, tx).Exec(ctx, `
		INSERT INTO subscriptions (
			id, tenant_id, plan_id, status, provider,
			gateway_subscription_id, gateway_customer_id, payment_method_token, checkout_url,
			customer_email, currency, start_date, end_date, current_period_start, current_period_end,
			auto_renew, renewal_attempts, last_renewal_attempt_at, grace_period_end, reminders_sent,
			plan_change, cancellation, discount, entitlements, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26
		)`,
		subID, sub.TenantID, sub.PlanID, string(sub.Status), string(sub.Provider),
		nullText(sub.GatewaySubscriptionID), nullText(sub.GatewayCustomerID),
		nullText(sub.PaymentMethodToken), nullText(sub.CheckoutURL),
		sub.CustomerEmail, sub.Currency, sub.StartDate, sub.EndDate,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
		sub.AutoRenew, int32(sub.RenewalAttempts), sub.LastRenewalAttemptAt, sub.GracePeriodEnd,
		row.reminders, row.planChange, row.cancellation, row.discount, row.entitlements,
		sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.WrapError(domain.ErrorCodeInvalidTransition, "subscription conflicts with a live subscription of the tenant or gateway", err)
		}
		return fmt.Errorf("create subscription: %w", err)
	}
	return nil
}

// GetByID retrieves a subscription. Inside a transaction the row is locked
// until commit so concurrent lifecycle operations serialize.
func (r *SubscriptionRepository) GetByID(ctx context.Context, tx ports.DBTX, id string) (*models.Subscription, error) {
	subID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("get subscription %s: %w", id, domain.ErrSubscriptionNotFound)
	}

	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1`
	if tx != nil {
		query += ` FOR UPDATE`
	}

	sub, err := scanSubscription(conn(r.pool, tx).QueryRow(ctx, query, subID))
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("get subscription %s: %w", id, domain.ErrSubscriptionNotFound)
		}
		return nil, fmt.Errorf("get subscription %s: %w", id, err)
	}
	return sub, nil
}

// GetByGatewayID finds the subscription linked to a provider-side subscription id
func (r *SubscriptionRepository) GetByGatewayID(ctx context.Context, tx ports.DBTX, provider models.Provider, gatewaySubscriptionID string) (*models.Subscription, error) {
	if gatewaySubscriptionID == "" {
		return nil, fmt.Errorf("get subscription by gateway id: %w", domain.ErrSubscriptionNotFound)
	}

	sub, err := scanSubscription(conn(r.pool, tx).QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE provider = $1 AND gateway_subscription_id = $2`,
		string(provider), gatewaySubscriptionID,
	))
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("get subscription by gateway id %s: %w", gatewaySubscriptionID, domain.ErrSubscriptionNotFound)
		}
		return nil, fmt.Errorf("get subscription by gateway id %s: %w", gatewaySubscriptionID, err)
	}
	return sub, nil
}

// Update persists every mutable field
func (r *SubscriptionRepository) Update(ctx context.Context, tx ports.DBTX, sub *models.Subscription) error {
	subID, err := uuid.Parse(sub.ID)
	if err != nil {
		return fmt.Errorf("update subscription %s: %w", sub.ID, domain.ErrSubscriptionNotFound)
	}

	row, err := encodeSubscription(sub)
	if err != nil {
		return err
	}
	sub.UpdatedAt = time.Now().UTC()

	tag, err := conn(r.pool, tx).Exec(ctx, `
		UPDATE subscriptions SET
			plan_id = $2,
			status = $3,
			gateway_subscription_id = $4,
			gateway_customer_id = $5,
			payment_method_token = $6,
			checkout_url = $7,
			customer_email = $8,
			start_date = $9,
			end_date = $10,
			current_period_start = $11,
			current_period_end = $12,
			auto_renew = $13,
			renewal_attempts = $14,
			last_renewal_attempt_at = $15,
			grace_period_end = $16,
			reminders_sent = $17,
			plan_change = $18,
			cancellation = $19,
			discount = $20,
			entitlements = $21,
			updated_at = $22
		WHERE id = $1`,
		subID, sub.PlanID, string(sub.Status),
		nullText(sub.GatewaySubscriptionID), nullText(sub.GatewayCustomerID),
		nullText(sub.PaymentMethodToken), nullText(sub.CheckoutURL),
		sub.CustomerEmail, sub.StartDate, sub.EndDate,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
		sub.AutoRenew, int32(sub.RenewalAttempts), sub.LastRenewalAttemptAt, sub.GracePeriodEnd,
		row.reminders, row.planChange, row.cancellation, row.discount, row.entitlements,
		sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update subscription %s: %w", sub.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update subscription %s: %w", sub.ID, domain.ErrSubscriptionNotFound)
	}
	return nil
}

// ListByTenant lists a tenant's subscriptions, newest first
func (r *SubscriptionRepository) ListByTenant(ctx context.Context, tx ports.DBTX, tenantID string) ([]*models.Subscription, error) {
	rows, err := conn(r.pool, tx).Query(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE tenant_id = $1
		ORDER BY created_at DESC, id DESC`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions for tenant %s: %w", tenantID, err)
	}
	return collectSubscriptions(rows)
}

// List returns subscriptions matching the filter ordered by current_period_end, then id
func (r *SubscriptionRepository) List(ctx context.Context, tx ports.DBTX, filter ports.SubscriptionFilter) ([]*models.Subscription, error) {
	query, args := buildListQuery(filter)

	rows, err := conn(r.pool, tx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return collectSubscriptions(rows)
}

const cancelAtPeriodEndSQL = "COALESCE((cancellation->>'at_period_end')::boolean, false)"

func buildListQuery(filter ports.SubscriptionFilter) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		conds = append(conds, "status = ANY("+arg(statuses)+")")
	}
	if filter.PeriodEndUntil != nil {
		conds = append(conds, "current_period_end <= "+arg(*filter.PeriodEndUntil))
	}
	if filter.GraceEndBefore != nil {
		conds = append(conds, "grace_period_end < "+arg(*filter.GraceEndBefore))
	}
	if filter.AutoRenew != nil {
		conds = append(conds, "auto_renew = "+arg(*filter.AutoRenew))
	}
	if filter.LastAttemptBy != nil {
		conds = append(conds, "(last_renewal_attempt_at IS NULL OR last_renewal_attempt_at <= "+arg(*filter.LastAttemptBy)+")")
	}
	if filter.ExcludeCancelAtPeriodEnd {
		conds = append(conds, "NOT "+cancelAtPeriodEndSQL)
	}
	if filter.RolloverDue {
		conds = append(conds, "("+cancelAtPeriodEndSQL+
			" OR plan_change->>'kind' = '"+planChangeDowngrade+"'"+
			" OR (NOT auto_renew AND status = '"+string(models.SubscriptionStatusActive)+"'))")
	}
	if filter.After != nil {
		conds = append(conds, "(current_period_end, id) > ("+arg(filter.After.PeriodEnd)+", "+arg(filter.After.ID)+"::uuid)")
	}

	var b strings.Builder
	b.WriteString(`SELECT ` + subscriptionColumns + ` FROM subscriptions`)
	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	b.WriteString(" ORDER BY current_period_end ASC, id ASC")
	if filter.Limit > 0 {
		b.WriteString(" LIMIT " + arg(filter.Limit))
	}
	return b.String(), args
}

func collectSubscriptions(rows pgx.Rows) ([]*models.Subscription, error) {
	defer rows.Close()

	var out []*models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscriptions: %w", err)
	}
	return out, nil
}

func scanSubscription(row pgx.Row) (*models.Subscription, error) {
	var (
		sub                models.Subscription
		status, provider   string
		gatewaySubID       pgtype.Text
		gatewayCustomerID  pgtype.Text
		paymentMethodToken pgtype.Text
		checkoutURL        pgtype.Text
		renewalAttempts    int32
		reminders          []int32
		planChange         []byte
		cancellation       []byte
		discount           []byte
		entitlements       []byte
	)

	err := row.Scan(
		&sub.ID, &sub.TenantID, &sub.PlanID, &status, &provider,
		&gatewaySubID, &gatewayCustomerID, &paymentMethodToken, &checkoutURL,
		&sub.CustomerEmail, &sub.Currency, &sub.StartDate, &sub.EndDate,
		&sub.CurrentPeriodStart, &sub.CurrentPeriodEnd,
		&sub.AutoRenew, &renewalAttempts, &sub.LastRenewalAttemptAt, &sub.GracePeriodEnd, &reminders,
		&planChange, &cancellation, &discount, &entitlements, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	sub.Status = models.SubscriptionStatus(status)
	sub.Provider = models.Provider(provider)
	sub.GatewaySubscriptionID = gatewaySubID.String
	sub.GatewayCustomerID = gatewayCustomerID.String
	sub.PaymentMethodToken = paymentMethodToken.String
	sub.CheckoutURL = checkoutURL.String
	sub.RenewalAttempts = int(renewalAttempts)
	sub.RemindersSent = remindersFromArray(reminders)

	if sub.PlanChange, err = decodePlanChange(planChange); err != nil {
		return nil, fmt.Errorf("unmarshal plan change of %s: %w", sub.ID, err)
	}
	if sub.Cancellation, err = decodeJSON[models.Cancellation](cancellation); err != nil {
		return nil, fmt.Errorf("unmarshal cancellation of %s: %w", sub.ID, err)
	}
	if sub.Discount, err = decodeJSON[models.Discount](discount); err != nil {
		return nil, fmt.Errorf("unmarshal discount of %s: %w", sub.ID, err)
	}
	if len(entitlements) > 0 {
		if err := json.Unmarshal(entitlements, &sub.Entitlements); err != nil {
			return nil, fmt.Errorf("unmarshal entitlements of %s: %w", sub.ID, err)
		}
	}
	return &sub, nil
}
