package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kevin07696/subscription-service/internal/domain"
	"github.com/kevin07696/subscription-service/internal/domain/models"
	"github.com/kevin07696/subscription-service/internal/domain/ports"
)

const invoiceColumns = `id::text, number, subscription_id::text, tenant_id, status, amount, tax, total,
	currency, provider, provider_charge_id, line_items, metadata, document_ref,
	period_start, period_end, issued_at, created_at`

// InvoiceRepository implements ports.InvoiceRepository. Invoices are
// append-only; AttachDocument is the single update.
type InvoiceRepository struct {
	pool *pgxpool.Pool
}

var _ ports.InvoiceRepository = (*InvoiceRepository)(nil)

// NewInvoiceRepository creates an invoice repository
func NewInvoiceRepository(db *DBExecutor) *InvoiceRepository {
	return &InvoiceRepository{pool: db.GetDB()}
}

// Create inserts an invoice. A second invoice for the same provider charge
// fails with domain.ErrInvoiceExists.
func (r *InvoiceRepository) Create(ctx context.Context, tx ports.DBTX, inv *models.Invoice) error {
	invID, err := uuid.Parse(inv.ID)
	if err != nil {
		return fmt.Errorf("invalid invoice ID: %w", err)
	}
	subID, err := uuid.Parse(inv.SubscriptionID)
	if err != nil {
		return fmt.Errorf("invalid subscription ID: %w", err)
	}

	amount, err := decimalToNumeric(inv.Amount)
	if err != nil {
		return err
	}
	tax, err := decimalToNumeric(inv.Tax)
	if err != nil {
		return err
	}
	total, err := decimalToNumeric(inv.Total)
	if err != nil {
		return err
	}

	lineItems := inv.LineItems
	if lineItems == nil {
		lineItems = []models.InvoiceLineItem{}
	}
	lineItemsJSON, err := json.Marshal(lineItems)
	if err != nil {
		return fmt.Errorf("marshal line items: %w", err)
	}
	metadata := inv.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}

	_, err = conn(r.pool, tx).Exec(ctx, `
		INSERT INTO invoices (
			id, number, subscription_id, tenant_id, status, amount, tax, total,
			currency, provider, provider_charge_id, line_items, metadata, document_ref,
			period_start, period_end, issued_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		invID, inv.Number, subID, inv.TenantID, string(inv.Status), amount, tax, total,
		inv.Currency, string(inv.Provider), nullText(inv.ProviderChargeID),
		lineItemsJSON, metadataJSON, nullText(inv.DocumentRef),
		inv.PeriodStart, inv.PeriodEnd, inv.IssuedAt, inv.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create invoice for charge %s: %w", inv.ProviderChargeID, domain.ErrInvoiceExists)
		}
		return fmt.Errorf("create invoice: %w", err)
	}
	return nil
}

// GetByProviderCharge finds the invoice recorded for a provider charge id
func (r *InvoiceRepository) GetByProviderCharge(ctx context.Context, tx ports.DBTX, provider models.Provider, chargeID string) (*models.Invoice, error) {
	inv, err := scanInvoice(conn(r.pool, tx).QueryRow(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE provider = $1 AND provider_charge_id = $2`,
		string(provider), chargeID,
	))
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("get invoice for charge %s: %w", chargeID, domain.ErrInvoiceNotFound)
		}
		return nil, fmt.Errorf("get invoice for charge %s: %w", chargeID, err)
	}
	return inv, nil
}

// ListBySubscription lists invoices, newest first
func (r *InvoiceRepository) ListBySubscription(ctx context.Context, tx ports.DBTX, subscriptionID string) ([]*models.Invoice, error) {
	subID, err := uuid.Parse(subscriptionID)
	if err != nil {
		return nil, nil
	}

	rows, err := conn(r.pool, tx).Query(ctx,
		`SELECT `+invoiceColumns+` FROM invoices
		WHERE subscription_id = $1
		ORDER BY created_at DESC, number DESC`,
		subID,
	)
	if err != nil {
		return nil, fmt.Errorf("list invoices for subscription %s: %w", subscriptionID, err)
	}
	defer rows.Close()

	var out []*models.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invoices: %w", err)
	}
	return out, nil
}

// AttachDocument sets the rendered document reference
func (r *InvoiceRepository) AttachDocument(ctx context.Context, tx ports.DBTX, invoiceID, documentRef string) error {
	invID, err := uuid.Parse(invoiceID)
	if err != nil {
		return fmt.Errorf("attach document to invoice %s: %w", invoiceID, domain.ErrInvoiceNotFound)
	}

	tag, err := conn(r.pool, tx).Exec(ctx,
		`UPDATE invoices SET document_ref = $2 WHERE id = $1`, invID, documentRef)
	if err != nil {
		return fmt.Errorf("attach document to invoice %s: %w", invoiceID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("attach document to invoice %s: %w", invoiceID, domain.ErrInvoiceNotFound)
	}
	return nil
}

func scanInvoice(row pgx.Row) (*models.Invoice, error) {
	var (
		inv                   models.Invoice
		status, provider      string
		amount, tax, total    pgtype.Numeric
		chargeID, documentRef pgtype.Text
		lineItems, metadata   []byte
	)
	err := row.Scan(
		&inv.ID, &inv.Number, &inv.SubscriptionID, &inv.TenantID, &status,
		&amount, &tax, &total, &inv.Currency, &provider, &chargeID,
		&lineItems, &metadata, &documentRef,
		&inv.PeriodStart, &inv.PeriodEnd, &inv.IssuedAt, &inv.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	inv.Status = models.InvoiceStatus(status)
	inv.Provider = models.Provider(provider)
	inv.ProviderChargeID = chargeID.String
	inv.DocumentRef = documentRef.String

	if inv.Amount, err = pgNumericToDecimal(amount); err != nil {
		return nil, fmt.Errorf("convert amount of invoice %s: %w", inv.ID, err)
	}
	if inv.Tax, err = pgNumericToDecimal(tax); err != nil {
		return nil, fmt.Errorf("convert tax of invoice %s: %w", inv.ID, err)
	}
	if inv.Total, err = pgNumericToDecimal(total); err != nil {
		return nil, fmt.Errorf("convert total of invoice %s: %w", inv.ID, err)
	}
	if err := json.Unmarshal(lineItems, &inv.LineItems); err != nil {
		return nil, fmt.Errorf("unmarshal line items of invoice %s: %w", inv.ID, err)
	}
	if err := json.Unmarshal(metadata, &inv.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata of invoice %s: %w", inv.ID, err)
	}
	if len(inv.Metadata) == 0 {
		inv.Metadata = nil
	}
	return &inv, nil
}
