package invoice

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kevin07696/subscription-service/internal/domain"
	"github.com/kevin07696/subscription-service/internal/domain/models"
	"github.com/kevin07696/subscription-service/internal/domain/ports"
	"github.com/kevin07696/subscription-service/pkg/observability"
	"github.com/kevin07696/subscription-service/pkg/timeutil"
	"github.com/shopspring/decimal"
)

// Source describes the billing event behind an invoice
type Source string

const (
	SourceInitial      Source = "initial"
	SourceRenewal      Source = "renewal"
	SourceUpgrade      Source = "upgrade"
	SourceReactivation Source = "reactivation"
)

// RecordRequest is a confirmed charge to be invoiced
type RecordRequest struct {
	PeriodStart  time.Time
	PeriodEnd    time.Time
	Subscription *models.Subscription
	Plan         *models.Plan
	Metadata     map[string]string
	Amount       decimal.Decimal
	Currency     string // defaults to the subscription's currency
	ChargeID     string
	Source       Source
}

// Recorder creates append-only invoices for confirmed charges
type Recorder struct {
	invoices ports.InvoiceRepository
	renderer ports.InvoiceRenderer
	clock    timeutil.Clock
	logger   ports.Logger
	taxRate  decimal.Decimal
}

// NewRecorder creates an invoice recorder. renderer may be nil.
func NewRecorder(
	invoices ports.InvoiceRepository,
	renderer ports.InvoiceRenderer,
	taxRate decimal.Decimal,
	clock timeutil.Clock,
	logger ports.Logger,
) *Recorder {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	return &Recorder{
		invoices: invoices,
		renderer: renderer,
		clock:    clock,
		logger:   logger,
		taxRate:  taxRate,
	}
}

// Record builds and persists a paid invoice within tx
func (r *Recorder) Record(ctx context.Context, tx ports.DBTX, req RecordRequest) (*models.Invoice, error) {
	if req.Subscription == nil {
		return nil, domain.NewValidationError("invoice requires a subscription")
	}
	if req.Amount.IsNegative() {
		return nil, domain.NewValidationError("invoice amount cannot be negative").
			WithDetail("amount", req.Amount.String())
	}

	inv := r.Build(req)

	if err := r.invoices.Create(ctx, tx, inv); err != nil {
		return nil, fmt.Errorf("create invoice: %w", err)
	}

	observability.RecordInvoice(inv.Currency, string(req.Source), inv.Total)

	r.logger.Info("invoice recorded",
		ports.String("invoice_id", inv.ID),
		ports.String("invoice_number", inv.Number),
		ports.String("subscription_id", inv.SubscriptionID),
		ports.String("charge_id", inv.ProviderChargeID),
		ports.Money("total", inv.Total),
		ports.String("source", string(req.Source)))

	return inv, nil
}

// Build assembles the invoice without persisting it. The charged amount is
// tax-inclusive: Total equals what the provider collected and Amount is the
// net of Tax.
func (r *Recorder) Build(req RecordRequest) *models.Invoice {
	now := r.clock.Now()
	sub := req.Subscription

	currency := req.Currency
	if currency == "" {
		currency = sub.Currency
	}
	currency = strings.ToUpper(currency)

	total, amount, tax := splitTax(req.Amount, r.taxRate)

	metadata := map[string]string{"source": string(req.Source)}
	for k, v := range req.Metadata {
		metadata[k] = v
	}

	return &models.Invoice{
		ID:               uuid.New().String(),
		Number:           Number(now),
		SubscriptionID:   sub.ID,
		TenantID:         sub.TenantID,
		Amount:           amount,
		Tax:              tax,
		Total:            total,
		Currency:         currency,
		Status:           models.InvoiceStatusPaid,
		Provider:         sub.Provider,
		ProviderChargeID: req.ChargeID,
		PeriodStart:      req.PeriodStart,
		PeriodEnd:        req.PeriodEnd,
		IssuedAt:         now,
		CreatedAt:        now,
		Metadata:         metadata,
		LineItems:        []models.InvoiceLineItem{lineItem(req, amount)},
	}
}

// splitTax separates the tax portion out of a tax-inclusive charge. Net is
// rounded first so net plus tax always equals the charge to the cent.
func splitTax(charged, rate decimal.Decimal) (total, net, tax decimal.Decimal) {
	total = charged.Round(2)
	if rate.IsZero() {
		return total, total, decimal.Zero
	}
	net = total.Div(decimal.NewFromInt(1).Add(rate)).Round(2)
	return total, net, total.Sub(net)
}

// AttachDocument renders the invoice and stores the document reference.
// Rendering never fails the billing transaction; errors are logged and dropped.
func (r *Recorder) AttachDocument(ctx context.Context, inv *models.Invoice) {
	if r.renderer == nil || inv == nil {
		return
	}

	ref, err := r.renderer.Render(ctx, inv)
	if err != nil {
		r.logger.Warn("invoice rendering failed",
			ports.String("invoice_id", inv.ID),
			ports.Err(err))
		return
	}

	if err := r.invoices.AttachDocument(ctx, nil, inv.ID, ref); err != nil {
		r.logger.Warn("failed to attach invoice document",
			ports.String("invoice_id", inv.ID),
			ports.String("document_ref", ref),
			ports.Err(err))
		return
	}
	inv.DocumentRef = ref
}

// Number formats an invoice number as INV-YYYYMM-<8 hex>
func Number(at time.Time) string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return fmt.Sprintf("INV-%s-%s", at.UTC().Format("200601"), strings.ToUpper(suffix))
}

func lineItem(req RecordRequest, amount decimal.Decimal) models.InvoiceLineItem {
	planName := req.Subscription.PlanID
	if req.Plan != nil {
		planName = req.Plan.Name
	}

	var desc string
	switch req.Source {
	case SourceUpgrade:
		desc = fmt.Sprintf("Prorated upgrade to %s", planName)
	case SourceReactivation:
		desc = fmt.Sprintf("%s outstanding balance", planName)
	default:
		desc = fmt.Sprintf("%s subscription", planName)
	}
	if !req.PeriodStart.IsZero() && !req.PeriodEnd.IsZero() {
		desc = fmt.Sprintf("%s (%s to %s)", desc,
			req.PeriodStart.UTC().Format("2006-01-02"),
			req.PeriodEnd.UTC().Format("2006-01-02"))
	}

	return models.InvoiceLineItem{
		Description: desc,
		Quantity:    1,
		UnitPrice:   amount,
		Total:       amount,
	}
}
