package ports

import (
	"context"

	"github.com/kevin07696/subscription-service/internal/domain/models"
)

// InvoiceRepository stores append-only invoices
type InvoiceRepository interface {
	// Create inserts an invoice. A second invoice for the same provider charge is rejected.
	Create(ctx context.Context, tx DBTX, invoice *models.Invoice) error

	// GetByProviderCharge finds the invoice recorded for a provider charge id
	GetByProviderCharge(ctx context.Context, tx DBTX, provider models.Provider, chargeID string) (*models.Invoice, error)

	// ListBySubscription lists invoices, newest first
	ListBySubscription(ctx context.Context, tx DBTX, subscriptionID string) ([]*models.Invoice, error)

	// AttachDocument sets the rendered document reference; the only permitted mutation
	AttachDocument(ctx context.Context, tx DBTX, invoiceID, documentRef string) error
}
