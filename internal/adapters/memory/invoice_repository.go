package memory

import (
	"context"
	"fmt"

	"github.com/kevin07696/subscription-service/internal/domain"
	"github.com/kevin07696/subscription-service/internal/domain/models"
	"github.com/kevin07696/subscription-service/internal/domain/ports"
)

// InvoiceRepository implements ports.InvoiceRepository over a Store
type InvoiceRepository struct {
	store *Store
}

var _ ports.InvoiceRepository = (*InvoiceRepository)(nil)

// NewInvoiceRepository creates an invoice repository
func NewInvoiceRepository(store *Store) *InvoiceRepository {
	return &InvoiceRepository{store: store}
}

// Create appends an invoice; provider charge ids are unique per provider
func (r *InvoiceRepository) Create(ctx context.Context, tx ports.DBTX, inv *models.Invoice) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	for _, existing := range r.store.invoices {
		if existing.ID == inv.ID {
			return fmt.Errorf("create invoice: id %s already exists", inv.ID)
		}
		if inv.ProviderChargeID != "" && existing.Provider == inv.Provider && existing.ProviderChargeID == inv.ProviderChargeID {
			return fmt.Errorf("create invoice for charge %s: %w", inv.ProviderChargeID, domain.ErrInvoiceExists)
		}
	}

	cp := *inv
	r.store.invoices = append(r.store.invoices, &cp)
	return nil
}

// GetByProviderCharge finds the invoice for a provider charge id
func (r *InvoiceRepository) GetByProviderCharge(ctx context.Context, tx ports.DBTX, provider models.Provider, chargeID string) (*models.Invoice, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	for _, inv := range r.store.invoices {
		if inv.Provider == provider && inv.ProviderChargeID == chargeID {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("get invoice for charge %s: %w", chargeID, domain.ErrInvoiceNotFound)
}

// ListBySubscription lists invoices, newest first
func (r *InvoiceRepository) ListBySubscription(ctx context.Context, tx ports.DBTX, subscriptionID string) ([]*models.Invoice, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var out []*models.Invoice
	for i := len(r.store.invoices) - 1; i >= 0; i-- {
		if inv := r.store.invoices[i]; inv.SubscriptionID == subscriptionID {
			cp := *inv
			out = append(out, &cp)
		}
	}
	return out, nil
}

// AttachDocument sets the document reference of an invoice
func (r *InvoiceRepository) AttachDocument(ctx context.Context, tx ports.DBTX, invoiceID, documentRef string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	for _, inv := range r.store.invoices {
		if inv.ID == invoiceID {
			inv.DocumentRef = documentRef
			return nil
		}
	}
	return fmt.Errorf("attach document to invoice %s: %w", invoiceID, domain.ErrInvoiceNotFound)
}
