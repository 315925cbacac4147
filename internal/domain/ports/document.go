package ports

import (
	"context"

	"github.com/kevin07696/subscription-service/internal/domain/models"
)

// InvoiceRenderer produces a document for an invoice and returns where it is stored
type InvoiceRenderer interface {
	Render(ctx context.Context, invoice *models.Invoice) (documentRef string, err error)
}

// DocumentStore persists rendered documents
type DocumentStore interface {
	Put(ctx context.Context, key, contentType string, body []byte) (ref string, err error)
}
