package storage

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kevin07696/subscription-service/internal/domain/models"
	"github.com/kevin07696/subscription-service/internal/domain/ports"
)

//go:embed templates/invoice.html
var templateFS embed.FS

var invoiceTemplate = template.Must(template.New("invoice.html").Funcs(template.FuncMap{
	"date":   func(t time.Time) string { return t.UTC().Format("2006-01-02") },
	"amount": func(d decimal.Decimal) string { return d.StringFixed(2) },
}).ParseFS(templateFS, "templates/invoice.html"))

// HTMLInvoiceRenderer renders an invoice to HTML and stores it
type HTMLInvoiceRenderer struct {
	store  ports.DocumentStore
	issuer string
}

var _ ports.InvoiceRenderer = (*HTMLInvoiceRenderer)(nil)

// NewHTMLInvoiceRenderer creates a renderer writing to store
func NewHTMLInvoiceRenderer(store ports.DocumentStore, issuer string) *HTMLInvoiceRenderer {
	if issuer == "" {
		issuer = "Invoice"
	}
	return &HTMLInvoiceRenderer{store: store, issuer: issuer}
}

// Render returns the stored document reference
func (r *HTMLInvoiceRenderer) Render(ctx context.Context, invoice *models.Invoice) (string, error) {
	body, err := r.renderHTML(invoice)
	if err != nil {
		return "", err
	}
	return r.store.Put(ctx, DocumentKey(invoice), "text/html; charset=utf-8", body)
}

func (r *HTMLInvoiceRenderer) renderHTML(invoice *models.Invoice) ([]byte, error) {
	var buf bytes.Buffer
	err := invoiceTemplate.Execute(&buf, struct {
		*models.Invoice
		Issuer string
	}{invoice, r.issuer})
	if err != nil {
		return nil, fmt.Errorf("render invoice %s: %w", invoice.Number, err)
	}
	return buf.Bytes(), nil
}

// DocumentKey is invoices/<tenant>/<number>.html
func DocumentKey(invoice *models.Invoice) string {
	return fmt.Sprintf("invoices/%s/%s.html", invoice.TenantID, invoice.Number)
}
