package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceStatus is the settlement state of an invoice
type InvoiceStatus string

const (
	InvoiceStatusDraft    InvoiceStatus = "draft"
	InvoiceStatusPaid     InvoiceStatus = "paid"
	InvoiceStatusPending  InvoiceStatus = "pending"
	InvoiceStatusFailed   InvoiceStatus = "failed"
	InvoiceStatusRefunded InvoiceStatus = "refunded"
)

// InvoiceLineItem is one billed line
type InvoiceLineItem struct {
	Description string          `json:"description"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Total       decimal.Decimal `json:"total"`
	Quantity    int             `json:"quantity"`
}

// Invoice is an append-only record of a billing event. Only DocumentRef is
// ever set after creation.
type Invoice struct {
	IssuedAt         time.Time         `json:"issued_at"`
	PeriodStart      time.Time         `json:"period_start"`
	PeriodEnd        time.Time         `json:"period_end"`
	CreatedAt        time.Time         `json:"created_at"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	Amount           decimal.Decimal   `json:"amount"`
	Tax              decimal.Decimal   `json:"tax"`
	Total            decimal.Decimal   `json:"total"`
	ID               string            `json:"id"`
	Number           string            `json:"number"`
	SubscriptionID   string            `json:"subscription_id"`
	TenantID         string            `json:"tenant_id"`
	Currency         string            `json:"currency"`
	Provider         Provider          `json:"provider"`
	ProviderChargeID string            `json:"provider_charge_id,omitempty"`
	DocumentRef      string            `json:"document_ref,omitempty"`
	Status           InvoiceStatus     `json:"status"`
	LineItems        []InvoiceLineItem `json:"line_items"`
}
