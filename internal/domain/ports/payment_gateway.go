package ports

import (
	"context"
	"net/http"
	"time"

	"github.com/kevin07696/subscription-service/internal/domain/models"
	"github.com/shopspring/decimal"
)

// CreateRecurringRequest asks a provider to start a recurring charge
type CreateRecurringRequest struct {
	TenantID       string
	SubscriptionID string
	PlanID         string
	PriceRef       string // provider-side price/plan id
	Amount         decimal.Decimal
	Currency       string
	Cycle          models.BillingCycle
	Email          string
	PaymentMethod  string // optional stored payment method token
}

// CreateRecurringResult is the provider's answer to CreateRecurringRequest
type CreateRecurringResult struct {
	GatewaySubscriptionID string
	GatewayCustomerID     string
	CheckoutURL           string // set when the customer must approve or pay out of band
	RemoteStatus          string
}

// RemoteStatus is the provider's view of a recurring charge
type RemoteStatus struct {
	CurrentPeriodEnd *time.Time
	Status           string
}

// OneTimeChargeRequest asks for a single charge outside the recurring schedule
type OneTimeChargeRequest struct {
	Amount        decimal.Decimal
	Currency      string
	CustomerRef   string // provider customer id, if any
	Email         string
	PaymentMethod string
	Description   string
	Metadata      map[string]string
}

// ChargeResult is the provider's answer to a one-time charge
type ChargeResult struct {
	TransactionID string
	Status        string
	CheckoutURL   string
	Confirmed     bool
}

// PaymentGateway is the uniform capability implemented once per provider.
// Declined or failed calls return an error; there are no inline retries.
type PaymentGateway interface {
	Provider() models.Provider

	CreateSubscription(ctx context.Context, req CreateRecurringRequest) (*CreateRecurringResult, error)

	CancelSubscription(ctx context.Context, gatewaySubscriptionID string) error

	// VerifyWebhook authenticates the raw payload with the provider-specific
	// signature headers before parsing it. An unauthentic payload returns
	// domain.ErrSignatureInvalid and no event.
	VerifyWebhook(ctx context.Context, payload []byte, headers http.Header) (*models.GatewayEvent, error)

	GetStatus(ctx context.Context, gatewaySubscriptionID string) (*RemoteStatus, error)

	ChargeOneTime(ctx context.Context, req OneTimeChargeRequest) (*ChargeResult, error)
}

// GatewayResolver returns the adapter bound to a provider
type GatewayResolver interface {
	Gateway(provider models.Provider) (PaymentGateway, error)
}
