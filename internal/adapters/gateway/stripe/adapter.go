// Package stripe implements the payment gateway port over the Stripe API.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"strings"
	"time"

	stripego "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/subscription"
	"go.uber.org/zap"

	"github.com/kevin07696/subscription-service/internal/adapters/gateway"
	"github.com/kevin07696/subscription-service/internal/domain"
	"github.com/kevin07696/subscription-service/internal/domain/models"
	"github.com/kevin07696/subscription-service/internal/domain/ports"
)

// Config holds the Stripe credentials
type Config struct {
	APIKey        string
	WebhookSecret string
	// BackendURL overrides https://api.stripe.com (tests, stripe-mock)
	BackendURL string
	HTTPClient *http.Client
}

// Validate checks that the adapter can authenticate both directions
func (c Config) Validate() error {
	if c.APIKey == "" {
		return errors.New("stripe api key is required")
	}
	if c.WebhookSecret == "" {
		return errors.New("stripe webhook secret is required")
	}
	return nil
}

// Adapter implements ports.PaymentGateway for Stripe
type Adapter struct {
	customers     customer.Client
	subscriptions subscription.Client
	intents       paymentintent.Client
	webhookSecret string
	logger        *zap.Logger
}

var _ ports.PaymentGateway = (*Adapter)(nil)

// NewAdapter creates a Stripe adapter with its own backend, leaving the
// package-level stripe.Key untouched
func NewAdapter(cfg Config, logger *zap.Logger) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	backendCfg := &stripego.BackendConfig{
		MaxNetworkRetries: stripego.Int64(0),
		LeveledLogger:     logger.Sugar(),
	}
	if cfg.BackendURL != "" {
		backendCfg.URL = stripego.String(strings.TrimRight(cfg.BackendURL, "/"))
	}
	if cfg.HTTPClient != nil {
		backendCfg.HTTPClient = cfg.HTTPClient
	}
	backend := stripego.GetBackendWithConfig(stripego.APIBackend, backendCfg)

	return &Adapter{
		customers:     customer.Client{B: backend, Key: cfg.APIKey},
		subscriptions: subscription.Client{B: backend, Key: cfg.APIKey},
		intents:       paymentintent.Client{B: backend, Key: cfg.APIKey},
		webhookSecret: cfg.WebhookSecret,
		logger:        logger,
	}, nil
}

// Provider implements ports.PaymentGateway
func (a *Adapter) Provider() models.Provider {
	return models.ProviderStripe
}

// CreateSubscription creates the customer and a subscription on the plan's price.
// Without a stored payment method the subscription starts incomplete and the
// hosted invoice page is returned for the customer to pay.
func (a *Adapter) CreateSubscription(ctx context.Context, req ports.CreateRecurringRequest) (*ports.CreateRecurringResult, error) {
	if req.PriceRef == "" {
		return nil, domain.NewValidationError(fmt.Sprintf("no stripe price configured for plan %s", req.PlanID)).
			WithDetail("plan_id", req.PlanID)
	}

	metadata := map[string]string{
		models.MetaTenantID:       req.TenantID,
		models.MetaSubscriptionID: req.SubscriptionID,
	}

	custParams := &stripego.CustomerParams{
		Email: stripego.String(req.Email),
	}
	custParams.Context = ctx
	custParams.Metadata = metadata
	if req.PaymentMethod != "" {
		custParams.PaymentMethod = stripego.String(req.PaymentMethod)
		custParams.InvoiceSettings = &stripego.CustomerInvoiceSettingsParams{
			DefaultPaymentMethod: stripego.String(req.PaymentMethod),
		}
	}
	cust, err := a.customers.New(custParams)
	if err != nil {
		return nil, fmt.Errorf("stripe: create customer: %w", classify(err))
	}

	subParams := &stripego.SubscriptionParams{
		Customer: stripego.String(cust.ID),
		Items: []*stripego.SubscriptionItemsParams{
			{Price: stripego.String(req.PriceRef)},
		},
	}
	subParams.Context = ctx
	subParams.Metadata = maps.Clone(metadata)
	subParams.AddMetadata(models.MetaPlanID, req.PlanID)
	subParams.AddExpand("latest_invoice")
	if req.PaymentMethod != "" {
		subParams.DefaultPaymentMethod = stripego.String(req.PaymentMethod)
		subParams.PaymentBehavior = stripego.String("error_if_incomplete")
	} else {
		subParams.PaymentBehavior = stripego.String("default_incomplete")
	}

	sub, err := a.subscriptions.New(subParams)
	if err != nil {
		return nil, fmt.Errorf("stripe: create subscription: %w", classify(err))
	}

	result := &ports.CreateRecurringResult{
		GatewaySubscriptionID: sub.ID,
		GatewayCustomerID:     cust.ID,
		RemoteStatus:          string(sub.Status),
	}
	if sub.Status == stripego.SubscriptionStatusIncomplete && sub.LatestInvoice != nil {
		result.CheckoutURL = sub.LatestInvoice.HostedInvoiceURL
	}

	a.logger.Info("Stripe subscription created",
		zap.String("subscription_id", req.SubscriptionID),
		zap.String("stripe_subscription_id", sub.ID),
		zap.String("status", string(sub.Status)),
	)
	return result, nil
}

// CancelSubscription cancels immediately; an already deleted subscription is not an error
func (a *Adapter) CancelSubscription(ctx context.Context, gatewaySubscriptionID string) error {
	params := &stripego.SubscriptionCancelParams{}
	params.Context = ctx

	if _, err := a.subscriptions.Cancel(gatewaySubscriptionID, params); err != nil {
		var serr *stripego.Error
		if errors.As(err, &serr) && serr.Code == stripego.ErrorCodeResourceMissing {
			a.logger.Info("Stripe subscription already gone",
				zap.String("stripe_subscription_id", gatewaySubscriptionID))
			return nil
		}
		return fmt.Errorf("stripe: cancel subscription %s: %w", gatewaySubscriptionID, classify(err))
	}
	return nil
}

// GetStatus reads the subscription status and the end of its current period
func (a *Adapter) GetStatus(ctx context.Context, gatewaySubscriptionID string) (*ports.RemoteStatus, error) {
	params := &stripego.SubscriptionParams{}
	params.Context = ctx

	sub, err := a.subscriptions.Get(gatewaySubscriptionID, params)
	if err != nil {
		return nil, fmt.Errorf("stripe: get subscription %s: %w", gatewaySubscriptionID, classify(err))
	}

	status := &ports.RemoteStatus{Status: string(sub.Status)}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].CurrentPeriodEnd > 0 {
		end := time.Unix(sub.Items.Data[0].CurrentPeriodEnd, 0).UTC()
		status.CurrentPeriodEnd = &end
	}
	return status, nil
}

// ChargeOneTime creates and confirms a PaymentIntent against the stored payment method
func (a *Adapter) ChargeOneTime(ctx context.Context, req ports.OneTimeChargeRequest) (*ports.ChargeResult, error) {
	params := &stripego.PaymentIntentParams{
		Amount:      stripego.Int64(gateway.ToMinorUnits(req.Amount, req.Currency)),
		Currency:    stripego.String(strings.ToLower(req.Currency)),
		Description: stripego.String(req.Description),
	}
	params.Context = ctx
	params.Metadata = req.Metadata
	if req.Email != "" {
		params.ReceiptEmail = stripego.String(req.Email)
	}
	if req.CustomerRef != "" {
		params.Customer = stripego.String(req.CustomerRef)
	}
	if req.PaymentMethod != "" {
		params.PaymentMethod = stripego.String(req.PaymentMethod)
		params.Confirm = stripego.Bool(true)
		params.OffSession = stripego.Bool(true)
	} else {
		params.AutomaticPaymentMethods = &stripego.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripego.Bool(true),
		}
	}

	pi, err := a.intents.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe: create payment intent: %w", classify(err))
	}

	return &ports.ChargeResult{
		TransactionID: pi.ID,
		Status:        string(pi.Status),
		Confirmed:     pi.Status == stripego.PaymentIntentStatusSucceeded,
	}, nil
}

// classify turns card errors into declines; everything else stays a provider failure
func classify(err error) error {
	var serr *stripego.Error
	if !errors.As(err, &serr) {
		return err
	}
	if serr.Type == stripego.ErrorTypeCard || serr.HTTPStatusCode == http.StatusPaymentRequired {
		return domain.WrapError(domain.ErrorCodeGatewayDeclined, domain.ErrGatewayDeclined.Message, err).
			WithDetail("decline_code", string(serr.DeclineCode)).
			WithDetail("stripe_code", string(serr.Code))
	}
	return err
}
