// Package razorpay implements the payment gateway port over the Razorpay REST API.
package razorpay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kevin07696/subscription-service/internal/adapters/gateway"
	"github.com/kevin07696/subscription-service/internal/domain"
	"github.com/kevin07696/subscription-service/internal/domain/models"
	"github.com/kevin07696/subscription-service/internal/domain/ports"
)

// DefaultBaseURL is Razorpay's production API
const DefaultBaseURL = "https://api.razorpay.com"

// Config holds the Razorpay key pair and webhook secret
type Config struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
	BaseURL       string
}

// Validate checks that the adapter can authenticate both directions
func (c Config) Validate() error {
	if c.KeyID == "" || c.KeySecret == "" {
		return errors.New("razorpay key id and secret are required")
	}
	if c.WebhookSecret == "" {
		return errors.New("razorpay webhook secret is required")
	}
	return nil
}

// Adapter implements ports.PaymentGateway for Razorpay
type Adapter struct {
	config     Config
	httpClient ports.HTTPClient
	logger     *zap.Logger
}

var _ ports.PaymentGateway = (*Adapter)(nil)

// NewAdapter creates a Razorpay adapter
func NewAdapter(cfg Config, httpClient ports.HTTPClient, logger *zap.Logger) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Adapter{
		config:     cfg,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Provider implements ports.PaymentGateway
func (a *Adapter) Provider() models.Provider {
	return models.ProviderRazorpay
}

type subscriptionEntity struct {
	Notes        map[string]string `json:"notes"`
	ID           string            `json:"id"`
	PlanID       string            `json:"plan_id"`
	CustomerID   string            `json:"customer_id"`
	Status       string            `json:"status"`
	ShortURL     string            `json:"short_url"`
	CurrentStart int64             `json:"current_start"`
	CurrentEnd   int64             `json:"current_end"`
}

// Razorpay subscriptions need a bounded number of billing cycles
func totalCount(cycle models.BillingCycle) int {
	switch cycle {
	case models.BillingCycleAnnual:
		return 10
	case models.BillingCycleQuarterly:
		return 40
	default:
		return 120
	}
}

// CreateSubscription creates a subscription on the plan's Razorpay plan id.
// The customer authorizes the mandate on the returned short URL.
func (a *Adapter) CreateSubscription(ctx context.Context, req ports.CreateRecurringRequest) (*ports.CreateRecurringResult, error) {
	if req.PriceRef == "" {
		return nil, domain.NewValidationError(fmt.Sprintf("no razorpay plan configured for plan %s", req.PlanID)).
			WithDetail("plan_id", req.PlanID)
	}

	body := map[string]interface{}{
		"plan_id":         req.PriceRef,
		"total_count":     totalCount(req.Cycle),
		"customer_notify": 1,
		"notes": map[string]string{
			models.MetaTenantID:       req.TenantID,
			models.MetaSubscriptionID: req.SubscriptionID,
			models.MetaPlanID:         req.PlanID,
		},
	}
	if req.Email != "" {
		body["notify_info"] = map[string]string{"notify_email": req.Email}
	}

	var sub subscriptionEntity
	if err := a.call(ctx, http.MethodPost, "/v1/subscriptions", body, &sub); err != nil {
		return nil, fmt.Errorf("razorpay: create subscription: %w", err)
	}

	a.logger.Info("Razorpay subscription created",
		zap.String("subscription_id", req.SubscriptionID),
		zap.String("razorpay_subscription_id", sub.ID),
		zap.String("status", sub.Status),
	)

	return &ports.CreateRecurringResult{
		GatewaySubscriptionID: sub.ID,
		GatewayCustomerID:     sub.CustomerID,
		CheckoutURL:           sub.ShortURL,
		RemoteStatus:          sub.Status,
	}, nil
}

// CancelSubscription cancels immediately rather than at cycle end
func (a *Adapter) CancelSubscription(ctx context.Context, gatewaySubscriptionID string) error {
	body := map[string]interface{}{"cancel_at_cycle_end": 0}
	path := "/v1/subscriptions/" + gatewaySubscriptionID + "/cancel"
	if err := a.call(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("razorpay: cancel subscription %s: %w", gatewaySubscriptionID, err)
	}
	return nil
}

// GetStatus reads the subscription status and the end of its current cycle
func (a *Adapter) GetStatus(ctx context.Context, gatewaySubscriptionID string) (*ports.RemoteStatus, error) {
	var sub subscriptionEntity
	if err := a.call(ctx, http.MethodGet, "/v1/subscriptions/"+gatewaySubscriptionID, nil, &sub); err != nil {
		return nil, fmt.Errorf("razorpay: get subscription %s: %w", gatewaySubscriptionID, err)
	}
	return &ports.RemoteStatus{
		Status:           sub.Status,
		CurrentPeriodEnd: unixPtr(sub.CurrentEnd),
	}, nil
}

type paymentLinkEntity struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	ShortURL string `json:"short_url"`
}

// ChargeOneTime issues a payment link. Razorpay has no server-side charge of
// a stored card outside a mandate, so the charge is never confirmed inline;
// payment_link.paid settles it.
func (a *Adapter) ChargeOneTime(ctx context.Context, req ports.OneTimeChargeRequest) (*ports.ChargeResult, error) {
	body := map[string]interface{}{
		"amount":      gateway.ToMinorUnits(req.Amount, req.Currency),
		"currency":    strings.ToUpper(req.Currency),
		"description": req.Description,
		"notes":       req.Metadata,
	}
	if req.Email != "" {
		body["customer"] = map[string]string{"email": req.Email}
		body["notify"] = map[string]bool{"email": true}
	}

	var link paymentLinkEntity
	if err := a.call(ctx, http.MethodPost, "/v1/payment_links", body, &link); err != nil {
		return nil, fmt.Errorf("razorpay: create payment link: %w", err)
	}

	return &ports.ChargeResult{
		TransactionID: link.ID,
		Status:        link.Status,
		CheckoutURL:   link.ShortURL,
	}, nil
}

type apiError struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
		Source      string `json:"source"`
		Reason      string `json:"reason"`
	} `json:"error"`
}

func (a *Adapter) call(ctx context.Context, method, path string, in, out interface{}) error {
	var reader io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.config.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(a.config.KeyID, a.config.KeySecret)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		return classify(resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// classify maps a Razorpay error body. Payment failures reported by the
// customer's bank are declines; everything else is a provider failure.
func classify(status int, raw []byte) error {
	var body apiError
	_ = json.Unmarshal(raw, &body)
	e := body.Error

	if e.Reason != "" && (e.Source == "customer" || e.Source == "bank" || e.Source == "issuer_bank") {
		return domain.NewDomainError(domain.ErrorCodeGatewayDeclined, domain.ErrGatewayDeclined.Message).
			WithDetail("reason", e.Reason).
			WithDetail("razorpay_code", e.Code)
	}
	if status == http.StatusBadRequest && e.Code == "BAD_REQUEST_ERROR" {
		return domain.NewValidationError(fmt.Sprintf("razorpay rejected the request: %s", e.Description)).
			WithDetail("razorpay_code", e.Code)
	}
	return fmt.Errorf("razorpay api status %d: %s", status, e.Description)
}

func unixPtr(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
